package relay

// Sender identifies the user who wrote an inbound message.
type Sender struct {
	ID     string
	Name   string
	Handle string
}

// Event is an inbound message on a managed bot: either PlainMessage or
// ReplyMessage.
type Event interface {
	BotCredential() string
	event()
}

// PlainMessage is a message that does not reply to anything. It is fanned
// out to the bot's owner and admins.
type PlainMessage struct {
	Credential string
	ChatID     string
	MessageID  string
	Sender     Sender
	Text       string
}

// ReplyMessage replies to an earlier message in the same chat. If that
// message is a tracked forward, Text is relayed to the original sender.
type ReplyMessage struct {
	Credential         string
	ChatID             string
	MessageID          string
	Sender             Sender
	RepliedToMessageID string
	Text               string
}

func (e PlainMessage) BotCredential() string { return e.Credential }
func (e ReplyMessage) BotCredential() string { return e.Credential }
func (PlainMessage) event()                  {}
func (ReplyMessage) event()                  {}

// Classify converts a transport update into an Event. Commands and updates
// without text are not relayed and yield ok=false.
func Classify(u Update) (Event, bool) {
	if u.Text == "" || u.IsCommand {
		return nil, false
	}
	sender := Sender{ID: u.SenderID, Name: u.SenderName, Handle: u.SenderHandle}
	if u.IsReply && u.RepliedToMessageID != "" {
		return ReplyMessage{
			Credential:         u.Credential,
			ChatID:             u.ChatID,
			MessageID:          u.MessageID,
			Sender:             sender,
			RepliedToMessageID: u.RepliedToMessageID,
			Text:               u.Text,
		}, true
	}
	return PlainMessage{
		Credential: u.Credential,
		ChatID:     u.ChatID,
		MessageID:  u.MessageID,
		Sender:     sender,
		Text:       u.Text,
	}, true
}
