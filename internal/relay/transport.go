// Package relay is the hub's routing core. It fans inbound messages on
// managed bots out to owners and admins, routes their replies back to the
// original sender, and runs one transport session per managed bot.
package relay

import (
	"context"
	"fmt"

	"github.com/zulandar/relayhub/internal/models"
)

// Identity is the public identity of a bot credential, as reported by its platform.
type Identity struct {
	ID     string
	Handle string // username without "@"
	Name   string
}

// Outbound is a plain-text message to send through a session.
type Outbound struct {
	ChatID           string
	Text             string
	ReplyToMessageID string // optional; quote this message in ChatID
}

// Update is a raw inbound message as delivered by a transport. The
// Multiplexer tags it with the bot credential and converts it into an Event
// exactly once via Classify.
type Update struct {
	Credential         string
	ChatID             string // where to answer this conversation
	MessageID          string
	SenderID           string
	SenderName         string
	SenderHandle       string
	Text               string
	IsCommand          bool
	IsReply            bool
	RepliedToMessageID string
}

// Messenger sends messages on behalf of one bot.
type Messenger interface {
	// Send delivers msg and returns the platform ids of every message it
	// created, in order. Long text may be split into several messages, each
	// of which can be replied to. On error the ids of pieces already
	// delivered are still returned.
	Send(ctx context.Context, msg Outbound) ([]string, error)
}

// Session is one live connection for a single bot credential.
type Session interface {
	Messenger

	// Identity returns the bot identity established when the session opened.
	Identity() Identity

	// Updates returns the ordered stream of inbound messages. The channel is
	// closed when the session is closed or the platform stream ends.
	Updates() <-chan Update

	// Close stops receiving and releases the connection.
	Close() error
}

// Connector opens sessions for one platform.
type Connector interface {
	// Platform returns the platform name, e.g. "telegram".
	Platform() string

	// Probe confirms credential is live and returns its identity. It must
	// honour ctx cancellation.
	Probe(ctx context.Context, credential string) (Identity, error)

	// Open starts a session for bot.
	Open(ctx context.Context, bot models.ManagedBot) (Session, error)
}

// Connectors maps platform names to their connectors.
type Connectors map[string]Connector

// NewConnectors indexes connectors by their platform name.
func NewConnectors(cs ...Connector) Connectors {
	out := make(Connectors, len(cs))
	for _, c := range cs {
		out[c.Platform()] = c
	}
	return out
}

// Get returns the connector for platform. An empty platform means Telegram.
func (c Connectors) Get(platform string) (Connector, error) {
	if platform == "" {
		platform = models.PlatformTelegram
	}
	conn, ok := c[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, platform)
	}
	return conn, nil
}

// sessionPoster adapts a Messenger to the opslog.Poster interface.
type sessionPoster struct {
	m Messenger
}

func (p sessionPoster) Post(ctx context.Context, chatID, text string) error {
	_, err := p.m.Send(ctx, Outbound{ChatID: chatID, Text: text})
	return err
}
