package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/zulandar/relayhub/internal/models"
	"github.com/zulandar/relayhub/internal/opslog"
	"github.com/zulandar/relayhub/internal/store"
)

// Reporter receives operational events. *opslog.Reporter implements it.
type Reporter interface {
	Report(ctx context.Context, ev opslog.Event)
}

// Delivery is the outcome of forwarding one message to one recipient.
type Delivery struct {
	Recipient string
	// MessageIDs are the forwarded pieces in order; empty when nothing was
	// delivered. Each has its own mapping.
	MessageIDs []string
	Err        error
}

// MessageID returns the id of the first forwarded piece, or "".
func (d Delivery) MessageID() string {
	if len(d.MessageIDs) == 0 {
		return ""
	}
	return d.MessageIDs[0]
}

// FanOut summarises the handling of a PlainMessage.
type FanOut struct {
	NotConnected bool
	Deliveries   []Delivery // in recipient order
	Acked        bool
}

// Delivered returns how many recipients received the message.
func (f FanOut) Delivered() int {
	n := 0
	for _, d := range f.Deliveries {
		if len(d.MessageIDs) > 0 {
			n++
		}
	}
	return n
}

// ReplyOutcome summarises the handling of a ReplyMessage.
type ReplyOutcome struct {
	// Skipped is ErrUnknownMapping when the reply did not target a tracked
	// forward. Nothing was sent.
	Skipped    error
	Recipient  string
	MessageIDs []string
	Err        error
}

// RouterOpts configures a Router.
type RouterOpts struct {
	Store             store.Store
	Reporter          Reporter
	Log               *logrus.Logger
	FanoutConcurrency int
	Now               func() time.Time
}

// Router turns classified events into deliveries. It keeps no state of its
// own; every lookup goes to the Store.
type Router struct {
	store       store.Store
	reporter    Reporter
	log         *logrus.Logger
	concurrency int
	now         func() time.Time
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("relay: store is required")
	}
	r := &Router{
		store:       opts.Store,
		reporter:    opts.Reporter,
		log:         opts.Log,
		concurrency: opts.FanoutConcurrency,
		now:         opts.Now,
	}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	if r.reporter == nil {
		r.reporter = opslog.NewReporter(r.log, opslog.LogSink{Log: r.log})
	}
	if r.concurrency <= 0 {
		r.concurrency = 8
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Route dispatches ev to the matching handler using the bot's session.
func (r *Router) Route(ctx context.Context, m Messenger, ev Event) error {
	switch e := ev.(type) {
	case PlainMessage:
		_, err := r.HandlePlain(ctx, m, e)
		return err
	case ReplyMessage:
		_, err := r.HandleReply(ctx, m, e)
		return err
	default:
		return fmt.Errorf("relay: unknown event type %T", ev)
	}
}

// HandlePlain records the sender, forwards the message to the bot's owner and
// every admin, stores a mapping per successful delivery and acknowledges the
// sender. Individual delivery failures are reported and do not abort the
// fan-out. An error is returned only when the bot lookup itself fails.
func (r *Router) HandlePlain(ctx context.Context, m Messenger, ev PlainMessage) (FanOut, error) {
	var out FanOut

	sub := models.Subscriber{
		Credential:   ev.Credential,
		UserID:       ev.Sender.ID,
		DisplayName:  ev.Sender.Name,
		Handle:       ev.Sender.Handle,
		LastActiveAt: r.now(),
	}
	if err := r.store.UpsertSubscriber(ctx, sub); err != nil {
		r.log.WithError(err).WithField("user", ev.Sender.ID).Warn("relay: upsert subscriber failed")
	}

	bot, err := r.store.GetBot(ctx, ev.Credential)
	if errors.Is(err, store.ErrNotFound) {
		out.NotConnected = true
		if _, err := m.Send(ctx, Outbound{ChatID: ev.ChatID, Text: notConnectedText}); err != nil {
			r.log.WithError(err).Warn("relay: not-connected notice failed")
		}
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("relay: load bot: %w", err)
	}

	admins, err := r.store.ListAdmins(ctx, ev.Credential)
	if err != nil {
		// The owner can still be reached.
		r.log.WithError(err).WithField("bot", BotLabel(*bot)).Warn("relay: list admins failed")
	}
	recipients := recipientsFor(bot.OwnerID, admins)

	out.Deliveries = make([]Delivery, len(recipients))
	text := forwardText(ev.Sender, ev.Text)
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, rcpt := range recipients {
		g.Go(func() error {
			out.Deliveries[i] = r.deliver(ctx, m, *bot, ev, rcpt, text)
			return nil
		})
	}
	_ = g.Wait()

	_, err = m.Send(ctx, Outbound{ChatID: ev.ChatID, Text: ackText, ReplyToMessageID: ev.MessageID})
	if err != nil {
		r.log.WithError(err).WithField("user", ev.Sender.ID).Warn("relay: acknowledgement failed")
	} else {
		out.Acked = true
	}

	r.log.WithFields(logrus.Fields{
		"bot":        BotLabel(*bot),
		"recipients": len(recipients),
		"delivered":  out.Delivered(),
	}).Debug("relay: message fanned out")
	return out, nil
}

// deliver forwards to one recipient and records a mapping for every piece
// that arrived, so a reply to any of them reaches the sender.
func (r *Router) deliver(ctx context.Context, m Messenger, bot models.ManagedBot, ev PlainMessage, recipient, text string) Delivery {
	d := Delivery{Recipient: recipient}

	ids, sendErr := m.Send(ctx, Outbound{ChatID: recipient, Text: text})
	d.MessageIDs = ids
	if sendErr != nil {
		d.Err = fmt.Errorf("%w: %s: %w", ErrDeliveryFailure, recipient, sendErr)
		r.reportFailure(ctx, bot, recipient, "forward to recipient failed", sendErr)
	}

	now := r.now()
	for _, id := range ids {
		mapping := &models.DeliveryMapping{
			Credential:         bot.Credential,
			ForwardedChatID:    recipient,
			ForwardedMessageID: id,
			OriginalSenderID:   ev.Sender.ID,
			OriginalChatID:     ev.ChatID,
			CreatedAt:          now,
		}
		if err := r.store.PutMapping(ctx, mapping); err != nil {
			// Delivered, but replies to this piece cannot be routed back.
			if d.Err == nil {
				d.Err = fmt.Errorf("relay: record mapping: %w", err)
			}
			r.reportFailure(ctx, bot, recipient, "forward delivered but mapping not recorded", err)
		}
	}
	return d
}

// HandleReply relays an owner/admin reply to the original sender when it
// targets a tracked forwarded message in the same bot and chat. Anything else
// is a silent no-op. The replier's current owner/admin status is not checked:
// replying to a tracked forward is itself the authorization.
func (r *Router) HandleReply(ctx context.Context, m Messenger, ev ReplyMessage) (ReplyOutcome, error) {
	var out ReplyOutcome
	if ev.RepliedToMessageID == "" {
		out.Skipped = ErrUnknownMapping
		return out, nil
	}

	mapping, err := r.store.GetMapping(ctx, ev.Credential, ev.ChatID, ev.RepliedToMessageID)
	if errors.Is(err, store.ErrNotFound) {
		out.Skipped = ErrUnknownMapping
		r.log.WithFields(logrus.Fields{
			"chat":    ev.ChatID,
			"message": ev.RepliedToMessageID,
		}).Debug("relay: reply to untracked message ignored")
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("relay: load mapping: %w", err)
	}

	out.Recipient = mapping.OriginalChatID
	ids, err := m.Send(ctx, Outbound{ChatID: mapping.OriginalChatID, Text: replyText(ev.Text)})
	out.MessageIDs = ids
	if err != nil {
		out.Err = fmt.Errorf("%w: %s: %w", ErrDeliveryFailure, mapping.OriginalChatID, err)
		label := MaskCredential(ev.Credential)
		if bot, gerr := r.store.GetBot(ctx, ev.Credential); gerr == nil {
			label = BotLabel(*bot)
		}
		r.reporter.Report(ctx, opslog.Event{
			Kind:      opslog.KindDeliveryFailure,
			Bot:       label,
			Recipient: mapping.OriginalChatID,
			Message:   "reply to original sender failed",
			Error:     err.Error(),
		})
		return out, nil
	}
	return out, nil
}

func (r *Router) reportFailure(ctx context.Context, bot models.ManagedBot, recipient, msg string, err error) {
	r.reporter.Report(ctx, opslog.Event{
		Kind:      opslog.KindDeliveryFailure,
		Bot:       BotLabel(bot),
		Recipient: recipient,
		Message:   msg,
		Error:     err.Error(),
	})
}

// recipientsFor returns the owner followed by admins in grant order, without
// repeats.
func recipientsFor(ownerID string, admins []string) []string {
	seen := make(map[string]bool, len(admins)+1)
	out := make([]string, 0, len(admins)+1)
	for _, id := range append([]string{ownerID}, admins...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
