// Package telegram connects managed bots and the hub bot to the Telegram Bot
// API using long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/zulandar/relayhub/internal/models"
	"github.com/zulandar/relayhub/internal/relay"
)

const (
	// maxMessageLen is Telegram's limit for one text message.
	maxMessageLen = 4096
	// pollTimeoutSec is the long-poll timeout passed to getUpdates.
	pollTimeoutSec = 30
	// maxRetries is the max number of retries for rate-limited sends.
	maxRetries  = 3
	baseBackoff = time.Second
	maxBackoff  = 30 * time.Second
)

// botAPI is the subset of *tgbotapi.BotAPI we use, enabling test mocks.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// dialFunc authenticates token and returns the API handle with the bot's
// own user.
type dialFunc func(ctx context.Context, token string) (botAPI, tgbotapi.User, error)

// Connector implements relay.Connector for Telegram.
type Connector struct {
	dial        dialFunc
	log         *logrus.Logger
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// ConnectorOpts holds parameters for creating a Connector.
type ConnectorOpts struct {
	Log *logrus.Logger
	// For testing: replace the real Bot API.
	dial dialFunc
}

// NewConnector creates a Telegram Connector.
func NewConnector(opts ConnectorOpts) *Connector {
	c := &Connector{
		dial:        opts.dial,
		log:         opts.Log,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
	if c.dial == nil {
		c.dial = dialBotAPI
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	return c
}

// dialBotAPI calls getMe with an HTTP client bounded by ctx's deadline.
// NewBotAPIWithClient takes no context, so cancellation is honoured by
// abandoning the call.
func dialBotAPI(ctx context.Context, token string) (botAPI, tgbotapi.User, error) {
	client := &http.Client{Timeout: (pollTimeoutSec + 15) * time.Second}
	type result struct {
		api *tgbotapi.BotAPI
		err error
	}
	ch := make(chan result, 1)
	go func() {
		api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
		ch <- result{api, err}
	}()
	select {
	case <-ctx.Done():
		return nil, tgbotapi.User{}, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return nil, tgbotapi.User{}, r.err
		}
		return r.api, r.api.Self, nil
	}
}

func (c *Connector) Platform() string { return models.PlatformTelegram }

// Probe validates token with getMe.
func (c *Connector) Probe(ctx context.Context, token string) (relay.Identity, error) {
	_, self, err := c.dial(ctx, token)
	if err != nil {
		return relay.Identity{}, fmt.Errorf("telegram: get me: %w", err)
	}
	return identityOf(self), nil
}

// Open authenticates bot.Credential and starts long polling.
func (c *Connector) Open(ctx context.Context, bot models.ManagedBot) (relay.Session, error) {
	api, self, err := c.dial(ctx, bot.Credential)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSec

	s := &Session{
		api:         api,
		identity:    identityOf(self),
		updates:     make(chan relay.Update, 100),
		done:        make(chan struct{}),
		log:         c.log,
		baseBackoff: c.baseBackoff,
		maxBackoff:  c.maxBackoff,
	}
	go s.pump(api.GetUpdatesChan(u))
	c.log.WithField("bot", "@"+self.UserName).Debug("telegram: polling started")
	return s, nil
}

func identityOf(u tgbotapi.User) relay.Identity {
	return relay.Identity{
		ID:     strconv.FormatInt(u.ID, 10),
		Handle: u.UserName,
		Name:   strings.TrimSpace(u.FirstName + " " + u.LastName),
	}
}

// Session is one polling bot.
type Session struct {
	api         botAPI
	identity    relay.Identity
	updates     chan relay.Update
	done        chan struct{}
	stop        sync.Once
	log         *logrus.Logger
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func (s *Session) Identity() relay.Identity { return s.identity }

func (s *Session) Updates() <-chan relay.Update { return s.updates }

// pump converts Bot API updates until the source closes.
func (s *Session) pump(src tgbotapi.UpdatesChannel) {
	defer close(s.updates)
	for upd := range src {
		if upd.Message == nil {
			continue
		}
		u, ok := convertMessage(upd.Message)
		if !ok {
			continue
		}
		select {
		case s.updates <- u:
		case <-s.done:
			// Drain so the poller can observe the stop.
		}
	}
}

// convertMessage maps a Telegram message to a relay update. Messages without
// a sender (channel posts) are dropped.
func convertMessage(msg *tgbotapi.Message) (relay.Update, bool) {
	if msg.From == nil || msg.Chat == nil {
		return relay.Update{}, false
	}
	u := relay.Update{
		ChatID:       strconv.FormatInt(msg.Chat.ID, 10),
		MessageID:    strconv.Itoa(msg.MessageID),
		SenderID:     strconv.FormatInt(msg.From.ID, 10),
		SenderName:   strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
		SenderHandle: msg.From.UserName,
		Text:         msg.Text,
		IsCommand:    msg.IsCommand(),
	}
	if msg.ReplyToMessage != nil {
		u.IsReply = true
		u.RepliedToMessageID = strconv.Itoa(msg.ReplyToMessage.MessageID)
	}
	return u, true
}

// Send delivers msg, splitting text longer than Telegram allows. Every chunk's
// id is returned; only the first chunk quotes ReplyToMessageID.
func (s *Session) Send(ctx context.Context, msg relay.Outbound) ([]string, error) {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid chat id %q: %w", msg.ChatID, err)
	}
	replyTo := 0
	if msg.ReplyToMessageID != "" {
		replyTo, _ = strconv.Atoi(msg.ReplyToMessageID)
	}

	var ids []string
	for _, chunk := range relay.SplitText(msg.Text, maxMessageLen) {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		cfg := tgbotapi.NewMessage(chatID, chunk)
		cfg.ReplyToMessageID = replyTo
		cfg.AllowSendingWithoutReply = true
		replyTo = 0

		var sent tgbotapi.Message
		err := s.retryOnRateLimit(ctx, func() error {
			var sendErr error
			sent, sendErr = s.api.Send(cfg)
			return sendErr
		})
		if err != nil {
			return ids, fmt.Errorf("telegram: send message: %w", err)
		}
		ids = append(ids, strconv.Itoa(sent.MessageID))
	}
	return ids, nil
}

// retryOnRateLimit calls fn and retries on HTTP 429, waiting for the
// server's retry_after hint or an exponential backoff. It respects context
// cancellation.
func (s *Session) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var apiErr *tgbotapi.Error
		if !errors.As(err, &apiErr) || apiErr.Code != http.StatusTooManyRequests || attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * s.baseBackoff
		if apiErr.RetryAfter > 0 {
			wait = time.Duration(apiErr.RetryAfter) * time.Second
		}
		if wait > s.maxBackoff {
			wait = s.maxBackoff
		}
		s.log.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"wait":    wait,
		}).Warn("telegram: rate limited")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Close stops polling. The update channel closes once the poller exits.
func (s *Session) Close() error {
	s.stop.Do(func() {
		close(s.done)
		s.api.StopReceivingUpdates()
	})
	return nil
}
