// Package discord connects managed bots to Discord through the Gateway
// WebSocket. Only direct messages are relayed.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/zulandar/relayhub/internal/models"
	"github.com/zulandar/relayhub/internal/relay"
)

const (
	// maxMessageLen is Discord's limit for message content.
	maxMessageLen = 2000
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff for rate-limited calls.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	AddHandler(handler interface{}) func()
}

// newRealSession creates a discordgo session for a bot token with the
// intents needed to read direct messages.
func newRealSession(token string) (session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	dg.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	return dg, nil
}

// Connector implements relay.Connector for Discord.
type Connector struct {
	newSession  func(token string) (session, error)
	log         *logrus.Logger
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// ConnectorOpts holds parameters for creating a Connector.
type ConnectorOpts struct {
	Log *logrus.Logger
	// For testing: inject a mock session instead of real Discord API.
	newSession func(token string) (session, error)
}

// NewConnector creates a Discord Connector.
func NewConnector(opts ConnectorOpts) *Connector {
	c := &Connector{
		newSession:  opts.newSession,
		log:         opts.Log,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
	if c.newSession == nil {
		c.newSession = newRealSession
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	return c
}

func (c *Connector) Platform() string { return models.PlatformDiscord }

// Probe validates token by fetching the bot's own user over REST.
func (c *Connector) Probe(ctx context.Context, token string) (relay.Identity, error) {
	sess, err := c.newSession(token)
	if err != nil {
		return relay.Identity{}, fmt.Errorf("discord: create session: %w", err)
	}
	me, err := sess.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return relay.Identity{}, fmt.Errorf("discord: get current user: %w", err)
	}
	return identityOf(me), nil
}

// Open validates bot.Credential and connects to the Gateway.
func (c *Connector) Open(ctx context.Context, bot models.ManagedBot) (relay.Session, error) {
	sess, err := c.newSession(bot.Credential)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	me, err := sess.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: get current user: %w", err)
	}

	s := &Session{
		sess:        sess,
		identity:    identityOf(me),
		updates:     make(chan relay.Update, 100),
		done:        make(chan struct{}),
		dmChannels:  make(map[string]string),
		log:         c.log,
		baseBackoff: c.baseBackoff,
		maxBackoff:  c.maxBackoff,
	}
	s.removeHandler = sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		s.handleMessage(m)
	})
	sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		s.log.WithField("bot", s.identity.Handle).Info("discord: gateway disconnected, discordgo will auto-reconnect")
	})

	if err := sess.Open(); err != nil {
		s.removeHandler()
		return nil, fmt.Errorf("discord: open gateway: %w", err)
	}
	return s, nil
}

func identityOf(u *discordgo.User) relay.Identity {
	name := u.GlobalName
	if name == "" {
		name = u.Username
	}
	return relay.Identity{ID: u.ID, Handle: u.Username, Name: name}
}

// Session is one Gateway connection. Conversations are addressed by the
// user's id; the DM channel is resolved on send.
type Session struct {
	sess          session
	identity      relay.Identity
	updates       chan relay.Update
	done          chan struct{}
	stop          sync.Once
	removeHandler func()

	mu         sync.RWMutex
	closed     bool
	dmChannels map[string]string // user id -> DM channel id

	log         *logrus.Logger
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func (s *Session) Identity() relay.Identity { return s.identity }

func (s *Session) Updates() <-chan relay.Update { return s.updates }

// handleMessage converts a direct message into a relay update. Guild
// messages, bots and the session's own messages are ignored.
func (s *Session) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == s.identity.ID || m.GuildID != "" {
		return
	}

	name := m.Author.GlobalName
	if name == "" {
		name = m.Author.Username
	}
	u := relay.Update{
		ChatID:       m.Author.ID,
		MessageID:    m.ID,
		SenderID:     m.Author.ID,
		SenderName:   name,
		SenderHandle: m.Author.Username,
		Text:         m.Content,
		IsCommand:    strings.HasPrefix(m.Content, "/"),
	}
	if m.MessageReference != nil && m.MessageReference.MessageID != "" {
		u.IsReply = true
		u.RepliedToMessageID = m.MessageReference.MessageID
	}

	s.mu.Lock()
	s.dmChannels[m.Author.ID] = m.ChannelID
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.updates <- u:
	case <-s.done:
	}
}

// Send delivers msg as a DM to the user msg.ChatID, splitting long text.
// Every chunk's id is returned.
func (s *Session) Send(ctx context.Context, msg relay.Outbound) ([]string, error) {
	channelID, err := s.dmChannel(ctx, msg.ChatID)
	if err != nil {
		return nil, err
	}

	replyTo := msg.ReplyToMessageID
	var ids []string
	for _, chunk := range relay.SplitText(msg.Text, maxMessageLen) {
		data := &discordgo.MessageSend{Content: chunk}
		if replyTo != "" {
			data.Reference = &discordgo.MessageReference{
				MessageID: replyTo,
				ChannelID: channelID,
			}
			replyTo = ""
		}

		var sent *discordgo.Message
		err := s.retryOnRateLimit(ctx, func() error {
			var apiErr error
			sent, apiErr = s.sess.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
			return apiErr
		})
		if err != nil {
			return ids, fmt.Errorf("discord: send message: %w", err)
		}
		ids = append(ids, sent.ID)
	}
	return ids, nil
}

// dmChannel returns the DM channel with userID, creating it if needed.
func (s *Session) dmChannel(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	id, ok := s.dmChannels[userID]
	s.mu.RUnlock()
	if ok {
		return id, nil
	}

	var ch *discordgo.Channel
	err := s.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = s.sess.UserChannelCreate(userID, discordgo.WithContext(ctx))
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: open dm with %s: %w", userID, err)
	}

	s.mu.Lock()
	s.dmChannels[userID] = ch.ID
	s.mu.Unlock()
	return ch.ID, nil
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (s *Session) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil ||
			restErr.Response.StatusCode != http.StatusTooManyRequests || attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * s.baseBackoff
		if wait > s.maxBackoff {
			wait = s.maxBackoff
		}
		s.log.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"wait":    wait,
		}).Warn("discord: rate limited")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Close disconnects from the Gateway and closes the update channel. Sends
// keep working over REST. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.stop.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.updates)
		s.mu.Unlock()

		if s.removeHandler != nil {
			s.removeHandler()
		}
		err = s.sess.Close()
	})
	return err
}
