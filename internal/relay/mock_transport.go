package relay

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/zulandar/relayhub/internal/models"
)

// MockSession implements Session for testing. Message ids are numbered per
// chat starting at 1, like Telegram, so ids collide across chats and bots.
type MockSession struct {
	mu       sync.Mutex
	identity Identity
	updates  chan Update
	closed   bool
	ended    bool
	sent     []Outbound
	nextID   map[string]int
	failing  map[string]error
	sendHook func(ctx context.Context, msg Outbound) error
	limit    int
}

// NewMockSession creates a MockSession with a buffered update channel.
func NewMockSession(identity Identity) *MockSession {
	return &MockSession{
		identity: identity,
		updates:  make(chan Update, 100),
		nextID:   make(map[string]int),
		failing:  make(map[string]error),
	}
}

func (s *MockSession) Identity() Identity { return s.identity }

func (s *MockSession) Updates() <-chan Update { return s.updates }

// Send records msg and returns the next id in its chat. With a split limit
// set, long text is recorded as one message per piece with its own id.
// Sends to chats registered with FailChat return that error.
func (s *MockSession) Send(ctx context.Context, msg Outbound) ([]string, error) {
	s.mu.Lock()
	hook := s.sendHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, msg); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failing[msg.ChatID]; ok {
		return nil, err
	}
	pieces := []string{msg.Text}
	if s.limit > 0 {
		pieces = SplitText(msg.Text, s.limit)
	}
	ids := make([]string, 0, len(pieces))
	for i, text := range pieces {
		piece := Outbound{ChatID: msg.ChatID, Text: text}
		if i == 0 {
			piece.ReplyToMessageID = msg.ReplyToMessageID
		}
		s.nextID[msg.ChatID]++
		s.sent = append(s.sent, piece)
		ids = append(ids, strconv.Itoa(s.nextID[msg.ChatID]))
	}
	return ids, nil
}

// Close closes the update channel. Sends keep working, as they do on the
// real platforms once receiving stops. Safe to call more than once.
func (s *MockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.ended {
		s.ended = true
		close(s.updates)
	}
	return nil
}

// --- Test helpers ---

// SimulateUpdate delivers u as if it came from the platform.
func (s *MockSession) SimulateUpdate(u Update) {
	s.updates <- u
}

// EndUpdates closes the update channel without closing the session, as when
// the platform drops the connection.
func (s *MockSession) EndUpdates() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		close(s.updates)
	}
}

// SetSplitLimit makes Send split text longer than limit runes the way the
// platforms do. Zero disables splitting.
func (s *MockSession) SetSplitLimit(limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limit = limit
}

// FailChat makes every send to chatID fail with err.
func (s *MockSession) FailChat(chatID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[chatID] = err
}

// SetSendHook installs a function run before every send. A non-nil return
// fails the send.
func (s *MockSession) SetSendHook(fn func(ctx context.Context, msg Outbound) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendHook = fn
}

// AllSent returns a copy of every successfully sent message.
func (s *MockSession) AllSent() []Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Outbound, len(s.sent))
	copy(out, s.sent)
	return out
}

// SentTo returns the messages sent to chatID in order.
func (s *MockSession) SentTo(chatID string) []Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Outbound
	for _, m := range s.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// IsClosed reports whether Close was called.
func (s *MockSession) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// MockConnector implements Connector for testing. Credentials registered
// with AddBot probe successfully; anything else is rejected.
type MockConnector struct {
	mu         sync.Mutex
	platform   string
	identities map[string]Identity
	openErrs   map[string]error
	sessions   map[string]*MockSession
	probeDelay time.Duration
	opened     int
}

// NewMockConnector creates a MockConnector for platform.
func NewMockConnector(platform string) *MockConnector {
	if platform == "" {
		platform = models.PlatformTelegram
	}
	return &MockConnector{
		platform:   platform,
		identities: make(map[string]Identity),
		openErrs:   make(map[string]error),
		sessions:   make(map[string]*MockSession),
	}
}

func (c *MockConnector) Platform() string { return c.platform }

// Probe returns the registered identity for credential.
func (c *MockConnector) Probe(ctx context.Context, credential string) (Identity, error) {
	c.mu.Lock()
	delay := c.probeDelay
	id, ok := c.identities[credential]
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Identity{}, ctx.Err()
		}
	}
	if !ok {
		return Identity{}, fmt.Errorf("mock connector: unauthorized")
	}
	return id, nil
}

// Open creates a MockSession for bot, or fails with the error set by FailOpen.
func (c *MockConnector) Open(ctx context.Context, bot models.ManagedBot) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.openErrs[bot.Credential]; ok {
		return nil, err
	}
	id, ok := c.identities[bot.Credential]
	if !ok {
		id = Identity{Handle: bot.Handle}
	}
	s := NewMockSession(id)
	c.sessions[bot.Credential] = s
	c.opened++
	return s, nil
}

// --- Test helpers ---

// AddBot makes credential valid with the given identity.
func (c *MockConnector) AddBot(credential string, id Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identities[credential] = id
}

// FailOpen makes Open fail for credential.
func (c *MockConnector) FailOpen(credential string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openErrs[credential] = err
}

// SetProbeDelay makes every probe wait d before answering.
func (c *MockConnector) SetProbeDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probeDelay = d
}

// Session returns the most recent session opened for credential.
func (c *MockConnector) Session(credential string) (*MockSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[credential]
	return s, ok
}

// OpenCount returns how many sessions were opened.
func (c *MockConnector) OpenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}
