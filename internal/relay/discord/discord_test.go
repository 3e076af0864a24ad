package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulandar/relayhub/internal/models"
	"github.com/zulandar/relayhub/internal/relay"
)

// --- Mock Discord session ---

type sentMessage struct {
	channelID string
	data      *discordgo.MessageSend
}

type mockSession struct {
	mu           sync.Mutex
	opened       bool
	closeCalled  bool
	openErr      error
	userErr      error
	me           *discordgo.User
	sent         []sentMessage
	sendErrs     []error
	dmCreated    []string
	handlers     []interface{}
	removeCalled int
	nextID       int
}

func newMockSession() *mockSession {
	return &mockSession{me: &discordgo.User{ID: "900", Username: "shopbot", GlobalName: "Shop"}}
}

func (m *mockSession) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.opened = true
	return nil
}

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalled = true
	return nil
}

func (m *mockSession) User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error) {
	if m.userErr != nil {
		return nil, m.userErr
	}
	return m.me, nil
}

func (m *mockSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dmCreated = append(m.dmCreated, recipientID)
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sendErrs) > 0 {
		err := m.sendErrs[0]
		m.sendErrs = m.sendErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	m.sent = append(m.sent, sentMessage{channelID: channelID, data: data})
	m.nextID++
	return &discordgo.Message{ID: fmt.Sprintf("msg-%d", m.nextID)}, nil
}

func (m *mockSession) AddHandler(handler interface{}) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.removeCalled++
	}
}

// simulateMessage invokes the registered MessageCreate handler.
func (m *mockSession) simulateMessage(msg *discordgo.Message) {
	m.mu.Lock()
	handlers := append([]interface{}(nil), m.handlers...)
	m.mu.Unlock()
	for _, h := range handlers {
		if fn, ok := h.(func(*discordgo.Session, *discordgo.MessageCreate)); ok {
			fn(nil, &discordgo.MessageCreate{Message: msg})
		}
	}
}

func (m *mockSession) allSent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

func rateLimitErr() error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
}

func newTestConnector(ms *mockSession) *Connector {
	log := logrus.New()
	log.SetOutput(io.Discard)
	c := NewConnector(ConnectorOpts{
		Log:        log,
		newSession: func(token string) (session, error) { return ms, nil },
	})
	c.baseBackoff = time.Millisecond
	c.maxBackoff = 5 * time.Millisecond
	return c
}

func openSession(t *testing.T, ms *mockSession) *Session {
	t.Helper()
	s, err := newTestConnector(ms).Open(context.Background(), models.ManagedBot{Credential: "tok", Platform: models.PlatformDiscord})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s.(*Session)
}

func nextUpdate(t *testing.T, s *Session) relay.Update {
	t.Helper()
	select {
	case u := <-s.Updates():
		return u
	case <-time.After(time.Second):
		t.Fatal("no update")
		return relay.Update{}
	}
}

func TestConnector_Platform(t *testing.T) {
	assert.Equal(t, models.PlatformDiscord, NewConnector(ConnectorOpts{}).Platform())
}

func TestProbe(t *testing.T) {
	ms := newMockSession()
	id, err := newTestConnector(ms).Probe(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, relay.Identity{ID: "900", Handle: "shopbot", Name: "Shop"}, id)

	ms.userErr = errors.New("HTTP 401 Unauthorized")
	_, err = newTestConnector(ms).Probe(context.Background(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get current user")
	assert.False(t, ms.opened, "probe never opens the gateway")
}

func TestOpen_GatewayError(t *testing.T) {
	ms := newMockSession()
	ms.openErr = errors.New("websocket: bad handshake")

	_, err := newTestConnector(ms).Open(context.Background(), models.ManagedBot{Credential: "tok"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open gateway")
	assert.Equal(t, 1, ms.removeCalled)
}

func TestSession_HandlesDirectMessages(t *testing.T) {
	ms := newMockSession()
	s := openSession(t, ms)

	// Ignored: guild message, other bot, own message, missing author.
	ms.simulateMessage(&discordgo.Message{ID: "1", GuildID: "g1", Author: &discordgo.User{ID: "u1"}, Content: "guild"})
	ms.simulateMessage(&discordgo.Message{ID: "2", Author: &discordgo.User{ID: "b1", Bot: true}, Content: "bot"})
	ms.simulateMessage(&discordgo.Message{ID: "3", Author: &discordgo.User{ID: "900"}, Content: "self"})
	ms.simulateMessage(&discordgo.Message{ID: "4", Content: "nobody"})

	ms.simulateMessage(&discordgo.Message{
		ID:        "5",
		ChannelID: "dm-u1",
		Author:    &discordgo.User{ID: "u1", Username: "ann", GlobalName: "Ann"},
		Content:   "hello",
	})
	assert.Equal(t, relay.Update{
		ChatID: "u1", MessageID: "5", SenderID: "u1", SenderName: "Ann", SenderHandle: "ann", Text: "hello",
	}, nextUpdate(t, s))

	ms.simulateMessage(&discordgo.Message{
		ID:               "6",
		ChannelID:        "dm-owner",
		Author:           &discordgo.User{ID: "owner", Username: "boss"},
		Content:          "answer",
		MessageReference: &discordgo.MessageReference{MessageID: "msg-1"},
	})
	u := nextUpdate(t, s)
	assert.True(t, u.IsReply)
	assert.Equal(t, "msg-1", u.RepliedToMessageID)
	assert.Equal(t, "boss", u.SenderName)
}

func TestSession_SendUsesDMChannel(t *testing.T) {
	ms := newMockSession()
	s := openSession(t, ms)

	ids, err := s.Send(context.Background(), relay.Outbound{ChatID: "u1", Text: "hi", ReplyToMessageID: "5"})
	require.NoError(t, err)
	assert.Equal(t, []string{"msg-1"}, ids)
	_, err = s.Send(context.Background(), relay.Outbound{ChatID: "u1", Text: "again"})
	require.NoError(t, err)

	sent := ms.allSent()
	require.Len(t, sent, 2)
	assert.Equal(t, "dm-u1", sent[0].channelID)
	require.NotNil(t, sent[0].data.Reference)
	assert.Equal(t, "5", sent[0].data.Reference.MessageID)
	assert.Nil(t, sent[1].data.Reference)
	assert.Equal(t, []string{"u1"}, ms.dmCreated, "DM channel is cached")
}

func TestSession_SendReusesInboundChannel(t *testing.T) {
	ms := newMockSession()
	s := openSession(t, ms)

	ms.simulateMessage(&discordgo.Message{ID: "5", ChannelID: "dm-known", Author: &discordgo.User{ID: "u1"}, Content: "hi"})
	nextUpdate(t, s)

	_, err := s.Send(context.Background(), relay.Outbound{ChatID: "u1", Text: "ack"})
	require.NoError(t, err)
	assert.Equal(t, "dm-known", ms.allSent()[0].channelID)
	assert.Empty(t, ms.dmCreated)
}

func TestSession_SendSplitsLongText(t *testing.T) {
	ms := newMockSession()
	s := openSession(t, ms)

	ids, err := s.Send(context.Background(), relay.Outbound{ChatID: "u1", Text: strings.Repeat("y", maxMessageLen*2+1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"msg-1", "msg-2", "msg-3"}, ids)
	assert.Len(t, ms.allSent(), 3)
}

func TestSession_RetriesRateLimit(t *testing.T) {
	ms := newMockSession()
	ms.sendErrs = []error{rateLimitErr(), rateLimitErr()}
	s := openSession(t, ms)

	_, err := s.Send(context.Background(), relay.Outbound{ChatID: "u1", Text: "hi"})
	require.NoError(t, err)
	assert.Len(t, ms.allSent(), 1)
}

func TestSession_RateLimitRespectsContext(t *testing.T) {
	ms := newMockSession()
	ms.sendErrs = []error{rateLimitErr()}
	s := openSession(t, ms)
	s.baseBackoff = time.Hour
	s.maxBackoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Send(ctx, relay.Outbound{ChatID: "u1", Text: "hi"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSession_NonRateLimitErrorNotRetried(t *testing.T) {
	ms := newMockSession()
	ms.sendErrs = []error{errors.New("HTTP 403 Forbidden, Cannot send messages to this user")}
	s := openSession(t, ms)

	_, err := s.Send(context.Background(), relay.Outbound{ChatID: "u1", Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot send messages")
}

func TestSession_Close(t *testing.T) {
	ms := newMockSession()
	s := openSession(t, ms)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, ms.closeCalled)
	_, ok := <-s.Updates()
	assert.False(t, ok)

	// Late gateway events after close are dropped.
	ms.simulateMessage(&discordgo.Message{ID: "9", Author: &discordgo.User{ID: "u1"}, Content: "late"})
}
