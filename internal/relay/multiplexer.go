package relay

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zulandar/relayhub/internal/models"
	"github.com/zulandar/relayhub/internal/opslog"
)

// Session states reported by Sessions.
const (
	StateRunning = "running"
	StateStopped = "stopped"
)

// ErrShutdownTimeout is returned by Shutdown when in-flight relays outlive
// the grace period.
var ErrShutdownTimeout = errors.New("relay: shutdown grace period expired")

// SessionInfo is a point-in-time view of one managed bot session.
type SessionInfo struct {
	BotID     string    `json:"bot_id"`
	Bot       string    `json:"bot"` // display label
	Handle    string    `json:"handle"`
	Platform  string    `json:"platform"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
	Handled   int64     `json:"handled"`
}

// MultiplexerOpts configures a Multiplexer.
type MultiplexerOpts struct {
	Connectors Connectors
	Router     *Router
	Reporter   Reporter
	Log        *logrus.Logger
	// RelayTimeout bounds a single relay operation. Defaults to 30s.
	RelayTimeout time.Duration
}

// Multiplexer runs one session per managed bot. Each session has its own
// goroutine that handles events in arrival order; all sessions share the
// Router and therefore the Store.
type Multiplexer struct {
	connectors   Connectors
	router       *Router
	reporter     Reporter
	log          *logrus.Logger
	relayTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*botSession // key: credential
	baseCtx  context.Context
	closed   bool

	// workers counts session loops. A loop finishes its current relay
	// before exiting, so waiting on it also waits for in-flight relays.
	workers sync.WaitGroup
}

type botSession struct {
	bot       models.ManagedBot
	sess      Session
	cancel    context.CancelFunc
	startedAt time.Time
	handled   atomic.Int64
	stopped   atomic.Bool
	removed   atomic.Bool
}

// NewMultiplexer creates a Multiplexer.
func NewMultiplexer(opts MultiplexerOpts) (*Multiplexer, error) {
	if opts.Router == nil {
		return nil, fmt.Errorf("relay: router is required")
	}
	if len(opts.Connectors) == 0 {
		return nil, fmt.Errorf("relay: at least one connector is required")
	}
	m := &Multiplexer{
		connectors:   opts.Connectors,
		router:       opts.Router,
		reporter:     opts.Reporter,
		log:          opts.Log,
		relayTimeout: opts.RelayTimeout,
		sessions:     make(map[string]*botSession),
		baseCtx:      context.Background(),
	}
	if m.log == nil {
		m.log = logrus.StandardLogger()
	}
	if m.reporter == nil {
		m.reporter = opslog.NewReporter(m.log, opslog.LogSink{Log: m.log})
	}
	if m.relayTimeout <= 0 {
		m.relayTimeout = 30 * time.Second
	}
	return m, nil
}

// Start opens a session for every bot. A bot whose session cannot be opened
// is reported and skipped. Returns the number of sessions started. Session
// loops stop when ctx is cancelled.
func (m *Multiplexer) Start(ctx context.Context, bots []models.ManagedBot) int {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()

	started := 0
	for _, bot := range bots {
		if err := m.Add(ctx, bot); err == nil {
			started++
		}
	}
	m.log.WithFields(logrus.Fields{
		"started": started,
		"total":   len(bots),
	}).Info("relay: sessions started")
	return started
}

// Add opens a session for bot unless one is already running. Failures are
// reported as session start failures and returned wrapped in ErrSessionStart.
func (m *Multiplexer) Add(ctx context.Context, bot models.ManagedBot) error {
	m.mu.RLock()
	existing, ok := m.sessions[bot.Credential]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return fmt.Errorf("%w: multiplexer is shut down", ErrSessionStart)
	}
	if ok && !existing.stopped.Load() {
		return nil
	}

	sess, err := m.open(ctx, bot)
	if err != nil {
		m.reporter.Report(ctx, opslog.Event{
			Kind:    opslog.KindSessionStartFailure,
			Bot:     BotLabel(bot),
			Message: "could not start session",
			Error:   err.Error(),
		})
		return fmt.Errorf("%w: %s: %w", ErrSessionStart, BotLabel(bot), err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = sess.Close()
		return fmt.Errorf("%w: multiplexer is shut down", ErrSessionStart)
	}
	prev, ok := m.sessions[bot.Credential]
	if ok && !prev.stopped.Load() {
		// Lost a race with a concurrent Add.
		m.mu.Unlock()
		_ = sess.Close()
		return nil
	}
	loopCtx, cancel := context.WithCancel(m.baseCtx)
	bs := &botSession{bot: bot, sess: sess, cancel: cancel, startedAt: time.Now()}
	m.sessions[bot.Credential] = bs
	m.workers.Add(1)
	m.mu.Unlock()

	if prev != nil {
		m.stop(prev)
	}
	go m.run(loopCtx, bs)

	m.reporter.Report(ctx, opslog.Event{
		Kind:    opslog.KindSessionStarted,
		Bot:     BotLabel(bot),
		Message: "session started",
	})
	return nil
}

func (m *Multiplexer) open(ctx context.Context, bot models.ManagedBot) (Session, error) {
	conn, err := m.connectors.Get(bot.Platform)
	if err != nil {
		return nil, err
	}
	return conn.Open(ctx, bot)
}

// Remove stops the session for credential. Returns false if none was
// registered.
func (m *Multiplexer) Remove(credential string) bool {
	m.mu.Lock()
	bs, ok := m.sessions[credential]
	if ok {
		delete(m.sessions, credential)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	bs.removed.Store(true)
	m.stop(bs)
	return true
}

func (m *Multiplexer) stop(bs *botSession) {
	bs.cancel()
	if err := bs.sess.Close(); err != nil {
		m.log.WithError(err).WithField("bot", BotLabel(bs.bot)).Warn("relay: close session")
	}
}

// Sessions returns a snapshot of every registered session sorted by label.
func (m *Multiplexer) Sessions() []SessionInfo {
	m.mu.RLock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, bs := range m.sessions {
		state := StateRunning
		if bs.stopped.Load() {
			state = StateStopped
		}
		out = append(out, SessionInfo{
			BotID:     bs.bot.ID,
			Bot:       BotLabel(bs.bot),
			Handle:    bs.bot.Handle,
			Platform:  bs.bot.Platform,
			State:     state,
			StartedAt: bs.startedAt,
			Handled:   bs.handled.Load(),
		})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Bot < out[j].Bot })
	return out
}

// Len returns the number of registered sessions.
func (m *Multiplexer) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown stops receiving on every session and waits up to grace for
// in-flight relays to finish. Returns ErrShutdownTimeout if they do not.
func (m *Multiplexer) Shutdown(grace time.Duration) error {
	m.mu.Lock()
	m.closed = true
	all := make([]*botSession, 0, len(m.sessions))
	for _, bs := range m.sessions {
		all = append(all, bs)
	}
	m.mu.Unlock()

	for _, bs := range all {
		bs.removed.Store(true)
		m.stop(bs)
	}

	done := make(chan struct{})
	go func() {
		m.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info("relay: all sessions stopped")
		return nil
	case <-time.After(grace):
		return ErrShutdownTimeout
	}
}

// run pumps one session's updates through the Router until the stream ends
// or ctx is cancelled.
func (m *Multiplexer) run(ctx context.Context, bs *botSession) {
	defer m.workers.Done()
	updates := bs.sess.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				m.streamEnded(bs)
				return
			}
			u.Credential = bs.bot.Credential
			ev, ok := Classify(u)
			if !ok {
				continue
			}
			m.relay(ctx, bs, ev)
		}
	}
}

// relay handles one event on a context that survives shutdown so sends in
// progress are not cut off.
func (m *Multiplexer) relay(ctx context.Context, bs *botSession, ev Event) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.relayTimeout)
	defer cancel()
	if err := m.router.Route(rctx, bs.sess, ev); err != nil {
		m.log.WithError(err).WithField("bot", BotLabel(bs.bot)).Error("relay: route event")
	}
	bs.handled.Add(1)
}

func (m *Multiplexer) streamEnded(bs *botSession) {
	if bs.removed.Load() {
		return
	}
	bs.stopped.Store(true)
	m.reporter.Report(context.Background(), opslog.Event{
		Kind:    opslog.KindSessionStopped,
		Bot:     BotLabel(bs.bot),
		Message: "update stream ended",
	})
}
