package relay

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/zulandar/relayhub/internal/db"
	"github.com/zulandar/relayhub/internal/models"
	"github.com/zulandar/relayhub/internal/opslog"
	"github.com/zulandar/relayhub/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	gormDB, err := db.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gormDB))
	s, err := store.NewGormStore(gormDB)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// recordingReporter captures reported events.
type recordingReporter struct {
	mu     sync.Mutex
	events []opslog.Event
}

func (r *recordingReporter) Report(_ context.Context, ev opslog.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingReporter) ofKind(kind opslog.Kind) []opslog.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []opslog.Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func putBot(t *testing.T, s store.Store, credential, handle, owner string, admins ...string) models.ManagedBot {
	t.Helper()
	ctx := context.Background()
	bot := models.ManagedBot{
		ID:         credential + "-id",
		Credential: credential,
		Platform:   models.PlatformTelegram,
		Handle:     handle,
		OwnerID:    owner,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, s.PutBot(ctx, &bot))
	for i, a := range admins {
		require.NoError(t, s.PutAdmin(ctx, credential, a, time.Now().Add(time.Duration(i)*time.Millisecond)))
	}
	return bot
}

func newTestRouter(t *testing.T, s store.Store, rep Reporter) *Router {
	t.Helper()
	r, err := NewRouter(RouterOpts{Store: s, Reporter: rep, Log: quietLogger(), FanoutConcurrency: 4})
	require.NoError(t, err)
	return r
}

func plain(cred, userID, text string) PlainMessage {
	return PlainMessage{
		Credential: cred,
		ChatID:     userID,
		MessageID:  "m-" + userID,
		Sender:     Sender{ID: userID, Name: "User " + userID, Handle: "h" + userID},
		Text:       text,
	}
}
