package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulandar/relayhub/internal/db"
	"github.com/zulandar/relayhub/internal/models"
	"github.com/zulandar/relayhub/internal/relay"
	"github.com/zulandar/relayhub/internal/store"
)

type staticSessions []relay.SessionInfo

func (s staticSessions) Sessions() []relay.SessionInfo { return s }

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

func seed(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, s.PutBot(ctx, &models.ManagedBot{ID: "b1", Credential: "111:secret-one", Platform: "telegram", Handle: "alpha", OwnerID: "o1", CreatedAt: now}))
	require.NoError(t, s.PutBot(ctx, &models.ManagedBot{ID: "b2", Credential: "222:secret-two", Platform: "discord", Handle: "beta", OwnerID: "o2", CreatedAt: now.Add(time.Second)}))
	require.NoError(t, s.PutAdmin(ctx, "111:secret-one", "a1", now))
	require.NoError(t, s.UpsertSubscriber(ctx, models.Subscriber{Credential: "111:secret-one", UserID: "u1", LastActiveAt: now}))
	require.NoError(t, s.UpsertSubscriber(ctx, models.Subscriber{Credential: "111:secret-one", UserID: "u2", LastActiveAt: now}))
}

func setupTestServer(t *testing.T, sessions SessionLister) *httptest.Server {
	t.Helper()
	st := newTestStore(t)
	seed(t, st)
	router, err := newRouter(StartOpts{Store: st, Sessions: sessions, StreamInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, into any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestStart_Validation(t *testing.T) {
	err := Start(context.Background(), StartOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store is required")

	err = Start(context.Background(), StartOpts{Store: newTestStore(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sessions is required")
}

func TestHealthz(t *testing.T) {
	srv := setupTestServer(t, staticSessions{{BotID: "b1", Bot: "@alpha", State: relay.StateRunning}})

	var body struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	getJSON(t, srv.URL+"/healthz", &body)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Sessions)
}

func TestSessions(t *testing.T) {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	srv := setupTestServer(t, staticSessions{{BotID: "b1", Bot: "@alpha", Handle: "alpha", Platform: "telegram", State: relay.StateRunning, StartedAt: started, Handled: 7}})

	var body struct {
		Sessions []relay.SessionInfo `json:"sessions"`
	}
	getJSON(t, srv.URL+"/api/sessions", &body)
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, int64(7), body.Sessions[0].Handled)
	assert.True(t, started.Equal(body.Sessions[0].StartedAt))
}

func TestBots(t *testing.T) {
	srv := setupTestServer(t, staticSessions{{BotID: "b1", Bot: "@alpha", State: relay.StateRunning}})

	var body struct {
		Bots []BotSummary `json:"bots"`
	}
	getJSON(t, srv.URL+"/api/bots", &body)
	require.Len(t, body.Bots, 2)

	alpha := body.Bots[0]
	assert.Equal(t, "@alpha", alpha.Bot)
	assert.Equal(t, int64(2), alpha.Subscribers)
	assert.Equal(t, 1, alpha.Admins)
	assert.Equal(t, relay.StateRunning, alpha.State)
	assert.Equal(t, "offline", body.Bots[1].State)

	getJSON(t, srv.URL+"/api/bots?owner=o2", &body)
	require.Len(t, body.Bots, 1)
	assert.Equal(t, "discord", body.Bots[0].Platform)
}

func TestBots_StateMatchesBotNotLabel(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, st.PutBot(ctx, &models.ManagedBot{ID: "tg", Credential: "111:secret-one", Platform: "telegram", Handle: "shared", OwnerID: "o1", CreatedAt: now}))
	require.NoError(t, st.PutBot(ctx, &models.ManagedBot{ID: "dc", Credential: "222:secret-two", Platform: "discord", Handle: "shared", OwnerID: "o1", CreatedAt: now.Add(time.Second)}))

	sessions := staticSessions{{BotID: "dc", Bot: "@shared", Platform: "discord", State: relay.StateRunning}}
	router, err := newRouter(StartOpts{Store: st, Sessions: sessions, StreamInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	var body struct {
		Bots []BotSummary `json:"bots"`
	}
	getJSON(t, srv.URL+"/api/bots", &body)
	require.Len(t, body.Bots, 2)

	states := map[string]string{}
	for _, b := range body.Bots {
		assert.Equal(t, "@shared", b.Bot)
		states[b.Platform] = b.State
	}
	assert.Equal(t, "offline", states["telegram"])
	assert.Equal(t, relay.StateRunning, states["discord"])
}

func TestBots_NeverExposeCredentials(t *testing.T) {
	srv := setupTestServer(t, staticSessions{})

	resp, err := http.Get(srv.URL + "/api/bots")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "secret")
}

func TestSSE_StreamsSnapshots(t *testing.T) {
	srv := setupTestServer(t, staticSessions{{BotID: "b1", Bot: "@alpha", State: relay.StateRunning}})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	buf := make([]byte, 4096)
	var got strings.Builder
	for strings.Count(got.String(), "event: sessions") < 2 {
		n, err := resp.Body.Read(buf)
		got.Write(buf[:n])
		if err != nil {
			break
		}
	}
	assert.GreaterOrEqual(t, strings.Count(got.String(), "event: sessions"), 2)
	assert.Contains(t, got.String(), `"bot":"@alpha"`)
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	writeSSE(&buf, "sessions", []string{"a"})
	assert.Equal(t, "event: sessions\ndata: [\"a\"]\n\n", buf.String())
}
