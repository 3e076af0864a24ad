// Package storetest is a conformance suite run against every store backend.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/relayhub/internal/models"
	"github.com/zulandar/relayhub/internal/store"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes every conformance check against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"PutBotRejectsDuplicate", testPutBotRejectsDuplicate},
		{"GetBotNotFound", testGetBotNotFound},
		{"ListBotsByOwner", testListBotsByOwner},
		{"DeleteBotRemovesAdmins", testDeleteBotRemovesAdmins},
		{"UpsertSubscriber", testUpsertSubscriber},
		{"AdminGrantIdempotent", testAdminGrantIdempotent},
		{"GetAdminNotFound", testGetAdminNotFound},
		{"AdminInsertionOrder", testAdminInsertionOrder},
		{"DeleteAdmin", testDeleteAdmin},
		{"MappingRoundTrip", testMappingRoundTrip},
		{"MappingScopedByBot", testMappingScopedByBot},
		{"MappingScopedByChat", testMappingScopedByChat},
		{"MappingInsertOnly", testMappingInsertOnly},
		{"PruneMappings", testPruneMappings},
		{"ConcurrentPutBot", testConcurrentPutBot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func newBot(credential, owner string) *models.ManagedBot {
	return &models.ManagedBot{
		ID:         uuid.NewString(),
		Credential: credential,
		Platform:   models.PlatformTelegram,
		Handle:     "bot_" + owner,
		OwnerID:    owner,
		CreatedAt:  time.Now(),
	}
}

func testPutBotRejectsDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutBot(ctx, newBot("tok-1", "100")))

	err := s.PutBot(ctx, newBot("tok-1", "200"))
	assert.ErrorIs(t, err, store.ErrDuplicate)

	bots, err := s.ListBots(ctx, "")
	require.NoError(t, err)
	assert.Len(t, bots, 1)
	assert.Equal(t, "100", bots[0].OwnerID)
}

func testGetBotNotFound(t *testing.T, s store.Store) {
	_, err := s.GetBot(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testListBotsByOwner(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutBot(ctx, newBot("a", "1")))
	require.NoError(t, s.PutBot(ctx, newBot("b", "2")))
	require.NoError(t, s.PutBot(ctx, newBot("c", "1")))

	bots, err := s.ListBots(ctx, "1")
	require.NoError(t, err)
	require.Len(t, bots, 2)
	assert.Equal(t, "a", bots[0].Credential)
	assert.Equal(t, "c", bots[1].Credential)

	all, err := s.ListBots(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func testDeleteBotRemovesAdmins(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutBot(ctx, newBot("tok", "1")))
	require.NoError(t, s.PutAdmin(ctx, "tok", "9", time.Now()))

	require.NoError(t, s.DeleteBot(ctx, "tok"))
	_, err := s.GetBot(ctx, "tok")
	assert.ErrorIs(t, err, store.ErrNotFound)
	admins, err := s.ListAdmins(ctx, "tok")
	require.NoError(t, err)
	assert.Empty(t, admins)

	assert.ErrorIs(t, s.DeleteBot(ctx, "tok"), store.ErrNotFound)
}

func testUpsertSubscriber(t *testing.T, s store.Store) {
	ctx := context.Background()
	first := time.Now().Add(-time.Hour)
	require.NoError(t, s.UpsertSubscriber(ctx, models.Subscriber{
		Credential: "tok", UserID: "7", DisplayName: "Ann", Handle: "ann", LastActiveAt: first,
	}))
	require.NoError(t, s.UpsertSubscriber(ctx, models.Subscriber{
		Credential: "tok", UserID: "7", DisplayName: "Ann B", Handle: "annb", LastActiveAt: time.Now(),
	}))
	require.NoError(t, s.UpsertSubscriber(ctx, models.Subscriber{
		Credential: "other", UserID: "7", DisplayName: "Ann", LastActiveAt: time.Now(),
	}))

	n, err := s.CountSubscribers(ctx, "tok")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func testAdminGrantIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()
	t0 := time.Now().Add(-time.Hour).Truncate(time.Second)
	t1 := t0.Add(time.Hour)
	require.NoError(t, s.PutAdmin(ctx, "tok", "5", t0))
	require.NoError(t, s.PutAdmin(ctx, "tok", "5", t1))

	admins, err := s.ListAdmins(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, []string{"5"}, admins)

	grant, err := s.GetAdmin(ctx, "tok", "5")
	require.NoError(t, err)
	assert.True(t, grant.GrantedAt.Equal(t1), "granted_at refreshed: got %s", grant.GrantedAt)
	assert.True(t, grant.CreatedAt.Equal(t0), "created_at kept: got %s", grant.CreatedAt)
}

func testGetAdminNotFound(t *testing.T, s store.Store) {
	_, err := s.GetAdmin(context.Background(), "tok", "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testAdminInsertionOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"30", "10", "20"} {
		require.NoError(t, s.PutAdmin(ctx, "tok", id, base.Add(time.Duration(i)*time.Second)))
	}
	// Re-granting the first admin must not move it to the end.
	require.NoError(t, s.PutAdmin(ctx, "tok", "30", base.Add(time.Minute)))

	admins, err := s.ListAdmins(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, []string{"30", "10", "20"}, admins)
}

func testDeleteAdmin(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutAdmin(ctx, "tok", "5", time.Now()))
	require.NoError(t, s.DeleteAdmin(ctx, "tok", "5"))
	assert.ErrorIs(t, s.DeleteAdmin(ctx, "tok", "5"), store.ErrNotFound)
}

func mapping(credential, chat, msg, sender string) *models.DeliveryMapping {
	return &models.DeliveryMapping{
		Credential:         credential,
		ForwardedChatID:    chat,
		ForwardedMessageID: msg,
		OriginalSenderID:   sender,
		OriginalChatID:     sender,
		CreatedAt:          time.Now(),
	}
}

func testMappingRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutMapping(ctx, mapping("tok", "100", "55", "7")))

	got, err := s.GetMapping(ctx, "tok", "100", "55")
	require.NoError(t, err)
	assert.Equal(t, "7", got.OriginalSenderID)

	_, err = s.GetMapping(ctx, "tok", "100", "56")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testMappingScopedByBot(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutMapping(ctx, mapping("bot-1", "100", "55", "u1")))
	require.NoError(t, s.PutMapping(ctx, mapping("bot-2", "100", "55", "u2")))

	m1, err := s.GetMapping(ctx, "bot-1", "100", "55")
	require.NoError(t, err)
	m2, err := s.GetMapping(ctx, "bot-2", "100", "55")
	require.NoError(t, err)
	assert.Equal(t, "u1", m1.OriginalSenderID)
	assert.Equal(t, "u2", m2.OriginalSenderID)
}

func testMappingScopedByChat(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutMapping(ctx, mapping("tok", "owner", "3", "u1")))
	require.NoError(t, s.PutMapping(ctx, mapping("tok", "admin", "3", "u2")))

	m, err := s.GetMapping(ctx, "tok", "admin", "3")
	require.NoError(t, err)
	assert.Equal(t, "u2", m.OriginalSenderID)
}

func testMappingInsertOnly(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.PutMapping(ctx, mapping("tok", "1", "1", "u1")))
	err := s.PutMapping(ctx, mapping("tok", "1", "1", "u2"))
	assert.ErrorIs(t, err, store.ErrDuplicate)

	m, err := s.GetMapping(ctx, "tok", "1", "1")
	require.NoError(t, err)
	assert.Equal(t, "u1", m.OriginalSenderID)
}

func testPruneMappings(t *testing.T, s store.Store) {
	ctx := context.Background()
	old := mapping("tok", "1", "1", "u1")
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.PutMapping(ctx, old))
	require.NoError(t, s.PutMapping(ctx, mapping("tok", "1", "2", "u1")))

	n, err := s.PruneMappings(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.GetMapping(ctx, "tok", "1", "1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetMapping(ctx, "tok", "1", "2")
	assert.NoError(t, err)
}

func testConcurrentPutBot(t *testing.T, s store.Store) {
	ctx := context.Background()
	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.PutBot(ctx, newBot("shared", fmt.Sprint(i)))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, errors.Is(err, store.ErrDuplicate), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, ok)

	bots, err := s.ListBots(ctx, "")
	require.NoError(t, err)
	assert.Len(t, bots, 1)
}
