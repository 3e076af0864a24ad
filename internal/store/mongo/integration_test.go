//go:build integration

package mongo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zulandar/relayhub/internal/store"
	"github.com/zulandar/relayhub/internal/store/storetest"
)

// Requires a reachable MongoDB; set RELAYHUB_TEST_MONGO_URI to run.
func TestMongoStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return newTestStore(t)
	})
}

func TestMongoStore_DeleteBotClearsOrphanedGrants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutAdmin(ctx, "tok-gone", "9", time.Now()))

	assert.ErrorIs(t, s.DeleteBot(ctx, "tok-gone"), store.ErrNotFound)
	admins, err := s.ListAdmins(ctx, "tok-gone")
	require.NoError(t, err)
	assert.Empty(t, admins)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("RELAYHUB_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("RELAYHUB_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	dbName := fmt.Sprintf("relayhub_test_%d", time.Now().UnixNano())
	s, err := Connect(ctx, uri, dbName)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		s.Drop(context.Background())
		s.Close()
	})
	return s
}
