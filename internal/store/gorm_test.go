package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/relayhub/internal/db"
	"github.com/zulandar/relayhub/internal/store"
	"github.com/zulandar/relayhub/internal/store/storetest"
)

func newGormStore(t *testing.T) store.Store {
	t.Helper()
	gormDB, err := db.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gormDB))
	s, err := store.NewGormStore(gormDB)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGormStore_Conformance(t *testing.T) {
	storetest.Run(t, newGormStore)
}

func TestNewGormStore_NilDB(t *testing.T) {
	_, err := store.NewGormStore(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db is required")
}
