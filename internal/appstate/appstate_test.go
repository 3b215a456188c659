package appstate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/workbench/internal/db"
)

func TestCheckFirstRunMemory(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := CheckFirstRun(ctx, store)
	require.NoError(t, err)
	require.True(t, first)

	first, err = CheckFirstRun(ctx, store)
	require.NoError(t, err)
	require.False(t, first)
}

func TestCheckFirstRunPersistsAcrossOpens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "workbench.db")

	database, err := db.Open(ctx, path, 0)
	require.NoError(t, err)
	first, err := CheckFirstRun(ctx, NewKVStore(db.NewKVRepository(database)))
	require.NoError(t, err)
	require.True(t, first)
	require.NoError(t, database.Close())

	database, err = db.Open(ctx, path, 0)
	require.NoError(t, err)
	defer database.Close()
	store := NewKVStore(db.NewKVRepository(database))

	first, err = CheckFirstRun(ctx, store)
	require.NoError(t, err)
	require.False(t, first)

	value, ok, err := store.Get(ctx, KeyAppHasRun)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "true", value)

	_, ok, err = store.Get(ctx, KeySampleDataDir)
	require.NoError(t, err)
	require.False(t, ok)
}
