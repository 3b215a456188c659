package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/workbench/internal/models"
)

var errLocked = errors.New("database is locked (5) (SQLITE_BUSY)")

func TestBusyRetryRepeatsUntilUnlocked(t *testing.T) {
	calls := 0
	err := busyRetry{attempts: 4, delay: time.Millisecond}.run(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errLocked
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestBusyRetryGivesUp(t *testing.T) {
	calls := 0
	err := busyRetry{attempts: 3, delay: time.Millisecond}.run(context.Background(), func() error {
		calls++
		return errLocked
	})
	require.ErrorIs(t, err, errLocked)
	require.Equal(t, 3, calls)
}

func TestBusyRetryLeavesOtherErrors(t *testing.T) {
	boom := errors.New("no such table: runs")
	calls := 0
	err := busyRetry{attempts: 5, delay: time.Millisecond}.run(context.Background(), func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestBusyRetryStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := busyRetry{attempts: 5, delay: time.Hour}.run(ctx, func() error {
		calls++
		cancel()
		return errLocked
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
	require.False(t, isBusy(context.Canceled))
}

// lockDatabase takes the write lock on path from a second connection and
// returns a function that releases it.
func lockDatabase(t *testing.T, path string) func() error {
	t.Helper()
	ctx := context.Background()
	other, err := Open(ctx, path, 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = other.Close() })

	tx, err := other.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, `INSERT INTO kv (key, value, created_at, updated_at) VALUES ('lock', '1', '', '')`)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback() })
	return tx.Commit
}

func TestFinishWaitsForWriteLock(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "workbench.db")
	database, err := Open(ctx, path, 1)
	require.NoError(t, err)
	defer database.Close()
	repo := NewRunRepository(database)

	run := &models.Run{Model: "carbon", DatastackPath: "/tmp/ds.json"}
	require.NoError(t, repo.Create(ctx, run))

	release := lockDatabase(t, path)

	// Without retries the lock surfaces as a busy error.
	database.retry = busyRetry{attempts: 1}
	err = repo.Finish(ctx, run.ID, models.RunStatusFailed, 2)
	require.Error(t, err)
	require.True(t, isBusy(err), "got %v", err)

	database.retry = defaultBusyRetry
	released := make(chan error, 1)
	go func() {
		time.Sleep(60 * time.Millisecond)
		released <- release()
	}()
	require.NoError(t, repo.Finish(ctx, run.ID, models.RunStatusFailed, 2))
	require.NoError(t, <-released)

	got, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusFailed, got.Status)
	require.Equal(t, 2, *got.ExitCode)

	// A retried Finish never replaces a final status.
	require.ErrorIs(t, repo.Finish(ctx, run.ID, models.RunStatusSucceeded, 0), ErrRunFinished)
	got, err = repo.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusFailed, got.Status)
}

func TestWriteTransactionRollsBackOnError(t *testing.T) {
	database := setupTestDB(t)
	defer database.Close()
	ctx := context.Background()

	boom := errors.New("boom")
	err := database.WriteTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO kv (key, value, created_at, updated_at) VALUES ('k', 'v', '', '')`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, database.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv`).Scan(&count))
	require.Zero(t, count)
}
