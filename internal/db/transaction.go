package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// busyRetry retries work that failed because another connection held the
// database lock past the busy timeout. The delay doubles after each attempt.
type busyRetry struct {
	attempts int
	delay    time.Duration
}

var defaultBusyRetry = busyRetry{attempts: 5, delay: 25 * time.Millisecond}

func (p busyRetry) run(ctx context.Context, fn func() error) error {
	delay := p.delay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || attempt >= p.attempts || !isBusy(err) {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}

// WriteTransaction runs fn in a transaction, starting over while the
// database is locked by another connection. fn may run more than once.
func (db *DB) WriteTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	return db.retry.run(ctx, func() error {
		return db.Transaction(ctx, fn)
	})
}

// exec runs a single write statement under the busy retry policy.
func (db *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := db.retry.run(ctx, func() error {
		var err error
		result, err = db.ExecContext(ctx, query, args...)
		return err
	})
	return result, err
}

func isBusy(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		// Extended codes such as SQLITE_BUSY_SNAPSHOT keep the primary code
		// in the low byte.
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database is locked") ||
		strings.Contains(message, "database table is locked")
}
