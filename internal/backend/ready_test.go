package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitReadySucceedsAfterRetries(t *testing.T) {
	var calls atomic.Int32
	checker := ReadyFunc(func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	err := WaitReady(context.Background(), checker, 10*time.Millisecond, time.Second)
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
}

func TestWaitReadyTimesOut(t *testing.T) {
	checker := ReadyFunc(func(context.Context) error { return errors.New("connection refused") })

	start := time.Now()
	err := WaitReady(context.Background(), checker, 10*time.Millisecond, 100*time.Millisecond)
	require.ErrorIs(t, err, ErrNotReady)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestWaitReadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker := ReadyFunc(func(context.Context) error { return errors.New("down") })

	err := WaitReady(ctx, checker, 10*time.Millisecond, time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrNotReady)
}

func TestWaitReadyAgainstHTTP(t *testing.T) {
	var ready atomic.Bool
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ready")
	})

	time.AfterFunc(50*time.Millisecond, func() { ready.Store(true) })
	require.NoError(t, WaitReady(context.Background(), client, 10*time.Millisecond, 5*time.Second))
}
