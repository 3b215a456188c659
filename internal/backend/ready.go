package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tOgg1/workbench/internal/logging"
)

// ErrNotReady is returned when the backend did not answer its readiness
// route before the deadline.
var ErrNotReady = errors.New("backend did not become ready")

// ReadyChecker performs a single readiness probe.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

// ReadyFunc adapts a function to ReadyChecker.
type ReadyFunc func(ctx context.Context) error

// Ready implements ReadyChecker.
func (f ReadyFunc) Ready(ctx context.Context) error { return f(ctx) }

// WaitReady probes checker every interval until a probe succeeds or timeout
// elapses. The first probe is sent immediately.
func WaitReady(ctx context.Context, checker ReadyChecker, interval, timeout time.Duration) error {
	logger := logging.Component("readiness")

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	attempts := 0
	var lastErr error
	for {
		attempts++
		probeCtx, probeCancel := context.WithTimeout(ctx, interval*4)
		lastErr = checker.Ready(probeCtx)
		probeCancel()
		if lastErr == nil {
			logger.Info().
				Int("attempts", attempts).
				Dur("elapsed", time.Since(start)).
				Msg("backend ready")
			return nil
		}
		logger.Debug().Int("attempt", attempts).Err(lastErr).Msg("backend not ready yet")

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				logger.Error().Int("attempts", attempts).Dur("timeout", timeout).Err(lastErr).Msg("backend did not become ready")
				return fmt.Errorf("%w after %s: %v", ErrNotReady, timeout, lastErr)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
