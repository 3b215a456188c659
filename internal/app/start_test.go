package app

import (
	"context"
	"os"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/workbench/internal/bridge"
	"github.com/tOgg1/workbench/internal/events"
	"github.com/tOgg1/workbench/internal/locator"
	"github.com/tOgg1/workbench/internal/models"
	"github.com/tOgg1/workbench/internal/runs"
	"github.com/tOgg1/workbench/internal/supervisor"
)

func TestConcurrentStartSpawnsOneBackend(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var finds atomic.Int32

	a := newTestApp(t, testConfig(t), Options{
		Finder: finderFunc(func(ctx context.Context) (locator.Binary, error) {
			if finds.Add(1) == 1 {
				close(entered)
				<-release
			}
			return selfBinary(ctx)
		}),
	})

	first := make(chan error, 1)
	go func() { first <- a.Start(context.Background()) }()
	<-entered

	require.ErrorIs(t, a.Start(context.Background()), supervisor.ErrAlreadyRunning)
	close(release)
	require.NoError(t, <-first)

	require.Equal(t, int32(1), finds.Load())
	require.True(t, a.Ready())
	require.ErrorIs(t, a.Start(context.Background()), supervisor.ErrAlreadyRunning)
}

func TestRestartKeepsRunManager(t *testing.T) {
	a := newTestApp(t, testConfig(t), Options{})
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	ch, err := a.Publisher().SubscribeChan("test", events.Filter{
		EventTypes: []models.EventType{models.EventTypeBackendNotice},
	}, 4)
	require.NoError(t, err)

	manager := a.Runs()
	slow, err := manager.Start(ctx, runs.Request{RunID: "slow-1", Model: "slow", Args: map[string]any{}, Workspace: t.TempDir()})
	require.NoError(t, err)

	a.mu.Lock()
	pid := a.supervisor.PID()
	a.mu.Unlock()
	proc, err := os.FindProcess(pid)
	require.NoError(t, err)
	require.NoError(t, proc.Kill())
	waitForEvent(t, ch, models.EventTypeBackendNotice)
	require.False(t, a.Ready())

	require.NoError(t, a.Start(ctx))
	require.Same(t, manager, a.Runs())

	_, err = a.Runs().Start(ctx, runs.Request{RunID: "slow-2", Model: "slow", Args: map[string]any{}, Workspace: t.TempDir()})
	require.ErrorIs(t, err, runs.ErrRunActive)
	active, ok := a.Runs().Active()
	require.True(t, ok)
	require.Equal(t, "slow-1", active.ID)

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(shutdownCtx))

	select {
	case <-slow.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run outlived shutdown")
	}
	require.Equal(t, models.RunStatusKilled, slow.Run().Status)
}

func TestWindowRegistersChannelTable(t *testing.T) {
	a := newTestApp(t, testConfig(t), Options{})
	ctx := context.Background()
	require.NoError(t, a.Start(ctx))

	want := []string{
		"download-url",
		"invest-kill",
		"invest-run",
		"is-first-run",
		"show-context-menu",
		"show-open-dialog",
		"show-save-dialog",
	}
	table := append(bridge.HandleChannels(), bridge.ListenerChannels()...)
	sort.Strings(table)
	require.Equal(t, want, table)

	for cycle := 0; cycle < 3; cycle++ {
		require.NoError(t, a.CreateWindow(ctx))
		require.Equal(t, want, a.bridge.Channels(), "cycle %d", cycle)

		require.NoError(t, a.DestroyWindow(ctx))
		require.Empty(t, a.bridge.Channels(), "cycle %d", cycle)
	}
}
