package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tOgg1/workbench/internal/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func echoHandler(_ context.Context, payload json.RawMessage) (any, error) {
	var v map[string]any
	if err := Decode(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func TestRegisterIsAtomic(t *testing.T) {
	b := New()
	require.NoError(t, b.Register(Registration{
		Handlers: map[string]HandlerFunc{ChannelIsFirstRun: echoHandler},
	}))

	err := b.Register(Registration{
		Handlers: map[string]HandlerFunc{ChannelShowOpenDialog: echoHandler},
		Listeners: map[string]ListenerFunc{
			ChannelInvestRun:  func(context.Context, json.RawMessage) {},
			ChannelIsFirstRun: func(context.Context, json.RawMessage) {},
		},
	})
	require.ErrorIs(t, err, ErrChannelRegistered)
	require.Equal(t, []string{ChannelIsFirstRun}, b.Channels())
}

func TestRegisterRejectsSameNameTwice(t *testing.T) {
	b := New()
	err := b.Register(Registration{
		Handlers:  map[string]HandlerFunc{"x": echoHandler},
		Listeners: map[string]ListenerFunc{"x": func(context.Context, json.RawMessage) {}},
	})
	require.ErrorIs(t, err, ErrChannelRegistered)
	require.Empty(t, b.Channels())
}

func TestUnregisterRemovesEverything(t *testing.T) {
	b := New()
	reg := Registration{
		Handlers:  map[string]HandlerFunc{ChannelIsFirstRun: echoHandler},
		Listeners: map[string]ListenerFunc{ChannelInvestKill: func(context.Context, json.RawMessage) {}},
	}
	require.NoError(t, b.Register(reg))
	b.Unregister()
	require.Empty(t, b.Channels())

	_, err := b.Invoke(context.Background(), ChannelIsFirstRun, nil)
	require.ErrorIs(t, err, ErrUnknownChannel)
	require.ErrorIs(t, b.Send(ChannelInvestKill, nil), ErrUnknownChannel)

	// The same table can be installed again by a new window.
	require.NoError(t, b.Register(reg))
	b.Unregister()
}

func TestInvokeReturnsHandlerResult(t *testing.T) {
	b := New()
	require.NoError(t, b.Register(Registration{
		Handlers: map[string]HandlerFunc{"echo": echoHandler},
	}))

	got, err := b.Invoke(context.Background(), "echo", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": float64(1)}, got)

	_, err = b.Invoke(context.Background(), "echo", json.RawMessage(`[`))
	require.Error(t, err)
}

func TestInvokeRecoversPanic(t *testing.T) {
	b := New()
	var calls atomic.Int32
	require.NoError(t, b.Register(Registration{
		Handlers: map[string]HandlerFunc{"boom": func(context.Context, json.RawMessage) (any, error) {
			calls.Add(1)
			panic("kaput")
		}},
	}))

	got, err := b.Invoke(context.Background(), "boom", nil)
	require.ErrorIs(t, err, ErrHandlerPanic)
	require.Contains(t, err.Error(), "kaput")
	require.Nil(t, got)
	require.Equal(t, int32(1), calls.Load())
}

func TestSendRunsListenerAsync(t *testing.T) {
	b := New()
	release := make(chan struct{})
	got := make(chan string, 1)
	require.NoError(t, b.Register(Registration{
		Listeners: map[string]ListenerFunc{ChannelInvestKill: func(_ context.Context, payload json.RawMessage) {
			<-release
			var req KillRequest
			_ = Decode(payload, &req)
			got <- req.RunID
		}},
	}))

	require.NoError(t, b.Send(ChannelInvestKill, json.RawMessage(`{"run_id":"r1"}`)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, b.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, b.Wait(context.Background()))
	require.Equal(t, "r1", <-got)
	b.Unregister()
}

func TestChannelLoggerInContext(t *testing.T) {
	var buf bytes.Buffer
	b := New()
	b.logger = zerolog.New(&buf)

	logFrom := func(ctx context.Context, msg string) {
		logger := logging.FromContext(ctx)
		logger.Info().Msg(msg)
	}
	require.NoError(t, b.Register(Registration{
		Handlers: map[string]HandlerFunc{ChannelIsFirstRun: func(ctx context.Context, _ json.RawMessage) (any, error) {
			logFrom(ctx, "handled")
			return true, nil
		}},
		Listeners: map[string]ListenerFunc{ChannelInvestKill: func(ctx context.Context, _ json.RawMessage) {
			logFrom(ctx, "heard")
		}},
	}))

	_, err := b.Invoke(context.Background(), ChannelIsFirstRun, nil)
	require.NoError(t, err)
	require.NoError(t, b.Send(ChannelInvestKill, nil))
	require.NoError(t, b.Wait(context.Background()))
	b.Unregister()

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var entries []map[string]any
	for _, line := range lines {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["message"] == "handled" || entry["message"] == "heard" {
			entries = append(entries, entry)
		}
	}
	require.Len(t, entries, 2)
	require.Equal(t, ChannelIsFirstRun, entries[0]["channel"])
	require.Equal(t, ChannelInvestKill, entries[1]["channel"])
}

func TestUnregisterCancelsListenerContext(t *testing.T) {
	b := New()
	started := make(chan struct{})
	require.NoError(t, b.Register(Registration{
		Listeners: map[string]ListenerFunc{"long": func(ctx context.Context, _ json.RawMessage) {
			close(started)
			<-ctx.Done()
		}},
	}))
	require.NoError(t, b.Send("long", nil))
	<-started

	b.Unregister()
	require.NoError(t, b.Wait(context.Background()))
}

func TestSendRecoversListenerPanic(t *testing.T) {
	b := New()
	require.NoError(t, b.Register(Registration{
		Listeners: map[string]ListenerFunc{"boom": func(context.Context, json.RawMessage) {
			panic(errors.New("kaput"))
		}},
	}))
	require.NoError(t, b.Send("boom", nil))
	require.NoError(t, b.Wait(context.Background()))
	b.Unregister()
}

func TestChannelTables(t *testing.T) {
	require.ElementsMatch(t, []string{"show-open-dialog", "show-save-dialog", "is-first-run"}, HandleChannels())
	require.ElementsMatch(t, []string{"download-url", "invest-run", "invest-kill", "show-context-menu"}, ListenerChannels())
}

func TestDecodeEmptyPayload(t *testing.T) {
	req := KillRequest{RunID: "keep"}
	require.NoError(t, Decode(nil, &req))
	require.NoError(t, Decode(json.RawMessage("null"), &req))
	require.Equal(t, "keep", req.RunID)
}
