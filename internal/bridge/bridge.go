// Package bridge relays renderer requests to main-process handlers.
//
// Channels come in two kinds: request/response channels answered by a
// HandlerFunc, and one-way channels delivered to a ListenerFunc. A window
// installs its whole channel table with Register and removes it with
// Unregister.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tOgg1/workbench/internal/logging"
)

// Request/response channels.
const (
	ChannelShowOpenDialog = "show-open-dialog"
	ChannelShowSaveDialog = "show-save-dialog"
	ChannelIsFirstRun     = "is-first-run"
)

// One-way channels.
const (
	ChannelDownloadURL     = "download-url"
	ChannelInvestRun       = "invest-run"
	ChannelInvestKill      = "invest-kill"
	ChannelShowContextMenu = "show-context-menu"
)

// HandleChannels lists the request/response channels of a window.
func HandleChannels() []string {
	return []string{ChannelShowOpenDialog, ChannelShowSaveDialog, ChannelIsFirstRun}
}

// ListenerChannels lists the one-way channels of a window.
func ListenerChannels() []string {
	return []string{ChannelDownloadURL, ChannelInvestRun, ChannelInvestKill, ChannelShowContextMenu}
}

var (
	ErrChannelRegistered = errors.New("channel already registered")
	ErrUnknownChannel    = errors.New("unknown channel")
	ErrHandlerPanic      = errors.New("handler panicked")
	ErrEmptyChannel      = errors.New("channel name is required")
)

// HandlerFunc answers a request/response channel.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// ListenerFunc consumes a one-way channel.
type ListenerFunc func(ctx context.Context, payload json.RawMessage)

// Registration is a window's channel table.
type Registration struct {
	Handlers  map[string]HandlerFunc
	Listeners map[string]ListenerFunc
}

// Bridge dispatches renderer messages by channel name.
type Bridge struct {
	mu        sync.RWMutex
	handlers  map[string]HandlerFunc
	listeners map[string]ListenerFunc

	// listenCtx outlives the request that triggered a Send and is canceled
	// by Unregister.
	listenCtx    context.Context
	listenCancel context.CancelFunc
	inflight     sync.WaitGroup

	logger zerolog.Logger
}

// New returns an empty bridge.
func New() *Bridge {
	return &Bridge{
		handlers:  make(map[string]HandlerFunc),
		listeners: make(map[string]ListenerFunc),
		logger:    logging.Component("bridge"),
	}
}

// Register installs every channel of reg. Nothing is installed if any
// channel is already registered.
func (b *Bridge) Register(reg Registration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for name, h := range reg.Handlers {
		if name == "" {
			return ErrEmptyChannel
		}
		if h == nil {
			return fmt.Errorf("channel %q: nil handler", name)
		}
		if b.registeredLocked(name) {
			return fmt.Errorf("%w: %s", ErrChannelRegistered, name)
		}
	}
	for name, l := range reg.Listeners {
		if name == "" {
			return ErrEmptyChannel
		}
		if l == nil {
			return fmt.Errorf("channel %q: nil listener", name)
		}
		if _, dup := reg.Handlers[name]; dup || b.registeredLocked(name) {
			return fmt.Errorf("%w: %s", ErrChannelRegistered, name)
		}
	}

	for name, h := range reg.Handlers {
		b.handlers[name] = h
	}
	for name, l := range reg.Listeners {
		b.listeners[name] = l
	}
	if b.listenCtx == nil {
		b.listenCtx, b.listenCancel = context.WithCancel(context.Background())
	}

	b.logger.Debug().
		Int("handlers", len(reg.Handlers)).
		Int("listeners", len(reg.Listeners)).
		Msg("channels registered")
	return nil
}

func (b *Bridge) registeredLocked(name string) bool {
	if _, ok := b.handlers[name]; ok {
		return true
	}
	_, ok := b.listeners[name]
	return ok
}

// Unregister removes every handler and listener and cancels the context
// handed to running listeners.
func (b *Bridge) Unregister() {
	b.mu.Lock()
	b.handlers = make(map[string]HandlerFunc)
	b.listeners = make(map[string]ListenerFunc)
	cancel := b.listenCancel
	b.listenCtx, b.listenCancel = nil, nil
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.logger.Debug().Msg("channels unregistered")
}

// Channels returns the registered channel names, sorted.
func (b *Bridge) Channels() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.handlers)+len(b.listeners))
	for name := range b.handlers {
		names = append(names, name)
	}
	for name := range b.listeners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke calls the handler for channel and returns its reply. A panic in
// the handler is returned as an error wrapping ErrHandlerPanic.
func (b *Bridge) Invoke(ctx context.Context, channel string, payload json.RawMessage) (result any, err error) {
	b.mu.RLock()
	h, ok := b.handlers[channel]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("channel", channel).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
			result, err = nil, fmt.Errorf("%w: %s: %v", ErrHandlerPanic, channel, r)
		}
	}()
	return h(b.channelContext(ctx, channel), payload)
}

// channelContext attaches a logger tagged with channel to ctx.
func (b *Bridge) channelContext(ctx context.Context, channel string) context.Context {
	return logging.WithContext(ctx, b.logger.With().Str("channel", channel).Logger())
}

// Send delivers payload to the listener for channel on its own goroutine.
// It returns once the listener is scheduled.
func (b *Bridge) Send(channel string, payload json.RawMessage) error {
	b.mu.RLock()
	l, ok := b.listeners[channel]
	ctx := b.listenCtx
	if ok {
		b.inflight.Add(1)
	}
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	ctx = b.channelContext(ctx, channel)

	go func() {
		defer b.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error().
					Str("channel", channel).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("listener panicked")
			}
		}()
		l(ctx, payload)
	}()
	return nil
}

// Wait blocks until every listener started by Send has returned or ctx is
// done.
func (b *Bridge) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
