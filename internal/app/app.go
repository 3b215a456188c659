// Package app owns the single backend process and the single renderer
// window, and wires them to the rest of the workbench.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tOgg1/workbench/internal/appstate"
	"github.com/tOgg1/workbench/internal/backend"
	"github.com/tOgg1/workbench/internal/bridge"
	"github.com/tOgg1/workbench/internal/config"
	"github.com/tOgg1/workbench/internal/db"
	"github.com/tOgg1/workbench/internal/dialogs"
	"github.com/tOgg1/workbench/internal/download"
	"github.com/tOgg1/workbench/internal/events"
	"github.com/tOgg1/workbench/internal/healthsrv"
	"github.com/tOgg1/workbench/internal/locator"
	"github.com/tOgg1/workbench/internal/logging"
	"github.com/tOgg1/workbench/internal/models"
	"github.com/tOgg1/workbench/internal/runs"
	"github.com/tOgg1/workbench/internal/supervisor"
)

var (
	// ErrNotStarted is returned when the backend has not become ready.
	ErrNotStarted = errors.New("backend not started")
	// ErrWindowExists is returned by CreateWindow when a window is open.
	ErrWindowExists = errors.New("window already exists")
	// ErrNoWindow is returned by DestroyWindow when no window is open.
	ErrNoWindow = errors.New("no window")
)

// StartupError reports a failure that prevents the app from running.
type StartupError struct {
	Stage string
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed during %s: %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// BinaryFinder resolves the backend executable.
type BinaryFinder interface {
	Find(ctx context.Context) (locator.Binary, error)
}

// Options overrides the collaborators New would otherwise build from the
// configuration.
type Options struct {
	// Version is the workbench version reported to the renderer.
	Version string
	Finder  BinaryFinder
	Dialogs dialogs.Dialogs
	// DB is used instead of opening the configured database. The caller
	// keeps ownership.
	DB         *db.DB
	Downloader *download.Downloader
	// BackendEnv is appended to the environment of every backend process.
	BackendEnv []string
}

// App is the main-process state: at most one backend and one window.
type App struct {
	cfg  *config.Config
	opts Options

	db        *db.DB
	ownsDB    bool
	store     appstate.Store
	runsRepo  *db.RunRepository
	publisher *events.InMemoryPublisher
	bridge    *bridge.Bridge
	health    *healthsrv.Server

	servers    *errgroup.Group
	serversCtx context.Context

	mu         sync.Mutex
	binary     locator.Binary
	client     *backend.Client
	supervisor *supervisor.Supervisor
	runs       *runs.Manager
	window     *bridge.Server
	starting   bool
	ready      bool
	closed     bool

	logger zerolog.Logger
}

// New opens the state database and prepares the app. Nothing is spawned
// until Start.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if opts.Finder == nil {
		opts.Finder = &locator.Locator{
			DevMode:      cfg.Backend.DevMode,
			BuildDir:     cfg.Backend.BuildDir,
			ResourcesDir: cfg.Backend.ResourcesDir,
			Name:         cfg.Backend.ExecutableName,
		}
	}
	if opts.Dialogs == nil {
		opts.Dialogs = dialogs.Default()
	}
	if opts.Downloader == nil {
		opts.Downloader = download.New()
	}

	a := &App{
		cfg:       cfg,
		opts:      opts,
		publisher: events.NewInMemoryPublisher(),
		bridge:    bridge.New(),
		logger:    logging.Component("app"),
	}

	a.db = opts.DB
	if a.db == nil {
		path := cfg.DatabasePath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		database, err := db.Open(ctx, path, cfg.Database.BusyTimeoutMs)
		if err != nil {
			return nil, err
		}
		a.db = database
		a.ownsDB = true
	}
	a.store = appstate.NewKVStore(db.NewKVRepository(a.db))
	a.runsRepo = db.NewRunRepository(a.db)

	if n, err := a.runsRepo.MarkInterrupted(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close out interrupted runs")
	} else if n > 0 {
		a.logger.Info().Int64("runs", n).Msg("marked interrupted runs as failed")
	}

	if cfg.Health.Enabled {
		a.health = healthsrv.New()
	}

	a.servers, a.serversCtx = errgroup.WithContext(context.Background())
	return a, nil
}

// Publisher returns the event bus the renderer stream reads from.
func (a *App) Publisher() *events.InMemoryPublisher {
	return a.publisher
}

// Store returns the persisted flag store.
func (a *App) Store() appstate.Store {
	return a.store
}

// Runs returns the model run manager. It is nil before the first Start and
// then lives as long as the app, across backend restarts.
func (a *App) Runs() *runs.Manager {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runs
}

// RunHistory returns the run history repository.
func (a *App) RunHistory() *db.RunRepository {
	return a.runsRepo
}

// Binary returns the located backend executable.
func (a *App) Binary() locator.Binary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.binary
}

// Client returns the backend HTTP client. It is nil before Start.
func (a *App) Client() *backend.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client
}

// Ready reports whether the backend passed its readiness check and has not
// exited since.
func (a *App) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ready
}

// Start locates the backend, spawns it and blocks until it answers its
// readiness route. Failures are returned as *StartupError.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return errors.New("app is shut down")
	}
	if a.starting || (a.supervisor != nil && a.supervisor.State().Alive()) {
		a.mu.Unlock()
		return supervisor.ErrAlreadyRunning
	}
	a.starting = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.starting = false
		a.mu.Unlock()
	}()

	if a.health != nil {
		if err := a.startHealth(); err != nil {
			return &StartupError{Stage: "health", Err: err}
		}
	}

	bin, err := a.opts.Finder.Find(ctx)
	if err != nil {
		return &StartupError{Stage: "locate", Err: err}
	}

	port := a.cfg.Backend.Port
	client := backend.NewClient(port, a.cfg.Backend.RequestTimeout)
	var sup *supervisor.Supervisor
	sup = supervisor.New(supervisor.Options{
		Path:            bin.Path,
		Port:            port,
		Env:             a.opts.BackendEnv,
		ShutdownTimeout: a.cfg.Backend.ShutdownTimeout,
		Shutdowner:      client,
		OnExit: func(info supervisor.ExitInfo) {
			a.onBackendExit(sup, info)
		},
	})

	a.mu.Lock()
	a.binary = bin
	a.client = client
	a.supervisor = sup
	a.mu.Unlock()

	if err := sup.Start(ctx); err != nil {
		return &StartupError{Stage: "spawn", Err: err}
	}

	if err := a.waitReady(ctx, sup, client); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Backend.ShutdownTimeout+time.Second)
		defer cancel()
		if stopErr := sup.Stop(stopCtx); stopErr != nil && !errors.Is(stopErr, supervisor.ErrNotRunning) {
			a.logger.Warn().Err(stopErr).Msg("failed to stop backend after readiness failure")
		}
		return &StartupError{Stage: "ready", Err: err}
	}

	a.mu.Lock()
	if a.runs == nil {
		a.runs = runs.NewManager(runs.Options{
			ExePath:         bin.Path,
			LogLevel:        a.cfg.Runs.LogLevel,
			DatastackDir:    a.cfg.DatastackDir(),
			LogPollInterval: a.cfg.Runs.LogPollInterval,
			InvestVersion:   bin.Version.String(),
			Env:             a.opts.BackendEnv,
			Recorder:        a.runsRepo,
			Publisher:       a.publisher,
		})
	} else {
		a.runs.SetExecutable(bin.Path, bin.Version.String())
	}
	a.ready = true
	a.mu.Unlock()

	if a.health != nil {
		a.health.SetServing(true)
	}
	a.publisher.Publish(ctx, events.New(models.EventTypeBackendReady, "", map[string]any{
		"port":    port,
		"version": bin.Version.String(),
	}))
	a.logger.Info().Str("path", bin.Path).Int("port", port).Msg("backend ready")
	return nil
}

// waitReady polls the backend until it is ready, giving up early if the
// process exits.
func (a *App) waitReady(ctx context.Context, sup *supervisor.Supervisor, client *backend.Client) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	exited := make(chan struct{})
	go func() {
		select {
		case <-sup.Done():
			close(exited)
			cancel()
		case <-ctx.Done():
		}
	}()

	err := backend.WaitReady(ctx, client, a.cfg.Backend.ReadyInterval, a.cfg.Backend.ReadyTimeout)
	select {
	case <-exited:
		info, _ := sup.LastExit()
		return fmt.Errorf("%w: backend exited with code %d", backend.ErrNotReady, info.Code)
	default:
	}
	return err
}

func (a *App) startHealth() error {
	if a.health.Addr() != "" {
		return nil
	}
	if err := a.health.Listen(a.cfg.HealthAddr()); err != nil {
		return err
	}
	a.servers.Go(a.health.Serve)
	return nil
}

// onBackendExit handles the exit of sup. Exits of a supervisor the app no
// longer tracks are ignored.
func (a *App) onBackendExit(sup *supervisor.Supervisor, info supervisor.ExitInfo) {
	a.mu.Lock()
	if sup != a.supervisor {
		a.mu.Unlock()
		a.logger.Debug().Int("pid", info.PID).Msg("ignoring exit of replaced backend")
		return
	}
	a.ready = false
	a.mu.Unlock()

	payload := map[string]any{
		"pid":      info.PID,
		"code":     info.Code,
		"signal":   info.Signal,
		"expected": info.Expected,
	}
	a.publisher.Publish(context.Background(), events.New(models.EventTypeBackendExited, "", payload))
	if info.Expected {
		return
	}

	if a.health != nil {
		a.health.SetServing(false)
	}
	a.logger.Warn().
		Int("pid", info.PID).
		Int("code", info.Code).
		Str("signal", info.Signal).
		Msg("backend stopped unexpectedly")
	a.publisher.Publish(context.Background(), events.New(models.EventTypeBackendNotice, "", map[string]any{
		"message": "backend stopped unexpectedly",
		"code":    info.Code,
		"signal":  info.Signal,
	}))
}

// CreateWindow installs the renderer channel table and starts the bridge
// server. The backend must be ready.
func (a *App) CreateWindow(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.ready {
		return ErrNotStarted
	}
	if a.window != nil {
		return ErrWindowExists
	}

	if err := a.bridge.Register(a.registration()); err != nil {
		return err
	}
	srv := bridge.NewServer(a.bridge, a.publisher, bridge.Vars{
		ExePath:          a.binary.Path,
		BackendVersion:   a.binary.Version.String(),
		WorkbenchVersion: a.opts.Version,
		UserDataPath:     a.cfg.Global.DataDir,
		BackendURL:       a.client.BaseURL(),
	})
	if err := srv.Listen(a.cfg.BridgeAddr()); err != nil {
		a.bridge.Unregister()
		return err
	}
	a.window = srv
	a.servers.Go(srv.Serve)

	a.logger.Info().Str("addr", srv.Addr()).Msg("window created")
	return nil
}

// WindowAddr returns the bridge server address, or "" without a window.
func (a *App) WindowAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.window == nil {
		return ""
	}
	return a.window.Addr()
}

// DestroyWindow unregisters every channel, stops the bridge server and
// waits for running listeners.
func (a *App) DestroyWindow(ctx context.Context) error {
	a.mu.Lock()
	srv := a.window
	a.window = nil
	a.mu.Unlock()
	if srv == nil {
		return ErrNoWindow
	}

	a.bridge.Unregister()
	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop bridge server: %w", err))
	}
	if err := a.bridge.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait for listeners: %w", err))
	}
	a.logger.Info().Msg("window destroyed")
	return errors.Join(errs...)
}

// Shutdown tears everything down in order: window, model runs, backend,
// health service, event bus and database. It is safe to call twice.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	manager := a.runs
	sup := a.supervisor
	client := a.client
	a.mu.Unlock()

	var errs []error
	if err := a.DestroyWindow(ctx); err != nil && !errors.Is(err, ErrNoWindow) {
		errs = append(errs, err)
	}
	if manager != nil {
		if err := manager.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop model runs: %w", err))
		}
	}
	if sup != nil {
		if err := sup.Stop(ctx); err != nil && !errors.Is(err, supervisor.ErrNotRunning) {
			errs = append(errs, fmt.Errorf("stop backend: %w", err))
		}
	}
	if a.health != nil {
		a.health.Stop()
	}
	if err := a.servers.Wait(); err != nil {
		errs = append(errs, err)
	}
	a.publisher.Close()
	if client != nil {
		client.CloseIdleConnections()
	}
	if a.ownsDB {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	a.logger.Info().Msg("shutdown complete")
	return errors.Join(errs...)
}

// Run blocks until ctx is done or a server fails, then shuts down within
// shutdownTimeout.
func (a *App) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	var cause error
	select {
	case <-ctx.Done():
	case <-a.serversCtx.Done():
		cause = context.Cause(a.serversCtx)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := a.Shutdown(shutdownCtx)
	if cause != nil && !errors.Is(cause, context.Canceled) {
		return errors.Join(cause, err)
	}
	return err
}
