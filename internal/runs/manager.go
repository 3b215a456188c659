// Package runs starts and kills model runs as child processes of the
// backend executable.
package runs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tOgg1/workbench/internal/datastack"
	"github.com/tOgg1/workbench/internal/events"
	"github.com/tOgg1/workbench/internal/logging"
	"github.com/tOgg1/workbench/internal/logwatch"
	"github.com/tOgg1/workbench/internal/models"
	"github.com/tOgg1/workbench/internal/procutil"
)

var (
	// ErrRunActive is returned by Start while another run is in progress.
	ErrRunActive = errors.New("a model run is already active")
	// ErrNoActiveRun is returned by Kill when nothing matches.
	ErrNoActiveRun = errors.New("no active model run")
)

const (
	outputDrainDelay = 2 * time.Second
	killGrace        = 5 * time.Second
)

// logLevelFlags maps a run log level to the backend's verbosity flag.
var logLevelFlags = map[string]string{
	"DEBUG":   "--debug",
	"INFO":    "-vvv",
	"WARNING": "-vv",
	"ERROR":   "-v",
}

// LogLevelFlag returns the command-line flag for level, defaulting to INFO.
func LogLevelFlag(level string) string {
	if flag, ok := logLevelFlags[strings.ToUpper(strings.TrimSpace(level))]; ok {
		return flag
	}
	return logLevelFlags["INFO"]
}

// Recorder persists run history.
type Recorder interface {
	Create(ctx context.Context, run *models.Run) error
	SetPID(ctx context.Context, id string, pid int) error
	SetLogFile(ctx context.Context, id, path string) error
	Finish(ctx context.Context, id string, status models.RunStatus, exitCode int) error
}

// Publisher receives run events.
type Publisher interface {
	Publish(ctx context.Context, event *models.Event)
}

// Options configures a Manager.
type Options struct {
	// ExePath is the backend executable.
	ExePath string
	// LogLevel is one of DEBUG, INFO, WARNING, ERROR.
	LogLevel string
	// DatastackDir holds the parameter set written for each run. A
	// temporary directory is used when empty.
	DatastackDir string
	// LogPollInterval is how often the workspace is re-scanned for the run
	// log.
	LogPollInterval time.Duration
	// InvestVersion is stamped into written parameter sets.
	InvestVersion string
	// Env is appended to the inherited environment.
	Env []string

	Recorder  Recorder
	Publisher Publisher
	// OnFinish is called after a run has been recorded as finished.
	OnFinish func(models.Run)
}

// Request describes a run to start.
type Request struct {
	// RunID is generated when empty.
	RunID string
	Model string
	Args  map[string]any
	// Workspace defaults to Args["workspace_dir"].
	Workspace string
}

// Manager runs at most one model at a time.
type Manager struct {
	opts Options

	mu     sync.Mutex
	active *Handle
	wg     sync.WaitGroup

	logger zerolog.Logger
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	if opts.LogPollInterval <= 0 {
		opts.LogPollInterval = logwatch.DefaultInterval
	}
	return &Manager{opts: opts, logger: logging.Component("runs")}
}

// SetExecutable points later runs at another backend executable. Runs
// already started keep the process they were spawned with.
func (m *Manager) SetExecutable(path, version string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts.ExePath = path
	m.opts.InvestVersion = version
}

// Handle tracks one started run.
type Handle struct {
	mu     sync.Mutex
	run    models.Run
	killed bool

	cmd     *exec.Cmd
	args    []string
	stdout  io.ReadCloser
	stderr  io.ReadCloser
	outputs []io.Closer
	done    chan struct{}
}

// ID returns the run id.
func (h *Handle) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run.ID
}

// Run returns a snapshot of the run record.
func (h *Handle) Run() models.Run {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run
}

// Done is closed once the run has finished and been recorded.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Start writes the run's parameter set and spawns the backend in headless
// mode. It returns once the process has been created.
func (m *Manager) Start(ctx context.Context, req Request) (*Handle, error) {
	if strings.TrimSpace(req.Model) == "" {
		return nil, errors.New("model is required")
	}
	if req.Workspace == "" {
		if ws, ok := req.Args["workspace_dir"].(string); ok {
			req.Workspace = ws
		}
	}
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}

	m.mu.Lock()
	if m.active != nil {
		id := m.active.ID()
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRunActive, id)
	}
	h, err := m.spawn(req)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.active = h
	m.mu.Unlock()

	m.track(ctx, h)
	logger := logging.WithRun(req.RunID, req.Model)
	logger.Debug().
		Fields(map[string]any{"model_args": logging.RedactMap(req.Args)}).
		Strs("env", logging.RedactEnv(m.opts.Env)).
		Msg("model arguments")
	return h, nil
}

// spawn writes the parameter set and creates the process. The caller holds
// m.mu.
func (m *Manager) spawn(req Request) (*Handle, error) {
	dsPath, err := m.writeDatastack(req)
	if err != nil {
		return nil, err
	}

	args := []string{LogLevelFlag(m.opts.LogLevel), "run", req.Model, "--headless", "-d", dsPath}
	if req.Workspace != "" {
		args = append(args, "-w", req.Workspace)
	}
	cmd := exec.Command(m.opts.ExePath, args...)
	cmd.Env = append(os.Environ(), m.opts.Env...)
	cmd.WaitDelay = outputDrainDelay
	procutil.ConfigureProcessGroup(cmd)

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	started := time.Now()
	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return nil, fmt.Errorf("start %s run: %w", req.Model, err)
	}

	return &Handle{
		run: models.Run{
			ID:            req.RunID,
			Model:         req.Model,
			Workspace:     req.Workspace,
			DatastackPath: dsPath,
			PID:           cmd.Process.Pid,
			Status:        models.RunStatusRunning,
			StartedAt:     started.UTC(),
		},
		cmd:     cmd,
		args:    args,
		stdout:  stdoutR,
		stderr:  stderrR,
		outputs: []io.Closer{stdoutW, stderrW},
		done:    make(chan struct{}),
	}, nil
}

// track records the run and starts the goroutines that stream its output,
// follow its log file and wait for it to exit.
func (m *Manager) track(ctx context.Context, h *Handle) {
	run := h.Run()
	logger := logging.WithRun(run.ID, run.Model).With().Int("pid", run.PID).Logger()
	logger.Info().Strs("args", h.args).Str("workspace", run.Workspace).Msg("model run started")

	if m.opts.Recorder != nil {
		record := run
		if err := m.opts.Recorder.Create(ctx, &record); err != nil {
			logger.Warn().Err(err).Msg("failed to record run")
		}
	}
	m.publish(models.EventTypeRunStarted, run.ID, map[string]any{
		"model":     run.Model,
		"workspace": run.Workspace,
		"pid":       run.PID,
	})

	followCtx, stopFollow := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	workers.Add(2)
	go m.forward(&workers, run.ID, "stdout", h.stdout)
	go m.forward(&workers, run.ID, "stderr", h.stderr)
	if run.Workspace != "" {
		workers.Add(1)
		go m.follow(followCtx, &workers, h, run.Workspace, run.StartedAt)
	}

	m.wg.Add(1)
	go m.wait(h, logger, &workers, stopFollow)
}

func (m *Manager) writeDatastack(req Request) (string, error) {
	dir := m.opts.DatastackDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "invest_datastack-")
		if err != nil {
			return "", fmt.Errorf("create datastack dir: %w", err)
		}
		dir = tmp
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.json", req.Model, req.RunID))
	ps := &models.ParameterSet{
		Args:          req.Args,
		ModelName:     req.Model,
		InvestVersion: m.opts.InvestVersion,
	}
	if ps.Args == nil {
		ps.Args = map[string]any{}
	}
	if err := datastack.Save(path, ps); err != nil {
		return "", err
	}
	return path, nil
}

func (m *Manager) forward(wg *sync.WaitGroup, runID, stream string, r io.ReadCloser) {
	defer wg.Done()
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		m.publish(models.EventTypeRunStdout, runID, map[string]any{
			"stream": stream,
			"line":   logging.Redact(scanner.Text()),
		})
	}
	_, _ = io.Copy(io.Discard, r)
}

func (m *Manager) follow(ctx context.Context, wg *sync.WaitGroup, h *Handle, workspace string, since time.Time) {
	defer wg.Done()

	runID := h.ID()
	follower := logwatch.NewFollower(workspace, m.opts.LogPollInterval)
	// Filesystem mtimes can be coarser than the wall clock.
	follower.Since = since.Add(-2 * time.Second)
	_ = follower.Run(ctx, func(u logwatch.Update) {
		if u.Switched {
			h.mu.Lock()
			h.run.LogFile = u.Path
			h.mu.Unlock()
			if m.opts.Recorder != nil {
				if err := m.opts.Recorder.SetLogFile(context.Background(), runID, u.Path); err != nil {
					m.logger.Debug().Err(err).Str("run_id", runID).Msg("failed to record log file")
				}
			}
			m.publish(models.EventTypeRunLogfile, runID, map[string]any{"path": u.Path})
		}
		if len(u.Lines) > 0 {
			m.publish(models.EventTypeRunLog, runID, map[string]any{
				"path":  u.Path,
				"lines": u.Lines,
			})
		}
	})
}

func (m *Manager) wait(h *Handle, logger zerolog.Logger, workers *sync.WaitGroup, stopFollow context.CancelFunc) {
	defer m.wg.Done()

	err := h.cmd.Wait()
	for _, c := range h.outputs {
		_ = c.Close()
	}
	stopFollow()
	workers.Wait()

	code := -1
	if h.cmd.ProcessState != nil {
		code = h.cmd.ProcessState.ExitCode()
	}

	h.mu.Lock()
	status := models.RunStatusFailed
	switch {
	case h.killed:
		status = models.RunStatusKilled
	case code == 0:
		status = models.RunStatusSucceeded
	}
	finished := time.Now().UTC()
	h.run.Status = status
	h.run.ExitCode = &code
	h.run.FinishedAt = &finished
	run := h.run
	h.mu.Unlock()

	var exitErr *exec.ExitError
	event := logger.Info()
	if status == models.RunStatusFailed {
		event = logger.Warn()
	}
	if err != nil && !errors.As(err, &exitErr) {
		event = logger.Error().Err(err)
	}
	event.Int("code", code).Str("status", string(status)).Msg("model run finished")

	if m.opts.Recorder != nil {
		if err := m.opts.Recorder.Finish(context.Background(), run.ID, status, code); err != nil {
			logger.Warn().Err(err).Msg("failed to record run result")
		}
	}

	m.mu.Lock()
	if m.active == h {
		m.active = nil
	}
	m.mu.Unlock()

	m.publish(models.EventTypeRunExit, run.ID, map[string]any{
		"status":    string(status),
		"exit_code": code,
		"log_file":  run.LogFile,
	})
	if m.opts.OnFinish != nil {
		m.opts.OnFinish(run)
	}
	close(h.done)
}

// Kill terminates the process tree of the active run. An empty runID
// matches whichever run is active.
func (m *Manager) Kill(runID string) error {
	m.mu.Lock()
	h := m.active
	m.mu.Unlock()
	if h == nil || (runID != "" && h.ID() != runID) {
		return ErrNoActiveRun
	}

	h.mu.Lock()
	h.killed = true
	pid := h.run.PID
	h.mu.Unlock()

	m.logger.Info().Str("run_id", h.ID()).Int("pid", pid).Msg("killing model run")
	if err := stopTree(pid); err != nil {
		m.logger.Debug().Err(err).Int("pid", pid).Msg("signal process group")
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		timer := time.NewTimer(killGrace)
		defer timer.Stop()
		select {
		case <-h.done:
		case <-timer.C:
			m.logger.Warn().Int("pid", pid).Msg("model run ignored termination, killing")
			_ = procutil.KillTree(pid)
			_ = h.cmd.Process.Kill()
		}
	}()
	return nil
}

// stopTree ends a run's process tree: SIGTERM to the group on unix, a
// forced taskkill on windows.
func stopTree(pid int) error {
	if runtime.GOOS == "windows" {
		return procutil.KillTree(pid)
	}
	return procutil.TerminateTree(pid)
}

// Active returns the run in progress, if any.
func (m *Manager) Active() (models.Run, bool) {
	m.mu.Lock()
	h := m.active
	m.mu.Unlock()
	if h == nil {
		return models.Run{}, false
	}
	return h.Run(), true
}

// Close kills any active run and waits for every run goroutine to finish
// or ctx to end.
func (m *Manager) Close(ctx context.Context) error {
	if err := m.Kill(""); err != nil && !errors.Is(err, ErrNoActiveRun) {
		return err
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) publish(eventType models.EventType, runID string, payload map[string]any) {
	if m.opts.Publisher == nil {
		return
	}
	m.opts.Publisher.Publish(context.Background(), events.New(eventType, runID, payload))
}
