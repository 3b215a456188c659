// Package supervisor spawns the backend server as a child process and
// manages its lifetime.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/workbench/internal/logging"
	"github.com/tOgg1/workbench/internal/procutil"
)

var (
	// ErrAlreadyRunning is returned by Start while a process is alive.
	ErrAlreadyRunning = errors.New("backend already running")
	// ErrNotRunning is returned by Stop when no process is alive.
	ErrNotRunning = errors.New("backend not running")
)

// DefaultShutdownTimeout is used when Options.ShutdownTimeout is zero.
const DefaultShutdownTimeout = 10 * time.Second

// Output from the child is drained for at most this long after it exits.
const outputDrainDelay = 2 * time.Second

// Shutdowner asks the backend to exit on its own.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// ExitInfo describes how the backend process terminated.
type ExitInfo struct {
	PID    int
	Code   int
	Signal string
	// Expected is true when the exit followed a call to Stop.
	Expected bool
	Err      error
}

// Options configures a Supervisor.
type Options struct {
	// Path is the backend executable.
	Path string
	// Port is passed as --port and PORT.
	Port int
	// Args overrides the default "serve --port <Port>" arguments.
	Args []string
	// Env is appended to the inherited environment.
	Env []string
	// Dir defaults to the executable's directory.
	Dir string
	// ShutdownTimeout bounds the wait after a shutdown request.
	ShutdownTimeout time.Duration
	// Shutdowner requests a graceful exit. Without one, Stop signals the
	// process group.
	Shutdowner Shutdowner
	// OnExit is called once per process, after it has exited.
	OnExit func(ExitInfo)
}

// Supervisor owns a single backend process.
type Supervisor struct {
	opts Options

	mu       sync.Mutex
	state    State
	cmd      *exec.Cmd
	pid      int
	stopping bool
	done     chan struct{}
	exit     *ExitInfo
}

// New creates a Supervisor. Nothing is spawned until Start.
func New(opts Options) *Supervisor {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Supervisor{opts: opts}
}

func (s *Supervisor) logger() zerolog.Logger {
	return logging.Component("backend")
}

// Start spawns the backend. It returns once the process has been created;
// readiness is checked separately.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Alive() {
		return ErrAlreadyRunning
	}

	args := s.opts.Args
	if args == nil {
		args = []string{"serve", "--port", strconv.Itoa(s.opts.Port)}
	}
	cmd := exec.Command(s.opts.Path, args...)
	cmd.Env = append(os.Environ(), s.opts.Env...)
	if s.opts.Port > 0 {
		cmd.Env = append(cmd.Env, fmt.Sprintf("PORT=%d", s.opts.Port))
	}
	cmd.Dir = s.opts.Dir
	if cmd.Dir == "" {
		cmd.Dir = filepath.Dir(s.opts.Path)
	}
	cmd.WaitDelay = outputDrainDelay
	procutil.ConfigureProcessGroup(cmd)

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	s.state = StateStarting
	if err := cmd.Start(); err != nil {
		s.state = StateFailed
		stdoutW.Close()
		stderrW.Close()
		logger := s.logger()
		logger.Error().Str("path", s.opts.Path).Err(err).Msg("failed to start backend")
		return fmt.Errorf("start backend %s: %w", s.opts.Path, err)
	}

	s.cmd = cmd
	s.pid = cmd.Process.Pid
	s.stopping = false
	s.exit = nil
	s.done = make(chan struct{})
	s.state = StateRunning

	logger := s.logger().With().Int("pid", s.pid).Logger()
	logger.Info().
		Str("path", s.opts.Path).
		Strs("args", args).
		Int("port", s.opts.Port).
		Strs("env", logging.RedactEnv(s.opts.Env)).
		Msg("backend started")

	var streams sync.WaitGroup
	streams.Add(2)
	go s.forward(&streams, logger, "stdout", stdoutR)
	go s.forward(&streams, logger, "stderr", stderrR)
	go s.wait(cmd, s.done, &streams, stdoutW, stderrW)

	return nil
}

// forward logs each line read from r tagged with its stream.
func (s *Supervisor) forward(wg *sync.WaitGroup, logger zerolog.Logger, stream string, r io.ReadCloser) {
	defer wg.Done()
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := logging.Redact(scanner.Text())
		if stream == "stderr" {
			logger.Warn().Str("stream", stream).Msg(line)
		} else {
			logger.Info().Str("stream", stream).Msg(line)
		}
	}
	// Keep the child from blocking on a full pipe if scanning stopped early.
	_, _ = io.Copy(io.Discard, r)
}

func (s *Supervisor) wait(cmd *exec.Cmd, done chan struct{}, streams *sync.WaitGroup, outputs ...io.Closer) {
	err := cmd.Wait()
	for _, c := range outputs {
		_ = c.Close()
	}
	streams.Wait()

	info := exitInfo(cmd, err)

	s.mu.Lock()
	info.Expected = s.stopping
	if info.Expected {
		s.state = StateStopped
	} else {
		s.state = StateFailed
	}
	s.exit = &info
	s.cmd = nil
	close(done)
	s.mu.Unlock()

	logger := s.logger()
	var event *zerolog.Event
	if info.Expected {
		event = logger.Info()
	} else {
		event = logger.Error()
	}
	event.Int("pid", info.PID).
		Int("code", info.Code).
		Str("signal", info.Signal).
		Bool("expected", info.Expected).
		Msg("backend exited")

	if s.opts.OnExit != nil {
		s.opts.OnExit(info)
	}
}

func exitInfo(cmd *exec.Cmd, err error) ExitInfo {
	info := ExitInfo{PID: cmd.Process.Pid, Code: -1}
	if cmd.ProcessState != nil {
		info.Code = cmd.ProcessState.ExitCode()
		if status, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			info.Signal = status.Signal().String()
		}
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		info.Err = err
	}
	return info
}

// Stop asks the backend to shut down, waits up to the shutdown timeout and
// then kills the process tree. It returns once the process has exited.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStarting && s.state != StateRunning {
		alive := s.state.Alive()
		done := s.done
		s.mu.Unlock()
		if alive && done != nil {
			// Another Stop is in progress.
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return ErrNotRunning
	}
	s.stopping = true
	s.state = StateStopping
	pid := s.pid
	cmd := s.cmd
	done := s.done
	s.mu.Unlock()

	logger := s.logger().With().Int("pid", pid).Logger()
	logger.Info().Msg("stopping backend")

	if s.opts.Shutdowner != nil {
		reqCtx, cancel := context.WithTimeout(ctx, s.opts.ShutdownTimeout)
		err := s.opts.Shutdowner.Shutdown(reqCtx)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("shutdown request failed")
		}
	} else if err := procutil.TerminateTree(pid); err != nil {
		logger.Warn().Err(err).Msg("failed to signal backend")
	}

	timer := time.NewTimer(s.opts.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		logger.Warn().Dur("timeout", s.opts.ShutdownTimeout).Msg("backend did not exit in time, killing")
	case <-ctx.Done():
		logger.Warn().Err(ctx.Err()).Msg("stop cancelled, killing backend")
	}

	if err := procutil.KillTree(pid); err != nil {
		logger.Debug().Err(err).Msg("kill process group")
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	<-done
	return nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID returns the pid of the current or last process, or 0.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// Done is closed when the current process exits. It is nil before Start.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// LastExit returns how the last process terminated.
func (s *Supervisor) LastExit() (ExitInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exit == nil {
		return ExitInfo{}, false
	}
	return *s.exit, true
}
