package models

import (
	"errors"
	"strings"
	"time"
)

// RunStatus is the lifecycle state of a model run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusKilled    RunStatus = "killed"
)

// ErrInvalidRunStatus is returned for a status outside the known set.
var ErrInvalidRunStatus = errors.New("invalid run status")

// Done reports whether the run has finished.
func (s RunStatus) Done() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusKilled
}

func (s RunStatus) valid() bool {
	return s == RunStatusRunning || s.Done()
}

// Run is one model execution.
type Run struct {
	ID            string     `json:"id"`
	Model         string     `json:"model"`
	Workspace     string     `json:"workspace,omitempty"`
	DatastackPath string     `json:"datastack_path"`
	LogFile       string     `json:"log_file,omitempty"`
	PID           int        `json:"pid,omitempty"`
	Status        RunStatus  `json:"status"`
	ExitCode      *int       `json:"exit_code,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

// Validate checks the required fields.
func (r *Run) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(r.Model) == "" {
		validation.AddMessage("model", "model is required")
	}
	if strings.TrimSpace(r.DatastackPath) == "" {
		validation.AddMessage("datastack_path", "datastack_path is required")
	}
	if !r.Status.valid() {
		validation.Add("status", ErrInvalidRunStatus)
	}
	return validation.Err()
}
