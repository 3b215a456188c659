package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tOgg1/workbench/internal/models"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// ErrRunFinished is returned when finishing a run that already has a final status.
var ErrRunFinished = errors.New("run already finished")

// RunRepository stores model run history.
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a RunRepository.
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts run, assigning an ID and start time when unset.
func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}

	_, err := r.db.exec(ctx, `
		INSERT INTO runs (id, model, workspace, datastack_path, log_file, pid, status, exit_code, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Model,
		nullString(run.Workspace),
		run.DatastackPath,
		nullString(run.LogFile),
		nullInt(run.PID),
		string(run.Status),
		intPtr(run.ExitCode),
		run.StartedAt.Format(time.RFC3339Nano),
		timePtr(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// SetPID records the process id of a running run.
func (r *RunRepository) SetPID(ctx context.Context, id string, pid int) error {
	return r.update(ctx, `UPDATE runs SET pid = ? WHERE id = ?`, pid, id)
}

// SetLogFile records the run-log file path once it is known.
func (r *RunRepository) SetLogFile(ctx context.Context, id, path string) error {
	return r.update(ctx, `UPDATE runs SET log_file = ? WHERE id = ?`, path, id)
}

// Finish records the final status and exit code. A run that already has a
// final status is left unchanged.
func (r *RunRepository) Finish(ctx context.Context, id string, status models.RunStatus, exitCode int) error {
	if !status.Done() {
		return fmt.Errorf("%w: %q is not a final status", models.ErrInvalidRunStatus, status)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return r.db.WriteTransaction(ctx, func(tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRunNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read run: %w", err)
		}
		if models.RunStatus(current).Done() {
			return fmt.Errorf("%w: %s is %s", ErrRunFinished, id, current)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE runs SET status = ?, exit_code = ?, finished_at = ? WHERE id = ?
		`, string(status), exitCode, now, id); err != nil {
			return fmt.Errorf("failed to update run: %w", err)
		}
		return nil
	})
}

func (r *RunRepository) update(ctx context.Context, query string, args ...any) error {
	result, err := r.db.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Get returns one run by id.
func (r *RunRepository) Get(ctx context.Context, id string) (*models.Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, model, workspace, datastack_path, log_file, pid, status, exit_code, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

// ListRecent returns up to limit runs, newest first.
func (r *RunRepository) ListRecent(ctx context.Context, limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, model, workspace, datastack_path, log_file, pid, status, exit_code, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return out, nil
}

// MarkInterrupted fails every run still recorded as running. It is called
// at startup, when no run can be alive.
func (r *RunRepository) MarkInterrupted(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	result, err := r.db.exec(ctx, `
		UPDATE runs SET status = ?, finished_at = ? WHERE status = ?
	`, string(models.RunStatusFailed), now, string(models.RunStatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to mark interrupted runs: %w", err)
	}
	return result.RowsAffected()
}

func scanRun(scanner interface{ Scan(...any) error }) (*models.Run, error) {
	var (
		run        models.Run
		workspace  sql.NullString
		logFile    sql.NullString
		pid        sql.NullInt64
		status     string
		exitCode   sql.NullInt64
		startedAt  string
		finishedAt sql.NullString
	)
	if err := scanner.Scan(&run.ID, &run.Model, &workspace, &run.DatastackPath, &logFile, &pid, &status, &exitCode, &startedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Workspace = workspace.String
	run.LogFile = logFile.String
	run.PID = int(pid.Int64)
	run.Status = models.RunStatus(status)
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	run.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		run.FinishedAt = &t
	}
	return &run, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullInt(value int) any {
	if value == 0 {
		return nil
	}
	return value
}

func intPtr(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}

func timePtr(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}
