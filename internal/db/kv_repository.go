package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tOgg1/workbench/internal/models"
)

// ErrKVNotFound is returned when a key has no stored value.
var ErrKVNotFound = errors.New("kv not found")

// KVRepository stores application flags and settings.
type KVRepository struct {
	db *DB
}

// NewKVRepository creates a KVRepository.
func NewKVRepository(db *DB) *KVRepository {
	return &KVRepository{db: db}
}

// Set stores value under key, replacing any previous value.
func (r *KVRepository) Set(ctx context.Context, key, value string) error {
	now := time.Now().UTC()
	entry := &models.KV{
		Key:       strings.TrimSpace(key),
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid kv: %w", err)
	}

	// UPDATE then INSERT keeps the original created_at.
	result, err := r.db.exec(ctx, `
		UPDATE kv
		SET value = ?, updated_at = ?
		WHERE key = ?
	`, entry.Value, now.Format(time.RFC3339Nano), entry.Key)
	if err != nil {
		return fmt.Errorf("failed to update kv: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		return nil
	}

	_, err = r.db.exec(ctx, `
		INSERT INTO kv (key, value, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`,
		entry.Key,
		entry.Value,
		entry.CreatedAt.Format(time.RFC3339Nano),
		entry.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			// Inserted concurrently after our UPDATE; update again.
			_, err2 := r.db.exec(ctx, `
				UPDATE kv SET value = ?, updated_at = ? WHERE key = ?
			`, entry.Value, now.Format(time.RFC3339Nano), entry.Key)
			if err2 == nil {
				return nil
			}
		}
		return fmt.Errorf("failed to insert kv: %w", err)
	}
	return nil
}

// Get returns the entry for key, or ErrKVNotFound.
func (r *KVRepository) Get(ctx context.Context, key string) (*models.KV, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT key, value, created_at, updated_at
		FROM kv
		WHERE key = ?
	`, strings.TrimSpace(key))
	return scanKV(row)
}

// List returns every entry ordered by key.
func (r *KVRepository) List(ctx context.Context) ([]*models.KV, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT key, value, created_at, updated_at
		FROM kv
		ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query kv: %w", err)
	}
	defer rows.Close()

	out := make([]*models.KV, 0)
	for rows.Next() {
		entry, err := scanKV(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating kv: %w", err)
	}
	return out, nil
}

// Delete removes key, returning ErrKVNotFound when it was not set.
func (r *KVRepository) Delete(ctx context.Context, key string) error {
	result, err := r.db.exec(ctx, `DELETE FROM kv WHERE key = ?`, strings.TrimSpace(key))
	if err != nil {
		return fmt.Errorf("failed to delete kv: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrKVNotFound
	}
	return nil
}

func scanKV(scanner interface{ Scan(...any) error }) (*models.KV, error) {
	var (
		entry     models.KV
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&entry.Key, &entry.Value, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKVNotFound
		}
		return nil, fmt.Errorf("failed to scan kv: %w", err)
	}
	entry.CreatedAt = parseTime(createdAt)
	entry.UpdatedAt = parseTime(updatedAt)
	return &entry, nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
