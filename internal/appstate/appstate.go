// Package appstate persists small application flags across launches.
package appstate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tOgg1/workbench/internal/db"
)

const (
	// KeyAppHasRun is set after the first launch.
	KeyAppHasRun = "app_has_run"
	// KeySampleDataDir records where sample data was last downloaded.
	KeySampleDataDir = "sample_data_dir"
)

// Store reads and writes string flags.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// CheckFirstRun reports whether this is the first launch and records that
// the app has now run. Only the first call for a store returns true.
func CheckFirstRun(ctx context.Context, store Store) (bool, error) {
	_, ok, err := store.Get(ctx, KeyAppHasRun)
	if err != nil {
		return false, fmt.Errorf("read first-run flag: %w", err)
	}
	if ok {
		return false, nil
	}
	if err := store.Set(ctx, KeyAppHasRun, "true"); err != nil {
		return false, fmt.Errorf("write first-run flag: %w", err)
	}
	return true, nil
}

// KVStore is a Store backed by the database kv table.
type KVStore struct {
	repo *db.KVRepository
}

// NewKVStore creates a KVStore.
func NewKVStore(repo *db.KVRepository) *KVStore {
	return &KVStore{repo: repo}
}

// Get implements Store.
func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	entry, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKVNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return entry.Value, true, nil
}

// Set implements Store.
func (s *KVStore) Set(ctx context.Context, key, value string) error {
	return s.repo.Set(ctx, key, value)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	return value, ok, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
