// Package datastack reads and writes run configuration documents.
package datastack

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tOgg1/workbench/internal/models"
)

var (
	// ErrMalformed is returned when a document is not valid JSON.
	ErrMalformed = errors.New("malformed parameter set")
	// ErrModelMismatch is returned when a document belongs to another model.
	ErrModelMismatch = models.ErrModelMismatch
)

// Parse decodes and validates a parameter set.
func Parse(data []byte) (*models.ParameterSet, error) {
	var ps models.ParameterSet
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := ps.Validate(); err != nil {
		return nil, err
	}
	return &ps, nil
}

// Load reads a parameter set from path.
func Load(path string) (*models.ParameterSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read parameter set: %w", err)
	}
	ps, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ps, nil
}

// LoadForModel reads a parameter set and rejects one written for another model.
func LoadForModel(path, model string) (*models.ParameterSet, error) {
	ps, err := Load(path)
	if err != nil {
		return nil, err
	}
	if ps.ModelName != model {
		return nil, fmt.Errorf("%s: %w: got %q, want %q", path, ErrModelMismatch, ps.ModelName, model)
	}
	return ps, nil
}

// Save writes ps to path as indented JSON, creating parent directories.
func Save(path string, ps *models.ParameterSet) error {
	if err := ps.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(ps, "", "    ")
	if err != nil {
		return fmt.Errorf("encode parameter set: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parameter set directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write parameter set: %w", err)
	}
	return nil
}
