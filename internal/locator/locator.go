// Package locator resolves and validates the backend executable.
package locator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/tOgg1/workbench/internal/logging"
)

// ErrBinaryInvalid is returned when the backend executable is missing or
// fails its version query.
var ErrBinaryInvalid = errors.New("backend binary not found or invalid")

// DefaultName is the backend executable base name.
const DefaultName = "invest"

// VersionTimeout bounds the --version query.
const VersionTimeout = 30 * time.Second

// Binary is a validated backend executable.
type Binary struct {
	Path    string
	Version Version
}

// Locator resolves the backend executable for the current mode.
type Locator struct {
	// DevMode selects BuildDir over ResourcesDir.
	DevMode bool
	// BuildDir is the development build output (default "build").
	BuildDir string
	// ResourcesDir is the packaged resources directory
	// (default <dir of own executable>/resources).
	ResourcesDir string
	// Name is the executable base name (default "invest").
	Name string
	// GOOS overrides runtime.GOOS for naming.
	GOOS string

	runVersion func(ctx context.Context, path string) (string, error)
}

// ExecutableName returns name with the platform's executable suffix.
func ExecutableName(name, goos string) string {
	if goos == "windows" && !strings.HasSuffix(strings.ToLower(name), ".exe") {
		return name + ".exe"
	}
	return name
}

// Path returns the expected executable path without validating it.
func (l *Locator) Path() (string, error) {
	name := l.Name
	if name == "" {
		name = DefaultName
	}
	goos := l.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}

	var base string
	if l.DevMode {
		base = l.BuildDir
		if base == "" {
			base = "build"
		}
	} else {
		base = l.ResourcesDir
		if base == "" {
			exe, err := os.Executable()
			if err != nil {
				return "", fmt.Errorf("resolve own executable: %w", err)
			}
			base = filepath.Join(filepath.Dir(exe), "resources")
		}
	}

	dirName := strings.TrimSuffix(name, ".exe")
	path := filepath.Join(base, dirName, ExecutableName(name, goos))
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", path, err)
		}
		path = abs
	}
	return path, nil
}

// Find resolves the executable and validates it by querying its version.
func (l *Locator) Find(ctx context.Context) (Binary, error) {
	logger := logging.Component("locator")

	path, err := l.Path()
	if err != nil {
		return Binary{}, fmt.Errorf("%w: %v", ErrBinaryInvalid, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		logger.Error().Str("path", path).Err(err).Msg("backend executable missing")
		return Binary{}, fmt.Errorf("%w: %s: %v", ErrBinaryInvalid, path, err)
	}
	if info.IsDir() {
		return Binary{}, fmt.Errorf("%w: %s is a directory", ErrBinaryInvalid, path)
	}

	run := l.runVersion
	if run == nil {
		run = queryVersion
	}
	out, err := run(ctx, path)
	if err != nil {
		logger.Error().Str("path", path).Err(err).Msg("backend version query failed")
		return Binary{}, fmt.Errorf("%w: %s: %v", ErrBinaryInvalid, path, err)
	}

	// A zero exit is what validates the executable; the version text is
	// informational and kept verbatim when it is not numeric.
	version, err := ParseVersion(out)
	if err != nil {
		version = Version{Raw: strings.TrimSpace(out)}
		logger.Warn().Str("path", path).Str("output", version.Raw).Msg("unrecognized backend version")
	}

	logger.Info().Str("path", path).Str("version", version.String()).Msg("found backend executable")
	return Binary{Path: path, Version: version}, nil
}

func queryVersion(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, VersionTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "--version")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return stdout.String(), nil
}
