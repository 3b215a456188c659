package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("PORT", "")
	t.Chdir(t.TempDir())

	cfg, err := LoadDefault()
	require.NoError(t, err)
	require.Equal(t, DefaultPort, cfg.Backend.Port)
	require.Equal(t, "invest", cfg.Backend.ExecutableName)
	require.Equal(t, 500*time.Millisecond, cfg.Backend.ReadyInterval)
	require.Equal(t, "INFO", cfg.Runs.LogLevel)
	require.False(t, cfg.Backend.DevMode)
}

func TestLoadPortFromEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PORT", "51234")
	t.Chdir(t.TempDir())

	cfg, err := LoadDefault()
	require.NoError(t, err)
	require.Equal(t, 51234, cfg.Backend.Port)
}

func TestLoadDevModeFromEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("WORKBENCH_DEV", "true")
	t.Chdir(t.TempDir())

	cfg, err := LoadDefault()
	require.NoError(t, err)
	require.True(t, cfg.Backend.DevMode)
}

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
backend:
  port: 50001
  build_dir: dist
runs:
  log_level: debug
logging:
  level: warn
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	t.Setenv("WORKBENCH_LOGGING_LEVEL", "error")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 50001, cfg.Backend.Port)
	require.Equal(t, "dist", cfg.Backend.BuildDir)
	require.Equal(t, "DEBUG", cfg.Runs.LogLevel)
	require.Equal(t, "error", cfg.Logging.Level)
}

func TestLoadFromMissingFileFails(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.Port = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Runs.LogLevel = "TRACE"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Backend.ReadyTimeout = time.Millisecond
	require.Error(t, cfg.Validate())
}

func TestExpandTilde(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.Equal(t, home, expandTilde("~"))
	require.Equal(t, filepath.Join(home, "data"), expandTilde("~/data"))
	require.Equal(t, "/abs", expandTilde("/abs"))
}

func TestDerivedPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Global.DataDir = "/data"
	require.Equal(t, filepath.Join("/data", "workbench.db"), cfg.DatabasePath())
	require.Equal(t, filepath.Join("/data", "datastacks"), cfg.DatastackDir())
	require.Equal(t, filepath.Join("/data", "logs", "workbench.log"), cfg.LogFilePath())
	require.Equal(t, "127.0.0.1:56788", cfg.BridgeAddr())
}
