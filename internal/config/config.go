// Package config handles workbench configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration structure for the workbench.
type Config struct {
	// Global settings
	Global GlobalConfig `yaml:"global" mapstructure:"global"`

	// Backend locates and supervises the modeling server.
	Backend BackendConfig `yaml:"backend" mapstructure:"backend"`

	// Bridge is the renderer-facing IPC server.
	Bridge BridgeConfig `yaml:"bridge" mapstructure:"bridge"`

	// Health is the gRPC health service.
	Health HealthConfig `yaml:"health" mapstructure:"health"`

	// Runs configures model run execution.
	Runs RunsConfig `yaml:"runs" mapstructure:"runs"`

	// Database settings
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`

	// TUI settings
	TUI TUIConfig `yaml:"tui" mapstructure:"tui"`
}

// GlobalConfig contains global workbench settings.
type GlobalConfig struct {
	// DataDir is the user data directory (default: ~/.local/share/workbench).
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConfigDir is where config files are stored (default: ~/.config/workbench).
	ConfigDir string `yaml:"config_dir" mapstructure:"config_dir"`
}

// BackendConfig contains settings for the backend executable and its HTTP API.
type BackendConfig struct {
	// Port the backend binds its HTTP API to. PORT overrides it.
	Port int `yaml:"port" mapstructure:"port"`

	// DevMode resolves the executable from BuildDir instead of ResourcesDir.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`

	// BuildDir is the development build output directory.
	BuildDir string `yaml:"build_dir" mapstructure:"build_dir"`

	// ResourcesDir is the packaged resources directory (default: <exe dir>/resources).
	ResourcesDir string `yaml:"resources_dir" mapstructure:"resources_dir"`

	// ExecutableName is the backend executable base name, without extension.
	ExecutableName string `yaml:"executable_name" mapstructure:"executable_name"`

	// ReadyInterval is the delay between readiness probes.
	ReadyInterval time.Duration `yaml:"ready_interval" mapstructure:"ready_interval"`

	// ReadyTimeout is the maximum wait for the backend to become ready.
	ReadyTimeout time.Duration `yaml:"ready_timeout" mapstructure:"ready_timeout"`

	// ShutdownTimeout bounds the wait after a shutdown request before the process is killed.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`

	// RequestTimeout bounds a single HTTP request to the backend.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
}

// BridgeConfig contains settings for the renderer bridge server.
type BridgeConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// HealthConfig contains settings for the gRPC health service.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Host    string `yaml:"host" mapstructure:"host"`
	Port    int    `yaml:"port" mapstructure:"port"`
}

// RunsConfig contains settings for model runs.
type RunsConfig struct {
	// LogLevel is passed to the backend run command (DEBUG, INFO, WARNING, ERROR).
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`

	// LogPollInterval is how often the run-log directory is re-scanned.
	LogPollInterval time.Duration `yaml:"log_poll_interval" mapstructure:"log_poll_interval"`

	// DatastackDir holds the parameter sets written for each run (default: DataDir/datastacks).
	DatastackDir string `yaml:"datastack_dir" mapstructure:"datastack_dir"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `yaml:"path" mapstructure:"path"`

	// BusyTimeoutMs is how long to wait for a locked database (milliseconds).
	BusyTimeoutMs int `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console, auto).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional application log file path (default: DataDir/logs/workbench.log).
	File string `yaml:"file" mapstructure:"file"`

	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int `yaml:"max_size_mb" mapstructure:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `yaml:"max_backups" mapstructure:"max_backups"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// TUIConfig contains settings for the run progress viewer.
type TUIConfig struct {
	// RefreshInterval is how often the viewer polls for new log text.
	RefreshInterval time.Duration `yaml:"refresh_interval" mapstructure:"refresh_interval"`

	// TailLines is how many log lines stay on screen.
	TailLines int `yaml:"tail_lines" mapstructure:"tail_lines"`
}

// DefaultPort is the backend port used when neither config nor PORT set one.
const DefaultPort = 56789

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Global: GlobalConfig{
			DataDir:   filepath.Join(homeDir, ".local", "share", "workbench"),
			ConfigDir: filepath.Join(homeDir, ".config", "workbench"),
		},
		Backend: BackendConfig{
			Port:            DefaultPort,
			DevMode:         false,
			BuildDir:        "build",
			ResourcesDir:    "", // Resolved next to the running executable
			ExecutableName:  "invest",
			ReadyInterval:   500 * time.Millisecond,
			ReadyTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  5 * time.Second,
		},
		Bridge: BridgeConfig{
			Host: "127.0.0.1",
			Port: 56788,
		},
		Health: HealthConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    56790,
		},
		Runs: RunsConfig{
			LogLevel:        "INFO",
			LogPollInterval: 500 * time.Millisecond,
		},
		Database: DatabaseConfig{
			Path:          "", // Will be set to DataDir/workbench.db
			BusyTimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "auto",
			MaxSizeMB:  20,
			MaxBackups: 3,
		},
		TUI: TUIConfig{
			RefreshInterval: 500 * time.Millisecond,
			TailLines:       20,
		},
	}
}

var validRunLogLevels = map[string]bool{"DEBUG": true, "INFO": true, "WARNING": true, "ERROR": true}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Backend.Port < 1 || c.Backend.Port > 65535 {
		return fmt.Errorf("backend.port must be between 1 and 65535")
	}
	if strings.TrimSpace(c.Backend.ExecutableName) == "" {
		return fmt.Errorf("backend.executable_name is required")
	}
	if c.Backend.ReadyInterval < 10*time.Millisecond {
		return fmt.Errorf("backend.ready_interval must be at least 10ms")
	}
	if c.Backend.ReadyTimeout < c.Backend.ReadyInterval {
		return fmt.Errorf("backend.ready_timeout must not be shorter than backend.ready_interval")
	}
	if c.Backend.ShutdownTimeout <= 0 {
		return fmt.Errorf("backend.shutdown_timeout must be positive")
	}
	if c.Bridge.Port < 0 || c.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port must be between 0 and 65535")
	}
	if c.Health.Enabled && (c.Health.Port < 0 || c.Health.Port > 65535) {
		return fmt.Errorf("health.port must be between 0 and 65535")
	}
	if !validRunLogLevels[strings.ToUpper(c.Runs.LogLevel)] {
		return fmt.Errorf("runs.log_level must be one of DEBUG, INFO, WARNING, ERROR")
	}
	if c.Runs.LogPollInterval < 10*time.Millisecond {
		return fmt.Errorf("runs.log_poll_interval must be at least 10ms")
	}
	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Global.DataDir,
		c.Global.ConfigDir,
		c.DatastackDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// DatabasePath returns the full database path.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.Global.DataDir, "workbench.db")
}

// LogFilePath returns the application log file path.
func (c *Config) LogFilePath() string {
	if c.Logging.File != "" {
		return c.Logging.File
	}
	return filepath.Join(c.Global.DataDir, "logs", "workbench.log")
}

// DatastackDir returns where per-run parameter sets are written.
func (c *Config) DatastackDir() string {
	if c.Runs.DatastackDir != "" {
		return c.Runs.DatastackDir
	}
	return filepath.Join(c.Global.DataDir, "datastacks")
}

// BridgeAddr returns the bridge listen address.
func (c *Config) BridgeAddr() string {
	return fmt.Sprintf("%s:%d", c.Bridge.Host, c.Bridge.Port)
}

// HealthAddr returns the gRPC health listen address.
func (c *Config) HealthAddr() string {
	return fmt.Sprintf("%s:%d", c.Health.Host, c.Health.Port)
}
