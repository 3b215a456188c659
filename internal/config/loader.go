package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars < CLI flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified
		if l.configFile != "" {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Unmarshal misses env values for nested keys once a file is present.
	l.applyEnvOverrides(cfg)

	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// expandPaths expands ~ in all path-related config fields.
func expandPaths(cfg *Config) {
	cfg.Global.DataDir = expandTilde(cfg.Global.DataDir)
	cfg.Global.ConfigDir = expandTilde(cfg.Global.ConfigDir)
	cfg.Backend.BuildDir = expandTilde(cfg.Backend.BuildDir)
	cfg.Backend.ResourcesDir = expandTilde(cfg.Backend.ResourcesDir)
	cfg.Runs.DatastackDir = expandTilde(cfg.Runs.DatastackDir)
	cfg.Database.Path = expandTilde(cfg.Database.Path)
	cfg.Logging.File = expandTilde(cfg.Logging.File)
}

// setupViper configures Viper with defaults and environment bindings.
func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "workbench"))
	}
	homeDir, _ := os.UserHomeDir()
	if homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "workbench"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("WORKBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	l.setDefaults(cfg)
	bindEnvVars(v)
	v.AutomaticEnv()
}

// setDefaults sets all default values in Viper.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	// Global
	v.SetDefault("global.data_dir", cfg.Global.DataDir)
	v.SetDefault("global.config_dir", cfg.Global.ConfigDir)

	// Backend
	v.SetDefault("backend.port", cfg.Backend.Port)
	v.SetDefault("backend.dev_mode", cfg.Backend.DevMode)
	v.SetDefault("backend.build_dir", cfg.Backend.BuildDir)
	v.SetDefault("backend.resources_dir", cfg.Backend.ResourcesDir)
	v.SetDefault("backend.executable_name", cfg.Backend.ExecutableName)
	v.SetDefault("backend.ready_interval", cfg.Backend.ReadyInterval)
	v.SetDefault("backend.ready_timeout", cfg.Backend.ReadyTimeout)
	v.SetDefault("backend.shutdown_timeout", cfg.Backend.ShutdownTimeout)
	v.SetDefault("backend.request_timeout", cfg.Backend.RequestTimeout)

	// Bridge
	v.SetDefault("bridge.host", cfg.Bridge.Host)
	v.SetDefault("bridge.port", cfg.Bridge.Port)

	// Health
	v.SetDefault("health.enabled", cfg.Health.Enabled)
	v.SetDefault("health.host", cfg.Health.Host)
	v.SetDefault("health.port", cfg.Health.Port)

	// Runs
	v.SetDefault("runs.log_level", cfg.Runs.LogLevel)
	v.SetDefault("runs.log_poll_interval", cfg.Runs.LogPollInterval)
	v.SetDefault("runs.datastack_dir", cfg.Runs.DatastackDir)

	// Database
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.busy_timeout_ms", cfg.Database.BusyTimeoutMs)

	// Logging
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.max_size_mb", cfg.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", cfg.Logging.MaxBackups)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)

	// TUI
	v.SetDefault("tui.refresh_interval", cfg.TUI.RefreshInterval)
	v.SetDefault("tui.tail_lines", cfg.TUI.TailLines)
}

// loadConfigFile attempts to load the configuration file.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}

	return nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Set sets a Viper value by key. Values set here take precedence over
// env vars and the config file, which is how CLI flags are applied.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}

// LoadDefault loads configuration with default search paths.
func LoadDefault() (*Config, error) {
	return NewLoader().Load()
}

// extraEnv lists env vars accepted besides the WORKBENCH_* form, highest
// precedence first.
var extraEnv = map[string][]string{
	"backend.port":     {"PORT"},
	"backend.dev_mode": {"WORKBENCH_DEV"},
}

// bindEnvVars binds environment variables for config keys.
// Viper's Unmarshal has issues with env vars on nested structs unless explicitly bound.
func bindEnvVars(v *viper.Viper) {
	envBindings := []string{
		// Global
		"global.data_dir",
		"global.config_dir",
		// Backend
		"backend.port",
		"backend.dev_mode",
		"backend.build_dir",
		"backend.resources_dir",
		"backend.executable_name",
		"backend.ready_interval",
		"backend.ready_timeout",
		"backend.shutdown_timeout",
		"backend.request_timeout",
		// Bridge
		"bridge.host",
		"bridge.port",
		// Health
		"health.enabled",
		"health.host",
		"health.port",
		// Runs
		"runs.log_level",
		"runs.log_poll_interval",
		"runs.datastack_dir",
		// Database
		"database.path",
		"database.busy_timeout_ms",
		// Logging
		"logging.level",
		"logging.format",
		"logging.file",
		"logging.max_size_mb",
		"logging.max_backups",
		"logging.enable_caller",
		// TUI
		"tui.refresh_interval",
		"tui.tail_lines",
	}

	for _, key := range envBindings {
		envVars := append([]string{}, extraEnv[key]...)
		envVars = append(envVars, "WORKBENCH_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
		_ = v.BindEnv(append([]string{key}, envVars...)...)
	}
}

// applyEnvOverrides manually applies env var overrides to the config struct.
// This is needed because Viper's Unmarshal doesn't properly merge env vars
// for nested struct fields when a config file is present.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	v := l.v

	if port := v.GetInt("backend.port"); port != 0 && port != DefaultPort {
		cfg.Backend.Port = port
	}
	if v.IsSet("backend.dev_mode") {
		cfg.Backend.DevMode = v.GetBool("backend.dev_mode")
	}
	if dir := v.GetString("backend.resources_dir"); dir != "" {
		cfg.Backend.ResourcesDir = dir
	}

	if path := v.GetString("database.path"); path != "" {
		cfg.Database.Path = path
	}
	if dataDir := v.GetString("global.data_dir"); dataDir != "" {
		cfg.Global.DataDir = dataDir
	}
	if configDir := v.GetString("global.config_dir"); configDir != "" {
		cfg.Global.ConfigDir = configDir
	}

	if level := v.GetString("logging.level"); level != "" && level != "info" {
		cfg.Logging.Level = level
	}
	if file := v.GetString("logging.file"); file != "" {
		cfg.Logging.File = file
	}
	if level := v.GetString("runs.log_level"); level != "" {
		cfg.Runs.LogLevel = strings.ToUpper(level)
	}
}
