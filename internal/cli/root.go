// Package cli implements the workbench command line.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tOgg1/workbench/internal/config"
	"github.com/tOgg1/workbench/internal/logging"
)

// Commands carrying this annotation also log to the rotated application log file.
const annotationLogFile = "workbench/log-file"

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
	// Printed is set when the command already reported the failure.
	Printed bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

type rootState struct {
	version    string
	configFile string
	logLevel   string
	logFormat  string
	dev        bool

	cfg    *config.Config
	closer io.Closer
}

func (s *rootState) close() {
	if s.closer != nil {
		_ = s.closer.Close()
		s.closer = nil
	}
}

// Execute runs the workbench command line.
func Execute(version string) error {
	st := &rootState{version: version}
	defer st.close()
	return newRootCmd(st).ExecuteContext(context.Background())
}

func newRootCmd(st *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "workbench",
		Short:         "Desktop workbench for InVEST models",
		Long:          "workbench launches the InVEST backend, serves the renderer bridge and runs models.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       st.version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return st.init(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&st.configFile, "config", "", "config file (default: ~/.config/workbench/config.yaml)")
	flags.StringVar(&st.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&st.logFormat, "log-format", "", "log format (json, console, auto)")
	flags.BoolVar(&st.dev, "dev", false, "resolve the backend from the development build directory")

	cmd.AddCommand(
		newServeCmd(st),
		newLocateCmd(st),
		newLogsCmd(st),
		newWatchCmd(st),
		newExtractCmd(st),
		newStatusCmd(st),
		newRunCmd(st),
		newFirstRunCmd(st),
	)

	return cmd
}

func (s *rootState) init(cmd *cobra.Command) error {
	loader := config.NewLoader()
	if s.configFile != "" {
		loader.SetConfigFile(s.configFile)
	}
	flags := cmd.Flags()
	if flags.Changed("dev") {
		loader.Set("backend.dev_mode", s.dev)
	}
	if flags.Changed("log-level") {
		loader.Set("logging.level", s.logLevel)
	}
	if flags.Changed("log-format") {
		loader.Set("logging.format", s.logFormat)
	}

	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	s.cfg = cfg

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.Output = cmd.ErrOrStderr()
	logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
	logCfg.MaxBackups = cfg.Logging.MaxBackups
	logCfg.EnableCaller = cfg.Logging.EnableCaller
	if cmd.Annotations[annotationLogFile] == "true" {
		logCfg.File = cfg.LogFilePath()
	}
	s.close()
	s.closer = logging.Init(logCfg)

	if used := loader.ConfigFileUsed(); used != "" {
		logger := logging.Component("cli")
		logger.Debug().Str("path", used).Msg("loaded config file")
	}
	return nil
}
