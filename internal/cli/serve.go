package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tOgg1/workbench/internal/app"
	"github.com/tOgg1/workbench/internal/config"
	"github.com/tOgg1/workbench/internal/logging"
)

func newServeCmd(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:         "serve",
		Short:       "Start the backend and serve the renderer bridge",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationLogFile: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := startApp(ctx, st.cfg, st.version)
			if err != nil {
				return err
			}
			if err := a.CreateWindow(ctx); err != nil {
				shutdownApp(a, st.cfg)
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "backend %s ready at %s\n", a.Binary().Version, a.Client().BaseURL())
			fmt.Fprintf(cmd.OutOrStdout(), "bridge listening on http://%s\n", a.WindowAddr())

			return a.Run(ctx, shutdownTimeout(st.cfg))
		},
	}
}

// startApp opens the app and brings the backend up. Startup failures are
// reported as exit code 1 after the app has been torn down.
func startApp(ctx context.Context, cfg *config.Config, version string) (*app.App, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg, app.Options{Version: version})
	if err != nil {
		return nil, err
	}
	if err := a.Start(ctx); err != nil {
		shutdownApp(a, cfg)
		var startErr *app.StartupError
		if errors.As(err, &startErr) {
			return nil, &ExitError{Code: 1, Err: err}
		}
		return nil, err
	}
	return a, nil
}

// shutdownTimeout leaves room for the backend's own graceful stop plus the
// model run teardown that precedes it.
func shutdownTimeout(cfg *config.Config) time.Duration {
	return 2*cfg.Backend.ShutdownTimeout + 5*time.Second
}

func shutdownApp(a *app.App, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		logger := logging.Component("cli")
		logger.Warn().Err(err).Msg("shutdown failed")
	}
}
