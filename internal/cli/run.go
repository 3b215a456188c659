package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tOgg1/workbench/internal/datastack"
	"github.com/tOgg1/workbench/internal/events"
	"github.com/tOgg1/workbench/internal/models"
	"github.com/tOgg1/workbench/internal/runs"
)

func newRunCmd(st *rootState) *cobra.Command {
	var (
		datastackPath string
		workspace     string
	)

	cmd := &cobra.Command{
		Use:         "run <model>",
		Short:       "Validate a parameter set and run a model headless",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{annotationLogFile: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			model := args[0]
			ps, err := datastack.Load(datastackPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// A one-shot run must not collide with the health port of a
			// running workbench.
			cfg := *st.cfg
			cfg.Health.Enabled = false

			a, err := startApp(ctx, &cfg, st.version)
			if err != nil {
				return err
			}
			defer shutdownApp(a, &cfg)

			client := a.Client()
			spec, err := client.Spec(ctx, model)
			if err != nil {
				return fmt.Errorf("fetch %s spec: %w", model, err)
			}
			form := models.NewForm(spec)
			if err := form.ApplyParameterSet(ps); err != nil {
				return err
			}
			if workspace != "" {
				if err := form.Set("workspace_dir", workspace); err != nil {
					return err
				}
			}
			warnings, err := client.Validate(ctx, spec.Module, form.Values(), "")
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			form.ApplyValidation(warnings)
			if err := form.Err(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "invalid arguments:\n%v\n", err)
				return &ExitError{Code: 1, Err: err, Printed: true}
			}

			runID := uuid.NewString()
			feed, err := a.Publisher().SubscribeChan("cli-run-"+runID, events.Filter{
				RunID: runID,
				EventTypes: []models.EventType{
					models.EventTypeRunStdout,
					models.EventTypeRunLogfile,
				},
			}, 1024)
			if err != nil {
				return err
			}

			handle, err := a.Runs().Start(ctx, runs.Request{
				RunID:     runID,
				Model:     model,
				Args:      form.Values(),
				Workspace: workspace,
			})
			if err != nil {
				return err
			}

			run := streamRun(ctx, cmd.OutOrStdout(), a.Runs(), handle, feed)
			fmt.Fprintf(cmd.OutOrStdout(), "run %s %s", run.ID, run.Status)
			if run.LogFile != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " (log: %s)", run.LogFile)
			}
			fmt.Fprintln(cmd.OutOrStdout())

			if run.Status != models.RunStatusSucceeded {
				code := 1
				if run.ExitCode != nil && *run.ExitCode > 0 {
					code = *run.ExitCode
				}
				return &ExitError{Code: code, Err: fmt.Errorf("run %s", run.Status), Printed: true}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&datastackPath, "datastack", "d", "", "parameter set file")
	cmd.Flags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (overrides the parameter set)")
	_ = cmd.MarkFlagRequired("datastack")
	return cmd
}

// streamRun prints backend output until the run finishes. Cancelling ctx
// kills the run and keeps waiting for it to exit.
func streamRun(ctx context.Context, out io.Writer, manager *runs.Manager, handle *runs.Handle, feed <-chan *models.Event) models.Run {
	done := ctx.Done()
	for {
		select {
		case <-done:
			done = nil
			if err := manager.Kill(handle.ID()); err != nil && !errors.Is(err, runs.ErrNoActiveRun) {
				fmt.Fprintf(out, "kill: %v\n", err)
			}
		case ev, ok := <-feed:
			if !ok {
				feed = nil
				continue
			}
			printRunEvent(out, ev)
		case <-handle.Done():
			for {
				select {
				case ev, ok := <-feed:
					if !ok {
						return handle.Run()
					}
					printRunEvent(out, ev)
				default:
					return handle.Run()
				}
			}
		}
	}
}

func printRunEvent(out io.Writer, ev *models.Event) {
	switch ev.Type {
	case models.EventTypeRunStdout:
		if line, ok := ev.Payload["line"].(string); ok {
			fmt.Fprintln(out, line)
		}
	case models.EventTypeRunLogfile:
		if path, ok := ev.Payload["path"].(string); ok {
			fmt.Fprintf(out, "logging to %s\n", path)
		}
	}
}
