package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tOgg1/workbench/internal/logwatch"
	"github.com/tOgg1/workbench/internal/tui"
)

func newWatchCmd(st *rootState) *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "watch <workspace>",
		Short: "Follow the newest run log in a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			if plain || !isTerminal(out) {
				return followPlain(ctx, out, args[0], st.cfg.TUI.RefreshInterval)
			}
			return tui.Run(ctx, tui.Config{
				Dir:             args[0],
				RefreshInterval: st.cfg.TUI.RefreshInterval,
				TailLines:       st.cfg.TUI.TailLines,
			})
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "print lines instead of the interactive view")
	return cmd
}

// followPlain prints each new run-log line until ctx is done.
func followPlain(ctx context.Context, out io.Writer, dir string, interval time.Duration) error {
	follower := logwatch.NewFollower(dir, interval)
	err := follower.Run(ctx, func(u logwatch.Update) {
		if u.Switched {
			fmt.Fprintf(out, "==> %s <==\n", u.Path)
		}
		for _, line := range u.Lines {
			fmt.Fprintln(out, line)
		}
	})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
