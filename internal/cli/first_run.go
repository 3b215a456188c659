package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tOgg1/workbench/internal/appstate"
	"github.com/tOgg1/workbench/internal/db"
)

func newFirstRunCmd(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "first-run",
		Short: "Report whether this is the first launch, then record the launch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := st.cfg.DatabasePath()
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
			database, err := db.Open(cmd.Context(), path, st.cfg.Database.BusyTimeoutMs)
			if err != nil {
				return err
			}
			defer database.Close()

			first, err := appstate.CheckFirstRun(cmd.Context(), appstate.NewKVStore(db.NewKVRepository(database)))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "first run: %t\n", first)
			return nil
		},
	}
}
