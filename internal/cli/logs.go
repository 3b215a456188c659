package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tOgg1/workbench/internal/logwatch"
)

func newLogsCmd(_ *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect model run logs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "latest <workspace>",
		Short: "Print the most recent run log in a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, found, err := logwatch.FindMostRecentLogfile(args[0])
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintln(cmd.OutOrStdout(), "none found")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	})
	return cmd
}
