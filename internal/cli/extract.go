package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tOgg1/workbench/internal/archive"
)

func newExtractCmd(_ *rootState) *cobra.Command {
	var dest string

	cmd := &cobra.Command{
		Use:   "extract <zip>",
		Short: "Extract a downloaded sample data archive",
		Long:  "Extract a zip archive next to itself, or into --dest.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				n   int
				err error
			)
			if dest != "" {
				n, err = archive.Extract(args[0], dest)
			} else {
				n, err = archive.ExtractInPlace(args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "extracted %d files\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&dest, "dest", "", "destination directory")
	return cmd
}
