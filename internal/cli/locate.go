package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tOgg1/workbench/internal/config"
	"github.com/tOgg1/workbench/internal/locator"
)

func newLocator(cfg *config.Config) *locator.Locator {
	return &locator.Locator{
		DevMode:      cfg.Backend.DevMode,
		BuildDir:     cfg.Backend.BuildDir,
		ResourcesDir: cfg.Backend.ResourcesDir,
		Name:         cfg.Backend.ExecutableName,
	}
}

func newLocateCmd(st *rootState) *cobra.Command {
	var pathOnly bool

	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Find the backend executable and report its version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc := newLocator(st.cfg)
			if pathOnly {
				path, err := loc.Path()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			}

			bin, err := loc.Find(cmd.Context())
			if err != nil {
				return &ExitError{Code: 1, Err: err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", bin.Path, bin.Version)
			return nil
		},
	}
	cmd.Flags().BoolVar(&pathOnly, "path-only", false, "print the expected path without running the executable")
	return cmd
}
