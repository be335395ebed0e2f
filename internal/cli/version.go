package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"labagent/internal/config"
)

// version is overridden at build time with -ldflags "-X labagent/internal/cli.version=...".
var version = config.DefaultAppVersion

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "labagent", version)
			return nil
		},
	}
}
