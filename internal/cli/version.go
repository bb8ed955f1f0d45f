package cli

import (
	"fmt"

	"github.com/pscheid92/tablepulse/internal/platform/version"
	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.Get()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", info, info.GoVersion)
		},
	}
}
