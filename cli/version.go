package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"airlock.evalgo.org/version"
)

func init() {
	RootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("deps", false, "also list dependency versions")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the airlock version",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		info := version.GetBuildInfo()
		fmt.Fprintf(out, "airlock %s (%s)\n", version.GetAirlockVersion(), info.GoVersion)
		if deps, _ := cmd.Flags().GetBool("deps"); deps {
			for _, dep := range info.Dependencies {
				fmt.Fprintf(out, "  %s %s\n", dep.Path, dep.Version)
			}
		}
		return nil
	},
}
