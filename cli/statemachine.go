package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"airlock.evalgo.org/request"
)

func init() {
	RootCmd.AddCommand(statemachineCmd)
	statemachineCmd.Flags().StringP("out", "o", "", "write the diagram to this file instead of stdout")
}

var statemachineCmd = &cobra.Command{
	Use:   "statemachine",
	Short: "print the request status diagram",
	Long: `Renders the request status transition table as a mermaid state
diagram, for embedding in documentation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		doc := request.MermaidDiagram()
		if out, _ := cmd.Flags().GetString("out"); out != "" {
			return os.WriteFile(out, []byte(doc), 0o644)
		}
		fmt.Fprint(cmd.OutOrStdout(), doc)
		return nil
	},
}
