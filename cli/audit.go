package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"airlock.evalgo.org/db"
)

func init() {
	RootCmd.AddCommand(auditCmd)
	auditCmd.Flags().StringP("user", "u", "", "only entries by this actor")
	auditCmd.Flags().StringP("workspace", "w", "", "only entries for this workspace")
	auditCmd.Flags().StringP("request", "r", "", "only entries for this request")
	auditCmd.Flags().Bool("hidden", false, "include hidden entries (workspace browsing)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "query the audit log",
	Long: `Prints audit log entries, newest first. Filters combine: every
flag given must match. Hidden entries (workspace view noise) are
excluded unless --hidden is set.`,
	RunE: runAudit,
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	actor, _ := cmd.Flags().GetString("user")
	workspaceName, _ := cmd.Flags().GetString("workspace")
	requestID, _ := cmd.Flags().GetString("request")
	hidden, _ := cmd.Flags().GetBool("hidden")

	entries, err := store.AuditLog(cmd.Context(), db.AuditFilter{
		Actor:         actor,
		Workspace:     workspaceName,
		RequestID:     requestID,
		IncludeHidden: hidden,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, entry := range entries {
		line := fmt.Sprintf("%s  %-28s %-12s", entry.CreatedAt.Format("2006-01-02 15:04:05"), entry.Kind, entry.Actor)
		if entry.Workspace != "" {
			line += " workspace=" + entry.Workspace
		}
		if entry.RequestID != "" {
			line += " request=" + entry.RequestID
		}
		if entry.Path != "" {
			line += " path=" + entry.Path
		}
		line += formatExtra(entry.Extra)
		fmt.Fprintln(out, line)
	}
	return nil
}

// formatExtra renders the extra detail map in stable key order.
func formatExtra(extra map[string]string) string {
	if len(extra) == 0 {
		return ""
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, extra[k])
	}
	return b.String()
}
