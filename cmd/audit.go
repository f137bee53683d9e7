package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kozaktomas/face-auth/internal/constants"
	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent login attempts",
	Long:  `Prints the most recent audit entries, newest first, optionally for one identity.`,
	RunE:  runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().Int("limit", constants.DefaultAuditLimit, "Maximum number of entries")
	auditCmd.Flags().String("identity", "", "Only show entries of this identity ID")
	auditCmd.Flags().Bool("json", false, "Output as JSON")
}

func runAudit(cmd *cobra.Command, args []string) error {
	limit := mustGetInt(cmd, "limit")
	identityID := mustGetString(cmd, "identity")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, log := loadConfig()
	defer log.Sync()

	ctx := context.Background()
	svc, err := newServices(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer svc.close()

	entries, err := svc.audit.QueryRecent(ctx, limit, identityID)
	if err != nil {
		return fmt.Errorf("failed to query audit log: %w", err)
	}

	if jsonOutput {
		return outputJSON(entries)
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tUSERNAME\tIDENTITY\tOUTCOME\tREASON")
	fmt.Fprintln(w, "----\t--------\t--------\t-------\t------")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.Username, e.IdentityID, e.Outcome, e.Reason)
	}
	w.Flush()
	return nil
}
