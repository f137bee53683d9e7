package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kozaktomas/face-auth/internal/constants"
	"github.com/spf13/cobra"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage enrolled identities",
}

var identityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled identities",
	RunE:  runIdentityList,
}

var identityDeleteCmd = &cobra.Command{
	Use:   "delete [identity-id]",
	Short: "Delete an identity with its descriptors, sessions and archived captures",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentityDelete,
}

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(identityListCmd)
	identityCmd.AddCommand(identityDeleteCmd)

	identityListCmd.Flags().Int("limit", constants.DefaultHandlerPageSize, "Maximum number of identities")
	identityListCmd.Flags().Int("offset", 0, "Number of identities to skip")
	identityListCmd.Flags().Bool("json", false, "Output as JSON")
}

type identityRow struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

func runIdentityList(cmd *cobra.Command, args []string) error {
	limit := mustGetInt(cmd, "limit")
	offset := mustGetInt(cmd, "offset")
	jsonOutput := mustGetBool(cmd, "json")

	cfg, log := loadConfig()
	defer log.Sync()

	ctx := context.Background()
	svc, err := newServices(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer svc.close()

	identities, err := svc.stores.Identities.ListIdentities(ctx, limit, offset)
	if err != nil {
		return fmt.Errorf("failed to list identities: %w", err)
	}
	total, err := svc.stores.Identities.CountIdentities(ctx)
	if err != nil {
		return fmt.Errorf("failed to count identities: %w", err)
	}

	rows := make([]identityRow, 0, len(identities))
	for _, i := range identities {
		rows = append(rows, identityRow{
			ID:        i.ID,
			Username:  i.Username,
			Email:     i.Email,
			CreatedAt: i.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}

	if jsonOutput {
		return outputJSON(map[string]any{"identities": rows, "total": total})
	}

	if len(rows) == 0 {
		fmt.Println("No identities enrolled.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tEMAIL\tENROLLED")
	fmt.Fprintln(w, "--\t--------\t-----\t--------")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Username, r.Email, r.CreatedAt)
	}
	w.Flush()

	fmt.Printf("\nShowing %d of %d identities\n", len(rows), total)
	return nil
}

func runIdentityDelete(cmd *cobra.Command, args []string) error {
	cfg, log := loadConfig()
	defer log.Sync()

	ctx := context.Background()
	svc, err := newServices(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer svc.close()

	if err := svc.enroll.DeleteIdentity(ctx, args[0]); err != nil {
		return fmt.Errorf("failed to delete identity: %w", err)
	}
	fmt.Printf("Deleted identity %s\n", args[0])
	return nil
}
