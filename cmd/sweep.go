package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired sessions, passcodes and failure history",
	Long: `Runs one cleanup pass against the database. The server sweeps on its own
interval; this command is meant for cron jobs when the server is not running.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().Bool("json", false, "Output as JSON")
}

func runSweep(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")

	cfg, log := loadConfig()
	defer log.Sync()

	ctx := context.Background()
	svc, err := newServices(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer svc.close()

	result, err := svc.auth.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	if jsonOutput {
		return outputJSON(result)
	}
	fmt.Printf("Sessions removed:  %d\n", result.Sessions)
	fmt.Printf("Passcodes removed: %d\n", result.OTPs)
	fmt.Printf("Failures removed:  %d\n", result.Failures)
	return nil
}
