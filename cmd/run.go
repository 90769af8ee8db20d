package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newRunCmd creates the 'run' subcommand: one harvest+dispatch cycle, then
// exit. Useful for cron-style setups and for trying out a new config.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a single harvest and dispatch cycle",
		Long: `Harvests the configured listing once, filters and deduplicates the
postings, dispatches applications up to the daily cap, and exits.`,

		RunE: runRunCommand,
	}
}

func runRunCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	report, err := appInstance.RunOnce(cmd.Context())
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run cycle: %w", err)
	}

	appInstance.Logger().Info("Cycle finished",
		zap.String("cycle_id", report.CycleID),
		zap.Int("urls_found", report.Harvest.URLsFound),
		zap.Int("harvested", report.Harvest.Success),
		zap.Int("sent", report.Dispatch.Sent),
		zap.Int("failed", report.Dispatch.Failed),
	)

	stats, err := appInstance.Ledger().Stats()
	if err != nil {
		return fmt.Errorf("read ledger stats: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(),
		"cycle %s: found=%d sent=%d failed=%d skipped_job=%d skipped_email=%d\n",
		report.CycleID,
		report.Dispatch.Found,
		report.Dispatch.Sent,
		report.Dispatch.Failed,
		report.Dispatch.SkippedJob,
		report.Dispatch.SkippedEmail,
	)
	fmt.Fprintf(cmd.OutOrStdout(),
		"all-time: total=%d sent=%d failed=%d unique_emails=%d\n",
		stats.Total, stats.Sent, stats.Failed, stats.UniqueEmails,
	)
	return nil
}
