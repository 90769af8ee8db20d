package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// newScheduleCmd creates the 'schedule' subcommand: the long-running daemon
// mode driving cycles on the configured interval within the run window.
func newScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the scheduler daemon",
		Long: `Runs cycles on the configured interval, gated by the time-of-day and
day-of-week window, resetting the ledger at the end-of-day boundary.
Blocks until interrupted; a cycle already underway finishes first.`,

		RunE: runScheduleCommand,
	}
}

func runScheduleCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	if err := appInstance.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run scheduler: %w", err)
	}
	return nil
}
