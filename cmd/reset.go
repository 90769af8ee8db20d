package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newResetCmd creates the 'reset' subcommand: a manual ledger reset, the
// same operation the scheduler performs at the end-of-day boundary.
func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Back up and clear the application ledger",
		Long: `Copies the ledger to a dated backup file (unless backups are disabled
in the config) and truncates it to an empty file with its header row.`,

		RunE: runResetCommand,
	}
}

func runResetCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	backup, err := appInstance.Ledger().Reset()
	if err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	if backup != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "ledger backed up to %s and cleared\n", backup)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "ledger cleared")
	}
	return nil
}
