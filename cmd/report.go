package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newReportCmd creates the 'report' subcommand: all-time ledger stats plus
// duplicate-contact analytics.
func newReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Print application history statistics",
		Long: `Reads the application ledger and prints all-time totals and every
address that received more than one application.`,

		RunE: runReportCommand,
	}
}

func runReportCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	store := appInstance.Ledger()

	stats, err := store.Stats()
	if err != nil {
		return fmt.Errorf("read ledger stats: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "total applications: %d\n", stats.Total)
	fmt.Fprintf(out, "  sent:             %d\n", stats.Sent)
	fmt.Fprintf(out, "  failed:           %d\n", stats.Failed)
	fmt.Fprintf(out, "  unique emails:    %d\n", stats.UniqueEmails)

	groups, err := store.DuplicateEmails()
	if err != nil {
		return fmt.Errorf("read duplicate emails: %w", err)
	}
	if len(groups) == 0 {
		fmt.Fprintln(out, "no address was contacted more than once")
		return nil
	}
	fmt.Fprintf(out, "addresses contacted more than once: %d\n", len(groups))
	for _, g := range groups {
		fmt.Fprintf(out, "  %s (%d attempts)\n", g.Email, len(g.Rows))
		for _, row := range g.Rows {
			fmt.Fprintf(out, "    %s  %-6s  %s\n",
				row.AppliedAt.Format("2006-01-02 15:04:05"), row.Status, row.JobTitle)
		}
	}
	return nil
}
