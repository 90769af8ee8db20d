// Package cmd defines and implements the CLI commands for the applybot
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"applybot/internal/app"
	"applybot/internal/bot"
	"applybot/internal/config"
	"applybot/internal/ledger"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application surface that commands use. This allows us to
// inject a mock app during tests.
type App interface {
	RunOnce(ctx context.Context) (bot.CycleReport, error)
	Run(ctx context.Context) error
	Ledger() *ledger.Store
	Logger() *zap.Logger
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so we can replace it
// with a mock factory in our tests.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "applybot",
		Short: "A job application bot for jobs.nvoids.com",
		Long: `applybot harvests job postings from a listing site in parallel,
filters them by relevance, deduplicates against every past attempt, and
sends applications under strict rate and daily-volume limits.`,

		SilenceUsage: true,

		// This hook runs BEFORE the subcommand's RunE. It is where the
		// application is built and injected.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			// Store the app instance in the context for subcommands to use.
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		// This hook ensures services are shut down gracefully.
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				if err := appInstance.Close(cmd.Context()); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "shutdown error: %v\n", err)
				}
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is built-in defaults plus APPLYBOT_ env vars)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newScheduleCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newResetCmd())

	return cmd
}

// resolveApp retrieves the injected App from the command context.
func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
