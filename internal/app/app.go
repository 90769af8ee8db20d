// Package app assembles the bot's long-lived services and runs them. It is
// the dependency injection container behind every command.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"applybot/internal/api"
	"applybot/internal/bot"
	"applybot/internal/browser"
	"applybot/internal/clock/system"
	"applybot/internal/config"
	"applybot/internal/id/uuid"
	"applybot/internal/ledger"
	"applybot/internal/logging"
	"applybot/internal/mail"
	"applybot/internal/metrics"
	"applybot/internal/progress"
	"applybot/internal/progress/sinks"
	"applybot/internal/schedule"
)

const shutdownTimeout = 10 * time.Second

// progressRegisterer lets tests register the progress collectors against a
// private registry; nil means the process-wide default.
var progressRegisterer prometheus.Registerer

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	ledger    *ledger.Store
	browser   *browser.Service
	mailer    *mail.Mailer
	hub       *progress.Hub
	status    *sinks.StatusSink
	engine    *bot.Engine
	scheduler *schedule.Scheduler
	apiServer *api.Server
}

// Build creates the application's dependencies. Chrome is not started here;
// the browser service initializes it on first use.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	// Log only non-sensitive config fields.
	logger.Info("building application dependencies",
		zap.String("listing_url", cfg.Search.ListingURL),
		zap.String("ledger_path", cfg.Ledger.Path),
		zap.Bool("mail_dry_run", cfg.Mail.DryRun),
		zap.Bool("server_enabled", cfg.Server.Enabled),
	)

	a := &App{cfg: cfg, logger: logger}

	clock := system.New()
	ids := uuid.New()

	loc, err := cfg.Schedule.Location()
	if err != nil {
		return nil, err
	}

	a.ledger, err = ledger.New(ledger.Config{
		Path:       cfg.Ledger.Path,
		Location:   loc,
		SkipBackup: !cfg.Ledger.BackupOnReset,
	}, clock, logger)
	if err != nil {
		return nil, fmt.Errorf("ledger init failed: %w", err)
	}

	a.browser, err = browser.New(browser.Config{
		Headless:          cfg.Browser.Headless,
		UserAgent:         cfg.Browser.UserAgent,
		MaxParallel:       cfg.Browser.MaxParallel,
		SessionRetries:    cfg.Browser.SessionRetries,
		NavigationTimeout: cfg.Browser.NavTimeout(),
		SettleDelay:       cfg.Browser.SettleDelay(),
		HostQPS:           cfg.Browser.HostQPS,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("browser init failed: %w", err)
	}

	a.mailer, err = buildMailer(cfg.Mail, logger)
	if err != nil {
		return nil, fmt.Errorf("mailer init failed: %w", err)
	}

	emitter, err := a.setupProgress(ctx)
	if err != nil {
		return nil, err
	}

	filter := bot.FilterConfig{
		TargetKeywords:  cfg.Filter.TargetKeywords,
		ExcludeKeywords: cfg.Filter.ExcludeKeywords,
		MinYears:        cfg.Filter.MinYears,
	}
	extractor := bot.NewExtractor(a.browser, filter, logger)
	harvester := bot.NewHarvester(a.browser, extractor, bot.HarvestConfig{
		ListingURL:  cfg.Search.ListingURL,
		BaseURL:     cfg.Search.BaseURL,
		SearchTerms: cfg.Search.Terms,
		WorkerCount: cfg.Search.Workers,
		MaxPages:    cfg.Search.MaxPages,
		SearchPause: cfg.Search.Pause(),
	}, emitter, logger)
	dispatcher := bot.NewDispatcher(a.ledger, a.mailer, clock, bot.DispatchConfig{
		DailyCap:       cfg.Dispatch.DailyCap,
		InterSendDelay: cfg.Dispatch.Delay(),
		RetryOnFailure: cfg.Dispatch.RetryOnFailure,
	}, emitter, logger)

	a.engine = bot.NewEngine(bot.EngineParams{
		Harvester:  harvester,
		Dispatcher: dispatcher,
		Ledger:     a.ledger,
		IDs:        ids,
		Clock:      clock,
		Progress:   emitter,
		Logger:     logger,
		UseSearch:  cfg.Search.UseSearch,
	})

	days, err := cfg.Schedule.Weekdays()
	if err != nil {
		return nil, err
	}
	a.scheduler, err = schedule.New(schedule.Params{
		Runner:   a.engine,
		Ledger:   a.ledger,
		Clock:    clock,
		IDs:      ids,
		Progress: emitter,
		Logger:   logger,
		Config: schedule.Config{
			Interval: cfg.Schedule.Interval(),
			Window: schedule.Window{
				Start: cfg.Schedule.WindowStart,
				End:   cfg.Schedule.WindowEnd,
				Days:  days,
			},
			EndOfDayHour: cfg.Schedule.EndOfDayHour,
			Location:     loc,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	a.apiServer = api.NewServer(a.ledger, a.status, a.scheduler, logger)

	return a, nil
}

// buildMailer fills in a placeholder sender for dry-run configs where no
// message ever reaches a server; live configs were validated already.
func buildMailer(cfg config.MailConfig, logger *zap.Logger) (*mail.Mailer, error) {
	from := cfg.From
	if from == "" && cfg.DryRun {
		from = "applybot@localhost"
	}
	body, err := cfg.Body()
	if err != nil {
		return nil, err
	}
	return mail.New(mail.Config{
		Host:       cfg.Host,
		Port:       cfg.Port,
		Username:   cfg.Username,
		Password:   cfg.Password,
		From:       from,
		Subject:    cfg.Subject,
		Body:       body,
		ResumePath: cfg.ResumePath,
		DryRun:     cfg.DryRun,
	}, logger)
}

// setupProgress builds the status, log and Prometheus sinks behind one hub.
func (a *App) setupProgress(ctx context.Context) (progress.Emitter, error) {
	a.status = sinks.NewStatusSink()
	prom, err := sinks.NewPrometheusSink(progressRegisterer)
	if err != nil {
		return nil, fmt.Errorf("progress collectors init failed: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{
		BaseContext: ctx,
		Logger:      a.logger.Named("progress_hub"),
	},
		a.status,
		prom,
		sinks.NewLogSink(a.logger.Named("progress_log")),
	)
	return a.hub, nil
}

// Engine returns the cycle engine for one-shot runs.
func (a *App) Engine() *bot.Engine {
	return a.engine
}

// Ledger exposes the application history store for the report and reset
// commands.
func (a *App) Ledger() *ledger.Store {
	return a.ledger
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RunOnce executes a single harvest+dispatch cycle and returns its report.
func (a *App) RunOnce(ctx context.Context) (bot.CycleReport, error) {
	return a.engine.RunCycle(ctx)
}

// Run starts the scheduler and the ops HTTP server, blocking until the
// context is canceled or a signal arrives. A cycle already underway finishes
// before Run returns. Callers still own Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedDone := make(chan error, 1)
	go func() {
		schedDone <- a.scheduler.Run(ctx)
	}()

	var srv *http.Server
	if a.cfg.Server.Enabled {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}

	if err := <-schedDone; err != nil {
		a.logger.Error("scheduler stopped with error", zap.Error(err))
		return err
	}
	return nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.browser != nil {
		a.browser.Close()
	}
	a.logger.Info("shutdown complete")
	if err := logging.Sync(a.logger); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	return nil
}
