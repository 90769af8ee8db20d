package bot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"applybot/internal/progress"
)

// EngineParams collects the collaborators an Engine needs.
type EngineParams struct {
	Harvester  *Harvester
	Dispatcher *Dispatcher
	Ledger     Ledger
	IDs        IDGenerator
	Clock      Clock
	Progress   progress.Emitter
	Logger     *zap.Logger
	// UseSearch selects the legacy keyword flow over the fixed listing.
	UseSearch bool
}

// Engine runs one full harvest+dispatch cycle. Exactly one cycle is ever
// active; the scheduler serializes calls to RunCycle.
type Engine struct {
	harvester  *Harvester
	dispatcher *Dispatcher
	ledger     Ledger
	ids        IDGenerator
	clock      Clock
	emit       progress.Emitter
	log        *zap.Logger
	useSearch  bool
}

// NewEngine builds an Engine from its collaborators.
func NewEngine(p EngineParams) *Engine {
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		harvester:  p.Harvester,
		dispatcher: p.Dispatcher,
		ledger:     p.Ledger,
		ids:        p.IDs,
		clock:      p.Clock,
		emit:       p.Progress,
		log:        log.Named("cycle"),
		useSearch:  p.UseSearch,
	}
}

// RunCycle harvests candidate postings and dispatches applications for them,
// returning a report of both halves. Failures abort only this cycle; the
// caller decides whether to try again later.
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	cycleID, err := e.ids.NewID()
	if err != nil {
		return CycleReport{}, fmt.Errorf("cycle id: %w", err)
	}
	report := CycleReport{CycleID: cycleID, Started: e.clock.Now()}
	e.emitStage(cycleID, progress.StageCycleStart, 0, "")
	e.log.Info("cycle started", zap.String("cycle_id", cycleID), zap.Bool("search_mode", e.useSearch))

	if err := e.ledger.Initialize(); err != nil {
		return e.fail(report, fmt.Errorf("initialize ledger: %w", err))
	}

	// A day already at its cap skips the whole cycle before any browser
	// session is opened.
	capped, err := e.dispatcher.CapReached()
	if err != nil {
		return e.fail(report, fmt.Errorf("daily cap check: %w", err))
	}
	if capped {
		report.Dispatch.CapReached = true
		report.Finished = e.clock.Now()
		e.emitStage(cycleID, progress.StageCycleDone, report.Finished.Sub(report.Started), "daily cap already reached")
		e.log.Info("daily cap already reached, skipping cycle", zap.String("cycle_id", cycleID))
		return report, nil
	}

	var (
		records []JobRecord
		hstats  HarvestStats
	)
	if e.useSearch {
		records, hstats, err = e.harvester.RunSearch(ctx, cycleID)
	} else {
		records, hstats, err = e.harvester.Run(ctx, cycleID)
	}
	report.Harvest = hstats
	if err != nil {
		return e.fail(report, fmt.Errorf("harvest: %w", err))
	}

	dstats, err := e.dispatcher.Run(ctx, cycleID, records)
	report.Dispatch = dstats
	if err != nil {
		return e.fail(report, fmt.Errorf("dispatch: %w", err))
	}

	report.Finished = e.clock.Now()
	e.emitStage(cycleID, progress.StageCycleDone, report.Finished.Sub(report.Started), "")
	e.log.Info("cycle finished",
		zap.String("cycle_id", cycleID),
		zap.Duration("took", report.Finished.Sub(report.Started)),
		zap.Int("urls_found", hstats.URLsFound),
		zap.Int("harvested", hstats.Success),
		zap.Int("sent", dstats.Sent),
		zap.Int("failed", dstats.Failed),
		zap.Int("skipped_job", dstats.SkippedJob),
		zap.Int("skipped_email", dstats.SkippedEmail),
		zap.Bool("cap_reached", dstats.CapReached),
	)
	return report, nil
}

func (e *Engine) fail(report CycleReport, err error) (CycleReport, error) {
	report.Finished = e.clock.Now()
	e.emitStage(report.CycleID, progress.StageCycleError, report.Finished.Sub(report.Started), err.Error())
	e.log.Error("cycle aborted", zap.String("cycle_id", report.CycleID), zap.Error(err))
	return report, err
}

func (e *Engine) emitStage(cycleID string, stage progress.Stage, dur time.Duration, note string) {
	if e.emit == nil {
		return
	}
	e.emit.Emit(progress.Event{
		CycleID: cycleID,
		TS:      e.clock.Now(),
		Stage:   stage,
		Dur:     dur,
		Note:    note,
	})
}
