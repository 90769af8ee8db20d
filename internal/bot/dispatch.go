package bot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"applybot/internal/progress"
)

// DispatchConfig controls the sequential send loop.
type DispatchConfig struct {
	// DailyCap stops the loop once today's attempt count reaches it.
	// Zero or negative means uncapped.
	DailyCap int
	// InterSendDelay is the fixed wait after every attempt, any outcome.
	InterSendDelay time.Duration
	// RetryOnFailure relaxes dedup to sent rows only, so a posting whose
	// last attempt failed is eligible again in a later cycle.
	RetryOnFailure bool
}

// Dispatcher consumes harvested records in order, applying ledger dedup and
// the daily cap before every send. It is deliberately sequential: the cap
// and the inter-send delay are invariants over an ordered stream of
// attempts, and parallel senders would race on both.
type Dispatcher struct {
	ledger Ledger
	mailer Mailer
	clock  Clock
	cfg    DispatchConfig
	emit   progress.Emitter
	log    *zap.Logger
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(ledger Ledger, mailer Mailer, clock Clock, cfg DispatchConfig, emit progress.Emitter, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		ledger: ledger,
		mailer: mailer,
		clock:  clock,
		cfg:    cfg,
		emit:   emit,
		log:    log.Named("dispatch"),
	}
}

// CapReached reports whether today's attempt count already meets the daily
// cap. The cycle engine checks this before harvesting, so a capped-out day
// never pays for browser sessions whose records could not be sent anyway.
func (d *Dispatcher) CapReached() (bool, error) {
	if d.cfg.DailyCap <= 0 {
		return false, nil
	}
	count, err := d.ledger.CountAppliedToday()
	if err != nil {
		return false, fmt.Errorf("ledger daily count: %w", err)
	}
	return count >= d.cfg.DailyCap, nil
}

// Run processes records in order. Cross-cycle dedup happens here: the ledger
// is re-read before every decision. Reaching the daily cap abandons the
// remaining candidates for this cycle; a ledger failure aborts the loop with
// the stats gathered so far.
func (d *Dispatcher) Run(ctx context.Context, cycleID string, records []JobRecord) (DispatchStats, error) {
	stats := DispatchStats{Found: len(records)}
	for _, rec := range records {
		applied, err := d.appliedToJob(rec.JobID)
		if err != nil {
			return stats, fmt.Errorf("ledger job lookup: %w", err)
		}
		if applied {
			stats.SkippedJob++
			d.emitAttempt(cycleID, rec, "skipped_job", "already applied to posting")
			continue
		}

		contacted, err := d.contactedEmail(rec.Email)
		if err != nil {
			return stats, fmt.Errorf("ledger email lookup: %w", err)
		}
		if contacted {
			stats.SkippedEmail++
			d.emitAttempt(cycleID, rec, "skipped_email", "address already contacted")
			continue
		}

		count, err := d.ledger.CountAppliedToday()
		if err != nil {
			return stats, fmt.Errorf("ledger daily count: %w", err)
		}
		if d.cfg.DailyCap > 0 && count >= d.cfg.DailyCap {
			stats.CapReached = true
			d.log.Info("daily cap reached, abandoning remaining candidates",
				zap.String("cycle_id", cycleID),
				zap.Int("cap", d.cfg.DailyCap),
				zap.Int("applied_today", count),
			)
			break
		}

		status := StatusSent
		if err := d.mailer.Send(ctx, rec); err != nil {
			status = StatusFailed
			stats.Failed++
			d.log.Warn("send failed",
				zap.String("cycle_id", cycleID),
				zap.String("job_id", rec.JobID),
				zap.String("email", rec.Email),
				zap.Error(err),
			)
		} else {
			stats.Sent++
			d.log.Info("application sent",
				zap.String("cycle_id", cycleID),
				zap.String("job_id", rec.JobID),
				zap.String("title", rec.Title),
				zap.String("email", rec.Email),
			)
		}
		d.emitAttempt(cycleID, rec, string(status), "")

		if err := d.ledger.Append(ApplicationRecord{
			JobID:     rec.JobID,
			JobTitle:  rec.Title,
			Company:   rec.Company,
			Email:     rec.Email,
			AppliedAt: d.clock.Now(),
			Status:    status,
		}); err != nil {
			return stats, fmt.Errorf("ledger append: %w", err)
		}

		// Fixed delay after every attempt, success or failure.
		if err := pause(ctx, d.cfg.InterSendDelay); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// appliedToJob is the primary dedup key: never re-apply to this posting.
func (d *Dispatcher) appliedToJob(jobID string) (bool, error) {
	if d.cfg.RetryOnFailure {
		return d.ledger.HasSentToJob(jobID)
	}
	return d.ledger.HasAppliedToJob(jobID)
}

// contactedEmail is the stricter secondary key: never contact this address
// again, regardless of posting.
func (d *Dispatcher) contactedEmail(email string) (bool, error) {
	if d.cfg.RetryOnFailure {
		return d.ledger.HasSentToEmail(email)
	}
	return d.ledger.HasContactedEmail(email)
}

func (d *Dispatcher) emitAttempt(cycleID string, rec JobRecord, outcome, note string) {
	if d.emit == nil {
		return
	}
	d.emit.Emit(progress.Event{
		CycleID: cycleID,
		TS:      d.clock.Now(),
		Stage:   progress.StageDispatchDone,
		Outcome: outcome,
		URL:     rec.SourceURL,
		Note:    note,
	})
}
