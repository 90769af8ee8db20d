package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageCycleStart   Stage = "CYCLE_START"
	StageCycleDone    Stage = "CYCLE_DONE"
	StageCycleError   Stage = "CYCLE_ERROR"
	StageDetailDone   Stage = "DETAIL_DONE"
	StageDispatchDone Stage = "DISPATCH_DONE"
	StageLedgerReset  Stage = "LEDGER_RESET"
)

// Event captures a single milestone of pipeline progress.
type Event struct {
	// CycleID identifies the harvest+dispatch cycle the event belongs to.
	CycleID string
	// TS is the timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Outcome labels detail extractions (success, filtered, no_contact,
	// error) and dispatch attempts (sent, failed, skipped_job,
	// skipped_email).
	Outcome string
	// URL is the posting URL for per-posting events.
	URL string
	// Dur captures execution latency where the emitter measured one.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CycleID == "" {
		return errors.New("cycle id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageCycleStart, StageCycleDone, StageCycleError, StageLedgerReset:
	case StageDetailDone:
		if e.Outcome == "" {
			return errors.New("detail done requires outcome")
		}
		if e.URL == "" {
			return errors.New("detail done requires url")
		}
	case StageDispatchDone:
		if e.Outcome == "" {
			return errors.New("dispatch done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
