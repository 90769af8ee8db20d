package sinks

import (
	"context"
	"sync"
	"time"

	"applybot/internal/progress"
)

// CycleSnapshot is the externally visible state of one cycle, rebuilt from
// the event stream.
type CycleSnapshot struct {
	CycleID   string         `json:"cycle_id"`
	State     string         `json:"state"`
	StartedAt time.Time      `json:"started_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Details   map[string]int `json:"details"`
	Dispatch  map[string]int `json:"dispatch"`
	Note      string         `json:"note,omitempty"`
}

// StatusReport is what the status endpoint serves.
type StatusReport struct {
	Current      *CycleSnapshot `json:"current,omitempty"`
	Last         *CycleSnapshot `json:"last,omitempty"`
	LedgerResets int            `json:"ledger_resets"`
	LastResetAt  *time.Time     `json:"last_reset_at,omitempty"`
}

// Cycle snapshot states.
const (
	cycleStateRunning = "running"
	cycleStateDone    = "done"
	cycleStateError   = "error"
)

// StatusSink folds progress events into an in-memory snapshot of the current
// and most recently finished cycle. It is the backing store for the status
// endpoint and survives only for the process lifetime.
type StatusSink struct {
	mu          sync.Mutex
	current     *CycleSnapshot
	last        *CycleSnapshot
	resets      int
	lastResetAt time.Time
}

// NewStatusSink builds an empty StatusSink.
func NewStatusSink() *StatusSink {
	return &StatusSink{}
}

// Consume folds the batch into the snapshot. Events for unknown cycles open
// an implicit snapshot so out-of-order delivery never loses counts.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *StatusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageLedgerReset:
		s.resets++
		s.lastResetAt = evt.TS
		return
	case progress.StageCycleStart:
		s.current = newSnapshot(evt.CycleID, evt.TS)
		return
	}

	snap := s.snapshotFor(evt)
	snap.UpdatedAt = evt.TS

	switch evt.Stage {
	case progress.StageDetailDone:
		snap.Details[evt.Outcome]++
	case progress.StageDispatchDone:
		snap.Dispatch[evt.Outcome]++
	case progress.StageCycleDone:
		snap.State = cycleStateDone
		s.finish(snap)
	case progress.StageCycleError:
		snap.State = cycleStateError
		snap.Note = evt.Note
		s.finish(snap)
	}
}

func (s *StatusSink) snapshotFor(evt progress.Event) *CycleSnapshot {
	if s.current == nil || s.current.CycleID != evt.CycleID {
		s.current = newSnapshot(evt.CycleID, evt.TS)
	}
	return s.current
}

func (s *StatusSink) finish(snap *CycleSnapshot) {
	s.last = snap
	s.current = nil
}

// Snapshot returns a deep copy of the report, safe for the caller to hold.
func (s *StatusSink) Snapshot() StatusReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	report := StatusReport{
		Current:      cloneSnapshot(s.current),
		Last:         cloneSnapshot(s.last),
		LedgerResets: s.resets,
	}
	if !s.lastResetAt.IsZero() {
		at := s.lastResetAt
		report.LastResetAt = &at
	}
	return report
}

// Close implements the Sink interface; it performs no action.
func (s *StatusSink) Close(context.Context) error {
	return nil
}

func newSnapshot(cycleID string, ts time.Time) *CycleSnapshot {
	return &CycleSnapshot{
		CycleID:   cycleID,
		State:     cycleStateRunning,
		StartedAt: ts,
		UpdatedAt: ts,
		Details:   make(map[string]int),
		Dispatch:  make(map[string]int),
	}
}

func cloneSnapshot(snap *CycleSnapshot) *CycleSnapshot {
	if snap == nil {
		return nil
	}
	out := *snap
	out.Details = make(map[string]int, len(snap.Details))
	for k, v := range snap.Details {
		out.Details[k] = v
	}
	out.Dispatch = make(map[string]int, len(snap.Dispatch))
	for k, v := range snap.Dispatch {
		out.Dispatch[k] = v
	}
	return &out
}
