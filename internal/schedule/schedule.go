// Package schedule runs application cycles on an interval, gated by a local
// run window, and performs the end-of-day ledger reset.
package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"applybot/internal/bot"
	"applybot/internal/progress"
)

// State is the scheduler's externally visible condition.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

const defaultEndOfDayHour = 22

// CycleRunner runs one complete harvest-and-dispatch cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (bot.CycleReport, error)
}

// Window restricts cycle starts to a daily time range on selected weekdays.
// Start and End use "HH:MM". An End before Start wraps past midnight. Empty
// Days allows every weekday; empty Start and End allow the whole day.
type Window struct {
	Start string
	End   string
	Days  []time.Weekday
}

// Config controls the cadence of the scheduler.
type Config struct {
	Interval     time.Duration
	Window       Window
	EndOfDayHour int
	Location     *time.Location
}

// Params collects the scheduler's dependencies.
type Params struct {
	Runner   CycleRunner
	Ledger   bot.Ledger
	Clock    bot.Clock
	IDs      bot.IDGenerator
	Progress progress.Emitter
	Logger   *zap.Logger
	Config   Config
}

// Scheduler drives cycles until its context is canceled. A stop request
// takes effect between cycles; a cycle already underway finishes.
type Scheduler struct {
	runner CycleRunner
	ledger bot.Ledger
	clock  bot.Clock
	ids    bot.IDGenerator
	emit   progress.Emitter
	log    *zap.Logger

	interval     time.Duration
	window       window
	endOfDayHour int
	loc          *time.Location

	state atomic.Value

	mu            sync.Mutex
	lastResetDate string
}

// New validates p and builds a Scheduler in the Idle state.
func New(p Params) (*Scheduler, error) {
	if p.Runner == nil {
		return nil, fmt.Errorf("cycle runner is required")
	}
	if p.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if p.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if p.IDs == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	cfg := p.Config
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.EndOfDayHour <= 0 {
		cfg.EndOfDayHour = defaultEndOfDayHour
	}
	if cfg.EndOfDayHour > 23 {
		return nil, fmt.Errorf("end of day hour must be 1..23, got %d", cfg.EndOfDayHour)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	win, err := compileWindow(cfg.Window)
	if err != nil {
		return nil, err
	}
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scheduler{
		runner:       p.Runner,
		ledger:       p.Ledger,
		clock:        p.Clock,
		ids:          p.IDs,
		emit:         p.Progress,
		log:          log.Named("schedule"),
		interval:     cfg.Interval,
		window:       win,
		endOfDayHour: cfg.EndOfDayHour,
		loc:          loc,
	}
	s.state.Store(StateIdle)
	return s, nil
}

// State reports whether a cycle is currently underway.
func (s *Scheduler) State() State {
	return s.state.Load().(State)
}

// Run attempts a cycle immediately and then on every interval tick until ctx
// is canceled. Cancellation during a cycle lets the cycle finish first.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started",
		zap.Duration("interval", s.interval),
		zap.Int("end_of_day_hour", s.endOfDayHour),
	)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.attempt(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.attempt(ctx)
		}
	}
}

// attempt applies the end-of-day and window gates, then runs one cycle.
func (s *Scheduler) attempt(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	now := s.clock.Now().In(s.loc)
	if now.Hour() >= s.endOfDayHour {
		s.maybeReset(now)
		return
	}
	if !s.window.contains(now) {
		s.log.Debug("outside run window", zap.Time("now", now))
		return
	}

	s.state.Store(StateRunning)
	defer s.state.Store(StateIdle)

	// The running cycle is shielded from cancellation so in-flight sends
	// and ledger appends complete; the surrounding loop honors the stop.
	report, err := s.runner.RunCycle(context.WithoutCancel(ctx))
	if err != nil {
		s.log.Error("cycle failed", zap.Error(err))
		return
	}
	s.log.Info("cycle complete",
		zap.String("cycle_id", report.CycleID),
		zap.Int("sent", report.Dispatch.Sent),
		zap.Int("failed", report.Dispatch.Failed),
	)
}

// maybeReset performs the end-of-day ledger reset at most once per local
// date. A failed reset is retried on the next attempt.
func (s *Scheduler) maybeReset(now time.Time) {
	date := now.Format("2006-01-02")
	s.mu.Lock()
	already := s.lastResetDate == date
	s.mu.Unlock()
	if already {
		return
	}
	backup, err := s.ledger.Reset()
	if err != nil {
		s.log.Error("end-of-day reset failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.lastResetDate = date
	s.mu.Unlock()
	s.emitReset(backup)
	s.log.Info("end-of-day ledger reset", zap.String("backup", backup))
}

func (s *Scheduler) emitReset(backup string) {
	if s.emit == nil {
		return
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.log.Warn("reset event id", zap.Error(err))
		return
	}
	s.emit.Emit(progress.Event{
		CycleID: id,
		TS:      s.clock.Now(),
		Stage:   progress.StageLedgerReset,
		Note:    backup,
	})
}

// window is the compiled form of Window. start and end are minutes since
// midnight, -1 when the whole day is open; nil days allows every weekday.
type window struct {
	start int
	end   int
	days  map[time.Weekday]struct{}
}

func compileWindow(w Window) (window, error) {
	out := window{start: -1, end: -1}
	switch {
	case w.Start == "" && w.End == "":
	case w.Start == "" || w.End == "":
		return out, fmt.Errorf("window start and end must both be set")
	default:
		start, err := parseClock(w.Start)
		if err != nil {
			return out, fmt.Errorf("window start: %w", err)
		}
		end, err := parseClock(w.End)
		if err != nil {
			return out, fmt.Errorf("window end: %w", err)
		}
		out.start, out.end = start, end
	}
	if len(w.Days) > 0 {
		out.days = make(map[time.Weekday]struct{}, len(w.Days))
		for _, d := range w.Days {
			if d < time.Sunday || d > time.Saturday {
				return out, fmt.Errorf("invalid weekday %d", d)
			}
			out.days[d] = struct{}{}
		}
	}
	return out, nil
}

func (w window) contains(t time.Time) bool {
	if w.days != nil {
		if _, ok := w.days[t.Weekday()]; !ok {
			return false
		}
	}
	if w.start < 0 {
		return true
	}
	m := t.Hour()*60 + t.Minute()
	if w.start <= w.end {
		return m >= w.start && m <= w.end
	}
	// End before start wraps past midnight.
	return m >= w.start || m <= w.end
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value out of range: %q", s)
	}
	return h*60 + m, nil
}
