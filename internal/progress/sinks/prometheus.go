package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"applybot/internal/progress"
)

// PrometheusSink exports pipeline progress metrics via Prometheus. It owns
// the collectors for cycle lifecycle, detail extraction outcomes and
// dispatch attempts.
type PrometheusSink struct {
	cyclesStarted   prometheus.Counter
	cyclesCompleted *prometheus.CounterVec
	cyclesRunning   prometheus.Gauge
	cycleRuntime    *prometheus.HistogramVec

	detailOutcomes *prometheus.CounterVec
	detailDuration *prometheus.HistogramVec

	dispatchAttempts *prometheus.CounterVec
	ledgerResets     prometheus.Counter

	tracker *cycleTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		cyclesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "applybot_cycles_started_total",
			Help: "Total cycles that have started.",
		}),
		cyclesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "applybot_cycles_completed_total",
			Help: "Total cycles completed partitioned by result.",
		}, []string{"result"}),
		cyclesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "applybot_cycles_running",
			Help: "Current number of running cycles.",
		}),
		cycleRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "applybot_cycle_runtime_seconds",
			Help:    "Wall time per completed cycle.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		detailOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "applybot_detail_outcomes_total",
			Help: "Posting detail extractions partitioned by outcome.",
		}, []string{"outcome"}),
		detailDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "applybot_detail_duration_seconds",
			Help:    "Detail extraction duration partitioned by outcome.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"outcome"}),
		dispatchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "applybot_dispatch_attempts_total",
			Help: "Dispatch decisions partitioned by outcome.",
		}, []string{"outcome"}),
		ledgerResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "applybot_ledger_resets_total",
			Help: "End-of-day ledger resets performed.",
		}),
		tracker: newCycleTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.cyclesStarted,
		s.cyclesCompleted,
		s.cyclesRunning,
		s.cycleRuntime,
		s.detailOutcomes,
		s.detailDuration,
		s.dispatchAttempts,
		s.ledgerResets,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageCycleStart, progress.StageCycleDone, progress.StageCycleError:
		s.handleCycleEvent(evt)
	case progress.StageDetailDone:
		s.handleDetailEvent(evt)
	case progress.StageDispatchDone:
		s.dispatchAttempts.WithLabelValues(outcomeLabel(evt)).Inc()
	case progress.StageLedgerReset:
		s.ledgerResets.Inc()
	}
}

func (s *PrometheusSink) handleCycleEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageCycleStart:
		s.cyclesStarted.Inc()
		if s.tracker.start(evt.CycleID) {
			s.cyclesRunning.Inc()
		}
	case progress.StageCycleDone:
		s.cyclesCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageCycleError:
		s.cyclesCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageCycleStart && s.tracker.complete(evt.CycleID) {
		s.cyclesRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.cycleRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleDetailEvent(evt progress.Event) {
	label := outcomeLabel(evt)
	s.detailOutcomes.WithLabelValues(label).Inc()
	if evt.Dur > 0 {
		s.detailDuration.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func outcomeLabel(evt progress.Event) string {
	if evt.Outcome == "" {
		return "unknown"
	}
	return evt.Outcome
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type cycleTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newCycleTracker() *cycleTracker {
	return &cycleTracker{running: make(map[string]struct{})}
}

func (t *cycleTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *cycleTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
