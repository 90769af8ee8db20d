package sinks

import (
	"context"

	"go.uber.org/zap"

	"applybot/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where no metrics backend is available.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("cycle_id", evt.CycleID),
			zap.String("stage", string(evt.Stage)),
			zap.String("outcome", evt.Outcome),
			zap.String("url", evt.URL),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
