package bot

import (
	"context"
	"sync"
	"time"
)

// jobTracker provides thread-safe job identity dedup within one harvest
// cycle: the first completing worker claims the ID, later duplicates lose.
type jobTracker struct {
	seen sync.Map
}

// MarkIfNew stores the job ID if it has not been seen before and returns true.
func (t *jobTracker) MarkIfNew(jobID string) bool {
	if jobID == "" {
		return false
	}
	_, loaded := t.seen.LoadOrStore(jobID, struct{}{})
	return !loaded
}

// pause blocks for delay or until ctx is done, whichever comes first.
func pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
