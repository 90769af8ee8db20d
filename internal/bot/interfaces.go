package bot

import (
	"context"
	"time"
)

// Session is one exclusive browser automation session. Callers own the
// session until Close and must release it on every exit path.
type Session interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	Search(ctx context.Context, query string) error
	Close()
}

// SessionFactory hands out sessions backed by a shared driver service that
// is initialized at most once per process.
type SessionFactory interface {
	Acquire(ctx context.Context) (Session, error)
}

// Ledger is the durable store of past application attempts. It is the sole
// source of truth for dedup and cap decisions: every query re-reads current
// state, nothing is cached across calls.
type Ledger interface {
	Initialize() error
	HasAppliedToJob(jobID string) (bool, error)
	HasContactedEmail(email string) (bool, error)
	HasSentToJob(jobID string) (bool, error)
	HasSentToEmail(email string) (bool, error)
	CountAppliedToday() (int, error)
	Append(rec ApplicationRecord) error
	Reset() (string, error)
}

// Mailer sends one application message. A nil error marks the attempt sent;
// any error marks it failed.
type Mailer interface {
	Send(ctx context.Context, rec JobRecord) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces cycle IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
