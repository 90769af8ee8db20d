// Package ledger persists application history as a flat CSV file on the
// local filesystem. Every query re-reads the file so concurrent processes
// (a running scheduler and the report or reset commands) always see the
// latest appends.
package ledger

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"applybot/internal/bot"
)

// header is the fixed column order of the ledger file.
var header = []string{"job_id", "job_title", "company", "email", "applied_date", "status"}

const appliedDateLayout = "2006-01-02 15:04:05"

// Config captures the parameters for the CSV ledger.
type Config struct {
	// Path is the ledger file location.
	Path string
	// Location resolves what "today" means for the daily cap. Defaults to
	// the system's local time zone.
	Location *time.Location
	// SkipBackup makes Reset truncate without writing the dated backup copy.
	SkipBackup bool
}

// Store implements bot.Ledger on top of a single CSV file guarded by an
// advisory file lock.
type Store struct {
	path       string
	loc        *time.Location
	skipBackup bool
	lock       *flock.Flock
	clock      bot.Clock
	log        *zap.Logger
}

// New validates cfg and builds a Store. The ledger file itself is created by
// Initialize, not here.
func New(cfg Config, clock bot.Clock, log *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	return &Store{
		path:       cfg.Path,
		loc:        loc,
		skipBackup: cfg.SkipBackup,
		// The lock lives beside the data file so Reset can rename the
		// CSV without invalidating the held lock.
		lock:  flock.New(cfg.Path + ".lock"),
		clock: clock,
		log:   log.Named("ledger"),
	}, nil
}

// Initialize creates the ledger file with its header row if it does not
// exist. Calling it on an existing ledger is a no-op.
func (s *Store) Initialize() error {
	return s.withLock(func() error {
		if _, err := os.Stat(s.path); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat ledger: %w", err)
		}
		if err := writeFileAtomic(s.path, headerBytes()); err != nil {
			return err
		}
		s.log.Info("ledger initialized", zap.String("path", s.path))
		return nil
	})
}

// HasAppliedToJob reports whether any attempt, sent or failed, was recorded
// for jobID.
func (s *Store) HasAppliedToJob(jobID string) (bool, error) {
	records, err := s.All()
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if rec.JobID == jobID {
			return true, nil
		}
	}
	return false, nil
}

// HasContactedEmail reports whether any attempt was recorded for email. The
// comparison is case-insensitive.
func (s *Store) HasContactedEmail(email string) (bool, error) {
	records, err := s.All()
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if strings.EqualFold(rec.Email, email) {
			return true, nil
		}
	}
	return false, nil
}

// HasSentToJob reports whether a successful send was recorded for jobID.
// Failed attempts do not count, so they remain eligible for retry.
func (s *Store) HasSentToJob(jobID string) (bool, error) {
	records, err := s.All()
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if rec.JobID == jobID && rec.Status == bot.StatusSent {
			return true, nil
		}
	}
	return false, nil
}

// HasSentToEmail reports whether a successful send was recorded for email.
func (s *Store) HasSentToEmail(email string) (bool, error) {
	records, err := s.All()
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if strings.EqualFold(rec.Email, email) && rec.Status == bot.StatusSent {
			return true, nil
		}
	}
	return false, nil
}

// CountAppliedToday counts every attempt recorded on the current date in the
// configured location.
func (s *Store) CountAppliedToday() (int, error) {
	records, err := s.All()
	if err != nil {
		return 0, err
	}
	now := s.clock.Now().In(s.loc)
	count := 0
	for _, rec := range records {
		if rec.AppliedAt.IsZero() {
			continue
		}
		if sameDay(rec.AppliedAt.In(s.loc), now) {
			count++
		}
	}
	return count, nil
}

// Append durably writes one attempt to the end of the ledger, creating the
// file with its header first when it is missing.
func (s *Store) Append(rec bot.ApplicationRecord) error {
	return s.withLock(func() error {
		if _, err := os.Stat(s.path); os.IsNotExist(err) {
			if err := writeFileAtomic(s.path, headerBytes()); err != nil {
				return err
			}
		}
		f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open ledger: %w", err)
		}
		w := csv.NewWriter(f)
		if err := w.Write(rowOf(rec, s.loc)); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write ledger row: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to flush ledger row: %w", err)
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to sync ledger: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close ledger: %w", err)
		}
		return nil
	})
}

// Reset moves the current ledger to a dated backup beside it and starts a
// fresh file holding only the header. It returns the backup path, or an
// empty string when there was nothing to back up. With SkipBackup set the
// file is truncated in place and no backup is written.
func (s *Store) Reset() (string, error) {
	var backup string
	err := s.withLock(func() error {
		if _, err := os.Stat(s.path); os.IsNotExist(err) {
			return writeFileAtomic(s.path, headerBytes())
		} else if err != nil {
			return fmt.Errorf("failed to stat ledger: %w", err)
		}
		if !s.skipBackup {
			backup = s.backupPath()
			if err := os.Rename(s.path, backup); err != nil {
				return fmt.Errorf("failed to back up ledger: %w", err)
			}
		}
		if err := writeFileAtomic(s.path, headerBytes()); err != nil {
			return err
		}
		s.log.Info("ledger reset", zap.String("backup", backup))
		return nil
	})
	if err != nil {
		return "", err
	}
	return backup, nil
}

// Stats summarizes the whole ledger: every attempt ever recorded, not just
// today's.
type Stats struct {
	Total        int `json:"total"`
	Sent         int `json:"sent"`
	Failed       int `json:"failed"`
	UniqueEmails int `json:"unique_emails"`
}

// Stats tallies all-time attempt counts and distinct contacted addresses.
func (s *Store) Stats() (Stats, error) {
	records, err := s.All()
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	emails := make(map[string]struct{})
	for _, rec := range records {
		stats.Total++
		switch rec.Status {
		case bot.StatusSent:
			stats.Sent++
		case bot.StatusFailed:
			stats.Failed++
		}
		if addr := strings.ToLower(rec.Email); addr != "" {
			emails[addr] = struct{}{}
		}
	}
	stats.UniqueEmails = len(emails)
	return stats, nil
}

// EmailGroup collects every attempt recorded against one address.
type EmailGroup struct {
	Email string                  `json:"email"`
	Rows  []bot.ApplicationRecord `json:"rows"`
}

// DuplicateEmails returns the addresses that received more than one attempt,
// most-contacted first, with their rows in ledger order. Address comparison
// is case-insensitive.
func (s *Store) DuplicateEmails() ([]EmailGroup, error) {
	records, err := s.All()
	if err != nil {
		return nil, err
	}
	byEmail := make(map[string][]bot.ApplicationRecord)
	var order []string
	for _, rec := range records {
		email := strings.ToLower(rec.Email)
		if _, seen := byEmail[email]; !seen {
			order = append(order, email)
		}
		byEmail[email] = append(byEmail[email], rec)
	}
	var groups []EmailGroup
	for _, email := range order {
		if rows := byEmail[email]; len(rows) > 1 {
			groups = append(groups, EmailGroup{Email: email, Rows: rows})
		}
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return len(groups[i].Rows) > len(groups[j].Rows)
	})
	return groups, nil
}

// All returns every record currently in the ledger. A missing file reads as
// empty.
func (s *Store) All() ([]bot.ApplicationRecord, error) {
	var records []bot.ApplicationRecord
	err := s.withRLock(func() error {
		f, err := os.Open(s.path)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to open ledger: %w", err)
		}
		defer func() { _ = f.Close() }()

		r := csv.NewReader(f)
		r.FieldsPerRecord = -1
		rows, err := r.ReadAll()
		if err != nil {
			return fmt.Errorf("failed to read ledger: %w", err)
		}
		for i, row := range rows {
			if i == 0 && len(row) > 0 && row[0] == header[0] {
				continue
			}
			if len(row) < len(header) {
				continue
			}
			records = append(records, s.recordOf(row))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) backupPath() string {
	dir := filepath.Dir(s.path)
	base := filepath.Base(s.path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	date := s.clock.Now().In(s.loc).Format("2006-01-02")
	return filepath.Join(dir, fmt.Sprintf("%s_backup_%s%s", stem, date, ext))
}

func (s *Store) recordOf(row []string) bot.ApplicationRecord {
	rec := bot.ApplicationRecord{
		JobID:    row[0],
		JobTitle: row[1],
		Company:  row[2],
		Email:    row[3],
		Status:   bot.ApplicationStatus(row[5]),
	}
	// Rows with an unparseable date stay visible to the dedup queries but
	// drop out of the daily count.
	if ts, err := time.ParseInLocation(appliedDateLayout, row[4], s.loc); err == nil {
		rec.AppliedAt = ts
	}
	return rec
}

func (s *Store) withLock(fn func() error) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock ledger: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

func (s *Store) withRLock(fn func() error) error {
	if err := s.lock.RLock(); err != nil {
		return fmt.Errorf("failed to lock ledger for reading: %w", err)
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

func rowOf(rec bot.ApplicationRecord, loc *time.Location) []string {
	return []string{
		rec.JobID,
		rec.JobTitle,
		rec.Company,
		rec.Email,
		rec.AppliedAt.In(loc).Format(appliedDateLayout),
		string(rec.Status),
	}
}

func headerBytes() []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(header)
	w.Flush()
	return buf.Bytes()
}

// writeFileAtomic writes data to a temp file beside path and renames it into
// place so readers never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp ledger: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
