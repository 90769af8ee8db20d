// Package ledger_test tests the CSV application ledger.
package ledger_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"applybot/internal/bot"
	"applybot/internal/ledger"
)

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

func newStore(t *testing.T, now time.Time) (*ledger.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "applied_jobs.csv")
	store, err := ledger.New(ledger.Config{Path: path, Location: time.UTC}, stubClock{now: now}, nil)
	require.NoError(t, err)
	return store, path
}

func record(jobID, email string, appliedAt time.Time, status bot.ApplicationStatus) bot.ApplicationRecord {
	return bot.ApplicationRecord{
		JobID:     jobID,
		JobTitle:  "Java Developer at Example",
		Company:   "Example",
		Email:     email,
		AppliedAt: appliedAt,
		Status:    status,
	}
}

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, _ := newStore(t, time.Now())
		assert.NotNil(t, store)
	})
	t.Run("MissingPath", func(t *testing.T) {
		_, err := ledger.New(ledger.Config{}, stubClock{now: time.Now()}, nil)
		assert.Error(t, err)
	})
	t.Run("MissingClock", func(t *testing.T) {
		_, err := ledger.New(ledger.Config{Path: filepath.Join(t.TempDir(), "l.csv")}, nil, nil)
		assert.Error(t, err)
	})
}

func TestInitializeIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	store, path := newStore(t, now)

	require.NoError(t, store.Initialize())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "job_id,job_title,company,email,applied_date,status\n", string(data))

	require.NoError(t, store.Append(record("j1", "a@example.com", now, bot.StatusSent)))
	require.NoError(t, store.Initialize())

	records, err := store.All()
	require.NoError(t, err)
	require.Len(t, records, 1, "re-initialization must not truncate")
	assert.Equal(t, "j1", records[0].JobID)
}

func TestQueries(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	store, _ := newStore(t, now)
	require.NoError(t, store.Initialize())
	require.NoError(t, store.Append(record("j1", "a@example.com", now, bot.StatusSent)))
	require.NoError(t, store.Append(record("j2", "b@example.com", now, bot.StatusFailed)))

	t.Run("HasAppliedToJob", func(t *testing.T) {
		for _, id := range []string{"j1", "j2"} {
			applied, err := store.HasAppliedToJob(id)
			require.NoError(t, err)
			assert.True(t, applied, "failed attempts still count as applied for %s", id)
		}
		applied, err := store.HasAppliedToJob("j3")
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("HasContactedEmailIsCaseInsensitive", func(t *testing.T) {
		contacted, err := store.HasContactedEmail("A@EXAMPLE.COM")
		require.NoError(t, err)
		assert.True(t, contacted)

		contacted, err = store.HasContactedEmail("c@example.com")
		require.NoError(t, err)
		assert.False(t, contacted)
	})

	t.Run("HasSentToJobIgnoresFailures", func(t *testing.T) {
		sent, err := store.HasSentToJob("j1")
		require.NoError(t, err)
		assert.True(t, sent)

		sent, err = store.HasSentToJob("j2")
		require.NoError(t, err)
		assert.False(t, sent, "failed attempt must stay eligible for retry")
	})

	t.Run("HasSentToEmailIgnoresFailures", func(t *testing.T) {
		sent, err := store.HasSentToEmail("a@example.com")
		require.NoError(t, err)
		assert.True(t, sent)

		sent, err = store.HasSentToEmail("B@example.com")
		require.NoError(t, err)
		assert.False(t, sent)
	})
}

func TestCountAppliedToday(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	store, _ := newStore(t, now)
	require.NoError(t, store.Initialize())

	require.NoError(t, store.Append(record("j1", "a@example.com", now.Add(-6*time.Hour), bot.StatusSent)))
	require.NoError(t, store.Append(record("j2", "b@example.com", now.Add(-30*time.Hour), bot.StatusSent)))
	require.NoError(t, store.Append(record("j3", "c@example.com", now, bot.StatusFailed)))

	count, err := store.CountAppliedToday()
	require.NoError(t, err)
	assert.Equal(t, 2, count, "failed attempts count, yesterday's rows do not")
}

func TestQueriesSeeExternalAppends(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	store, path := newStore(t, now)
	require.NoError(t, store.Initialize())

	applied, err := store.HasAppliedToJob("j9")
	require.NoError(t, err)
	require.False(t, applied)

	// Another process appends directly to the file.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("j9,Title,Co,x@example.com,2026-03-10 10:00:00,sent\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	applied, err = store.HasAppliedToJob("j9")
	require.NoError(t, err)
	assert.True(t, applied, "queries must re-read the file")
}

func TestReset(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	t.Run("BacksUpAndTruncates", func(t *testing.T) {
		store, path := newStore(t, now)
		require.NoError(t, store.Initialize())
		require.NoError(t, store.Append(record("j1", "a@example.com", now, bot.StatusSent)))

		backup, err := store.Reset()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(filepath.Dir(path), "applied_jobs_backup_2026-03-10.csv"), backup)

		backupData, err := os.ReadFile(backup)
		require.NoError(t, err)
		assert.Contains(t, string(backupData), "j1")

		records, err := store.All()
		require.NoError(t, err)
		assert.Empty(t, records)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(data), "job_id,"))
	})

	t.Run("MissingFileStartsFresh", func(t *testing.T) {
		store, path := newStore(t, now)
		backup, err := store.Reset()
		require.NoError(t, err)
		assert.Empty(t, backup)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(data), "job_id,"))
	})

	t.Run("SkipBackupTruncatesInPlace", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "applied_jobs.csv")
		store, err := ledger.New(
			ledger.Config{Path: path, Location: time.UTC, SkipBackup: true},
			stubClock{now: now}, nil,
		)
		require.NoError(t, err)
		require.NoError(t, store.Initialize())
		require.NoError(t, store.Append(record("j1", "a@example.com", now, bot.StatusSent)))

		backup, err := store.Reset()
		require.NoError(t, err)
		assert.Empty(t, backup)

		_, err = os.Stat(filepath.Join(filepath.Dir(path), "applied_jobs_backup_2026-03-10.csv"))
		assert.True(t, os.IsNotExist(err), "no backup file should be written")

		records, err := store.All()
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestStats(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	store, _ := newStore(t, now)
	require.NoError(t, store.Initialize())

	t.Run("EmptyLedger", func(t *testing.T) {
		stats, err := store.Stats()
		require.NoError(t, err)
		assert.Equal(t, ledger.Stats{}, stats)
	})

	require.NoError(t, store.Append(record("j1", "a@example.com", now.Add(-40*time.Hour), bot.StatusSent)))
	require.NoError(t, store.Append(record("j2", "b@example.com", now, bot.StatusSent)))
	require.NoError(t, store.Append(record("j3", "B@example.com", now, bot.StatusFailed)))

	t.Run("CountsAllTime", func(t *testing.T) {
		stats, err := store.Stats()
		require.NoError(t, err)
		assert.Equal(t, ledger.Stats{Total: 3, Sent: 2, Failed: 1, UniqueEmails: 2}, stats)
	})

	t.Run("IgnoresBlankEmails", func(t *testing.T) {
		require.NoError(t, store.Append(record("j4", "", now, bot.StatusFailed)))
		stats, err := store.Stats()
		require.NoError(t, err)
		assert.Equal(t, ledger.Stats{Total: 4, Sent: 2, Failed: 2, UniqueEmails: 2}, stats)
	})
}

func TestDuplicateEmails(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	store, _ := newStore(t, now)
	require.NoError(t, store.Initialize())

	t.Run("NoDuplicates", func(t *testing.T) {
		require.NoError(t, store.Append(record("j1", "solo@example.com", now, bot.StatusSent)))
		groups, err := store.DuplicateEmails()
		require.NoError(t, err)
		assert.Empty(t, groups)
	})

	t.Run("GroupsCaseInsensitively", func(t *testing.T) {
		require.NoError(t, store.Append(record("j2", "hr@acme.com", now, bot.StatusSent)))
		require.NoError(t, store.Append(record("j3", "HR@ACME.COM", now, bot.StatusFailed)))
		require.NoError(t, store.Append(record("j4", "jobs@globex.com", now, bot.StatusSent)))
		require.NoError(t, store.Append(record("j5", "jobs@globex.com", now, bot.StatusSent)))
		require.NoError(t, store.Append(record("j6", "jobs@globex.com", now, bot.StatusSent)))

		groups, err := store.DuplicateEmails()
		require.NoError(t, err)
		require.Len(t, groups, 2)

		assert.Equal(t, "jobs@globex.com", groups[0].Email, "most-contacted address first")
		assert.Len(t, groups[0].Rows, 3)

		assert.Equal(t, "hr@acme.com", groups[1].Email)
		require.Len(t, groups[1].Rows, 2)
		assert.Equal(t, "j2", groups[1].Rows[0].JobID, "rows stay in ledger order")
		assert.Equal(t, "j3", groups[1].Rows[1].JobID)
	})
}

func TestAllSkipsMalformedRows(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	store, path := newStore(t, now)

	content := "job_id,job_title,company,email,applied_date,status\n" +
		"short,row\n" +
		"j1,Title,Co,a@example.com,2026-03-10 10:00:00,sent\n" +
		"j2,Title,Co,b@example.com,not-a-date,sent\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	records, err := store.All()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "j1", records[0].JobID)
	assert.True(t, records[1].AppliedAt.IsZero(), "bad dates parse to zero time")

	count, err := store.CountAppliedToday()
	require.NoError(t, err)
	assert.Equal(t, 1, count, "zero-time rows are excluded from the daily count")
}
