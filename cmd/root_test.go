package cmd

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"applybot/internal/bot"
	"applybot/internal/clock/system"
	"applybot/internal/ledger"
)

// mockApp satisfies the App interface without starting Chrome or SMTP.
type mockApp struct {
	store    *ledger.Store
	report   bot.CycleReport
	runErr   error
	ranOnce  bool
	ranSched bool
	closed   bool
}

func (m *mockApp) RunOnce(context.Context) (bot.CycleReport, error) {
	m.ranOnce = true
	return m.report, m.runErr
}

func (m *mockApp) Run(context.Context) error {
	m.ranSched = true
	return m.runErr
}

func (m *mockApp) Ledger() *ledger.Store { return m.store }

func (m *mockApp) Logger() *zap.Logger { return zap.NewNop() }

func (m *mockApp) Close(context.Context) error {
	m.closed = true
	return nil
}

// installMockApp swaps the application factory for the test's mock and
// restores it afterwards.
func installMockApp(t *testing.T, m *mockApp) {
	t.Helper()
	prev := newApp
	newApp = func(context.Context, string) (App, error) { return m, nil }
	t.Cleanup(func() { newApp = prev })
}

func testStore(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.New(ledger.Config{
		Path: filepath.Join(t.TempDir(), "ledger.csv"),
	}, system.New(), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Initialize())
	return store
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	m := &mockApp{
		store: testStore(t),
		report: bot.CycleReport{
			CycleID:  "cycle-1",
			Dispatch: bot.DispatchStats{Found: 3, Sent: 2, SkippedJob: 1},
		},
	}
	installMockApp(t, m)

	out, err := execute(t, "run")
	require.NoError(t, err)
	assert.True(t, m.ranOnce)
	assert.True(t, m.closed)
	assert.Contains(t, out, "cycle cycle-1")
	assert.Contains(t, out, "sent=2")
}

func TestScheduleCommand(t *testing.T) {
	m := &mockApp{store: testStore(t)}
	installMockApp(t, m)

	_, err := execute(t, "schedule")
	require.NoError(t, err)
	assert.True(t, m.ranSched)
	assert.True(t, m.closed)
}

func TestReportCommand(t *testing.T) {
	store := testStore(t)
	now := time.Now()
	for _, rec := range []bot.ApplicationRecord{
		{JobID: "A", JobTitle: "Java Developer", Email: "jobs@acme.com", AppliedAt: now, Status: bot.StatusSent},
		{JobID: "B", JobTitle: "Java Architect", Email: "jobs@acme.com", AppliedAt: now, Status: bot.StatusFailed},
	} {
		require.NoError(t, store.Append(rec))
	}
	installMockApp(t, &mockApp{store: store})

	out, err := execute(t, "report")
	require.NoError(t, err)
	assert.Contains(t, out, "total applications: 2")
	assert.Contains(t, out, "jobs@acme.com (2 attempts)")
}

func TestResetCommand(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Append(bot.ApplicationRecord{
		JobID: "A", Email: "jobs@acme.com", AppliedAt: time.Now(), Status: bot.StatusSent,
	}))
	installMockApp(t, &mockApp{store: store})

	out, err := execute(t, "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared")

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestRootReportsFactoryFailure(t *testing.T) {
	prev := newApp
	newApp = func(context.Context, string) (App, error) {
		return nil, errors.New("config exploded")
	}
	t.Cleanup(func() { newApp = prev })

	_, err := execute(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initialize application services")
}
