package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"applybot/internal/progress"
)

// fakeSite is an in-memory stand-in for the browser service: a page map, a
// keyword index, and injectable failures.
type fakeSite struct {
	mu            sync.Mutex
	pages         map[string]string
	navErr        map[string]error
	searchResults map[string]string
	searchErr     map[string]error
	acquireErr    error
	acquired      int
	closed        int
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		pages:         make(map[string]string),
		navErr:        make(map[string]error),
		searchResults: make(map[string]string),
		searchErr:     make(map[string]error),
	}
}

func (f *fakeSite) Acquire(context.Context) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	f.acquired++
	return &fakeSession{site: f}, nil
}

func (f *fakeSite) closedSessions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeSession struct {
	site    *fakeSite
	current string
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.site.mu.Lock()
	defer s.site.mu.Unlock()
	if err := s.site.navErr[url]; err != nil {
		return err
	}
	s.current = url
	return nil
}

func (s *fakeSession) HTML(context.Context) (string, error) {
	s.site.mu.Lock()
	defer s.site.mu.Unlock()
	html, ok := s.site.pages[s.current]
	if !ok {
		return "", fmt.Errorf("no page wired at %q", s.current)
	}
	return html, nil
}

func (s *fakeSession) Search(_ context.Context, query string) error {
	s.site.mu.Lock()
	defer s.site.mu.Unlock()
	if err := s.site.searchErr[query]; err != nil {
		return err
	}
	dest, ok := s.site.searchResults[query]
	if !ok {
		return fmt.Errorf("no results wired for %q", query)
	}
	s.current = dest
	return nil
}

func (s *fakeSession) Close() {
	s.site.mu.Lock()
	defer s.site.mu.Unlock()
	s.site.closed++
}

// postingPage renders a minimal detail document: headline row plus body text.
func postingPage(headline, body string) string {
	return fmt.Sprintf(
		`<html><body><table><tr><td>%s</td></tr></table><p>%s</p></body></html>`,
		headline, body,
	)
}

// listingPage renders a results document with detail anchors and an optional
// next-page control.
func listingPage(hrefs []string, next string) string {
	var b strings.Builder
	b.WriteString("<html><body><table><tr><td>Job Listings</td></tr></table>")
	for _, href := range hrefs {
		fmt.Fprintf(&b, `<a href="%s">view</a>`, href)
	}
	if next != "" {
		fmt.Fprintf(&b, `<a href="%s">Next</a>`, next)
	}
	b.WriteString("</body></html>")
	return b.String()
}

// memLedger is an in-memory bot.Ledger with injectable pre-existing history.
type memLedger struct {
	mu         sync.Mutex
	appended   []ApplicationRecord
	applied    map[string]bool
	contacted  map[string]bool
	sentJobs   map[string]bool
	sentEmails map[string]bool
	today      int
	initCalls  int
	initErr    error
}

func newMemLedger() *memLedger {
	return &memLedger{
		applied:    make(map[string]bool),
		contacted:  make(map[string]bool),
		sentJobs:   make(map[string]bool),
		sentEmails: make(map[string]bool),
	}
}

func (l *memLedger) Initialize() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.initCalls++
	return l.initErr
}

func (l *memLedger) HasAppliedToJob(jobID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applied[jobID], nil
}

func (l *memLedger) HasContactedEmail(email string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.contacted[strings.ToLower(email)], nil
}

func (l *memLedger) HasSentToJob(jobID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sentJobs[jobID], nil
}

func (l *memLedger) HasSentToEmail(email string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sentEmails[strings.ToLower(email)], nil
}

func (l *memLedger) CountAppliedToday() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.today, nil
}

func (l *memLedger) Append(rec ApplicationRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appended = append(l.appended, rec)
	l.applied[rec.JobID] = true
	l.contacted[strings.ToLower(rec.Email)] = true
	if rec.Status == StatusSent {
		l.sentJobs[rec.JobID] = true
		l.sentEmails[strings.ToLower(rec.Email)] = true
	}
	l.today++
	return nil
}

func (l *memLedger) Reset() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appended = nil
	l.today = 0
	return "backup.csv", nil
}

func (l *memLedger) records() []ApplicationRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ApplicationRecord, len(l.appended))
	copy(out, l.appended)
	return out
}

// fakeMailer records sends and fails for selected addresses.
type fakeMailer struct {
	mu      sync.Mutex
	sent    []JobRecord
	failFor map[string]bool
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{failFor: make(map[string]bool)}
}

func (m *fakeMailer) Send(_ context.Context, rec JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[rec.Email] {
		return errors.New("smtp unavailable")
	}
	m.sent = append(m.sent, rec)
	return nil
}

func (m *fakeMailer) sentRecords() []JobRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]JobRecord, len(m.sent))
	copy(out, m.sent)
	return out
}

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

type stubIDs struct{ id string }

func (s stubIDs) NewID() (string, error) {
	if s.id == "" {
		return "0198f2f0-0000-7000-8000-000000000001", nil
	}
	return s.id, nil
}

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *captureEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *captureEmitter) all() []progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]progress.Event, len(e.events))
	copy(out, e.events)
	return out
}
