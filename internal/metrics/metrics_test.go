package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://jobs.nvoids.com/job_details.jsp?id=1", "jobs.nvoids.com"},
		{"standard https", "https://Jobs.Nvoids.com/path", "jobs.nvoids.com"},
		{"no scheme", "jobs.nvoids.com/path", "jobs.nvoids.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Reset collectors for testing purposes.
	httpRequestsTotal = nil
	httpRequestDurationSeconds = nil
	rateLimitDelaysSeconds = nil
	browserSessionsActive = nil
	browserSessionRetriesTotal = nil

	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if httpRequestsTotal == nil || httpRequestDurationSeconds == nil ||
		rateLimitDelaysSeconds == nil || browserSessionsActive == nil ||
		browserSessionRetriesTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	// A simple check to see if a metric can be used.
	httpRequestsTotal.WithLabelValues("GET", "200").Inc()
	if val := testutil.ToFloat64(httpRequestsTotal); val != 1 {
		t.Errorf("Expected httpRequestsTotal to be 1, got %f", val)
	}
}

func TestBrowserSessionCollectors(t *testing.T) {
	Init()

	IncBrowserSessions()
	IncBrowserSessions()
	DecBrowserSessions()
	if val := testutil.ToFloat64(browserSessionsActive); val != 1 {
		t.Errorf("Expected browserSessionsActive to be 1, got %f", val)
	}
	DecBrowserSessions()

	before := testutil.ToFloat64(browserSessionRetriesTotal)
	ObserveSessionRetry()
	if val := testutil.ToFloat64(browserSessionRetriesTotal); val != before+1 {
		t.Errorf("Expected browserSessionRetriesTotal to grow by 1, got %f", val-before)
	}
}

func TestObserveRateLimitDelay(t *testing.T) {
	Init()

	before := testutil.CollectAndCount(rateLimitDelaysSeconds)
	ObserveRateLimitDelay("https://jobs.nvoids.com/index.jsp", 250*time.Millisecond)
	ObserveRateLimitDelay("://bad", time.Millisecond)
	after := testutil.CollectAndCount(rateLimitDelaysSeconds)
	if after <= before {
		t.Errorf("Expected new rate limit series, had %d then %d", before, after)
	}
}

// Fuzz test for SanitizeHost.
func FuzzSanitizeHost(f *testing.F) {
	testcases := []string{"http://jobs.nvoids.com", "https://example.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeHost(orig)
		if sanitized == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}
