package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	listingURL = "https://jobs.example.com/search_sph.jsp"
	baseURL    = "https://jobs.example.com/"
)

func newTestHarvester(site *fakeSite, cfg HarvestConfig, filter FilterConfig) *Harvester {
	if cfg.WorkerCount == 0 {
		cfg.WorkerCount = 2
	}
	ex := NewExtractor(site, filter, nil)
	return NewHarvester(site, ex, cfg, nil, nil)
}

func wirePosting(site *fakeSite, path, headline, body string) string {
	u := baseURL + path
	site.pages[u] = postingPage(headline, body)
	return u
}

func TestHarvestRun(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	a := wirePosting(site, "job_details.jsp?jid=A", "Java Developer at NYC", "jobs@acme.com")
	b := wirePosting(site, "job_details.jsp?jid=B", "Go Engineer at Remote", "hr@initech.com")
	site.pages[listingURL] = listingPage([]string{a, b}, "")

	h := newTestHarvester(site, HarvestConfig{ListingURL: listingURL}, FilterConfig{})
	records, stats, err := h.Run(context.Background(), "cycle-1")
	require.NoError(t, err)

	assert.Equal(t, 2, stats.URLsFound)
	assert.Equal(t, 2, stats.Success)
	assert.Zero(t, stats.Errors)

	// Results arrive in completion order; compare as a set.
	ids := make(map[string]bool)
	for _, rec := range records {
		ids[rec.JobID] = true
	}
	assert.Equal(t, map[string]bool{"A": true, "B": true}, ids)

	// One session for the listing plus one per detail page, all released.
	assert.Equal(t, 3, site.closedSessions())
}

func TestHarvestCollapsesDuplicateJobIDs(t *testing.T) {
	t.Parallel()

	// The same posting linked twice, under two distinct URLs carrying the
	// same identity, must yield exactly one record.
	site := newFakeSite()
	first := wirePosting(site, "job_details.jsp?jid=A", "Java Developer at NYC", "jobs@acme.com")
	second := wirePosting(site, "job_details.jsp?jid=A&ref=2", "Java Developer at NYC", "jobs@acme.com")
	site.pages[listingURL] = listingPage([]string{first, second, first}, "")

	h := newTestHarvester(site, HarvestConfig{ListingURL: listingURL}, FilterConfig{})
	records, stats, err := h.Run(context.Background(), "cycle-1")
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, "A", records[0].JobID)
	assert.Equal(t, 1, stats.Success)
	assert.Equal(t, 1, stats.Duplicates)
	// Literal duplicate hrefs are already collapsed at the listing.
	assert.Equal(t, 2, stats.URLsFound)
}

func TestHarvestTalliesOutcomeKinds(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	ok := wirePosting(site, "job_details.jsp?jid=A", "Java Developer at NYC", "jobs@acme.com")
	filtered := wirePosting(site, "job_details.jsp?jid=B", "Senior Java Developer", "jobs@bigco.com")
	noContact := wirePosting(site, "job_details.jsp?jid=C", "Java Developer at LA", "call us maybe")
	broken := baseURL + "job_details.jsp?jid=D"
	site.navErr[broken] = errors.New("net::ERR_CONNECTION_RESET")
	site.pages[listingURL] = listingPage([]string{ok, filtered, noContact, broken}, "")

	h := newTestHarvester(site, HarvestConfig{ListingURL: listingURL},
		FilterConfig{ExcludeKeywords: []string{"senior"}})
	records, stats, err := h.Run(context.Background(), "cycle-1")
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, 1, stats.Success)
	assert.Equal(t, 1, stats.Filtered)
	assert.Equal(t, 1, stats.NoContact)
	assert.Equal(t, 1, stats.Errors)
}

func TestHarvestListingFailure(t *testing.T) {
	t.Parallel()

	t.Run("MissingURL", func(t *testing.T) {
		t.Parallel()
		h := newTestHarvester(newFakeSite(), HarvestConfig{}, FilterConfig{})
		_, _, err := h.Run(context.Background(), "cycle-1")
		require.Error(t, err)
	})

	t.Run("NavigationError", func(t *testing.T) {
		t.Parallel()
		site := newFakeSite()
		site.navErr[listingURL] = errors.New("net::ERR_TIMED_OUT")
		h := newTestHarvester(site, HarvestConfig{ListingURL: listingURL}, FilterConfig{})
		_, _, err := h.Run(context.Background(), "cycle-1")
		require.Error(t, err)
		assert.Equal(t, 1, site.closedSessions())
	})
}

func TestRunSearchPaginatesUntilNextDisappears(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	a := wirePosting(site, "job_details.jsp?jid=A", "Java Developer at NYC", "jobs@acme.com")
	b := wirePosting(site, "job_details.jsp?jid=B", "Java Architect at SF", "hr@initech.com")

	page2 := baseURL + "results?page=2"
	site.pages[baseURL] = listingPage(nil, "")
	site.searchResults["java"] = baseURL + "results?page=1"
	site.pages[baseURL+"results?page=1"] = listingPage([]string{a}, page2)
	// The last page has no Next control, so pagination stops here even
	// though the ceiling allows more pages.
	site.pages[page2] = listingPage([]string{b}, "")

	h := newTestHarvester(site, HarvestConfig{
		BaseURL:     baseURL,
		SearchTerms: []string{"java"},
		MaxPages:    10,
	}, FilterConfig{})
	records, stats, err := h.RunSearch(context.Background(), "cycle-1")
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 2, stats.URLsFound)
	require.Len(t, records, 2)
}

func TestRunSearchMergesTermsAndSurvivesTermFailure(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	a := wirePosting(site, "job_details.jsp?jid=A", "Java Developer at NYC", "jobs@acme.com")

	site.pages[baseURL] = listingPage(nil, "")
	results := baseURL + "results?q=any"
	site.searchResults["java"] = results
	site.searchResults["golang"] = results
	site.searchErr["cobol"] = errors.New("search box gone")
	site.pages[results] = listingPage([]string{a}, "")

	h := newTestHarvester(site, HarvestConfig{
		BaseURL:     baseURL,
		SearchTerms: []string{"java", "cobol", "golang"},
	}, FilterConfig{})
	records, stats, err := h.RunSearch(context.Background(), "cycle-1")
	require.NoError(t, err)

	// Both successful terms return the same posting; the failed term is
	// logged and skipped, not fatal.
	require.Len(t, records, 1)
	assert.Equal(t, 1, stats.URLsFound)
	assert.Equal(t, 1, stats.Success)
}

func TestRunSearchHonorsPageCeiling(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	a := wirePosting(site, "job_details.jsp?jid=A", "Java Developer at NYC", "jobs@acme.com")

	// Every results page links to the next one forever; only the ceiling
	// can stop the walk.
	p1 := baseURL + "results?page=1"
	p2 := baseURL + "results?page=2"
	p3 := baseURL + "results?page=3"
	site.pages[baseURL] = listingPage(nil, "")
	site.searchResults["java"] = p1
	site.pages[p1] = listingPage([]string{a}, p2)
	site.pages[p2] = listingPage([]string{a}, p3)
	site.pages[p3] = listingPage([]string{a}, p1)

	h := newTestHarvester(site, HarvestConfig{
		BaseURL:     baseURL,
		SearchTerms: []string{"java"},
		MaxPages:    2,
	}, FilterConfig{})
	_, stats, err := h.RunSearch(context.Background(), "cycle-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Pages)
}

func TestCollectDetailURLs(t *testing.T) {
	t.Parallel()

	html := `<html><body>
		<a href="job_details.jsp?jid=A">one</a>
		<a href="/job_details.jsp?jid=B">two</a>
		<a href="job_details.jsp?jid=A">dup</a>
		<a href="about.jsp">not a posting</a>
	</body></html>`

	urls := collectDetailURLs(html, "https://jobs.example.com/search_sph.jsp")
	assert.Equal(t, []string{
		"https://jobs.example.com/job_details.jsp?jid=A",
		"https://jobs.example.com/job_details.jsp?jid=B",
	}, urls)
}

func TestNextPageURL(t *testing.T) {
	t.Parallel()

	withNext := `<a href="results?page=2">Next</a>`
	assert.Equal(t, "https://jobs.example.com/results?page=2",
		nextPageURL(withNext, "https://jobs.example.com/results?page=1"))

	withoutNext := `<a href="results?page=2">More</a>`
	assert.Empty(t, nextPageURL(withoutNext, "https://jobs.example.com/results?page=1"))
}
