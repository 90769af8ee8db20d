package bot

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"applybot/internal/progress"
)

const (
	defaultWorkerCount = 3
	defaultMaxPages    = 5

	// detailLinkMarker identifies posting-detail hrefs on listing pages.
	detailLinkMarker = "job_details"

	// nextLinkText is the pagination control's exact link text.
	nextLinkText = "Next"
)

// HarvestConfig controls listing discovery and the worker pool.
type HarvestConfig struct {
	// ListingURL is the fixed pre-searched listing page.
	ListingURL string
	// BaseURL is the site entry page used by the legacy keyword flow.
	BaseURL string
	// SearchTerms drive the legacy keyword flow, one live search per term.
	SearchTerms []string
	// WorkerCount bounds the detail-extraction pool.
	WorkerCount int
	// MaxPages caps pagination per search term.
	MaxPages int
	// SearchPause is the fixed delay between search terms.
	SearchPause time.Duration
}

// Harvester fetches listing pages and fans detail extraction out across a
// bounded worker pool. Workers share only the session factory and a
// synchronized dedup set; results arrive in completion order.
type Harvester struct {
	sessions SessionFactory
	extract  *Extractor
	cfg      HarvestConfig
	emit     progress.Emitter
	log      *zap.Logger
}

// NewHarvester builds a Harvester.
func NewHarvester(sessions SessionFactory, extract *Extractor, cfg HarvestConfig, emit progress.Emitter, log *zap.Logger) *Harvester {
	if log == nil {
		log = zap.NewNop()
	}
	return &Harvester{
		sessions: sessions,
		extract:  extract,
		cfg:      cfg,
		emit:     emit,
		log:      log.Named("harvest"),
	}
}

// Run fetches the fixed listing page and extracts every distinct posting it
// links to. The returned records carry no ordering guarantee relative to the
// listing; duplicates by job identity collapse to the first completion.
func (h *Harvester) Run(ctx context.Context, cycleID string) ([]JobRecord, HarvestStats, error) {
	urls, err := h.listingURLs(ctx)
	if err != nil {
		return nil, HarvestStats{}, err
	}
	stats := HarvestStats{URLsFound: len(urls), Pages: 1}
	h.log.Info("listing harvested",
		zap.String("cycle_id", cycleID),
		zap.Int("urls", len(urls)),
	)
	records := h.extractAll(ctx, cycleID, urls, &stats)
	return records, stats, nil
}

// RunSearch drives the legacy keyword flow: one live search per configured
// term, paginating until the next-page control disappears, then the same
// bounded extraction pool over the merged URL set.
func (h *Harvester) RunSearch(ctx context.Context, cycleID string) ([]JobRecord, HarvestStats, error) {
	var (
		stats HarvestStats
		urls  []string
		seen  = make(map[string]struct{})
	)

	for i, term := range h.cfg.SearchTerms {
		if i > 0 {
			if err := pause(ctx, h.cfg.SearchPause); err != nil {
				return nil, stats, err
			}
		}
		termURLs, pages, err := h.searchTerm(ctx, term)
		stats.Pages += pages
		if err != nil {
			h.log.Warn("search term failed",
				zap.String("cycle_id", cycleID),
				zap.String("term", term),
				zap.Error(err),
			)
			continue
		}
		for _, u := range termURLs {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}
	}

	stats.URLsFound = len(urls)
	h.log.Info("search harvested",
		zap.String("cycle_id", cycleID),
		zap.Int("terms", len(h.cfg.SearchTerms)),
		zap.Int("pages", stats.Pages),
		zap.Int("urls", len(urls)),
	)
	records := h.extractAll(ctx, cycleID, urls, &stats)
	return records, stats, nil
}

// listingURLs loads the fixed listing page in its own scoped session.
func (h *Harvester) listingURLs(ctx context.Context) ([]string, error) {
	if h.cfg.ListingURL == "" {
		return nil, fmt.Errorf("listing url not configured")
	}
	sess, err := h.sessions.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listing session: %w", err)
	}
	defer sess.Close()

	if err := sess.Navigate(ctx, h.cfg.ListingURL); err != nil {
		return nil, fmt.Errorf("load listing: %w", err)
	}
	html, err := sess.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read listing: %w", err)
	}
	return collectDetailURLs(html, h.cfg.ListingURL), nil
}

// searchTerm performs one live search and pages through its results,
// returning every detail URL found and the number of pages visited.
func (h *Harvester) searchTerm(ctx context.Context, term string) ([]string, int, error) {
	if h.cfg.BaseURL == "" {
		return nil, 0, fmt.Errorf("base url not configured")
	}
	sess, err := h.sessions.Acquire(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("acquire search session: %w", err)
	}
	defer sess.Close()

	if err := sess.Navigate(ctx, h.cfg.BaseURL); err != nil {
		return nil, 0, fmt.Errorf("load search page: %w", err)
	}
	if err := sess.Search(ctx, term); err != nil {
		return nil, 0, fmt.Errorf("submit search %q: %w", term, err)
	}

	var (
		urls  []string
		seen  = make(map[string]struct{})
		pages int
	)
	current := h.cfg.BaseURL
	for page := 0; page < h.maxPages(); page++ {
		html, err := sess.HTML(ctx)
		if err != nil {
			return urls, pages, fmt.Errorf("read results page: %w", err)
		}
		pages++

		pageURLs := collectDetailURLs(html, current)
		// A page with no detail links means the result set ran out.
		if len(pageURLs) == 0 {
			break
		}
		for _, u := range pageURLs {
			if _, dup := seen[u]; dup {
				continue
			}
			seen[u] = struct{}{}
			urls = append(urls, u)
		}

		// Pagination ends the moment the control disappears, no matter
		// how many pages the ceiling still allows.
		next := nextPageURL(html, current)
		if next == "" {
			break
		}
		if err := sess.Navigate(ctx, next); err != nil {
			return urls, pages, fmt.Errorf("next page: %w", err)
		}
		current = next
	}
	return urls, pages, nil
}

// extractAll runs the bounded pool over urls, collecting results as they
// complete. Workers never return errors; per-URL failures become tallies so
// one bad posting cannot cancel its siblings.
func (h *Harvester) extractAll(ctx context.Context, cycleID string, urls []string, stats *HarvestStats) []JobRecord {
	var (
		mu      sync.Mutex
		records []JobRecord
		tracker jobTracker
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(h.workerCount())
	for _, u := range urls {
		u := u
		g.Go(func() error {
			start := time.Now()
			res := h.extract.Extract(ctx, u)
			h.emitDetail(cycleID, u, res, time.Since(start))

			mu.Lock()
			defer mu.Unlock()
			switch res.Outcome {
			case OutcomeSuccess:
				if tracker.MarkIfNew(res.Record.JobID) {
					records = append(records, res.Record)
					stats.Success++
				} else {
					stats.Duplicates++
				}
			case OutcomeFiltered:
				stats.Filtered++
			case OutcomeNoContact:
				stats.NoContact++
			default:
				stats.Errors++
				h.log.Warn("detail extraction failed",
					zap.String("cycle_id", cycleID),
					zap.String("url", u),
					zap.String("reason", res.Reason),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return records
}

func (h *Harvester) emitDetail(cycleID, url string, res DetailResult, dur time.Duration) {
	if h.emit == nil {
		return
	}
	h.emit.Emit(progress.Event{
		CycleID: cycleID,
		TS:      time.Now().UTC(),
		Stage:   progress.StageDetailDone,
		Outcome: string(res.Outcome),
		URL:     url,
		Dur:     dur,
		Note:    res.Reason,
	})
}

func (h *Harvester) workerCount() int {
	if h.cfg.WorkerCount > 0 {
		return h.cfg.WorkerCount
	}
	return defaultWorkerCount
}

func (h *Harvester) maxPages() int {
	if h.cfg.MaxPages > 0 {
		return h.cfg.MaxPages
	}
	return defaultMaxPages
}

// collectDetailURLs pulls every posting-detail href out of a listing or
// results document, absolutized against base, distinct, first-seen order.
func collectDetailURLs(html, base string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	var (
		urls []string
		seen = make(map[string]struct{})
	)
	doc.Find("a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || !strings.Contains(href, detailLinkMarker) {
			return
		}
		resolved := resolveURL(base, href)
		if resolved == "" {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		urls = append(urls, resolved)
	})
	return urls
}

// nextPageURL returns the absolutized href of the pagination control, or ""
// when the control is absent.
func nextPageURL(html, base string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	var next string
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if strings.TrimSpace(a.Text()) != nextLinkText {
			return true
		}
		href, ok := a.Attr("href")
		if !ok {
			return true
		}
		next = resolveURL(base, href)
		return next == ""
	})
	return next
}

// resolveURL absolutizes href against base, returning "" for unparseable input.
func resolveURL(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	h, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return b.ResolveReference(h).String()
}
