// Package browser hands out configured, isolated chromedp sessions backed by
// one shared headless Chrome process that is initialized at most once.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"applybot/internal/bot"
	"applybot/internal/metrics"
	"applybot/internal/policy/ratelimit"
)

// newAllocator builds the exec allocator; a package variable so tests can
// substitute a failing allocator without spawning Chrome.
var newAllocator = chromedp.NewExecAllocator

// Config controls the shared driver service and its sessions.
type Config struct {
	Headless          bool
	UserAgent         string
	MaxParallel       int
	SessionRetries    int
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	HostQPS           float64
}

// Service owns the process-wide Chrome allocator. The first Acquire
// initializes it; initialization failure is remembered and returned to every
// caller without another attempt.
type Service struct {
	cfg     Config
	log     *zap.Logger
	retry   *retryPolicy
	limiter chan struct{}
	pacer   *ratelimit.Limiter

	initOnce      sync.Once
	initErr       error
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// New validates cfg and builds a Service. Chrome itself is not started until
// the first session is acquired.
func New(cfg Config, log *zap.Logger) (*Service, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	var pacer *ratelimit.Limiter
	if cfg.HostQPS > 0 {
		pacer = ratelimit.New(ratelimit.Config{RPS: cfg.HostQPS, Burst: 1})
	}
	return &Service{
		cfg:     cfg,
		log:     log.Named("browser"),
		retry:   newRetryPolicy(cfg.SessionRetries),
		limiter: limiter,
		pacer:   pacer,
	}, nil
}

// init starts Chrome exactly once. sync.Once makes the first caller win and
// replays the stored error to everyone else.
func (s *Service) init() error {
	s.initOnce.Do(func() {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			headlessFlag(s.cfg.Headless),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("disable-blink-features", "AutomationControlled"),
			chromedp.Flag("enable-automation", false),
		)
		if s.cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(s.cfg.UserAgent))
		}
		allocCtx, allocCancel := newAllocator(context.Background(), opts...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)
		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			allocCancel()
			s.initErr = fmt.Errorf("driver service init: %w", err)
			return
		}
		s.allocCancel = allocCancel
		s.browserCtx = browserCtx
		s.browserCancel = browserCancel
		s.log.Info("driver service initialized", zap.Bool("headless", s.cfg.Headless))
	})
	return s.initErr
}

// Acquire returns an exclusive session, blocking while all slots are busy.
// Tab creation is retried a bounded number of times with jittered backoff;
// driver-service init failure is returned as-is, never retried.
func (s *Service) Acquire(ctx context.Context) (bot.Session, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	release, err := s.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
		stopForward := forwardCancel(ctx, tabCancel)
		err := chromedp.Run(tabCtx)
		stopForward()
		if err == nil {
			metrics.IncBrowserSessions()
			return &session{svc: s, tabCtx: tabCtx, tabCancel: tabCancel, release: release}, nil
		}
		tabCancel()
		if !s.retry.ShouldRetry(err, attempt) {
			release()
			return nil, fmt.Errorf("create session: %w", err)
		}
		metrics.ObserveSessionRetry()
		backoff := s.retry.Backoff(attempt)
		s.log.Warn("session creation failed, backing off",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if err := sleep(ctx, backoff); err != nil {
			release()
			return nil, err
		}
	}
}

// Close tears down the browser and allocator. Acquire must not be called
// afterwards.
func (s *Service) Close() {
	if s.browserCancel != nil {
		s.browserCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
}

func (s *Service) acquireSlot(ctx context.Context) (func(), error) {
	if s.limiter == nil {
		return func() {}, nil
	}
	select {
	case s.limiter <- struct{}{}:
		return func() { <-s.limiter }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("session slot wait canceled: %w", ctx.Err())
	}
}

// waitHostBudget paces navigations per host so parallel workers cannot
// hammer the listing site.
func (s *Service) waitHostBudget(ctx context.Context, rawURL string) error {
	if s.pacer == nil {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse navigation url: %w", err)
	}
	if err := s.pacer.Wait(ctx, strings.ToLower(parsed.Host)); err != nil {
		return fmt.Errorf("wait host budget: %w", err)
	}
	return nil
}

// session is one exclusive Chrome tab. It implements bot.Session.
type session struct {
	svc       *Service
	tabCtx    context.Context
	tabCancel context.CancelFunc
	closeOnce sync.Once
	release   func()
}

// Navigate loads url and waits for the document body plus a settle delay so
// script-rendered tables are present before HTML is read.
func (s *session) Navigate(ctx context.Context, url string) error {
	if err := s.svc.waitHostBudget(ctx, url); err != nil {
		return err
	}
	actions := chromedp.Tasks{
		s.networkSetup(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.svc.cfg.SettleDelay),
	}
	if err := s.run(ctx, actions); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// HTML returns the rendered document.
func (s *session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.Tasks{chromedp.OuterHTML("html", &html, chromedp.ByQuery)}); err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return html, nil
}

// searchSelectors are tried in order until one matches a visible input.
var searchSelectors = []string{
	`input[name="keyword"]`,
	`input[name="search"]`,
	`#keyword`,
	`#search`,
	`input[type="text"]`,
}

// perSelectorTimeout bounds how long Search waits for each candidate input.
const perSelectorTimeout = 2 * time.Second

// Search types query into the page's search input and submits it with Enter,
// then waits for the results document.
func (s *session) Search(ctx context.Context, query string) error {
	var lastErr error
	for _, sel := range searchSelectors {
		attempt := func() error {
			tryCtx, cancel := context.WithTimeout(ctx, perSelectorTimeout)
			defer cancel()
			return s.runWith(tryCtx, chromedp.Tasks{
				chromedp.WaitVisible(sel, chromedp.ByQuery),
				chromedp.Clear(sel, chromedp.ByQuery),
				chromedp.SendKeys(sel, query+kb.Enter, chromedp.ByQuery),
			})
		}
		if err := attempt(); err != nil {
			lastErr = err
			continue
		}
		settle := chromedp.Tasks{
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Sleep(s.svc.cfg.SettleDelay),
		}
		if err := s.run(ctx, settle); err != nil {
			return fmt.Errorf("wait for results: %w", err)
		}
		return nil
	}
	return fmt.Errorf("no search input found: %w", lastErr)
}

// Close releases the tab and its slot. Safe to call more than once.
func (s *session) Close() {
	s.closeOnce.Do(func() {
		s.tabCancel()
		s.release()
		metrics.DecBrowserSessions()
	})
}

// run executes actions against the tab under the configured navigation
// timeout, honoring cancellation of the caller's ctx.
func (s *session) run(ctx context.Context, actions chromedp.Action) error {
	taskCtx, cancel := context.WithTimeout(s.tabCtx, s.svc.cfg.NavigationTimeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()
	return chromedp.Run(taskCtx, actions)
}

// runWith is run with the deadline already applied by the caller.
func (s *session) runWith(ctx context.Context, actions chromedp.Action) error {
	taskCtx, cancel := context.WithCancel(s.tabCtx)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()
	return chromedp.Run(taskCtx, actions)
}

func (s *session) networkSetup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if ua := s.svc.cfg.UserAgent; ua != "" {
			if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func headlessFlag(enabled bool) chromedp.ExecAllocatorOption {
	if enabled {
		return chromedp.Flag("headless", "new")
	}
	return chromedp.Flag("headless", false)
}

// forwardCancel propagates cancellation from parent onto cancel until the
// returned stop function runs.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// sleep blocks for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
