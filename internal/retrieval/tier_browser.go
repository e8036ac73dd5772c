package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrBrowserDisabled indicates browser automation has been disabled via
// configuration.
var ErrBrowserDisabled = errors.New("browser automation disabled")

// BrowserConfig controls the last-resort automation tier.
type BrowserConfig struct {
	MaxParallel  int
	NavTimeout   time.Duration
	ScrollToLoad bool
	UserAgent    string
	DomainQPS    float64
}

// BrowserStrategy drives a local headless browser. Last resort: it is slow
// and expensive, but renders everything. Wait conditions are attempted in
// order (network-idle, then DOM-ready, then the load event), each with its
// own slice of the navigation timeout.
type BrowserStrategy struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	cfg             BrowserConfig
	sem             chan struct{}
	domainLimiters  sync.Map
	log             *zap.Logger
}

// NewBrowserStrategy warms up a headless browser. Returns ErrBrowserDisabled
// when MaxParallel is zero so callers can degrade instead of failing startup.
func NewBrowserStrategy(cfg BrowserConfig, logger *zap.Logger) (*BrowserStrategy, error) {
	if cfg.MaxParallel <= 0 {
		return nil, ErrBrowserDisabled
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultChromeUA
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &BrowserStrategy{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		cfg:             cfg,
		sem:             make(chan struct{}, cfg.MaxParallel),
		log:             logger,
	}, nil
}

// Close tears down the browser and allocator contexts.
func (s *BrowserStrategy) Close() {
	if s == nil {
		return
	}
	s.browserCancel()
	s.allocatorCancel()
}

// Name implements Strategy.
func (s *BrowserStrategy) Name() Tier {
	return TierBrowser
}

// Attempt implements Strategy.
func (s *BrowserStrategy) Attempt(ctx context.Context, req Request) (Result, error) {
	if s == nil {
		return Result{}, NewFailure(ContentAbsent, "browser automation unavailable")
	}

	release, err := s.acquireSlot(ctx)
	if err != nil {
		return Result{}, NewFailure(BudgetExceeded, "acquire browser slot: %v", err)
	}
	defer release()

	if err := s.waitDomainBudget(ctx, req.Domain()); err != nil {
		return Result{}, NewFailure(BudgetExceeded, "browser rate limit: %v", err)
	}

	html, status, err := s.navigate(ctx, req.URL)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, NewFailure(BudgetExceeded, "browser navigation: %v", err)
		}
		return Result{}, NewFailure(ContentAbsent, "browser navigation: %v", err)
	}
	if status >= 400 {
		return Result{}, StatusFailure(status, fmt.Sprintf("browser fetch %s", req.URL))
	}
	if strings.TrimSpace(html) == "" {
		return Result{}, NewFailure(ContentAbsent, "browser returned empty document")
	}
	return Succeeded(TierBrowser, req.URL, []byte(html)), nil
}

func (s *BrowserStrategy) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case s.sem <- struct{}{}:
		return func() { <-s.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *BrowserStrategy) navigate(ctx context.Context, rawURL string) (string, int, error) {
	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, s.cfg.NavTimeout)
	defer cancelTask()
	stop := forwardCancel(ctx, cancelTask)
	defer stop()

	idle := newIdleWatcher(tabCtx)
	meta := recordDocumentResponse(tabCtx)

	if err := chromedp.Run(taskCtx, network.Enable(), chromedp.Navigate(rawURL)); err != nil {
		return "", 0, fmt.Errorf("navigate: %w", err)
	}

	s.awaitReadiness(taskCtx, idle)

	if s.cfg.ScrollToLoad {
		s.scrollThrough(taskCtx)
	}

	var html string
	if err := chromedp.Run(taskCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", 0, fmt.Errorf("extract html: %w", err)
	}
	return html, meta.status(), nil
}

// awaitReadiness tries the wait ladder: network idle, then DOM ready, then
// the load event. Each rung gets its own slice of the timeout; a rung timing
// out just drops to the next one.
func (s *BrowserStrategy) awaitReadiness(ctx context.Context, idle *idleWatcher) {
	slice := s.cfg.NavTimeout / 4

	idleCtx, cancel := context.WithTimeout(ctx, slice)
	err := idle.wait(idleCtx, 500*time.Millisecond)
	cancel()
	if err == nil {
		return
	}

	readyCtx, cancel := context.WithTimeout(ctx, slice)
	err = chromedp.Run(readyCtx, chromedp.WaitReady("body", chromedp.ByQuery))
	cancel()
	if err == nil {
		return
	}

	loadCtx, cancel := context.WithTimeout(ctx, slice)
	defer cancel()
	_ = chromedp.Run(loadCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		for {
			var state string
			if err := chromedp.Evaluate(`document.readyState`, &state).Do(ctx); err != nil {
				return err
			}
			if state == "complete" {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}
	}))
}

// scrollThrough simulates scripted scroll-to-load so lazy content mounts.
func (s *BrowserStrategy) scrollThrough(ctx context.Context) {
	for i := 0; i < 4; i++ {
		err := chromedp.Run(ctx,
			chromedp.Evaluate(`window.scrollBy(0, document.body.scrollHeight / 3)`, nil),
			chromedp.Sleep(400*time.Millisecond),
		)
		if err != nil {
			return
		}
	}
	_ = chromedp.Run(ctx, chromedp.Evaluate(`window.scrollTo(0, 0)`, nil))
}

func (s *BrowserStrategy) waitDomainBudget(ctx context.Context, domain string) error {
	if s.cfg.DomainQPS <= 0 || domain == "" {
		return nil
	}
	val, _ := s.domainLimiters.LoadOrStore(domain, rate.NewLimiter(rate.Limit(s.cfg.DomainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	return limiter.Wait(ctx)
}

// idleWatcher tracks in-flight document/XHR requests on a tab and reports
// when the network has gone quiet.
type idleWatcher struct {
	mu       sync.Mutex
	inflight int
	lastDone time.Time
}

func newIdleWatcher(tabCtx context.Context) *idleWatcher {
	w := &idleWatcher{lastDone: time.Now()}
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			w.mu.Lock()
			w.inflight++
			w.mu.Unlock()
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			w.mu.Lock()
			if w.inflight > 0 {
				w.inflight--
			}
			w.lastDone = time.Now()
			w.mu.Unlock()
		}
	})
	return w
}

// wait blocks until no request has been in flight for quiet, or ctx ends.
func (w *idleWatcher) wait(ctx context.Context, quiet time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.mu.Lock()
			idle := w.inflight == 0 && time.Since(w.lastDone) >= quiet
			w.mu.Unlock()
			if idle {
				return nil
			}
		}
	}
}

// documentMeta captures the main document's response status from CDP events.
type documentMeta struct {
	once       sync.Once
	statusCode int
}

func recordDocumentResponse(tabCtx context.Context) *documentMeta {
	meta := &documentMeta{}
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		meta.once.Do(func() {
			meta.statusCode = int(resp.Response.Status)
		})
	})
	return meta
}

func (m *documentMeta) status() int {
	return m.statusCode
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
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
