package retrieval

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/revradar/retrieval-engine/internal/egress"
)

// DirectConfig controls the direct-fetch tier.
type DirectConfig struct {
	Timeout        time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	UserAgent      string
}

// DirectStrategy is the cheap default tier: a single GET with a browser-like
// header set through the current sticky session. 403 is never retried here;
// no header set recovers from an explicit block. Throttling responses are
// retried with capped exponential backoff, bounded attempts.
type DirectStrategy struct {
	cfg      DirectConfig
	sessions *egress.Pool
	log      *zap.Logger
}

// NewDirectStrategy builds the direct-fetch tier.
func NewDirectStrategy(cfg DirectConfig, sessions *egress.Pool, logger *zap.Logger) *DirectStrategy {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 12 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 8 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultChromeUA
	}
	return &DirectStrategy{cfg: cfg, sessions: sessions, log: logger}
}

// Name implements Strategy.
func (s *DirectStrategy) Name() Tier {
	return TierDirect
}

// Attempt implements Strategy.
func (s *DirectStrategy) Attempt(ctx context.Context, req Request) (Result, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return Result{}, NewFailure(BudgetExceeded, "direct fetch canceled: %v", ctx.Err())
		}

		session := s.sessions.Acquire()
		body, err := s.fetchOnce(ctx, req.URL, session)
		if err == nil {
			if len(body) == 0 {
				return Result{}, NewFailure(ContentAbsent, "empty body from %s", req.Domain())
			}
			return Succeeded(TierDirect, req.URL, body), nil
		}
		lastErr = err

		// Only throttling earns another attempt at this tier.
		if !IsClass(err, Throttled) || attempt == s.cfg.MaxRetries {
			return Result{}, err
		}
		wait := expBackoff(s.cfg.BackoffInitial, s.cfg.BackoffMax, attempt)
		if hint := RetryAfterOf(err); hint > 0 && hint < wait {
			wait = hint
		}
		s.log.Debug("direct fetch throttled, backing off",
			zap.String("url", req.URL), zap.Duration("wait", wait), zap.Int("attempt", attempt+1))
		if err := SleepCtx(ctx, wait); err != nil {
			return Result{}, NewFailure(BudgetExceeded, "backoff interrupted: %v", err)
		}
	}
	return Result{}, lastErr
}

// FetchBody implements Fetcher for verification fetches.
func (s *DirectStrategy) FetchBody(ctx context.Context, rawURL string) ([]byte, error) {
	return s.fetchOnce(ctx, rawURL, s.sessions.Acquire())
}

func (s *DirectStrategy) fetchOnce(ctx context.Context, rawURL string, session egress.Session) ([]byte, error) {
	collector := colly.NewCollector(colly.UserAgent(s.cfg.UserAgent))
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(s.cfg.Timeout)
	collector.WithTransport(newTransport(session.ProxyURL))

	var (
		body      []byte
		status    int
		headers   http.Header
		fetchErr  error
		responded bool
	)

	collector.OnRequest(func(r *colly.Request) {
		for k, v := range browserHeaders() {
			r.Headers.Set(k, v)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		responded = true
		status = r.StatusCode
		headers = r.Headers.Clone()
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			responded = r.StatusCode > 0
			status = r.StatusCode
			if r.Headers != nil {
				headers = r.Headers.Clone()
			}
		}
	})

	if err := runCollector(ctx, collector, rawURL); err != nil {
		return nil, err
	}

	switch {
	case responded && status >= 200 && status < 300:
		return body, nil
	case responded:
		f := StatusFailure(status, fmt.Sprintf("direct fetch %s", rawURL))
		f.RetryAfter = parseRetryAfter(headers)
		return nil, f
	case fetchErr != nil:
		return nil, classifyTransportError(fetchErr, session)
	default:
		return nil, NewFailure(ContentAbsent, "no response for %s", rawURL)
	}
}

// runCollector drives a synchronous colly visit under the caller's context.
func runCollector(ctx context.Context, collector *colly.Collector, rawURL string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()
	select {
	case <-ctx.Done():
		return NewFailure(BudgetExceeded, "fetch canceled: %v", ctx.Err())
	case <-done:
		// Status and error details were captured by the hooks.
		return nil
	}
}

// classifyTransportError maps socket-level failures onto the taxonomy. A dial
// failure while proxying points at the egress layer, not the origin. Timeouts
// without a response never count as throttling; that class is reserved for
// explicit origin responses and feeds the governor.
func classifyTransportError(err error, session egress.Session) *Failure {
	if !session.None() {
		return NewFailure(EgressFailure, "egress transport: %v", err)
	}
	return NewFailure(ContentAbsent, "transport: %v", err)
}

func newTransport(proxy *url.URL) *http.Transport {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	if proxy != nil {
		t.Proxy = http.ProxyURL(proxy)
	}
	return t
}

// parseRetryAfter reads a Retry-After header as seconds. HTTP-date forms are
// ignored; origins that throttle scrapers use the delta form.
func parseRetryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	raw := h.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

const defaultChromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// browserHeaders returns the realistic header set sent with direct fetches.
func browserHeaders() map[string]string {
	return map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
		"Sec-Fetch-Dest":  "document",
		"Sec-Fetch-Mode":  "navigate",
		"Sec-Fetch-Site":  "none",
		"Upgrade-Insecure-Requests": "1",
	}
}
