package retrieval

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
)

// feedCandidateWindow bounds how many feed items are considered for a match.
const feedCandidateWindow = 25

// feedProbePaths are the well-known feed locations tried when the homepage
// declares no alternate link.
var feedProbePaths = []string{"/feed", "/rss", "/feed.xml", "/rss.xml", "/atom.xml", "/index.xml"}

// FeedStrategy fetches the domain's content feed and searches it for an item
// matching the subject hints. Near-free, so it runs before full browser
// automation. Without subject hints there is nothing to match, so the tier
// declines.
type FeedStrategy struct {
	http    *http.Client
	fetcher Fetcher
	log     *zap.Logger
}

// NewFeedStrategy builds the feed tier. fetcher retrieves the matched item's
// page when the feed entry itself carries no body.
func NewFeedStrategy(timeout time.Duration, fetcher Fetcher, logger *zap.Logger) *FeedStrategy {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FeedStrategy{
		http:    &http.Client{Timeout: timeout},
		fetcher: fetcher,
		log:     logger,
	}
}

// Name implements Strategy.
func (s *FeedStrategy) Name() Tier {
	return TierFeed
}

// Attempt implements Strategy.
func (s *FeedStrategy) Attempt(ctx context.Context, req Request) (Result, error) {
	if req.Subject.Empty() {
		return Result{}, NewFailure(ContentAbsent, "no subject hints to match against a feed")
	}

	feedURL, err := s.discoverFeed(ctx, req.URL)
	if err != nil {
		return Result{}, err
	}

	parsed, err := s.parseFeed(ctx, feedURL)
	if err != nil {
		return Result{}, err
	}

	item := matchFeedItem(parsed, req.Subject)
	if item == nil {
		return Result{}, NewFailure(ContentAbsent, "no feed item matches subject %q", req.Subject.Query())
	}

	s.log.Debug("feed item matched subject",
		zap.String("feed", feedURL), zap.String("item", item.Link), zap.String("title", item.Title))

	// Prefer the item's own content; fall back to fetching its page.
	if body := strings.TrimSpace(item.Content); len(body) >= 500 {
		return Succeeded(TierFeed, item.Link, []byte(body)), nil
	}
	if item.Link != "" && s.fetcher != nil {
		body, err := s.fetcher.FetchBody(ctx, item.Link)
		if err == nil && len(body) > 0 {
			return Succeeded(TierFeed, item.Link, body), nil
		}
	}
	if body := strings.TrimSpace(item.Description); body != "" {
		return Succeeded(TierFeed, item.Link, []byte(body)), nil
	}
	return Result{}, NewFailure(ContentAbsent, "matched feed item has no retrievable content")
}

// discoverFeed finds the domain's feed URL: first the homepage's alternate
// link declarations, then the well-known paths.
func (s *FeedStrategy) discoverFeed(ctx context.Context, rawURL string) (string, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return "", NewFailure(ContentAbsent, "parse url: %v", err)
	}
	home := &url.URL{Scheme: base.Scheme, Host: base.Host}

	if body, err := s.get(ctx, home.String()); err == nil {
		if doc, derr := goquery.NewDocumentFromReader(bytes.NewReader(body)); derr == nil {
			var found string
			doc.Find(`link[rel="alternate"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
				typ, _ := sel.Attr("type")
				if !strings.Contains(typ, "rss") && !strings.Contains(typ, "atom") {
					return true
				}
				href, ok := sel.Attr("href")
				if !ok || href == "" {
					return true
				}
				if ref, rerr := home.Parse(href); rerr == nil {
					found = ref.String()
					return false
				}
				return true
			})
			if found != "" {
				return found, nil
			}
		}
	}

	for _, p := range feedProbePaths {
		probe := &url.URL{Scheme: home.Scheme, Host: home.Host, Path: p}
		if ok := s.probeFeed(ctx, probe.String()); ok {
			return probe.String(), nil
		}
	}
	return "", NewFailure(ContentAbsent, "no discoverable feed for %s", home.Host)
}

func (s *FeedStrategy) probeFeed(ctx context.Context, feedURL string) bool {
	body, err := s.get(ctx, feedURL)
	if err != nil || len(body) == 0 {
		return false
	}
	head := bytes.TrimSpace(body)
	if len(head) > 256 {
		head = head[:256]
	}
	return bytes.Contains(head, []byte("<rss")) ||
		bytes.Contains(head, []byte("<feed")) ||
		bytes.Contains(head, []byte("<?xml"))
}

func (s *FeedStrategy) parseFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	body, err := s.get(ctx, feedURL)
	if err != nil {
		return nil, err
	}
	feed, perr := gofeed.NewParser().ParseString(string(body))
	if perr != nil {
		return nil, NewFailure(DecodeFailure, "parse feed %s: %v", feedURL, perr)
	}
	return feed, nil
}

func (s *FeedStrategy) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("User-Agent", defaultChromeUA)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/html;q=0.8")

	resp, err := s.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewFailure(BudgetExceeded, "feed fetch canceled: %v", ctx.Err())
		}
		return nil, NewFailure(ContentAbsent, "feed transport: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, StatusFailure(resp.StatusCode, fmt.Sprintf("feed fetch %s", rawURL))
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

// matchFeedItem scans the candidate window for the first item whose title or
// summary contains every subject token.
func matchFeedItem(feed *gofeed.Feed, hints SubjectHints) *gofeed.Item {
	tokens := hints.Tokens()
	if len(tokens) == 0 {
		return nil
	}
	limit := len(feed.Items)
	if limit > feedCandidateWindow {
		limit = feedCandidateWindow
	}
	for _, item := range feed.Items[:limit] {
		haystack := strings.ToLower(item.Title + " " + item.Description)
		all := true
		for _, tok := range tokens {
			if !strings.Contains(haystack, tok) {
				all = false
				break
			}
		}
		if all {
			return item
		}
	}
	return nil
}
