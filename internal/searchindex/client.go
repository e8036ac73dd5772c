// Package searchindex wraps the external text-search API used for
// disambiguation. First-party API calls get coarse pre-flight rate limiting
// here; reactive cooldown logic for adversarial origins lives in the
// retrieval governor instead.
package searchindex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/revradar/retrieval-engine/internal/retrieval"
)

// Client queries a ranked web-search endpoint. Zero value is not usable; use New.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
}

// New builds a Client. qps caps outbound query rate; <=0 means unlimited.
func New(endpoint, apiKey string, qps float64, timeout time.Duration) *Client {
	limit := rate.Limit(qps)
	if qps <= 0 {
		limit = rate.Inf
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Enabled reports whether an endpoint was configured.
func (c *Client) Enabled() bool {
	return c.endpoint != ""
}

type searchResponse struct {
	Results []retrieval.SearchHit `json:"results"`
}

// Search returns up to limit ranked hits for the query.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]retrieval.SearchHit, error) {
	if !c.Enabled() {
		return nil, retrieval.NewFailure(retrieval.ContentAbsent, "search index not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("search rate limit: %w", err)
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	if limit > 0 {
		q.Set("count", strconv.Itoa(limit))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, retrieval.StatusFailure(resp.StatusCode, fmt.Sprintf("search index: %s", snippet))
	}

	var decoded searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 2<<20)).Decode(&decoded); err != nil {
		return nil, retrieval.NewFailure(retrieval.DecodeFailure, "decode search response: %v", err)
	}
	if limit > 0 && len(decoded.Results) > limit {
		decoded.Results = decoded.Results[:limit]
	}
	return decoded.Results, nil
}
