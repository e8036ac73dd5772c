package retrieval

import (
	"context"
	"time"
)

// Strategy is one acquisition tier. Attempt either returns usable content or
// a *Failure-classed error; it never returns a half-populated result.
type Strategy interface {
	Name() Tier
	Attempt(ctx context.Context, req Request) (Result, error)
}

// SearchHit is one ranked result from the external search index.
type SearchHit struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// SearchIndex returns ranked hits for a query string. Used by the
// disambiguation tier only.
type SearchIndex interface {
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
}

// Cache is the persistent result store. Get returns ok=false on miss or
// expiry; Put overwrites with the store's default positive TTL; PutWithTTL
// lets callers layer short-lived negative entries on top.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, content []byte) error
	PutWithTTL(ctx context.Context, key string, content []byte, ttl time.Duration) error
}

// Fetcher performs the verification fetches the disambiguation and listing
// logic needs, without triggering escalation.
type Fetcher interface {
	FetchBody(ctx context.Context, url string) ([]byte, error)
}
