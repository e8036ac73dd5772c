package retrieval

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/revradar/retrieval-engine/internal/egress"
)

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *memCache) Put(_ context.Context, key string, content []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = append([]byte(nil), content...)
	return nil
}

func (c *memCache) PutWithTTL(_ context.Context, key string, content []byte, _ time.Duration) error {
	return c.Put(context.Background(), key, content)
}

// scriptedStrategy returns canned outcomes per URL, falling back to a default.
type scriptedStrategy struct {
	tier     Tier
	mu       sync.Mutex
	attempts int
	byURL    map[string]func() (Result, error)
	fallback func() (Result, error)
}

func (s *scriptedStrategy) Name() Tier { return s.tier }

func (s *scriptedStrategy) Attempt(_ context.Context, req Request) (Result, error) {
	s.mu.Lock()
	s.attempts++
	s.mu.Unlock()
	if fn, ok := s.byURL[req.URL]; ok {
		return fn()
	}
	if s.fallback != nil {
		return s.fallback()
	}
	return Result{}, NewFailure(ContentAbsent, "unscripted url %s", req.URL)
}

func (s *scriptedStrategy) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func succeedWith(tier Tier, url, content string) func() (Result, error) {
	return func() (Result, error) {
		return Succeeded(tier, url, []byte(content)), nil
	}
}

func failWith(f *Failure) func() (Result, error) {
	return func() (Result, error) {
		return Result{}, f
	}
}

func newTestOrchestrator(t *testing.T, cfg OrchestratorConfig) *Orchestrator {
	t.Helper()
	if cfg.Policy == nil {
		cfg.Policy = NewPolicyResolver("", zap.NewNop())
	}
	if cfg.Governor == nil {
		cfg.Governor = NewGovernor(nil)
	}
	if cfg.Sessions == nil {
		cfg.Sessions = egress.NewPool(egress.Credentials{}, time.Minute, nil, zap.NewNop())
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return NewOrchestrator(cfg)
}

const articleURL = "https://example.com/reviews/toyota-corolla-review"

func articleBody() string {
	return "<html><body><p>" +
		strings.Repeat("The Toyota Corolla impressed us on the road. ", 50) +
		"</p></body></html>"
}

func TestOrchestrator_DirectSucceeds(t *testing.T) {
	t.Parallel()

	direct := &scriptedStrategy{
		tier:     TierDirect,
		fallback: succeedWith(TierDirect, articleURL, articleBody()),
	}
	store := newMemCache()
	o := newTestOrchestrator(t, OrchestratorConfig{
		Cache:      store,
		Strategies: []Strategy{direct},
	})

	req := Request{URL: articleURL, Subject: SubjectHints{Make: "Toyota", Model: "Corolla"}}
	res := o.Retrieve(context.Background(), req)

	require.True(t, res.Success)
	require.Equal(t, TierDirect, res.Tier)
	require.Equal(t, 1, direct.count())

	_, cached, err := store.Get(context.Background(), req.CacheKey())
	require.NoError(t, err)
	require.True(t, cached)
}

func TestOrchestrator_BlockEscalatesWithoutRetry(t *testing.T) {
	t.Parallel()

	direct := &scriptedStrategy{
		tier:     TierDirect,
		fallback: failWith(StatusFailure(403, "origin block")),
	}
	render := &scriptedStrategy{
		tier:     TierRender,
		fallback: succeedWith(TierRender, articleURL, articleBody()),
	}
	o := newTestOrchestrator(t, OrchestratorConfig{
		Cache:      newMemCache(),
		Strategies: []Strategy{direct, render},
	})

	res := o.Retrieve(context.Background(), Request{URL: articleURL})

	require.True(t, res.Success)
	require.Equal(t, TierRender, res.Tier)
	// A 403 is terminal for the tier: exactly one direct attempt.
	require.Equal(t, 1, direct.count())
	require.Equal(t, 1, render.count())
}

func TestOrchestrator_RenderSkippedBeforeDirect(t *testing.T) {
	t.Parallel()

	render := &scriptedStrategy{
		tier:     TierRender,
		fallback: succeedWith(TierRender, articleURL, articleBody()),
	}
	feed := &scriptedStrategy{
		tier:     TierFeed,
		fallback: failWith(NewFailure(ContentAbsent, "no feed")),
	}
	// No direct strategy wired: render must not run because the direct tier
	// never got its chance and the domain is not marked JS-heavy.
	o := newTestOrchestrator(t, OrchestratorConfig{
		Cache:      newMemCache(),
		Strategies: []Strategy{render, feed},
	})

	res := o.Retrieve(context.Background(), Request{URL: articleURL})

	require.False(t, res.Success)
	require.Zero(t, render.count())
	require.Equal(t, 1, feed.count())
}

func TestOrchestrator_ThrottleRegistersCooldown(t *testing.T) {
	t.Parallel()

	throttle := StatusFailure(429, "slow down")
	throttle.RetryAfter = 5 * time.Second
	direct := &scriptedStrategy{tier: TierDirect, fallback: failWith(throttle)}

	governor := NewGovernor(nil)
	o := newTestOrchestrator(t, OrchestratorConfig{
		Governor:     governor,
		Cache:        newMemCache(),
		Strategies:   []Strategy{direct},
		EnabledTiers: []Tier{TierDirect},
	})

	res := o.Retrieve(context.Background(), Request{URL: articleURL})

	require.False(t, res.Success)
	require.Equal(t, string(Throttled), res.Reason)
	require.Positive(t, governor.ShouldWait("example.com", egress.NoneID))
}

func TestOrchestrator_NoEscalateStopsAtFirstTier(t *testing.T) {
	t.Parallel()

	direct := &scriptedStrategy{tier: TierDirect, fallback: failWith(StatusFailure(403, "blocked"))}
	render := &scriptedStrategy{tier: TierRender, fallback: succeedWith(TierRender, articleURL, "x")}
	o := newTestOrchestrator(t, OrchestratorConfig{
		Cache:      newMemCache(),
		Strategies: []Strategy{direct, render},
	})

	res := o.Retrieve(context.Background(), Request{URL: articleURL, NoEscalate: true})

	require.False(t, res.Success)
	require.Equal(t, string(BlockedByOrigin), res.Reason)
	require.Zero(t, render.count())
}

func TestOrchestrator_TinyBudgetAbortsBeforeAttempting(t *testing.T) {
	t.Parallel()

	direct := &scriptedStrategy{tier: TierDirect, fallback: succeedWith(TierDirect, articleURL, "x")}
	o := newTestOrchestrator(t, OrchestratorConfig{
		Cache:        newMemCache(),
		Strategies:   []Strategy{direct},
		EnabledTiers: []Tier{TierDirect},
	})

	res := o.Retrieve(context.Background(), Request{URL: articleURL, Budget: time.Second})

	require.False(t, res.Success)
	require.Equal(t, string(BudgetExceeded), res.Reason)
	require.Zero(t, direct.count())
}

func TestOrchestrator_StartTierOutsideEnabledSetWalksFromFirst(t *testing.T) {
	t.Parallel()

	// The resolver's default starting tier is disambiguation; an enabled set
	// without it must still walk the ladder from its first tier.
	direct := &scriptedStrategy{
		tier:     TierDirect,
		fallback: succeedWith(TierDirect, articleURL, articleBody()),
	}
	o := newTestOrchestrator(t, OrchestratorConfig{
		Cache:        newMemCache(),
		Strategies:   []Strategy{direct},
		EnabledTiers: []Tier{TierDirect, TierRender},
	})

	res := o.Retrieve(context.Background(), Request{URL: articleURL})

	require.True(t, res.Success)
	require.Equal(t, TierDirect, res.Tier)
	require.Equal(t, 1, direct.count())
}

func TestOrchestrator_CacheHitSkipsStrategies(t *testing.T) {
	t.Parallel()

	direct := &scriptedStrategy{tier: TierDirect, fallback: succeedWith(TierDirect, articleURL, "fresh")}
	store := newMemCache()
	req := Request{URL: articleURL, Actor: "tenant"}
	require.NoError(t, store.Put(context.Background(), req.CacheKey(), []byte("cached content")))

	o := newTestOrchestrator(t, OrchestratorConfig{
		Cache:      store,
		Strategies: []Strategy{direct},
	})

	res := o.Retrieve(context.Background(), req)

	require.True(t, res.Success)
	require.Equal(t, TierCache, res.Tier)
	require.Equal(t, "cached content", string(res.Content))
	require.Zero(t, direct.count())
}

func TestOrchestrator_NegativeCacheShortCircuitsRepeatFailures(t *testing.T) {
	t.Parallel()

	direct := &scriptedStrategy{tier: TierDirect, fallback: failWith(StatusFailure(404, "gone"))}
	store := newMemCache()
	o := newTestOrchestrator(t, OrchestratorConfig{
		Cache:        store,
		Strategies:   []Strategy{direct},
		EnabledTiers: []Tier{TierDirect},
	})

	req := Request{URL: articleURL}
	first := o.Retrieve(context.Background(), req)
	require.False(t, first.Success)
	require.Equal(t, 1, direct.count())

	second := o.Retrieve(context.Background(), req)
	require.False(t, second.Success)
	require.Equal(t, string(ContentAbsent), second.Reason)
	// Served from the negative cache; no second attempt.
	require.Equal(t, 1, direct.count())
}

func TestOrchestrator_BudgetFailureNotNegativelyCached(t *testing.T) {
	t.Parallel()

	direct := &scriptedStrategy{tier: TierDirect, fallback: failWith(NewFailure(BudgetExceeded, "spent"))}
	store := newMemCache()
	o := newTestOrchestrator(t, OrchestratorConfig{
		Cache:        store,
		Strategies:   []Strategy{direct},
		EnabledTiers: []Tier{TierDirect},
	})

	req := Request{URL: articleURL}
	res := o.Retrieve(context.Background(), req)
	require.False(t, res.Success)

	_, found, err := store.Get(context.Background(), "neg:"+req.CacheKey())
	require.NoError(t, err)
	require.False(t, found)
}

type staticSearch struct {
	hits []SearchHit
}

func (s *staticSearch) Search(_ context.Context, _ string, _ int) ([]SearchHit, error) {
	return s.hits, nil
}

func TestOrchestrator_DisambiguationResolvesScrapeResistantDomain(t *testing.T) {
	t.Parallel()

	resolved := "https://fortress.example.com/reviews/toyota-corolla-review"
	direct := &scriptedStrategy{
		tier: TierDirect,
		byURL: map[string]func() (Result, error){
			resolved: succeedWith(TierDirect, resolved, articleBody()),
		},
	}
	search := &staticSearch{hits: []SearchHit{
		{URL: resolved, Title: "Toyota Corolla review", Snippet: "full road test"},
		{URL: "https://fortress.example.com/specs/toyota-corolla", Title: "Toyota Corolla specs"},
	}}

	policyPath := writePolicyTable(t, "scrape_resistant:\n  - fortress.example.com\n")
	o := newTestOrchestrator(t, OrchestratorConfig{
		Policy:        NewPolicyResolver(policyPath, zap.NewNop()),
		Cache:         newMemCache(),
		Disambiguator: NewDisambiguator(search, nil, zap.NewNop()),
		Strategies:    []Strategy{direct},
	})

	res := o.Retrieve(context.Background(), Request{
		URL:     "https://fortress.example.com/reviews",
		Subject: SubjectHints{Make: "Toyota", Model: "Corolla"},
	})

	require.True(t, res.Success)
	require.Equal(t, TierDisambiguation, res.Tier)
	require.Equal(t, resolved, res.ResolvedURL)
}

func TestOrchestrator_ListingRefinement(t *testing.T) {
	t.Parallel()

	listingURL := "https://example.com/reviews"
	candidate := "https://example.com/reviews/toyota-corolla-review"
	listingBody := fmt.Sprintf(`<html><body>
		<a href=%q>Toyota Corolla review</a>
		<a href="/news/something-else">Other story</a>
	</body></html>`, candidate)

	direct := &scriptedStrategy{
		tier: TierDirect,
		byURL: map[string]func() (Result, error){
			listingURL: succeedWith(TierDirect, listingURL, listingBody),
			candidate:  succeedWith(TierDirect, candidate, articleBody()),
		},
	}
	o := newTestOrchestrator(t, OrchestratorConfig{
		Cache:      newMemCache(),
		Strategies: []Strategy{direct},
	})

	res := o.Retrieve(context.Background(), Request{
		URL:     listingURL,
		Subject: SubjectHints{Make: "Toyota", Model: "Corolla"},
	})

	require.True(t, res.Success)
	require.Equal(t, candidate, res.ResolvedURL)
	require.Equal(t, TierDirect, res.Tier)
	require.True(t, ContainsSubjectTokens(res.Content, SubjectHints{Make: "Toyota", Model: "Corolla"}))
	require.Equal(t, 2, direct.count())
}

func TestOrchestrator_ConcurrentSameKeyRequests(t *testing.T) {
	t.Parallel()

	direct := &scriptedStrategy{
		tier:     TierDirect,
		fallback: succeedWith(TierDirect, articleURL, articleBody()),
	}
	o := newTestOrchestrator(t, OrchestratorConfig{
		Cache:      newMemCache(),
		Strategies: []Strategy{direct},
	})

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.Retrieve(context.Background(), Request{URL: articleURL})
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		require.True(t, res.Success)
	}
}
