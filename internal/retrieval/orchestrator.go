package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/revradar/retrieval-engine/internal/clock"
	"github.com/revradar/retrieval-engine/internal/egress"
	"github.com/revradar/retrieval-engine/internal/metrics"
)

// minViableBudget is the smallest remaining budget worth starting a network
// call with. Below it the request aborts instead of attempting doomed work.
const minViableBudget = 2 * time.Second

// cooldownBudgetFraction caps how much of the remaining budget a cooldown
// sleep may consume.
const cooldownBudgetFraction = 0.25

// negativeKeyPrefix namespaces cached failures away from cached content.
const negativeKeyPrefix = "neg:"

// Orchestrator owns the per-request escalation loop. Tiers execute strictly
// in order within one request; concurrency exists only across requests, which
// share the cache, governor, and session pool.
type Orchestrator struct {
	policy        *PolicyResolver
	governor      *Governor
	sessions      *egress.Pool
	cache         Cache
	disambiguator *Disambiguator
	strategies    map[Tier]Strategy
	order         []Tier
	clk           clock.Clock
	log           *zap.Logger
	defaultBudget time.Duration
	negativeTTL   time.Duration
}

// OrchestratorConfig wires the orchestrator's collaborators. Strategies may
// omit tiers; missing tiers are simply ineligible.
type OrchestratorConfig struct {
	Policy        *PolicyResolver
	Governor      *Governor
	Sessions      *egress.Pool
	Cache         Cache
	Disambiguator *Disambiguator
	Strategies    []Strategy
	EnabledTiers  []Tier
	Clock         clock.Clock
	Logger        *zap.Logger
	DefaultBudget time.Duration
	NegativeTTL   time.Duration
}

// NewOrchestrator builds the escalation engine.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	if cfg.DefaultBudget <= 0 {
		cfg.DefaultBudget = 60 * time.Second
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = 30 * time.Minute
	}
	order := cfg.EnabledTiers
	if len(order) == 0 {
		order = DefaultTierOrder
	}
	byTier := make(map[Tier]Strategy, len(cfg.Strategies))
	for _, s := range cfg.Strategies {
		if s != nil {
			byTier[s.Name()] = s
		}
	}
	return &Orchestrator{
		policy:        cfg.Policy,
		governor:      cfg.Governor,
		sessions:      cfg.Sessions,
		cache:         cfg.Cache,
		disambiguator: cfg.Disambiguator,
		strategies:    byTier,
		order:         order,
		clk:           cfg.Clock,
		log:           cfg.Logger,
		defaultBudget: cfg.DefaultBudget,
		negativeTTL:   cfg.NegativeTTL,
	}
}

// Retrieve runs the full escalation for one request: cache check, policy
// resolution, ordered tier attempts, listing refinement, and write-through of
// the verdict. Synchronous from the caller's point of view.
func (o *Orchestrator) Retrieve(ctx context.Context, req Request) Result {
	start := o.clk.Now()
	if normalized, err := NormalizeURL(req.URL); err == nil {
		req.URL = normalized
	}

	key := req.CacheKey()
	if o.cache != nil {
		if content, ok, err := o.cache.Get(ctx, key); err == nil && ok {
			o.log.Debug("cache hit", zap.String("url", req.URL))
			return Succeeded(TierCache, req.URL, content)
		}
		if reason, ok, err := o.cache.Get(ctx, negativeKeyPrefix+key); err == nil && ok {
			return Refused(TierCache, string(reason))
		}
	}

	budget := req.Budget
	if budget <= 0 {
		budget = o.defaultBudget
	}
	deadline := start.Add(budget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	policy := o.policy.Resolve(req.URL)
	o.log.Debug("policy resolved",
		zap.String("url", req.URL),
		zap.String("starting_tier", string(policy.StartingTier)),
		zap.Bool("js_likely", policy.JSLikely))

	res := o.escalate(ctx, req, policy, deadline, policy.StartingTier)

	if res.Success {
		res = o.refineListing(ctx, req, res, deadline)
	}

	if o.cache != nil {
		if res.Success {
			if err := o.cache.Put(ctx, key, res.Content); err != nil {
				o.log.Warn("cache write failed", zap.String("url", req.URL), zap.Error(err))
			}
		} else if res.Reason != string(BudgetExceeded) {
			// Budget exhaustion says nothing about the content; do not
			// poison the negative cache with it.
			if err := o.cache.PutWithTTL(ctx, negativeKeyPrefix+key, []byte(res.Reason), o.negativeTTL); err != nil {
				o.log.Warn("negative cache write failed", zap.String("url", req.URL), zap.Error(err))
			}
		}
	}

	tierLabel := string(res.Tier)
	if tierLabel == "" {
		tierLabel = "none"
	}
	metrics.RetrievalDuration.WithLabelValues(tierLabel).Observe(o.clk.Now().Sub(start).Seconds())
	return res
}

// escalate walks the tier ladder from startTier, advancing on failure unless
// escalation is disabled. Each tier returns a definitive verdict before the
// next is consulted.
func (o *Orchestrator) escalate(ctx context.Context, req Request, policy DomainPolicy, deadline time.Time, startTier Tier) Result {
	domain := req.Domain()
	directTried := false
	lastReason := "no eligible tier"
	lastTier := Tier("")

	// A start tier outside the enabled set cannot gate the walk; the ladder
	// then begins at the first enabled tier.
	started := !o.tierEnabled(startTier)
	for _, tier := range o.order {
		if !started {
			if tier != startTier {
				continue
			}
			started = true
		}

		if tier == TierDisambiguation {
			res, done := o.tryDisambiguation(ctx, req, policy, deadline)
			if done {
				return res
			}
			if req.NoEscalate && res.Reason != "" {
				return res
			}
			continue
		}

		strategy, ok := o.strategies[tier]
		if !ok {
			continue
		}
		if tier == TierRender && !policy.JSLikely && !directTried {
			// Cheap before expensive: the paid renderer waits its turn.
			continue
		}

		remaining := deadline.Sub(o.clk.Now())
		if remaining < minViableBudget {
			metrics.BudgetAborts.Inc()
			return Refused(tier, string(BudgetExceeded))
		}

		session := o.sessions.Acquire()
		if wait := o.governor.ShouldWait(domain, session.ID); wait > 0 {
			wait = ClampToBudget(wait, remaining, cooldownBudgetFraction)
			o.log.Debug("cooldown active, pausing",
				zap.String("domain", domain), zap.Duration("wait", wait))
			if err := SleepCtx(ctx, wait); err != nil {
				metrics.BudgetAborts.Inc()
				return Refused(tier, string(BudgetExceeded))
			}
		}

		if tier == TierDirect {
			directTried = true
		}

		res, err := strategy.Attempt(ctx, req)
		if err == nil && res.Success {
			metrics.TierAttempts.WithLabelValues(string(tier), "success").Inc()
			o.governor.ClearBackoff(domain, session.ID)
			return res
		}

		class, classified := ClassOf(err)
		if !classified {
			class = ContentAbsent
		}
		metrics.TierAttempts.WithLabelValues(string(tier), string(class)).Inc()
		lastReason = string(class)
		lastTier = tier
		o.log.Info("tier failed",
			zap.String("tier", string(tier)),
			zap.String("domain", domain),
			zap.String("class", string(class)),
			zap.Error(err))

		switch class {
		case BudgetExceeded:
			return Refused(tier, string(BudgetExceeded))
		case Throttled:
			o.governor.RegisterBackoff(domain, session.ID, RetryAfterOf(err), StatusOf(err))
			o.sessions.Rotate()
		case BlockedByOrigin, EgressFailure:
			o.sessions.Rotate()
		}

		if req.NoEscalate {
			return Refused(tier, lastReason)
		}
	}
	return Refused(lastTier, lastReason)
}

func (o *Orchestrator) tierEnabled(t Tier) bool {
	for _, tier := range o.order {
		if tier == t {
			return true
		}
	}
	return false
}

// tryDisambiguation runs the search step when it applies. Returns done=true
// with a final result when the resolved URL was retrieved; done=false means
// the ladder should continue with the original URL.
func (o *Orchestrator) tryDisambiguation(ctx context.Context, req Request, policy DomainPolicy, deadline time.Time) (Result, bool) {
	if !o.disambiguator.Enabled() {
		return Result{}, false
	}
	if !policy.ScrapeResistant && !IsListingPage(req.URL, nil) {
		return Result{}, false
	}
	if deadline.Sub(o.clk.Now()) < minViableBudget {
		metrics.BudgetAborts.Inc()
		return Refused(TierDisambiguation, string(BudgetExceeded)), true
	}

	resolved, err := o.disambiguator.Resolve(ctx, req)
	if err != nil {
		class, ok := ClassOf(err)
		if !ok {
			class = ContentAbsent
		}
		metrics.TierAttempts.WithLabelValues(string(TierDisambiguation), string(class)).Inc()
		if class == BudgetExceeded {
			return Refused(TierDisambiguation, string(BudgetExceeded)), true
		}
		o.log.Debug("disambiguation declined", zap.String("url", req.URL), zap.Error(err))
		return Result{}, false
	}

	narrowed := req
	narrowed.URL = resolved
	res := o.escalate(ctx, narrowed, DomainPolicy{StartingTier: TierDirect, JSLikely: policy.JSLikely}, deadline, TierDirect)
	if !res.Success {
		return Result{}, false
	}
	metrics.TierAttempts.WithLabelValues(string(TierDisambiguation), "success").Inc()
	res.Tier = TierDisambiguation
	res.ResolvedURL = resolved
	return res, true
}

// refineListing upgrades a successful listing-page result to its best
// subject-relevant article when hints were supplied. The recursed content
// must actually mention every subject token, or the original result stands.
func (o *Orchestrator) refineListing(ctx context.Context, req Request, res Result, deadline time.Time) Result {
	if req.Subject.Empty() || !IsListingPage(res.ResolvedURL, res.Content) {
		return res
	}
	if deadline.Sub(o.clk.Now()) < minViableBudget {
		return res
	}

	links := ScoreOutboundLinks(res.ResolvedURL, res.Content, req.Subject)
	if len(links) == 0 {
		return res
	}
	best := links[0]
	if best.URL == res.ResolvedURL {
		return res
	}
	o.log.Debug("refining listing result",
		zap.String("listing", res.ResolvedURL), zap.String("candidate", best.URL), zap.Int("score", best.Score))

	narrowed := req
	narrowed.URL = best.URL
	refined := o.escalate(ctx, narrowed, DomainPolicy{StartingTier: TierDirect}, deadline, TierDirect)
	if !refined.Success || !ContainsSubjectTokens(refined.Content, req.Subject) {
		return res
	}
	refined.Tier = res.Tier
	return refined
}
