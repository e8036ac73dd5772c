package retrieval

import (
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DomainPolicy is the resolver's verdict for one URL.
type DomainPolicy struct {
	StartingTier Tier
	// JSLikely is informational only, for logging and telemetry. It never
	// gates behavior on its own; the render tier consults it together with
	// the escalation state.
	JSLikely bool
	// ScrapeResistant marks domains where the disambiguation tier applies
	// even for specific URLs.
	ScrapeResistant bool
}

// PolicyResolver maps a URL's domain to a starting tier and rendering
// expectations, from a static table loaded at startup. Unknown domains are
// never an error; they get the default policy.
type PolicyResolver struct {
	browserOnly     map[string]struct{}
	jsHeavy         map[string]struct{}
	scrapeResistant map[string]struct{}
}

// policyTable is the on-disk layout of the domain policy table.
type policyTable struct {
	BrowserOnly     []string `mapstructure:"browser_only"`
	JSHeavy         []string `mapstructure:"js_heavy"`
	ScrapeResistant []string `mapstructure:"scrape_resistant"`
}

// NewPolicyResolver loads the domain policy table from path. A missing or
// unreadable table is tolerated: the resolver falls back to "always start at
// the first tier" and logs the degradation once.
func NewPolicyResolver(path string, logger *zap.Logger) *PolicyResolver {
	r := &PolicyResolver{
		browserOnly:     make(map[string]struct{}),
		jsHeavy:         make(map[string]struct{}),
		scrapeResistant: make(map[string]struct{}),
	}
	if path == "" {
		return r
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		logger.Warn("domain policy table unavailable, using defaults",
			zap.String("path", path), zap.Error(err))
		return r
	}
	var table policyTable
	if err := v.Unmarshal(&table); err != nil {
		logger.Warn("domain policy table malformed, using defaults",
			zap.String("path", path), zap.Error(err))
		return r
	}

	for _, d := range table.BrowserOnly {
		r.browserOnly[normalizeDomain(d)] = struct{}{}
	}
	for _, d := range table.JSHeavy {
		r.jsHeavy[normalizeDomain(d)] = struct{}{}
	}
	for _, d := range table.ScrapeResistant {
		r.scrapeResistant[normalizeDomain(d)] = struct{}{}
	}
	logger.Info("domain policy table loaded",
		zap.Int("browser_only", len(r.browserOnly)),
		zap.Int("js_heavy", len(r.jsHeavy)),
		zap.Int("scrape_resistant", len(r.scrapeResistant)))
	return r
}

// Resolve returns the policy for a URL. Never errors: unknown domains start
// at the first tier with no rendering expectations.
func (r *PolicyResolver) Resolve(rawURL string) DomainPolicy {
	domain := DomainOf(rawURL)
	policy := DomainPolicy{StartingTier: TierDisambiguation}
	if domain == "" {
		return policy
	}
	if r.matches(r.browserOnly, domain) {
		policy.StartingTier = TierBrowser
	}
	policy.JSLikely = r.matches(r.jsHeavy, domain) || r.matches(r.browserOnly, domain)
	policy.ScrapeResistant = r.matches(r.scrapeResistant, domain)
	return policy
}

// matches checks the domain and each parent suffix, so a table entry for
// example.com covers www.example.com.
func (r *PolicyResolver) matches(set map[string]struct{}, domain string) bool {
	if _, ok := set[domain]; ok {
		return true
	}
	for {
		i := strings.IndexByte(domain, '.')
		if i < 0 {
			return false
		}
		domain = domain[i+1:]
		if _, ok := set[domain]; ok {
			return true
		}
	}
}

func normalizeDomain(d string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "www."))
}
