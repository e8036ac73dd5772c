// Package retrieval implements the adaptive multi-tier content acquisition
// engine: the escalation orchestrator, its domain policy resolver, and the
// reactive rate governor shared by all concurrent requests.
package retrieval

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Tier identifies one acquisition strategy in the escalation ladder.
type Tier string

// Tier labels, in default escalation order.
const (
	TierDisambiguation Tier = "disambiguation"
	TierDirect         Tier = "direct"
	TierRender         Tier = "render"
	TierFeed           Tier = "feed"
	TierBrowser        Tier = "browser"
)

// TierCache labels results served from the store without any tier attempt.
const TierCache Tier = "cache"

// DefaultTierOrder is the escalation order when no policy overrides it.
var DefaultTierOrder = []Tier{TierDisambiguation, TierDirect, TierRender, TierFeed, TierBrowser}

// SubjectHints carries optional metadata about the entity the caller is
// monitoring. Used for disambiguation queries, feed matching, and listing
// refinement; never required.
type SubjectHints struct {
	Make    string `json:"make,omitempty"`
	Model   string `json:"model,omitempty"`
	Variant string `json:"variant,omitempty"`
	Author  string `json:"author,omitempty"`
}

// Empty reports whether no hints were supplied.
func (h SubjectHints) Empty() bool {
	return h.Make == "" && h.Model == "" && h.Variant == "" && h.Author == ""
}

// Tokens returns the non-empty make/model/variant tokens, lowercased.
func (h SubjectHints) Tokens() []string {
	var out []string
	for _, t := range []string{h.Make, h.Model, h.Variant} {
		if t != "" {
			out = append(out, strings.ToLower(t))
		}
	}
	return out
}

// Query renders the hints as a search phrase.
func (h SubjectHints) Query() string {
	parts := make([]string, 0, 3)
	for _, t := range []string{h.Make, h.Model, h.Variant} {
		if t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Request describes one retrieval call. Immutable; constructed per call.
type Request struct {
	URL     string
	Subject SubjectHints
	// Actor partitions the cache between monitoring tenants.
	Actor string
	// Budget caps wall-clock time for the whole call. Zero means the
	// orchestrator default.
	Budget time.Duration
	// NoEscalate restricts the call to the starting tier.
	NoEscalate bool
}

// Domain returns the lowercased host of the request URL, or "" if unparsable.
func (r Request) Domain() string {
	return DomainOf(r.URL)
}

// CacheKey builds the composite (actor, domain, subject) cache key.
func (r Request) CacheKey() string {
	h := sha256.Sum256([]byte(strings.Join([]string{r.Actor, r.Domain(), r.Subject.Query(), r.URL}, "|")))
	return fmt.Sprintf("page:%x", h[:16])
}

// Result is the outcome of a retrieval call. Either Success is true and
// Content is populated, or Success is false and Reason names the failure.
// Never partially populated.
type Result struct {
	Success     bool   `json:"success"`
	Content     []byte `json:"-"`
	ResolvedURL string `json:"resolved_url,omitempty"`
	Tier        Tier   `json:"tier,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Succeeded builds a successful Result.
func Succeeded(tier Tier, resolvedURL string, content []byte) Result {
	return Result{Success: true, Content: content, ResolvedURL: resolvedURL, Tier: tier}
}

// Refused builds a failed Result with a machine-readable reason.
func Refused(tier Tier, reason string) Result {
	return Result{Success: false, Tier: tier, Reason: reason}
}

// DomainOf extracts the lowercased hostname from a raw URL.
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// NormalizeURL standardizes a URL: lowercases scheme and host, strips default
// ports and fragments, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Fragment = ""
	u.RawQuery = u.Query().Encode()
	return u.String(), nil
}
