package retrieval

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/revradar/retrieval-engine/internal/clock"
	"github.com/revradar/retrieval-engine/internal/metrics"
)

// Cooldown window bounds. A Retry-After hint wins when present, capped at
// hintCeiling; otherwise the window is randomized to de-synchronize
// concurrent callers hammering the same origin.
const (
	hintCeiling    = 15 * time.Second
	randWindowMin  = 6 * time.Second
	randWindowSpan = 6 * time.Second
)

// Governor tracks reactive cooldowns per (domain, session) pair. Cooldowns
// are set only after an observed throttling signal, never speculatively.
// Safe for concurrent use; unrelated keys never contend beyond the map lock.
type Governor struct {
	mu      sync.Mutex
	unblock map[string]time.Time
	clk     clock.Clock
}

// NewGovernor builds a Governor using the given clock.
func NewGovernor(clk clock.Clock) *Governor {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Governor{
		unblock: make(map[string]time.Time),
		clk:     clk,
	}
}

func cooldownKey(domain, session string) string {
	if session == "" {
		session = "none"
	}
	return strings.ToLower(domain) + "|" + session
}

// ShouldWait returns the remaining cooldown for the key, or zero when none is
// active. It never blocks; the caller decides whether and how long to wait.
func (g *Governor) ShouldWait(domain, session string) time.Duration {
	key := cooldownKey(domain, session)
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.unblock[key]
	if !ok {
		return 0
	}
	remaining := until.Sub(g.clk.Now())
	if remaining <= 0 {
		delete(g.unblock, key)
		return 0
	}
	return remaining
}

// RegisterBackoff records a cooldown for the key. A positive retryAfter hint
// is used directly, capped at the ceiling; otherwise a randomized window is
// chosen. The most recent failure always wins.
func (g *Governor) RegisterBackoff(domain, session string, retryAfter time.Duration, status int) {
	window := retryAfter
	if window <= 0 {
		window = randWindowMin + randomJitter(randWindowSpan)
	}
	if window > hintCeiling {
		window = hintCeiling
	}

	key := cooldownKey(domain, session)
	g.mu.Lock()
	g.unblock[key] = g.clk.Now().Add(window)
	g.mu.Unlock()

	metrics.CooldownsRegistered.WithLabelValues(strconv.Itoa(status)).Inc()
}

// ClearBackoff removes any cooldown for the key. Called on the first success
// after a retry; absence of an entry means unrestricted.
func (g *Governor) ClearBackoff(domain, session string) {
	key := cooldownKey(domain, session)
	g.mu.Lock()
	delete(g.unblock, key)
	g.mu.Unlock()
}

// Purge drops expired entries. Needed only for memory hygiene; correctness
// never depends on it because ShouldWait treats expired entries as absent.
func (g *Governor) Purge() int {
	now := g.clk.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for key, until := range g.unblock {
		if !until.After(now) {
			delete(g.unblock, key)
			removed++
		}
	}
	return removed
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
