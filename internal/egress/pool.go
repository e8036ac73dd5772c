// Package egress manages sticky proxy session identities. A session keeps the
// same exit IP for a bounded window, preserving the reputation built by prior
// successful requests against the same origin.
package egress

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/revradar/retrieval-engine/internal/clock"
	"github.com/revradar/retrieval-engine/internal/metrics"
)

// NoneID is the identity handed out when no egress configuration exists. The
// engine then runs without proxying, just without rotation benefits.
const NoneID = "none"

// Session is one sticky egress identity. ProxyURL is nil for the none
// identity. Sessions are immutable once minted; expiry triggers lazy
// replacement on the next Acquire.
type Session struct {
	ID        string
	ProxyURL  *url.URL
	ExpiresAt time.Time
}

// None reports whether this is the no-proxy identity.
func (s Session) None() bool {
	return s.ID == NoneID
}

// Credentials describe the upstream proxy provider. An empty Host disables
// proxying entirely.
type Credentials struct {
	Host     string
	Port     int
	Username string
	Password string
	Country  string
}

// Pool issues sticky sessions with a TTL. Acquire is idempotent within the
// TTL window; Rotate unconditionally mints a new head. Old sessions are not
// invalidated immediately because in-flight requests may still hold them;
// they simply stop being handed out.
type Pool struct {
	mu    sync.Mutex
	head  *Session
	creds Credentials
	ttl   time.Duration
	clk   clock.Clock
	log   *zap.Logger
}

// NewPool builds a session pool. With empty credentials the pool degrades to
// the none identity and both operations become no-ops.
func NewPool(creds Credentials, ttl time.Duration, clk clock.Clock, logger *zap.Logger) *Pool {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Pool{
		creds: creds,
		ttl:   ttl,
		clk:   clk,
		log:   logger,
	}
}

// Acquire returns the current sticky session, minting one lazily when the
// head is absent or expired.
func (p *Pool) Acquire() Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.head != nil && p.clk.Now().Before(p.head.ExpiresAt) {
		return *p.head
	}
	s := p.mint()
	p.head = &s
	return s
}

// Rotate mints a fresh identity and makes it the new sticky head. Called only
// for failures classified as identity-specific, never on ordinary
// content-not-found outcomes.
func (p *Pool) Rotate() Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := ""
	if p.head != nil {
		prev = p.head.ID
	}
	s := p.mint()
	p.head = &s
	if !s.None() {
		metrics.SessionRotations.Inc()
		p.log.Info("egress session rotated",
			zap.String("previous", prev), zap.String("session", s.ID))
	}
	return s
}

// mint creates a new session. Caller holds the lock.
func (p *Pool) mint() Session {
	if p.creds.Host == "" {
		return Session{ID: NoneID, ExpiresAt: p.clk.Now().Add(p.ttl)}
	}
	token := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	username := p.creds.Username + "-session-" + token
	if p.creds.Country != "" {
		username += "-country-" + strings.ToUpper(p.creds.Country)
	}
	proxy := &url.URL{
		Scheme: "http",
		User:   url.UserPassword(username, p.creds.Password),
		Host:   fmt.Sprintf("%s:%d", p.creds.Host, p.creds.Port),
	}
	return Session{
		ID:        token,
		ProxyURL:  proxy,
		ExpiresAt: p.clk.Now().Add(p.ttl),
	}
}
