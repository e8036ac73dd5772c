package retrieval

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/revradar/retrieval-engine/internal/egress"
)

func newDirectForTest(t *testing.T, cfg DirectConfig) *DirectStrategy {
	t.Helper()
	pool := egress.NewPool(egress.Credentials{}, time.Minute, nil, zap.NewNop())
	return NewDirectStrategy(cfg, pool, zap.NewNop())
}

func TestDirectStrategy_FetchesPage(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.Header.Get("Accept-Language"))
		_, _ = w.Write([]byte("<html><body>article text</body></html>"))
	}))
	defer srv.Close()

	s := newDirectForTest(t, DirectConfig{Timeout: 5 * time.Second})
	res, err := s.Attempt(context.Background(), Request{URL: srv.URL + "/article"})

	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, TierDirect, res.Tier)
	require.Contains(t, string(res.Content), "article text")
}

func TestDirectStrategy_ForbiddenIsNeverRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := newDirectForTest(t, DirectConfig{Timeout: 5 * time.Second, MaxRetries: 3})
	_, err := s.Attempt(context.Background(), Request{URL: srv.URL + "/blocked"})

	require.Error(t, err)
	require.True(t, IsClass(err, BlockedByOrigin))
	require.EqualValues(t, 1, hits.Load())
}

func TestDirectStrategy_ThrottleRetriedWithHint(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	s := newDirectForTest(t, DirectConfig{
		Timeout:        5 * time.Second,
		MaxRetries:     2,
		BackoffInitial: 50 * time.Millisecond,
		BackoffMax:     200 * time.Millisecond,
	})
	res, err := s.Attempt(context.Background(), Request{URL: srv.URL + "/flaky"})

	require.NoError(t, err)
	require.True(t, res.Success)
	require.EqualValues(t, 2, hits.Load())
}

func TestDirectStrategy_ThrottleExhaustsRetries(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := newDirectForTest(t, DirectConfig{
		Timeout:        5 * time.Second,
		MaxRetries:     1,
		BackoffInitial: 20 * time.Millisecond,
		BackoffMax:     50 * time.Millisecond,
	})
	_, err := s.Attempt(context.Background(), Request{URL: srv.URL + "/down"})

	require.Error(t, err)
	require.True(t, IsClass(err, Throttled))
	require.EqualValues(t, 2, hits.Load())
}

func TestDirectStrategy_NotFoundIsContentAbsent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	s := newDirectForTest(t, DirectConfig{Timeout: 5 * time.Second})
	_, err := s.Attempt(context.Background(), Request{URL: srv.URL + "/missing"})

	require.Error(t, err)
	require.True(t, IsClass(err, ContentAbsent))
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	require.Zero(t, parseRetryAfter(h))
	h.Set("Retry-After", "12")
	require.Equal(t, 12*time.Second, parseRetryAfter(h))
	h.Set("Retry-After", "Wed, 21 Oct 2026 07:28:00 GMT")
	require.Zero(t, parseRetryAfter(h))
	require.Zero(t, parseRetryAfter(nil))
}

func TestClassifyTransportError_ProxiedFailureIsEgress(t *testing.T) {
	t.Parallel()

	proxied := egress.Session{ID: "abc123"}
	f := classifyTransportError(context.DeadlineExceeded, proxied)
	require.Equal(t, EgressFailure, f.Class)

	direct := egress.Session{ID: egress.NoneID}
	f = classifyTransportError(context.DeadlineExceeded, direct)
	require.Equal(t, ContentAbsent, f.Class)
}
