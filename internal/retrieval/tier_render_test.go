package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRenderStrategy_Disabled(t *testing.T) {
	t.Parallel()

	s := NewRenderStrategy(RenderConfig{}, zap.NewNop())
	require.False(t, s.Enabled())
	_, err := s.Attempt(context.Background(), Request{URL: "https://example.com/p"})
	require.True(t, IsClass(err, ContentAbsent))
}

func TestRenderStrategy_RendersDocument(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			URL      string `json:"url"`
			Wait     string `json:"wait"`
			RenderJS bool   `json:"render_js"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "https://example.com/spa-page", body.URL)
		require.Equal(t, "networkidle", body.Wait)
		require.True(t, body.RenderJS)

		_, _ = w.Write([]byte("<html><body>hydrated content</body></html>"))
	}))
	defer srv.Close()

	s := NewRenderStrategy(RenderConfig{Endpoint: srv.URL, APIKey: "test-key", Timeout: 5 * time.Second}, zap.NewNop())
	res, err := s.Attempt(context.Background(), Request{URL: "https://example.com/spa-page"})

	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, TierRender, res.Tier)
	require.Contains(t, string(res.Content), "hydrated content")
}

func TestRenderStrategy_UpstreamThrottleCarriesHint(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "9")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewRenderStrategy(RenderConfig{Endpoint: srv.URL, Timeout: 5 * time.Second}, zap.NewNop())
	_, err := s.Attempt(context.Background(), Request{URL: "https://example.com/p"})

	require.True(t, IsClass(err, Throttled))
	require.Equal(t, 9*time.Second, RetryAfterOf(err))
}

func TestRenderStrategy_EmptyDocumentIsContentAbsent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("   \n"))
	}))
	defer srv.Close()

	s := NewRenderStrategy(RenderConfig{Endpoint: srv.URL, Timeout: 5 * time.Second}, zap.NewNop())
	_, err := s.Attempt(context.Background(), Request{URL: "https://example.com/p"})
	require.True(t, IsClass(err, ContentAbsent))
}
