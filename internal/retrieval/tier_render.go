package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RenderConfig points at the managed browser-rendering service.
type RenderConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// RenderStrategy fetches through a managed rendering API that executes
// JavaScript remotely. It costs money per call, so the orchestrator gates it:
// only for domains pre-classified as JS-heavy, or after the direct tier has
// already failed.
type RenderStrategy struct {
	cfg  RenderConfig
	http *http.Client
	log  *zap.Logger
}

// NewRenderStrategy builds the render tier. With an empty endpoint the tier
// reports itself unavailable and the orchestrator skips it.
func NewRenderStrategy(cfg RenderConfig, logger *zap.Logger) *RenderStrategy {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 40 * time.Second
	}
	return &RenderStrategy{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger,
	}
}

// Enabled reports whether a rendering endpoint was configured.
func (s *RenderStrategy) Enabled() bool {
	return s.cfg.Endpoint != ""
}

// Name implements Strategy.
func (s *RenderStrategy) Name() Tier {
	return TierRender
}

type renderRequest struct {
	URL          string `json:"url"`
	WaitStrategy string `json:"wait"`
	RenderJS     bool   `json:"render_js"`
}

// Attempt implements Strategy.
func (s *RenderStrategy) Attempt(ctx context.Context, req Request) (Result, error) {
	if !s.Enabled() {
		return Result{}, NewFailure(ContentAbsent, "render api not configured")
	}

	payload, err := json.Marshal(renderRequest{
		URL:          req.URL,
		WaitStrategy: "networkidle",
		RenderJS:     true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal render request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build render request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, NewFailure(BudgetExceeded, "render canceled: %v", ctx.Err())
		}
		return Result{}, NewFailure(ContentAbsent, "render transport: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		f := StatusFailure(resp.StatusCode, fmt.Sprintf("render api: %s", snippet))
		f.RetryAfter = parseRetryAfter(resp.Header)
		return Result{}, f
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Result{}, NewFailure(DecodeFailure, "read rendered html: %v", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return Result{}, NewFailure(ContentAbsent, "render api returned empty document")
	}
	s.log.Debug("render api satisfied fetch", zap.String("url", req.URL), zap.Int("bytes", len(body)))
	return Succeeded(TierRender, req.URL, body), nil
}
