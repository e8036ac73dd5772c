package transcript

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/revradar/retrieval-engine/internal/cache"
	"github.com/revradar/retrieval-engine/internal/clock"
	"github.com/revradar/retrieval-engine/internal/egress"
	"github.com/revradar/retrieval-engine/internal/metrics"
	"github.com/revradar/retrieval-engine/internal/retrieval"
)

const (
	// minViableBudget aborts the pipeline instead of starting an attempt
	// that cannot plausibly finish.
	minViableBudget = 2 * time.Second

	// cooldownBudgetFraction bounds how much of the remaining budget a
	// pre-flight cooldown sleep may consume.
	cooldownBudgetFraction = 0.25

	captionDownloadTimeout = 10 * time.Second

	cacheKeyPrefix = "video:"
)

// PipelineConfig carries the tunables for transcript acquisition.
type PipelineConfig struct {
	Budget           time.Duration
	Languages        []string
	AllowAutoCaption bool
	AudioFallback    bool
	AudioCeiling     time.Duration
	AudioMaxVideo    time.Duration
	CacheTTL         time.Duration
}

// Pipeline turns a video ID into transcript text. Video-info calls run
// through the info pool; caption downloads run through a separate pool so
// a burned info identity does not taint the download path.
type Pipeline struct {
	cfg         PipelineConfig
	info        *InfoClient
	infoPool    *egress.Pool
	captionPool *egress.Pool
	governor    *retrieval.Governor
	store       *cache.Store
	transcriber Transcriber
	clk         clock.Clock
	log         *zap.Logger
}

// NewPipeline wires the pipeline. transcriber may be nil, which disables
// the audio fallback regardless of configuration.
func NewPipeline(cfg PipelineConfig, info *InfoClient, infoPool, captionPool *egress.Pool,
	governor *retrieval.Governor, store *cache.Store, transcriber Transcriber,
	clk clock.Clock, logger *zap.Logger) *Pipeline {
	if cfg.Budget <= 0 {
		cfg.Budget = 25 * time.Second
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"en", "en-US", "en-GB"}
	}
	return &Pipeline{
		cfg:         cfg,
		info:        info,
		infoPool:    infoPool,
		captionPool: captionPool,
		governor:    governor,
		store:       store,
		transcriber: transcriber,
		clk:         clk,
		log:         logger,
	}
}

// GetTranscript returns transcript text for the video, truncated at a
// sentence boundary near maxChars. Results are cached; a maxChars of zero
// disables truncation.
func (p *Pipeline) GetTranscript(ctx context.Context, videoID string, maxChars int) (string, error) {
	key := cacheKeyPrefix + videoID
	if p.store != nil {
		if content, ok, err := p.store.Get(ctx, key); err == nil && ok {
			return Truncate(string(content), maxChars), nil
		}
	}

	start := p.clk.Now()
	deadline := start.Add(p.cfg.Budget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	text, err := p.acquire(ctx, videoID, deadline)
	outcome := "success"
	if err != nil {
		if class, ok := retrieval.ClassOf(err); ok {
			outcome = string(class)
		} else {
			outcome = "error"
		}
	}
	metrics.TranscriptDuration.WithLabelValues(outcome).Observe(p.clk.Now().Sub(start).Seconds())
	if err != nil {
		return "", err
	}

	if p.store != nil {
		if cerr := p.store.PutWithTTL(ctx, key, []byte(text), p.cfg.CacheTTL); cerr != nil {
			p.log.Warn("transcript cache write failed", zap.String("video_id", videoID), zap.Error(cerr))
		}
	}
	return Truncate(text, maxChars), nil
}

func (p *Pipeline) acquire(ctx context.Context, videoID string, deadline time.Time) (string, error) {
	host := p.info.EndpointHost()
	session := p.infoPool.Acquire()

	if wait := p.governor.ShouldWait(host, session.ID); wait > 0 {
		wait = retrieval.ClampToBudget(wait, deadline.Sub(p.clk.Now()), cooldownBudgetFraction)
		p.log.Debug("transcript cooldown", zap.String("video_id", videoID), zap.Duration("wait", wait))
		if err := retrieval.SleepCtx(ctx, wait); err != nil {
			return "", retrieval.NewFailure(retrieval.BudgetExceeded, "budget spent in cooldown")
		}
	}

	info, err := p.fetchInfo(ctx, videoID, deadline, host, session)
	if err != nil {
		return "", err
	}

	track, ok := SelectTrack(info.Tracks, p.cfg.Languages, p.cfg.AllowAutoCaption)
	if !ok {
		return p.audioFallback(ctx, videoID, info)
	}

	raw, err := p.downloadCaptions(ctx, track.BaseURL)
	if err != nil {
		return "", err
	}
	segments, err := Decode(raw)
	if err != nil {
		return "", err
	}
	return JoinText(segments), nil
}

// fetchInfo attempts the persona sequence: persona one on the current
// session, then a single rotate-and-retry with persona two when the first
// attempt looks identity-specific. A second such failure ends the pipeline.
func (p *Pipeline) fetchInfo(ctx context.Context, videoID string, deadline time.Time, host string, session egress.Session) (*VideoInfo, error) {
	personas := DefaultPersonas()
	var lastErr error
	for i, persona := range personas {
		remaining := deadline.Sub(p.clk.Now())
		if remaining < minViableBudget {
			return nil, retrieval.NewFailure(retrieval.BudgetExceeded,
				"%s remaining before persona %s", remaining.Round(time.Millisecond), persona.Name)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, remaining/time.Duration(len(personas)-i))
		info, err := p.info.Fetch(attemptCtx, videoID, persona, session)
		cancel()
		if err == nil {
			p.governor.ClearBackoff(host, session.ID)
			return info, nil
		}
		lastErr = err
		if !retrieval.RotatesSession(err) {
			return nil, err
		}
		p.log.Info("video info persona rejected",
			zap.String("video_id", videoID),
			zap.String("persona", persona.Name),
			zap.Error(err))
		p.governor.RegisterBackoff(host, session.ID, retrieval.RetryAfterOf(err), retrieval.StatusOf(err))
		session = p.infoPool.Rotate()
	}
	return nil, lastErr
}

// downloadCaptions fetches the timed-text document over the caption pool.
// One rotate-and-retry on egress trouble, then a last direct attempt
// without a proxy.
func (p *Pipeline) downloadCaptions(ctx context.Context, baseURL string) ([]byte, error) {
	session := p.captionPool.Acquire()
	raw, err := p.fetchCaptionBody(ctx, baseURL, session)
	if err == nil {
		return raw, nil
	}
	if !retrieval.RotatesSession(err) {
		return nil, err
	}
	session = p.captionPool.Rotate()
	raw, err = p.fetchCaptionBody(ctx, baseURL, session)
	if err == nil {
		return raw, nil
	}
	if !retrieval.RotatesSession(err) || session.None() {
		return nil, err
	}
	p.log.Info("caption download falling back to direct egress", zap.Error(err))
	return p.fetchCaptionBody(ctx, baseURL, egress.Session{ID: egress.NoneID})
}

func (p *Pipeline) fetchCaptionBody(ctx context.Context, baseURL string, session egress.Session) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build caption request: %w", err)
	}
	client := &http.Client{Timeout: captionDownloadTimeout, Transport: sessionTransport(session)}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, retrieval.NewFailure(retrieval.BudgetExceeded, "caption download: %v", ctx.Err())
		}
		if !session.None() {
			return nil, retrieval.NewFailure(retrieval.EgressFailure, "caption egress: %v", err)
		}
		return nil, retrieval.NewFailure(retrieval.ContentAbsent, "caption transport: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, retrieval.StatusFailure(resp.StatusCode, "caption download")
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, retrieval.NewFailure(retrieval.ContentAbsent, "read caption body: %v", err)
	}
	if len(raw) == 0 {
		return nil, retrieval.NewFailure(retrieval.ContentAbsent, "empty caption body")
	}
	return raw, nil
}

// audioFallback transcribes the audio stream when no caption track exists.
// It runs under its own hard ceiling so a slow transcription cannot exceed
// what the caller signed up for, and only for videos short enough to be
// worth it.
func (p *Pipeline) audioFallback(ctx context.Context, videoID string, info *VideoInfo) (string, error) {
	absent := retrieval.NewFailure(retrieval.ContentAbsent, "video %s has no caption tracks", videoID)
	if !p.cfg.AudioFallback || p.transcriber == nil {
		return "", absent
	}
	if info.AudioURL == "" {
		return "", absent
	}
	if p.cfg.AudioMaxVideo > 0 && time.Duration(info.DurationSec)*time.Second > p.cfg.AudioMaxVideo {
		p.log.Info("skipping audio fallback, video too long",
			zap.String("video_id", videoID), zap.Int("duration_sec", info.DurationSec))
		return "", absent
	}

	ceiling := p.cfg.AudioCeiling
	if ceiling <= 0 {
		ceiling = 60 * time.Second
	}
	audioCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ceiling)
	defer cancel()

	p.log.Info("attempting audio transcription fallback", zap.String("video_id", videoID))
	text, err := p.transcriber.Transcribe(audioCtx, info.AudioURL)
	if err != nil {
		return "", err
	}
	return text, nil
}
