// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/revradar/retrieval-engine/internal/cache"
	"github.com/revradar/retrieval-engine/internal/clock"
	"github.com/revradar/retrieval-engine/internal/config"
	"github.com/revradar/retrieval-engine/internal/egress"
	"github.com/revradar/retrieval-engine/internal/logging"
	"github.com/revradar/retrieval-engine/internal/retrieval"
	"github.com/revradar/retrieval-engine/internal/searchindex"
	"github.com/revradar/retrieval-engine/internal/transcript"
)

// App holds the shared, long-lived services: logger, result cache, session
// pools, orchestrator, and the transcript pipeline. Initialized once at
// startup and passed to whatever entrypoint needs it.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Store        *cache.Store
	Orchestrator *retrieval.Orchestrator
	Transcripts  *transcript.Pipeline

	browser *retrieval.BrowserStrategy
}

// New builds every service from configuration. Optional capabilities
// (egress proxy, search index, render API, browser, audio transcription)
// degrade to disabled rather than failing startup; a broken cache path is
// fatal because every retrieval depends on it.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger.Info("initializing retrieval services")

	clk := clock.System{}

	store, err := cache.Open(cfg.Cache.Path, cfg.PositiveTTL(), clk)
	if err != nil {
		return nil, fmt.Errorf("open result cache: %w", err)
	}

	creds := egress.Credentials{}
	if cfg.Egress.Enabled {
		creds = egress.Credentials{
			Host:     cfg.Egress.Host,
			Port:     cfg.Egress.Port,
			Username: cfg.Egress.Username,
			Password: cfg.Egress.Password,
			Country:  cfg.Egress.Country,
		}
	}
	pagePool := egress.NewPool(creds, cfg.SessionTTL(), clk, logger.Named("egress.page"))
	infoPool := egress.NewPool(creds, cfg.SessionTTL(), clk, logger.Named("egress.info"))
	captionPool := egress.NewPool(creds, cfg.SessionTTL(), clk, logger.Named("egress.caption"))

	governor := retrieval.NewGovernor(clk)
	policy := retrieval.NewPolicyResolver(cfg.Tiers.PolicyTablePath, logger)

	direct := retrieval.NewDirectStrategy(retrieval.DirectConfig{
		Timeout:        cfg.DirectTimeout(),
		MaxRetries:     cfg.HTTP.MaxRetries,
		BackoffInitial: time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
	}, pagePool, logger)

	render := retrieval.NewRenderStrategy(retrieval.RenderConfig{
		Endpoint: cfg.Render.Endpoint,
		APIKey:   cfg.Render.APIKey,
		Timeout:  time.Duration(cfg.Render.TimeoutSeconds) * time.Second,
	}, logger)

	feed := retrieval.NewFeedStrategy(cfg.DirectTimeout(), direct, logger)

	strategies := []retrieval.Strategy{direct, render, feed}
	var browser *retrieval.BrowserStrategy
	if cfg.Browser.Enabled {
		browser, err = retrieval.NewBrowserStrategy(retrieval.BrowserConfig{
			MaxParallel:  cfg.Browser.MaxParallel,
			NavTimeout:   time.Duration(cfg.Browser.NavTimeoutSec) * time.Second,
			ScrollToLoad: cfg.Browser.ScrollToLoad,
			UserAgent:    cfg.Browser.UserAgent,
			DomainQPS:    cfg.Browser.DomainQPSLimit,
		}, logger)
		switch {
		case errors.Is(err, retrieval.ErrBrowserDisabled):
			logger.Info("browser tier disabled by configuration")
		case err != nil:
			logger.Warn("browser tier unavailable, continuing without it", zap.Error(err))
		default:
			strategies = append(strategies, browser)
		}
	}

	search := searchindex.New(cfg.Search.Endpoint, cfg.Search.APIKey, cfg.Search.QPS, cfg.DirectTimeout())
	var disambiguator *retrieval.Disambiguator
	if search.Enabled() {
		disambiguator = retrieval.NewDisambiguator(search, direct, logger)
	} else {
		logger.Info("search index not configured, disambiguation tier disabled")
	}

	orchestrator := retrieval.NewOrchestrator(retrieval.OrchestratorConfig{
		Policy:        policy,
		Governor:      governor,
		Sessions:      pagePool,
		Cache:         store,
		Disambiguator: disambiguator,
		Strategies:    strategies,
		EnabledTiers:  enabledTiers(cfg.Tiers.Enabled),
		Clock:         clk,
		Logger:        logger.Named("orchestrator"),
		DefaultBudget: cfg.RetrievalBudget(),
		NegativeTTL:   cfg.NegativeTTL(),
	})

	info := transcript.NewInfoClient("", cfg.DirectTimeout(), logger.Named("videoinfo"))
	var transcriber transcript.Transcriber
	if at := transcript.NewAudioTranscriber(cfg.Transcript.WhisperEndpoint,
		time.Duration(cfg.Transcript.AudioCeilingSecs)*time.Second, logger.Named("audio")); at != nil {
		transcriber = at
	}
	pipeline := transcript.NewPipeline(transcript.PipelineConfig{
		Budget:           cfg.TranscriptBudget(),
		Languages:        cfg.Transcript.Languages,
		AllowAutoCaption: cfg.Transcript.AllowAutoCaption,
		AudioFallback:    cfg.Transcript.AudioFallback,
		AudioCeiling:     time.Duration(cfg.Transcript.AudioCeilingSecs) * time.Second,
		AudioMaxVideo:    time.Duration(cfg.Transcript.AudioMaxVideoSec) * time.Second,
		CacheTTL:         cfg.PositiveTTL(),
	}, info, infoPool, captionPool, governor, store, transcriber, clk, logger.Named("transcript"))

	return &App{
		Config:       cfg,
		Logger:       logger,
		Store:        store,
		Orchestrator: orchestrator,
		Transcripts:  pipeline,
		browser:      browser,
	}, nil
}

// Close releases the browser and the cache store.
func (a *App) Close() error {
	if a.browser != nil {
		a.browser.Close()
	}
	var err error
	if a.Store != nil {
		err = a.Store.Close()
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return err
}

// enabledTiers parses the configured tier names, skipping unknown ones.
func enabledTiers(names []string) []retrieval.Tier {
	out := make([]retrieval.Tier, 0, len(names))
	for _, name := range names {
		switch t := retrieval.Tier(name); t {
		case retrieval.TierDisambiguation, retrieval.TierDirect, retrieval.TierRender,
			retrieval.TierFeed, retrieval.TierBrowser:
			out = append(out, t)
		}
	}
	return out
}
