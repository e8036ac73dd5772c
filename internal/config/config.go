// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
// Every key has a default; absence of an optional capability (egress, search,
// render, browser, audio) only disables that capability, never startup.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Egress     EgressConfig     `mapstructure:"egress"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Tiers      TiersConfig      `mapstructure:"tiers"`
	Search     SearchConfig     `mapstructure:"search"`
	Render     RenderConfig     `mapstructure:"render"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Transcript TranscriptConfig `mapstructure:"transcript"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// EgressConfig holds proxy credential and session settings.
// With Enabled false or an empty Host, the session pool degrades to the
// "none" identity and the engine runs without proxying.
type EgressConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	Country        string `mapstructure:"country"`
	SessionTTLMins int    `mapstructure:"session_ttl_minutes"`
}

// HTTPConfig configures the direct-fetch tier's client behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// TiersConfig selects which acquisition tiers are eligible and where the
// domain policy table lives.
type TiersConfig struct {
	Enabled              []string `mapstructure:"enabled"`
	PolicyTablePath      string   `mapstructure:"policy_table_path"`
	DefaultBudgetSeconds int      `mapstructure:"default_budget_seconds"`
}

// SearchConfig points at the external search index used for disambiguation.
type SearchConfig struct {
	Endpoint string  `mapstructure:"endpoint"`
	APIKey   string  `mapstructure:"api_key"`
	QPS      float64 `mapstructure:"qps"`
}

// RenderConfig points at the managed browser-rendering API.
type RenderConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// BrowserConfig configures local headless browser automation.
type BrowserConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	MaxParallel    int     `mapstructure:"max_parallel"`
	NavTimeoutSec  int     `mapstructure:"nav_timeout_seconds"`
	ScrollToLoad   bool    `mapstructure:"scroll_to_load"`
	UserAgent      string  `mapstructure:"user_agent"`
	DomainQPSLimit float64 `mapstructure:"domain_qps"`
}

// CacheConfig sets the embedded result store location and TTLs.
type CacheConfig struct {
	Path             string `mapstructure:"path"`
	PositiveTTLHours int    `mapstructure:"positive_ttl_hours"`
	NegativeTTLMins  int    `mapstructure:"negative_ttl_minutes"`
}

// TranscriptConfig governs the caption acquisition pipeline.
type TranscriptConfig struct {
	BudgetSeconds    int      `mapstructure:"budget_seconds"`
	Languages        []string `mapstructure:"languages"`
	AllowAutoCaption bool     `mapstructure:"allow_auto_captions"`
	AudioFallback    bool     `mapstructure:"audio_fallback"`
	AudioCeilingSecs int      `mapstructure:"audio_ceiling_seconds"`
	AudioMaxVideoSec int      `mapstructure:"audio_max_video_seconds"`
	WhisperEndpoint  string   `mapstructure:"whisper_endpoint"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RETRIEVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
	v.SetDefault("egress.enabled", false)
	v.SetDefault("egress.port", 8000)
	v.SetDefault("egress.session_ttl_minutes", 10)
	v.SetDefault("http.timeout_seconds", 12)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 8000)
	v.SetDefault("tiers.enabled", []string{"disambiguation", "direct", "render", "feed", "browser"})
	v.SetDefault("tiers.default_budget_seconds", 25)
	v.SetDefault("search.qps", 1.0)
	v.SetDefault("render.timeout_seconds", 40)
	v.SetDefault("browser.enabled", false)
	v.SetDefault("browser.max_parallel", 1)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.scroll_to_load", true)
	v.SetDefault("browser.user_agent", defaultUserAgent)
	v.SetDefault("browser.domain_qps", 0.5)
	v.SetDefault("cache.path", "retriever-cache.db")
	v.SetDefault("cache.positive_ttl_hours", 72)
	v.SetDefault("cache.negative_ttl_minutes", 30)
	v.SetDefault("transcript.budget_seconds", 25)
	v.SetDefault("transcript.languages", []string{"en", "en-US", "en-GB"})
	v.SetDefault("transcript.allow_auto_captions", true)
	v.SetDefault("transcript.audio_fallback", false)
	v.SetDefault("transcript.audio_ceiling_seconds", 90)
	v.SetDefault("transcript.audio_max_video_seconds", 1200)
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Egress.Enabled && c.Egress.Host == "" {
		return fmt.Errorf("egress.host must be set when egress is enabled")
	}
	if c.Browser.Enabled && c.Browser.MaxParallel <= 0 {
		return fmt.Errorf("browser.max_parallel must be > 0 when browser is enabled")
	}
	if c.Cache.PositiveTTLHours <= 0 {
		return fmt.Errorf("cache.positive_ttl_hours must be > 0")
	}
	if c.Transcript.BudgetSeconds <= 0 {
		return fmt.Errorf("transcript.budget_seconds must be > 0")
	}
	if c.Tiers.DefaultBudgetSeconds <= 0 {
		return fmt.Errorf("tiers.default_budget_seconds must be > 0")
	}
	return nil
}

// RetrievalBudget converts the default per-call budget into a duration.
func (c Config) RetrievalBudget() time.Duration {
	return time.Duration(c.Tiers.DefaultBudgetSeconds) * time.Second
}

// DirectTimeout converts the HTTP timeout into a duration.
func (c Config) DirectTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// TranscriptBudget converts the transcript budget into a duration.
func (c Config) TranscriptBudget() time.Duration {
	return time.Duration(c.Transcript.BudgetSeconds) * time.Second
}

// SessionTTL converts the egress session TTL into a duration.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Egress.SessionTTLMins) * time.Minute
}

// PositiveTTL converts the cache positive TTL into a duration.
func (c Config) PositiveTTL() time.Duration {
	return time.Duration(c.Cache.PositiveTTLHours) * time.Hour
}

// NegativeTTL converts the cache negative TTL into a duration.
func (c Config) NegativeTTL() time.Duration {
	return time.Duration(c.Cache.NegativeTTLMins) * time.Minute
}
