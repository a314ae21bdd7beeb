package config

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/mitchellh/go-homedir"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Classify  ClassifyConfig  `yaml:"classify" mapstructure:"classify"`
	Scan      ScanConfig      `yaml:"scan" mapstructure:"scan"`
	Limits    LimitsConfig    `yaml:"limits" mapstructure:"limits"`
	Sources   SourcesConfig   `yaml:"sources" mapstructure:"sources"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Alerts    AlertsConfig    `yaml:"alerts" mapstructure:"alerts"`
	Narrative NarrativeConfig `yaml:"narrative" mapstructure:"narrative"`
	Scheduler SchedulerConfig `yaml:"scheduler" mapstructure:"scheduler"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
}

// ClassifyConfig configures the classification gateway.
type ClassifyConfig struct {
	BatchSize   int   `yaml:"batch_size" mapstructure:"batch_size"`
	TimeoutSecs int   `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxTokens   int64 `yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries  int   `yaml:"max_retries" mapstructure:"max_retries"`
}

// ScanConfig configures the scan coordinator.
type ScanConfig struct {
	FirstScanMultiplier int    `yaml:"first_scan_multiplier" mapstructure:"first_scan_multiplier"`
	AdapterTimeoutSecs  int    `yaml:"adapter_timeout_secs" mapstructure:"adapter_timeout_secs"`
	LockFile            string `yaml:"lock_file" mapstructure:"lock_file"`
}

// LimitsConfig holds per-source fetch limits at standard depth.
type LimitsConfig struct {
	GoogleNews int `yaml:"google_news" mapstructure:"google_news"`
	PressFeeds int `yaml:"press_feeds" mapstructure:"press_feeds"`
	Reddit     int `yaml:"reddit" mapstructure:"reddit"`
	Profile    int `yaml:"profile" mapstructure:"profile"`
}

// SourcesConfig lists source endpoints.
type SourcesConfig struct {
	UserAgent       string   `yaml:"user_agent" mapstructure:"user_agent"`
	GoogleNewsURL   string   `yaml:"google_news_url" mapstructure:"google_news_url"`
	PressFeeds      []string `yaml:"press_feeds" mapstructure:"press_feeds"`
	RedditBaseURL   string   `yaml:"reddit_base_url" mapstructure:"reddit_base_url"`
	Subreddits      []string `yaml:"subreddits" mapstructure:"subreddits"`
	ProfileSelector string   `yaml:"profile_selector" mapstructure:"profile_selector"`
}

// ScoringConfig holds image index weights and credibility overrides.
type ScoringConfig struct {
	Weights            map[string]float64 `yaml:"weights" mapstructure:"weights"`
	DefaultCredibility float64            `yaml:"default_credibility" mapstructure:"default_credibility"`
	Credibility        map[string]float64 `yaml:"credibility" mapstructure:"credibility"`
}

// AlertsConfig holds alert rule thresholds.
type AlertsConfig struct {
	NegativePressMin    int     `yaml:"negative_press_min" mapstructure:"negative_press_min"`
	NegativeSocialRatio float64 `yaml:"negative_social_ratio" mapstructure:"negative_social_ratio"`
	NegativeSocialMin   int     `yaml:"negative_social_min" mapstructure:"negative_social_min"`
	MediaVolumeMin      int     `yaml:"media_volume_min" mapstructure:"media_volume_min"`
	ControversyMin      int     `yaml:"controversy_min" mapstructure:"controversy_min"`
	InactivityDays      int     `yaml:"inactivity_days" mapstructure:"inactivity_days"`
}

// NarrativeConfig configures the narrative aggregator.
type NarrativeConfig struct {
	Enabled      bool  `yaml:"enabled" mapstructure:"enabled"`
	MinItems     int   `yaml:"min_items" mapstructure:"min_items"`
	MaxItems     int   `yaml:"max_items" mapstructure:"max_items"`
	LookbackDays int   `yaml:"lookback_days" mapstructure:"lookback_days"`
	MaxTokens    int64 `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs  int   `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// SchedulerConfig configures the cron triggers.
type SchedulerConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	DailyCron       string `yaml:"daily_cron" mapstructure:"daily_cron"`
	WeeklyCron      string `yaml:"weekly_cron" mapstructure:"weekly_cron"`
	PauseSecs       int    `yaml:"pause_secs" mapstructure:"pause_secs"`
	WeeklyPauseSecs int    `yaml:"weekly_pause_secs" mapstructure:"weekly_pause_secs"`
}

// NotifyConfig configures the best-effort notification channels.
type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram" mapstructure:"telegram"`
	Email    EmailConfig    `yaml:"email" mapstructure:"email"`
	Webhook  WebhookConfig  `yaml:"webhook" mapstructure:"webhook"`
}

// TelegramConfig holds Telegram bot credentials.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token" mapstructure:"bot_token"`
	ChatID   string `yaml:"chat_id" mapstructure:"chat_id"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
}

// EmailConfig holds SMTP settings for the digest.
type EmailConfig struct {
	Host     string   `yaml:"host" mapstructure:"host"`
	Port     int      `yaml:"port" mapstructure:"port"`
	Username string   `yaml:"username" mapstructure:"username"`
	Password string   `yaml:"password" mapstructure:"password"`
	From     string   `yaml:"from" mapstructure:"from"`
	To       []string `yaml:"to" mapstructure:"to"`
}

// WebhookConfig holds a generic JSON webhook target.
type WebhookConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// PricingConfig holds per-model token pricing.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "~/.athlete-monitor/monitor.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("classify.batch_size", 30)
	v.SetDefault("classify.timeout_secs", 90)
	v.SetDefault("classify.max_tokens", 4096)
	v.SetDefault("classify.max_retries", 3)
	v.SetDefault("scan.first_scan_multiplier", 3)
	v.SetDefault("scan.adapter_timeout_secs", 120)
	v.SetDefault("scan.lock_file", "~/.athlete-monitor/scan.lock")
	v.SetDefault("limits.google_news", 50)
	v.SetDefault("limits.press_feeds", 50)
	v.SetDefault("limits.reddit", 50)
	v.SetDefault("limits.profile", 30)
	v.SetDefault("sources.user_agent", "athlete-monitor/1.0")
	v.SetDefault("sources.google_news_url", "https://news.google.com/rss/search")
	v.SetDefault("sources.press_feeds", []string{
		"https://e00-marca.uecdn.es/rss/futbol/primera-division.xml",
		"https://as.com/rss/futbol/primera.xml",
		"https://www.mundodeportivo.com/rss/futbol",
		"https://www.sport.es/es/rss/futbol/rss.xml",
	})
	v.SetDefault("sources.reddit_base_url", "https://www.reddit.com")
	v.SetDefault("sources.subreddits", []string{"soccer", "LaLiga", "football"})
	v.SetDefault("sources.profile_selector", "table.profile tr, table.stats tr")
	v.SetDefault("scoring.weights", map[string]float64{
		"volume":         0.20,
		"press":          0.25,
		"social":         0.25,
		"engagement":     0.15,
		"no_controversy": 0.15,
	})
	v.SetDefault("scoring.default_credibility", 5)
	v.SetDefault("alerts.negative_press_min", 3)
	v.SetDefault("alerts.negative_social_ratio", 0.4)
	v.SetDefault("alerts.negative_social_min", 5)
	v.SetDefault("alerts.media_volume_min", 15)
	v.SetDefault("alerts.controversy_min", 2)
	v.SetDefault("alerts.inactivity_days", 7)
	v.SetDefault("narrative.enabled", true)
	v.SetDefault("narrative.min_items", 5)
	v.SetDefault("narrative.max_items", 200)
	v.SetDefault("narrative.lookback_days", 7)
	v.SetDefault("narrative.max_tokens", 3000)
	v.SetDefault("narrative.timeout_secs", 180)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.daily_cron", "0 0 7 * * *")
	v.SetDefault("scheduler.weekly_cron", "0 0 20 * * 0")
	v.SetDefault("scheduler.pause_secs", 30)
	v.SetDefault("scheduler.weekly_pause_secs", 5)
	v.SetDefault("notify.telegram.base_url", "https://api.telegram.org")
	v.SetDefault("notify.email.port", 587)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandPaths resolves "~" in filesystem paths.
func (c *Config) expandPaths() error {
	if c.Store.Driver == "sqlite" {
		p, err := homedir.Expand(c.Store.DatabaseURL)
		if err != nil {
			return eris.Wrap(err, "config: expand store.database_url")
		}
		c.Store.DatabaseURL = p
	}
	p, err := homedir.Expand(c.Scan.LockFile)
	if err != nil {
		return eris.Wrap(err, "config: expand scan.lock_file")
	}
	c.Scan.LockFile = p
	return nil
}

// Validate checks the keys each command needs. mode is one of "scan",
// "serve", "schedule" or "store".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "store":
	case "scan", "schedule":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
	case "serve":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if c.Classify.BatchSize < 1 || c.Classify.BatchSize > 30 {
		problems = append(problems, "classify.batch_size must be between 1 and 30")
	}
	if c.Scan.FirstScanMultiplier < 1 {
		problems = append(problems, "scan.first_scan_multiplier must be >= 1")
	}
	for k, w := range c.Scoring.Weights {
		if w < 0 {
			problems = append(problems, "scoring.weights."+k+" must be >= 0")
		}
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger. Format "auto" picks the
// console encoder when stderr is a terminal.
func InitLogger(cfg LogConfig) error {
	format := cfg.Format
	if format == "auto" {
		format = "json"
		if isatty.IsTerminal(os.Stderr.Fd()) {
			format = "console"
		}
	}

	var zapCfg zap.Config
	if format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
