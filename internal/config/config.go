package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Countries  []string         `yaml:"countries" mapstructure:"countries"`
	Run        RunConfig        `yaml:"run" mapstructure:"run"`
	Filter     FilterConfig     `yaml:"filter" mapstructure:"filter"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Outreach   OutreachConfig   `yaml:"outreach" mapstructure:"outreach"`
	Mailgun    MailgunConfig    `yaml:"mailgun" mapstructure:"mailgun"`
	Brave      BraveConfig      `yaml:"brave" mapstructure:"brave"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Report     ReportConfig     `yaml:"report" mapstructure:"report"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DSN         string `yaml:"dsn" mapstructure:"dsn"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// RunConfig controls a single pipeline run.
type RunConfig struct {
	Year              int `yaml:"year" mapstructure:"year"`
	Month             int `yaml:"month" mapstructure:"month"`
	SourceTimeoutSecs int `yaml:"source_timeout_secs" mapstructure:"source_timeout_secs"`
	LookupConcurrency int `yaml:"lookup_concurrency" mapstructure:"lookup_concurrency"`
	LookupTimeoutSecs int `yaml:"lookup_timeout_secs" mapstructure:"lookup_timeout_secs"`
	RetryAttempts     int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// FilterConfig holds the report filter criteria. Zero values mean unset.
type FilterConfig struct {
	MinEmployees    int      `yaml:"min_employees" mapstructure:"min_employees"`
	MaxEmployees    int      `yaml:"max_employees" mapstructure:"max_employees"`
	MinNetSales     int64    `yaml:"min_net_sales" mapstructure:"min_net_sales"`
	MaxNetSales     int64    `yaml:"max_net_sales" mapstructure:"max_net_sales"`
	Regions         []string `yaml:"regions" mapstructure:"regions"`
	IncludeKeywords []string `yaml:"include_keywords" mapstructure:"include_keywords"`
	ExcludeKeywords []string `yaml:"exclude_keywords" mapstructure:"exclude_keywords"`
	BusinessTypes   []string `yaml:"business_types" mapstructure:"business_types"`
}

// TableOverride replaces or extends a country's classification tables.
type TableOverride struct {
	High   map[string]int    `yaml:"high" mapstructure:"high"`
	Mid    map[string]int    `yaml:"mid" mapstructure:"mid"`
	Low    map[string]int    `yaml:"low" mapstructure:"low"`
	Assets map[string]string `yaml:"assets" mapstructure:"assets"`
}

// ScoringConfig configures the scoring engine.
type ScoringConfig struct {
	ReasoningEnabled bool                     `yaml:"reasoning_enabled" mapstructure:"reasoning_enabled"`
	Overrides        map[string]TableOverride `yaml:"overrides" mapstructure:"overrides"`
}

// SearchConfig configures the web-search contact fallback.
type SearchConfig struct {
	Provider          string  `yaml:"provider" mapstructure:"provider"`
	MaxResults        int     `yaml:"max_results" mapstructure:"max_results"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	FetchPages        int     `yaml:"fetch_pages" mapstructure:"fetch_pages"`
}

// OutreachConfig holds the outreach safety gates and message settings.
type OutreachConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	Live          bool   `yaml:"live" mapstructure:"live"`
	RatePerMinute int    `yaml:"rate_per_minute" mapstructure:"rate_per_minute"`
	From          string `yaml:"from" mapstructure:"from"`
	ReplyTo       string `yaml:"reply_to" mapstructure:"reply_to"`
	Bcc           string `yaml:"bcc" mapstructure:"bcc"`
	SenderName    string `yaml:"sender_name" mapstructure:"sender_name"`
	TemplateDir   string `yaml:"template_dir" mapstructure:"template_dir"`
	SendTimeout   int    `yaml:"send_timeout_secs" mapstructure:"send_timeout_secs"`
}

// MailgunConfig holds Mailgun API credentials.
type MailgunConfig struct {
	Key               string `yaml:"api_key" mapstructure:"api_key"`
	Domain            string `yaml:"domain" mapstructure:"domain"`
	APIURL            string `yaml:"api_url" mapstructure:"api_url"`
	WebhookSigningKey string `yaml:"webhook_signing_key" mapstructure:"webhook_signing_key"`
}

// BraveConfig holds Brave Search API credentials.
type BraveConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// JinaConfig holds Jina AI API credentials.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// AnthropicConfig holds Anthropic API credentials.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ReportConfig configures report output.
type ReportConfig struct {
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the approval API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures run-health alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
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

	// Defaults. Keys without a default are invisible to AutomaticEnv on
	// Unmarshal, so every env-settable key gets one here.
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "bankruptcies.db")
	v.SetDefault("store.database_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("countries", []string{"se"})
	v.SetDefault("run.year", 0)
	v.SetDefault("run.month", 0)
	v.SetDefault("run.source_timeout_secs", 300)
	v.SetDefault("run.lookup_concurrency", 3)
	v.SetDefault("run.lookup_timeout_secs", 20)
	v.SetDefault("run.retry_attempts", 3)
	v.SetDefault("filter.min_employees", 0)
	v.SetDefault("filter.max_employees", 0)
	v.SetDefault("filter.min_net_sales", 0)
	v.SetDefault("filter.max_net_sales", 0)
	v.SetDefault("filter.regions", []string{})
	v.SetDefault("filter.include_keywords", []string{})
	v.SetDefault("filter.exclude_keywords", []string{})
	v.SetDefault("filter.business_types", []string{})
	v.SetDefault("scoring.reasoning_enabled", false)
	v.SetDefault("search.provider", "brave")
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.requests_per_second", 1.0)
	v.SetDefault("search.fetch_pages", 2)
	v.SetDefault("outreach.enabled", false)
	v.SetDefault("outreach.live", false)
	v.SetDefault("outreach.rate_per_minute", 10)
	v.SetDefault("outreach.from", "")
	v.SetDefault("outreach.reply_to", "")
	v.SetDefault("outreach.bcc", "")
	v.SetDefault("outreach.sender_name", "")
	v.SetDefault("outreach.template_dir", "")
	v.SetDefault("outreach.send_timeout_secs", 30)
	v.SetDefault("mailgun.api_key", "")
	v.SetDefault("mailgun.domain", "")
	v.SetDefault("mailgun.api_url", "https://api.eu.mailgun.net/v3")
	v.SetDefault("mailgun.webhook_signing_key", "")
	v.SetDefault("brave.key", "")
	v.SetDefault("brave.base_url", "https://api.search.brave.com/res/v1")
	v.SetDefault("jina.key", "")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 150)
	v.SetDefault("report.dir", "reports")
	v.SetDefault("report.format", "xlsx")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.lookback_hours", 24*31)
	v.SetDefault("monitoring.check_interval_secs", 0)

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

	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	codes := c.Countries[:0]
	for _, code := range c.Countries {
		code = strings.ToLower(strings.TrimSpace(code))
		if code != "" {
			codes = append(codes, code)
		}
	}
	c.Countries = codes

	if c.Run.LookupConcurrency < 1 {
		c.Run.LookupConcurrency = 1
	}
	if c.Run.LookupConcurrency > 5 {
		c.Run.LookupConcurrency = 5
	}
	if c.Outreach.RatePerMinute < 1 {
		c.Outreach.RatePerMinute = 1
	}
}

// Validate checks the keys required by the given command mode.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.DSN == "" {
			errs = append(errs, "store.dsn is required")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	switch mode {
	case "run":
		if len(c.Countries) == 0 {
			errs = append(errs, "countries is required")
		}
		if c.Run.Month < 0 || c.Run.Month > 12 {
			errs = append(errs, "run.month must be between 0 and 12")
		}
	case "send":
		if c.Outreach.Enabled && c.Outreach.Live {
			if c.Mailgun.Key == "" {
				errs = append(errs, "mailgun.api_key is required")
			}
			if c.Mailgun.Domain == "" {
				errs = append(errs, "mailgun.domain is required")
			}
			if c.Outreach.From == "" {
				errs = append(errs, "outreach.from is required")
			}
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "store":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
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
