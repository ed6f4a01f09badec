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
	Scan       ScanConfig       `yaml:"scan" mapstructure:"scan"`
	Renderer   RendererConfig   `yaml:"renderer" mapstructure:"renderer"`
	Pacing     PacingConfig     `yaml:"pacing" mapstructure:"pacing"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Report     ReportConfig     `yaml:"report" mapstructure:"report"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ScanConfig bounds one rank-check session: pagination depth, the retry
// budget, and the backoff schedule between attempts.
type ScanConfig struct {
	MaxPages            int  `yaml:"max_pages" mapstructure:"max_pages"`
	MaxRetries          int  `yaml:"max_retries" mapstructure:"max_retries"`
	BaseBackoffMs       int  `yaml:"base_backoff_ms" mapstructure:"base_backoff_ms"`
	MaxBackoffMs        int  `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	PerPageTimeoutSecs  int  `yaml:"per_page_timeout_secs" mapstructure:"per_page_timeout_secs"`
	SessionTimeoutSecs  int  `yaml:"session_timeout_secs" mapstructure:"session_timeout_secs"`
	RetryLaunchFailures bool `yaml:"retry_launch_failures" mapstructure:"retry_launch_failures"`
}

// RendererConfig configures the headless browser sessions.
type RendererConfig struct {
	Headless            bool   `yaml:"headless" mapstructure:"headless"`
	Proxy               string `yaml:"proxy" mapstructure:"proxy"`
	UserAgent           string `yaml:"user_agent" mapstructure:"user_agent"`
	BlockHeavyResources bool   `yaml:"block_heavy_resources" mapstructure:"block_heavy_resources"`
	SettleDelayMs       int    `yaml:"settle_delay_ms" mapstructure:"settle_delay_ms"`
	Locale              string `yaml:"locale" mapstructure:"locale"`
}

// PacingConfig spaces page navigations within a session.
type PacingConfig struct {
	PageIntervalMs int `yaml:"page_interval_ms" mapstructure:"page_interval_ms"`
}

// BatchConfig configures batch processing of job lists.
type BatchConfig struct {
	MaxConcurrentScans int    `yaml:"max_concurrent_scans" mapstructure:"max_concurrent_scans"`
	CSVDelimiter       string `yaml:"csv_delimiter" mapstructure:"csv_delimiter"`
	CSVCharset         string `yaml:"csv_charset" mapstructure:"csv_charset"`
	XLSXSheet          string `yaml:"xlsx_sheet" mapstructure:"xlsx_sheet"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`

	// APIKey, when set, is required as a bearer token on every request
	// except the health endpoint.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
}

// MonitoringConfig configures scan-health checks and alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	BlockRateThreshold   float64 `yaml:"block_rate_threshold" mapstructure:"block_rate_threshold"`
	StuckQueueThreshold  int     `yaml:"stuck_queue_threshold" mapstructure:"stuck_queue_threshold"`
}

// NotionConfig holds Notion API credentials and the results database ID.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	ResultDB string `yaml:"result_db" mapstructure:"result_db"`
}

// ReportConfig configures XLSX report exports.
type ReportConfig struct {
	SheetName string `yaml:"sheet_name" mapstructure:"sheet_name"`
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
	v.SetEnvPrefix("RANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "rank.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("scan.max_pages", 5)
	v.SetDefault("scan.max_retries", 2)
	v.SetDefault("scan.base_backoff_ms", 1000)
	v.SetDefault("scan.max_backoff_ms", 8000)
	v.SetDefault("scan.per_page_timeout_secs", 45)
	v.SetDefault("scan.session_timeout_secs", 600)
	v.SetDefault("scan.retry_launch_failures", false)
	v.SetDefault("renderer.headless", true)
	v.SetDefault("renderer.block_heavy_resources", true)
	v.SetDefault("renderer.settle_delay_ms", 1200)
	v.SetDefault("renderer.locale", "en-US")
	v.SetDefault("pacing.page_interval_ms", 1500)
	v.SetDefault("batch.max_concurrent_scans", 1)
	v.SetDefault("batch.csv_delimiter", ",")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.3)
	v.SetDefault("monitoring.block_rate_threshold", 0.5)
	v.SetDefault("monitoring.stuck_queue_threshold", 25)
	v.SetDefault("report.sheet_name", "Ranks")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

	return &cfg, nil
}

// Validate checks that the configuration is usable for the given mode
// ("scan", "batch", or "serve"). Modes share the store and scan checks;
// batch and serve add their own. All problems are reported at once.
func (c *Config) Validate(mode string) error {
	switch mode {
	case "scan", "batch", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required when store.driver is postgres")
	}
	if c.Scan.MaxPages < 1 || c.Scan.MaxPages > 20 {
		problems = append(problems, "scan.max_pages must be between 1 and 20")
	}
	if c.Scan.MaxRetries < 0 {
		problems = append(problems, "scan.max_retries must be >= 0")
	}
	if c.Scan.MaxBackoffMs < c.Scan.BaseBackoffMs {
		problems = append(problems, "scan.max_backoff_ms must be >= scan.base_backoff_ms")
	}

	switch mode {
	case "batch":
		if c.Batch.MaxConcurrentScans < 1 || c.Batch.MaxConcurrentScans > 16 {
			problems = append(problems, "batch.max_concurrent_scans must be between 1 and 16")
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and <= 65535")
		}
		if c.Monitoring.CheckIntervalSecs < 1 {
			problems = append(problems, "monitoring.check_interval_secs must be >= 1")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for mode %s: %s", mode, strings.Join(problems, "; "))
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
