package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	HubSpot   HubSpotConfig   `yaml:"hubspot" mapstructure:"hubspot"`
	ZoomInfo  ZoomInfoConfig  `yaml:"zoominfo" mapstructure:"zoominfo"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Sheets    SheetsConfig    `yaml:"sheets" mapstructure:"sheets"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the run-ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxRuns     int    `yaml:"max_runs" mapstructure:"max_runs"`
}

// HubSpotConfig holds CRM API credentials and the target list.
type HubSpotConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	ListID  string `yaml:"list_id" mapstructure:"list_id"`
}

// ZoomInfoConfig holds enrichment-provider credentials. Either a
// refresh-token trio or a pre-issued access token works; the refresh
// flow wins when both are set.
type ZoomInfoConfig struct {
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
	RefreshToken string `yaml:"refresh_token" mapstructure:"refresh_token"`
	AccessToken  string `yaml:"access_token" mapstructure:"access_token"`
	TokenURL     string `yaml:"token_url" mapstructure:"token_url"`
	BaseURL      string `yaml:"base_url" mapstructure:"base_url"`
}

// AnthropicConfig holds LinkedIn-validation model settings. An empty
// key disables validation entirely.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// SheetsConfig holds the audit-trail spreadsheet settings. Audit is
// optional; it activates only when a spreadsheet ID and service-account
// credentials are present.
type SheetsConfig struct {
	SpreadsheetID string `yaml:"spreadsheet_id" mapstructure:"spreadsheet_id"`
	SheetName     string `yaml:"sheet_name" mapstructure:"sheet_name"`
	ClientEmail   string `yaml:"client_email" mapstructure:"client_email"`
	PrivateKey    string `yaml:"private_key" mapstructure:"private_key"`
}

// EnrichConfig configures batch behavior for manual runs.
type EnrichConfig struct {
	BatchSize     int `yaml:"batch_size" mapstructure:"batch_size"`
	RecordDelayMS int `yaml:"record_delay_ms" mapstructure:"record_delay_ms"`
}

// RecordDelay returns the inter-record pacing pause.
func (c EnrichConfig) RecordDelay() time.Duration {
	return time.Duration(c.RecordDelayMS) * time.Millisecond
}

// ServerConfig configures the dashboard API server.
type ServerConfig struct {
	Port              int    `yaml:"port" mapstructure:"port"`
	DashboardPassword string `yaml:"dashboard_password" mapstructure:"dashboard_password"`
	CronSecret        string `yaml:"cron_secret" mapstructure:"cron_secret"`
	EmbedScheduler    bool   `yaml:"embed_scheduler" mapstructure:"embed_scheduler"`
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
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "enrichment.db")
	v.SetDefault("store.max_runs", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("hubspot.base_url", "https://api.hubapi.com")
	v.SetDefault("hubspot.list_id", "151")
	v.SetDefault("zoominfo.base_url", "https://api.zoominfo.com")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("sheets.sheet_name", "Enrichment Log")
	v.SetDefault("enrich.batch_size", 10)
	v.SetDefault("enrich.record_delay_ms", 2000)

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

// Validate checks that the configuration can support the given mode
// ("run" for enrichment invocations, "serve" for the dashboard API).
// All problems are reported at once.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			problems = append(problems, "store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.MaxRuns < 1 || c.Store.MaxRuns > 1000 {
		problems = append(problems, "store.max_runs must be between 1 and 1000")
	}
	if c.Enrich.BatchSize < 1 || c.Enrich.BatchSize > 100 {
		problems = append(problems, "enrich.batch_size must be between 1 and 100")
	}
	if c.Enrich.RecordDelayMS < 0 {
		problems = append(problems, "enrich.record_delay_ms must be >= 0")
	}

	switch mode {
	case "run":
		if c.HubSpot.Token == "" {
			problems = append(problems, "hubspot.token is required")
		}
		if c.HubSpot.ListID == "" {
			problems = append(problems, "hubspot.list_id is required")
		}
		hasRefresh := c.ZoomInfo.ClientID != "" && c.ZoomInfo.ClientSecret != "" && c.ZoomInfo.RefreshToken != ""
		if !hasRefresh && c.ZoomInfo.AccessToken == "" {
			problems = append(problems, "zoominfo credentials are required (client_id/client_secret/refresh_token or access_token)")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Server.DashboardPassword == "" {
			problems = append(problems, "server.dashboard_password is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
