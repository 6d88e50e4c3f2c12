// Package config loads application configuration from config.yaml and
// the environment, and initializes the global logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Verification VerificationConfig `yaml:"verification" mapstructure:"verification"`
	Lineage      LineageConfig      `yaml:"lineage" mapstructure:"lineage"`
	Audit        AuditConfig        `yaml:"audit" mapstructure:"audit"`
	Receipt      ReceiptConfig      `yaml:"receipt" mapstructure:"receipt"`
	Formula      FormulaConfig      `yaml:"formula" mapstructure:"formula"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// VerificationConfig controls score recomputation.
type VerificationConfig struct {
	// PassThresholdPct is the max percent difference (0.5 = 0.5%)
	// between stored and recomputed score that still counts as passed.
	PassThresholdPct float64 `yaml:"pass_threshold_pct" mapstructure:"pass_threshold_pct"`
	// AlertPassRate is the bulk pass-rate floor below which the batch
	// job raises an alert (0.80 = 80%).
	AlertPassRate float64 `yaml:"alert_pass_rate" mapstructure:"alert_pass_rate"`
	BatchLimit    int     `yaml:"batch_limit" mapstructure:"batch_limit"`
	Concurrency   int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// LineageConfig controls lineage re-checks.
type LineageConfig struct {
	LookbackDays int `yaml:"lookback_days" mapstructure:"lookback_days"`
	ChunkSize    int `yaml:"chunk_size" mapstructure:"chunk_size"`
}

// AuditConfig controls audit report generation and retention.
type AuditConfig struct {
	WeeklyReportWeekday    int `yaml:"weekly_report_weekday" mapstructure:"weekly_report_weekday"`
	LongRunThresholdSecs   int `yaml:"long_run_threshold_secs" mapstructure:"long_run_threshold_secs"`
	DisputeVolumeAlert     int `yaml:"dispute_volume_alert" mapstructure:"dispute_volume_alert"`
	VerificationRetainDays int `yaml:"verification_retain_days" mapstructure:"verification_retain_days"`
	LineageRetainDays      int `yaml:"lineage_retain_days" mapstructure:"lineage_retain_days"`
}

// ReceiptConfig configures receipt signing and the public verify
// endpoint rate limit.
type ReceiptConfig struct {
	// SigningSecret is the server-held HMAC key. Required for issuing
	// or verifying receipts.
	SigningSecret string `yaml:"signing_secret" mapstructure:"signing_secret"`
	// RateLimitPerMin is the per-caller budget on GET /verify.
	RateLimitPerMin int `yaml:"rate_limit_per_min" mapstructure:"rate_limit_per_min"`
	RateLimitBurst  int `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
}

// FormulaConfig points at an optional weights file overriding the
// built-in formula version table.
type FormulaConfig struct {
	WeightsPath string `yaml:"weights_path" mapstructure:"weights_path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port      int           `yaml:"port" mapstructure:"port"`
	APITokens []TokenConfig `yaml:"api_tokens" mapstructure:"api_tokens"`
}

// TokenConfig maps a bearer token to an acting principal.
type TokenConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	ActorID string `yaml:"actor_id" mapstructure:"actor_id"`
	Admin   bool   `yaml:"admin" mapstructure:"admin"`
}

// MonitoringConfig configures alert delivery and the optional
// attestation hook.
type MonitoringConfig struct {
	WebhookURL     string `yaml:"webhook_url" mapstructure:"webhook_url"`
	AttestationURL string `yaml:"attestation_url" mapstructure:"attestation_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("NGN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("verification.pass_threshold_pct", 0.5)
	v.SetDefault("verification.alert_pass_rate", 0.80)
	v.SetDefault("verification.batch_limit", 500)
	v.SetDefault("verification.concurrency", 8)
	v.SetDefault("lineage.lookback_days", 7)
	v.SetDefault("lineage.chunk_size", 100)
	v.SetDefault("audit.weekly_report_weekday", 1) // Monday
	v.SetDefault("audit.long_run_threshold_secs", 600)
	v.SetDefault("audit.dispute_volume_alert", 10)
	v.SetDefault("audit.verification_retain_days", 90)
	v.SetDefault("audit.lineage_retain_days", 365)
	v.SetDefault("receipt.rate_limit_per_min", 30)
	v.SetDefault("receipt.rate_limit_burst", 10)
	v.SetDefault("server.port", 8080)
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

// Validate checks the settings a command depends on before it runs.
func (c *Config) Validate(scope string) error {
	switch scope {
	case "store":
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required for the postgres driver")
		}
	case "receipt":
		if c.Receipt.SigningSecret == "" {
			return eris.New("config: receipt.signing_secret is required")
		}
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
