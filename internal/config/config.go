package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"shiftledger/backend/internal/reconcile"
)

type Config struct {
	Port          string `mapstructure:"PORT"`
	Env           string `mapstructure:"APP_ENV"`
	AllowedOrigin string `mapstructure:"ALLOWED_ORIGIN"`

	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBTablePrefix string `mapstructure:"DB_TABLE_PREFIX"`

	RedisAddr         string `mapstructure:"REDIS_ADDR"`
	RedisPassword     string `mapstructure:"REDIS_PASSWORD"`
	RedisDB           int    `mapstructure:"REDIS_DB"`
	FeedChannelPrefix string `mapstructure:"FEED_CHANNEL_PREFIX"`
	AuditStream       string `mapstructure:"AUDIT_STREAM"`
	AuditStreamMaxLen int64  `mapstructure:"AUDIT_STREAM_MAXLEN"`

	AuthSecret            string `mapstructure:"AUTH_SECRET"`
	AccessTokenTTLMinutes int    `mapstructure:"ACCESS_TOKEN_TTL_MINUTES"`
	ManagerPIN            string `mapstructure:"MANAGER_PIN"`

	VarianceReviewThreshold string `mapstructure:"VARIANCE_REVIEW_THRESHOLD"`
	VarianceExactEpsilon    string `mapstructure:"VARIANCE_EXACT_EPSILON"`
	AuditMirrorAttempts     int    `mapstructure:"AUDIT_MIRROR_ATTEMPTS"`
	ContentionRetryAttempts int    `mapstructure:"CONTENTION_RETRY_ATTEMPTS"`

	DefaultCompanyID string `mapstructure:"DEFAULT_COMPANY_ID"`
	DefaultBranchID  string `mapstructure:"DEFAULT_BRANCH_ID"`
}

var defaults = map[string]any{
	"PORT":                      "8080",
	"APP_ENV":                   "development",
	"ALLOWED_ORIGIN":            "http://127.0.0.1:3000",
	"DATABASE_URL":              "",
	"DB_TABLE_PREFIX":           "",
	"REDIS_ADDR":                "",
	"REDIS_PASSWORD":            "",
	"REDIS_DB":                  0,
	"FEED_CHANNEL_PREFIX":       "shiftledger:shift:",
	"AUDIT_STREAM":              "shiftledger:audit",
	"AUDIT_STREAM_MAXLEN":       100000,
	"AUTH_SECRET":               "",
	"ACCESS_TOKEN_TTL_MINUTES":  480,
	"MANAGER_PIN":               "",
	"VARIANCE_REVIEW_THRESHOLD": "10",
	"VARIANCE_EXACT_EPSILON":    "0.01",
	"AUDIT_MIRROR_ATTEMPTS":     3,
	"CONTENTION_RETRY_ATTEMPTS": 3,
	"DEFAULT_COMPANY_ID":        "main-company",
	"DEFAULT_BRANCH_ID":         "main-branch",
}

// Load reads configuration from the environment and an optional .env file in
// the working directory.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.ManagerPIN = strings.TrimSpace(cfg.ManagerPIN)
	cfg.DBTablePrefix = strings.TrimSpace(cfg.DBTablePrefix)
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.AuditMirrorAttempts < 1 {
		cfg.AuditMirrorAttempts = 3
	}
	if cfg.ContentionRetryAttempts < 1 {
		cfg.ContentionRetryAttempts = 1
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// Policy builds the reconciliation policy from the variance settings.
func (c Config) Policy() (reconcile.Policy, error) {
	threshold, err := decimal.NewFromString(strings.TrimSpace(c.VarianceReviewThreshold))
	if err != nil {
		return reconcile.Policy{}, fmt.Errorf("VARIANCE_REVIEW_THRESHOLD: %w", err)
	}
	epsilon, err := decimal.NewFromString(strings.TrimSpace(c.VarianceExactEpsilon))
	if err != nil {
		return reconcile.Policy{}, fmt.Errorf("VARIANCE_EXACT_EPSILON: %w", err)
	}
	if threshold.IsNegative() {
		return reconcile.Policy{}, fmt.Errorf("VARIANCE_REVIEW_THRESHOLD must not be negative")
	}
	if !epsilon.IsPositive() {
		return reconcile.Policy{}, fmt.Errorf("VARIANCE_EXACT_EPSILON must be positive")
	}
	return reconcile.Policy{ReviewThreshold: threshold, ExactEpsilon: epsilon}, nil
}
