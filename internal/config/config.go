// Package config loads platform configuration from a YAML file with
// environment variable overrides for deployment secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stackgenhq/platform/pkg/logger"
)

// Config is the full platform configuration.
type Config struct {
	Server   ServerConfig         `yaml:"server"`
	Database DatabaseConfig       `yaml:"database"`
	Cache    CacheConfig          `yaml:"cache"`
	Session  SessionConfig        `yaml:"session"`
	Billing  BillingConfig        `yaml:"billing"`
	Metering MeteringConfig       `yaml:"metering"`
	Logging  logger.LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
}

// DatabaseConfig controls the postgres connection pool.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig controls the redis read cache.
type CacheConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// SessionConfig controls session persistence.
type SessionConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
	Secret   string        `yaml:"secret"`
}

// BillingConfig holds payment gateway credentials and settings.
type BillingConfig struct {
	Endpoint          string `yaml:"endpoint"`
	KeyID             string `yaml:"key_id"`
	KeySecret         string `yaml:"key_secret"`
	CreditPricePaise  int64  `yaml:"credit_price_paise"`
	ReconcileSchedule string `yaml:"reconcile_schedule"`
	DisableReconciler bool   `yaml:"disable_reconciler"`
}

// MeteringConfig controls free-tier allowances.
type MeteringConfig struct {
	FreeTierLimit int64            `yaml:"free_tier_limit"`
	PerFeature    map[string]int64 `yaml:"per_feature"`
}

// Default returns a configuration suitable for local development.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       50,
			RateBurst:       100,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Cache:   CacheConfig{Prefix: "platform"},
		Session: SessionConfig{TTL: 30 * 24 * time.Hour},
		Billing: BillingConfig{
			Endpoint:          "https://api.razorpay.com/v1",
			ReconcileSchedule: "@every 10m",
		},
		Metering: MeteringConfig{FreeTierLimit: 1},
		Logging:  logger.LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
	}
}

// Load reads configuration from path (optional, "" skips the file) and then
// applies environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrideString(&cfg.Database.URL, "DATABASE_URL")
	overrideString(&cfg.Cache.URL, "REDIS_URL")
	overrideString(&cfg.Session.RedisURL, "SESSION_REDIS_URL")
	overrideString(&cfg.Session.Secret, "SESSION_SECRET")
	overrideString(&cfg.Billing.Endpoint, "PAYMENT_ENDPOINT")
	overrideString(&cfg.Billing.KeyID, "PAYMENT_KEY_ID")
	overrideString(&cfg.Billing.KeySecret, "PAYMENT_KEY_SECRET")
	overrideString(&cfg.Logging.Level, "LOG_LEVEL")

	// Session redis defaults to the cache redis when not set separately.
	if cfg.Session.RedisURL == "" {
		cfg.Session.RedisURL = cfg.Cache.URL
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FREE_TIER_LIMIT"); v != "" {
		if limit, err := strconv.ParseInt(v, 10, 64); err == nil && limit >= 0 {
			cfg.Metering.FreeTierLimit = limit
		}
	}
}

func overrideString(dest *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dest = v
	}
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Metering.FreeTierLimit < 0 {
		return fmt.Errorf("free tier limit must not be negative")
	}
	return nil
}

// Addr returns the host:port the HTTP server binds to.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
