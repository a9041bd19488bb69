// Package config loads service settings and the ROI rate table.
//
// Settings come from environment variables, optionally seeded from a .env
// file in the working directory. The rate table is a separate YAML file
// (see rates.go) because operators edit it while the service runs.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the ledger service.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	// DatabaseDriver is sqlite3, postgres, or memory (dev only, nothing persists).
	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`

	JWTSecret   string `mapstructure:"JWT_SECRET"`
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	RabbitMQURL    string `mapstructure:"RABBITMQ_URL"`
	NotifyExchange string `mapstructure:"NOTIFY_EXCHANGE"`

	RedisURL           string `mapstructure:"REDIS_URL"`
	RateLimitPrefix    string `mapstructure:"RATE_LIMIT_PREFIX"`
	RateLimitPerMinute int    `mapstructure:"RATE_LIMIT_PER_MINUTE"`

	RatesFile            string `mapstructure:"RATES_FILE"`
	RatesRefreshSchedule string `mapstructure:"RATES_REFRESH_SCHEDULE"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	RetryAttempts int `mapstructure:"RETRY_ATTEMPTS"`

	// EnableScenarios mounts the demo seeding endpoints.
	EnableScenarios bool `mapstructure:"ENABLE_SCENARIOS"`
}

var keys = []string{
	"SERVER_PORT",
	"DATABASE_DRIVER",
	"DATABASE_URL",
	"JWT_SECRET",
	"CORS_ORIGINS",
	"RABBITMQ_URL",
	"NOTIFY_EXCHANGE",
	"REDIS_URL",
	"RATE_LIMIT_PREFIX",
	"RATE_LIMIT_PER_MINUTE",
	"RATES_FILE",
	"RATES_REFRESH_SCHEDULE",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"RETRY_ATTEMPTS",
	"ENABLE_SCENARIOS",
}

// Load reads configuration from an optional .env file under path and the
// environment. Environment variables win.
func Load(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("DATABASE_DRIVER", "sqlite3")
	v.SetDefault("DATABASE_URL", "./data/ledger.db")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("NOTIFY_EXCHANGE", "ledger.events")
	v.SetDefault("RATE_LIMIT_PREFIX", "ledger:rate_limit")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 30)
	v.SetDefault("RATES_FILE", "./config/rates.yaml")
	v.SetDefault("RATES_REFRESH_SCHEDULE", "@every 5m")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("RETRY_ATTEMPTS", 3)
	v.SetDefault("ENABLE_SCENARIOS", false)

	// Bind explicitly so unset keys still appear in Unmarshal
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite3", "postgres", "memory":
	default:
		return fmt.Errorf("DATABASE_DRIVER must be sqlite3, postgres or memory, got %q", c.DatabaseDriver)
	}
	if c.DatabaseDriver != "memory" && c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.RateLimitPerMinute < 0 {
		return errors.New("RATE_LIMIT_PER_MINUTE must not be negative")
	}
	if c.RetryAttempts < 1 {
		return errors.New("RETRY_ATTEMPTS must be at least 1")
	}
	return nil
}

// AllowedOrigins splits CORS_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
