/*
config.go - Runtime configuration

PURPOSE:
  Reads server and ledger settings from the environment. cmd/server loads
  an optional .env file first and lets -port / -db flags override the
  environment.

ENVIRONMENT:
  APP_ENV                     development | production
  APP_ADDR                    listen address (":8080")
  APP_READ_TIMEOUT            http.Server read timeout
  APP_WRITE_TIMEOUT           http.Server write timeout
  APP_REQUEST_TIMEOUT         per-request handler timeout
  APP_SHUTDOWN_TIMEOUT        graceful shutdown budget
  DB_PATH                     SQLite file, ":memory:" for a throwaway database
  LOG_FORMAT                  text | json
  LOG_LEVEL                   debug | info | warn | error
  LEDGER_BASE_CURRENCY        UAH | USD | EUR
  LEDGER_WHEAT_CULTURE        culture vouchers are denominated in
  LEDGER_ALLOW_NEGATIVE_CASH  allow register balances below zero
  CORS_ORIGINS                comma separated allowed origins
  RATE_LIMIT_PER_MINUTE       requests per minute per client IP, 0 disables
*/
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/warp/grain-ledger/generic"
	"github.com/warp/grain-ledger/settlement"
)

// Config holds runtime configuration for the server.
type Config struct {
	AppEnv             string        `envconfig:"APP_ENV" default:"development"`
	AppAddr            string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout     time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout    time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout  time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`
	AppShutdownTimeout time.Duration `envconfig:"APP_SHUTDOWN_TIMEOUT" default:"30s"`

	DBPath string `envconfig:"DB_PATH" default:"ledger.db"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	BaseCurrency      string `envconfig:"LEDGER_BASE_CURRENCY" default:"UAH"`
	WheatCulture      string `envconfig:"LEDGER_WHEAT_CULTURE" default:"Пшениця"`
	AllowNegativeCash bool   `envconfig:"LEDGER_ALLOW_NEGATIVE_CASH" default:"true"`

	CORSOrigins        []string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://localhost:8080"`
	RateLimitPerMinute int      `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot check by type alone.
func (c *Config) Validate() error {
	if _, err := generic.ParseCurrency(c.BaseCurrency); err != nil {
		return fmt.Errorf("LEDGER_BASE_CURRENCY: %w", err)
	}
	if strings.TrimSpace(c.WheatCulture) == "" {
		return fmt.Errorf("LEDGER_WHEAT_CULTURE must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH must not be empty")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

// Ledger returns the settlement business settings.
func (c *Config) Ledger() settlement.Config {
	currency, _ := generic.ParseCurrency(c.BaseCurrency)
	return settlement.Config{
		BaseCurrency:      currency,
		WheatCulture:      strings.TrimSpace(c.WheatCulture),
		AllowNegativeCash: c.AllowNegativeCash,
	}
}

// NewLogger returns a slog.Logger writing text or JSON to stdout.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg != nil {
		if level, err := parseLevel(cfg.LogLevel); err == nil {
			opts.Level = level
		}
		opts.AddSource = !cfg.IsProduction()
	}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}
