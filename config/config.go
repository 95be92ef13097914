/*
Package config loads runtime settings for the till server.

SOURCES (later wins):
  1. Default()            built-in values, usable with no file at all
  2. TOML file            optional, passed with --config
  3. TILL_* environment   e.g. TILL_HTTP_ADDR, TILL_DATABASE_PATH
  4. command-line flags   applied by cmd/server on top of the result

EXAMPLE FILE:
  [http]
  addr = ":8080"
  cors_origins = ["http://localhost:5173"]

  [database]
  path = "./data/till.db"

  [shop]
  timezone = "America/Argentina/Buenos_Aires"
  phone_region = "AR"

  [consistency]
  interval = "1h"
*/
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"github.com/despensa/till/ledger"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TILL"

// Config is the merged runtime configuration.
//
// Environment keys are derived from field names with split_words, so every
// key carries the TILL_ prefix and a section (TILL_DATABASE_PATH,
// TILL_LOG_LEVEL). No field has a bare envconfig tag: envconfig falls back to
// the unprefixed tag name, which would let PATH or LEVEL leak in.
type Config struct {
	HTTP        HTTPConfig        `toml:"http"`
	Database    DatabaseConfig    `toml:"database"`
	Shop        ShopConfig        `toml:"shop"`
	Log         LogConfig         `toml:"log"`
	Consistency ConsistencyConfig `toml:"consistency"`
}

type HTTPConfig struct {
	Addr         string        `toml:"addr" validate:"required"`
	ReadTimeout  time.Duration `toml:"read_timeout" split_words:"true" validate:"gt=0"`
	WriteTimeout time.Duration `toml:"write_timeout" split_words:"true" validate:"gt=0"`
	IdleTimeout  time.Duration `toml:"idle_timeout" split_words:"true" validate:"gt=0"`
	CORSOrigins  []string      `toml:"cors_origins" split_words:"true"`
	// RateLimit caps mutating requests per client IP per minute. 0 disables it.
	RateLimit int `toml:"rate_limit" split_words:"true" validate:"gte=0"`
	// DemoScenarios exposes the demo data loaders. Never enable it on the
	// shop's real database.
	DemoScenarios bool `toml:"demo_scenarios" split_words:"true"`
}

type DatabaseConfig struct {
	Path string `toml:"path" validate:"required"`
}

type ShopConfig struct {
	Timezone       string        `toml:"timezone"`
	FallbackOffset time.Duration `toml:"fallback_offset" split_words:"true"`
	PhoneRegion    string        `toml:"phone_region" split_words:"true" validate:"len=2"`
	HistoryLimit   int           `toml:"history_limit" split_words:"true" validate:"gte=1,lte=366"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=json console"`
}

type ConsistencyConfig struct {
	// Interval between background balance audits. 0 disables the scheduler.
	Interval time.Duration `toml:"interval" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
			CORSOrigins:  []string{"*"},
			RateLimit:    120,
		},
		Database: DatabaseConfig{
			Path: "./data/till.db",
		},
		Shop: ShopConfig{
			Timezone:       "America/Argentina/Buenos_Aires",
			FallbackOffset: -3 * time.Hour,
			PhoneRegion:    ledger.DefaultPhoneRegion,
			HistoryLimit:   ledger.DefaultHistoryLimit,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Consistency: ConsistencyConfig{
			Interval: time.Hour,
		},
	}
}

// Load builds the configuration from defaults, the optional TOML file at
// path and TILL_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("read config %s: unknown key %s", path, undecoded[0])
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges after all sources are merged.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Location resolves the shop time zone that decides where a business day
// ends.
func (c *Config) Location() *time.Location {
	return ledger.LoadLocation(c.Shop.Timezone, c.Shop.FallbackOffset)
}
