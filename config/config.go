/*
config.go - Server configuration

PURPOSE:
  Loads the settings of cmd/server in three layers, later ones winning:

    1. defaults
    2. environment (a .env file in the working directory is loaded first
       when present)
    3. an optional YAML file named by CONFIG_FILE

  The result is validated before use.

ENVIRONMENT:
  ENV                       development | production   (development)
  HTTP_PORT                 listen port                (8080)
  DB_DRIVER                 sqlite | postgres          (sqlite)
  DB_DSN                    file path or postgres DSN  (atlantis.db)
  TIMEZONE                  IANA zone of the studio    (UTC)
  SAFE_CANCELLATION_HOURS   FLEXIBLE default threshold (12)
  SCHEDULER_ENABLED         run cron jobs              (true)
  BATCH_CRON                daily batch                (30 0 * * *)
  SALARY_CRON               salary finalization        (55 23 * * *)
  GENERATE_CRON             next week generation       (0 6 * * 0)
  CONFIG_FILE               YAML overlay               (none)
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aryzhykau/atlantis-engine/studio"
)

type Config struct {
	Env                   string `yaml:"env" validate:"oneof=development production test"`
	HTTPPort              int    `yaml:"http_port" validate:"min=1,max=65535"`
	DBDriver              string `yaml:"db_driver" validate:"oneof=sqlite postgres"`
	DBDSN                 string `yaml:"db_dsn" validate:"required"`
	Timezone              string `yaml:"timezone" validate:"required"`
	SafeCancellationHours int    `yaml:"safe_cancellation_hours" validate:"min=1,max=168"`
	SchedulerEnabled      bool   `yaml:"scheduler_enabled"`
	BatchCron             string `yaml:"batch_cron"`
	SalaryCron            string `yaml:"salary_cron"`
	GenerateCron          string `yaml:"generate_cron"`
}

func Default() Config {
	return Config{
		Env:                   "development",
		HTTPPort:              8080,
		DBDriver:              "sqlite",
		DBDSN:                 "atlantis.db",
		Timezone:              "UTC",
		SafeCancellationHours: studio.DefaultSafeCancellationHours,
		SchedulerEnabled:      true,
		BatchCron:             "30 0 * * *",
		SalaryCron:            "55 23 * * *",
		GenerateCron:          "0 6 * * 0",
	}
}

// Load builds the configuration from defaults, .env, the environment and
// the optional YAML overlay.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if path, ok := os.LookupEnv("CONFIG_FILE"); ok && path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %q is not a number", key, v)
		}
		*dst = n
		return nil
	}

	str("ENV", &c.Env)
	str("DB_DRIVER", &c.DBDriver)
	str("DB_DSN", &c.DBDSN)
	str("TIMEZONE", &c.Timezone)
	str("BATCH_CRON", &c.BatchCron)
	str("SALARY_CRON", &c.SalaryCron)
	str("GENERATE_CRON", &c.GenerateCron)
	if err := num("HTTP_PORT", &c.HTTPPort); err != nil {
		return err
	}
	if err := num("SAFE_CANCELLATION_HOURS", &c.SafeCancellationHours); err != nil {
		return err
	}
	if v, ok := lookup("SCHEDULER_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SCHEDULER_ENABLED: %q is not a boolean", v)
		}
		c.SchedulerEnabled = b
	}
	return nil
}

// applyFile overlays the keys present in a YAML file.
func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid config: timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Settings turns the configuration into the engine's studio settings.
func (c *Config) Settings(clock studio.Clock) (studio.Settings, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return studio.Settings{}, fmt.Errorf("load timezone: %w", err)
	}
	return studio.Settings{
		Location:              loc,
		SafeCancellationHours: c.SafeCancellationHours,
		Clock:                 clock,
	}, nil
}
