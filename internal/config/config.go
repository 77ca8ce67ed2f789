// Package config loads duetask settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/hackebrot/go-duetask/internal/logging"
	"github.com/hackebrot/go-duetask/pkg/scheduler"
)

var (
	// ErrParsingConfig is returned when environment variables cannot be parsed.
	ErrParsingConfig = errors.New("failed to parse config")

	// ErrInvalidConfig is returned when a parsed value is out of range.
	ErrInvalidConfig = errors.New("invalid config")
)

// Config holds the runtime settings of the duetask binary.
type Config struct {
	PollInterval time.Duration `env:"DUETASK_POLL_INTERVAL" envDefault:"1s"`
	TaskFile     string        `env:"DUETASK_TASK_FILE"`
	Watch        bool          `env:"DUETASK_WATCH" envDefault:"false"`
	Order        string        `env:"DUETASK_ORDER" envDefault:"none"`
	LogLevel     string        `env:"DUETASK_LOG_LEVEL" envDefault:"info"`
	LogFormat    string        `env:"DUETASK_LOG_FORMAT" envDefault:"console"`
}

// Load reads an optional .env file from the working directory, then parses
// the process environment.
func Load() (Config, error) {
	// The .env file is optional.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	return cfg, cfg.Validate()
}

// LoadFrom parses cfg from the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return Config{}, errors.Join(ErrParsingConfig, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges. Errors name the offending variable.
func (c Config) Validate() error {
	var errs []error
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("DUETASK_POLL_INTERVAL: must be positive, got %s", c.PollInterval))
	}
	if _, err := scheduler.ParseOrder(c.Order); err != nil {
		errs = append(errs, fmt.Errorf("DUETASK_ORDER: %w", err))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("DUETASK_LOG_LEVEL: %w", err))
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("DUETASK_LOG_FORMAT: unknown format %q", c.LogFormat))
	}
	if c.Watch && strings.TrimSpace(c.TaskFile) == "" {
		errs = append(errs, errors.New("DUETASK_WATCH: requires DUETASK_TASK_FILE"))
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
}

// SchedulerOrder returns the parsed same-tick order.
func (c Config) SchedulerOrder() scheduler.Order {
	order, _ := scheduler.ParseOrder(c.Order)
	return order
}
