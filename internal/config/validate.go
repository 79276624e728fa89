package config

import (
	"errors"
	"fmt"
	"sort"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateSource(); err != nil {
		return err
	}
	if err := c.validateTimings(); err != nil {
		return err
	}
	if err := c.validateState(); err != nil {
		return err
	}
	if err := c.validateCategories(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateSource() error {
	switch c.Source.Kind {
	case "file":
		if c.Source.Path == "" {
			return errors.New("source.path must be set when source.kind is \"file\"")
		}
	case "http":
		if c.Source.URL == "" {
			return errors.New("source.url must be set when source.kind is \"http\" (or set CROPWATCH_SOURCE_URL)")
		}
	default:
		return fmt.Errorf("source.kind: unsupported value %q (want file or http)", c.Source.Kind)
	}
	return nil
}

func (c *Config) validateTimings() error {
	return ensurePositiveMap(map[string]int{
		"source.timeout_seconds":        c.Source.TimeoutSeconds,
		"poll.interval_seconds":         c.Poll.IntervalSeconds,
		"poll.lock_timeout_seconds":     c.Poll.LockTimeoutSeconds,
		"state.ledger_retention_hours":  c.State.LedgerRetentionHours,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
		"notifications.rate_per_minute": c.Notifications.RatePerMinute,
	})
}

func (c *Config) validateState() error {
	switch c.State.Backend {
	case "sqlite", "memory":
		return nil
	case "postgres":
		if c.State.PostgresDSN == "" {
			return errors.New("state.postgres_dsn must be set when state.backend is \"postgres\" (or set DATABASE_URL)")
		}
		return nil
	default:
		return fmt.Errorf("state.backend: unsupported value %q (want sqlite, postgres, or memory)", c.State.Backend)
	}
}

func (c *Config) validateCategories() error {
	if !validMode(c.Categories.Mode) {
		return fmt.Errorf("categories.mode: unsupported value %q (want %s or %s)", c.Categories.Mode, ModeGrouped, ModeIndividual)
	}
	categories := make([]string, 0, len(c.Categories.Modes))
	for category := range c.Categories.Modes {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	for _, category := range categories {
		if !validMode(c.Categories.Modes[category]) {
			return fmt.Errorf("categories.modes.%s: unsupported value %q", category, c.Categories.Modes[category])
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func validMode(mode string) bool {
	return mode == ModeGrouped || mode == ModeIndividual
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
