package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeSource(); err != nil {
		return err
	}
	c.normalizeState()
	c.normalizeNotifications()
	c.normalizeCategories()
	c.normalizeAPI()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeSource() error {
	c.Source.Kind = strings.ToLower(strings.TrimSpace(c.Source.Kind))
	if c.Source.URL == "" {
		if value, ok := os.LookupEnv("CROPWATCH_SOURCE_URL"); ok {
			c.Source.URL = value
		}
	}
	c.Source.URL = strings.TrimSpace(c.Source.URL)
	if c.Source.Kind == "" {
		c.Source.Kind = defaultSourceKind
		if c.Source.URL != "" {
			c.Source.Kind = "http"
		}
	}
	if c.Source.Token == "" {
		if value, ok := os.LookupEnv("CROPWATCH_SOURCE_TOKEN"); ok {
			c.Source.Token = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Source.Path) != "" {
		var err error
		if c.Source.Path, err = expandPath(strings.TrimSpace(c.Source.Path)); err != nil {
			return fmt.Errorf("source.path: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeState() {
	c.State.Backend = strings.ToLower(strings.TrimSpace(c.State.Backend))
	if c.State.Backend == "" {
		c.State.Backend = defaultStateBackend
	}
	if c.State.PostgresDSN == "" {
		if value, ok := os.LookupEnv("DATABASE_URL"); ok {
			c.State.PostgresDSN = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("CROPWATCH_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.Burst <= 0 {
		c.Notifications.Burst = defaultNotifyBurst
	}
}

func (c *Config) normalizeCategories() {
	c.Categories.Mode = strings.ToLower(strings.TrimSpace(c.Categories.Mode))
	if c.Categories.Mode == "" {
		c.Categories.Mode = defaultCategoryMode
	}
	disabled := make([]string, 0, len(c.Categories.Disabled))
	seen := make(map[string]struct{}, len(c.Categories.Disabled))
	for _, category := range c.Categories.Disabled {
		normalized := normalizeCategory(category)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		disabled = append(disabled, normalized)
	}
	c.Categories.Disabled = disabled
	if len(c.Categories.Modes) > 0 {
		modes := make(map[string]string, len(c.Categories.Modes))
		for category, mode := range c.Categories.Modes {
			modes[normalizeCategory(category)] = strings.ToLower(strings.TrimSpace(mode))
		}
		c.Categories.Modes = modes
	}
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("CROPWATCH_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
