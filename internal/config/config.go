package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Source describes where game snapshots are read from.
type Source struct {
	Kind           string `toml:"kind"` // "file" or "http"
	Path           string `toml:"path"`
	URL            string `toml:"url"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Poll contains the cadence of the daemon poll loop.
type Poll struct {
	IntervalSeconds    int `toml:"interval_seconds"`
	LockTimeoutSeconds int `toml:"lock_timeout_seconds"`
}

// State selects the dedup state backend.
type State struct {
	Backend              string `toml:"backend"` // "sqlite", "postgres", or "memory"
	PostgresDSN          string `toml:"postgres_dsn"`
	LedgerRetentionHours int    `toml:"ledger_retention_hours"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	RatePerMinute  int    `toml:"rate_per_minute"`
	Burst          int    `toml:"burst"`
}

// Categories holds the per-category switches consumed by the reconciler.
type Categories struct {
	// Mode is the default aggregation mode: "grouped" or "individual".
	Mode     string            `toml:"mode"`
	Disabled []string          `toml:"disabled"`
	Modes    map[string]string `toml:"modes"`
}

// API contains configuration for the daemon HTTP API.
type API struct {
	Bind           string   `toml:"bind"`
	Token          string   `toml:"token"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for cropwatch.
//
// Configuration sections by subsystem:
//   - Paths: state and log directories
//   - Source: snapshot file or HTTP endpoint
//   - Poll: daemon poll cadence
//   - State: dedup state backend and ledger retention
//   - Notifications: ntfy push delivery
//   - Categories: enable flags and aggregation mode
//   - API: daemon HTTP API
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Source        Source        `toml:"source"`
	Poll          Poll          `toml:"poll"`
	State         State         `toml:"state"`
	Notifications Notifications `toml:"notifications"`
	Categories    Categories    `toml:"categories"`
	API           API           `toml:"api"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	// A missing .env is the common case.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, "", false, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("cropwatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StateDBPath is the SQLite database used by the sqlite state backend.
func (c *Config) StateDBPath() string {
	return filepath.Join(c.Paths.StateDir, "state.db")
}

// CycleLockPath is the file lock serializing poll cycles across processes.
func (c *Config) CycleLockPath() string {
	return filepath.Join(c.Paths.StateDir, "cycle.lock")
}

// DaemonLockPath is the file lock enforcing a single daemon instance.
func (c *Config) DaemonLockPath() string {
	return filepath.Join(c.Paths.StateDir, "cropwatchd.lock")
}

// LogFilePath is the daemon log file.
func (c *Config) LogFilePath() string {
	return filepath.Join(c.Paths.LogDir, "cropwatch.log")
}

// PollInterval returns the configured cycle cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalSeconds) * time.Second
}

// LockTimeout bounds how long a cycle waits for the cross-process cycle lock.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Poll.LockTimeoutSeconds) * time.Second
}

// LedgerRetention is how long delivery ledger entries are kept.
func (c *Config) LedgerRetention() time.Duration {
	return time.Duration(c.State.LedgerRetentionHours) * time.Hour
}

// CategoryEnabled reports whether a category participates in reconciliation.
// Categories are enabled unless listed in categories.disabled.
func (c *Config) CategoryEnabled(category string) bool {
	category = normalizeCategory(category)
	for _, disabled := range c.Categories.Disabled {
		if disabled == category {
			return false
		}
	}
	return true
}

// CategoryMode returns the aggregation mode for a category, honouring per-category overrides.
func (c *Config) CategoryMode(category string) string {
	if mode, ok := c.Categories.Modes[normalizeCategory(category)]; ok && mode != "" {
		return mode
	}
	return c.Categories.Mode
}

func normalizeCategory(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
