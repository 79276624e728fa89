package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"cropwatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The state backend is memory and the API binds an ephemeral port.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Source.Kind = "file"
	cfgVal.Source.Path = filepath.Join(base, "snapshot.json")
	cfgVal.State.Backend = "memory"
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Poll.IntervalSeconds = 3600
	cfgVal.Poll.LockTimeoutSeconds = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithSQLite switches the test config to the sqlite backend.
func WithSQLite() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.State.Backend = "sqlite"
	}
}

// WithAPIToken requires bearer auth on the daemon API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Token = token
	}
}

// WithSnapshot writes body to the configured snapshot path.
func WithSnapshot(body string) ConfigOption {
	return func(b *configBuilder) {
		if err := os.WriteFile(b.cfg.Source.Path, []byte(body), 0o644); err != nil {
			b.t.Fatalf("write snapshot: %v", err)
		}
	}
}

// WithDisabledCategories turns categories off.
func WithDisabledCategories(categories ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Categories.Disabled = append(b.cfg.Categories.Disabled, categories...)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
