package testsupport

import (
	"path/filepath"
	"testing"

	"fragility/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.CacheDir = filepath.Join(base, "cache")
	cfgVal.Paths.ArtifactDir = filepath.Join(base, "artifacts")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.RegistryPath = filepath.Join(base, "state", "registry.db")
	cfgVal.Execution.Parallelism = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return builder.cfg
}

// WithParallelism sets the worker count.
func WithParallelism(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Execution.Parallelism = n
	}
}

// WithWindowMs sets the window and step sizes in milliseconds.
func WithWindowMs(size, step float64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Analysis.WindowSizeMs = size
		b.cfg.Analysis.StepSizeMs = step
	}
}

// WithMetricsTextfile enables the Prometheus textfile under the temp dir.
func WithMetricsTextfile(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Metrics.Textfile = filepath.Join(b.baseDir, "metrics", name)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.CacheDir)
}
