package testsupport

import (
	"path/filepath"
	"testing"

	"dubber/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.Paths.OutputDir = filepath.Join(base, "output")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Queue.PollIntervalSeconds = 1
	cfg.Queue.RetryDelaySeconds = 1
	cfg.Pipeline.StageRetryBaseSeconds = 1

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithConcurrency overrides the dispatch concurrency cap on the test config.
func WithConcurrency(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Queue.MaxConcurrentJobs = n
	}
}

// WithQueueSize overrides the admission capacity on the test config.
func WithQueueSize(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Queue.MaxQueueSize = n
	}
}
