package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"forge/internal/config"
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
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.JobsDir = filepath.Join(base, "data", "jobs")
	cfgVal.Paths.BaselinesDir = filepath.Join(base, "data", "baselines")
	cfgVal.Paths.LogDir = filepath.Join(base, "data", "logs")
	cfgVal.Paths.DatabasePath = filepath.Join(base, "data", "forge.db")
	cfgVal.Worker.PipelineDir = filepath.Join(base, "pipeline")
	cfgVal.Discovery.CacheDir = filepath.Join(base, "cache")
	cfgVal.Discovery.APIKey = ""
	cfgVal.API.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithAPIKey sets the model API key used by discovery workers.
func WithAPIKey(key string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Discovery.APIKey = key
	}
}

// WithMaxConcurrent overrides the seeded admission limit.
func WithMaxConcurrent(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.MaxConcurrent = n
	}
}

// WithBaselineDomain registers a scraper config for a domain.
func WithBaselineDomain(domain, scraperConfig string) ConfigOption {
	return func(b *configBuilder) {
		if b.cfg.Baseline.Domains == nil {
			b.cfg.Baseline.Domains = map[string]string{}
		}
		b.cfg.Baseline.Domains[domain] = scraperConfig
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default forge external
// binaries are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"python3", "skill-seekers"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
