package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"storybook/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Provider URLs point nowhere; tests that exercise them override the fields
// with httptest servers.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths = config.Paths{
		DataDir:      filepath.Join(base, "data"),
		TemplatesDir: filepath.Join(base, "templates"),
		JobsDir:      filepath.Join(base, "jobs"),
		UploadsDir:   filepath.Join(base, "uploads"),
		LogDir:       filepath.Join(base, "logs"),
	}
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.FaceSwap.APIKey = "test-swap"
	cfgVal.FaceSwap.BaseURL = "http://127.0.0.1:1"
	cfgVal.FaceSwap.PollIntervalSeconds = 1
	cfgVal.Stylize.APIKey = "test-stylize"
	cfgVal.Pipeline.StylizeEnabled = false
	cfgVal.Match.Workers = 2

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithStubbedBinaries writes stub executables that exit 0 for the provided
// names and prepends them to PATH.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"soffice", "pdftoppm"}
		}
		for _, name := range names {
			writeStub(b.t, b.baseDir, name, "#!/bin/sh\nexit 0\n")
		}
	}
}

// WithStubScript installs a stub executable with a custom shell body.
func WithStubScript(name, script string) ConfigOption {
	return func(b *configBuilder) {
		writeStub(b.t, b.baseDir, name, script)
	}
}

func writeStub(t testing.TB, base, name, script string) {
	t.Helper()
	binDir := filepath.Join(base, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(binDir, name), []byte(script), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	path := os.Getenv("PATH")
	if filepath.SplitList(path)[0] != binDir {
		t.Setenv("PATH", binDir+string(os.PathListSeparator)+path)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
