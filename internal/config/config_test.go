package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"storybook/internal/config"
)

func setProviderEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FACESWAP_API_KEY", "swap-key")
	t.Setenv("STYLIZE_API_KEY", "stylize-key")
}

func TestLoadDefaultConfigUsesEnvKeysAndExpandsPaths(t *testing.T) {
	setProviderEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantJobs := filepath.Join(tempHome, ".local", "share", "storybook", "jobs")
	if cfg.Paths.JobsDir != wantJobs {
		t.Fatalf("unexpected jobs dir: got %q want %q", cfg.Paths.JobsDir, wantJobs)
	}
	if cfg.FaceSwap.APIKey != "swap-key" {
		t.Fatalf("expected faceswap key from env, got %q", cfg.FaceSwap.APIKey)
	}
	if cfg.Stylize.APIKey != "stylize-key" {
		t.Fatalf("expected stylize key from env, got %q", cfg.Stylize.APIKey)
	}
	if cfg.Pipeline.PreviewPages != 4 {
		t.Fatalf("expected 4 preview pages, got %d", cfg.Pipeline.PreviewPages)
	}
	if cfg.PreviewRetention().Hours() != 168 {
		t.Fatalf("expected seven day preview retention, got %s", cfg.PreviewRetention())
	}
	if cfg.Match.SimilarityThreshold != 8.0 {
		t.Fatalf("unexpected similarity threshold %v", cfg.Match.SimilarityThreshold)
	}
	if cfg.MatchWorkers() <= 0 {
		t.Fatal("expected positive detection workers")
	}
	if cfg.DatabasePath() != filepath.Join(cfg.Paths.DataDir, "storybook.db") {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath())
	}
}

func TestLoadCustomConfigOverridesDefaults(t *testing.T) {
	setProviderEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	payload := struct {
		Paths struct {
			JobsDir string `toml:"jobs_dir"`
		} `toml:"paths"`
		FaceSwap struct {
			APIKey string `toml:"api_key"`
			Mode   string `toml:"mode"`
		} `toml:"faceswap"`
		Pipeline struct {
			PreviewPages   int  `toml:"preview_pages"`
			StylizeEnabled bool `toml:"stylize_enabled"`
		} `toml:"pipeline"`
		Logging struct {
			Format string `toml:"format"`
		} `toml:"logging"`
	}{}
	payload.Paths.JobsDir = "~/books/jobs"
	payload.FaceSwap.APIKey = "file-key"
	payload.FaceSwap.Mode = "SYNC"
	payload.Pipeline.PreviewPages = 2
	payload.Logging.Format = "JSON"

	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected explicit config path to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.JobsDir != filepath.Join(tempHome, "books", "jobs") {
		t.Fatalf("unexpected jobs dir %q", cfg.Paths.JobsDir)
	}
	if cfg.FaceSwap.APIKey != "file-key" {
		t.Fatalf("file key should win over env, got %q", cfg.FaceSwap.APIKey)
	}
	if cfg.FaceSwap.Mode != "sync" {
		t.Fatalf("expected lower-cased mode, got %q", cfg.FaceSwap.Mode)
	}
	if cfg.Pipeline.PreviewPages != 2 {
		t.Fatalf("expected preview pages override, got %d", cfg.Pipeline.PreviewPages)
	}
	if cfg.Pipeline.StylizeEnabled {
		t.Fatal("expected stylize disabled by file")
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected json format, got %q", cfg.Logging.Format)
	}
}

func TestValidateRejectsMissingFaceSwapKey(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.StylizeEnabled = false
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "faceswap.api_key") {
		t.Fatalf("expected faceswap.api_key error, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"mode", func(c *config.Config) { c.FaceSwap.Mode = "batch" }, "faceswap.mode"},
		{"threshold", func(c *config.Config) { c.Match.SimilarityThreshold = 0 }, "match.similarity_threshold"},
		{"padding", func(c *config.Config) { c.Match.PaddingPercent = 1.5 }, "match.padding_percent"},
		{"stylize key", func(c *config.Config) { c.Stylize.APIKey = "" }, "stylize.api_key"},
		{"schedule", func(c *config.Config) { c.Workflow.SweepSchedule = "every tuesday" }, "workflow.sweep_schedule"},
		{"vision url", func(c *config.Config) { c.Vision.BaseURL = "localhost" }, "vision.base_url"},
		{"preview pages", func(c *config.Config) { c.Pipeline.PreviewPages = 0 }, "pipeline.preview_pages"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.FaceSwap.APIKey = "k"
			cfg.Stylize.APIKey = "k"
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %s error, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleWritesLoadableConfig(t *testing.T) {
	setProviderEnv(t)
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Workflow.SweepSchedule != "@hourly" {
		t.Fatalf("unexpected sweep schedule %q", cfg.Workflow.SweepSchedule)
	}
}

func TestEnsureDirectoriesCreatesTree(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths = config.Paths{
		DataDir:      filepath.Join(base, "data"),
		TemplatesDir: filepath.Join(base, "templates"),
		JobsDir:      filepath.Join(base, "jobs"),
		UploadsDir:   filepath.Join(base, "uploads"),
		LogDir:       filepath.Join(base, "logs"),
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.TemplatesDir, cfg.Paths.JobsDir, cfg.Paths.UploadsDir, cfg.Paths.LogDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}
