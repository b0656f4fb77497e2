package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"storybook/internal/config"
	"storybook/internal/queue"
	"storybook/internal/testsupport"
)

type cliEnv struct {
	cfg        *config.Config
	configPath string
}

func setupCLIEnv(t *testing.T, tune func(*config.Config)) *cliEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if tune != nil {
		tune(cfg)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliEnv{cfg: cfg, configPath: path}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *cliEnv) run(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCLI(t, append([]string{"--config", e.configPath}, args...)...)
	if err != nil {
		t.Fatalf("storybook %v: %v\n%s", args, err, out)
	}
	return out
}

func (e *cliEnv) store(t *testing.T) *queue.Store {
	t.Helper()
	return testsupport.MustOpenStore(t, e.cfg)
}

func TestConfigInitWritesSample(t *testing.T) {
	target := filepath.Join(t.TempDir(), "storybook", "config.toml")
	out, err := runCLI(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("expected path in output, got %q", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}
	if _, err := runCLI(t, "config", "init", "--path", target); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected refusal to overwrite, got %v", err)
	}
}

func TestConfigValidateReportsPath(t *testing.T) {
	env := setupCLIEnv(t, nil)
	out := env.run(t, "config", "validate")
	if !strings.Contains(out, env.configPath) || !strings.Contains(out, "Configuration valid") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestEnvFileSuppliesCredentials(t *testing.T) {
	env := setupCLIEnv(t, func(cfg *config.Config) { cfg.FaceSwap.APIKey = "" })
	t.Setenv("FACESWAP_API_KEY", "placeholder")
	os.Unsetenv("FACESWAP_API_KEY")

	if _, err := runCLI(t, "--config", env.configPath, "templates", "list"); err == nil {
		t.Fatal("expected missing api key error")
	}

	envFile := filepath.Join(t.TempDir(), "creds.env")
	if err := os.WriteFile(envFile, []byte("FACESWAP_API_KEY=from-env-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "--config", env.configPath, "--env-file", envFile, "templates", "list"); err != nil {
		t.Fatalf("expected env file to satisfy validation: %v", err)
	}
	if got := os.Getenv("FACESWAP_API_KEY"); got != "from-env-file" {
		t.Fatalf("expected key exported, got %q", got)
	}
}

func TestJobsListShowRetry(t *testing.T) {
	env := setupCLIEnv(t, nil)
	store := env.store(t)
	ctx := context.Background()
	queued := testsupport.NewPreview(t, store, "forest", "photo.jpg")
	failed := testsupport.NewPreview(t, store, "forest", "photo.jpg")
	if err := store.MarkStarted(ctx, failed.ID); err != nil {
		t.Fatalf("MarkStarted: %v", err)
	}
	if err := store.UpdateStatus(ctx, failed.ID, queue.StatusFailed, "no_match: no protagonist found"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	out := env.run(t, "jobs", "list")
	if !strings.Contains(out, queued.Token) || !strings.Contains(out, failed.Token) {
		t.Fatalf("expected both jobs listed:\n%s", out)
	}
	out = env.run(t, "jobs", "list", "--status", "failed")
	if strings.Contains(out, queued.Token) || !strings.Contains(out, failed.Token) {
		t.Fatalf("expected only the failed job:\n%s", out)
	}
	if _, err := runCLI(t, "--config", env.configPath, "jobs", "list", "--status", "bogus"); err == nil {
		t.Fatal("expected unknown status error")
	}

	out = env.run(t, "jobs", "show", failed.Token)
	if !strings.Contains(out, "no_match: no protagonist found") || !strings.Contains(out, "failed") {
		t.Fatalf("unexpected show output:\n%s", out)
	}

	if _, err := runCLI(t, "--config", env.configPath, "jobs", "retry", strconv.FormatInt(queued.ID, 10)); err == nil || !strings.Contains(err.Error(), "only failed jobs") {
		t.Fatalf("expected retry refusal for queued job, got %v", err)
	}
	env.run(t, "jobs", "retry", strconv.FormatInt(failed.ID, 10))
	job, err := store.GetByID(ctx, failed.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job.Status != queue.StatusQueued || job.ErrorMessage != "" {
		t.Fatalf("expected job requeued, got %s %q", job.Status, job.ErrorMessage)
	}
}

func TestTemplatesList(t *testing.T) {
	env := setupCLIEnv(t, nil)
	testsupport.WriteTemplate(t, env.cfg.Paths.TemplatesDir, "forest", []testsupport.Slide{{Texts: []string{"Hello"}}}, 2)
	out := env.run(t, "templates", "list")
	if !strings.Contains(out, "forest") || !strings.Contains(out, "Story forest") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestInspectListsPicturesAndText(t *testing.T) {
	deckPath := testsupport.WriteDeck(t, filepath.Join(t.TempDir(), "story.pptx"), []testsupport.Slide{
		{
			Texts:    []string{"Page 1: {{CHILD_NAME}} goes exploring"},
			Pictures: []testsupport.Picture{{ID: 4, Data: testsupport.EncodePNG(t, testsupport.Pattern(400, 300, 7)), Ext: ".png"}},
		},
		{Texts: []string{"The end"}},
	})
	out, err := runCLI(t, "inspect", deckPath)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{"2 pages, 1 pictures", "0:4", "400x300", "goes exploring", "The end"} {
		if !strings.Contains(out, want) {
			t.Fatalf("inspect output missing %q:\n%s", want, out)
		}
	}
}

func TestSweepRemovesExpiredPreviews(t *testing.T) {
	env := setupCLIEnv(t, nil)
	store := env.store(t)
	job, err := store.CreatePreview(context.Background(), queue.NewPreview{
		TemplateID: "forest",
		PhotoPath:  "photo.jpg",
		ExpiresAt:  time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("CreatePreview: %v", err)
	}
	testsupport.CompletePreview(t, store, job, queue.Outputs{})

	out := env.run(t, "sweep")
	if !strings.Contains(out, "Removed 1 expired previews") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestStatusWhenDaemonDown(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := listener.Addr().String()
	listener.Close()

	env := setupCLIEnv(t, func(cfg *config.Config) { cfg.API.Bind = addr })
	out := env.run(t, "status")
	if !strings.Contains(out, "not running") {
		t.Fatalf("expected daemon down, got:\n%s", out)
	}
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLIEnv(t, nil)
	out := env.run(t, "test-notify")
	if !strings.Contains(out, "not configured") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}
