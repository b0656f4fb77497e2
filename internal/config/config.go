package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	TemplatesDir string `toml:"templates_dir"`
	JobsDir      string `toml:"jobs_dir"`
	UploadsDir   string `toml:"uploads_dir"`
	LogDir       string `toml:"log_dir"`
}

// API contains HTTP server settings.
type API struct {
	Bind          string `toml:"bind"`
	PublicBaseURL string `toml:"public_base_url"`
	MaxUploadMB   int    `toml:"max_upload_mb"`
}

// Pipeline contains generation workflow settings shared by previews and books.
type Pipeline struct {
	PreviewPages          int  `toml:"preview_pages"`
	PreviewRetentionHours int  `toml:"preview_retention_hours"`
	SwapTimeoutSeconds    int  `toml:"swap_timeout_seconds"`
	FanoutLimit           int  `toml:"fanout_limit"`
	StylizeEnabled        bool `toml:"stylize_enabled"`
}

// Match contains identity matching thresholds.
type Match struct {
	// MinDimension rejects candidate images narrower or shorter than this.
	MinDimension int `toml:"min_dimension"`
	// SimilarityThreshold is the Euclidean embedding distance a face must
	// fall strictly below to count as the protagonist.
	SimilarityThreshold float64 `toml:"similarity_threshold"`
	PaddingPercent      float64 `toml:"padding_percent"`
	// Workers bounds CPU-bound detection work. Zero means one per CPU.
	Workers int `toml:"workers"`
}

// FaceSwap contains settings for the face swap provider.
type FaceSwap struct {
	APIKey              string `toml:"api_key"`
	BaseURL             string `toml:"base_url"`
	Mode                string `toml:"mode"` // async | sync
	SyncPath            string `toml:"sync_path"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
	MaxPolls            int    `toml:"max_polls"`
	TimeoutSeconds      int    `toml:"timeout_seconds"`
}

// Stylize contains settings for the photo stylization provider.
type Stylize struct {
	APIKey         string `toml:"api_key"`
	UploadURL      string `toml:"upload_url"`
	GenerateURL    string `toml:"generate_url"`
	Prompt         string `toml:"prompt"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Vision contains settings for the face detection and embedding sidecar.
type Vision struct {
	BaseURL         string `toml:"base_url"`
	Model           string `toml:"model"`
	DetectorBackend string `toml:"detector_backend"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
}

// Render contains document conversion settings.
type Render struct {
	SofficeBinary  string `toml:"soffice_binary"`
	PdftoppmBinary string `toml:"pdftoppm_binary"`
	DPI            int    `toml:"dpi"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Photo contains upload quality gates.
type Photo struct {
	MinDimension  int     `toml:"min_dimension"`
	MinSharpness  float64 `toml:"min_sharpness"`
	MinBrightness float64 `toml:"min_brightness"`
}

// Workflow contains daemon scheduling settings.
type Workflow struct {
	MaxConcurrentJobs    int    `toml:"max_concurrent_jobs"`
	ShutdownGraceSeconds int    `toml:"shutdown_grace_seconds"`
	SweepSchedule        string `toml:"sweep_schedule"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	PreviewReady   bool   `toml:"preview_ready"`
	BookReady      bool   `toml:"book_ready"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for storybook.
//
// Configuration sections by subsystem:
//   - Paths: data, template, job, upload and log directories
//   - API: HTTP bind address and upload limits
//   - Pipeline: preview size, retention and fan-out budgets
//   - Match: identity matching thresholds
//   - FaceSwap, Stylize, Vision: external providers
//   - Render: LibreOffice and pdftoppm
//   - Photo: upload quality gates
//   - Workflow: job concurrency and the maintenance schedule
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Match         Match         `toml:"match"`
	FaceSwap      FaceSwap      `toml:"faceswap"`
	Stylize       Stylize       `toml:"stylize"`
	Vision        Vision        `toml:"vision"`
	Render        Render        `toml:"render"`
	Photo         Photo         `toml:"photo"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
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

	projectPath, err := filepath.Abs("storybook.toml")
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
	for _, dir := range []string{c.Paths.DataDir, c.Paths.TemplatesDir, c.Paths.JobsDir, c.Paths.UploadsDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite job store location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "storybook.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "storybookd.lock")
}

// JobDir returns the scratch and output directory for one job.
func (c *Config) JobDir(token string) string {
	return filepath.Join(c.Paths.JobsDir, token)
}

// PreviewRetention is how long a preview stays readable after creation.
func (c *Config) PreviewRetention() time.Duration {
	return time.Duration(c.Pipeline.PreviewRetentionHours) * time.Hour
}

// SwapBudget is the total time allowed for one job's swap fan-out.
func (c *Config) SwapBudget() time.Duration {
	return time.Duration(c.Pipeline.SwapTimeoutSeconds) * time.Second
}

// ShutdownGrace is how long running jobs may finish after Stop.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Workflow.ShutdownGraceSeconds) * time.Second
}

// MatchWorkers resolves the detection pool size.
func (c *Config) MatchWorkers() int {
	if c.Match.Workers > 0 {
		return c.Match.Workers
	}
	return runtime.NumCPU()
}

// MaxUploadBytes converts the configured upload limit to bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.API.MaxUploadMB) << 20
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
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
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
