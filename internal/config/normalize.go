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
	c.normalizeAPI()
	c.normalizeProviders()
	c.normalizeRender()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.TemplatesDir, err = expandPath(c.Paths.TemplatesDir); err != nil {
		return fmt.Errorf("paths.templates_dir: %w", err)
	}
	if c.Paths.JobsDir, err = expandPath(c.Paths.JobsDir); err != nil {
		return fmt.Errorf("paths.jobs_dir: %w", err)
	}
	if c.Paths.UploadsDir, err = expandPath(c.Paths.UploadsDir); err != nil {
		return fmt.Errorf("paths.uploads_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.API.PublicBaseURL), "/")
	if c.API.MaxUploadMB <= 0 {
		c.API.MaxUploadMB = defaultMaxUploadMB
	}
}

func (c *Config) normalizeProviders() {
	c.FaceSwap.APIKey = strings.TrimSpace(c.FaceSwap.APIKey)
	if c.FaceSwap.APIKey == "" {
		if value, ok := os.LookupEnv("FACESWAP_API_KEY"); ok {
			c.FaceSwap.APIKey = strings.TrimSpace(value)
		}
	}
	c.FaceSwap.BaseURL = strings.TrimRight(strings.TrimSpace(c.FaceSwap.BaseURL), "/")
	if c.FaceSwap.BaseURL == "" {
		c.FaceSwap.BaseURL = defaultFaceSwapBaseURL
	}
	c.FaceSwap.Mode = strings.ToLower(strings.TrimSpace(c.FaceSwap.Mode))
	if c.FaceSwap.Mode == "" {
		c.FaceSwap.Mode = defaultFaceSwapMode
	}
	if strings.TrimSpace(c.FaceSwap.SyncPath) == "" {
		c.FaceSwap.SyncPath = defaultFaceSwapSyncPath
	}

	c.Stylize.APIKey = strings.TrimSpace(c.Stylize.APIKey)
	if c.Stylize.APIKey == "" {
		if value, ok := os.LookupEnv("STYLIZE_API_KEY"); ok {
			c.Stylize.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("SEGMIND_API_KEY"); ok {
			c.Stylize.APIKey = strings.TrimSpace(value)
		}
	}
	if strings.TrimSpace(c.Stylize.UploadURL) == "" {
		c.Stylize.UploadURL = defaultStylizeUploadURL
	}
	if strings.TrimSpace(c.Stylize.GenerateURL) == "" {
		c.Stylize.GenerateURL = defaultStylizeGenerateURL
	}
	if strings.TrimSpace(c.Stylize.Prompt) == "" {
		c.Stylize.Prompt = defaultStylizePrompt
	}

	if value, ok := os.LookupEnv("VISION_BASE_URL"); ok && strings.TrimSpace(value) != "" {
		c.Vision.BaseURL = value
	}
	c.Vision.BaseURL = strings.TrimRight(strings.TrimSpace(c.Vision.BaseURL), "/")
	if c.Vision.Model == "" {
		c.Vision.Model = defaultVisionModel
	}
	if c.Vision.DetectorBackend == "" {
		c.Vision.DetectorBackend = defaultVisionDetector
	}
}

func (c *Config) normalizeRender() {
	c.Render.SofficeBinary = strings.TrimSpace(c.Render.SofficeBinary)
	c.Render.PdftoppmBinary = strings.TrimSpace(c.Render.PdftoppmBinary)
	if c.Render.PdftoppmBinary == "" {
		c.Render.PdftoppmBinary = "pdftoppm"
	}
	if c.Render.DPI <= 0 {
		c.Render.DPI = defaultRenderDPI
	}
}

func (c *Config) normalizeWorkflow() {
	c.Workflow.SweepSchedule = strings.TrimSpace(c.Workflow.SweepSchedule)
	if c.Workflow.SweepSchedule == "" {
		c.Workflow.SweepSchedule = defaultSweepSchedule
	}
	if c.Workflow.ShutdownGraceSeconds < 0 {
		c.Workflow.ShutdownGraceSeconds = 0
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
