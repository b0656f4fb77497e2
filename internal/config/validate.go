package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateMatch(); err != nil {
		return err
	}
	if err := c.validateFaceSwap(); err != nil {
		return err
	}
	if err := c.validateStylize(); err != nil {
		return err
	}
	if err := c.validateVision(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if err := ensurePositiveMap(map[string]int{
		"pipeline.preview_pages":           c.Pipeline.PreviewPages,
		"pipeline.preview_retention_hours": c.Pipeline.PreviewRetentionHours,
		"pipeline.swap_timeout_seconds":    c.Pipeline.SwapTimeoutSeconds,
		"pipeline.fanout_limit":            c.Pipeline.FanoutLimit,
		"render.timeout_seconds":           c.Render.TimeoutSeconds,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateMatch() error {
	if c.Match.MinDimension < 0 {
		return errors.New("match.min_dimension must be >= 0")
	}
	if c.Match.SimilarityThreshold <= 0 {
		return errors.New("match.similarity_threshold must be positive")
	}
	if c.Match.PaddingPercent < 0 || c.Match.PaddingPercent > 1 {
		return errors.New("match.padding_percent must be between 0 and 1")
	}
	if c.Match.Workers < 0 {
		return errors.New("match.workers must be >= 0")
	}
	return nil
}

func (c *Config) validateFaceSwap() error {
	if c.FaceSwap.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("faceswap.api_key is required. Set FACESWAP_API_KEY env var or edit %s (create with 'storybook config init')", defaultPath)
	}
	switch c.FaceSwap.Mode {
	case "async", "sync":
	default:
		return fmt.Errorf("faceswap.mode must be async or sync, got %q", c.FaceSwap.Mode)
	}
	if err := validateURL("faceswap.base_url", c.FaceSwap.BaseURL); err != nil {
		return err
	}
	return ensurePositiveMap(map[string]int{
		"faceswap.poll_interval_seconds": c.FaceSwap.PollIntervalSeconds,
		"faceswap.max_polls":             c.FaceSwap.MaxPolls,
		"faceswap.timeout_seconds":       c.FaceSwap.TimeoutSeconds,
	})
}

func (c *Config) validateStylize() error {
	if !c.Pipeline.StylizeEnabled {
		return nil
	}
	if c.Stylize.APIKey == "" {
		return errors.New("stylize.api_key must be set when pipeline.stylize_enabled is true (or set STYLIZE_API_KEY)")
	}
	if err := validateURL("stylize.upload_url", c.Stylize.UploadURL); err != nil {
		return err
	}
	if err := validateURL("stylize.generate_url", c.Stylize.GenerateURL); err != nil {
		return err
	}
	if c.Stylize.TimeoutSeconds <= 0 {
		return errors.New("stylize.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateVision() error {
	if err := validateURL("vision.base_url", c.Vision.BaseURL); err != nil {
		return err
	}
	if c.Vision.TimeoutSeconds <= 0 {
		return errors.New("vision.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.max_concurrent_jobs":  c.Workflow.MaxConcurrentJobs,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	if _, err := cron.ParseStandard(c.Workflow.SweepSchedule); err != nil {
		return fmt.Errorf("workflow.sweep_schedule: %w", err)
	}
	return nil
}

func validateURL(key, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s must be set", key)
	}
	parsed, err := url.Parse(value)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", key, value)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
