// Package stylize turns the uploaded child photo into an illustration that
// matches the storybook art style.
//
// The provider takes two calls: the photo is uploaded as a data URL to the
// asset endpoint, which answers with a hosted URL, and the generation
// endpoint is then asked to redraw that URL with the configured prompt. The
// generation reply is the image itself; a JSON reply means the provider
// refused and is reported as services.ErrProvider.
package stylize

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"storybook/internal/config"
	"storybook/internal/logging"
	"storybook/internal/services"
	"storybook/internal/services/providerhttp"
)

// Stylizer is the capability the pipeline depends on.
type Stylizer interface {
	Stylize(ctx context.Context, photoPath, outPath string) error
}

// Client calls the asset upload and generation endpoints.
type Client struct {
	apiKey      string
	uploadURL   string
	generateURL string
	prompt      string
	timeout     time.Duration
	transport   *providerhttp.Client
	logger      *slog.Logger
}

// New builds a stylization client. Options are passed to the transport.
func New(cfg config.Stylize, logger *slog.Logger, opts ...providerhttp.Option) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return &Client{
		apiKey:      strings.TrimSpace(cfg.APIKey),
		uploadURL:   strings.TrimSpace(cfg.UploadURL),
		generateURL: strings.TrimSpace(cfg.GenerateURL),
		prompt:      strings.TrimSpace(cfg.Prompt),
		timeout:     timeout,
		transport:   providerhttp.New(timeout, opts...),
		logger:      logging.NewComponentLogger(logger, "stylize"),
	}
}

type uploadRequest struct {
	DataURLs []string `json:"data_urls"`
}

type uploadResponse struct {
	FileURLs []string `json:"file_urls"`
}

type generateRequest struct {
	Prompt           string   `json:"prompt"`
	ImageURLs        []string `json:"image_urls"`
	AspectRatio      string   `json:"aspect_ratio"`
	OutputResolution string   `json:"output_resolution"`
	OutputFormat     string   `json:"output_format"`
}

// Stylize writes the illustrated version of photoPath to outPath.
func (c *Client) Stylize(ctx context.Context, photoPath, outPath string) error {
	if c.apiKey == "" {
		return services.Wrap(services.ErrConfiguration, "stylize", "stylize", "api key required", nil)
	}
	start := time.Now()
	hosted, err := c.upload(ctx, photoPath)
	if err != nil {
		return err
	}

	body := mustJSON(generateRequest{
		Prompt:           c.prompt,
		ImageURLs:        []string{hosted},
		AspectRatio:      "1:1",
		OutputResolution: "1K",
		OutputFormat:     "jpg",
	})
	resp, err := c.transport.Do(ctx, providerhttp.Request{
		Method:      http.MethodPost,
		URL:         c.generateURL,
		Header:      c.header(),
		Body:        body,
		ContentType: "application/json",
	})
	if err != nil {
		return c.wrap("generate", "generation request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return services.Wrap(services.ErrProvider, "stylize", "generate",
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
	if strings.Contains(resp.ContentType(), "json") {
		return services.Wrap(services.ErrProvider, "stylize", "generate",
			"provider returned json instead of an image: "+providerhttp.Snippet(string(resp.Body)), nil)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(resp.Body)); err != nil {
		return services.Wrap(services.ErrProvider, "stylize", "generate", "response is not an image", err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create stylized dir: %w", err)
	}
	if err := os.WriteFile(outPath, resp.Body, 0o644); err != nil {
		return fmt.Errorf("write stylized photo: %w", err)
	}
	c.logger.Debug("photo stylized",
		logging.String("output", outPath),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (c *Client) upload(ctx context.Context, photoPath string) (string, error) {
	dataURL, err := providerhttp.FileDataURL(photoPath)
	if err != nil {
		return "", services.Wrap(services.ErrFatalInput, "stylize", "upload", "read photo", err)
	}
	var resp uploadResponse
	req := providerhttp.Request{Method: http.MethodPost, URL: c.uploadURL, Header: c.header()}
	if err := c.transport.JSON(ctx, req, uploadRequest{DataURLs: []string{dataURL}}, &resp); err != nil {
		return "", c.wrap("upload", "asset upload failed", err)
	}
	if len(resp.FileURLs) == 0 || strings.TrimSpace(resp.FileURLs[0]) == "" {
		return "", services.Wrap(services.ErrProvider, "stylize", "upload", "upload response carried no file url", nil)
	}
	return resp.FileURLs[0], nil
}

func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set("x-api-key", c.apiKey)
	h.Set("Accept", "application/json, image/*")
	return h
}

func (c *Client) wrap(operation, message string, err error) error {
	if providerhttp.IsTimeout(err) {
		return services.Wrap(services.ErrTimeout, "stylize", operation,
			fmt.Sprintf("%s (timeout=%s)", message, c.timeout), err)
	}
	return services.Wrap(services.ErrProvider, "stylize", operation, message, err)
}
