package faceswap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storybook/internal/config"
	"storybook/internal/logging"
	"storybook/internal/services"
	"storybook/internal/services/providerhttp"
)

const (
	ModeAsync = "async"
	ModeSync  = "sync"

	statusDone   = 1
	statusFailed = -1
)

// Swapper is the capability the pipeline depends on.
type Swapper interface {
	Swap(ctx context.Context, sourcePath, targetPath string) ([]byte, error)
}

// Client implements Swapper against the configured provider.
type Client struct {
	apiKey       string
	baseURL      string
	mode         string
	syncPath     string
	pollInterval time.Duration
	maxPolls     int

	transport     *providerhttp.Client
	transportOpts []providerhttp.Option
	sleeper       func(time.Duration)
	logger        *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient shares an HTTP client across calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.transportOpts = append(c.transportOpts, providerhttp.WithHTTPClient(client))
	}
}

// WithSleeper overrides how poll waits are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
		c.transportOpts = append(c.transportOpts, providerhttp.WithSleeper(sleeper))
	}
}

// New constructs a face swap client.
func New(cfg config.FaceSwap, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Client{
		apiKey:       strings.TrimSpace(cfg.APIKey),
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		mode:         strings.ToLower(strings.TrimSpace(cfg.Mode)),
		syncPath:     strings.TrimSpace(cfg.SyncPath),
		pollInterval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
		maxPolls:     cfg.MaxPolls,
		logger:       logging.NewComponentLogger(logger, "faceswap"),
	}
	if c.mode == "" {
		c.mode = ModeAsync
	}
	if c.maxPolls <= 0 {
		c.maxPolls = 30
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 5 * time.Second
	}
	for _, opt := range opts {
		opt(c)
	}
	c.transport = providerhttp.New(time.Duration(cfg.TimeoutSeconds)*time.Second, c.transportOpts...)
	return c
}

type swapRequest struct {
	UserImageURL     string `json:"userImageUrl"`
	TemplateImageURL string `json:"templateImageUrl"`
}

type taskEnvelope struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		TaskID    string `json:"taskId"`
		Status    int    `json:"status"`
		ResultURL string `json:"resultUrl"`
		Message   string `json:"message"`
	} `json:"data"`
}

// Swap puts the face from sourcePath onto the character in targetPath and
// returns the encoded result image.
func (c *Client) Swap(ctx context.Context, sourcePath, targetPath string) ([]byte, error) {
	if c.apiKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "faceswap", "swap", "api key required", nil)
	}
	user, err := providerhttp.FileDataURL(sourcePath)
	if err != nil {
		return nil, services.Wrap(services.ErrFatalInput, "faceswap", "encode", "read source photo", err)
	}
	template, err := providerhttp.FileDataURL(targetPath)
	if err != nil {
		return nil, services.Wrap(services.ErrProvider, "faceswap", "encode", "read character crop", err)
	}
	payload := swapRequest{UserImageURL: user, TemplateImageURL: template}

	if c.mode == ModeSync {
		return c.swapSync(ctx, payload)
	}
	return c.swapAsync(ctx, payload)
}

func (c *Client) swapAsync(ctx context.Context, payload swapRequest) ([]byte, error) {
	var created taskEnvelope
	req := providerhttp.Request{Method: http.MethodPost, URL: c.baseURL + "/v1/aiart/faceswap", Header: c.authHeader()}
	if err := c.transport.JSON(ctx, req, payload, &created); err != nil {
		return nil, c.providerError("submit", "task submission failed", err)
	}
	if created.Data == nil || strings.TrimSpace(created.Data.TaskID) == "" {
		return nil, services.Wrap(services.ErrProvider, "faceswap", "submit",
			fmt.Sprintf("invalid api response (code=%s msg=%s)", created.Code, created.Msg), nil)
	}
	taskID := created.Data.TaskID
	logger := c.logger.With(logging.String("task_id", taskID))
	logger.Debug("face swap task created")

	pollURL := c.baseURL + "/v1/aiart/tasks/" + url.PathEscape(taskID)
	for attempt := 1; attempt <= c.maxPolls; attempt++ {
		if err := c.wait(ctx); err != nil {
			return nil, c.providerError("poll", "waiting for task", err)
		}
		var task taskEnvelope
		req := providerhttp.Request{Method: http.MethodGet, URL: pollURL, Header: c.authHeader(), Idempotent: true}
		if err := c.transport.JSON(ctx, req, nil, &task); err != nil {
			return nil, c.providerError("poll", "task status request failed", err)
		}
		if task.Data == nil {
			continue
		}
		switch task.Data.Status {
		case statusDone:
			logger.Debug("face swap task completed", logging.Int("polls", attempt))
			return c.download(ctx, task.Data.ResultURL)
		case statusFailed:
			msg := strings.TrimSpace(task.Data.Message)
			if msg == "" {
				msg = "unknown error"
			}
			return nil, services.Wrap(services.ErrProvider, "faceswap", "poll", "face swap failed: "+msg, nil)
		}
	}
	budget := time.Duration(c.maxPolls) * c.pollInterval
	return nil, services.Wrap(services.ErrTimeout, "faceswap", "poll",
		fmt.Sprintf("face swap timed out after %ds", int(budget.Seconds())), nil)
}

func (c *Client) swapSync(ctx context.Context, payload swapRequest) ([]byte, error) {
	endpoint := c.baseURL + c.syncPath
	resp, err := c.transport.Do(ctx, providerhttp.Request{
		Method:      http.MethodPost,
		URL:         endpoint,
		Header:      c.authHeader(),
		Body:        mustJSON(payload),
		ContentType: "application/json",
	})
	if err != nil {
		return nil, c.providerError("swap", "sync request failed", err)
	}
	if strings.HasPrefix(resp.ContentType(), "image/") {
		if len(resp.Body) == 0 {
			return nil, services.Wrap(services.ErrProvider, "faceswap", "swap", "empty image response", nil)
		}
		return resp.Body, nil
	}
	var result taskEnvelope
	if err := decodeJSON(resp.Body, &result); err != nil {
		return nil, services.Wrap(services.ErrProvider, "faceswap", "swap", "malformed response", err)
	}
	if result.Data == nil || strings.TrimSpace(result.Data.ResultURL) == "" {
		return nil, services.Wrap(services.ErrProvider, "faceswap", "swap",
			"response carried no result: "+providerhttp.Snippet(string(resp.Body)), nil)
	}
	return c.download(ctx, result.Data.ResultURL)
}

func (c *Client) download(ctx context.Context, resultURL string) ([]byte, error) {
	data, err := c.transport.Download(ctx, resultURL)
	if err != nil {
		return nil, c.providerError("download", "fetch result", err)
	}
	return data, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.sleeper != nil {
		c.sleeper(c.pollInterval)
		return ctx.Err()
	}
	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.apiKey)
	return h
}

// providerError tags transport failures. A cancelled swap budget is a
// timeout; everything else is a provider failure.
func (c *Client) providerError(operation, message string, err error) error {
	marker := services.ErrProvider
	if providerhttp.IsTimeout(err) {
		marker = services.ErrTimeout
	}
	return services.Wrap(marker, "faceswap", operation, message, err)
}
