package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storybook/internal/config"
)

const userAgent = "Storybook-Go/0.1.0"

// Service defines the notification surface exposed to the pipeline.
type Service interface {
	NotifyPreviewReady(ctx context.Context, token, childName string, pages int) error
	NotifyBookReady(ctx context.Context, orderNumber, childName string) error
	NotifyJobFailed(ctx context.Context, kind, token string, err error) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		previews: cfg.Notifications.PreviewReady,
		books:    cfg.Notifications.BookReady,
		errors:   cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	previews bool
	books    bool
	errors   bool
}

func (n *ntfyService) NotifyPreviewReady(ctx context.Context, token, childName string, pages int) error {
	if !n.previews {
		return nil
	}
	childName = displayName(childName)
	data := payload{
		title:   "Storybook - Preview Ready",
		message: fmt.Sprintf("📖 Preview for %s is ready (%d pages)\nToken: %s", childName, pages, strings.TrimSpace(token)),
		tags:    []string{"storybook", "preview", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBookReady(ctx context.Context, orderNumber, childName string) error {
	if !n.books {
		return nil
	}
	childName = displayName(childName)
	data := payload{
		title:    "Storybook - Book Ready",
		message:  fmt.Sprintf("✅ Book for %s is ready\nOrder: %s", childName, strings.TrimSpace(orderNumber)),
		tags:     []string{"storybook", "book", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, kind, token string, err error) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ ")
	if kind = strings.TrimSpace(kind); kind != "" {
		builder.WriteString(kind)
		builder.WriteString(" ")
	}
	builder.WriteString(strings.TrimSpace(token))
	builder.WriteString(" failed: ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Storybook - Job Failed",
		message:  builder.String(),
		tags:     []string{"storybook", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Storybook - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"storybook", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func displayName(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return "your child"
}

type noopService struct{}

func (noopService) NotifyPreviewReady(context.Context, string, string, int) error { return nil }
func (noopService) NotifyBookReady(context.Context, string, string) error         { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string, error) error  { return nil }
func (noopService) TestNotification(context.Context) error                        { return nil }
