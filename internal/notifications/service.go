package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dubber/internal/config"
)

const userAgent = "Dubber/0.1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyJobCompleted(ctx context.Context, title, outputVideo string, cost float64) error
	NotifyJobFailed(ctx context.Context, title, reason string) error
	NotifyJobRetry(ctx context.Context, title string, attempt, maxRetries int) error
	NotifyQueueDrained(ctx context.Context, processed, failed int, duration time.Duration) error
	NotifyError(ctx context.Context, err error, context string) error
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
		enabled:  cfg.Notifications,
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
	enabled  config.Notifications
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, title, outputVideo string, cost float64) error {
	if !n.enabled.JobCompleted {
		return nil
	}
	title = strings.TrimSpace(title)
	message := fmt.Sprintf("Dub complete: %s", title)
	if outputVideo != "" {
		message = fmt.Sprintf("%s\nOutput: %s", message, outputVideo)
	}
	if cost > 0 {
		message = fmt.Sprintf("%s\nCost: $%.4f", message, cost)
	}
	data := payload{
		title:    "Dubber - Complete",
		message:  message,
		tags:     []string{"dubber", "job", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, title, reason string) error {
	if !n.enabled.JobFailed {
		return nil
	}
	title = strings.TrimSpace(title)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "Dubber - Failed",
		message:  fmt.Sprintf("Dub failed: %s\nReason: %s", title, reason),
		tags:     []string{"dubber", "job", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobRetry(ctx context.Context, title string, attempt, maxRetries int) error {
	if !n.enabled.JobRetry {
		return nil
	}
	title = strings.TrimSpace(title)
	data := payload{
		title:   "Dubber - Retrying",
		message: fmt.Sprintf("Retrying: %s (attempt %d of %d)", title, attempt, maxRetries),
		tags:    []string{"dubber", "job", "retry"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyQueueDrained(ctx context.Context, processed, failed int, duration time.Duration) error {
	if !n.enabled.QueueDrained {
		return nil
	}
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	var title, message string
	if failed == 0 {
		title = "Dubber - Queue Drained"
		message = fmt.Sprintf("Queue drained: %d jobs processed in %s", processed, duration)
	} else {
		title = "Dubber - Queue Drained (with errors)"
		message = fmt.Sprintf("Queue drained: %d succeeded, %d failed in %s", processed, failed, duration)
	}

	data := payload{
		title:   title,
		message: message,
		tags:    []string{"dubber", "queue", "drained"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Dubber - Error",
		message:  builder.String(),
		tags:     []string{"dubber", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Dubber - Test",
		message:  "Notification system test",
		tags:     []string{"dubber", "test"},
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

type noopService struct{}

func (noopService) NotifyJobCompleted(context.Context, string, string, float64) error  { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string) error              { return nil }
func (noopService) NotifyJobRetry(context.Context, string, int, int) error             { return nil }
func (noopService) NotifyQueueDrained(context.Context, int, int, time.Duration) error  { return nil }
func (noopService) NotifyError(context.Context, error, string) error                   { return nil }
func (noopService) TestNotification(context.Context) error                             { return nil }
