package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bookplayer/internal/config"
)

const userAgent = "BookPlayer-Go/0.1.0"

// Service defines the notification surface exposed to the daemon and CLI.
type Service interface {
	NotifyImportCompleted(ctx context.Context, imported, skipped int) error
	NotifySyncFailure(ctx context.Context, relativePath, message string) error
	NotifyAuditFindings(ctx context.Context, orphans int) error
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
		settings: cfg.Notifications,
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
	settings config.Notifications
}

func (n *ntfyService) NotifyImportCompleted(ctx context.Context, imported, skipped int) error {
	if !n.settings.Imports {
		return nil
	}
	message := fmt.Sprintf("Imported %d files", imported)
	if skipped > 0 {
		message = fmt.Sprintf("%s (%d skipped)", message, skipped)
	}
	data := payload{
		title:   "BookPlayer - Import Complete",
		message: message,
		tags:    []string{"bookplayer", "import", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifySyncFailure(ctx context.Context, relativePath, message string) error {
	if !n.settings.Sync {
		return nil
	}
	relativePath = strings.TrimSpace(relativePath)
	data := payload{
		title:    "BookPlayer - Sync Failed",
		message:  fmt.Sprintf("Sync rejected for %s: %s", relativePath, strings.TrimSpace(message)),
		tags:     []string{"bookplayer", "sync", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyAuditFindings(ctx context.Context, orphans int) error {
	if !n.settings.Audit {
		return nil
	}
	if orphans == 0 {
		return nil
	}
	data := payload{
		title:   "BookPlayer - Storage Audit",
		message: fmt.Sprintf("Found %d orphaned files with no library entry", orphans),
		tags:    []string{"bookplayer", "audit", "orphans"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.settings.Errors {
		return nil
	}
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
		title:    "BookPlayer - Error",
		message:  builder.String(),
		tags:     []string{"bookplayer", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "BookPlayer - Test",
		message:  "Notification system test",
		tags:     []string{"bookplayer", "test"},
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

func (noopService) NotifyImportCompleted(context.Context, int, int) error   { return nil }
func (noopService) NotifySyncFailure(context.Context, string, string) error { return nil }
func (noopService) NotifyAuditFindings(context.Context, int) error          { return nil }
func (noopService) NotifyError(context.Context, error, string) error        { return nil }
func (noopService) TestNotification(context.Context) error                  { return nil }
