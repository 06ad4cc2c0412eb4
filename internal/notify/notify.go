// Package notify delivers rule notifications. A webhook sender POSTs
// them to a configured endpoint; a log sender is the fallback when no
// endpoint is configured.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stokeworth/fleetcore/internal/infrastructure/config"
	"github.com/stokeworth/fleetcore/internal/rule"
)

// Logger is the minimal logging interface used by the senders.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

const defaultTimeout = 10 * time.Second

// payload is the JSON body POSTed to the webhook endpoint.
type payload struct {
	RuleID    string `json:"rule_id"`
	Message   string `json:"message"`
	DeviceID  string `json:"device_id"`
	Attribute string `json:"attribute"`
	Value     any    `json:"value"`
	Timestamp string `json:"timestamp"`
}

// WebhookNotifier POSTs notifications to an HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger Logger
}

// NewWebhookNotifier creates a webhook sender from config.
func NewWebhookNotifier(cfg config.NotifyConfig, logger Logger) *WebhookNotifier {
	if logger == nil {
		logger = noopLogger{}
	}
	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &WebhookNotifier{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Notify delivers one notification. Client errors from the endpoint
// (4xx other than 408 and 429) are permanent; server errors and
// transport failures are retryable.
func (n *WebhookNotifier) Notify(ctx context.Context, message, ruleID string, event rule.DeviceEvent) error {
	body, err := json.Marshal(payload{
		RuleID:    ruleID,
		Message:   message,
		DeviceID:  event.DeviceID,
		Attribute: event.Attribute,
		Value:     event.Value,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return rule.Permanent(fmt.Errorf("marshalling notification: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return rule.Permanent(fmt.Errorf("building notification request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting notification: %w", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		n.logger.Info("notification delivered", "rule_id", ruleID, "status", resp.StatusCode)
		return nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return rule.Permanent(fmt.Errorf("webhook rejected notification: %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
}

// LogNotifier writes notifications to the log. It is the sender of
// last resort when no webhook endpoint is configured.
type LogNotifier struct {
	logger Logger
}

// NewLogNotifier creates a log-only sender.
func NewLogNotifier(logger Logger) *LogNotifier {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LogNotifier{logger: logger}
}

// Notify logs the notification and always succeeds.
func (n *LogNotifier) Notify(_ context.Context, message, ruleID string, event rule.DeviceEvent) error {
	n.logger.Info("notification",
		"rule_id", ruleID,
		"message", message,
		"device_id", event.DeviceID,
		"attribute", event.Attribute,
		"value", event.Value,
	)
	return nil
}

// New returns the webhook sender when a URL is configured, the log
// sender otherwise.
func New(cfg config.NotifyConfig, logger Logger) rule.Notifier {
	if cfg.WebhookURL == "" {
		return NewLogNotifier(logger)
	}
	return NewWebhookNotifier(cfg, logger)
}
