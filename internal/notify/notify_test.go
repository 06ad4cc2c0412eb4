package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stokeworth/fleetcore/internal/infrastructure/config"
	"github.com/stokeworth/fleetcore/internal/rule"
)

func testEvent() rule.DeviceEvent {
	return rule.DeviceEvent{
		DeviceID:  "thermo-01",
		Attribute: "temperature",
		Value:     26.5,
		Timestamp: time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC),
	}
}

func webhookFor(t *testing.T, status int) (*WebhookNotifier, *[]map[string]any) {
	t.Helper()
	var received []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			received = append(received, body)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return NewWebhookNotifier(config.NotifyConfig{WebhookURL: srv.URL}, nil), &received
}

func TestWebhookNotifyDelivers(t *testing.T) {
	n, received := webhookFor(t, http.StatusOK)

	if err := n.Notify(context.Background(), "temperature high", "rule-1", testEvent()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if len(*received) != 1 {
		t.Fatalf("received = %d requests, want 1", len(*received))
	}
	body := (*received)[0]
	if body["rule_id"] != "rule-1" || body["message"] != "temperature high" {
		t.Errorf("body = %v", body)
	}
	if body["device_id"] != "thermo-01" || body["attribute"] != "temperature" {
		t.Errorf("event fields = %v", body)
	}
}

func TestWebhookNotifyClientErrorIsPermanent(t *testing.T) {
	n, _ := webhookFor(t, http.StatusBadRequest)

	err := n.Notify(context.Background(), "msg", "rule-1", testEvent())
	if err == nil {
		t.Fatal("expected error")
	}
	if !rule.IsPermanent(err) {
		t.Errorf("error = %v, want permanent", err)
	}
}

func TestWebhookNotifyServerErrorIsRetryable(t *testing.T) {
	n, _ := webhookFor(t, http.StatusInternalServerError)

	err := n.Notify(context.Background(), "msg", "rule-1", testEvent())
	if err == nil {
		t.Fatal("expected error")
	}
	if rule.IsPermanent(err) {
		t.Errorf("error = %v, want retryable", err)
	}
}

func TestWebhookNotifyRateLimitIsRetryable(t *testing.T) {
	n, _ := webhookFor(t, http.StatusTooManyRequests)

	err := n.Notify(context.Background(), "msg", "rule-1", testEvent())
	if err == nil {
		t.Fatal("expected error")
	}
	if rule.IsPermanent(err) {
		t.Errorf("error = %v, want retryable", err)
	}
}

func TestWebhookNotifyConnectionRefusedIsRetryable(t *testing.T) {
	n := NewWebhookNotifier(config.NotifyConfig{WebhookURL: "http://127.0.0.1:1", Timeout: 1}, nil)

	err := n.Notify(context.Background(), "msg", "rule-1", testEvent())
	if err == nil {
		t.Fatal("expected error")
	}
	if rule.IsPermanent(err) {
		t.Errorf("error = %v, want retryable", err)
	}
}

func TestLogNotifierAlwaysSucceeds(t *testing.T) {
	n := NewLogNotifier(nil)
	if err := n.Notify(context.Background(), "msg", "rule-1", testEvent()); err != nil {
		t.Errorf("Notify: %v", err)
	}
}

func TestNewSelectsSender(t *testing.T) {
	if _, ok := New(config.NotifyConfig{}, nil).(*LogNotifier); !ok {
		t.Error("empty URL should select LogNotifier")
	}
	if _, ok := New(config.NotifyConfig{WebhookURL: "http://example.com/hook"}, nil).(*WebhookNotifier); !ok {
		t.Error("URL should select WebhookNotifier")
	}
}
