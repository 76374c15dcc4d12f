package alerts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	reading "voltage-monitor/internal/reading/domain"
)

func TestWebhookNotifierPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL)
	checker := NewChecker(notifier, 210, 230, time.Minute, nil)

	checker.ObserveBatch(context.Background(), []reading.Reading{
		{DeviceID: "plug-1", VoltageVolts: 245.5, Timestamp: time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)},
	})

	select {
	case payload := <-payloadCh:
		if payload.MsgType != "text" {
			t.Fatalf("expected msgtype text, got %s", payload.MsgType)
		}
		if !strings.Contains(payload.Text.Content, "Device: plug-1") {
			t.Fatalf("missing device in content: %s", payload.Text.Content)
		}
		if !strings.Contains(payload.Text.Content, "245.5V") {
			t.Fatalf("missing voltage in content: %s", payload.Text.Content)
		}
	case <-time.After(time.Second):
		t.Fatalf("webhook never called")
	}
}

type countingNotifier struct {
	calls int
}

func (n *countingNotifier) Notify(_ context.Context, _ AlertMessage) error {
	n.calls++
	return nil
}

func TestCheckerCooldownSuppressesRepeats(t *testing.T) {
	notifier := &countingNotifier{}
	checker := NewChecker(notifier, 210, 230, time.Hour, nil)

	batch := []reading.Reading{{DeviceID: "plug-1", VoltageVolts: 200, Timestamp: time.Now()}}
	checker.ObserveBatch(context.Background(), batch)
	checker.ObserveBatch(context.Background(), batch)

	if notifier.calls != 1 {
		t.Fatalf("expected one notification within cooldown, got %d", notifier.calls)
	}
}

func TestCheckerInRangeIsSilent(t *testing.T) {
	notifier := &countingNotifier{}
	checker := NewChecker(notifier, 210, 230, time.Hour, nil)

	checker.ObserveBatch(context.Background(), []reading.Reading{
		{DeviceID: "plug-1", VoltageVolts: 220, Timestamp: time.Now()},
	})

	if notifier.calls != 0 {
		t.Fatalf("in-range reading must not alert, got %d calls", notifier.calls)
	}
}
