package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "github.com/kuip/provable-sdk/internal/errors"
)

type stubNotifier struct {
	channel Channel
	err     error
	got     []Event
}

func (s *stubNotifier) Channel() Channel { return s.channel }

func (s *stubNotifier) Notify(_ context.Context, event Event) error {
	s.got = append(s.got, event)
	return s.err
}

func sampleEvent() Event {
	return Event{
		Code:        xerrors.CodeRetriesExhausted,
		Message:     "authority unavailable",
		Severity:    xerrors.SeverityWarning,
		JobID:       "job-1",
		Attempts:    3,
		MaxAttempts: 3,
		OccurredAt:  time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	ok := &stubNotifier{channel: ChannelLog}
	broken := &stubNotifier{channel: ChannelWebhook, err: errors.New("down")}
	err := NewFanout(ok, nil, broken).Notify(context.Background(), sampleEvent())
	if err == nil || !strings.Contains(err.Error(), "channel webhook") {
		t.Fatalf("expected the failing channel to be reported, got %v", err)
	}
	if len(ok.got) != 1 || len(broken.got) != 1 {
		t.Fatal("every notifier should receive the event")
	}

	var nilFanout *FanoutDispatcher
	if err := nilFanout.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("nil dispatcher should be a no-op, got %v", err)
	}
}

func TestWebhookNotifier(t *testing.T) {
	received := make(chan webhookPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		var payload webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode: %v", err)
		}
		received <- payload
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	if err := n.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	payload := <-received
	if payload.Event.JobID != "job-1" || !strings.Contains(payload.Text, "RETRIES_EXHAUSTED") {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestWebhookNotifierReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	if err := n.Notify(context.Background(), sampleEvent()); err == nil {
		t.Fatal("expected error for 403")
	}
	if err := (&WebhookNotifier{}).Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("unconfigured webhook should be skipped, got %v", err)
	}
}
