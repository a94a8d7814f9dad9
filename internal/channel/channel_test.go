package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Cadence/internal/domain"
	"github.com/shaiso/Cadence/internal/telemetry"
)

func testMessage() Message {
	return Message{
		Channel:     domain.ChannelEmail,
		Contact:     &domain.Contact{ID: "c1", Email: "ann@example.com"},
		Destination: "ann@example.com",
		Content: domain.Content{
			TemplateRef: "welcome",
			Subject:     "Hello",
			Body:        "Hi Ann",
		},
		IdempotencyKey: "stage-1:c1",
	}
}

// --- HTTPGateway Tests ---

func TestHTTPGateway_Success(t *testing.T) {
	var received map[string]any
	var auth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]any{"message_id": "pm-42", "cost_units": 3})
	}))
	defer server.Close()

	gw := NewHTTPGateway(HTTPConfig{
		URL:     server.URL,
		Headers: map[string]string{"Authorization": "Bearer k"},
	})

	res, err := gw.Send(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.ProviderMessageID != "pm-42" {
		t.Errorf("expected provider id pm-42, got %q", res.ProviderMessageID)
	}
	if res.CostUnits != 3 {
		t.Errorf("expected cost 3, got %d", res.CostUnits)
	}

	if auth != "Bearer k" {
		t.Errorf("expected auth header, got %q", auth)
	}
	if received["to"] != "ann@example.com" {
		t.Errorf("expected to=ann@example.com, got %v", received["to"])
	}
	if received["contact_id"] != "c1" {
		t.Errorf("expected contact_id=c1, got %v", received["contact_id"])
	}
	if received["idempotency_key"] != "stage-1:c1" {
		t.Errorf("expected idempotency key, got %v", received["idempotency_key"])
	}
}

func TestHTTPGateway_ProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(strings.Repeat("x", 500)))
	}))
	defer server.Close()

	gw := NewHTTPGateway(HTTPConfig{URL: server.URL})
	res, err := gw.Send(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("provider errors are failed deliveries, got error: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.HasPrefix(res.Error, "HTTP 503") {
		t.Errorf("expected HTTP 503 error, got %q", res.Error)
	}
	if len(res.Error) > 220 {
		t.Errorf("error body should be truncated, got %d bytes", len(res.Error))
	}
}

func TestHTTPGateway_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	gw := NewHTTPGateway(HTTPConfig{URL: server.URL, Timeout: 50 * time.Millisecond})
	res, err := gw.Send(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Error == "" {
		t.Fatalf("expected timed out delivery to fail, got %+v", res)
	}
}

func TestHTTPGateway_NoDestination(t *testing.T) {
	gw := NewHTTPGateway(HTTPConfig{URL: "http://unused"})
	msg := testMessage()
	msg.Destination = ""

	_, err := gw.Send(context.Background(), msg)
	if !errors.Is(err, ErrNoDestination) {
		t.Fatalf("expected ErrNoDestination, got %v", err)
	}
}

// --- LogGateway / Registry Tests ---

func TestLogGateway_Send(t *testing.T) {
	gw := NewLogGateway(telemetry.DiscardLogger())
	res, err := gw.Send(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || !strings.HasPrefix(res.ProviderMessageID, "log-") {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry(map[domain.Channel]string{
		domain.ChannelSMS: "http://sms.local",
	}, time.Second, telemetry.DiscardLogger())

	sms, err := r.Get(domain.ChannelSMS)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := sms.(*HTTPGateway); !ok {
		t.Errorf("sms with url should use HTTPGateway, got %T", sms)
	}

	email, err := r.Get(domain.ChannelEmail)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := email.(*LogGateway); !ok {
		t.Errorf("email without url should use LogGateway, got %T", email)
	}

	if got := len(r.Channels()); got != 2 {
		t.Errorf("expected 2 channels, got %d", got)
	}
}

func TestRegistry_Missing(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get(domain.ChannelEmail)
	if !errors.Is(err, ErrNoGateway) {
		t.Fatalf("expected ErrNoGateway, got %v", err)
	}

	r.Register(domain.ChannelEmail, GatewayFunc(func(context.Context, Message) (Result, error) {
		return Result{Success: true}, nil
	}))
	if _, err := r.Get(domain.ChannelEmail); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
