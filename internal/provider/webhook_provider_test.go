package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	appErrors "github.com/agrovia/agrinotify-backend/internal/errors"
)

func TestWebhookSendSuccess(t *testing.T) {
	var gotBody string
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotContentType = r.Header.Get("Content-Type")
		w.Header().Set("X-Message-Id", "wh-123")
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	p := NewWebhookProvider("webhook", 2*time.Second)
	result, err := p.Send(context.Background(), srv.URL, "webhook", `{"herd":"H-301"}`)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !result.Success {
		t.Error("result not marked success")
	}
	if result.ProviderMessageID != "wh-123" {
		t.Errorf("provider message id = %q, want wh-123", result.ProviderMessageID)
	}
	if gotBody != `{"herd":"H-301"}` {
		t.Errorf("posted body = %q", gotBody)
	}
	if gotContentType != "application/json" {
		t.Errorf("content type = %q", gotContentType)
	}
}

func TestWebhookSendRejectedIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown recipient", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	p := NewWebhookProvider("webhook", 2*time.Second)
	result, err := p.Send(context.Background(), srv.URL, "webhook", "{}")
	if err == nil {
		t.Fatal("expected error for 422")
	}
	if !appErrors.IsPermanent(err) {
		t.Errorf("422 rejection not permanent: %v", err)
	}
	if result == nil || !strings.Contains(result.ProviderResponse, "status=422") {
		t.Errorf("provider response = %+v", result)
	}
}

func TestWebhookSendServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "try later", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewWebhookProvider("webhook", 2*time.Second)
	_, err := p.Send(context.Background(), srv.URL, "webhook", "{}")
	if err == nil {
		t.Fatal("expected error for 503")
	}
	if appErrors.IsPermanent(err) {
		t.Errorf("503 marked permanent: %v", err)
	}
}

func TestWebhookSendThrottleIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewWebhookProvider("webhook", 2*time.Second)
	_, err := p.Send(context.Background(), srv.URL, "webhook", "{}")
	if err == nil {
		t.Fatal("expected error for 429")
	}
	if appErrors.IsPermanent(err) {
		t.Errorf("429 must stay retryable: %v", err)
	}
}

func TestWebhookSendBadURLIsPermanent(t *testing.T) {
	p := NewWebhookProvider("webhook", 2*time.Second)
	_, err := p.Send(context.Background(), "://not-a-url", "webhook", "{}")
	if err == nil {
		t.Fatal("expected error for malformed URL")
	}
	if !appErrors.IsPermanent(err) {
		t.Errorf("malformed URL not permanent: %v", err)
	}
}

func TestWebhookSendUnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	p := NewWebhookProvider("webhook", time.Second)
	_, err := p.Send(context.Background(), srv.URL, "webhook", "{}")
	if err == nil {
		t.Fatal("expected connection error")
	}
	if appErrors.IsPermanent(err) {
		t.Errorf("network failure marked permanent: %v", err)
	}
}
