package remote

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fclairamb/agentstate/internal/apperrors"
	"github.com/fclairamb/agentstate/internal/retry"
)

func fastRetry() retry.Config {
	return retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Factor:       2,
	}
}

func createTestClient(t *testing.T, url string, opts ...ClientOption) *Client {
	t.Helper()

	base := []ClientOption{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRateInterval(0),
		WithRetryConfig(fastRetry()),
	}
	return NewClient(url, "secret-token", append(base, opts...)...)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("unexpected Authorization header %q", got)
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	client := createTestClient(t, server.URL)

	var result struct {
		OK bool `json:"ok"`
	}
	if err := client.Do(context.Background(), http.MethodGet, "/status", nil, &result); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if !result.OK {
		t.Error("expected ok=true in decoded result")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 calls, got %d", got)
	}
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message": "bad payload"}`))
	}))
	defer server.Close()

	client := createTestClient(t, server.URL)

	err := client.Do(context.Background(), http.MethodPost, "/items", map[string]string{"a": "b"}, nil)
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperrors.Error, got %T: %v", err, err)
	}
	if appErr.Kind != apperrors.KindRemote || appErr.Status != http.StatusBadRequest {
		t.Errorf("expected remote 400, got %s %d", appErr.Kind, appErr.Status)
	}
	if appErr.Message != "bad payload" {
		t.Errorf("expected parsed message, got %q", appErr.Message)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 call, got %d", got)
	}
}

func TestClient_AIOverloadedRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"error": {"type": "overloaded_error", "message": "Overloaded"}}`))
	}))
	defer server.Close()

	client := createTestClient(t, server.URL, WithAIModel("test-model"))

	err := client.Ping(context.Background(), "/v1/models")
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperrors.Error, got %T: %v", err, err)
	}
	if appErr.Kind != apperrors.KindAI || appErr.Model != "test-model" {
		t.Errorf("expected AI error for test-model, got %s/%s", appErr.Kind, appErr.Model)
	}
	if appErr.Message != "Overloaded" {
		t.Errorf("expected nested error message, got %q", appErr.Message)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 calls, got %d", got)
	}
}

func TestClient_ConnectionRefused(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	client := createTestClient(t, url, WithRetryConfig(retry.Config{
		MaxAttempts:  1,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Factor:       1,
	}))

	err := client.Ping(context.Background(), "/")
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperrors.Error, got %T: %v", err, err)
	}
	if appErr.Kind != apperrors.KindNetwork {
		t.Errorf("expected network error, got %s", appErr.Kind)
	}
	if appErr.Code != apperrors.CodeConnectionRefused {
		t.Errorf("expected %s, got %q", apperrors.CodeConnectionRefused, appErr.Code)
	}
	if !apperrors.IsRetryable(err) {
		t.Error("expected connection refused to be retryable")
	}
}
