package config

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/fclairamb/agentstate/internal/apperrors"
	"github.com/fclairamb/agentstate/internal/retry"
)

func environ(vars ...string) Option {
	return WithEnviron(func() []string { return vars })
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(environ("HOME=/tmp", "UNRELATED=1"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := &Config{
		DataDir:     ".agentstate",
		LockTimeout: 5 * time.Second,
		Retry:       retry.DefaultConfig(),
		APIRate:     350 * time.Millisecond,
		LogFormat:   LogFormatText,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Parallel()

	cfg, err := Load(environ(
		"AGENTSTATE_DIR=/var/lib/agent",
		"AGENTSTATE_LOCK_TIMEOUT=250ms",
		"AGENTSTATE_RETRY_MAX_ATTEMPTS=5",
		"AGENTSTATE_RETRY_INITIAL_DELAY=100ms",
		"AGENTSTATE_RETRY_MAX_DELAY=2s",
		"AGENTSTATE_RETRY_FACTOR=1.5",
		"AGENTSTATE_HISTORY=yes",
		"AGENTSTATE_API_URL=https://api.example.com",
		"AGENTSTATE_API_TOKEN=tok",
		"AGENTSTATE_API_MODEL=model-x",
		"AGENTSTATE_API_RATE=0s",
		"AGENTSTATE_LOG_FORMAT=JSON",
	))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := &Config{
		DataDir:     "/var/lib/agent",
		LockTimeout: 250 * time.Millisecond,
		Retry: retry.Config{
			MaxAttempts:  5,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Factor:       1.5,
		},
		History:   true,
		APIURL:    "https://api.example.com",
		APIToken:  "tok",
		APIModel:  "model-x",
		APIRate:   0,
		LogFormat: LogFormatJSON,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_OverrideWinsOverEnvironment(t *testing.T) {
	t.Parallel()

	cfg, err := Load(
		environ("AGENTSTATE_DIR=/from/env"),
		WithOverride(KeyDir, "/from/flag"),
		WithOverride(KeyAPIURL, ""),
	)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DataDir != "/from/flag" {
		t.Errorf("expected override to win, got %q", cfg.DataDir)
	}
	if cfg.APIURL != "" {
		t.Errorf("expected empty override to be ignored, got %q", cfg.APIURL)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		env  string
	}{
		{"bad duration", "AGENTSTATE_LOCK_TIMEOUT=soon"},
		{"zero lock timeout", "AGENTSTATE_LOCK_TIMEOUT=0s"},
		{"bad integer", "AGENTSTATE_RETRY_MAX_ATTEMPTS=many"},
		{"zero attempts", "AGENTSTATE_RETRY_MAX_ATTEMPTS=0"},
		{"bad factor", "AGENTSTATE_RETRY_FACTOR=x"},
		{"factor below one", "AGENTSTATE_RETRY_FACTOR=0.5"},
		{"bad boolean", "AGENTSTATE_HISTORY=maybe"},
		{"negative rate", "AGENTSTATE_API_RATE=-1s"},
		{"unknown log format", "AGENTSTATE_LOG_FORMAT=xml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Load(environ(tt.env))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, apperrors.ErrConfig) {
				t.Errorf("expected configuration error, got %v", err)
			}
			if apperrors.IsRetryable(err) {
				t.Error("configuration errors must not be retryable")
			}
		})
	}
}
