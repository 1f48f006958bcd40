package learning

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fclairamb/agentstate/internal/apperrors"
	"github.com/fclairamb/agentstate/internal/store"
)

func createTestManager(t *testing.T) *Manager {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := store.New(t.TempDir(), store.WithLogger(logger))
	return NewManager(engine, WithLogger(logger))
}

func TestManager_RecordAndStats(t *testing.T) {
	t.Parallel()
	m := createTestManager(t)
	ctx := context.Background()

	records := []Record{
		{Variant: "b", Success: true, Score: 0.5},
		{Variant: "a", Success: true, Score: 1},
		{Variant: "a", Success: false, Score: 0},
		{Variant: "b", Success: true, Score: 1.5},
	}
	for _, rec := range records {
		if err := m.Record(ctx, "prompt-style", rec); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	stats, err := m.Stats(ctx, "prompt-style")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	want := []VariantStats{
		{Variant: "a", Count: 2, Successes: 1, SuccessRate: 0.5, MeanScore: 0.5},
		{Variant: "b", Count: 2, Successes: 2, SuccessRate: 1, MeanScore: 1},
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	exp, err := m.Load(ctx, "prompt-style")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	for _, rec := range exp.Records {
		if rec.RecordedAt.IsZero() {
			t.Error("expected RecordedAt to be set")
		}
	}
}

func TestManager_UnknownExperiment(t *testing.T) {
	t.Parallel()
	m := createTestManager(t)

	stats, err := m.Stats(context.Background(), "never-run")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if len(stats) != 0 {
		t.Errorf("expected no stats, got %v", stats)
	}
}

func TestManager_InvalidName(t *testing.T) {
	t.Parallel()
	m := createTestManager(t)
	ctx := context.Background()

	if err := m.Record(ctx, "", Record{Variant: "a"}); !errors.Is(err, apperrors.ErrExperimentRequired) {
		t.Errorf("expected ErrExperimentRequired, got %v", err)
	}
	if err := m.Record(ctx, "../escape", Record{Variant: "a"}); !errors.Is(err, apperrors.ErrInvalidExperimentName) {
		t.Errorf("expected ErrInvalidExperimentName, got %v", err)
	}
}

func TestManager_CorruptedExperimentRecovers(t *testing.T) {
	t.Parallel()
	m := createTestManager(t)
	ctx := context.Background()

	path := m.Path("broken")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	exp, err := m.Load(ctx, "broken")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(exp.Records) != 0 || exp.Name != "broken" {
		t.Errorf("expected empty default experiment, got %+v", exp)
	}

	if err := m.Record(ctx, "broken", Record{Variant: "a", Success: true}); err != nil {
		t.Fatalf("Record after recovery failed: %v", err)
	}
	exp, err = m.Load(ctx, "broken")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(exp.Records) != 1 {
		t.Errorf("expected 1 record, got %d", len(exp.Records))
	}
}

func TestSummarize_Empty(t *testing.T) {
	t.Parallel()

	if got := Summarize(nil); len(got) != 0 {
		t.Errorf("expected empty summary, got %v", got)
	}
}
