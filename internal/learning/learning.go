// Package learning stores A/B experiment outcomes for the agent.
package learning

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/fclairamb/agentstate/internal/apperrors"
	"github.com/fclairamb/agentstate/internal/store"
)

const (
	learningDir             = "learning"
	experimentFormatVersion = 1
)

var experimentNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Record is one observed outcome of a variant.
type Record struct {
	Variant    string    `json:"variant"`
	Success    bool      `json:"success"`
	Score      float64   `json:"score,omitempty"`
	Note       string    `json:"note,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Experiment is the persisted document for one experiment.
type Experiment struct {
	Version int      `json:"version"`
	Name    string   `json:"name"`
	Records []Record `json:"records"`
}

// VariantStats summarizes the records of one variant.
type VariantStats struct {
	Variant     string
	Count       int
	Successes   int
	SuccessRate float64
	MeanScore   float64
}

// Manager handles experiment documents.
type Manager struct {
	engine      *store.Engine
	lockTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLockTimeout sets how long writes wait for an experiment lock.
func WithLockTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.lockTimeout = d
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a learning manager.
func NewManager(engine *store.Engine, opts ...Option) *Manager {
	m := &Manager{
		engine:      engine,
		lockTimeout: store.DefaultLockTimeout,
		now:         time.Now,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Path returns the document path for an experiment.
func (m *Manager) Path(experiment string) string {
	return m.engine.Path(learningDir, experiment+".json")
}

// Record appends rec to the experiment. A zero RecordedAt is set to now.
func (m *Manager) Record(ctx context.Context, experiment string, rec Record) error {
	if err := validateName(experiment); err != nil {
		return err
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = m.now()
	}

	newExperiment := func() Experiment {
		return Experiment{Version: experimentFormatVersion, Name: experiment, Records: []Record{}}
	}

	_, err := store.Update(ctx, m.engine, m.Path(experiment), m.lockTimeout, newExperiment,
		func(exp *Experiment) error {
			exp.Name = experiment
			exp.Records = append(exp.Records, rec)
			return nil
		})
	if err != nil {
		return err
	}

	m.logger.DebugContext(ctx, "recorded outcome",
		"experiment", experiment,
		"variant", rec.Variant,
		"success", rec.Success)
	return nil
}

// Load returns the experiment document. Unknown experiments have no records.
func (m *Manager) Load(ctx context.Context, experiment string) (Experiment, error) {
	if err := validateName(experiment); err != nil {
		return Experiment{}, err
	}

	def := Experiment{Version: experimentFormatVersion, Name: experiment, Records: []Record{}}
	return store.LoadWithRecovery(ctx, m.engine, m.Path(experiment), def,
		func(path string, err error) {
			m.logger.WarnContext(ctx, "experiment document was corrupted and has been reset",
				"experiment", experiment,
				"path", path,
				"error", err)
		})
}

// Stats returns per-variant statistics sorted by variant name.
func (m *Manager) Stats(ctx context.Context, experiment string) ([]VariantStats, error) {
	exp, err := m.Load(ctx, experiment)
	if err != nil {
		return nil, err
	}
	return Summarize(exp.Records), nil
}

// Summarize aggregates records per variant.
func Summarize(records []Record) []VariantStats {
	byVariant := make(map[string]*VariantStats)
	scoreSums := make(map[string]float64)

	for _, rec := range records {
		stats, ok := byVariant[rec.Variant]
		if !ok {
			stats = &VariantStats{Variant: rec.Variant}
			byVariant[rec.Variant] = stats
		}
		stats.Count++
		if rec.Success {
			stats.Successes++
		}
		scoreSums[rec.Variant] += rec.Score
	}

	result := make([]VariantStats, 0, len(byVariant))
	for variant, stats := range byVariant {
		stats.SuccessRate = float64(stats.Successes) / float64(stats.Count)
		stats.MeanScore = scoreSums[variant] / float64(stats.Count)
		result = append(result, *stats)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Variant < result[j].Variant })
	return result
}

func validateName(experiment string) error {
	if experiment == "" {
		return apperrors.ErrExperimentRequired
	}
	if !experimentNameRe.MatchString(experiment) {
		return apperrors.ErrInvalidExperimentName
	}
	return nil
}
