// Package adherence derives streak, next-dose and weekly-ratio analytics
// from a user's medlogs and schedules.
package adherence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/pillpal/internal/metrics"
	"github.com/gmsas95/pillpal/internal/store"
)

// DefaultWindowDays bounds how far back the streak looks.
const DefaultWindowDays = 30

// MaxWindowDays caps a requested streak window at roughly a century.
const MaxWindowDays = 36500

// Source is the read-only storage the engine folds over.
type Source interface {
	UserExists(ctx context.Context, userID string) (bool, error)
	ListMedlogsSince(ctx context.Context, userID string, since time.Time) ([]store.Medlog, error)
	CountMedlogsByStatus(ctx context.Context, userID string, status store.Status, since time.Time) (int64, error)
	ListSchedules(ctx context.Context, userID string) ([]store.Schedule, error)
}

// Options configures an Engine.
type Options struct {
	Location   *time.Location
	WindowDays int
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

// Engine computes adherence values. It keeps no state between calls and
// is safe for concurrent use.
type Engine struct {
	source     Source
	loc        *time.Location
	windowDays int
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// New builds an engine over source. Zero options fall back to UTC, the
// default window and a no-op logger.
func New(source Source, opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.WindowDays <= 0 {
		opts.WindowDays = DefaultWindowDays
	}
	if opts.WindowDays > MaxWindowDays {
		opts.WindowDays = MaxWindowDays
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		source:     source,
		loc:        opts.Location,
		windowDays: opts.WindowDays,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

func (e *Engine) observe(kind, userID string, start time.Time, err error) {
	e.metrics.RecordComputation(kind, time.Since(start), err)
	if err != nil {
		e.logger.Debug("Adherence computation failed",
			zap.String("kind", kind),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}
