package adherence

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
)

// Summary aggregates the three adherence values for one user and instant.
type Summary struct {
	UserID          string      `json:"user_id"`
	Streak          int         `json:"adherence_streak"`
	NextDose        *Occurrence `json:"next_dose"`
	WeeklyAdherence float64     `json:"weekly_adherence"`
}

// Summary checks the user exists, then runs the three computations
// concurrently. The first failure cancels the others.
func (e *Engine) Summary(ctx context.Context, userID string, now time.Time) (sum *Summary, err error) {
	start := time.Now()
	defer func() { e.observe("summary", userID, start, err) }()

	exists, err := e.source.UserExists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperrors.ErrUserNotFound
	}

	out := &Summary{UserID: userID}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		streak, err := e.ComputeStreak(gctx, userID, now, e.windowDays)
		out.Streak = streak
		return err
	})
	g.Go(func() error {
		next, err := e.ComputeNextDose(gctx, userID, now)
		out.NextDose = next
		return err
	})
	g.Go(func() error {
		ratio, err := e.ComputeWeeklyAdherence(gctx, userID, now)
		out.WeeklyAdherence = ratio
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
