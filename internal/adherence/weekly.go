package adherence

import (
	"context"
	"time"

	"github.com/gmsas95/pillpal/internal/store"
)

const weekWindow = 7 * 24 * time.Hour

// ComputeWeeklyAdherence returns taken/(taken+missed) over the seven days
// ending at now, as a fraction in [0,1]. No data yields 0.
func (e *Engine) ComputeWeeklyAdherence(ctx context.Context, userID string, now time.Time) (ratio float64, err error) {
	start := time.Now()
	defer func() { e.observe("weekly", userID, start, err) }()

	since := now.Add(-weekWindow)

	taken, err := e.source.CountMedlogsByStatus(ctx, userID, store.StatusTaken, since)
	if err != nil {
		return 0, err
	}
	missed, err := e.source.CountMedlogsByStatus(ctx, userID, store.StatusMissed, since)
	if err != nil {
		return 0, err
	}
	return ratioOf(taken, missed), nil
}

func ratioOf(taken, missed int64) float64 {
	total := taken + missed
	if total == 0 {
		return 0
	}
	return float64(taken) / float64(total)
}
