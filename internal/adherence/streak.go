package adherence

import (
	"context"
	"time"

	"github.com/gmsas95/pillpal/internal/store"
)

// ComputeStreak counts the consecutive taken doses at the head of the
// user's history, looking back windowDays calendar days from asOf. A
// window of zero or less uses the engine default and one above
// MaxWindowDays is capped.
func (e *Engine) ComputeStreak(ctx context.Context, userID string, asOf time.Time, windowDays int) (streak int, err error) {
	start := time.Now()
	defer func() { e.observe("streak", userID, start, err) }()

	windowDays = e.StreakWindow(windowDays)
	since := asOf.In(e.loc).AddDate(0, 0, -windowDays)

	logs, err := e.source.ListMedlogsSince(ctx, userID, since)
	if err != nil {
		return 0, err
	}
	return leadingTaken(logs), nil
}

// StreakWindow resolves a requested window to the one ComputeStreak
// actually uses.
func (e *Engine) StreakWindow(windowDays int) int {
	switch {
	case windowDays <= 0:
		return e.windowDays
	case windowDays > MaxWindowDays:
		return MaxWindowDays
	}
	return windowDays
}

// leadingTaken expects logs newest first.
func leadingTaken(logs []store.Medlog) int {
	n := 0
	for _, l := range logs {
		if l.Status != store.StatusTaken {
			break
		}
		n++
	}
	return n
}
