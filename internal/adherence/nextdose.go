package adherence

import (
	"context"
	"time"

	"github.com/gmsas95/pillpal/internal/store"
)

const everyDay = 0x7F

// Occurrence is one concrete future dose.
type Occurrence struct {
	ScheduleID string    `json:"schedule_id"`
	DeviceID   string    `json:"device_id"`
	PillName   string    `json:"pillname"`
	At         time.Time `json:"at"`
}

// ComputeNextDose returns the soonest dose strictly after now across all of
// the user's schedules, or nil when the user has none. Ties go to the
// schedule listed first.
func (e *Engine) ComputeNextDose(ctx context.Context, userID string, now time.Time) (next *Occurrence, err error) {
	start := time.Now()
	defer func() { e.observe("next_dose", userID, start, err) }()

	scheds, err := e.source.ListSchedules(ctx, userID)
	if err != nil {
		return nil, err
	}

	for i := range scheds {
		at := nextOccurrence(scheds[i], now, e.loc)
		if next == nil || at.Before(next.At) {
			next = &Occurrence{
				ScheduleID: scheds[i].ID,
				DeviceID:   scheds[i].DeviceID,
				PillName:   scheds[i].PillName,
				At:         at,
			}
		}
	}
	return next, nil
}

// nextOccurrence places the schedule's wall-clock time on now's calendar
// date in loc and walks forward one calendar day at a time until the
// candidate is after now and falls on an allowed weekday.
func nextOccurrence(s store.Schedule, now time.Time, loc *time.Location) time.Time {
	hour, min, sec := store.Clock(s.DoseTime)
	mask := weekdayMask(s.RepeatDays)
	y, m, d := now.In(loc).Date()

	var candidate time.Time
	for i := 0; i <= 7; i++ {
		candidate = time.Date(y, m, d+i, hour, min, sec, 0, loc)
		if !candidate.After(now) {
			continue
		}
		if mask&(1<<uint(candidate.Weekday())) != 0 {
			return candidate
		}
	}
	return candidate
}

// weekdayMask normalizes repeat_days. Bit 0 is Sunday; anything outside
// 1..0x7E means every day.
func weekdayMask(repeatDays int) int {
	if repeatDays <= 0 || repeatDays >= everyDay {
		return everyDay
	}
	return repeatDays
}
