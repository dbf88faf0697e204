package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// instant returns ?at= when given, otherwise the current time.
func (s *Server) instant(c *fiber.Ctx) (time.Time, error) {
	raw := c.Query("at")
	if raw == "" {
		return s.now(), nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, badRequest("at must be an RFC3339 timestamp")
	}
	return at, nil
}

func (s *Server) handleAdherenceSummary(c *fiber.Ctx) error {
	now, err := s.instant(c)
	if err != nil {
		return err
	}
	sum, err := s.engine.Summary(c.UserContext(), c.Params("user_id"), now)
	if err != nil {
		return err
	}
	return c.JSON(summaryResponse{
		UserID:             sum.UserID,
		AdherenceStreak:    sum.Streak,
		NextDose:           sum.NextDose,
		WeeklyAdherence:    sum.WeeklyAdherence,
		WeeklyAdherencePct: percent(sum.WeeklyAdherence),
		ComputedAt:         now.UTC(),
	})
}

func (s *Server) handleStreak(c *fiber.Ctx) error {
	now, err := s.instant(c)
	if err != nil {
		return err
	}
	window := s.engine.StreakWindow(c.QueryInt("window_days", s.config.Adherence.StreakWindowDays))
	userID := c.Params("user_id")
	streak, err := s.engine.ComputeStreak(c.UserContext(), userID, now, window)
	if err != nil {
		return err
	}
	return c.JSON(streakResponse{UserID: userID, AdherenceStreak: streak, WindowDays: window})
}

func (s *Server) handleNextDose(c *fiber.Ctx) error {
	now, err := s.instant(c)
	if err != nil {
		return err
	}
	userID := c.Params("user_id")
	next, err := s.engine.ComputeNextDose(c.UserContext(), userID, now)
	if err != nil {
		return err
	}
	return c.JSON(nextDoseResponse{UserID: userID, NextDose: next})
}

func (s *Server) handleWeeklyAdherence(c *fiber.Ctx) error {
	now, err := s.instant(c)
	if err != nil {
		return err
	}
	userID := c.Params("user_id")
	ratio, err := s.engine.ComputeWeeklyAdherence(c.UserContext(), userID, now)
	if err != nil {
		return err
	}
	return c.JSON(weeklyResponse{UserID: userID, WeeklyAdherence: ratio, WeeklyAdherencePct: percent(ratio)})
}
