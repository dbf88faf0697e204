package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gmsas95/pillpal/internal/security"
	"github.com/gmsas95/pillpal/internal/store"
)

func (s *Server) handleListSchedules(c *fiber.Ctx) error {
	scheds, err := s.store.ListSchedules(c.UserContext(), c.Params("user_id"))
	if err != nil {
		return err
	}
	return c.JSON(viewSchedules(scheds))
}

func (s *Server) handleCreateSchedule(c *fiber.Ctx) error {
	var req scheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request")
	}
	if req.DeviceID == nil || req.PillName == nil || req.DoseTime == nil || strings.TrimSpace(*req.PillName) == "" {
		return badRequest("device_id, pillname and dose_time are required")
	}
	if err := security.ValidateName("pillname", strings.TrimSpace(*req.PillName)); err != nil {
		return err
	}

	dose, err := store.ParseDoseTime(*req.DoseTime)
	if err != nil {
		return err
	}
	sched := &store.Schedule{
		UserID:   c.Params("user_id"),
		DeviceID: *req.DeviceID,
		PillName: strings.TrimSpace(*req.PillName),
		DoseTime: dose,
	}
	if req.RepeatDays != nil {
		sched.RepeatDays = *req.RepeatDays
	}

	if err := s.store.CreateSchedule(c.UserContext(), sched); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(viewSchedule(*sched))
}

func (s *Server) handleUpdateSchedule(c *fiber.Ctx) error {
	var req scheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request")
	}

	ctx := c.UserContext()
	sched, err := s.store.GetSchedule(ctx, c.Params("id"))
	if err != nil {
		return err
	}
	if err := requireOwner(c, sched.UserID); err != nil {
		return err
	}

	if req.DeviceID != nil {
		sched.DeviceID = *req.DeviceID
	}
	if req.PillName != nil {
		if strings.TrimSpace(*req.PillName) == "" {
			return badRequest("pillname cannot be empty")
		}
		sched.PillName = strings.TrimSpace(*req.PillName)
		if err := security.ValidateName("pillname", sched.PillName); err != nil {
			return err
		}
	}
	if req.DoseTime != nil {
		dose, err := store.ParseDoseTime(*req.DoseTime)
		if err != nil {
			return err
		}
		sched.DoseTime = dose
	}
	if req.RepeatDays != nil {
		sched.RepeatDays = *req.RepeatDays
	}

	if err := s.store.UpdateSchedule(ctx, sched); err != nil {
		return err
	}
	return c.JSON(viewSchedule(*sched))
}

func (s *Server) handleDeleteSchedule(c *fiber.Ctx) error {
	ctx := c.UserContext()
	sched, err := s.store.GetSchedule(ctx, c.Params("id"))
	if err != nil {
		return err
	}
	if err := requireOwner(c, sched.UserID); err != nil {
		return err
	}
	if err := s.store.DeleteSchedule(ctx, sched.ID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
