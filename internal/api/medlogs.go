package api

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"github.com/gmsas95/pillpal/internal/notify"
	"github.com/gmsas95/pillpal/internal/security"
	"github.com/gmsas95/pillpal/internal/store"
)

func (s *Server) handleListMedlogs(c *fiber.Ctx) error {
	logs, err := s.store.ListMedlogs(c.UserContext(), c.Params("user_id"), c.QueryInt("limit", 100))
	if err != nil {
		return err
	}
	return c.JSON(logs)
}

// handleDeviceMedlog records a dose event reported by a dispenser.
func (s *Server) handleDeviceMedlog(c *fiber.Ctx) error {
	var req medlogRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request")
	}
	status, err := store.ParseStatus(req.Status)
	if err != nil {
		return err
	}
	if err := security.ValidateName("pillname", req.PillName); err != nil {
		return err
	}

	ctx := c.UserContext()
	device := currentDevice(c)
	log := &store.Medlog{
		UserID:   device.UserID,
		DeviceID: device.ID,
		PillName: req.PillName,
		Status:   status,
		TakenAt:  req.TakenAt,
	}

	if req.ScheduleID != nil && *req.ScheduleID != "" {
		sched, err := s.store.GetSchedule(ctx, *req.ScheduleID)
		if err != nil {
			return err
		}
		if sched.DeviceID != device.ID {
			return apperrors.ErrScheduleNotFound
		}
		log.ScheduleID = &sched.ID
		if log.PillName == "" {
			log.PillName = sched.PillName
		}
	}

	if req.ScheduledTime != nil {
		log.ScheduledTime = *req.ScheduledTime
	} else {
		log.ScheduledTime = s.now()
	}
	if status == store.StatusTaken && log.TakenAt == nil {
		now := s.now()
		log.TakenAt = &now
	}

	if err := s.store.CreateMedlog(ctx, log); err != nil {
		return err
	}
	s.metrics.RecordMedlog(string(status))
	s.logger.Debug("Medlog recorded",
		zap.String("chip_id", device.ChipID),
		zap.String("status", string(status)),
	)

	s.hub.Notify(ctx, notify.Event{
		Kind:     notify.KindMedlog,
		UserID:   log.UserID,
		DeviceID: log.DeviceID,
		Message:  fmt.Sprintf("%s marked %s", log.PillName, status),
		At:       s.now().UTC(),
	})

	return c.Status(fiber.StatusCreated).JSON(log)
}

func (s *Server) handleUpdateMedlog(c *fiber.Ctx) error {
	var req medlogUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request")
	}

	ctx := c.UserContext()
	log, err := s.store.GetMedlog(ctx, c.Params("id"))
	if err != nil {
		return err
	}
	if err := requireOwner(c, log.UserID); err != nil {
		return err
	}

	if req.Status != nil {
		status, err := store.ParseStatus(*req.Status)
		if err != nil {
			return err
		}
		log.Status = status
	}
	if req.ScheduledTime != nil {
		log.ScheduledTime = *req.ScheduledTime
	}
	if req.TakenAt != nil {
		log.TakenAt = req.TakenAt
	}

	if err := s.store.UpdateMedlog(ctx, log); err != nil {
		return err
	}
	return c.JSON(log)
}

func (s *Server) handleDeleteMedlog(c *fiber.Ctx) error {
	ctx := c.UserContext()
	log, err := s.store.GetMedlog(ctx, c.Params("id"))
	if err != nil {
		return err
	}
	if err := requireOwner(c, log.UserID); err != nil {
		return err
	}
	if err := s.store.DeleteMedlog(ctx, log.ID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
