package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"github.com/gmsas95/pillpal/internal/notify"
	"github.com/gmsas95/pillpal/internal/security"
	"github.com/gmsas95/pillpal/internal/store"
)

func requireOwner(c *fiber.Ctx, ownerID string) error {
	if ownerID != callerID(c) {
		return apperrors.ErrForbidden
	}
	return nil
}

// ownedDevice loads :chip_id and checks it belongs to the caller.
func (s *Server) ownedDevice(c *fiber.Ctx) (*store.Device, error) {
	device, err := s.store.GetDeviceByChip(c.UserContext(), c.Params("chip_id"))
	if err != nil {
		return nil, err
	}
	if err := requireOwner(c, device.UserID); err != nil {
		return nil, err
	}
	return device, nil
}

// ==================== Devices (user side) ====================

func (s *Server) handleListDevices(c *fiber.Ctx) error {
	devices, err := s.store.ListDevices(c.UserContext(), callerID(c))
	if err != nil {
		return err
	}
	for i := range devices {
		devices[i].APIKey = ""
	}
	return c.JSON(devices)
}

// handleCreateDevice pairs a dispenser. The API key is only ever shown in
// this response.
func (s *Server) handleCreateDevice(c *fiber.Ctx) error {
	var req deviceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request")
	}
	req.Name = strings.TrimSpace(req.Name)
	req.ChipID = strings.TrimSpace(req.ChipID)
	if req.Name == "" || req.ChipID == "" {
		return badRequest("name and chip_id are required")
	}
	if err := security.ValidateName("name", req.Name); err != nil {
		return err
	}
	if err := security.ValidateName("chip_id", req.ChipID); err != nil {
		return err
	}

	device := &store.Device{
		UserID: callerID(c),
		Name:   req.Name,
		ChipID: req.ChipID,
	}
	if err := s.store.CreateDevice(c.UserContext(), device); err != nil {
		return err
	}

	s.logger.Info("Device paired",
		zap.String("user_id", device.UserID),
		zap.String("chip_id", device.ChipID),
	)
	return c.Status(fiber.StatusCreated).JSON(device)
}

func (s *Server) handleUpdateDevice(c *fiber.Ctx) error {
	var req deviceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request")
	}
	device, err := s.ownedDevice(c)
	if err != nil {
		return err
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		if err := security.ValidateName("name", name); err != nil {
			return err
		}
		device.Name = name
	}
	if err := s.store.UpdateDevice(c.UserContext(), device); err != nil {
		return err
	}
	device.APIKey = ""
	return c.JSON(device)
}

func (s *Server) handleDeleteDevice(c *fiber.Ctx) error {
	device, err := s.ownedDevice(c)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDevice(c.UserContext(), device.ID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ==================== Devices (dispenser side) ====================

func (s *Server) handleHeartbeat(c *fiber.Ctx) error {
	prev := currentDevice(c)
	device, err := s.store.Heartbeat(c.UserContext(), prev.ChipID, s.now())
	if err != nil {
		return err
	}
	s.metrics.RecordHeartbeat()

	if prev.Status == store.DeviceOffline {
		s.logger.Info("Device back online", zap.String("chip_id", device.ChipID))
		s.hub.Notify(c.UserContext(), notify.Event{
			Kind:     notify.KindDeviceMessage,
			UserID:   device.UserID,
			DeviceID: device.ID,
			Message:  device.Name + " is back online",
			At:       s.now().UTC(),
		})
	}

	return c.JSON(heartbeatResponse{
		ChipID:   device.ChipID,
		Status:   device.Status,
		LastSeen: *device.LastSeen,
	})
}

func (s *Server) handleDeviceSchedules(c *fiber.Ctx) error {
	scheds, err := s.store.ListSchedulesByDevice(c.UserContext(), currentDevice(c).ID)
	if err != nil {
		return err
	}
	return c.JSON(viewSchedules(scheds))
}
