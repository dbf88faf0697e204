package api

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gmsas95/pillpal/internal/notify"
	"github.com/gmsas95/pillpal/internal/security"
	"github.com/gmsas95/pillpal/internal/store"
)

func (s *Server) handleListNotifications(c *fiber.Ctx) error {
	ns, err := s.store.ListNotifications(c.UserContext(), c.Params("user_id"), c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	return c.JSON(ns)
}

// handleDeviceNotification stores a dispenser message for its owner and
// fans it out in the background.
func (s *Server) handleDeviceNotification(c *fiber.Ctx) error {
	var req notificationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request")
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return badRequest("message is required")
	}
	if err := security.ValidateMessage("message", msg); err != nil {
		return err
	}

	device := currentDevice(c)
	n := &store.Notification{
		UserID:   device.UserID,
		DeviceID: device.ID,
		Message:  msg,
	}
	if err := s.store.CreateNotification(c.UserContext(), n); err != nil {
		return err
	}

	ev := notify.Event{
		Kind:     notify.KindDeviceMessage,
		UserID:   n.UserID,
		DeviceID: n.DeviceID,
		Message:  device.Name + ": " + n.Message,
		At:       n.CreatedAt.UTC(),
	}
	go s.dispatcher.Dispatch(context.Background(), ev)

	return c.Status(fiber.StatusCreated).JSON(n)
}

func (s *Server) handleDeleteNotification(c *fiber.Ctx) error {
	ctx := c.UserContext()
	n, err := s.store.GetNotification(ctx, c.Params("id"))
	if err != nil {
		return err
	}
	if err := requireOwner(c, n.UserID); err != nil {
		return err
	}
	if err := s.store.DeleteNotification(ctx, n.ID); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
