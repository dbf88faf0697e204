package api

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/pillpal/internal/auth"
	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"github.com/gmsas95/pillpal/internal/security"
	"github.com/gmsas95/pillpal/internal/store"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	status, code := "healthy", fiber.StatusOK
	if err := s.store.Ping(c.UserContext()); err != nil {
		s.logger.Warn("Health check failed", zap.Error(err))
		status, code = "degraded", fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"version":   Version,
		"timestamp": time.Now().Unix(),
	})
}

func badRequest(msg string) error {
	return apperrors.ErrBadRequest.WithCause(errors.New(msg))
}

// ==================== Auth ====================

func (s *Server) handleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request")
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || !strings.Contains(req.Email, "@") {
		return badRequest("name and a valid email are required")
	}
	if err := security.ValidateName("name", req.Name); err != nil {
		return err
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		return err
	}
	switch req.Role {
	case "":
		req.Role = "patient"
	case "patient", "caregiver":
	default:
		return badRequest("role must be patient or caregiver")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return err
	}
	user := &store.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
	}
	if err := s.store.CreateUser(c.UserContext(), user); err != nil {
		return err
	}

	s.logger.Info("User registered", zap.String("user_id", user.ID))
	return c.Status(fiber.StatusCreated).JSON(user)
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request")
	}
	email := req.Email
	if email == "" {
		email = req.Username
	}
	if email == "" || req.Password == "" {
		return apperrors.ErrBadLogin
	}

	user, err := s.store.GetUserByEmail(c.UserContext(), email)
	if errors.Is(err, apperrors.ErrUserNotFound) {
		return apperrors.ErrBadLogin
	}
	if err != nil {
		return err
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		return apperrors.ErrBadLogin
	}

	token, claims, err := s.issuer.Issue(user.ID, user.Role)
	if err != nil {
		return err
	}
	return c.JSON(tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(claims.Remaining(s.now()).Seconds()),
	})
}

func (s *Server) handleLogout(c *fiber.Ctx) error {
	claims := callerClaims(c)
	if err := s.store.RevokeToken(claims.ID, claims.Remaining(s.now())); err != nil {
		return apperrors.ErrStorageUnavailable.WithCause(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ==================== Users ====================

func (s *Server) handleGetUser(c *fiber.Ctx) error {
	user, err := s.store.GetUser(c.UserContext(), c.Params("user_id"))
	if err != nil {
		return err
	}
	return c.JSON(user)
}

func (s *Server) handleUpdateUser(c *fiber.Ctx) error {
	var req updateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("invalid request")
	}

	ctx := c.UserContext()
	user, err := s.store.GetUser(ctx, c.Params("user_id"))
	if err != nil {
		return err
	}
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return badRequest("name cannot be empty")
		}
		user.Name = strings.TrimSpace(*req.Name)
		if err := security.ValidateName("name", user.Name); err != nil {
			return err
		}
	}
	if req.Email != nil {
		if !strings.Contains(*req.Email, "@") {
			return badRequest("invalid email")
		}
		user.Email = *req.Email
	}
	if req.Password != nil {
		if err := auth.ValidatePassword(*req.Password); err != nil {
			return err
		}
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			return err
		}
		user.PasswordHash = hash
	}
	if req.TelegramChatID != nil {
		user.TelegramChatID = *req.TelegramChatID
	}
	if req.DiscordChannelID != nil {
		id := strings.TrimSpace(*req.DiscordChannelID)
		if id != "" && !isSnowflake(id) {
			return badRequest("discord_channel_id must be a numeric channel id")
		}
		user.DiscordChannelID = id
	}

	if err := s.store.UpdateUser(ctx, user); err != nil {
		return err
	}
	return c.JSON(user)
}

// isSnowflake reports whether id looks like a Discord id.
func isSnowflake(id string) bool {
	_, err := strconv.ParseUint(id, 10, 64)
	return err == nil
}

func (s *Server) handleDeleteUser(c *fiber.Ctx) error {
	if err := s.store.DeleteUser(c.UserContext(), c.Params("user_id")); err != nil {
		return err
	}
	claims := callerClaims(c)
	if err := s.store.RevokeToken(claims.ID, claims.Remaining(s.now())); err != nil {
		s.logger.Warn("Failed to revoke token of deleted user", zap.Error(err))
	}
	return c.SendStatus(fiber.StatusNoContent)
}
