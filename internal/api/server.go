package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/pillpal/internal/adherence"
	"github.com/gmsas95/pillpal/internal/auth"
	"github.com/gmsas95/pillpal/internal/config"
	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"github.com/gmsas95/pillpal/internal/metrics"
	"github.com/gmsas95/pillpal/internal/notify"
	"github.com/gmsas95/pillpal/internal/store"
)

// Version is reported by /api/health.
var Version = "0.1.0"

// Server handles HTTP API and WebSocket
type Server struct {
	app        *fiber.App
	config     *config.Config
	store      *store.Store
	engine     *adherence.Engine
	issuer     *auth.Issuer
	dispatcher *notify.Dispatcher
	hub        *notify.Hub
	metrics    *metrics.Metrics
	limiter    *deviceLimiter
	logger     *zap.Logger
	now        func() time.Time
}

// Deps are the collaborators a Server is built from.
type Deps struct {
	Store      *store.Store
	Engine     *adherence.Engine
	Dispatcher *notify.Dispatcher
	Hub        *notify.Hub
	Metrics    *metrics.Metrics
}

// New creates a new API server
func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Hub == nil {
		deps.Hub = notify.NewHub(logger, deps.Metrics)
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = notify.NewDispatcher(logger, deps.Metrics, deps.Hub)
	}
	if deps.Engine == nil {
		deps.Engine = adherence.New(deps.Store, adherence.Options{
			Location:   cfg.Location(),
			WindowDays: cfg.Adherence.StreakWindowDays,
			Logger:     logger,
			Metrics:    deps.Metrics,
		})
	}

	s := &Server{
		config:     cfg,
		store:      deps.Store,
		engine:     deps.Engine,
		issuer:     auth.NewIssuer(cfg.Security.JWTSecret, cfg.TokenTTL()),
		dispatcher: deps.Dispatcher,
		hub:        deps.Hub,
		metrics:    deps.Metrics,
		limiter:    newDeviceLimiter(cfg.Security.DeviceRPS, cfg.Security.DeviceBurst),
		logger:     logger,
		now:        time.Now,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "pillpal",
		ReadTimeout:           time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})

	s.setupRoutes()
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address; it blocks until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Address, s.config.Server.Port)
	s.logger.Info("Starting server", zap.String("address", addr))
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// statusFor maps an error code to its HTTP status.
func statusFor(err error) int {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return fiber.StatusInternalServerError
	}
	switch appErr.Code {
	case apperrors.ErrUserNotFound.Code,
		apperrors.ErrDeviceNotFound.Code,
		apperrors.ErrScheduleNotFound.Code,
		apperrors.ErrMedlogNotFound.Code,
		apperrors.ErrNotificationNotFound.Code,
		apperrors.ErrNotFound.Code:
		return fiber.StatusNotFound
	case apperrors.ErrEmailTaken.Code, apperrors.ErrChipIDTaken.Code:
		return fiber.StatusConflict
	case apperrors.ErrInvalidDoseTime.Code,
		apperrors.ErrInvalidStatus.Code,
		apperrors.ErrBadRequest.Code,
		apperrors.ErrBadLogin.Code:
		return fiber.StatusBadRequest
	case apperrors.ErrUnauthorized.Code, apperrors.ErrInvalidDeviceKey.Code:
		return fiber.StatusUnauthorized
	case apperrors.ErrForbidden.Code:
		return fiber.StatusForbidden
	case apperrors.ErrRateLimited.Code:
		return fiber.StatusTooManyRequests
	case apperrors.ErrStorageUnavailable.Code, apperrors.ErrCircuitOpen.Code:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// errorHandler renders every error returned by a handler as
// {"error": ..., "code": ...}.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}

	if errors.Is(err, context.DeadlineExceeded) && !apperrors.IsAppError(err) {
		err = apperrors.ErrStorageUnavailable.WithCause(err)
	}

	status := statusFor(err)
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		s.logger.Error("Unhandled error",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.Status(status).JSON(fiber.Map{"error": "internal error", "code": apperrors.ErrInternal.Code})
	}

	if status >= fiber.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", c.Path()),
			zap.String("code", appErr.Code),
			zap.Error(err),
		)
	}
	return c.Status(status).JSON(fiber.Map{"error": appErr.Message, "code": appErr.Code})
}
