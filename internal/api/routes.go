package api

import (
	"strings"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
)

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	s.app.Use(s.requestLogger())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(s.config.Security.AllowOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	api := s.app.Group("/api", s.requestContext())
	api.Get("/health", s.handleHealth)

	// Public
	api.Post("/register", s.handleRegister)
	api.Post("/login", s.handleLogin)

	// Dispensers authenticate with X-API-Key
	device := api.Group("/device/:chip_id", s.deviceMiddleware(), s.deviceRateLimit())
	device.Post("/heartbeat", s.handleHeartbeat)
	device.Get("/schedules", s.handleDeviceSchedules)
	device.Post("/medlogs", s.handleDeviceMedlog)
	device.Post("/notifications", s.handleDeviceNotification)

	// Users authenticate with a bearer token
	protected := api.Group("", s.authMiddleware())
	protected.Post("/logout", s.handleLogout)

	users := protected.Group("/users/:user_id", s.requireSelf())
	users.Get("", s.handleGetUser)
	users.Put("", s.handleUpdateUser)
	users.Delete("", s.handleDeleteUser)
	users.Get("/schedules", s.handleListSchedules)
	users.Post("/schedules", s.handleCreateSchedule)
	users.Get("/medlogs", s.handleListMedlogs)
	users.Get("/notifications", s.handleListNotifications)
	users.Get("/adherence-summary", s.handleAdherenceSummary)
	users.Get("/streak", s.handleStreak)
	users.Get("/next-dose", s.handleNextDose)
	users.Get("/weekly-adherence", s.handleWeeklyAdherence)

	protected.Get("/devices", s.handleListDevices)
	protected.Post("/devices", s.handleCreateDevice)
	protected.Put("/devices/:chip_id", s.handleUpdateDevice)
	protected.Delete("/devices/:chip_id", s.handleDeleteDevice)

	protected.Put("/schedules/:id", s.handleUpdateSchedule)
	protected.Delete("/schedules/:id", s.handleDeleteSchedule)

	protected.Put("/medlogs/:id", s.handleUpdateMedlog)
	protected.Delete("/medlogs/:id", s.handleDeleteMedlog)

	protected.Delete("/notifications/:id", s.handleDeleteNotification)

	// Live event feed; browsers pass the token as ?token=
	s.app.Use("/ws", s.websocketUpgrade())
	s.app.Get("/ws", websocket.New(s.handleWebSocket))
}
