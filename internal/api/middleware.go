package api

import (
	"context"
	"crypto/subtle"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gmsas95/pillpal/internal/auth"
	apperrors "github.com/gmsas95/pillpal/internal/errors"
	"github.com/gmsas95/pillpal/internal/store"
)

const (
	localClaims = "claims"
	localDevice = "device"
)

// requestLogger writes one zap line per request and records metrics.
func (s *Server) requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if err != nil {
			if herr := s.app.ErrorHandler(c, err); herr != nil {
				c.Status(fiber.StatusInternalServerError)
			}
		}
		latency := time.Since(start)
		status := c.Response().StatusCode()

		s.metrics.RecordRequest(c.Method(), c.Route().Path, status, latency)
		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("ip", c.IP()),
		}
		if err != nil {
			fields = append(fields, zap.String("code", apperrors.GetCode(err)))
		}
		s.logger.Debug("HTTP request", fields...)
		return nil
	}
}

// requestContext gives handlers a context that ends with the request, so
// abandoned requests stop their storage queries.
func (s *Server) requestContext() fiber.Handler {
	timeout := time.Duration(s.config.Server.RequestTimeout) * time.Second
	return func(c *fiber.Ctx) error {
		var (
			ctx    context.Context
			cancel context.CancelFunc
		)
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(c.UserContext(), timeout)
		} else {
			ctx, cancel = context.WithCancel(c.UserContext())
		}
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func (s *Server) authMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return apperrors.ErrUnauthorized.WithCause(errMissingAuth)
		}
		claims, err := s.verifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			return err
		}
		c.Locals(localClaims, claims)
		return c.Next()
	}
}

func (s *Server) verifyToken(token string) (*auth.Claims, error) {
	claims, err := s.issuer.Parse(token)
	if err != nil {
		return nil, err
	}
	revoked, err := s.store.IsTokenRevoked(claims.ID)
	if err != nil {
		return nil, apperrors.ErrStorageUnavailable.WithCause(err)
	}
	if revoked {
		return nil, apperrors.ErrUnauthorized.WithCause(errRevoked)
	}
	return claims, nil
}

// requireSelf rejects requests for a :user_id other than the caller's.
func (s *Server) requireSelf() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Params("user_id") != callerID(c) {
			return apperrors.ErrForbidden
		}
		return c.Next()
	}
}

func callerClaims(c *fiber.Ctx) *auth.Claims {
	claims, _ := c.Locals(localClaims).(*auth.Claims)
	return claims
}

func callerID(c *fiber.Ctx) string {
	if claims := callerClaims(c); claims != nil {
		return claims.Subject
	}
	return ""
}

// deviceMiddleware authenticates a dispenser by chip id and X-API-Key.
func (s *Server) deviceMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get("X-API-Key")
		if key == "" {
			return apperrors.ErrInvalidDeviceKey
		}
		device, err := s.store.GetDeviceByChip(c.UserContext(), c.Params("chip_id"))
		if err != nil {
			return err
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(device.APIKey)) != 1 {
			return apperrors.ErrInvalidDeviceKey
		}
		c.Locals(localDevice, device)
		return c.Next()
	}
}

func currentDevice(c *fiber.Ctx) *store.Device {
	device, _ := c.Locals(localDevice).(*store.Device)
	return device
}

// deviceLimiter keeps one token bucket per chip id.
type deviceLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newDeviceLimiter(rps float64, burst int) *deviceLimiter {
	if rps <= 0 {
		rps = 2
	}
	if burst <= 0 {
		burst = 10
	}
	return &deviceLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (d *deviceLimiter) allow(chipID string) bool {
	d.mu.Lock()
	l, ok := d.limiters[chipID]
	if !ok {
		l = rate.NewLimiter(d.rps, d.burst)
		d.limiters[chipID] = l
	}
	d.mu.Unlock()
	return l.Allow()
}

func (s *Server) deviceRateLimit() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !s.limiter.allow(c.Params("chip_id")) {
			return apperrors.ErrRateLimited
		}
		return c.Next()
	}
}

// websocketUpgrade authenticates the feed before the protocol switch.
func (s *Server) websocketUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		}
		claims, err := s.verifyToken(token)
		if err != nil {
			return err
		}
		c.Locals(localClaims, claims)
		return c.Next()
	}
}
