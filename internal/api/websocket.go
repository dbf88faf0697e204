package api

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/pillpal/internal/auth"
)

// handleWebSocket streams the caller's events until either side closes.
func (s *Server) handleWebSocket(c *websocket.Conn) {
	defer c.Close()

	claims, _ := c.Locals(localClaims).(*auth.Claims)
	if claims == nil {
		return
	}
	sub := s.hub.Subscribe(claims.Subject)
	defer sub.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := c.WriteJSON(ev); err != nil {
				s.logger.Warn("WebSocket write error", zap.Error(err))
				return
			}
		}
	}
}
