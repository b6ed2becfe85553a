package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/citysense/citysense/internal/domain"
	"github.com/citysense/citysense/internal/metrics"
	"github.com/citysense/citysense/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Dashboards are served from other origins; auth is the token
	},
}

const maxInboundMessageSize = 64 * 1024

// handleWebSocket authenticates the handshake token, upgrades the
// connection, registers it, and runs the inbound read pump. The pump exits
// on decode failure, transport close or disconnect; every exit path
// unregisters the connection.
func (s *Server) handleWebSocket(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return c.String(http.StatusUnauthorized, "missing token")
	}

	identity, err := s.identity.Resolve(c.Request().Context(), token)
	if errors.Is(err, domain.ErrIdentityNotFound) {
		return c.String(http.StatusUnauthorized, "invalid token")
	}
	if err != nil {
		slog.Error("Identity resolution failed", "error", err)
		return c.String(http.StatusInternalServerError, "internal error")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "error", err)
		return nil
	}
	conn.SetReadLimit(maxInboundMessageSize)

	client := realtime.NewClient(conn, identity.UserID, identity.Role, s.clock)
	if err := s.registry.Register(client); err != nil {
		slog.Error("Failed to register connection", "error", err)
		client.Close()
		return nil
	}

	slog.Info("Client connected",
		"connection_id", client.ID(), "user_id", identity.UserID, "role", identity.Role)

	s.broadcaster.SendPersonal(
		realtime.NewConnectionStatus(s.clock.Now(), identity.UserID, identity.Role), client)

	s.readPump(c, client, conn)

	if s.registry.Unregister(client) {
		client.Close()
	}
	slog.Info("Client disconnected",
		"connection_id", client.ID(), "user_id", identity.UserID, "role", identity.Role)
	return nil
}

// readPump reads inbound frames until the connection dies. A per-connection
// limiter bounds message rate; over-limit messages are answered with an
// error and dropped without closing the connection.
func (s *Server) readPump(c echo.Context, client *realtime.Client, conn *websocket.Conn) {
	limiter := rate.NewLimiter(rate.Limit(s.config.WSMessageRate), s.config.WSMessageBurst)
	ctx := c.Request().Context()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !limiter.Allow() {
			metrics.RateLimitedMessagesTotal.Inc()
			s.broadcaster.SendPersonal(
				realtime.NewErrorEvent(s.clock.Now(), "rate limit exceeded"), client)
			continue
		}
		s.dispatcher.Dispatch(ctx, client, raw)
	}
}
