package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/tablepulse/internal/auth"
	"github.com/pscheid92/tablepulse/internal/broadcast"
	"github.com/pscheid92/tablepulse/internal/domain"
)

const (
	maxMessageSize   = 4096
	closeWriteWait   = time.Second
	authFailedReason = "authentication failed"
	rateLimitMessage = "rate limit exceeded"
)

// handleStream upgrades, validates the session cookie, registers the
// connection with its tenant and reads until the socket fails.
func (s *Server) handleStream(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		slog.DebugContext(c.Request().Context(), "Stream upgrade failed", "error", err)
		return nil
	}

	binding, err := s.validator.ValidateRequest(c.Request())
	if err != nil {
		reason := auth.ReasonOf(err)
		slog.WarnContext(c.Request().Context(), "Stream authentication failed",
			"reason", reason, "error", err, "remote_addr", c.RealIP())
		if s.streamMetrics != nil {
			s.streamMetrics.AuthFailures.WithLabelValues(string(reason)).Inc()
		}
		closeWithCode(ws, domain.CloseAuthenticationFailed, authFailedReason)
		return nil
	}

	conn := broadcast.NewConn(ws, broadcast.Identity{TenantID: binding.TenantID, UserID: binding.UserID}, s.clock)
	ws.SetPongHandler(func(string) error {
		conn.Touch()
		return nil
	})

	if err := s.registry.Register(conn); err != nil {
		code := websocket.CloseInternalServerErr
		reason := "internal error"
		if errors.Is(err, broadcast.ErrTenantFull) {
			code = websocket.CloseTryAgainLater
			reason = "tenant connection limit reached"
		}
		slog.Warn("Stream registration failed", "tenant_id", binding.TenantID, "user_id", binding.UserID, "error", err)
		conn.Close(code, reason)
		return nil
	}
	defer func() {
		s.registry.Unregister(conn)
		s.limiter.Forget(conn.ID)
	}()

	slog.Info("Stream connected", "tenant_id", conn.TenantID, "user_id", conn.UserID, "connection_id", conn.ID)
	s.sendEvent(conn, domain.EventConnectionEstablished, domain.ConnectionEstablishedPayload{
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
	})

	s.readLoop(ws, conn)
	slog.Info("Stream disconnected", "tenant_id", conn.TenantID, "connection_id", conn.ID)
	return nil
}

func (s *Server) readLoop(ws *websocket.Conn, conn *broadcast.Conn) {
	ws.SetReadLimit(maxMessageSize)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				slog.Debug("Stream read failed", "connection_id", conn.ID, "error", err)
			}
			return
		}
		s.handleMessage(conn, data)
	}
}

// handleMessage processes one client frame. Only PING has an effect; domain
// events flow server to client only.
func (s *Server) handleMessage(conn *broadcast.Conn, data []byte) {
	if !s.limiter.Allow(conn.ID) {
		s.countInbound("rate_limited")
		s.sendEvent(conn, domain.EventError, domain.ErrorPayload{Message: rateLimitMessage})
		return
	}

	ev, err := domain.DecodeEvent(data)
	if err != nil {
		slog.Warn("Dropping malformed stream message", "connection_id", conn.ID, "error", err)
		s.countInbound("malformed")
		return
	}

	switch ev.Type {
	case domain.EventPing:
		conn.Touch()
		s.sendEvent(conn, domain.EventPong, nil)
		s.countInbound("ping")
	default:
		slog.Debug("Ignoring client message", "connection_id", conn.ID, "type", ev.Type)
		s.countInbound("ignored")
	}
}

func (s *Server) sendEvent(conn *broadcast.Conn, eventType domain.EventType, payload any) {
	ev, err := domain.NewEvent(eventType, payload)
	if err != nil {
		slog.Error("Failed to build stream event", "type", eventType, "error", err)
		return
	}
	data, err := json.Marshal(ev.Stamped(conn.TenantID, s.clock.Now()))
	if err != nil {
		slog.Error("Failed to marshal stream event", "type", eventType, "error", err)
		return
	}
	if !conn.Send(data) {
		slog.Debug("Stream event not queued", "connection_id", conn.ID, "type", eventType)
	}
}

func (s *Server) countInbound(result string) {
	if s.streamMetrics != nil {
		s.streamMetrics.InboundMessages.WithLabelValues(result).Inc()
	}
}

// closeWithCode writes a close frame on a socket that has no writer
// goroutine yet, then closes it.
func closeWithCode(ws *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(closeWriteWait)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = ws.Close()
}
