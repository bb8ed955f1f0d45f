package httpserver

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/tablepulse/internal/domain"
	apperrors "github.com/pscheid92/tablepulse/internal/platform/errors"
)

type globalBroadcastRequest struct {
	Reason  string           `json:"reason"`
	Type    domain.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

// registerAdminRoutes mounts the global broadcast escape hatch. Without an
// admin token the route does not exist.
func (s *Server) registerAdminRoutes() {
	if s.config.AdminToken == "" {
		return
	}

	token := []byte(s.config.AdminToken)
	keyAuth := middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup:  "header:" + echo.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), token) == 1, nil
		},
	})

	s.echo.POST("/internal/broadcast", s.handleGlobalBroadcast, keyAuth)
}

func (s *Server) handleGlobalBroadcast(c echo.Context) error {
	var req globalBroadcastRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.Reason == "" {
		return apperrors.ValidationError("reason is required")
	}
	if !req.Type.Known() {
		return apperrors.ValidationError("unknown event type").WithField("type", string(req.Type))
	}
	if req.Type.IsDomain() {
		return apperrors.ValidationError("domain events are tenant scoped").WithField("type", string(req.Type))
	}

	slog.WarnContext(c.Request().Context(), "Global broadcast requested", "reason", req.Reason, "type", req.Type, "remote_addr", c.RealIP())
	delivered := s.registry.BroadcastGlobal(domain.Event{Type: req.Type, Payload: req.Payload}, req.Reason)
	return writeJSON(c, http.StatusOK, map[string]int{"delivered": delivered})
}
