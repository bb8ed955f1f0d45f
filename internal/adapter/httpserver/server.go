package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/tablepulse/internal/adapter/metrics"
	"github.com/pscheid92/tablepulse/internal/broadcast"
	"github.com/pscheid92/tablepulse/internal/domain"
	"github.com/pscheid92/tablepulse/internal/platform/config"
)

type scheduleService interface {
	GetSchedule(ctx context.Context, tenantID uuid.UUID, date string) (*domain.Schedule, error)
	MoveReservation(ctx context.Context, tenantID, reservationID, tableID uuid.UUID, startSlot int) (*domain.Reservation, error)
	CancelReservation(ctx context.Context, tenantID, reservationID uuid.UUID) (*domain.Reservation, error)
	UpdateTableStatus(ctx context.Context, tenantID, tableID uuid.UUID, status domain.TableStatus) (*domain.Table, error)
}

type sessionValidator interface {
	ValidateRequest(r *http.Request) (domain.Binding, error)
}

type connectionRegistry interface {
	Register(conn *broadcast.Conn) error
	Unregister(conn *broadcast.Conn)
	BroadcastGlobal(ev domain.Event, reason string) int
}

type messageLimiter interface {
	Allow(id uuid.UUID) bool
	Forget(id uuid.UUID)
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Schedule       scheduleService
	Validator      sessionValidator
	Registry       connectionRegistry
	Limiter        messageLimiter
	Clock          clockwork.Clock
	StreamMetrics  *metrics.StreamMetrics
	HTTPMetrics    *metrics.HTTPMetrics
	MetricsHandler http.Handler
	HealthChecks   []HealthCheck
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	schedule  scheduleService
	validator sessionValidator
	registry  connectionRegistry
	limiter   messageLimiter
	upgrader  websocket.Upgrader
	clock     clockwork.Clock

	streamMetrics  *metrics.StreamMetrics
	httpMetrics    *metrics.HTTPMetrics
	metricsHandler http.Handler
	healthChecks   []HealthCheck
	startTime      time.Time
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:      e,
		config:    cfg,
		schedule:  deps.Schedule,
		validator: deps.Validator,
		registry:  deps.Registry,
		limiter:   deps.Limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     newCheckOrigin(cfg.AppURL, !cfg.IsProduction()),
		},
		clock:          clock,
		streamMetrics:  deps.StreamMetrics,
		httpMetrics:    deps.HTTPMetrics,
		metricsHandler: deps.MetricsHandler,
		healthChecks:   deps.HealthChecks,
		startTime:      clock.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP exposes the router for tests and embedding.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
