package httpserver

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/tablepulse/internal/adapter/metrics"
	"github.com/pscheid92/tablepulse/internal/auth"
	"github.com/pscheid92/tablepulse/internal/broadcast"
	"github.com/pscheid92/tablepulse/internal/domain"
	"github.com/pscheid92/tablepulse/internal/platform/config"
	"github.com/pscheid92/tablepulse/internal/ratelimit"
)

// --- Mock implementations ---

type mockScheduleService struct {
	getScheduleFn       func(ctx context.Context, tenantID uuid.UUID, date string) (*domain.Schedule, error)
	moveReservationFn   func(ctx context.Context, tenantID, reservationID, tableID uuid.UUID, startSlot int) (*domain.Reservation, error)
	cancelReservationFn func(ctx context.Context, tenantID, reservationID uuid.UUID) (*domain.Reservation, error)
	updateTableStatusFn func(ctx context.Context, tenantID, tableID uuid.UUID, status domain.TableStatus) (*domain.Table, error)
}

func (m *mockScheduleService) GetSchedule(ctx context.Context, tenantID uuid.UUID, date string) (*domain.Schedule, error) {
	if m.getScheduleFn != nil {
		return m.getScheduleFn(ctx, tenantID, date)
	}
	return &domain.Schedule{Date: date}, nil
}

func (m *mockScheduleService) MoveReservation(ctx context.Context, tenantID, reservationID, tableID uuid.UUID, startSlot int) (*domain.Reservation, error) {
	if m.moveReservationFn != nil {
		return m.moveReservationFn(ctx, tenantID, reservationID, tableID, startSlot)
	}
	return nil, errors.New("not implemented")
}

func (m *mockScheduleService) CancelReservation(ctx context.Context, tenantID, reservationID uuid.UUID) (*domain.Reservation, error) {
	if m.cancelReservationFn != nil {
		return m.cancelReservationFn(ctx, tenantID, reservationID)
	}
	return nil, errors.New("not implemented")
}

func (m *mockScheduleService) UpdateTableStatus(ctx context.Context, tenantID, tableID uuid.UUID, status domain.TableStatus) (*domain.Table, error) {
	if m.updateTableStatusFn != nil {
		return m.updateTableStatusFn(ctx, tenantID, tableID, status)
	}
	return nil, errors.New("not implemented")
}

// mockValidator accepts the cookie "sid=<validSID>" and rejects everything else.
type mockValidator struct {
	validateFn func(r *http.Request) (domain.Binding, error)
}

const validSID = "valid-session"

var testBinding = domain.Binding{
	UserID:   uuid.MustParse("00000000-0000-0000-0000-000000000001"),
	TenantID: uuid.MustParse("00000000-0000-0000-0000-0000000000a0"),
	Role:     domain.RoleStaff,
}

func (m *mockValidator) ValidateRequest(r *http.Request) (domain.Binding, error) {
	if m.validateFn != nil {
		return m.validateFn(r)
	}
	if c, err := r.Cookie("sid"); err == nil && c.Value == validSID {
		return testBinding, nil
	}
	return domain.Binding{}, &auth.Rejection{Reason: auth.ReasonNoSession}
}

type mockRegistry struct {
	broadcastGlobalFn func(ev domain.Event, reason string) int
}

func (m *mockRegistry) Register(*broadcast.Conn) error { return nil }
func (m *mockRegistry) Unregister(*broadcast.Conn)     {}

func (m *mockRegistry) BroadcastGlobal(ev domain.Event, reason string) int {
	if m.broadcastGlobalFn != nil {
		return m.broadcastGlobalFn(ev, reason)
	}
	return 0
}

// --- Test helpers ---

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:       "development",
		Port:         "0",
		AppURL:       "http://localhost:8080",
		APIRateLimit: 1000,
		APIRateBurst: 1000,
	}
}

func newTestServer(t *testing.T, schedule scheduleService, opts ...func(*config.Config, *Deps)) *Server {
	t.Helper()

	cfg := testConfig()
	deps := Deps{
		Schedule:      schedule,
		Validator:     &mockValidator{},
		Registry:      &mockRegistry{},
		Limiter:       ratelimit.New(ratelimit.DefaultLimit, ratelimit.DefaultWindow, clockwork.NewRealClock()),
		StreamMetrics: metrics.NewStreamMetrics(prometheus.NewRegistry()),
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}
	return NewServer(cfg, deps)
}

func withHealthChecks(checks ...HealthCheck) func(*config.Config, *Deps) {
	return func(_ *config.Config, d *Deps) {
		d.HealthChecks = checks
	}
}

func withRegistry(r connectionRegistry) func(*config.Config, *Deps) {
	return func(_ *config.Config, d *Deps) {
		d.Registry = r
	}
}

func withLimiter(l messageLimiter) func(*config.Config, *Deps) {
	return func(_ *config.Config, d *Deps) {
		d.Limiter = l
	}
}

func withClock(clock clockwork.Clock) func(*config.Config, *Deps) {
	return func(_ *config.Config, d *Deps) {
		d.Clock = clock
	}
}

func withAdminToken(token string) func(*config.Config, *Deps) {
	return func(cfg *config.Config, _ *Deps) {
		cfg.AdminToken = token
	}
}

// callHandler wraps a handler with error middleware, matching production behavior
func callHandler(handler echo.HandlerFunc, c echo.Context) error {
	return ErrorHandlingMiddleware()(handler)(c)
}

func sessionCookie() *http.Cookie {
	return &http.Cookie{Name: "sid", Value: validSID}
}
