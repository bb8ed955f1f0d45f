package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newInstrumentedEcho(m *HTTPMetrics) *echo.Echo {
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/schedule", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.POST("/api/reservations/:id/move", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "occupied")
	})
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/ws", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	return e
}

func serve(e *echo.Echo, method, path string) {
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(method, path, nil))
}

func TestHTTPMetrics_RecordsByRouteAndStatusClass(t *testing.T) {
	m := NewHTTPMetrics(prometheus.NewRegistry())
	e := newInstrumentedEcho(m)

	serve(e, http.MethodGet, "/api/schedule?date=2026-03-14")
	serve(e, http.MethodGet, "/api/schedule")
	serve(e, http.MethodPost, "/api/reservations/8c1f/move")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("GET", "/api/schedule", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("POST", "/api/reservations/:id/move", "4xx")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight))
}

func TestHTTPMetrics_SkipsHealthAndStream(t *testing.T) {
	m := NewHTTPMetrics(prometheus.NewRegistry())
	e := newInstrumentedEcho(m)

	serve(e, http.MethodGet, "/health/live")
	serve(e, http.MethodGet, "/ws")

	assert.Equal(t, 0, testutil.CollectAndCount(m.Requests))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "5xx", statusClass(503))
	assert.Equal(t, "unknown", statusClass(0))
}
