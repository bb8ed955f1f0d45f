package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/tablepulse/internal/adapter/metrics"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 60 * time.Second
)

// Supervisor probes every registered connection on a fixed interval and
// terminates those whose last liveness response is older than the timeout.
// It never unregisters directly: the terminated socket fails the connection's
// read loop, which performs the registry cleanup.
type Supervisor struct {
	registry *Registry
	clock    clockwork.Clock
	interval time.Duration
	timeout  time.Duration
	metrics  *metrics.StreamMetrics
}

func NewSupervisor(registry *Registry, clock clockwork.Clock, interval, timeout time.Duration, m *metrics.StreamMetrics) *Supervisor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return &Supervisor{registry: registry, clock: clock, interval: interval, timeout: timeout, metrics: m}
}

// Run sweeps on every tick until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Sweep()
		}
	}
}

// Sweep runs one probe pass and returns how many connections it terminated.
func (s *Supervisor) Sweep() int {
	terminated := 0
	for _, conn := range s.registry.Snapshot() {
		if !conn.IsOpen() {
			continue
		}

		silent := s.clock.Since(conn.LastHeartbeat())
		if silent > s.timeout {
			slog.Info("Terminating silent connection", "tenant_id", conn.TenantID, "connection_id", conn.ID, "silent_for", silent)
			conn.Terminate()
			terminated++
			if s.metrics != nil {
				s.metrics.Evictions.WithLabelValues("heartbeat").Inc()
			}
			continue
		}
		conn.Ping()
	}
	return terminated
}
