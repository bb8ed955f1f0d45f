package metrics

import "github.com/prometheus/client_golang/prometheus"

// StreamMetrics holds Prometheus metrics for the tenant stream registry.
type StreamMetrics struct {
	ActiveConnections   prometheus.Gauge
	ActiveTenants       prometheus.Gauge
	TenantConnections   *prometheus.GaugeVec
	MessagesDelivered   prometheus.Counter
	Broadcasts          *prometheus.CounterVec
	Evictions           *prometheus.CounterVec
	AuthFailures        *prometheus.CounterVec
	InboundMessages     *prometheus.CounterVec
	CommandChannelDepth prometheus.Gauge
	RegistryPanics      prometheus.Counter
	StopTimeouts        prometheus.Counter
}

// NewStreamMetrics creates and registers stream metrics on the given registry.
func NewStreamMetrics(reg prometheus.Registerer) *StreamMetrics {
	m := &StreamMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active_connections",
			Help:      "Number of registered stream connections.",
		}),
		ActiveTenants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active_tenants",
			Help:      "Number of tenants with at least one local connection.",
		}),
		TenantConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "tenant_connections",
			Help:      "Registered stream connections per tenant.",
		}, []string{"tenant_id"}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_delivered_total",
			Help:      "Total number of event frames handed to connection writers.",
		}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "broadcasts_total",
			Help:      "Total number of broadcasts, by scope (tenant or global).",
		}, []string{"scope"}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "evictions_total",
			Help:      "Total number of connections removed by the registry or heartbeat, by reason.",
		}, []string{"reason"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "auth_failures_total",
			Help:      "Total number of rejected stream handshakes, by reason.",
		}, []string{"reason"}),
		InboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "inbound_messages_total",
			Help:      "Total number of client messages, by result.",
		}, []string{"result"}),
		CommandChannelDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "command_channel_depth",
			Help:      "Pending commands in the registry actor channel.",
		}),
		RegistryPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "registry_panics_total",
			Help:      "Total number of panics recovered in the registry actor.",
		}),
		StopTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "stop_timeouts_total",
			Help:      "Total number of registry shutdowns that exceeded the stop timeout.",
		}),
	}

	reg.MustRegister(
		m.ActiveConnections, m.ActiveTenants, m.TenantConnections, m.MessagesDelivered,
		m.Broadcasts, m.Evictions, m.AuthFailures, m.InboundMessages,
		m.CommandChannelDepth, m.RegistryPanics, m.StopTimeouts,
	)
	return m
}
