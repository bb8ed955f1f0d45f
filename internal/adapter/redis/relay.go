package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/tablepulse/internal/adapter/metrics"
	"github.com/pscheid92/tablepulse/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

const (
	eventsChannel = "tablepulse:events"
	backendLabel  = "redis"
)

// envelope is the Pub/Sub payload. The tenant travels outside the event so
// receivers never trust a client-supplied tenantId.
type envelope struct {
	TenantID uuid.UUID    `json:"tenantId"`
	Event    domain.Event `json:"event"`
}

// Relay fans tenant events out to every server instance over one Redis
// Pub/Sub channel. Publishes run behind a circuit breaker; while Redis is
// unavailable events are delivered to this instance's connections only.
type Relay struct {
	rdb     *goredis.Client
	cb      *gobreaker.CircuitBreaker
	metrics *metrics.RelayMetrics

	mu    sync.RWMutex
	local domain.TenantDispatcher
}

var _ domain.EventRelay = (*Relay)(nil)

func NewRelay(rdb *goredis.Client, m *metrics.RelayMetrics) *Relay {
	return newRelay(rdb, m, 30*time.Second)
}

func newRelay(rdb *goredis.Client, m *metrics.RelayMetrics, openTimeout time.Duration) *Relay {
	r := &Relay{rdb: rdb, metrics: m}
	r.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-relay",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
			if r.metrics != nil {
				r.metrics.BreakerState.Set(float64(to))
			}
		},
	})
	return r
}

func (r *Relay) Publish(ctx context.Context, tenantID uuid.UUID, ev domain.Event) error {
	data, err := json.Marshal(envelope{TenantID: tenantID, Event: ev})
	if err != nil {
		return fmt.Errorf("failed to marshal relay envelope: %w", err)
	}

	_, err = r.cb.Execute(func() (any, error) {
		return nil, r.rdb.Publish(ctx, eventsChannel, data).Err()
	})
	if err == nil {
		r.count("published", "ok")
		return nil
	}

	local := r.dispatcher()
	if local == nil {
		r.count("published", "error")
		return fmt.Errorf("failed to publish event: %w", err)
	}

	slog.Warn("Relay publish failed, delivering locally", "tenant_id", tenantID, "type", ev.Type, "error", err)
	local.BroadcastToTenant(tenantID, ev)
	r.count("published", "fallback")
	return nil
}

// Run subscribes to the events channel and hands every message to
// dispatcher until ctx ends.
func (r *Relay) Run(ctx context.Context, dispatcher domain.TenantDispatcher) error {
	sub := r.rdb.Subscribe(ctx, eventsChannel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eventsChannel, err)
	}

	r.attach(dispatcher)
	defer r.attach(nil)

	slog.Info("Relay subscribed", "backend", backendLabel, "channel", eventsChannel)

	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(dispatcher, msg.Payload)
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Relay) deliver(dispatcher domain.TenantDispatcher, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil || env.TenantID == uuid.Nil {
		slog.Warn("Dropping malformed relay message", "backend", backendLabel, "error", err)
		r.count("received", "malformed")
		return
	}
	dispatcher.BroadcastToTenant(env.TenantID, env.Event)
	r.count("received", "ok")
}

func (r *Relay) attach(dispatcher domain.TenantDispatcher) {
	r.mu.Lock()
	r.local = dispatcher
	r.mu.Unlock()
}

func (r *Relay) dispatcher() domain.TenantDispatcher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.local
}

func (r *Relay) count(direction, result string) {
	if r.metrics == nil {
		return
	}
	if direction == "published" {
		r.metrics.Published.WithLabelValues(backendLabel, result).Inc()
		return
	}
	r.metrics.Received.WithLabelValues(backendLabel, result).Inc()
}
