// Package nats relays tenant events between server instances over NATS core
// subjects, one subject per tenant.
package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	natsio "github.com/nats-io/nats.go"
	"github.com/pscheid92/tablepulse/internal/adapter/metrics"
	"github.com/pscheid92/tablepulse/internal/domain"
)

const (
	subjectPrefix = "tablepulse.events."
	backendLabel  = "nats"
	inboxSize     = 1024
)

// Connect dials url with unlimited reconnects; the relay keeps its
// subscription across server restarts.
func Connect(url string) (*natsio.Conn, error) {
	nc, err := natsio.Connect(url,
		natsio.Name("tablepulse"),
		natsio.Timeout(5*time.Second),
		natsio.MaxReconnects(-1),
		natsio.ReconnectWait(time.Second),
		natsio.DisconnectErrHandler(func(_ *natsio.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		natsio.ReconnectHandler(func(nc *natsio.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// Subject returns the subject events of tenantID are published on.
func Subject(tenantID uuid.UUID) string {
	return subjectPrefix + tenantID.String()
}

// Relay publishes each tenant's events on its own subject and subscribes to
// the wildcard covering all of them.
type Relay struct {
	nc      *natsio.Conn
	metrics *metrics.RelayMetrics
}

var _ domain.EventRelay = (*Relay)(nil)

func NewRelay(nc *natsio.Conn, m *metrics.RelayMetrics) *Relay {
	return &Relay{nc: nc, metrics: m}
}

func (r *Relay) Publish(_ context.Context, tenantID uuid.UUID, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.nc.Publish(Subject(tenantID), data); err != nil {
		r.count("published", "error")
		return fmt.Errorf("failed to publish event: %w", err)
	}
	r.count("published", "ok")
	return nil
}

// Run subscribes to every tenant subject and hands messages to dispatcher
// until ctx ends.
func (r *Relay) Run(ctx context.Context, dispatcher domain.TenantDispatcher) error {
	inbox := make(chan *natsio.Msg, inboxSize)
	sub, err := r.nc.ChanSubscribe(subjectPrefix+"*", inbox)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, natsio.ErrConnectionClosed) {
			slog.Warn("Failed to unsubscribe relay", "error", err)
		}
	}()

	if err := r.nc.Flush(); err != nil {
		return fmt.Errorf("failed to flush subscription: %w", err)
	}
	slog.Info("Relay subscribed", "backend", backendLabel, "subject", sub.Subject)

	for {
		select {
		case msg := <-inbox:
			r.deliver(dispatcher, msg)
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Relay) deliver(dispatcher domain.TenantDispatcher, msg *natsio.Msg) {
	tenantID, err := uuid.Parse(strings.TrimPrefix(msg.Subject, subjectPrefix))
	if err != nil {
		slog.Warn("Dropping relay message on unexpected subject", "subject", msg.Subject)
		r.count("received", "malformed")
		return
	}

	var ev domain.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		slog.Warn("Dropping malformed relay message", "backend", backendLabel, "error", err)
		r.count("received", "malformed")
		return
	}
	dispatcher.BroadcastToTenant(tenantID, ev)
	r.count("received", "ok")
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
