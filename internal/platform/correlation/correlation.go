// Package correlation threads a request ID and the resolved tenant through
// contexts so every log line of a request can be joined up.
package correlation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Header carries a request ID set by an upstream proxy or caller.
const Header = "X-Request-ID"

const maxInboundLength = 64

type contextKey struct{}

type scope struct {
	requestID string
	tenantID  uuid.UUID
}

func fromContext(ctx context.Context) scope {
	s, _ := ctx.Value(contextKey{}).(scope)
	return s
}

// NewID mints a time-ordered request ID, so IDs from different instances
// sort by arrival.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Resolve keeps an inbound ID of printable ASCII up to 64 bytes and mints a
// fresh one for anything else.
func Resolve(inbound string) string {
	if inbound == "" || len(inbound) > maxInboundLength {
		return NewID()
	}
	for _, r := range inbound {
		if r < '!' || r > '~' {
			return NewID()
		}
	}
	return inbound
}

func WithID(ctx context.Context, id string) context.Context {
	s := fromContext(ctx)
	s.requestID = id
	return context.WithValue(ctx, contextKey{}, s)
}

// ID returns the request ID carried by ctx.
func ID(ctx context.Context) (string, bool) {
	id := fromContext(ctx).requestID
	return id, id != ""
}

// WithTenant records the tenant a request was authenticated for.
func WithTenant(ctx context.Context, tenantID uuid.UUID) context.Context {
	s := fromContext(ctx)
	s.tenantID = tenantID
	return context.WithValue(ctx, contextKey{}, s)
}

func Tenant(ctx context.Context) (uuid.UUID, bool) {
	id := fromContext(ctx).tenantID
	return id, id != uuid.Nil
}

// Handler adds request_id and tenant_id to records whose context has them.
type Handler struct {
	inner slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	s := fromContext(ctx)
	if s.requestID != "" {
		r.AddAttrs(slog.String("request_id", s.requestID))
	}
	if s.tenantID != uuid.Nil {
		r.AddAttrs(slog.String("tenant_id", s.tenantID.String()))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
