package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TenantStatus is the lifecycle state of a restaurant account.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantTrial     TenantStatus = "trial"
	TenantSuspended TenantStatus = "suspended"
	TenantCanceled  TenantStatus = "canceled"
)

// AllowsStreaming reports whether connections may be bound to a tenant in this status.
func (s TenantStatus) AllowsStreaming() bool {
	return s == TenantActive || s == TenantTrial
}

type Tenant struct {
	ID          uuid.UUID
	Name        string
	Status      TenantStatus
	OwnerUserID uuid.UUID
	CreatedAt   time.Time
}

// TenantRepository resolves tenants by id or by the owning user.
type TenantRepository interface {
	GetByID(ctx context.Context, tenantID uuid.UUID) (*Tenant, error)
	GetByOwnerUserID(ctx context.Context, userID uuid.UUID) (*Tenant, error)
}
