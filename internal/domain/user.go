package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Role is a user's role within the platform.
type Role string

const (
	RoleOwner         Role = "owner"
	RoleManager       Role = "manager"
	RoleStaff         Role = "staff"
	RoleHost          Role = "host"
	RoleCustomer      Role = "customer"
	RolePlatformAdmin Role = "platform_admin"
)

// IsStaff reports whether the role may open a tenant stream.
func (r Role) IsStaff() bool {
	switch r {
	case RoleOwner, RoleManager, RoleStaff, RoleHost:
		return true
	default:
		return false
	}
}

type User struct {
	ID        uuid.UUID
	Email     string
	Role      Role
	TenantID  *uuid.UUID // nil for owners resolved through their tenant's owner column
	CreatedAt time.Time
}

type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*User, error)
}
