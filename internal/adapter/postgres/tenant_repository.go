package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/tablepulse/internal/domain"
)

type TenantRepo struct {
	pool *pgxpool.Pool
}

func NewTenantRepo(pool *pgxpool.Pool) *TenantRepo {
	return &TenantRepo{pool: pool}
}

const tenantColumns = `id, name, status, owner_user_id, created_at`

func scanTenant(row pgx.Row) (*domain.Tenant, error) {
	var t domain.Tenant
	var owner *uuid.UUID
	if err := row.Scan(&t.ID, &t.Name, &t.Status, &owner, &t.CreatedAt); err != nil {
		return nil, err
	}
	if owner != nil {
		t.OwnerUserID = *owner
	}
	return &t, nil
}

func (r *TenantRepo) GetByID(ctx context.Context, tenantID uuid.UUID) (*domain.Tenant, error) {
	t, err := scanTenant(r.pool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant by ID: %w", err)
	}
	return t, nil
}

// GetByOwnerUserID returns the oldest tenant owned by userID.
func (r *TenantRepo) GetByOwnerUserID(ctx context.Context, userID uuid.UUID) (*domain.Tenant, error) {
	const q = `SELECT ` + tenantColumns + ` FROM tenants WHERE owner_user_id = $1 ORDER BY created_at LIMIT 1`

	t, err := scanTenant(r.pool.QueryRow(ctx, q, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant by owner: %w", err)
	}
	return t, nil
}

func (r *TenantRepo) Create(ctx context.Context, name string, status domain.TenantStatus, ownerUserID *uuid.UUID) (*domain.Tenant, error) {
	const q = `INSERT INTO tenants (name, status, owner_user_id) VALUES ($1, $2, $3) RETURNING ` + tenantColumns

	t, err := scanTenant(r.pool.QueryRow(ctx, q, name, status, ownerUserID))
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}
	return t, nil
}

// SetOwner records userID as the owner of tenantID.
func (r *TenantRepo) SetOwner(ctx context.Context, tenantID, userID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `UPDATE tenants SET owner_user_id = $2 WHERE id = $1`, tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to set tenant owner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}
