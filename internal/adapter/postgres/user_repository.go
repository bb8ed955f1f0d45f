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

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

func (r *UserRepo) GetByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	const q = `SELECT id, email, role, tenant_id, created_at FROM users WHERE id = $1`

	var u domain.User
	err := r.pool.QueryRow(ctx, q, userID).Scan(&u.ID, &u.Email, &u.Role, &u.TenantID, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	return &u, nil
}

func (r *UserRepo) Create(ctx context.Context, email string, role domain.Role, tenantID *uuid.UUID) (*domain.User, error) {
	const q = `
		INSERT INTO users (email, role, tenant_id) VALUES ($1, $2, $3)
		RETURNING id, email, role, tenant_id, created_at`

	var u domain.User
	if err := r.pool.QueryRow(ctx, q, email, role, tenantID).Scan(&u.ID, &u.Email, &u.Role, &u.TenantID, &u.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &u, nil
}
