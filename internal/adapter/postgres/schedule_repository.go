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

const (
	tableColumns       = `id, tenant_id, name, min_capacity, max_capacity, status`
	reservationColumns = `id, tenant_id, table_id, to_char(date, 'YYYY-MM-DD'), start_slot, duration_slots, party_size, guest_name, status, updated_at`
)

type ScheduleRepo struct {
	pool *pgxpool.Pool
}

func NewScheduleRepo(pool *pgxpool.Pool) *ScheduleRepo {
	return &ScheduleRepo{pool: pool}
}

func (r *ScheduleRepo) ListTables(ctx context.Context, tenantID uuid.UUID) ([]domain.Table, error) {
	return listTables(ctx, r.pool, tenantID, false)
}

func (r *ScheduleRepo) ListReservations(ctx context.Context, tenantID uuid.UUID, date string) ([]domain.Reservation, error) {
	return listReservations(ctx, r.pool, tenantID, date, false)
}

func (r *ScheduleRepo) UpdateTableStatus(ctx context.Context, tenantID, tableID uuid.UUID, status domain.TableStatus) (*domain.Table, error) {
	const q = `UPDATE restaurant_tables SET status = $3 WHERE tenant_id = $1 AND id = $2 RETURNING ` + tableColumns

	t, err := scanTable(r.pool.QueryRow(ctx, q, tenantID, tableID, status))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTableNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update table status: %w", err)
	}
	return t, nil
}

// WithinTx runs fn in a transaction that commits only when fn returns nil.
func (r *ScheduleRepo) WithinTx(ctx context.Context, fn func(tx domain.ScheduleTx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&scheduleTx{q: tx})
	})
}

func (r *ScheduleRepo) CreateTable(ctx context.Context, t domain.Table, position int) (*domain.Table, error) {
	const q = `
		INSERT INTO restaurant_tables (tenant_id, name, min_capacity, max_capacity, status, position)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + tableColumns

	if t.Status == "" {
		t.Status = domain.TableAvailable
	}
	created, err := scanTable(r.pool.QueryRow(ctx, q, t.TenantID, t.Name, t.MinCapacity, t.MaxCapacity, t.Status, position))
	if err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return created, nil
}

func (r *ScheduleRepo) CreateReservation(ctx context.Context, res domain.Reservation) (*domain.Reservation, error) {
	const q = `
		INSERT INTO reservations (tenant_id, table_id, date, start_slot, duration_slots, party_size, guest_name, status)
		VALUES ($1, $2, $3::date, $4, $5, $6, $7, $8)
		RETURNING ` + reservationColumns

	if res.Status == "" {
		res.Status = domain.ReservationPending
	}
	created, err := scanReservation(r.pool.QueryRow(ctx, q,
		res.TenantID, res.TableID, res.Date, res.StartSlot, res.Duration(), res.PartySize, res.GuestName, res.Status))
	if err != nil {
		return nil, fmt.Errorf("failed to create reservation: %w", err)
	}
	return created, nil
}

// scheduleTx locks every row it reads with FOR UPDATE, so two moves on the
// same tenant-day serialize on the database.
type scheduleTx struct {
	q querier
}

func (tx *scheduleTx) LockReservation(ctx context.Context, tenantID, reservationID uuid.UUID) (*domain.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE tenant_id = $1 AND id = $2 FOR UPDATE`

	res, err := scanReservation(tx.q.QueryRow(ctx, q, tenantID, reservationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock reservation: %w", err)
	}
	return res, nil
}

func (tx *scheduleTx) ListTablesForUpdate(ctx context.Context, tenantID uuid.UUID) ([]domain.Table, error) {
	return listTables(ctx, tx.q, tenantID, true)
}

func (tx *scheduleTx) ListReservationsForUpdate(ctx context.Context, tenantID uuid.UUID, date string) ([]domain.Reservation, error) {
	return listReservations(ctx, tx.q, tenantID, date, true)
}

func (tx *scheduleTx) UpdatePlacement(ctx context.Context, reservationID, tableID uuid.UUID, startSlot int) (*domain.Reservation, error) {
	const q = `
		UPDATE reservations SET table_id = $2, start_slot = $3, updated_at = now()
		WHERE id = $1
		RETURNING ` + reservationColumns

	res, err := scanReservation(tx.q.QueryRow(ctx, q, reservationID, tableID, startSlot))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update placement: %w", err)
	}
	return res, nil
}

func (tx *scheduleTx) UpdateStatus(ctx context.Context, reservationID uuid.UUID, status domain.ReservationStatus) (*domain.Reservation, error) {
	const q = `
		UPDATE reservations SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + reservationColumns

	res, err := scanReservation(tx.q.QueryRow(ctx, q, reservationID, status))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update reservation status: %w", err)
	}
	return res, nil
}

func listTables(ctx context.Context, q querier, tenantID uuid.UUID, forUpdate bool) ([]domain.Table, error) {
	sql := `SELECT ` + tableColumns + ` FROM restaurant_tables WHERE tenant_id = $1 ORDER BY position, name`
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	rows, err := q.Query(ctx, sql, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	tables, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Table, error) {
		t, err := scanTable(row)
		if err != nil {
			return domain.Table{}, err
		}
		return *t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan tables: %w", err)
	}
	return tables, nil
}

func listReservations(ctx context.Context, q querier, tenantID uuid.UUID, date string, forUpdate bool) ([]domain.Reservation, error) {
	sql := `SELECT ` + reservationColumns + ` FROM reservations WHERE tenant_id = $1 AND date = $2::date ORDER BY start_slot, id`
	if forUpdate {
		sql += ` FOR UPDATE`
	}

	rows, err := q.Query(ctx, sql, tenantID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	reservations, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Reservation, error) {
		res, err := scanReservation(row)
		if err != nil {
			return domain.Reservation{}, err
		}
		return *res, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan reservations: %w", err)
	}
	return reservations, nil
}

func scanTable(row pgx.Row) (*domain.Table, error) {
	var t domain.Table
	if err := row.Scan(&t.ID, &t.TenantID, &t.Name, &t.MinCapacity, &t.MaxCapacity, &t.Status); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var r domain.Reservation
	err := row.Scan(&r.ID, &r.TenantID, &r.TableID, &r.Date, &r.StartSlot, &r.DurationSlots,
		&r.PartySize, &r.GuestName, &r.Status, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
