package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/tablepulse/internal/domain"
	"github.com/pscheid92/tablepulse/internal/schedule"
)

const dateLayout = "2006-01-02"

var ErrInvalidDate = errors.New("date must be YYYY-MM-DD")

// ScheduleService serves the schedule API. Moves are validated with the same
// grid rules the client uses, against rows locked for the transaction, and
// every committed change is published to the tenant's stream.
type ScheduleService struct {
	repo      domain.ScheduleRepository
	publisher domain.EventPublisher
	layout    domain.SlotLayout
	clock     clockwork.Clock
}

func NewScheduleService(repo domain.ScheduleRepository, publisher domain.EventPublisher, layout domain.SlotLayout, clock clockwork.Clock) *ScheduleService {
	return &ScheduleService{repo: repo, publisher: publisher, layout: layout, clock: clock}
}

// GetSchedule returns the tables and the reservations of date. An empty date
// means today.
func (s *ScheduleService) GetSchedule(ctx context.Context, tenantID uuid.UUID, date string) (*domain.Schedule, error) {
	date, err := s.resolveDate(date)
	if err != nil {
		return nil, err
	}

	tables, err := s.repo.ListTables(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	reservations, err := s.repo.ListReservations(ctx, tenantID, date)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}

	return &domain.Schedule{Date: date, Layout: s.layout, Tables: tables, Reservations: reservations}, nil
}

// MoveReservation relocates a reservation. A rejected move returns the
// *schedule.ConflictError describing why.
func (s *ScheduleService) MoveReservation(ctx context.Context, tenantID, reservationID, tableID uuid.UUID, startSlot int) (*domain.Reservation, error) {
	var moved *domain.Reservation
	err := s.repo.WithinTx(ctx, func(tx domain.ScheduleTx) error {
		current, err := tx.LockReservation(ctx, tenantID, reservationID)
		if err != nil {
			return err
		}
		tables, err := tx.ListTablesForUpdate(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("lock tables: %w", err)
		}
		reservations, err := tx.ListReservationsForUpdate(ctx, tenantID, current.Date)
		if err != nil {
			return fmt.Errorf("lock reservations: %w", err)
		}

		grid, err := schedule.NewGrid(s.layout, tables, reservations)
		if err != nil {
			return fmt.Errorf("build grid for %s: %w", current.Date, err)
		}
		if err := grid.CheckMove(reservationID, schedule.Cell{TableID: tableID, Slot: startSlot}); err != nil {
			return err
		}

		moved, err = tx.UpdatePlacement(ctx, reservationID, tableID, startSlot)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Reservation moved", "tenant_id", tenantID, "reservation_id", reservationID, "table_id", tableID, "start_slot", startSlot)
	s.publish(ctx, tenantID, domain.EventReservationUpdated, domain.ReservationUpdatePayload{
		ID:        moved.ID,
		TableID:   &moved.TableID,
		StartSlot: &moved.StartSlot,
		UpdatedAt: &moved.UpdatedAt,
	})
	return moved, nil
}

// CancelReservation marks a reservation canceled, releasing its cells.
func (s *ScheduleService) CancelReservation(ctx context.Context, tenantID, reservationID uuid.UUID) (*domain.Reservation, error) {
	var canceled *domain.Reservation
	err := s.repo.WithinTx(ctx, func(tx domain.ScheduleTx) error {
		current, err := tx.LockReservation(ctx, tenantID, reservationID)
		if err != nil {
			return err
		}
		if !current.Status.OccupiesTable() {
			return domain.ErrReservationClosed
		}
		canceled, err = tx.UpdateStatus(ctx, reservationID, domain.ReservationCanceled)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Reservation canceled", "tenant_id", tenantID, "reservation_id", reservationID)
	s.publish(ctx, tenantID, domain.EventReservationCanceled, domain.ReservationCanceledPayload{ID: canceled.ID})
	return canceled, nil
}

func (s *ScheduleService) UpdateTableStatus(ctx context.Context, tenantID, tableID uuid.UUID, status domain.TableStatus) (*domain.Table, error) {
	table, err := s.repo.UpdateTableStatus(ctx, tenantID, tableID, status)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, tenantID, domain.EventTableStatusUpdated, domain.TableStatusPayload{TableID: table.ID, Status: table.Status})
	return table, nil
}

// publish is best-effort: the change is committed, and clients that miss
// the event catch up on their next fetch.
func (s *ScheduleService) publish(ctx context.Context, tenantID uuid.UUID, eventType domain.EventType, payload any) {
	ev, err := domain.NewEvent(eventType, payload)
	if err != nil {
		slog.Error("Failed to build event", "type", eventType, "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, tenantID, ev); err != nil {
		slog.Error("Failed to publish event", "tenant_id", tenantID, "type", eventType, "error", err)
	}
}

func (s *ScheduleService) resolveDate(date string) (string, error) {
	if date == "" {
		return s.clock.Now().UTC().Format(dateLayout), nil
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return date, nil
}
