package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultDurationSlots is the slot count a reservation occupies when none is given.
const DefaultDurationSlots = 2

type TableStatus string

const (
	TableAvailable    TableStatus = "available"
	TableOccupied     TableStatus = "occupied"
	TableReserved     TableStatus = "reserved"
	TableOutOfService TableStatus = "out_of_service"
)

// ParseTableStatus validates a status string.
func ParseTableStatus(s string) (TableStatus, error) {
	switch st := TableStatus(s); st {
	case TableAvailable, TableOccupied, TableReserved, TableOutOfService:
		return st, nil
	default:
		return "", fmt.Errorf("unknown table status %q", s)
	}
}

type Table struct {
	ID          uuid.UUID   `json:"id"`
	TenantID    uuid.UUID   `json:"tenantId"`
	Name        string      `json:"name"`
	MinCapacity int         `json:"minCapacity"`
	MaxCapacity int         `json:"maxCapacity"`
	Status      TableStatus `json:"status"`
}

// Fits reports whether partySize lies within the table's [min, max] capacity.
func (t Table) Fits(partySize int) bool {
	return partySize >= t.MinCapacity && partySize <= t.MaxCapacity
}

type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationSeated    ReservationStatus = "seated"
	ReservationCompleted ReservationStatus = "completed"
	ReservationCanceled  ReservationStatus = "canceled"
	ReservationNoShow    ReservationStatus = "no_show"
)

// OccupiesTable reports whether a reservation in this status holds grid cells.
func (s ReservationStatus) OccupiesTable() bool {
	switch s {
	case ReservationPending, ReservationConfirmed, ReservationSeated:
		return true
	default:
		return false
	}
}

type Reservation struct {
	ID            uuid.UUID         `json:"id"`
	TenantID      uuid.UUID         `json:"tenantId"`
	TableID       uuid.UUID         `json:"tableId"`
	Date          string            `json:"date"` // YYYY-MM-DD
	StartSlot     int               `json:"startSlot"`
	DurationSlots int               `json:"durationSlots"`
	PartySize     int               `json:"partySize"`
	GuestName     string            `json:"guestName"`
	Status        ReservationStatus `json:"status"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// Duration returns the occupied slot count, defaulting when unset.
func (r Reservation) Duration() int {
	if r.DurationSlots <= 0 {
		return DefaultDurationSlots
	}
	return r.DurationSlots
}

// SlotLayout describes the operating-hour rows of the scheduling grid.
type SlotLayout struct {
	Open        string `json:"open" yaml:"open"` // HH:MM
	SlotMinutes int    `json:"slotMinutes" yaml:"slotMinutes"`
	Slots       int    `json:"slots" yaml:"slots"`
}

const slotClock = "15:04"

// Validate checks the layout is usable and fits in one day.
func (l SlotLayout) Validate() error {
	open, err := time.Parse(slotClock, l.Open)
	if err != nil {
		return fmt.Errorf("invalid opening time %q: %w", l.Open, err)
	}
	if l.SlotMinutes <= 0 {
		return errors.New("slot length must be positive")
	}
	if l.Slots <= 0 {
		return errors.New("slot count must be positive")
	}
	end := open.Add(time.Duration(l.SlotMinutes*l.Slots) * time.Minute)
	if end.Day() != open.Day() && !(end.Hour() == 0 && end.Minute() == 0) {
		return errors.New("slot layout must end by midnight")
	}
	return nil
}

// Label renders a slot index as HH:MM.
func (l SlotLayout) Label(slot int) string {
	open, err := time.Parse(slotClock, l.Open)
	if err != nil {
		return fmt.Sprintf("slot %d", slot)
	}
	return open.Add(time.Duration(slot*l.SlotMinutes) * time.Minute).Format(slotClock)
}

// SlotOf parses an HH:MM label back into a slot index.
func (l SlotLayout) SlotOf(label string) (int, error) {
	for slot := range l.Slots {
		if l.Label(slot) == label {
			return slot, nil
		}
	}
	return 0, fmt.Errorf("%q is not a slot of the layout", label)
}

// Schedule is one tenant-day of tables and reservations.
type Schedule struct {
	Date         string        `json:"date"`
	Layout       SlotLayout    `json:"layout"`
	Tables       []Table       `json:"tables"`
	Reservations []Reservation `json:"reservations"`
}

// ScheduleRepository persists tables and reservations.
type ScheduleRepository interface {
	ListTables(ctx context.Context, tenantID uuid.UUID) ([]Table, error)
	ListReservations(ctx context.Context, tenantID uuid.UUID, date string) ([]Reservation, error)
	UpdateTableStatus(ctx context.Context, tenantID, tableID uuid.UUID, status TableStatus) (*Table, error)
	WithinTx(ctx context.Context, fn func(tx ScheduleTx) error) error
}

// ScheduleTx is the locked view used to validate and apply a relocation.
type ScheduleTx interface {
	LockReservation(ctx context.Context, tenantID, reservationID uuid.UUID) (*Reservation, error)
	ListTablesForUpdate(ctx context.Context, tenantID uuid.UUID) ([]Table, error)
	ListReservationsForUpdate(ctx context.Context, tenantID uuid.UUID, date string) ([]Reservation, error)
	UpdatePlacement(ctx context.Context, reservationID, tableID uuid.UUID, startSlot int) (*Reservation, error)
	UpdateStatus(ctx context.Context, reservationID uuid.UUID, status ReservationStatus) (*Reservation, error)
}
