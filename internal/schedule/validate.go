package schedule

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// Reason names why a candidate placement was rejected.
type Reason string

const (
	ReasonSameCell           Reason = "same_cell"
	ReasonSameRange          Reason = "same_range"
	ReasonUnknownReservation Reason = "unknown_reservation"
	ReasonInactive           Reason = "inactive_reservation"
	ReasonUnknownTable       Reason = "unknown_table"
	ReasonOutOfHours         Reason = "out_of_hours"
	ReasonOccupied           Reason = "occupied"
	ReasonCapacity           Reason = "capacity"
)

// ConflictError is a locally rejected placement. No request is sent for it.
type ConflictError struct {
	Reason        Reason
	ReservationID uuid.UUID
	Candidate     Cell
	// ConflictsWith is set for ReasonOccupied.
	ConflictsWith uuid.UUID
	Detail        string
}

func (e *ConflictError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("placement rejected: %s", e.Reason)
	}
	return fmt.Sprintf("placement rejected: %s: %s", e.Reason, e.Detail)
}

// DragOperation is a pending drag: the cell grabbed and the candidate start cell.
type DragOperation struct {
	ReservationID uuid.UUID
	Source        Cell
	Candidate     Cell
}

// Validate runs the placement pipeline for op against g and returns a
// *ConflictError describing the first failing step, or nil.
func (g *Grid) Validate(op DragOperation) error {
	reject := func(reason Reason, detail string) *ConflictError {
		return &ConflictError{Reason: reason, ReservationID: op.ReservationID, Candidate: op.Candidate, Detail: detail}
	}

	if op.Candidate == op.Source {
		return reject(ReasonSameCell, "")
	}

	r, ok := g.reservations[op.ReservationID]
	if !ok {
		return reject(ReasonUnknownReservation, op.ReservationID.String())
	}
	if !r.Status.OccupiesTable() {
		return reject(ReasonInactive, string(r.Status))
	}
	table, ok := g.Table(op.Candidate.TableID)
	if !ok {
		return reject(ReasonUnknownTable, op.Candidate.TableID.String())
	}

	if op.Candidate.TableID == r.TableID && op.Candidate.Slot == r.StartSlot {
		return reject(ReasonSameRange, g.describe(op.Candidate))
	}

	if !g.inHours(op.Candidate.Slot, r.Duration()) {
		return reject(ReasonOutOfHours, fmt.Sprintf("%d slots from %s", r.Duration(), g.layout.Label(op.Candidate.Slot)))
	}

	current := occupiedRange(r.TableID, r.StartSlot, r.Duration())
	for _, c := range occupiedRange(op.Candidate.TableID, op.Candidate.Slot, r.Duration()) {
		if slices.Contains(current, c) {
			continue
		}
		if other, taken := g.cells[c]; taken && other != r.ID {
			err := reject(ReasonOccupied, g.describe(c))
			err.ConflictsWith = other
			return err
		}
	}

	if !table.Fits(r.PartySize) {
		return reject(ReasonCapacity, fmt.Sprintf("party of %d at %s seats %d-%d", r.PartySize, table.Name, table.MinCapacity, table.MaxCapacity))
	}

	return nil
}

// CheckMove validates moving a reservation so it starts at target. The
// source is the reservation's current start cell.
func (g *Grid) CheckMove(id uuid.UUID, target Cell) error {
	op := DragOperation{ReservationID: id, Candidate: target}
	if r, ok := g.reservations[id]; ok {
		op.Source = Cell{TableID: r.TableID, Slot: r.StartSlot}
	}
	return g.Validate(op)
}

// Apply validates and then performs the relocation on g.
func (g *Grid) Apply(id uuid.UUID, target Cell) error {
	if err := g.CheckMove(id, target); err != nil {
		return err
	}
	g.relocate(id, target)
	return nil
}
