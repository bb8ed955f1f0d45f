package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pscheid92/tablepulse/internal/domain"
)

var (
	// ErrMutationPending is returned while a relocation or cancel awaits the server.
	ErrMutationPending = errors.New("a schedule change is still pending")
	// ErrMutationFailed wraps a server rejection after the grid was rolled back.
	ErrMutationFailed = errors.New("schedule change failed")
	ErrNoDrag         = errors.New("no drag in progress")
	ErrInvalidShift   = errors.New("shift must be exactly one slot")
)

// Mutator sends authoritative schedule changes.
type Mutator interface {
	MoveReservation(ctx context.Context, id, tableID uuid.UUID, startSlot int) (*domain.Reservation, error)
	CancelReservation(ctx context.Context, id uuid.UUID) (*domain.Reservation, error)
}

type NoticeKind string

const (
	NoticeMoved          NoticeKind = "moved"
	NoticeCanceled       NoticeKind = "canceled"
	NoticeMutationFailed NoticeKind = "mutation_failed"
)

// Notice is a user-facing outcome of a mutation.
type Notice struct {
	Kind          NoticeKind
	ReservationID uuid.UUID
	Message       string
	Err           error
}

type EngineConfig struct {
	Mutator Mutator
	// Notify receives one notice per settled mutation.
	Notify func(Notice)
	// Invalidate asks the authoritative source to refetch after a success.
	Invalidate func(ctx context.Context) error
	// OnChange receives a copy of the grid after every visible change.
	OnChange func(*Grid)
}

// Engine owns the client grid and applies speculative mutations with exact
// rollback. Only one mutation may be in flight; dragging is disabled meanwhile.
type Engine struct {
	cfg EngineConfig

	mu       sync.Mutex
	grid     *Grid
	drag     *DragOperation
	pending  bool
	deferred *Grid
}

func NewEngine(grid *Grid, cfg EngineConfig) *Engine {
	return &Engine{cfg: cfg, grid: grid}
}

// Load replaces the grid with authoritative state. While a mutation is
// pending the load is held back and applied once the mutation settles.
func (e *Engine) Load(g *Grid) {
	e.mu.Lock()
	if e.pending {
		e.deferred = g
		e.mu.Unlock()
		return
	}
	e.grid = g
	e.drag = nil
	snapshot := e.grid.Clone()
	e.mu.Unlock()

	e.changed(snapshot)
}

func (e *Engine) Snapshot() *Grid {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.grid.Clone()
}

func (e *Engine) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// BeginDrag grabs a reservation at its start cell.
func (e *Engine) BeginDrag(id uuid.UUID) (DragOperation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending {
		return DragOperation{}, ErrMutationPending
	}
	r, ok := e.grid.Reservation(id)
	if !ok {
		return DragOperation{}, &ConflictError{Reason: ReasonUnknownReservation, ReservationID: id}
	}
	if !r.Status.OccupiesTable() {
		return DragOperation{}, &ConflictError{Reason: ReasonInactive, ReservationID: id, Detail: string(r.Status)}
	}

	start := Cell{TableID: r.TableID, Slot: r.StartSlot}
	e.drag = &DragOperation{ReservationID: id, Source: start, Candidate: start}
	return *e.drag, nil
}

// Hover moves the drag candidate and reports whether dropping there is allowed.
func (e *Engine) Hover(c Cell) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.drag == nil {
		return ErrNoDrag
	}
	e.drag.Candidate = c
	return e.grid.Validate(*e.drag)
}

func (e *Engine) CancelDrag() {
	e.mu.Lock()
	e.drag = nil
	e.mu.Unlock()
}

// Drop commits the current drag candidate.
func (e *Engine) Drop(ctx context.Context) error {
	e.mu.Lock()
	if e.drag == nil {
		e.mu.Unlock()
		return ErrNoDrag
	}
	op := *e.drag
	e.drag = nil
	e.mu.Unlock()

	return e.move(ctx, op)
}

// Move relocates a reservation so it starts at target.
func (e *Engine) Move(ctx context.Context, id uuid.UUID, target Cell) error {
	e.mu.Lock()
	op := DragOperation{ReservationID: id, Candidate: target}
	if r, ok := e.grid.Reservation(id); ok {
		op.Source = Cell{TableID: r.TableID, Slot: r.StartSlot}
	}
	e.mu.Unlock()

	return e.move(ctx, op)
}

// Shift moves a reservation one slot earlier (-1) or later (+1) on its table.
func (e *Engine) Shift(ctx context.Context, id uuid.UUID, delta int) error {
	if delta != 1 && delta != -1 {
		return ErrInvalidShift
	}

	e.mu.Lock()
	r, ok := e.grid.Reservation(id)
	e.mu.Unlock()
	if !ok {
		return &ConflictError{Reason: ReasonUnknownReservation, ReservationID: id}
	}

	start := Cell{TableID: r.TableID, Slot: r.StartSlot}
	return e.move(ctx, DragOperation{
		ReservationID: id,
		Source:        start,
		Candidate:     Cell{TableID: r.TableID, Slot: r.StartSlot + delta},
	})
}

func (e *Engine) move(ctx context.Context, op DragOperation) error {
	var before domain.Reservation
	var from, to string

	return e.mutate(ctx, op.ReservationID,
		func(g *Grid) error {
			if err := g.Validate(op); err != nil {
				return err
			}
			before, _ = g.Reservation(op.ReservationID)
			from = g.describe(Cell{TableID: before.TableID, Slot: before.StartSlot})
			to = g.describe(op.Candidate)
			g.relocate(op.ReservationID, op.Candidate)
			return nil
		},
		func(ctx context.Context) error {
			_, err := e.cfg.Mutator.MoveReservation(ctx, op.ReservationID, op.Candidate.TableID, op.Candidate.Slot)
			return err
		},
		func() Notice {
			return Notice{
				Kind:          NoticeMoved,
				ReservationID: op.ReservationID,
				Message:       fmt.Sprintf("Moved %s from %s to %s", guestLabel(before), from, to),
			}
		},
	)
}

// Cancel speculatively clears a reservation and asks the server to cancel it.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) error {
	var before domain.Reservation
	var at string

	return e.mutate(ctx, id,
		func(g *Grid) error {
			r, ok := g.Reservation(id)
			if !ok {
				return &ConflictError{Reason: ReasonUnknownReservation, ReservationID: id}
			}
			if !r.Status.OccupiesTable() {
				return &ConflictError{Reason: ReasonInactive, ReservationID: id, Detail: string(r.Status)}
			}
			before = r
			at = g.describe(Cell{TableID: r.TableID, Slot: r.StartSlot})
			g.vacate(id)
			return nil
		},
		func(ctx context.Context) error {
			_, err := e.cfg.Mutator.CancelReservation(ctx, id)
			return err
		},
		func() Notice {
			return Notice{
				Kind:          NoticeCanceled,
				ReservationID: id,
				Message:       fmt.Sprintf("Canceled %s at %s", guestLabel(before), at),
			}
		},
	)
}

// mutate runs the speculative apply under the lock, sends the request with
// the lock released, then either restores the pre-mutation snapshot or
// reports success and invalidates the authoritative source.
func (e *Engine) mutate(ctx context.Context, id uuid.UUID, apply func(*Grid) error, send func(context.Context) error, success func() Notice) error {
	e.mu.Lock()
	if e.pending {
		e.mu.Unlock()
		return ErrMutationPending
	}
	snapshot := e.grid.Clone()
	if err := apply(e.grid); err != nil {
		e.mu.Unlock()
		return err
	}
	e.pending = true
	e.drag = nil
	speculative := e.grid.Clone()
	e.mu.Unlock()

	e.changed(speculative)

	err := send(ctx)

	e.mu.Lock()
	e.pending = false
	deferred := e.deferred
	e.deferred = nil
	if err != nil {
		e.grid = snapshot
		snapshot = snapshot.Clone()
	}
	e.mu.Unlock()

	if err != nil {
		slog.Warn("Schedule change rolled back", "reservation_id", id, "error", err)
		e.changed(snapshot)
		if deferred != nil {
			e.Load(deferred)
		}
		e.notify(Notice{
			Kind:          NoticeMutationFailed,
			ReservationID: id,
			Message:       "Change could not be saved and was reverted",
			Err:           err,
		})
		return fmt.Errorf("%w: %w", ErrMutationFailed, err)
	}

	// A load that raced the request may predate the server's commit; the
	// invalidation below fetches state that includes it and supersedes it.
	if deferred != nil {
		e.Load(deferred)
	}
	e.notify(success())
	if e.cfg.Invalidate != nil {
		if err := e.cfg.Invalidate(ctx); err != nil {
			slog.Warn("Schedule invalidation failed", "reservation_id", id, "error", err)
		}
	}
	return nil
}

func (e *Engine) changed(g *Grid) {
	if e.cfg.OnChange != nil {
		e.cfg.OnChange(g)
	}
}

func (e *Engine) notify(n Notice) {
	if e.cfg.Notify != nil {
		e.cfg.Notify(n)
	}
}

func guestLabel(r domain.Reservation) string {
	if r.GuestName == "" {
		return "reservation"
	}
	return fmt.Sprintf("%s (party of %d)", r.GuestName, r.PartySize)
}
