// Package schedule implements the table/time grid: overlap-aware move
// validation and the speculative relocation engine used by the client.
package schedule

import (
	"cmp"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"
	"github.com/pscheid92/tablepulse/internal/domain"
)

// Cell addresses one (table, slot) position of the grid.
type Cell struct {
	TableID uuid.UUID
	Slot    int
}

// Grid maps cells to the reservation occupying them. Rows are the layout's
// slots, columns are tables in display order. A Grid is not safe for
// concurrent use; Engine serializes access.
type Grid struct {
	layout       domain.SlotLayout
	tables       []domain.Table
	tableIdx     map[uuid.UUID]int
	reservations map[uuid.UUID]domain.Reservation
	cells        map[Cell]uuid.UUID
}

// NewGrid places every table-holding reservation. It fails when a
// reservation references an unknown table, runs outside the layout, or
// would double-book a cell.
func NewGrid(layout domain.SlotLayout, tables []domain.Table, reservations []domain.Reservation) (*Grid, error) {
	g := &Grid{
		layout:       layout,
		tables:       slices.Clone(tables),
		tableIdx:     make(map[uuid.UUID]int, len(tables)),
		reservations: make(map[uuid.UUID]domain.Reservation, len(reservations)),
		cells:        make(map[Cell]uuid.UUID),
	}
	for i, t := range g.tables {
		g.tableIdx[t.ID] = i
	}

	for _, r := range reservations {
		if r.DurationSlots <= 0 {
			r.DurationSlots = domain.DefaultDurationSlots
		}
		g.reservations[r.ID] = r
		if !r.Status.OccupiesTable() {
			continue
		}
		if _, ok := g.tableIdx[r.TableID]; !ok {
			return nil, fmt.Errorf("reservation %s: %w", r.ID, domain.ErrTableNotFound)
		}
		if !g.inHours(r.StartSlot, r.Duration()) {
			return nil, fmt.Errorf("reservation %s: slots %d..%d outside operating hours", r.ID, r.StartSlot, r.StartSlot+r.Duration()-1)
		}
		for _, c := range occupiedRange(r.TableID, r.StartSlot, r.Duration()) {
			if other, taken := g.cells[c]; taken {
				return nil, fmt.Errorf("reservation %s double-books %s with %s", r.ID, g.describe(c), other)
			}
			g.cells[c] = r.ID
		}
	}
	return g, nil
}

// Clone returns a deep copy; rollback restores a clone taken before mutation.
func (g *Grid) Clone() *Grid {
	return &Grid{
		layout:       g.layout,
		tables:       slices.Clone(g.tables),
		tableIdx:     maps.Clone(g.tableIdx),
		reservations: maps.Clone(g.reservations),
		cells:        maps.Clone(g.cells),
	}
}

func (g *Grid) Layout() domain.SlotLayout { return g.layout }
func (g *Grid) Tables() []domain.Table    { return slices.Clone(g.tables) }

func (g *Grid) Table(id uuid.UUID) (domain.Table, bool) {
	i, ok := g.tableIdx[id]
	if !ok {
		return domain.Table{}, false
	}
	return g.tables[i], true
}

func (g *Grid) Reservation(id uuid.UUID) (domain.Reservation, bool) {
	r, ok := g.reservations[id]
	return r, ok
}

// Reservations lists every known reservation ordered by table column, then slot.
func (g *Grid) Reservations() []domain.Reservation {
	out := slices.Collect(maps.Values(g.reservations))
	slices.SortFunc(out, func(a, b domain.Reservation) int {
		if c := cmp.Compare(g.column(a.TableID), g.column(b.TableID)); c != 0 {
			return c
		}
		if c := cmp.Compare(a.StartSlot, b.StartSlot); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out
}

// At returns the reservation occupying c.
func (g *Grid) At(c Cell) (uuid.UUID, bool) {
	id, ok := g.cells[c]
	return id, ok
}

// Occupied returns the cells the reservation currently holds.
func (g *Grid) Occupied(id uuid.UUID) []Cell {
	r, ok := g.reservations[id]
	if !ok || !r.Status.OccupiesTable() {
		return nil
	}
	return occupiedRange(r.TableID, r.StartSlot, r.Duration())
}

// Describe renders a cell as "<table name> HH:MM".
func (g *Grid) Describe(c Cell) string { return g.describe(c) }

func (g *Grid) describe(c Cell) string {
	name := c.TableID.String()
	if t, ok := g.Table(c.TableID); ok {
		name = t.Name
	}
	return name + " " + g.layout.Label(c.Slot)
}

func (g *Grid) column(tableID uuid.UUID) int {
	if i, ok := g.tableIdx[tableID]; ok {
		return i
	}
	return len(g.tables)
}

func (g *Grid) inHours(start, duration int) bool {
	return start >= 0 && start+duration <= g.layout.Slots
}

// relocate moves a reservation with the same overlap rules Validate uses:
// only non-overlapping source cells are vacated, only non-overlapping target
// cells are filled, and overlapping cells keep pointing at the reservation,
// whose record now carries the new start.
func (g *Grid) relocate(id uuid.UUID, target Cell) {
	r := g.reservations[id]
	from := occupiedRange(r.TableID, r.StartSlot, r.Duration())
	to := occupiedRange(target.TableID, target.Slot, r.Duration())

	for _, c := range from {
		if !slices.Contains(to, c) {
			delete(g.cells, c)
		}
	}
	for _, c := range to {
		if !slices.Contains(from, c) {
			g.cells[c] = id
		}
	}

	r.TableID = target.TableID
	r.StartSlot = target.Slot
	g.reservations[id] = r
}

// vacate clears the reservation's cells and marks it canceled.
func (g *Grid) vacate(id uuid.UUID) {
	r := g.reservations[id]
	for _, c := range occupiedRange(r.TableID, r.StartSlot, r.Duration()) {
		if g.cells[c] == id {
			delete(g.cells, c)
		}
	}
	r.Status = domain.ReservationCanceled
	g.reservations[id] = r
}

func occupiedRange(tableID uuid.UUID, start, duration int) []Cell {
	cells := make([]Cell, 0, duration)
	for slot := start; slot < start+duration; slot++ {
		cells = append(cells, Cell{TableID: tableID, Slot: slot})
	}
	return cells
}
