package schedule

import (
	"testing"

	"github.com/google/uuid"
	"github.com/pscheid92/tablepulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tableA = uuid.MustParse("0000000a-0000-0000-0000-000000000000")
	tableB = uuid.MustParse("0000000b-0000-0000-0000-000000000000")
	tableC = uuid.MustParse("0000000c-0000-0000-0000-000000000000")
	tableD = uuid.MustParse("0000000d-0000-0000-0000-000000000000")

	ada   = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	grace = uuid.MustParse("00000000-0000-0000-0000-0000000000a2")
	team  = uuid.MustParse("00000000-0000-0000-0000-0000000000a6")
	gone  = uuid.MustParse("00000000-0000-0000-0000-0000000000c0")
)

// 17:00..22:00, one-hour slots; slot 1 is 18:00.
var evening = domain.SlotLayout{Open: "17:00", SlotMinutes: 60, Slots: 6}

func testTables() []domain.Table {
	return []domain.Table{
		{ID: tableA, Name: "A", MinCapacity: 2, MaxCapacity: 4},
		{ID: tableB, Name: "B", MinCapacity: 4, MaxCapacity: 8},
		{ID: tableC, Name: "C", MinCapacity: 2, MaxCapacity: 4},
		{ID: tableD, Name: "D", MinCapacity: 4, MaxCapacity: 8},
	}
}

func testReservations() []domain.Reservation {
	return []domain.Reservation{
		{ID: ada, TableID: tableA, StartSlot: 1, DurationSlots: 2, PartySize: 2, GuestName: "Ada", Status: domain.ReservationConfirmed},
		{ID: grace, TableID: tableA, StartSlot: 4, DurationSlots: 2, PartySize: 3, GuestName: "Grace", Status: domain.ReservationConfirmed},
		{ID: team, TableID: tableB, StartSlot: 0, PartySize: 6, GuestName: "Team", Status: domain.ReservationSeated},
		{ID: gone, TableID: tableC, StartSlot: 0, PartySize: 2, GuestName: "Gone", Status: domain.ReservationCanceled},
	}
}

func newTestGrid(t *testing.T) *Grid {
	t.Helper()
	g, err := NewGrid(evening, testTables(), testReservations())
	require.NoError(t, err)
	return g
}

func requireReason(t *testing.T, err error, want Reason) *ConflictError {
	t.Helper()
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, want, conflict.Reason)
	return conflict
}

func TestNewGrid_PlacesOccupyingReservations(t *testing.T) {
	g := newTestGrid(t)

	for _, slot := range []int{1, 2} {
		id, ok := g.At(Cell{TableID: tableA, Slot: slot})
		require.True(t, ok)
		assert.Equal(t, ada, id)
	}
	_, ok := g.At(Cell{TableID: tableA, Slot: 3})
	assert.False(t, ok)

	// duration defaults to two slots
	assert.Equal(t, []Cell{{tableB, 0}, {tableB, 1}}, g.Occupied(team))

	// canceled reservations are known but hold no cells
	_, ok = g.Reservation(gone)
	assert.True(t, ok)
	_, ok = g.At(Cell{TableID: tableC, Slot: 0})
	assert.False(t, ok)
}

func TestNewGrid_RejectsInconsistentData(t *testing.T) {
	tests := []struct {
		name string
		res  domain.Reservation
	}{
		{"double booking", domain.Reservation{ID: uuid.New(), TableID: tableA, StartSlot: 2, Status: domain.ReservationPending}},
		{"unknown table", domain.Reservation{ID: uuid.New(), TableID: uuid.New(), StartSlot: 0, Status: domain.ReservationPending}},
		{"past closing", domain.Reservation{ID: uuid.New(), TableID: tableC, StartSlot: 5, Status: domain.ReservationPending}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGrid(evening, testTables(), append(testReservations(), tt.res))
			assert.Error(t, err)
		})
	}
}

func TestValidate_PartialOverlapOnSameTableAccepted(t *testing.T) {
	g := newTestGrid(t)

	err := g.Validate(DragOperation{ReservationID: ada, Source: Cell{tableA, 1}, Candidate: Cell{tableA, 2}})
	assert.NoError(t, err)
}

func TestValidate_IdenticalLocationRejected(t *testing.T) {
	g := newTestGrid(t)

	err := g.Validate(DragOperation{ReservationID: ada, Source: Cell{tableA, 1}, Candidate: Cell{tableA, 1}})
	requireReason(t, err, ReasonSameCell)

	// grabbed by its second cell and dropped on its own start
	err = g.Validate(DragOperation{ReservationID: ada, Source: Cell{tableA, 2}, Candidate: Cell{tableA, 1}})
	requireReason(t, err, ReasonSameRange)
}

func TestValidate_OverlapWithDifferentReservationRejected(t *testing.T) {
	g := newTestGrid(t)

	// slots 3..4 on A; slot 4 belongs to Grace even though capacity fits
	err := g.Validate(DragOperation{ReservationID: ada, Source: Cell{tableA, 1}, Candidate: Cell{tableA, 3}})
	conflict := requireReason(t, err, ReasonOccupied)
	assert.Equal(t, grace, conflict.ConflictsWith)
	assert.Contains(t, conflict.Error(), "A 21:00")

	// onto Team's range on B, where a party of 2 would not fit either
	err = g.Validate(DragOperation{ReservationID: ada, Source: Cell{tableA, 1}, Candidate: Cell{tableB, 1}})
	requireReason(t, err, ReasonOccupied)
}

func TestValidate_Capacity(t *testing.T) {
	g := newTestGrid(t)

	err := g.Validate(DragOperation{ReservationID: team, Source: Cell{tableB, 0}, Candidate: Cell{tableC, 0}})
	requireReason(t, err, ReasonCapacity)

	err = g.Validate(DragOperation{ReservationID: team, Source: Cell{tableB, 0}, Candidate: Cell{tableD, 0}})
	assert.NoError(t, err)
}

func TestValidate_RangeAndLookupFailures(t *testing.T) {
	g := newTestGrid(t)

	err := g.Validate(DragOperation{ReservationID: ada, Source: Cell{tableA, 1}, Candidate: Cell{tableC, 5}})
	requireReason(t, err, ReasonOutOfHours)

	err = g.Validate(DragOperation{ReservationID: ada, Source: Cell{tableA, 1}, Candidate: Cell{tableC, -1}})
	requireReason(t, err, ReasonOutOfHours)

	err = g.Validate(DragOperation{ReservationID: ada, Source: Cell{tableA, 1}, Candidate: Cell{uuid.New(), 0}})
	requireReason(t, err, ReasonUnknownTable)

	err = g.Validate(DragOperation{ReservationID: uuid.New(), Candidate: Cell{tableC, 0}})
	requireReason(t, err, ReasonUnknownReservation)

	err = g.Validate(DragOperation{ReservationID: gone, Source: Cell{tableC, 0}, Candidate: Cell{tableC, 2}})
	requireReason(t, err, ReasonInactive)
}

func TestApply_RelocatesOnlyNonOverlappingCells(t *testing.T) {
	g := newTestGrid(t)

	require.NoError(t, g.Apply(ada, Cell{tableA, 2}))

	_, ok := g.At(Cell{tableA, 1})
	assert.False(t, ok, "non-overlapping source slot vacated")
	for _, slot := range []int{2, 3} {
		id, ok := g.At(Cell{tableA, slot})
		require.True(t, ok)
		assert.Equal(t, ada, id)
	}

	r, _ := g.Reservation(ada)
	assert.Equal(t, 2, r.StartSlot, "overlapping slot refers to the new start")
	assert.Equal(t, "A 19:00", g.Describe(Cell{r.TableID, r.StartSlot}))
}

func TestApply_AcrossTables(t *testing.T) {
	g := newTestGrid(t)

	require.NoError(t, g.Apply(team, Cell{tableD, 3}))

	assert.Empty(t, cellsOf(g, tableB))
	assert.Equal(t, []Cell{{tableD, 3}, {tableD, 4}}, g.Occupied(team))
}

func TestClone_IsIndependent(t *testing.T) {
	g := newTestGrid(t)
	clone := g.Clone()

	require.NoError(t, g.Apply(ada, Cell{tableC, 3}))

	assert.NotEqual(t, g, clone)
	id, ok := clone.At(Cell{tableA, 1})
	require.True(t, ok)
	assert.Equal(t, ada, id)
}

func TestReservations_OrderedByColumnThenSlot(t *testing.T) {
	g := newTestGrid(t)

	var names []string
	for _, r := range g.Reservations() {
		names = append(names, r.GuestName)
	}
	assert.Equal(t, []string{"Ada", "Grace", "Team", "Gone"}, names)
}

func cellsOf(g *Grid, tableID uuid.UUID) []Cell {
	var out []Cell
	for slot := range g.Layout().Slots {
		if _, ok := g.At(Cell{tableID, slot}); ok {
			out = append(out, Cell{tableID, slot})
		}
	}
	return out
}
