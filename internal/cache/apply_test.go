package cache

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
	ada    = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	grace  = uuid.MustParse("00000000-0000-0000-0000-0000000000a2")
)

func testSchedule() domain.Schedule {
	return domain.Schedule{
		Date: "2026-03-14",
		Tables: []domain.Table{
			{ID: tableA, Name: "A", MinCapacity: 2, MaxCapacity: 4, Status: domain.TableAvailable},
			{ID: tableB, Name: "B", MinCapacity: 4, MaxCapacity: 8, Status: domain.TableAvailable},
		},
		Reservations: []domain.Reservation{
			{ID: ada, TableID: tableA, Date: "2026-03-14", StartSlot: 1, PartySize: 2, GuestName: "Ada", Status: domain.ReservationConfirmed},
		},
	}
}

func event(t *testing.T, typ domain.EventType, payload any) domain.Event {
	t.Helper()
	ev, err := domain.NewEvent(typ, payload)
	require.NoError(t, err)
	return ev
}

func ptr[T any](v T) *T { return &v }

func TestApply_Idempotent(t *testing.T) {
	events := map[string]domain.Event{
		"created": event(t, domain.EventReservationCreated, domain.Reservation{
			ID: grace, TableID: tableB, Date: "2026-03-14", StartSlot: 3, PartySize: 5, GuestName: "Grace", Status: domain.ReservationPending,
		}),
		"created existing": event(t, domain.EventReservationCreated, domain.Reservation{
			ID: ada, TableID: tableA, Date: "2026-03-14", StartSlot: 2, PartySize: 2, GuestName: "Ada", Status: domain.ReservationConfirmed,
		}),
		"canceled": event(t, domain.EventReservationCanceled, domain.ReservationCanceledPayload{ID: ada}),
		"updated": event(t, domain.EventReservationUpdated, domain.ReservationUpdatePayload{
			ID: ada, TableID: ptr(tableB), StartSlot: ptr(4),
		}),
		"table status": event(t, domain.EventTableStatusUpdated, domain.TableStatusPayload{TableID: tableA, Status: domain.TableOccupied}),
	}

	for name, ev := range events {
		t.Run(name, func(t *testing.T) {
			once, keys, err := Apply(testSchedule(), ev)
			require.NoError(t, err)
			require.NotEmpty(t, keys)

			twice, _, err := Apply(once, ev)
			require.NoError(t, err)

			assert.Equal(t, once, twice)
		})
	}
}

func TestApply_CreatedPrependsOrReplaces(t *testing.T) {
	fresh := domain.Reservation{ID: grace, Date: "2026-03-14", GuestName: "Grace"}
	got, keys, err := Apply(testSchedule(), event(t, domain.EventReservationCreated, fresh))
	require.NoError(t, err)
	assert.Equal(t, []Key{KeyReservations}, keys)
	require.Len(t, got.Reservations, 2)
	assert.Equal(t, grace, got.Reservations[0].ID)

	again := domain.Reservation{ID: ada, Date: "2026-03-14", GuestName: "Ada L."}
	got, _, err = Apply(got, event(t, domain.EventReservationCreated, again))
	require.NoError(t, err)
	require.Len(t, got.Reservations, 2)
	assert.Equal(t, "Ada L.", got.Reservations[1].GuestName)
}

func TestApply_CreatedForOtherDateOnlyInvalidates(t *testing.T) {
	other := domain.Reservation{ID: grace, Date: "2026-03-15"}
	got, keys, err := Apply(testSchedule(), event(t, domain.EventReservationCreated, other))

	require.NoError(t, err)
	assert.Equal(t, testSchedule(), got)
	assert.Equal(t, []Key{KeyReservations}, keys)
}

func TestApply_UpdatedMergesOnlyPresentFields(t *testing.T) {
	ev := event(t, domain.EventReservationUpdated, domain.ReservationUpdatePayload{ID: ada, StartSlot: ptr(3)})

	got, _, err := Apply(testSchedule(), ev)

	require.NoError(t, err)
	r := got.Reservations[0]
	assert.Equal(t, 3, r.StartSlot)
	assert.Equal(t, tableA, r.TableID)
	assert.Equal(t, "Ada", r.GuestName)
	assert.Equal(t, domain.ReservationConfirmed, r.Status)
}

func TestApply_UnknownRecordIsNoop(t *testing.T) {
	ev := event(t, domain.EventReservationCanceled, domain.ReservationCanceledPayload{ID: uuid.New()})

	got, keys, err := Apply(testSchedule(), ev)

	require.NoError(t, err)
	assert.Equal(t, testSchedule(), got)
	assert.Equal(t, []Key{KeyReservations}, keys, "still invalidated so the server decides")
}

func TestApply_DoesNotModifyInput(t *testing.T) {
	in := testSchedule()

	_, _, err := Apply(in, event(t, domain.EventReservationCanceled, domain.ReservationCanceledPayload{ID: ada}))
	require.NoError(t, err)
	_, _, err = Apply(in, event(t, domain.EventTableStatusUpdated, domain.TableStatusPayload{TableID: tableA, Status: domain.TableReserved}))
	require.NoError(t, err)

	assert.Equal(t, testSchedule(), in)
}

func TestApply_IgnoresControlMessages(t *testing.T) {
	got, keys, err := Apply(testSchedule(), domain.Event{Type: domain.EventPong})

	require.NoError(t, err)
	assert.Nil(t, keys)
	assert.Equal(t, testSchedule(), got)
}

func TestApply_MalformedPayload(t *testing.T) {
	tests := []domain.Event{
		{Type: domain.EventReservationUpdated},
		{Type: domain.EventReservationCreated, Payload: []byte(`{"guestName":"no id"}`)},
		{Type: domain.EventTableStatusUpdated, Payload: []byte(`[1,2]`)},
	}

	for _, ev := range tests {
		_, keys, err := Apply(testSchedule(), ev)
		assert.ErrorIs(t, err, domain.ErrMalformedMessage, string(ev.Type))
		assert.Nil(t, keys)
	}
}
