// Package cache keeps the client's copy of a schedule in step with the stream.
//
// Every domain event is applied to the cached collections at once through a
// pure transform, then the touched collections are invalidated and refetched
// so the authoritative server state overwrites whatever the transform guessed.
package cache

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/pscheid92/tablepulse/internal/domain"
)

// Key names a cached collection.
type Key string

const (
	KeyTables       Key = "tables"
	KeyReservations Key = "reservations"
)

// KeysFor returns the collections an event type touches.
func KeysFor(t domain.EventType) []Key {
	switch t {
	case domain.EventReservationCreated, domain.EventReservationCanceled, domain.EventReservationUpdated:
		return []Key{KeyReservations}
	case domain.EventTableStatusUpdated:
		return []Key{KeyTables}
	default:
		return nil
	}
}

// Apply returns s with ev applied and the keys to invalidate afterwards. It
// never modifies s, and applying the same event twice gives the same result
// as applying it once.
func Apply(s domain.Schedule, ev domain.Event) (domain.Schedule, []Key, error) {
	keys := KeysFor(ev.Type)
	if len(keys) == 0 {
		return s, nil, nil
	}

	switch ev.Type {
	case domain.EventReservationCreated:
		var r domain.Reservation
		if err := ev.DecodePayload(&r); err != nil {
			return s, nil, err
		}
		if r.ID == uuid.Nil {
			return s, nil, fmt.Errorf("%w: %s without id", domain.ErrMalformedMessage, ev.Type)
		}
		if s.Date != "" && r.Date != "" && r.Date != s.Date {
			return s, keys, nil
		}
		s.Reservations = upsertFront(s.Reservations, r)

	case domain.EventReservationCanceled:
		var p domain.ReservationCanceledPayload
		if err := ev.DecodePayload(&p); err != nil {
			return s, nil, err
		}
		s.Reservations = updateReservation(s.Reservations, p.ID, func(r *domain.Reservation) {
			r.Status = domain.ReservationCanceled
		})

	case domain.EventReservationUpdated:
		var p domain.ReservationUpdatePayload
		if err := ev.DecodePayload(&p); err != nil {
			return s, nil, err
		}
		s.Reservations = updateReservation(s.Reservations, p.ID, func(r *domain.Reservation) {
			merge(r, p)
		})

	case domain.EventTableStatusUpdated:
		var p domain.TableStatusPayload
		if err := ev.DecodePayload(&p); err != nil {
			return s, nil, err
		}
		if i := slices.IndexFunc(s.Tables, func(t domain.Table) bool { return t.ID == p.TableID }); i >= 0 {
			s.Tables = slices.Clone(s.Tables)
			s.Tables[i].Status = p.Status
		}
	}

	return s, keys, nil
}

// upsertFront replaces the record with r's id, or prepends r when absent.
func upsertFront(list []domain.Reservation, r domain.Reservation) []domain.Reservation {
	if i := slices.IndexFunc(list, func(x domain.Reservation) bool { return x.ID == r.ID }); i >= 0 {
		out := slices.Clone(list)
		out[i] = r
		return out
	}
	out := make([]domain.Reservation, 0, len(list)+1)
	out = append(out, r)
	return append(out, list...)
}

func updateReservation(list []domain.Reservation, id uuid.UUID, fn func(*domain.Reservation)) []domain.Reservation {
	i := slices.IndexFunc(list, func(x domain.Reservation) bool { return x.ID == id })
	if i < 0 {
		return list
	}
	out := slices.Clone(list)
	fn(&out[i])
	return out
}

func merge(r *domain.Reservation, p domain.ReservationUpdatePayload) {
	if p.TableID != nil {
		r.TableID = *p.TableID
	}
	if p.StartSlot != nil {
		r.StartSlot = *p.StartSlot
	}
	if p.DurationSlots != nil {
		r.DurationSlots = *p.DurationSlots
	}
	if p.PartySize != nil {
		r.PartySize = *p.PartySize
	}
	if p.GuestName != nil {
		r.GuestName = *p.GuestName
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.UpdatedAt != nil {
		r.UpdatedAt = *p.UpdatedAt
	}
}
