package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/pscheid92/tablepulse/internal/domain"
	"github.com/pscheid92/tablepulse/internal/schedule"
	"gopkg.in/yaml.v3"
)

// layoutNamespace derives stable ids for tables and reservations named in a
// layout file, so repeated runs refer to the same grid cells.
var layoutNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://tablepulse/layout"))

type layoutFile struct {
	Layout       domain.SlotLayout   `yaml:"layout"`
	Tables       []layoutTable       `yaml:"tables"`
	Reservations []layoutReservation `yaml:"reservations"`
}

type layoutTable struct {
	Name        string `yaml:"name"`
	MinCapacity int    `yaml:"minCapacity"`
	MaxCapacity int    `yaml:"maxCapacity"`
	Status      string `yaml:"status"`
}

type layoutReservation struct {
	Guest     string `yaml:"guest"`
	Table     string `yaml:"table"`
	At        string `yaml:"at"`
	Duration  int    `yaml:"duration"`
	PartySize int    `yaml:"partySize"`
	Status    string `yaml:"status"`
}

func tableID(name string) uuid.UUID {
	return uuid.NewSHA1(layoutNamespace, []byte("table:"+name))
}

func reservationID(guest string) uuid.UUID {
	return uuid.NewSHA1(layoutNamespace, []byte("reservation:"+guest))
}

// parseLayout reads a YAML grid description into a schedule. Guests and table
// names must be unique within the file.
func parseLayout(r io.Reader) (domain.Schedule, error) {
	var f layoutFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return domain.Schedule{}, fmt.Errorf("decode layout: %w", err)
	}
	if err := f.Layout.Validate(); err != nil {
		return domain.Schedule{}, fmt.Errorf("layout: %w", err)
	}

	sched := domain.Schedule{Layout: f.Layout}
	seen := make(map[string]bool)

	for _, t := range f.Tables {
		if t.Name == "" || seen["t:"+t.Name] {
			return domain.Schedule{}, fmt.Errorf("table names must be unique and non-empty, got %q", t.Name)
		}
		seen["t:"+t.Name] = true

		status := domain.TableAvailable
		if t.Status != "" {
			s, err := domain.ParseTableStatus(t.Status)
			if err != nil {
				return domain.Schedule{}, fmt.Errorf("table %s: %w", t.Name, err)
			}
			status = s
		}
		sched.Tables = append(sched.Tables, domain.Table{
			ID:          tableID(t.Name),
			Name:        t.Name,
			MinCapacity: t.MinCapacity,
			MaxCapacity: t.MaxCapacity,
			Status:      status,
		})
	}

	for _, r := range f.Reservations {
		if r.Guest == "" || seen["r:"+r.Guest] {
			return domain.Schedule{}, fmt.Errorf("guest names must be unique and non-empty, got %q", r.Guest)
		}
		seen["r:"+r.Guest] = true
		if !seen["t:"+r.Table] {
			return domain.Schedule{}, fmt.Errorf("reservation %s: unknown table %q", r.Guest, r.Table)
		}
		slot, err := f.Layout.SlotOf(r.At)
		if err != nil {
			return domain.Schedule{}, fmt.Errorf("reservation %s: %w", r.Guest, err)
		}

		status := domain.ReservationConfirmed
		if r.Status != "" {
			status = domain.ReservationStatus(r.Status)
		}
		sched.Reservations = append(sched.Reservations, domain.Reservation{
			ID:            reservationID(r.Guest),
			TableID:       tableID(r.Table),
			StartSlot:     slot,
			DurationSlots: r.Duration,
			PartySize:     r.PartySize,
			GuestName:     r.Guest,
			Status:        status,
		})
	}

	return sched, nil
}

func newGrid(s domain.Schedule) (*schedule.Grid, error) {
	layout := s.Layout
	if layout.Slots == 0 {
		return nil, fmt.Errorf("schedule for %s has no slot layout", s.Date)
	}
	return schedule.NewGrid(layout, s.Tables, s.Reservations)
}

// resolveTable accepts a table id or name.
func resolveTable(s domain.Schedule, ref string) (domain.Table, error) {
	if id, err := uuid.Parse(ref); err == nil {
		for _, t := range s.Tables {
			if t.ID == id {
				return t, nil
			}
		}
	}
	for _, t := range s.Tables {
		if strings.EqualFold(t.Name, ref) {
			return t, nil
		}
	}
	return domain.Table{}, fmt.Errorf("no table %q", ref)
}

// resolveReservation accepts a reservation id or guest name. A guest name
// must match exactly one reservation.
func resolveReservation(s domain.Schedule, ref string) (domain.Reservation, error) {
	if id, err := uuid.Parse(ref); err == nil {
		for _, r := range s.Reservations {
			if r.ID == id {
				return r, nil
			}
		}
	}

	var found []domain.Reservation
	for _, r := range s.Reservations {
		if strings.EqualFold(r.GuestName, ref) {
			found = append(found, r)
		}
	}
	switch len(found) {
	case 0:
		return domain.Reservation{}, fmt.Errorf("no reservation %q", ref)
	case 1:
		return found[0], nil
	default:
		return domain.Reservation{}, fmt.Errorf("guest name %q matches %d reservations, use the id", ref, len(found))
	}
}

// resolveCell turns a table reference and an HH:MM label into a grid cell.
func resolveCell(s domain.Schedule, tableRef, at string) (schedule.Cell, error) {
	table, err := resolveTable(s, tableRef)
	if err != nil {
		return schedule.Cell{}, err
	}
	slot, err := s.Layout.SlotOf(at)
	if err != nil {
		return schedule.Cell{}, err
	}
	return schedule.Cell{TableID: table.ID, Slot: slot}, nil
}
