package cache

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pscheid92/tablepulse/internal/domain"
	"github.com/pscheid92/tablepulse/internal/stream"
	"golang.org/x/sync/singleflight"
)

// Fetcher loads the authoritative schedule for a date.
type Fetcher interface {
	FetchSchedule(ctx context.Context, date string) (*domain.Schedule, error)
}

type Config struct {
	Date    string
	Fetcher Fetcher
	// OnChange receives a copy of the schedule after every applied change.
	OnChange func(domain.Schedule)
}

// Reconciler holds one date's schedule. Each collection has its own lock, and
// an event's transform plus write happen under the locks of every collection
// it touches, so a refetch landing mid-update never sees half of it.
type Reconciler struct {
	fetcher  Fetcher
	onChange func(domain.Schedule)

	locks map[Key]*sync.Mutex
	state domain.Schedule
	// generation counts applied events; a fetch that started before the
	// latest one cannot be trusted to contain it.
	generation atomic.Uint64

	group singleflight.Group
	wg    sync.WaitGroup
}

func NewReconciler(cfg Config) *Reconciler {
	return &Reconciler{
		fetcher:  cfg.Fetcher,
		onChange: cfg.OnChange,
		locks: map[Key]*sync.Mutex{
			KeyTables:       {},
			KeyReservations: {},
		},
		state: domain.Schedule{Date: cfg.Date},
	}
}

// Attach routes the client's domain events into the reconciler.
func (r *Reconciler) Attach(c *stream.Client) {
	for _, t := range []domain.EventType{
		domain.EventReservationCreated,
		domain.EventReservationCanceled,
		domain.EventReservationUpdated,
		domain.EventTableStatusUpdated,
	} {
		c.Handle(t, r.HandleEvent)
	}
}

// HandleEvent applies ev immediately and invalidates the touched collections
// in the background.
func (r *Reconciler) HandleEvent(ctx context.Context, ev domain.Event) {
	keys := KeysFor(ev.Type)
	if len(keys) == 0 {
		return
	}

	unlock := r.lock(keys)
	next, touched, err := Apply(r.view(keys), ev)
	if err == nil {
		r.store(keys, next)
		r.generation.Add(1)
	}
	unlock()

	if err != nil {
		slog.Warn("Dropping unreadable event", "type", ev.Type, "error", err)
		return
	}
	r.changed()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.Invalidate(ctx, touched...); err != nil {
			slog.Warn("Schedule refetch failed", "keys", touched, "error", err)
		}
	}()
}

// Invalidate refetches the schedule and overwrites the given collections with
// the server's version. Concurrent refetches of one date share a request as
// long as no event arrived in between; a result older than the latest event
// is discarded and fetched again.
func (r *Reconciler) Invalidate(ctx context.Context, keys ...Key) error {
	if len(keys) == 0 {
		return nil
	}

	date := r.Date()
	for {
		gen := r.generation.Load()
		v, err, _ := r.group.Do(date+"@"+strconv.FormatUint(gen, 10), func() (any, error) {
			return r.fetcher.FetchSchedule(ctx, date)
		})
		if err != nil {
			return fmt.Errorf("refetch schedule %s: %w", date, err)
		}
		fresh := v.(*domain.Schedule)

		unlock := r.lock(keys)
		if r.generation.Load() != gen {
			unlock()
			slog.Debug("Discarding refetch older than the latest event", "date", date)
			continue
		}
		r.store(keys, *fresh)
		unlock()

		r.changed()
		return nil
	}
}

// Refresh reloads every collection.
func (r *Reconciler) Refresh(ctx context.Context) error {
	return r.Invalidate(ctx, KeyTables, KeyReservations)
}

// Schedule returns a copy of the cached schedule.
func (r *Reconciler) Schedule() domain.Schedule {
	unlock := r.lock([]Key{KeyTables, KeyReservations})
	defer unlock()
	s := r.state
	s.Tables = slices.Clone(s.Tables)
	s.Reservations = slices.Clone(s.Reservations)
	return s
}

func (r *Reconciler) Date() string {
	unlock := r.lock([]Key{KeyReservations})
	defer unlock()
	return r.state.Date
}

// Wait blocks until background refetches have finished.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// lock acquires the collection locks in a fixed order.
func (r *Reconciler) lock(keys []Key) func() {
	ordered := slices.Compact(slices.Sorted(slices.Values(keys)))
	for _, k := range ordered {
		r.locks[k].Lock()
	}
	return func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			r.locks[ordered[i]].Unlock()
		}
	}
}

// view copies the given collections out of the state; the caller holds their locks.
func (r *Reconciler) view(keys []Key) domain.Schedule {
	var s domain.Schedule
	for _, k := range keys {
		switch k {
		case KeyTables:
			s.Tables = r.state.Tables
			s.Layout = r.state.Layout
		case KeyReservations:
			s.Reservations = r.state.Reservations
			s.Date = r.state.Date
		}
	}
	return s
}

// store writes the given collections of s; the caller holds their locks.
func (r *Reconciler) store(keys []Key, s domain.Schedule) {
	for _, k := range keys {
		switch k {
		case KeyTables:
			r.state.Tables = s.Tables
			if s.Layout != (domain.SlotLayout{}) {
				r.state.Layout = s.Layout
			}
		case KeyReservations:
			r.state.Reservations = s.Reservations
			if s.Date != "" {
				r.state.Date = s.Date
			}
		}
	}
}

func (r *Reconciler) changed() {
	if r.onChange != nil {
		r.onChange(r.Schedule())
	}
}
