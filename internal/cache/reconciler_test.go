package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pscheid92/tablepulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockFetcher struct {
	calls           atomic.Int32
	fetchScheduleFn func(ctx context.Context, date string) (*domain.Schedule, error)
}

func (m *mockFetcher) FetchSchedule(ctx context.Context, date string) (*domain.Schedule, error) {
	m.calls.Add(1)
	return m.fetchScheduleFn(ctx, date)
}

func serving(s domain.Schedule) *mockFetcher {
	return &mockFetcher{fetchScheduleFn: func(context.Context, string) (*domain.Schedule, error) {
		return &s, nil
	}}
}

func TestReconciler_SpeculativeThenAuthoritative(t *testing.T) {
	server := testSchedule()
	server.Reservations[0].Status = domain.ReservationSeated

	var mu sync.Mutex
	var seen []domain.Schedule
	r := NewReconciler(Config{
		Date:    "2026-03-14",
		Fetcher: serving(server),
		OnChange: func(s domain.Schedule) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, s)
		},
	})
	require.NoError(t, r.Refresh(context.Background()))

	r.HandleEvent(context.Background(), event(t, domain.EventReservationCanceled, domain.ReservationCanceledPayload{ID: ada}))
	r.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 3, "refresh, speculative apply, refetch")
	assert.Equal(t, domain.ReservationCanceled, seen[1].Reservations[0].Status)
	assert.Equal(t, domain.ReservationSeated, seen[2].Reservations[0].Status)
	assert.Equal(t, server, r.Schedule())
}

func TestReconciler_RefetchFailureKeepsSpeculativeState(t *testing.T) {
	fetcher := serving(testSchedule())
	r := NewReconciler(Config{Date: "2026-03-14", Fetcher: fetcher})
	require.NoError(t, r.Refresh(context.Background()))

	fetcher.fetchScheduleFn = func(context.Context, string) (*domain.Schedule, error) {
		return nil, errors.New("502 bad gateway")
	}
	r.HandleEvent(context.Background(), event(t, domain.EventTableStatusUpdated, domain.TableStatusPayload{TableID: tableB, Status: domain.TableOutOfService}))
	r.Wait()

	got := r.Schedule()
	assert.Equal(t, domain.TableOutOfService, got.Tables[1].Status)
	assert.Error(t, r.Invalidate(context.Background(), KeyTables))
}

func TestReconciler_DuplicateDeliveryConverges(t *testing.T) {
	r := NewReconciler(Config{Date: "2026-03-14", Fetcher: serving(testSchedule())})
	require.NoError(t, r.Refresh(context.Background()))
	ev := event(t, domain.EventReservationUpdated, domain.ReservationUpdatePayload{ID: ada, StartSlot: ptr(2)})

	next, _, err := Apply(r.Schedule(), ev)
	require.NoError(t, err)

	// hold refetches back so only the transform is observed
	r.fetcher = &mockFetcher{fetchScheduleFn: func(ctx context.Context, _ string) (*domain.Schedule, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	ctx, cancel := context.WithCancel(context.Background())
	r.HandleEvent(ctx, ev)
	r.HandleEvent(ctx, ev)

	assert.Equal(t, next, r.Schedule())
	cancel()
	r.Wait()
}

func TestReconciler_ConcurrentInvalidationsShareOneFetch(t *testing.T) {
	release := make(chan struct{})
	fetcher := &mockFetcher{fetchScheduleFn: func(context.Context, string) (*domain.Schedule, error) {
		<-release
		s := testSchedule()
		return &s, nil
	}}
	r := NewReconciler(Config{Date: "2026-03-14", Fetcher: fetcher})

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Invalidate(context.Background(), KeyReservations))
		}()
	}

	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.Equal(t, testSchedule().Reservations, r.Schedule().Reservations)
}

func TestReconciler_InvalidateOnlyOverwritesNamedKeys(t *testing.T) {
	server := testSchedule()
	server.Tables[0].Status = domain.TableReserved
	server.Reservations = nil

	r := NewReconciler(Config{Date: "2026-03-14", Fetcher: serving(testSchedule())})
	require.NoError(t, r.Refresh(context.Background()))
	r.fetcher = serving(server)

	require.NoError(t, r.Invalidate(context.Background(), KeyTables))

	got := r.Schedule()
	assert.Equal(t, domain.TableReserved, got.Tables[0].Status)
	assert.Len(t, got.Reservations, 1)
}

func TestReconciler_MalformedEventDropped(t *testing.T) {
	fetcher := serving(testSchedule())
	r := NewReconciler(Config{Date: "2026-03-14", Fetcher: fetcher})
	require.NoError(t, r.Refresh(context.Background()))

	r.HandleEvent(context.Background(), domain.Event{Type: domain.EventReservationCanceled, Payload: []byte(`"nope"`)})
	r.Wait()

	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.Equal(t, testSchedule(), r.Schedule())
}

func TestReconciler_EventDuringRefreshTriggersNewerFetch(t *testing.T) {
	before := testSchedule()
	created := domain.Reservation{
		ID: grace, TableID: tableB, Date: "2026-03-14",
		StartSlot: 3, PartySize: 4, GuestName: "Grace", Status: domain.ReservationConfirmed,
	}
	after := testSchedule()
	after.Reservations = append(after.Reservations, created)

	started := make(chan struct{})
	release := make(chan struct{})
	fetcher := &mockFetcher{}
	fetcher.fetchScheduleFn = func(context.Context, string) (*domain.Schedule, error) {
		if fetcher.calls.Load() == 1 {
			close(started)
			<-release
			s := before
			return &s, nil
		}
		s := after
		return &s, nil
	}
	r := NewReconciler(Config{Date: "2026-03-14", Fetcher: fetcher})

	refreshed := make(chan error, 1)
	go func() { refreshed <- r.Refresh(context.Background()) }()
	<-started

	r.HandleEvent(context.Background(), event(t, domain.EventReservationCreated, created))
	close(release)
	require.NoError(t, <-refreshed)
	r.Wait()

	assert.GreaterOrEqual(t, fetcher.calls.Load(), int32(2))
	assert.ElementsMatch(t, after.Reservations, r.Schedule().Reservations)
}
