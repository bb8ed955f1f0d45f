package nats

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	natsio "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/tablepulse/internal/adapter/metrics"
	"github.com/pscheid92/tablepulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEmbeddedNATS runs an in-process server on a random port.
func startEmbeddedNATS(t *testing.T) *server.Server {
	t.Helper()

	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("embedded NATS server not ready within timeout")
	}

	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func connect(t *testing.T, ns *server.Server) *natsio.Conn {
	t.Helper()
	nc, err := Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events map[uuid.UUID][]domain.Event
}

func (d *recordingDispatcher) BroadcastToTenant(tenantID uuid.UUID, ev domain.Event) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.events == nil {
		d.events = make(map[uuid.UUID][]domain.Event)
	}
	d.events[tenantID] = append(d.events[tenantID], ev)
	return 1
}

func (d *recordingDispatcher) get(tenantID uuid.UUID) []domain.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.Event(nil), d.events[tenantID]...)
}

func TestSubject(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assert.Equal(t, "tablepulse.events.6ba7b810-9dad-11d1-80b4-00c04fd430c8", Subject(id))
}

func TestRelay_FansOutPerTenant(t *testing.T) {
	ns := startEmbeddedNATS(t)
	m := metrics.NewRelayMetrics(prometheus.NewRegistry())
	publisher := NewRelay(connect(t, ns), m)
	a, b := NewRelay(connect(t, ns), nil), NewRelay(connect(t, ns), nil)
	dispatchA, dispatchB := &recordingDispatcher{}, &recordingDispatcher{}

	baseline := ns.NumSubscriptions()
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 2)
	go func() { errs <- a.Run(ctx, dispatchA) }()
	go func() { errs <- b.Run(ctx, dispatchB) }()

	require.Eventually(t, func() bool { return ns.NumSubscriptions() >= baseline+2 }, 5*time.Second, 10*time.Millisecond)

	tenant, other := uuid.New(), uuid.New()
	ev, err := domain.NewEvent(domain.EventReservationCanceled, domain.ReservationCanceledPayload{ID: uuid.New()})
	require.NoError(t, err)
	require.NoError(t, publisher.Publish(ctx, tenant, ev))

	for _, d := range []*recordingDispatcher{dispatchA, dispatchB} {
		require.Eventually(t, func() bool { return len(d.get(tenant)) == 1 }, 5*time.Second, 10*time.Millisecond)
		assert.Equal(t, domain.EventReservationCanceled, d.get(tenant)[0].Type)
		assert.Empty(t, d.get(other))
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Published.WithLabelValues(backendLabel, "ok")))

	cancel()
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)
}

func TestRelay_DropsMalformed(t *testing.T) {
	m := metrics.NewRelayMetrics(prometheus.NewRegistry())
	relay := NewRelay(nil, m)
	d := &recordingDispatcher{}
	tenant := uuid.New()

	relay.deliver(d, &natsio.Msg{Subject: subjectPrefix + "not-a-uuid", Data: []byte(`{"type":"PING"}`)})
	relay.deliver(d, &natsio.Msg{Subject: Subject(tenant), Data: []byte(`{`)})
	relay.deliver(d, &natsio.Msg{Subject: Subject(tenant), Data: []byte(`{"type":"TABLE_STATUS_UPDATED"}`)})

	assert.Len(t, d.get(tenant), 1)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Received.WithLabelValues(backendLabel, "malformed")))
}

func TestRelay_PublishOnClosedConnection(t *testing.T) {
	ns := startEmbeddedNATS(t)
	nc := connect(t, ns)
	nc.Close()

	err := NewRelay(nc, nil).Publish(context.Background(), uuid.New(), domain.Event{Type: domain.EventPing})

	assert.ErrorIs(t, err, natsio.ErrConnectionClosed)
}
