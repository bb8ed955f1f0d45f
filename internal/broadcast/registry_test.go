package broadcast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/tablepulse/internal/adapter/metrics"
	"github.com/pscheid92/tablepulse/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	messageType int
	data        []byte
}

// fakeSocket records frames. When hold is set, writes block until the socket
// is closed, which lets tests fill a connection's send buffer.
type fakeSocket struct {
	mu     sync.Mutex
	frames []frame
	hold   bool
	closed chan struct{}
	once   sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{closed: make(chan struct{})}
}

func (s *fakeSocket) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	hold := s.hold
	s.mu.Unlock()
	if hold {
		<-s.closed
		return ws.ErrCloseSent
	}

	select {
	case <-s.closed:
		return ws.ErrCloseSent
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame{messageType: messageType, data: data})
	return nil
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeSocket) textFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]byte
	for _, f := range s.frames {
		if f.messageType == ws.TextMessage {
			out = append(out, f.data)
		}
	}
	return out
}

func (s *fakeSocket) count(messageType int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.frames {
		if f.messageType == messageType {
			n++
		}
	}
	return n
}

func (s *fakeSocket) closeCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.frames {
		if f.messageType == ws.CloseMessage && len(f.data) >= 2 {
			return int(f.data[0])<<8 | int(f.data[1])
		}
	}
	return 0
}

func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	r := NewRegistry(opts)
	t.Cleanup(r.Stop)
	return r
}

func register(t *testing.T, r *Registry, tenantID uuid.UUID) (*Conn, *fakeSocket) {
	t.Helper()
	socket := newFakeSocket()
	conn := NewConn(socket, Identity{TenantID: tenantID, UserID: uuid.New()}, r.clock)
	t.Cleanup(conn.Terminate)
	require.NoError(t, r.Register(conn))
	return conn, socket
}

func testEvent(t *testing.T) domain.Event {
	t.Helper()
	ev, err := domain.NewEvent(domain.EventTableStatusUpdated, domain.TableStatusPayload{TableID: uuid.New(), Status: domain.TableOccupied})
	require.NoError(t, err)
	return ev
}

func waitForFrames(t *testing.T, s *fakeSocket, n int) [][]byte {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.textFrames()) >= n }, time.Second, time.Millisecond)
	return s.textFrames()
}

func TestRegistry_BroadcastNeverCrossesTenants(t *testing.T) {
	r := newTestRegistry(t, Options{})
	tenant1, tenant2 := uuid.New(), uuid.New()

	_, a1 := register(t, r, tenant1)
	_, a2 := register(t, r, tenant1)
	_, b1 := register(t, r, tenant2)

	delivered := r.BroadcastToTenant(tenant1, testEvent(t))
	assert.Equal(t, 2, delivered)

	for _, s := range []*fakeSocket{a1, a2} {
		frames := waitForFrames(t, s, 1)
		var got domain.Event
		require.NoError(t, json.Unmarshal(frames[0], &got))
		assert.Equal(t, tenant1, got.TenantID)
		assert.Equal(t, domain.EventTableStatusUpdated, got.Type)
		assert.False(t, got.Timestamp.IsZero())
	}

	// give any stray delivery a chance to show up
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, b1.textFrames())
}

func TestRegistry_ClosedMemberRemovedDuringBroadcast(t *testing.T) {
	r := newTestRegistry(t, Options{})
	tenantID := uuid.New()

	_, first := register(t, r, tenantID)
	gone, goneSocket := register(t, r, tenantID)
	_, last := register(t, r, tenantID)
	require.Equal(t, 3, r.TenantCount(tenantID))

	// closed behind the registry's back, as a dead peer would be
	gone.Terminate()

	assert.Equal(t, 2, r.BroadcastToTenant(tenantID, testEvent(t)))
	assert.Equal(t, 2, r.TenantCount(tenantID))

	waitForFrames(t, first, 1)
	waitForFrames(t, last, 1)
	assert.Empty(t, goneSocket.textFrames())
}

func TestRegistry_SlowMemberEvictedOthersStillServed(t *testing.T) {
	m := metrics.NewStreamMetrics(prometheus.NewRegistry())
	r := newTestRegistry(t, Options{Metrics: m})
	tenantID := uuid.New()

	_, before := register(t, r, tenantID)
	slow, slowSocket := register(t, r, tenantID)
	_, after := register(t, r, tenantID)

	slowSocket.mu.Lock()
	slowSocket.hold = true
	slowSocket.mu.Unlock()

	// at most one frame parks the writer; the rest fill the buffer
	for range messageBufferSize + 2 {
		slow.Send([]byte(`{}`))
	}
	require.False(t, slow.Send([]byte(`{}`)))

	assert.Equal(t, 2, r.BroadcastToTenant(tenantID, testEvent(t)))
	assert.Equal(t, 2, r.TenantCount(tenantID))
	assert.False(t, slow.IsOpen())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Evictions.WithLabelValues("send_failed")))

	waitForFrames(t, before, 1)
	waitForFrames(t, after, 1)
}

func TestRegistry_RegisterRules(t *testing.T) {
	r := newTestRegistry(t, Options{MaxConnectionsPerTenant: 2})
	tenantID := uuid.New()

	conn, _ := register(t, r, tenantID)
	assert.ErrorIs(t, r.Register(conn), ErrAlreadyRegistered)

	register(t, r, tenantID)
	extra := NewConn(newFakeSocket(), Identity{TenantID: tenantID, UserID: uuid.New()}, r.clock)
	t.Cleanup(extra.Terminate)
	assert.ErrorIs(t, r.Register(extra), ErrTenantFull)

	anonymous := NewConn(newFakeSocket(), Identity{TenantID: tenantID}, r.clock)
	t.Cleanup(anonymous.Terminate)
	assert.False(t, anonymous.Authenticated())
	assert.ErrorIs(t, r.Register(anonymous), ErrUnauthenticated)

	// other tenants are unaffected by the cap
	register(t, r, uuid.New())
}

func TestRegistry_UnregisterDropsEmptyTenant(t *testing.T) {
	var mu sync.Mutex
	var emptied []uuid.UUID
	r := newTestRegistry(t, Options{OnTenantEmpty: func(id uuid.UUID) {
		mu.Lock()
		defer mu.Unlock()
		emptied = append(emptied, id)
	}})
	tenantID := uuid.New()

	c1, s1 := register(t, r, tenantID)
	c2, _ := register(t, r, tenantID)

	r.Unregister(c1)
	require.Eventually(t, func() bool { return r.TenantCount(tenantID) == 1 }, time.Second, time.Millisecond)
	assert.True(t, s1.isClosed())
	mu.Lock()
	assert.Empty(t, emptied)
	mu.Unlock()

	r.Unregister(c2)
	r.Unregister(c2)
	require.Eventually(t, func() bool { return r.TenantCount(tenantID) == 0 }, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uuid.UUID{tenantID}, emptied)
}

func TestRegistry_BroadcastGlobalReachesEveryTenant(t *testing.T) {
	r := newTestRegistry(t, Options{})
	_, a := register(t, r, uuid.New())
	_, b := register(t, r, uuid.New())

	ev, err := domain.NewEvent(domain.EventError, domain.ErrorPayload{Message: "maintenance in 5 minutes"})
	require.NoError(t, err)

	assert.Equal(t, 2, r.BroadcastGlobal(ev, "scheduled maintenance"))

	for _, s := range []*fakeSocket{a, b} {
		frames := waitForFrames(t, s, 1)
		assert.NotContains(t, string(frames[0]), "tenantId")
	}
}

func TestRegistry_BroadcastGlobalRefusesDomainEvents(t *testing.T) {
	r := newTestRegistry(t, Options{})
	tenantID := uuid.New()
	_, socket := register(t, r, tenantID)

	ev, err := domain.NewEvent(domain.EventReservationCreated, map[string]string{"id": "r-1"})
	require.NoError(t, err)

	assert.Zero(t, r.BroadcastGlobal(ev, "misrouted"))

	require.Equal(t, 1, r.BroadcastToTenant(tenantID, testEvent(t)))
	frames := waitForFrames(t, socket, 1)
	assert.NotContains(t, string(frames[0]), string(domain.EventReservationCreated))
}

func TestRegistry_StopClosesWithGoingAway(t *testing.T) {
	r := NewRegistry(Options{Clock: clockwork.NewRealClock()})
	tenantID := uuid.New()
	_, socket := register(t, r, tenantID)

	r.Stop()

	assert.True(t, socket.isClosed())
	assert.Equal(t, ws.CloseGoingAway, socket.closeCode())
	assert.ErrorIs(t, r.Register(NewConn(newFakeSocket(), Identity{TenantID: tenantID, UserID: uuid.New()}, r.clock)), ErrRegistryStopped)
	assert.Zero(t, r.BroadcastToTenant(tenantID, testEvent(t)))
}

func TestRegistry_OverRealWebSocket(t *testing.T) {
	r := newTestRegistry(t, Options{})
	tenantID := uuid.New()

	server, client := newTestConnPair(t)
	conn := NewConn(server, Identity{TenantID: tenantID, UserID: uuid.New()}, r.clock)
	require.NoError(t, r.Register(conn))

	require.Equal(t, 1, r.BroadcastToTenant(tenantID, testEvent(t)))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	_, msg, err := client.ReadMessage()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "TABLE_STATUS_UPDATED", got["type"])
	assert.Equal(t, tenantID.String(), got["tenantId"])
}

func newTestConnPair(t *testing.T) (server *ws.Conn, client *ws.Conn) {
	t.Helper()
	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	ready := make(chan *ws.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		ready <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-ready
	t.Cleanup(func() { serverConn.Close() })

	return serverConn, clientConn
}
