package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/tablepulse/internal/adapter/metrics"
	"github.com/pscheid92/tablepulse/internal/domain"
)

const (
	commandTimeout       = 5 * time.Second
	stopTimeout          = 10 * time.Second
	commandChannelSize   = 256
	commandDepthWarning  = 200
	defaultMaxPerTenant  = 500
	shutdownCloseMessage = "server shutting down"
)

var (
	ErrAlreadyRegistered = errors.New("connection already registered")
	ErrTenantFull        = errors.New("tenant connection limit reached")
	ErrUnauthenticated   = errors.New("connection is not authenticated")
	ErrRegistryStopped   = errors.New("registry stopped")
)

// registryCmd is the command interface for the Registry actor.
type registryCmd interface{ isRegistryCmd() }

type baseRegistryCmd struct{}

func (baseRegistryCmd) isRegistryCmd() {}

type registerCmd struct {
	baseRegistryCmd
	conn         *Conn
	errorChannel chan error
}

type unregisterCmd struct {
	baseRegistryCmd
	conn *Conn
}

type broadcastCmd struct {
	baseRegistryCmd
	tenantID     uuid.UUID
	data         []byte
	replyChannel chan int
}

type broadcastGlobalCmd struct {
	baseRegistryCmd
	data         []byte
	reason       string
	replyChannel chan int
}

type tenantCountCmd struct {
	baseRegistryCmd
	tenantID     uuid.UUID
	replyChannel chan int
}

type snapshotCmd struct {
	baseRegistryCmd
	replyChannel chan []*Conn
}

type stopCmd struct {
	baseRegistryCmd
}

type Options struct {
	Clock                   clockwork.Clock
	MaxConnectionsPerTenant int
	// OnTenantEmpty runs on the registry goroutine when a tenant's last
	// local connection leaves. It must not block.
	OnTenantEmpty func(tenantID uuid.UUID)
	Metrics       *metrics.StreamMetrics
}

// Registry maps tenants to their live connections and dispatches events to
// exactly one tenant group at a time.
type Registry struct {
	cmdCh         chan registryCmd
	clock         clockwork.Clock
	groups        map[uuid.UUID][]*Conn
	byID          map[uuid.UUID]*Conn
	maxPerTenant  int
	onTenantEmpty func(uuid.UUID)
	metrics       *metrics.StreamMetrics
	done          chan struct{}
	stopTimeout   time.Duration
}

func NewRegistry(opts Options) *Registry {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	maxPerTenant := opts.MaxConnectionsPerTenant
	if maxPerTenant <= 0 {
		maxPerTenant = defaultMaxPerTenant
	}

	r := &Registry{
		cmdCh:         make(chan registryCmd, commandChannelSize),
		clock:         clock,
		groups:        make(map[uuid.UUID][]*Conn),
		byID:          make(map[uuid.UUID]*Conn),
		maxPerTenant:  maxPerTenant,
		onTenantEmpty: opts.OnTenantEmpty,
		metrics:       opts.Metrics,
		done:          make(chan struct{}),
		stopTimeout:   stopTimeout,
	}
	go r.run()
	return r
}

// Register adds a validated connection to its tenant group.
func (r *Registry) Register(conn *Conn) error {
	if !conn.Authenticated() {
		return ErrUnauthenticated
	}

	errCh := make(chan error, 1)
	if !r.send(registerCmd{conn: conn, errorChannel: errCh}) {
		return ErrRegistryStopped
	}

	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister removes a connection and terminates it. Unknown connections are ignored.
func (r *Registry) Unregister(conn *Conn) {
	r.send(unregisterCmd{conn: conn})
}

// BroadcastToTenant delivers ev to every open, authenticated connection of
// tenantID and returns how many accepted it, or -1 if the registry did not
// answer in time. Members that are closed or cannot take the frame are removed.
func (r *Registry) BroadcastToTenant(tenantID uuid.UUID, ev domain.Event) int {
	data, err := json.Marshal(ev.Stamped(tenantID, r.clock.Now()))
	if err != nil {
		slog.Error("Failed to marshal broadcast event", "tenant_id", tenantID, "type", ev.Type, "error", err)
		return 0
	}

	replyCh := make(chan int, 1)
	if !r.send(broadcastCmd{tenantID: tenantID, data: data, replyChannel: replyCh}) {
		return 0
	}
	return r.await(replyCh, "BroadcastToTenant")
}

// BroadcastGlobal delivers ev to every tenant group. It exists only for
// administrative notices (maintenance, forced logout) and is logged at WARN
// with reason; domain events always go through BroadcastToTenant and are
// refused here.
func (r *Registry) BroadcastGlobal(ev domain.Event, reason string) int {
	if ev.Type.IsDomain() {
		slog.Error("Refusing global broadcast of domain event", "type", ev.Type, "reason", reason)
		return 0
	}
	ev.TenantID = uuid.Nil
	ev.Timestamp = r.clock.Now().UTC()
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("Failed to marshal global event", "type", ev.Type, "error", err)
		return 0
	}

	replyCh := make(chan int, 1)
	if !r.send(broadcastGlobalCmd{data: data, reason: reason, replyChannel: replyCh}) {
		return 0
	}
	return r.await(replyCh, "BroadcastGlobal")
}

// TenantCount returns the number of registered connections for a tenant.
// Returns -1 if the command times out.
func (r *Registry) TenantCount(tenantID uuid.UUID) int {
	replyCh := make(chan int, 1)
	if !r.send(tenantCountCmd{tenantID: tenantID, replyChannel: replyCh}) {
		return 0
	}
	return r.await(replyCh, "TenantCount")
}

// Snapshot returns every registered connection across tenants.
func (r *Registry) Snapshot() []*Conn {
	replyCh := make(chan []*Conn, 1)
	if !r.send(snapshotCmd{replyChannel: replyCh}) {
		return nil
	}

	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case conns := <-replyCh:
		return conns
	case <-timer.Chan():
		slog.Warn("Snapshot timed out", "timeout", commandTimeout)
		return nil
	}
}

// Stop closes every connection with a going-away frame so clients reconnect
// elsewhere, then waits for the registry goroutine to exit.
func (r *Registry) Stop() {
	if !r.send(stopCmd{}) {
		return
	}

	timeout := r.clock.NewTimer(r.stopTimeout)
	defer timeout.Stop()

	select {
	case <-r.done:
		slog.Info("Registry stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Registry stop timeout exceeded", "timeout", r.stopTimeout)
		if r.metrics != nil {
			r.metrics.StopTimeouts.Inc()
		}
	}
}

func (r *Registry) send(cmd registryCmd) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.cmdCh <- cmd:
		return true
	case <-r.done:
		return false
	}
}

func (r *Registry) await(replyCh chan int, op string) int {
	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case n := <-replyCh:
		return n
	case <-timer.Chan():
		slog.Warn("Registry command timed out", "command", op, "timeout", commandTimeout)
		return -1
	}
}

func (r *Registry) run() {
	defer close(r.done)
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Registry panic recovered", "panic", rec)
			if r.metrics != nil {
				r.metrics.RegistryPanics.Inc()
			}
			r.closeAll(websocket.CloseInternalServerErr, "internal error")
		}
	}()

	depthTicker := r.clock.NewTicker(time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			depth := len(r.cmdCh)
			if r.metrics != nil {
				r.metrics.CommandChannelDepth.Set(float64(depth))
			}
			if depth > commandDepthWarning {
				slog.Warn("Command channel near capacity", "depth", depth, "capacity", cap(r.cmdCh))
			}

		case cmd := <-r.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				c.errorChannel <- r.handleRegister(c.conn)
			case unregisterCmd:
				r.handleUnregister(c.conn)
			case broadcastCmd:
				c.replyChannel <- r.handleBroadcast(c.tenantID, c.data)
			case broadcastGlobalCmd:
				c.replyChannel <- r.handleBroadcastGlobal(c.data, c.reason)
			case tenantCountCmd:
				c.replyChannel <- len(r.groups[c.tenantID])
			case snapshotCmd:
				c.replyChannel <- slices.Collect(maps.Values(r.byID))
			case stopCmd:
				r.handleStop()
				return
			default:
				slog.Warn("Registry received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
			}
		}
	}
}

func (r *Registry) handleRegister(conn *Conn) error {
	if _, exists := r.byID[conn.ID]; exists {
		return ErrAlreadyRegistered
	}

	group := r.groups[conn.TenantID]
	if len(group) >= r.maxPerTenant {
		slog.Warn("Rejecting connection: tenant limit reached", "tenant_id", conn.TenantID, "max_connections", r.maxPerTenant)
		return fmt.Errorf("%w (%d)", ErrTenantFull, r.maxPerTenant)
	}

	r.groups[conn.TenantID] = append(group, conn)
	r.byID[conn.ID] = conn
	r.updateGauges(conn.TenantID)

	slog.Debug("Connection registered", "tenant_id", conn.TenantID, "connection_id", conn.ID, "tenant_connections", len(group)+1)
	return nil
}

func (r *Registry) handleUnregister(conn *Conn) {
	if _, exists := r.byID[conn.ID]; !exists {
		return
	}

	group := r.groups[conn.TenantID]
	if i := slices.Index(group, conn); i >= 0 {
		group = slices.Delete(group, i, i+1)
	}
	delete(r.byID, conn.ID)
	conn.Terminate()
	r.setGroup(conn.TenantID, group)

	slog.Debug("Connection unregistered", "tenant_id", conn.TenantID, "connection_id", conn.ID, "remaining_connections", len(group))
}

// handleBroadcast walks the group from the end so that removing the current
// member never shifts a member that has not been visited yet.
func (r *Registry) handleBroadcast(tenantID uuid.UUID, data []byte) int {
	group := r.groups[tenantID]
	delivered := 0

	for i := len(group) - 1; i >= 0; i-- {
		conn := group[i]
		switch {
		case !conn.IsOpen():
			group = r.evict(group, i, "closed")
		case !conn.Authenticated():
		case !conn.Send(data):
			slog.Warn("Disconnecting slow connection", "tenant_id", tenantID, "connection_id", conn.ID)
			group = r.evict(group, i, "send_failed")
		default:
			delivered++
		}
	}
	r.setGroup(tenantID, group)

	if r.metrics != nil {
		r.metrics.Broadcasts.WithLabelValues("tenant").Inc()
		r.metrics.MessagesDelivered.Add(float64(delivered))
	}
	return delivered
}

func (r *Registry) handleBroadcastGlobal(data []byte, reason string) int {
	slog.Warn("Global broadcast across all tenants", "reason", reason, "tenants", len(r.groups), "connections", len(r.byID))

	delivered := 0
	for tenantID := range r.groups {
		delivered += r.handleBroadcast(tenantID, data)
	}

	if r.metrics != nil {
		r.metrics.Broadcasts.WithLabelValues("global").Inc()
	}
	return delivered
}

func (r *Registry) evict(group []*Conn, i int, reason string) []*Conn {
	conn := group[i]
	conn.Terminate()
	delete(r.byID, conn.ID)
	if r.metrics != nil {
		r.metrics.Evictions.WithLabelValues(reason).Inc()
	}
	return slices.Delete(group, i, i+1)
}

// setGroup stores group, dropping the tenant entry once it is empty.
func (r *Registry) setGroup(tenantID uuid.UUID, group []*Conn) {
	_, existed := r.groups[tenantID]
	if len(group) > 0 {
		r.groups[tenantID] = group
		r.updateGauges(tenantID)
		return
	}
	if !existed {
		return
	}

	delete(r.groups, tenantID)
	r.updateGauges(tenantID)
	if r.onTenantEmpty != nil {
		r.onTenantEmpty(tenantID)
	}
	slog.Info("Last connection of tenant left", "tenant_id", tenantID)
}

func (r *Registry) updateGauges(tenantID uuid.UUID) {
	if r.metrics == nil {
		return
	}
	r.metrics.ActiveConnections.Set(float64(len(r.byID)))
	r.metrics.ActiveTenants.Set(float64(len(r.groups)))
	if n := len(r.groups[tenantID]); n > 0 {
		r.metrics.TenantConnections.WithLabelValues(tenantID.String()).Set(float64(n))
	} else {
		r.metrics.TenantConnections.DeleteLabelValues(tenantID.String())
	}
}

func (r *Registry) handleStop() {
	slog.Info("Registry shutting down", "tenants", len(r.groups), "connections", len(r.byID))
	r.closeAll(websocket.CloseGoingAway, shutdownCloseMessage)
}

// closeAll closes every connection with the given code and empties the registry.
// Used during panic recovery and graceful shutdown.
func (r *Registry) closeAll(code int, reason string) {
	for tenantID, group := range r.groups {
		for _, conn := range group {
			conn.Close(code, reason)
			delete(r.byID, conn.ID)
		}
		delete(r.groups, tenantID)
		r.updateGauges(tenantID)
		if r.onTenantEmpty != nil {
			r.onTenantEmpty(tenantID)
		}
	}
}
