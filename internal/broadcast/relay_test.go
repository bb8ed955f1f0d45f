package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/tablepulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func (d *recordingDispatcher) count(tenantID uuid.UUID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events[tenantID])
}

func TestLocalRelay_PublishBeforeRun(t *testing.T) {
	relay := NewLocalRelay()

	err := relay.Publish(context.Background(), uuid.New(), domain.Event{Type: domain.EventPing})

	assert.ErrorIs(t, err, ErrRelayNotRunning)
}

func TestLocalRelay_DeliversWhileRunning(t *testing.T) {
	relay := NewLocalRelay()
	dispatcher := &recordingDispatcher{}
	tenant := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx, dispatcher) }()

	require.Eventually(t, func() bool {
		return relay.Publish(context.Background(), tenant, domain.Event{Type: domain.EventTableStatusUpdated}) == nil
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, dispatcher.count(tenant))

	cancel()
	require.NoError(t, <-done)
	assert.ErrorIs(t, relay.Publish(context.Background(), tenant, domain.Event{}), ErrRelayNotRunning)
}
