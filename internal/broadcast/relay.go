package broadcast

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pscheid92/tablepulse/internal/domain"
)

var ErrRelayNotRunning = errors.New("relay is not running")

// LocalRelay delivers published events straight to the dispatcher of this
// process. It serves single-instance deployments and tests.
type LocalRelay struct {
	mu         sync.RWMutex
	dispatcher domain.TenantDispatcher
}

var _ domain.EventRelay = (*LocalRelay)(nil)

func NewLocalRelay() *LocalRelay {
	return &LocalRelay{}
}

func (r *LocalRelay) Publish(_ context.Context, tenantID uuid.UUID, ev domain.Event) error {
	r.mu.RLock()
	dispatcher := r.dispatcher
	r.mu.RUnlock()

	if dispatcher == nil {
		return ErrRelayNotRunning
	}
	dispatcher.BroadcastToTenant(tenantID, ev)
	return nil
}

// Run attaches dispatcher until ctx ends.
func (r *LocalRelay) Run(ctx context.Context, dispatcher domain.TenantDispatcher) error {
	r.mu.Lock()
	r.dispatcher = dispatcher
	r.mu.Unlock()

	<-ctx.Done()

	r.mu.Lock()
	r.dispatcher = nil
	r.mu.Unlock()
	return nil
}
