package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionRecord is a row of the server-side session store.
type SessionRecord struct {
	SID     string
	Data    json.RawMessage
	Expires time.Time
}

// SessionStore looks up session rows that have not expired at now.
type SessionStore interface {
	GetActive(ctx context.Context, sid string, now time.Time) (*SessionRecord, error)
}

// Binding is the identity and tenant a validated stream connection is bound to.
type Binding struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     Role
}
