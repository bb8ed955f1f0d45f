package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the message types carried over the stream.
type EventType string

const (
	EventReservationCreated    EventType = "RESERVATION_CREATED"
	EventReservationCanceled   EventType = "RESERVATION_CANCELED"
	EventReservationUpdated    EventType = "RESERVATION_UPDATED"
	EventTableStatusUpdated    EventType = "TABLE_STATUS_UPDATED"
	EventConnectionEstablished EventType = "CONNECTION_ESTABLISHED"
	EventPing                  EventType = "PING"
	EventPong                  EventType = "PONG"
	EventError                 EventType = "ERROR"
)

// Known reports whether t is one of the recognized wire types.
func (t EventType) Known() bool {
	switch t {
	case EventReservationCreated, EventReservationCanceled, EventReservationUpdated,
		EventTableStatusUpdated, EventConnectionEstablished, EventPing, EventPong, EventError:
		return true
	default:
		return false
	}
}

// IsDomain reports whether t carries a tenant-scoped domain change.
func (t EventType) IsDomain() bool {
	switch t {
	case EventReservationCreated, EventReservationCanceled, EventReservationUpdated, EventTableStatusUpdated:
		return true
	default:
		return false
	}
}

// Close codes used on the stream.
const (
	// CloseNormal is the clean closure code; clients do not retry it.
	CloseNormal = 1000
	// CloseAuthenticationFailed marks a rejected session; terminal for the client.
	CloseAuthenticationFailed = 4001
)

// StreamPath is the fixed path suffix of the stream endpoint.
const StreamPath = "/ws"

// Event is the wire message: {type, payload, timestamp?, tenantId?}.
// Values are treated as immutable once built.
type Event struct {
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
	TenantID  uuid.UUID       `json:"tenantId,omitzero"`
}

// NewEvent builds an event with payload marshaled to JSON.
func NewEvent(eventType EventType, payload any) (Event, error) {
	ev := Event{Type: eventType}
	if payload == nil {
		return ev, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	ev.Payload = data
	return ev, nil
}

// Stamped returns a copy of ev carrying tenantID and timestamp.
func (ev Event) Stamped(tenantID uuid.UUID, now time.Time) Event {
	ev.TenantID = tenantID
	ev.Timestamp = now.UTC()
	return ev
}

// DecodePayload unmarshals the payload into v.
func (ev Event) DecodePayload(v any) error {
	if len(ev.Payload) == 0 {
		return fmt.Errorf("%w: %s has no payload", ErrMalformedMessage, ev.Type)
	}
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedMessage, ev.Type, err)
	}
	return nil
}

// DecodeEvent parses a raw frame. Unknown types and broken JSON are malformed.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if !ev.Type.Known() {
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, ev.Type)
	}
	return ev, nil
}

// ConnectionEstablishedPayload confirms a registered stream connection.
type ConnectionEstablishedPayload struct {
	ConnectionID uuid.UUID `json:"connectionId"`
	UserID       uuid.UUID `json:"userId"`
}

// ErrorPayload is sent with ERROR messages. Message never carries internal detail.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ReservationCanceledPayload identifies a canceled reservation.
type ReservationCanceledPayload struct {
	ID uuid.UUID `json:"id"`
}

// ReservationUpdatePayload is a partial update merged by identity; nil fields are untouched.
type ReservationUpdatePayload struct {
	ID            uuid.UUID          `json:"id"`
	TableID       *uuid.UUID         `json:"tableId,omitempty"`
	StartSlot     *int               `json:"startSlot,omitempty"`
	DurationSlots *int               `json:"durationSlots,omitempty"`
	PartySize     *int               `json:"partySize,omitempty"`
	GuestName     *string            `json:"guestName,omitempty"`
	Status        *ReservationStatus `json:"status,omitempty"`
	UpdatedAt     *time.Time         `json:"updatedAt,omitempty"`
}

// TableStatusPayload announces a table status change.
type TableStatusPayload struct {
	TableID uuid.UUID   `json:"tableId"`
	Status  TableStatus `json:"status"`
}

// EventPublisher publishes tenant-scoped events to every server instance.
type EventPublisher interface {
	Publish(ctx context.Context, tenantID uuid.UUID, ev Event) error
}

// TenantDispatcher delivers an event to the local connections of one tenant.
type TenantDispatcher interface {
	BroadcastToTenant(tenantID uuid.UUID, ev Event) int
}

// EventRelay fans published events in from every instance and hands them to
// the local dispatcher until ctx ends.
type EventRelay interface {
	EventPublisher
	Run(ctx context.Context, dispatcher TenantDispatcher) error
}
