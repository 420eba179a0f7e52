package coordinator

import "github.com/dayuer/pacebot/internal/bus"

// EventKind identifies a coordinator event.
type EventKind string

const (
	EventGenerationStarted EventKind = "generation_started"
	EventGenerationFailed  EventKind = "generation_failed"
	EventPartsScheduled    EventKind = "parts_scheduled"
	EventPartSent          EventKind = "part_sent"
	EventDeliveryFailed    EventKind = "delivery_failed"
	EventPartsCancelled    EventKind = "parts_cancelled"
	EventUsersEvicted      EventKind = "users_evicted"
)

// Event reports something that happened to a user's conversation.
// Handlers run synchronously on coordinator goroutines and must not block.
type Event struct {
	Kind   EventKind
	UserID string
	Chat   bus.ChatRef
	PartID string
	Count  int // parts scheduled or cancelled, users evicted
	Err    error
}

// EventHandler receives coordinator events.
type EventHandler func(Event)
