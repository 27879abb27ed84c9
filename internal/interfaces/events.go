package interfaces

import (
	"github.com/ternarybob/scriba/internal/models"
)

// OwnerAll subscribes across every owner (admin live channels)
const OwnerAll = "*"

// EventSubscriber receives one owner's events over a buffered channel.
// Delivery is at-least-once; a subscriber that cannot keep up loses the
// oldest pending events, never the channel.
type EventSubscriber interface {
	Events() <-chan models.Event
	Close()
}

// EventService is the owner-scoped fan-out broadcaster. Events are not
// persisted: a subscriber connecting after publish must re-fetch durable
// state from storage.
type EventService interface {
	Publish(event models.Event)
	Subscribe(owner string) EventSubscriber
	Close()
}
