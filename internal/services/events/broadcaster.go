package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
)

// -------------------------------------------------------------------------
// Owner-scoped event broadcaster. Subscribers register for a single owner
// (or interfaces.OwnerAll for everything) and receive events over a
// buffered channel. Delivery is at-least-once for connected subscribers;
// there is no replay for late joiners.
// -------------------------------------------------------------------------

type subscriber struct {
	id     string
	owner  string
	ch     chan models.Event
	closed bool
	mu     sync.Mutex
	parent *Broadcaster
}

// Events returns the subscriber's receive channel
func (s *subscriber) Events() <-chan models.Event {
	return s.ch
}

// Close unregisters the subscriber and releases its channel
func (s *subscriber) Close() {
	s.parent.unsubscribe(s)
}

// Broadcaster implements interfaces.EventService with in-process fanout
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	bufferSize  int
	instanceID  string
	closed      bool
	logger      arbor.ILogger
}

var _ interfaces.EventService = (*Broadcaster)(nil)

// NewBroadcaster creates an event broadcaster with the given per-subscriber
// channel buffer size
func NewBroadcaster(bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Broadcaster{
		subscribers: make(map[string]*subscriber),
		bufferSize:  bufferSize,
		instanceID:  uuid.New().String(),
		logger:      common.GetLogger(),
	}
}

// InstanceID returns the identifier generated for this broadcaster at
// startup. Clients compare it across reconnects to detect server restarts.
func (b *Broadcaster) InstanceID() string {
	return b.instanceID
}

// Publish delivers an event to every subscriber whose owner matches the
// event's owner, plus any subscriber registered for all owners. If a
// subscriber's buffer is full the oldest event is dropped to make room;
// a slow consumer never blocks the publisher.
func (b *Broadcaster) Publish(event models.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		if sub.owner != interfaces.OwnerAll && sub.owner != event.Owner {
			continue
		}
		b.deliver(sub, event)
	}
}

func (b *Broadcaster) deliver(sub *subscriber, event models.Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed {
		return
	}

	select {
	case sub.ch <- event:
	default:
		// Buffer full: drop the oldest and retry so the newest state wins
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- event:
		default:
		}
		b.logger.Warn().
			Str("subscriber", sub.id).
			Str("owner", sub.owner).
			Str("event", string(event.Type)).
			Msg("Subscriber buffer full, dropped oldest event")
	}
}

// Subscribe registers a new subscriber for the given owner. Pass
// interfaces.OwnerAll to receive events for every owner.
func (b *Broadcaster) Subscribe(owner string) interfaces.EventSubscriber {
	sub := &subscriber{
		id:     uuid.New().String(),
		owner:  owner,
		ch:     make(chan models.Event, b.bufferSize),
		parent: b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}

	b.subscribers[sub.id] = sub
	b.logger.Debug().
		Str("subscriber", sub.id).
		Str("owner", owner).
		Int("total", len(b.subscribers)).
		Msg("Event subscriber registered")
	return sub
}

func (b *Broadcaster) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	delete(b.subscribers, sub.id)
	b.mu.Unlock()

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// Close shuts down the broadcaster and closes all subscriber channels
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.subscribers = make(map[string]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
		sub.mu.Unlock()
	}
}
