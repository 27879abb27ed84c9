package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/scriba/internal/models"
)

// QueueManager is the persistent work queue workers pull from.
// Receive returns models.ErrNoMessage when nothing is visible.
type QueueManager interface {
	// Enqueue makes a message immediately visible
	Enqueue(ctx context.Context, msg models.QueueMessage) error

	// EnqueueDelayed hides a message until the delay elapses (retry backoff)
	EnqueueDelayed(ctx context.Context, msg models.QueueMessage, delay time.Duration) error

	// Receive claims the next visible message. The returned delete function
	// removes it permanently; an unclaimed delete lets the visibility
	// timeout redeliver it.
	Receive(ctx context.Context) (*models.QueueMessage, func() error, error)

	Close() error
}
