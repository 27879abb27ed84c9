package models

import (
	"errors"
)

// ErrNoMessage is returned when the queue has no visible message
var ErrNoMessage = errors.New("no messages in queue")

// QueueMessage is the payload handed to a worker when it claims work.
// The job row in storage is authoritative; the message only routes.
type QueueMessage struct {
	JobID      string  `json:"job_id"`
	DocumentID string  `json:"document_id"`
	Kind       JobKind `json:"kind"`
}
