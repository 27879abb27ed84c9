// -----------------------------------------------------------------------
// BatchRun - a supervised, controllable sweep of jobs over a document set
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// BatchStatus represents the batch run lifecycle state
type BatchStatus string

const (
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusCancelled BatchStatus = "cancelled"
	BatchStatusBlocked   BatchStatus = "blocked"
)

// BatchFilter selects which documents a run sweeps over
type BatchFilter string

const (
	BatchFilterAll    BatchFilter = "all"     // Every live document for the owner
	BatchFilterNoText BatchFilter = "no_text" // Documents without extracted text
	BatchFilterNoAI   BatchFilter = "no_ai"   // Documents with text but no classification
)

// ValidBatchFilter reports whether filter is a known filter descriptor
func ValidBatchFilter(filter BatchFilter) bool {
	switch filter {
	case BatchFilterAll, BatchFilterNoText, BatchFilterNoAI:
		return true
	}
	return false
}

// BatchError records one document's failure inside a run
type BatchError struct {
	Document string `json:"document"`
	Error    string `json:"error"`
}

// BatchRun tracks one supervised sweep. Counters are written only by the
// controller loop that owns the run; control flags live in the controller's
// control block, not here, so the persisted row carries their last snapshot.
type BatchRun struct {
	ID     string      `json:"id" badgerhold:"key"`
	Owner  string      `json:"owner" badgerholdIndex:"Owner"`
	Kind   JobKind     `json:"kind"`
	Filter BatchFilter `json:"filter"`

	Status BatchStatus `json:"status"`

	Total     int `json:"total"`
	Current   int `json:"current"` // Documents consumed so far (index into the materialized list)
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	CurrentDocument string `json:"current_document,omitempty"`
	Paused          bool   `json:"paused"`

	Errors []BatchError `json:"errors,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewBatchRun creates a running batch over a materialized document list
func NewBatchRun(id, owner string, kind JobKind, filter BatchFilter, total int) *BatchRun {
	return &BatchRun{
		ID:        id,
		Owner:     owner,
		Kind:      kind,
		Filter:    filter,
		Status:    BatchStatusRunning,
		Total:     total,
		CreatedAt: time.Now().UTC(),
	}
}

// MarkCompleted finalizes the run after the document list is exhausted
func (r *BatchRun) MarkCompleted() {
	r.Status = BatchStatusCompleted
	r.CurrentDocument = ""
	r.Paused = false
	now := time.Now().UTC()
	r.CompletedAt = &now
}

// MarkCancelled finalizes the run with counters frozen at the cancel point
func (r *BatchRun) MarkCancelled() {
	r.Status = BatchStatusCancelled
	r.CurrentDocument = ""
	r.Paused = false
	now := time.Now().UTC()
	r.CompletedAt = &now
}

// IsTerminal returns true once the run can no longer make progress
func (r *BatchRun) IsTerminal() bool {
	return r.Status == BatchStatusCompleted ||
		r.Status == BatchStatusCancelled ||
		r.Status == BatchStatusBlocked
}
