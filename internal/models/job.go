// -----------------------------------------------------------------------
// Job - one attempt to run one processing kind against one document
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// JobKind is the category of processing a job performs
type JobKind string

const (
	JobKindExtract  JobKind = "extract"  // Text extraction from the stored file
	JobKindClassify JobKind = "classify" // AI classification of extracted text
	JobKindOrganize JobKind = "organize" // File renaming from classification results
)

// ValidJobKind reports whether kind is a member of the closed kind set
func ValidJobKind(kind JobKind) bool {
	switch kind {
	case JobKindExtract, JobKindClassify, JobKindOrganize:
		return true
	}
	return false
}

// JobStatus represents the job lifecycle state
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job is the durable record of one unit of processing work.
// Status transitions only pending -> processing -> {completed, failed};
// a retry resets the row to pending and increments Attempts.
type Job struct {
	ID         string  `json:"id" badgerhold:"key"`
	DocumentID string  `json:"document_id" badgerholdIndex:"DocumentID"`
	Owner      string  `json:"owner"`
	Kind       JobKind `json:"kind"`

	Status   JobStatus `json:"status" badgerholdIndex:"Status"`
	Progress int       `json:"progress"` // 0-100, monotonically non-decreasing while processing
	Attempts int       `json:"attempts"`

	Error  string                 `json:"error,omitempty"`
	Result map[string]interface{} `json:"result,omitempty"`

	// CausedBy links a chained job back to the job whose completion enqueued it
	CausedBy string `json:"caused_by,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJob creates a pending job for a document
func NewJob(id, documentID, owner string, kind JobKind) *Job {
	return &Job{
		ID:         id,
		DocumentID: documentID,
		Owner:      owner,
		Kind:       kind,
		Status:     JobStatusPending,
		Progress:   0,
		Attempts:   0,
		CreatedAt:  time.Now().UTC(),
	}
}

// Validate checks required fields before persistence
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if j.DocumentID == "" {
		return fmt.Errorf("job document ID is required")
	}
	if !ValidJobKind(j.Kind) {
		return fmt.Errorf("invalid job kind: %s", j.Kind)
	}
	return nil
}

// MarkStarted transitions the job to processing
func (j *Job) MarkStarted() {
	j.Status = JobStatusProcessing
	j.Progress = 0
	j.Attempts++
	now := time.Now().UTC()
	j.StartedAt = &now
}

// SetProgress raises the progress value. Progress never regresses; values
// above 99 are clamped so only MarkCompleted reaches exactly 100.
func (j *Job) SetProgress(progress int) {
	if progress > 99 {
		progress = 99
	}
	if progress > j.Progress {
		j.Progress = progress
	}
}

// MarkCompleted transitions the job to completed with its result payload
func (j *Job) MarkCompleted(result map[string]interface{}) {
	j.Status = JobStatusCompleted
	j.Progress = 100
	j.Error = ""
	j.Result = result
	now := time.Now().UTC()
	j.CompletedAt = &now
}

// MarkFailed transitions the job to failed with an error message
func (j *Job) MarkFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.Error = errorMsg
	now := time.Now().UTC()
	j.CompletedAt = &now
}

// MarkRetrying resets a job for another attempt after a transient failure.
// The last error is kept visible until the next attempt starts.
func (j *Job) MarkRetrying(errorMsg string) {
	j.Status = JobStatusPending
	j.Error = fmt.Sprintf("Retrying: %s", errorMsg)
	j.StartedAt = nil
}

// IsTerminal returns true if the job is in a terminal state
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// IsActive returns true while the job still has work ahead of it
func (j *Job) IsActive() bool {
	return j.Status == JobStatusPending || j.Status == JobStatusProcessing
}
