package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/scriba/internal/models"
)

// JobStorage persists job records
type JobStorage interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)

	// ClaimJob atomically transitions a pending job to processing.
	// Returns the claimed job, or nil if another worker won the claim or
	// the job is no longer pending.
	ClaimJob(ctx context.Context, jobID string) (*models.Job, error)

	// GetActiveJobsByDocument returns pending/processing jobs for a document,
	// oldest first. This is the follow-on discovery query.
	GetActiveJobsByDocument(ctx context.Context, documentID string) ([]*models.Job, error)

	// GetJobHistoryByDocument returns recent jobs for a document regardless
	// of status, newest first, capped at limit.
	GetJobHistoryByDocument(ctx context.Context, documentID string, limit int) ([]*models.Job, error)

	// GetStaleProcessingJobs returns jobs stuck processing since before cutoff
	GetStaleProcessingJobs(ctx context.Context, cutoff time.Time) ([]*models.Job, error)

	DeleteJobsByDocument(ctx context.Context, documentID string) error
}

// DocumentFilter selects documents for listing
type DocumentFilter struct {
	Owner  string
	Filter models.BatchFilter
}

// DocumentStorage persists document records
type DocumentStorage interface {
	SaveDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, documentID string) (*models.Document, error)
	ListDocumentIDs(ctx context.Context, filter DocumentFilter) ([]string, error)
	ApplyPatch(ctx context.Context, documentID string, patch *models.DocumentPatch) (*models.Document, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// BatchStorage persists batch run rows so terminal runs can be reported
// after the controller loop exits
type BatchStorage interface {
	SaveRun(ctx context.Context, run *models.BatchRun) error
	GetRun(ctx context.Context, runID string) (*models.BatchRun, error)
}

// KeyValueStorage is a small durable key/value store for engine settings
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// StorageManager provides access to all storage services
type StorageManager interface {
	JobStorage() JobStorage
	DocumentStorage() DocumentStorage
	BatchStorage() BatchStorage
	KeyValueStorage() KeyValueStorage
	Close() error
}
