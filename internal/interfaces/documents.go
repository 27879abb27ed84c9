package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/scriba/internal/models"
)

// ErrNotFound marks a lookup for a record that does not exist (or was
// soft-deleted). Distinguishes a genuinely missing document from a
// transient storage failure.
var ErrNotFound = errors.New("not found")

// DocumentService is the engine's view of the document subsystem: read,
// list by filter, and the narrow metadata write a completed job performs.
type DocumentService interface {
	GetDocument(ctx context.Context, documentID string) (*models.Document, error)
	ListDocumentIDs(ctx context.Context, owner string, filter models.BatchFilter) ([]string, error)
	UpdateDocumentMetadata(ctx context.Context, documentID string, patch *models.DocumentPatch) (*models.Document, error)

	// DocumentFilePath resolves the absolute on-disk path for a document
	DocumentFilePath(doc *models.Document) string
}

// JobService is the enqueue/query surface over jobs used by handlers,
// the batch controller, and chaining inside the worker
type JobService interface {
	EnqueueJob(ctx context.Context, documentID, owner string, kind models.JobKind, causedBy string) (*models.Job, error)
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	ActiveJobsForDocument(ctx context.Context, documentID string) ([]*models.Job, error)
	JobHistoryForDocument(ctx context.Context, documentID string) ([]*models.Job, error)

	// AwaitTerminal blocks until the job reaches a terminal state or the
	// context is cancelled, returning the final job row
	AwaitTerminal(ctx context.Context, jobID string) (*models.Job, error)
}
