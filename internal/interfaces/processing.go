package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/scriba/internal/models"
)

// ErrInput marks a configuration or input problem: unsupported document,
// missing credential, precondition not met. Terminal, never retried.
var ErrInput = errors.New("input error")

// ErrUnavailable marks a transient problem: timeout, dependency down.
// Retried with backoff up to the configured maximum.
var ErrUnavailable = errors.New("dependency unavailable")

// ProgressFunc reports coarse progress (0-100) from inside a processor.
// Implementations must tolerate being called concurrently with cancellation.
type ProgressFunc func(progress int)

// ProcessResult is what a processor hands back on success
type ProcessResult struct {
	// Result is the opaque, kind-specific payload stored on the job
	Result map[string]interface{}

	// Patch is the narrow document metadata write applied on completion
	Patch *models.DocumentPatch
}

// Processor runs one processing kind against one document. Implementations
// classify their failures by wrapping ErrInput or ErrUnavailable.
type Processor interface {
	Kind() models.JobKind
	Process(ctx context.Context, doc *models.Document, report ProgressFunc) (*ProcessResult, error)
}

// JobCanceller aborts an in-flight job by cancelling its processor context.
// Reports false when the job is not currently running.
type JobCanceller interface {
	CancelJob(jobID string) bool
}

// LLMClassification is the structured result of an AI classification call
type LLMClassification struct {
	DocumentType      string                 `json:"document_type"`
	SuggestedName     string                 `json:"suggested_name"`
	SuggestedTags     []string               `json:"suggested_tags"`
	ExtractedMetadata map[string]interface{} `json:"extracted_metadata"`
	ConfidenceScore   float64                `json:"confidence_score"`
}

// LLMProvider generates a classification for document text
type LLMProvider interface {
	Classify(ctx context.Context, text, filename string) (*LLMClassification, error)
	Name() string
	Close() error
}
