package documents

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
)

// Service provides document reads and the metadata write path used by
// completed jobs. Metadata writes publish document.updated so connected
// clients refresh without polling.
type Service struct {
	storage   interfaces.DocumentStorage
	events    interfaces.EventService
	uploadDir string
	logger    arbor.ILogger
}

var _ interfaces.DocumentService = (*Service)(nil)

// NewService creates a document service backed by the given storage
func NewService(storage interfaces.DocumentStorage, events interfaces.EventService, uploadDir string) *Service {
	return &Service{
		storage:   storage,
		events:    events,
		uploadDir: uploadDir,
		logger:    common.GetLogger(),
	}
}

// GetDocument returns a document by ID
func (s *Service) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	return s.storage.GetDocument(ctx, documentID)
}

// ListDocumentIDs returns IDs of an owner's documents matching the filter,
// in stable creation order
func (s *Service) ListDocumentIDs(ctx context.Context, owner string, filter models.BatchFilter) ([]string, error) {
	if !models.ValidBatchFilter(filter) {
		return nil, fmt.Errorf("invalid document filter: %s", filter)
	}
	return s.storage.ListDocumentIDs(ctx, interfaces.DocumentFilter{Owner: owner, Filter: filter})
}

// UpdateDocumentMetadata applies a partial metadata update and publishes
// document.updated for the owner
func (s *Service) UpdateDocumentMetadata(ctx context.Context, documentID string, patch *models.DocumentPatch) (*models.Document, error) {
	if patch == nil || patch.IsEmpty() {
		return s.storage.GetDocument(ctx, documentID)
	}

	doc, err := s.storage.ApplyPatch(ctx, documentID, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to patch document %s: %w", documentID, err)
	}

	if s.events != nil {
		s.events.Publish(models.NewEvent(models.EventDocumentUpdated, doc.Owner, models.DocumentEventPayload{
			DocumentID:      doc.ID,
			AIGeneratedName: doc.AIGeneratedName,
			DocumentType:    doc.DocumentType,
			Tags:            doc.Tags,
			HasText:         doc.HasText(),
		}))
	}

	s.logger.Debug().
		Str("document_id", documentID).
		Msg("Document metadata updated")

	return doc, nil
}

// DocumentFilePath resolves the absolute on-disk path for a document's file
func (s *Service) DocumentFilePath(doc *models.Document) string {
	if doc.FilePath == "" {
		return ""
	}
	if filepath.IsAbs(doc.FilePath) {
		return doc.FilePath
	}
	return filepath.Join(s.uploadDir, doc.FilePath)
}
