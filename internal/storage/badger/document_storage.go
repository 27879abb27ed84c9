package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// DocumentStorage implements the DocumentStorage interface for Badger
type DocumentStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDocumentStorage creates a new DocumentStorage instance
func NewDocumentStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DocumentStorage {
	return &DocumentStorage{
		db:     db,
		logger: logger,
	}
}

func (s *DocumentStorage) SaveDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document ID is required")
	}

	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	if err := s.db.Store().Upsert(doc.ID, doc); err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

func (s *DocumentStorage) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	var doc models.Document
	if err := s.db.Store().Get(documentID, &doc); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("document %s: %w", documentID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if doc.DeletedAt != nil {
		return nil, fmt.Errorf("document %s: %w", documentID, interfaces.ErrNotFound)
	}
	return &doc, nil
}

func (s *DocumentStorage) ListDocumentIDs(ctx context.Context, filter interfaces.DocumentFilter) ([]string, error) {
	query := badgerhold.Where("DeletedAt").IsNil().SortBy("CreatedAt")
	if filter.Owner != "" && filter.Owner != interfaces.OwnerAll {
		query = badgerhold.Where("Owner").Eq(filter.Owner).
			And("DeletedAt").IsNil().SortBy("CreatedAt")
	}

	var docs []models.Document
	if err := s.db.Store().Find(&docs, query); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	var ids []string
	for i := range docs {
		doc := &docs[i]
		switch filter.Filter {
		case models.BatchFilterNoText:
			if doc.HasText() {
				continue
			}
		case models.BatchFilterNoAI:
			// Classification needs text to work with
			if doc.HasClassification() || !doc.HasText() {
				continue
			}
		}
		ids = append(ids, doc.ID)
	}
	return ids, nil
}

// ApplyPatch writes the narrow metadata fields a completed job produces
func (s *DocumentStorage) ApplyPatch(ctx context.Context, documentID string, patch *models.DocumentPatch) (*models.Document, error) {
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return doc, nil
	}

	if patch.ContentText != nil {
		doc.ContentText = *patch.ContentText
		now := time.Now().UTC()
		doc.ProcessedAt = &now
	}
	if patch.PageCount != nil {
		doc.PageCount = *patch.PageCount
	}
	if patch.AIGeneratedName != nil {
		doc.AIGeneratedName = *patch.AIGeneratedName
	}
	if patch.DocumentType != nil {
		doc.DocumentType = *patch.DocumentType
	}
	if patch.AIMetadata != nil {
		doc.AIMetadata = patch.AIMetadata
	}
	if patch.Tags != nil {
		doc.Tags = mergeTags(doc.Tags, patch.Tags)
	}
	if patch.FilePath != nil {
		doc.FilePath = *patch.FilePath
	}
	if patch.Filename != nil {
		doc.Filename = *patch.Filename
	}

	if err := s.SaveDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *DocumentStorage) DeleteDocument(ctx context.Context, documentID string) error {
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	doc.DeletedAt = &now
	if err := s.db.Store().Upsert(doc.ID, doc); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// mergeTags appends new tags preserving order, without duplicates
func mergeTags(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	merged := make([]string, 0, len(existing)+len(added))
	for _, tag := range existing {
		if !seen[tag] {
			seen[tag] = true
			merged = append(merged, tag)
		}
	}
	for _, tag := range added {
		if tag != "" && !seen[tag] {
			seen[tag] = true
			merged = append(merged, tag)
		}
	}
	return merged
}
