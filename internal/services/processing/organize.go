package processing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
)

// OrganizeProcessor renames a document's file using its AI-generated name
type OrganizeProcessor struct {
	documents interfaces.DocumentService
	logger    arbor.ILogger
}

var _ interfaces.Processor = (*OrganizeProcessor)(nil)

// NewOrganizeProcessor creates the organize processor
func NewOrganizeProcessor(documents interfaces.DocumentService) *OrganizeProcessor {
	return &OrganizeProcessor{
		documents: documents,
		logger:    common.GetLogger(),
	}
}

// Kind returns the job kind this processor handles
func (p *OrganizeProcessor) Kind() models.JobKind {
	return models.JobKindOrganize
}

// Process renames the on-disk file to the sanitized AI-generated name and
// returns a patch updating FilePath and Filename
func (p *OrganizeProcessor) Process(ctx context.Context, doc *models.Document, report interfaces.ProgressFunc) (*interfaces.ProcessResult, error) {
	report(10)

	if doc.AIGeneratedName == "" {
		return nil, fmt.Errorf("%w: no AI-generated name, run classification first", interfaces.ErrInput)
	}

	oldPath := p.documents.DocumentFilePath(doc)
	if oldPath == "" {
		return nil, fmt.Errorf("%w: document %s has no file path", interfaces.ErrInput, doc.ID)
	}
	if _, err := os.Stat(oldPath); err != nil {
		return nil, fmt.Errorf("%w: file not found: %s", interfaces.ErrInput, doc.FilePath)
	}

	report(40)

	newFilename := sanitizeFilename(doc.AIGeneratedName) + filepath.Ext(oldPath)
	newPath := filepath.Join(filepath.Dir(oldPath), newFilename)
	newRelPath := filepath.Join(filepath.Dir(doc.FilePath), newFilename)

	if newPath == oldPath {
		// Already organized
		return &interfaces.ProcessResult{
			Result: map[string]interface{}{
				"document_id":   doc.ID,
				"original_path": doc.FilePath,
				"new_path":      doc.FilePath,
				"renamed":       false,
			},
		}, nil
	}

	if _, err := os.Stat(newPath); err == nil {
		return nil, fmt.Errorf("%w: target file already exists: %s", interfaces.ErrInput, newFilename)
	}

	if err := os.Rename(oldPath, newPath); err != nil {
		return nil, fmt.Errorf("failed to rename file: %w", err)
	}

	report(80)

	// Verify the file landed before committing the path change
	if _, err := os.Stat(newPath); err != nil {
		return nil, fmt.Errorf("rename verification failed: %w", err)
	}

	p.logger.Info().
		Str("document_id", doc.ID).
		Str("from", doc.FilePath).
		Str("to", newRelPath).
		Msg("Document file organized")

	return &interfaces.ProcessResult{
		Result: map[string]interface{}{
			"document_id":   doc.ID,
			"original_path": doc.FilePath,
			"new_path":      newRelPath,
			"renamed":       true,
		},
		Patch: &models.DocumentPatch{
			FilePath: &newRelPath,
			Filename: &newFilename,
		},
	}, nil
}

// sanitizeFilename makes a name filesystem-safe, keeping letters, digits,
// spaces, hyphens, and underscores
func sanitizeFilename(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			sb.WriteRune(r)
		}
	}
	cleaned := strings.TrimSpace(sb.String())
	if cleaned == "" {
		cleaned = "document"
	}
	return cleaned
}
