package processing

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
)

// ClassifyProcessor runs AI classification over a document's extracted text
type ClassifyProcessor struct {
	provider interfaces.LLMProvider
	logger   arbor.ILogger
}

var _ interfaces.Processor = (*ClassifyProcessor)(nil)

// NewClassifyProcessor creates the classify processor. The provider may be
// nil when classification is disabled; jobs then fail as input errors.
func NewClassifyProcessor(provider interfaces.LLMProvider) *ClassifyProcessor {
	return &ClassifyProcessor{
		provider: provider,
		logger:   common.GetLogger(),
	}
}

// Kind returns the job kind this processor handles
func (p *ClassifyProcessor) Kind() models.JobKind {
	return models.JobKindClassify
}

// Process classifies the document's text and returns a patch writing the
// AI-generated name, type, tags, and metadata
func (p *ClassifyProcessor) Process(ctx context.Context, doc *models.Document, report interfaces.ProgressFunc) (*interfaces.ProcessResult, error) {
	if p.provider == nil {
		return nil, fmt.Errorf("%w: classification is disabled (llm.provider is none)", interfaces.ErrInput)
	}

	report(10)

	if !doc.HasText() {
		return nil, fmt.Errorf("%w: document has no text content, run extraction first", interfaces.ErrInput)
	}

	p.logger.Info().
		Str("document_id", doc.ID).
		Str("provider", p.provider.Name()).
		Msg("Classifying document")

	report(30)

	classification, err := p.provider.Classify(ctx, doc.ContentText, doc.DisplayName())
	if err != nil {
		return nil, fmt.Errorf("classification failed: %w", err)
	}

	report(80)

	patch := &models.DocumentPatch{
		AIMetadata: classification.ExtractedMetadata,
	}
	if classification.SuggestedName != "" {
		patch.AIGeneratedName = &classification.SuggestedName
	}
	if classification.DocumentType != "" {
		patch.DocumentType = &classification.DocumentType
	}
	if len(classification.SuggestedTags) > 0 {
		patch.Tags = classification.SuggestedTags
	}

	p.logger.Info().
		Str("document_id", doc.ID).
		Str("document_type", classification.DocumentType).
		Str("suggested_name", classification.SuggestedName).
		Float64("confidence", classification.ConfidenceScore).
		Msg("Classification complete")

	return &interfaces.ProcessResult{
		Result: map[string]interface{}{
			"document_id":      doc.ID,
			"document_type":    classification.DocumentType,
			"suggested_name":   classification.SuggestedName,
			"suggested_tags":   classification.SuggestedTags,
			"confidence_score": classification.ConfidenceScore,
		},
		Patch: patch,
	}, nil
}
