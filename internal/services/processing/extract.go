// -----------------------------------------------------------------------
// Extract processor - pulls text content out of a document file.
// PDF extraction uses pdfcpu; plain text files are read directly.
// -----------------------------------------------------------------------

package processing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
	"github.com/ternarybob/scriba/internal/models"
)

// ExtractProcessor produces a document's text content and page count
type ExtractProcessor struct {
	documents interfaces.DocumentService
	tempDir   string
	logger    arbor.ILogger
}

var _ interfaces.Processor = (*ExtractProcessor)(nil)

// NewExtractProcessor creates the extract processor
func NewExtractProcessor(documents interfaces.DocumentService) *ExtractProcessor {
	tempDir := filepath.Join(os.TempDir(), "scriba-extract")
	os.MkdirAll(tempDir, 0755)

	return &ExtractProcessor{
		documents: documents,
		tempDir:   tempDir,
		logger:    common.GetLogger(),
	}
}

// Kind returns the job kind this processor handles
func (p *ExtractProcessor) Kind() models.JobKind {
	return models.JobKindExtract
}

// Process extracts text from the document's file and returns a patch that
// writes ContentText and PageCount
func (p *ExtractProcessor) Process(ctx context.Context, doc *models.Document, report interfaces.ProgressFunc) (*interfaces.ProcessResult, error) {
	report(10)

	path := p.documents.DocumentFilePath(doc)
	if path == "" {
		return nil, fmt.Errorf("%w: document %s has no file path", interfaces.ErrInput, doc.ID)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: file not found: %s", interfaces.ErrInput, doc.FilePath)
	}

	p.logger.Info().
		Str("document_id", doc.ID).
		Str("path", doc.FilePath).
		Int64("size", info.Size()).
		Msg("Extracting document text")

	report(20)

	var text string
	var pageCount int

	switch {
	case strings.EqualFold(filepath.Ext(path), ".pdf") || doc.MimeType == "application/pdf":
		text, pageCount, err = p.extractPDF(ctx, path, report)
		if err != nil {
			return nil, err
		}
	case strings.HasPrefix(doc.MimeType, "text/") || isTextExt(path):
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read file: %w", readErr)
		}
		text = string(data)
		pageCount = 1
		report(80)
	default:
		return nil, fmt.Errorf("%w: unsupported document type %q", interfaces.ErrInput, doc.MimeType)
	}

	text = strings.TrimSpace(text)
	report(90)

	result := &interfaces.ProcessResult{
		Result: map[string]interface{}{
			"document_id":    doc.ID,
			"pages":          pageCount,
			"text_length":    len(text),
			"text_extracted": text != "",
		},
	}
	if text != "" {
		result.Patch = &models.DocumentPatch{
			ContentText: &text,
			PageCount:   &pageCount,
		}
	}

	p.logger.Info().
		Str("document_id", doc.ID).
		Int("pages", pageCount).
		Int("chars", len(text)).
		Msg("Extraction complete")

	return result, nil
}

// extractPDF reads the PDF with pdfcpu and concatenates per-page content.
// An encrypted PDF is an input error; a PDF with no extractable text is not
// an error, it just yields empty text.
func (p *ExtractProcessor) extractPDF(ctx context.Context, path string, report interfaces.ProgressFunc) (string, int, error) {
	pdfCtx, err := api.ReadContextFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("%w: invalid pdf: %v", interfaces.ErrInput, err)
	}
	if pdfCtx.Encrypt != nil {
		return "", 0, fmt.Errorf("%w: pdf is encrypted and cannot be processed", interfaces.ErrInput)
	}
	pageCount := pdfCtx.PageCount

	report(40)

	outDir, err := os.MkdirTemp(p.tempDir, "pages_")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(path, outDir, nil, conf); err != nil {
		p.logger.Warn().Err(err).Str("path", path).Msg("PDF content extraction failed, returning empty text")
		return "", pageCount, nil
	}

	report(70)

	pageTexts := make(map[int]string)
	files, _ := os.ReadDir(outDir)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		content, readErr := os.ReadFile(filepath.Join(outDir, file.Name()))
		if readErr != nil {
			continue
		}
		var pageNum int
		if _, scanErr := fmt.Sscanf(file.Name(), "Content_page_%d", &pageNum); scanErr == nil {
			pageTexts[pageNum] = string(content)
		} else if _, scanErr := fmt.Sscanf(file.Name(), "page_%d", &pageNum); scanErr == nil {
			pageTexts[pageNum] = string(content)
		}
	}

	var sb strings.Builder
	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		text, ok := pageTexts[pageNum]
		if !ok || text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(fmt.Sprintf("\n\n--- Page %d ---\n\n", pageNum))
		}
		sb.WriteString(text)
	}

	return sb.String(), pageCount, nil
}

func isTextExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".csv", ".log":
		return true
	}
	return false
}
