package models

import (
	"time"
)

// Document represents a managed document. The engine reads documents and
// writes only the narrow metadata each job produces on completion; the
// surrounding CRUD surface owns everything else.
type Document struct {
	ID    string `json:"id" badgerhold:"key"`
	Owner string `json:"owner" badgerholdIndex:"Owner"`

	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	FilePath     string `json:"file_path"` // Relative to the uploads directory
	MimeType     string `json:"mime_type"`
	FileSize     int64  `json:"file_size"`

	// Extraction output
	ContentText string     `json:"content_text,omitempty"`
	PageCount   int        `json:"page_count,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	// Classification output
	AIGeneratedName string                 `json:"ai_generated_name,omitempty"`
	DocumentType    string                 `json:"document_type,omitempty"`
	AIMetadata      map[string]interface{} `json:"ai_metadata,omitempty"`
	Tags            []string               `json:"tags,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// HasText reports whether extraction produced usable output
func (d *Document) HasText() bool {
	return d.ContentText != ""
}

// HasClassification reports whether AI classification has run
func (d *Document) HasClassification() bool {
	return d.AIMetadata != nil
}

// DisplayName returns the best human-readable name for the document
func (d *Document) DisplayName() string {
	if d.OriginalName != "" {
		return d.OriginalName
	}
	return d.Filename
}

// DocumentPatch is the narrow metadata write a completed job applies.
// Nil fields are left untouched.
type DocumentPatch struct {
	ContentText     *string                `json:"content_text,omitempty"`
	PageCount       *int                   `json:"page_count,omitempty"`
	AIGeneratedName *string                `json:"ai_generated_name,omitempty"`
	DocumentType    *string                `json:"document_type,omitempty"`
	AIMetadata      map[string]interface{} `json:"ai_metadata,omitempty"`
	Tags            []string               `json:"tags,omitempty"`
	FilePath        *string                `json:"file_path,omitempty"`
	Filename        *string                `json:"filename,omitempty"`
}

// IsEmpty reports whether the patch would change nothing
func (p *DocumentPatch) IsEmpty() bool {
	return p == nil || (p.ContentText == nil && p.PageCount == nil &&
		p.AIGeneratedName == nil && p.DocumentType == nil &&
		p.AIMetadata == nil && p.Tags == nil &&
		p.FilePath == nil && p.Filename == nil)
}
