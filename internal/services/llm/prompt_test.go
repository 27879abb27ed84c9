package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClassification(t *testing.T) {
	raw := `{
		"document_type": "bill",
		"suggested_name": "Pacific Power Electric Bill",
		"suggested_tags": ["utility", "electric"],
		"extracted_metadata": {"company": "Pacific Power", "amount": "$142.17"},
		"confidence_score": 0.95
	}`

	result, err := parseClassification(raw)
	require.NoError(t, err)
	assert.Equal(t, "bill", result.DocumentType)
	assert.Equal(t, "Pacific Power Electric Bill", result.SuggestedName)
	assert.Equal(t, []string{"utility", "electric"}, result.SuggestedTags)
	assert.Equal(t, "Pacific Power", result.ExtractedMetadata["company"])
	assert.InDelta(t, 0.95, result.ConfidenceScore, 0.001)
}

func TestParseClassificationStripsCodeFences(t *testing.T) {
	raw := "```json\n{\"document_type\": \"receipt\", \"suggested_name\": \"Hardware Store Receipt\", \"confidence_score\": 0.8}\n```"

	result, err := parseClassification(raw)
	require.NoError(t, err)
	assert.Equal(t, "receipt", result.DocumentType)
	assert.Equal(t, "Hardware Store Receipt", result.SuggestedName)
}

func TestParseClassificationInvalidJSON(t *testing.T) {
	_, err := parseClassification("the document appears to be a bill")
	assert.Error(t, err)
}

func TestParseClassificationDefaults(t *testing.T) {
	result, err := parseClassification(`{"document_type": "invoice"}`)
	require.NoError(t, err)
	assert.NotNil(t, result.SuggestedTags)
	assert.NotNil(t, result.ExtractedMetadata)
	assert.Empty(t, result.SuggestedTags)
}

func TestNormalizeDocumentType(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"bill", "bill"},
		{"Bill", "bill"},
		{"  Invoice ", "invoice"},
		{"EOB", "insurance"},
		{"explanation of benefits", "insurance"},
		{"pre-auth letter", "insurance"},
		{"statement", "bank_statement"},
		{"contract", "legal"},
		{"newsletter", "correspondence"},
		{"", "other"},
		{"something unrecognizable", "other"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeDocumentType(tt.raw), "raw=%q", tt.raw)
	}
}

func TestBuildUserMessageTruncation(t *testing.T) {
	long := strings.Repeat("a", maxTextLength+500)

	msg := buildUserMessage(long, "big.pdf")
	assert.Contains(t, msg, "Original filename: big.pdf")
	assert.Contains(t, msg, "[Text truncated at")
	assert.Less(t, len(msg), len(long))
}

func TestBuildUserMessageShortText(t *testing.T) {
	msg := buildUserMessage("short text", "small.pdf")
	assert.Contains(t, msg, "short text")
	assert.NotContains(t, msg, "truncated")
}
