package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/scriba/internal/interfaces"
)

// maxTextLength caps the document text sent to the provider
const maxTextLength = 4000

// systemPrompt instructs the model to classify a document and return
// strict JSON. Document type must land in a closed enum; the key
// distinction for "bill" is whether the document requests payment.
const systemPrompt = `You are a document analysis assistant for a document management system.
Analyze the provided document text and return a JSON object with these fields:

{
  "document_type": "<MUST be exactly one of: bill, invoice, receipt, bank_statement, insurance, medical, tax, legal, correspondence, report, other>",
  "suggested_name": "<descriptive human-readable filename WITHOUT extension or date. Use natural title case with spaces. Do NOT include dates - the date is stored separately in metadata.>",
  "suggested_tags": ["<list of 2-5 relevant lowercase tags>"],
  "extracted_metadata": {
    "company": "<company/organization name or null>",
    "date": "<document date as YYYY-MM-DD or null>",
    "amount": "<monetary amount as string like '$123.45' or null>",
    "account_number": "<account/reference number or null>",
    "due_date": "<payment due date as YYYY-MM-DD or null - only for bills/invoices>",
    "payment_url": "<payment URL found in the document or null - only for bills/invoices>",
    "summary": "<one-sentence summary of the document>"
  },
  "confidence_score": <float 0.0 to 1.0 indicating analysis confidence>
}

Document types (pick the best fit):
- bill: a request for payment - utility bills, phone bills, medical/dental/hospital bills, any statement requesting payment or showing an amount due. If a document requests payment or shows a balance due, classify it as "bill" even if the content is medical, dental, or insurance-related.
- invoice: an itemized bill from a vendor or contractor
- receipt: proof of payment already made
- bank_statement: bank or credit card account statement
- insurance: insurance paperwork that is NOT a bill - pre-auth approvals, EOBs, claims, coverage letters, policy documents. If the insurance document requests payment or shows a balance due, use "bill" instead.
- medical: medical records, lab results, prescriptions, doctor's notes - NOT bills or insurance paperwork. If the medical document requests payment or shows a balance due, use "bill" instead.
- tax: tax returns, W-2s, 1099s, tax notices
- legal: contracts, court documents, legal notices
- correspondence: letters, newsletters, general communications
- report: reports, analyses, summaries
- other: none of the above

IMPORTANT: The key distinction for "bill" vs other types is whether the document requests payment or shows an amount due. A medical statement showing a balance due is a "bill", not "medical". An insurance EOB showing a patient responsibility amount is a "bill", not "insurance".

Rules:
- CRITICAL: Only use company names, dates, amounts, and other details that appear VERBATIM in the document text. NEVER guess or infer entity names that are not explicitly written in the document.
- The suggested_name MUST be based solely on information found in the document text. Use the company/organization name exactly as it appears. If no company name is clearly present, use a generic description. Do NOT include dates in the name.
- If the extracted text is garbled or unclear, lower your confidence_score accordingly and use only the parts you can read with certainty.
- For bills and invoices, extract the payment due date as due_date. If no explicit due date, use null.
- For bills and invoices, look for payment URLs (e.g. online payment portals). Extract the full URL if found, otherwise use null.
- Return ONLY valid JSON, no markdown fencing, no extra text.
- If a field cannot be determined, use null (for strings) or [] (for arrays).
- The suggested_name should be human-readable and filesystem-safe (no special characters besides hyphens and underscores).
- Tags should be simple lowercase words or short phrases (e.g. "utility", "bank", "medical", "tax", "quarterly").
- confidence_score: 0.9+ for clear documents, 0.5-0.8 for partially readable, below 0.5 for unclear/garbled text.`

// buildUserMessage assembles the user turn with the document text, truncated
// to keep the request within provider limits
func buildUserMessage(text, originalFilename string) string {
	truncated := text
	wasTruncated := false
	if len(text) > maxTextLength {
		truncated = text[:maxTextLength]
		wasTruncated = true
	}

	var sb strings.Builder
	sb.WriteString("Original filename: ")
	sb.WriteString(originalFilename)
	sb.WriteString("\n\n--- Document Text ---\n")
	sb.WriteString(truncated)
	if wasTruncated {
		sb.WriteString(fmt.Sprintf("\n\n[Text truncated at %d characters out of %d total]", maxTextLength, len(text)))
	}
	return sb.String()
}

var validDocumentTypes = map[string]bool{
	"bill": true, "invoice": true, "receipt": true, "bank_statement": true,
	"insurance": true, "medical": true, "tax": true, "legal": true,
	"correspondence": true, "report": true, "other": true,
}

// documentTypeAliases maps common model-generated variations onto the enum
var documentTypeAliases = map[string]string{
	"pre-auth letter":         "insurance",
	"pre-auth":                "insurance",
	"preauth":                 "insurance",
	"eob":                     "insurance",
	"explanation of benefits": "insurance",
	"claim":                   "insurance",
	"coverage":                "insurance",
	"policy":                  "insurance",
	"statement":               "bank_statement",
	"contract":                "legal",
	"letter":                  "correspondence",
	"newsletter":              "correspondence",
}

// normalizeDocumentType coerces a model-generated type onto the closed enum,
// falling back to "other"
func normalizeDocumentType(raw string) string {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return "other"
	}
	if validDocumentTypes[normalized] {
		return normalized
	}
	if mapped, ok := documentTypeAliases[normalized]; ok {
		return mapped
	}
	for alias, valid := range documentTypeAliases {
		if strings.Contains(normalized, alias) || strings.Contains(alias, normalized) {
			return valid
		}
	}
	return "other"
}

type rawClassification struct {
	DocumentType      string                 `json:"document_type"`
	SuggestedName     string                 `json:"suggested_name"`
	SuggestedTags     []string               `json:"suggested_tags"`
	ExtractedMetadata map[string]interface{} `json:"extracted_metadata"`
	ConfidenceScore   float64                `json:"confidence_score"`
}

// parseClassification parses the model's JSON response, tolerating markdown
// code fences around the payload
func parseClassification(raw string) (*interfaces.LLMClassification, error) {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		var lines []string
		for _, line := range strings.Split(cleaned, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				continue
			}
			lines = append(lines, line)
		}
		cleaned = strings.Join(lines, "\n")
	}

	var parsed rawClassification
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse classification response: %w", err)
	}

	result := &interfaces.LLMClassification{
		DocumentType:      normalizeDocumentType(parsed.DocumentType),
		SuggestedName:     parsed.SuggestedName,
		SuggestedTags:     parsed.SuggestedTags,
		ExtractedMetadata: parsed.ExtractedMetadata,
		ConfidenceScore:   parsed.ConfidenceScore,
	}
	if result.SuggestedTags == nil {
		result.SuggestedTags = []string{}
	}
	if result.ExtractedMetadata == nil {
		result.ExtractedMetadata = map[string]interface{}{}
	}
	return result, nil
}
