package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
	"google.golang.org/genai"
)

// GeminiProvider classifies documents using the Google Gemini API
type GeminiProvider struct {
	config  *common.GeminiConfig
	client  *genai.Client
	timeout time.Duration
	logger  arbor.ILogger
}

var _ interfaces.LLMProvider = (*GeminiProvider)(nil)

// NewGeminiProvider creates a Gemini-backed classification provider
func NewGeminiProvider(ctx context.Context, config *common.GeminiConfig) (*GeminiProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key is required (set GEMINI_API_KEY or gemini.api_key)", interfaces.ErrInput)
	}

	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}

	timeout := common.Duration(config.Timeout)
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	provider := &GeminiProvider{
		config:  config,
		client:  client,
		timeout: timeout,
		logger:  common.GetLogger(),
	}

	provider.logger.Debug().
		Str("model", config.Model).
		Dur("timeout", timeout).
		Msg("Gemini classification provider initialized")

	return provider, nil
}

// Name returns the provider identifier
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Classify sends document text to Gemini and parses the structured result
func (p *GeminiProvider) Classify(ctx context.Context, text, filename string) (*interfaces.LLMClassification, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()

	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(0.2)),
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	}

	contents := []*genai.Content{
		genai.NewContentFromText(buildUserMessage(text, filename), genai.RoleUser),
	}

	resp, err := p.client.Models.GenerateContent(timeoutCtx, p.config.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini api call failed: %v", interfaces.ErrUnavailable, err)
	}

	var raw strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					raw.WriteString(part.Text)
				}
			}
			if raw.Len() > 0 {
				break
			}
		}
	}
	if raw.Len() == 0 {
		return nil, fmt.Errorf("%w: empty response from gemini", interfaces.ErrUnavailable)
	}

	result, err := parseClassification(raw.String())
	if err != nil {
		return nil, err
	}

	p.logger.Debug().
		Str("filename", filename).
		Str("document_type", result.DocumentType).
		Float64("confidence", result.ConfidenceScore).
		Dur("duration", time.Since(start)).
		Msg("Gemini classification completed")

	return result, nil
}

// Close releases the provider
func (p *GeminiProvider) Close() error {
	p.client = nil
	return nil
}
