package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
)

// ClaudeProvider classifies documents using the Anthropic API
type ClaudeProvider struct {
	config    *common.ClaudeConfig
	client    anthropic.Client
	timeout   time.Duration
	maxTokens int
	logger    arbor.ILogger
}

var _ interfaces.LLMProvider = (*ClaudeProvider)(nil)

// NewClaudeProvider creates a Claude-backed classification provider
func NewClaudeProvider(config *common.ClaudeConfig) (*ClaudeProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic api key is required (set ANTHROPIC_API_KEY or claude.api_key)", interfaces.ErrInput)
	}

	model := config.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
		config.Model = model
	}

	timeout := common.Duration(config.Timeout)
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	provider := &ClaudeProvider{
		config:    config,
		client:    anthropic.NewClient(option.WithAPIKey(config.APIKey)),
		timeout:   timeout,
		maxTokens: maxTokens,
		logger:    common.GetLogger(),
	}

	provider.logger.Debug().
		Str("model", model).
		Dur("timeout", timeout).
		Msg("Claude classification provider initialized")

	return provider, nil
}

// Name returns the provider identifier
func (p *ClaudeProvider) Name() string {
	return "claude"
}

// Classify sends document text to Claude and parses the structured result
func (p *ClaudeProvider) Classify(ctx context.Context, text, filename string) (*interfaces.LLMClassification, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.config.Model),
		MaxTokens:   int64(p.maxTokens),
		Temperature: anthropic.Float(0.2),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildUserMessage(text, filename))),
		},
	}

	resp, err := p.client.Messages.New(timeoutCtx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: claude api call failed: %v", interfaces.ErrUnavailable, err)
	}

	var raw strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			raw.WriteString(block.Text)
		}
	}
	if raw.Len() == 0 {
		return nil, fmt.Errorf("%w: empty response from claude", interfaces.ErrUnavailable)
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
		Msg("Claude classification completed")

	return result, nil
}

// Close releases the provider
func (p *ClaudeProvider) Close() error {
	return nil
}
