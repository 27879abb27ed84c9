package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/scriba/internal/common"
	"github.com/ternarybob/scriba/internal/interfaces"
)

// NewProvider builds the classification provider selected by llm.provider.
// Returns (nil, nil) when the provider is "none": classification is disabled
// and callers must treat a nil provider as "feature off".
func NewProvider(ctx context.Context, config *common.Config) (interfaces.LLMProvider, error) {
	switch strings.ToLower(config.LLM.Provider) {
	case "", "none":
		return nil, nil
	case "claude":
		return NewClaudeProvider(&config.Claude)
	case "gemini":
		return NewGeminiProvider(ctx, &config.Gemini)
	default:
		return nil, fmt.Errorf("unknown llm provider: %q (expected claude, gemini, or none)", config.LLM.Provider)
	}
}
