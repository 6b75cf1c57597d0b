// Package llm adapts hosted language models to ports.Completer.
package llm

import (
	"fmt"
	"strings"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/ports"
)

const (
	ProviderNone      = "none"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	DefaultMaxTokens = 512
)

type Config struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int64
}

// New returns the completer for cfg.Provider, or nil for "none".
func New(cfg Config) (ports.Completer, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	switch strings.ToLower(cfg.Provider) {
	case "", ProviderNone:
		return nil, nil
	case ProviderOpenAI:
		return NewOpenAI(cfg), nil
	case ProviderAnthropic:
		return NewAnthropic(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}
