package llm

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderResponses = "responses"
)

// Provider selects and configures a Completer.
type Provider struct {
	Kind            string
	Model           string
	BaseURL         string
	APIKey          string
	APIKeyEnv       string
	ReasoningEffort string
	MaxTokens       int
	Timeout         time.Duration
}

func New(p Provider, logger *slog.Logger) (Completer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	apiKey := strings.TrimSpace(p.APIKey)
	if apiKey == "" && p.APIKeyEnv != "" {
		apiKey = os.Getenv(p.APIKeyEnv)
	}

	switch strings.ToLower(strings.TrimSpace(p.Kind)) {
	case "", ProviderAnthropic:
		return NewAnthropic(AnthropicConfig{
			APIKey:    apiKey,
			Model:     p.Model,
			BaseURL:   p.BaseURL,
			MaxTokens: p.MaxTokens,
		})
	case ProviderResponses:
		return NewResponses(ResponsesConfig{
			APIKey:          apiKey,
			Model:           p.Model,
			BaseURL:         p.BaseURL,
			ReasoningEffort: p.ReasoningEffort,
			Timeout:         p.Timeout,
			MaxOutputTokens: p.MaxTokens,
			Logger:          logger,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", p.Kind)
	}
}
