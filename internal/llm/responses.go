package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

const (
	defaultResponsesModel    = "gpt-5-mini"
	defaultReasoningEffort   = shared.ReasoningEffortMedium
	defaultResponsesTimeout  = 3 * time.Minute
	defaultMaxOutputBytes    = 2 * 1024 * 1024
	defaultMaxOutputTokens   = 8000
	defaultResponsesAttempts = 2
)

var ErrOutputTooLarge = errors.New("model output exceeds size limit")

type ResponsesConfig struct {
	APIKey          string
	Model           string
	BaseURL         string
	ReasoningEffort string
	Timeout         time.Duration
	// MaxRetries < 0 disables SDK retries.
	MaxRetries      int
	MaxOutputBytes  int
	MaxOutputTokens int
	Logger          *slog.Logger
}

// ResponsesCompleter streams completions from an OpenAI Responses endpoint.
type ResponsesCompleter struct {
	client          openai.Client
	model           string
	effort          shared.ReasoningEffort
	maxOutputBytes  int
	maxOutputTokens int64
	logger          *slog.Logger
}

func NewResponses(cfg ResponsesConfig) (*ResponsesCompleter, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is not set")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultResponsesTimeout
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(timeout),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	switch {
	case cfg.MaxRetries < 0:
		opts = append(opts, option.WithMaxRetries(0))
	case cfg.MaxRetries > 0:
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	default:
		opts = append(opts, option.WithMaxRetries(defaultResponsesAttempts))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultResponsesModel
	}
	maxOutputBytes := cfg.MaxOutputBytes
	if maxOutputBytes <= 0 {
		maxOutputBytes = defaultMaxOutputBytes
	}
	maxOutputTokens := cfg.MaxOutputTokens
	if maxOutputTokens <= 0 {
		maxOutputTokens = defaultMaxOutputTokens
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponsesCompleter{
		client:          openai.NewClient(opts...),
		model:           model,
		effort:          normalizeReasoningEffort(cfg.ReasoningEffort),
		maxOutputBytes:  maxOutputBytes,
		maxOutputTokens: int64(maxOutputTokens),
		logger:          logger,
	}, nil
}

func (c *ResponsesCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := responses.ResponseNewParams{
		Model:           c.model,
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(userPrompt)},
		MaxOutputTokens: openai.Int(c.maxOutputTokens),
		Reasoning:       shared.ReasoningParam{Effort: c.effort},
		Store:           openai.Bool(false),
	}
	if strings.TrimSpace(systemPrompt) != "" {
		params.Instructions = openai.String(systemPrompt)
	}

	started := time.Now()
	stream := c.client.Responses.NewStreaming(ctx, params)
	defer stream.Close()

	var (
		out       strings.Builder
		completed string
	)
	for stream.Next() {
		ev := stream.Current()
		switch ev.Type {
		case "response.output_text.delta":
			if out.Len()+len(ev.Delta) > c.maxOutputBytes {
				return "", fmt.Errorf("responses stream: %w (%d bytes)", ErrOutputTooLarge, c.maxOutputBytes)
			}
			out.WriteString(ev.Delta)
		case "response.completed":
			completed = ev.Response.OutputText()
		case "response.incomplete":
			if reason := ev.Response.IncompleteDetails.Reason; reason != "" && out.Len() == 0 {
				return "", fmt.Errorf("responses stream: incomplete (%s)", reason)
			}
		case "response.failed":
			return "", fmt.Errorf("responses stream: failed: %s", firstNonBlank(ev.Response.Error.Message, string(ev.Response.Error.Code), "unknown error"))
		case "error":
			return "", fmt.Errorf("responses stream: %s", firstNonBlank(ev.Message, ev.Code, "unknown error"))
		}
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("responses stream: %w", err)
	}

	text := strings.TrimSpace(out.String())
	if text == "" {
		text = strings.TrimSpace(completed)
	}
	if len(text) > c.maxOutputBytes {
		return "", fmt.Errorf("responses stream: %w (%d bytes)", ErrOutputTooLarge, c.maxOutputBytes)
	}
	if text == "" {
		return "", fmt.Errorf("responses stream: empty response")
	}
	c.logger.Debug("responses completion",
		"model", c.model,
		"effort", string(c.effort),
		"bytes", len(text),
		"elapsed", time.Since(started).Round(time.Millisecond).String(),
	)
	return text, nil
}

// normalizeReasoningEffort maps user input onto the efforts the API accepts.
// "none" and "minimal" both mean the cheapest setting.
func normalizeReasoningEffort(v string) shared.ReasoningEffort {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "none", "minimal":
		return shared.ReasoningEffortMinimal
	case "low":
		return shared.ReasoningEffortLow
	case "medium":
		return shared.ReasoningEffortMedium
	case "high":
		return shared.ReasoningEffortHigh
	default:
		return defaultReasoningEffort
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
