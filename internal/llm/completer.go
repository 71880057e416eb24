// Package llm holds the language-model clients used for task analysis,
// synthesis and LLM-backed agents.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Completer answers a single prompt. Implementations must be safe for
// concurrent use.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type Func func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

func (f Func) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, systemPrompt, userPrompt)
}

var ErrNoJSONObject = errors.New("no JSON object in model output")

// ExtractJSONObject returns the JSON object carried by raw model output. It
// accepts bare JSON, markdown-fenced JSON, and JSON surrounded by prose.
func ExtractJSONObject(raw string) (string, error) {
	text := stripFences(raw)
	if json.Valid([]byte(text)) && strings.HasPrefix(text, "{") {
		return text, nil
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSONObject
	}
	candidate := text[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", ErrNoJSONObject
	}
	return candidate, nil
}

func stripFences(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		// drop the language tag line
		text = text[nl+1:]
	}
	if end := strings.LastIndex(text, "```"); end >= 0 {
		text = text[:end]
	}
	return strings.TrimSpace(text)
}
