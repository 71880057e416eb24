package agent

import (
	"context"
	"fmt"
	"strings"

	"agentrouter/internal/llm"
)

const defaultSystemPrompt = "You are a helpful assistant. Answer concisely."

// LLMAgent answers through a language model with a fixed system prompt.
type LLMAgent struct {
	info         Info
	systemPrompt string
	completer    llm.Completer
}

func NewLLMAgent(info Info, systemPrompt string, completer llm.Completer) (*LLMAgent, error) {
	if strings.TrimSpace(info.ID) == "" {
		return nil, fmt.Errorf("llm agent: empty id")
	}
	if completer == nil {
		return nil, fmt.Errorf("llm agent %s: nil completer", info.ID)
	}
	if strings.TrimSpace(info.Name) == "" {
		info.Name = fmt.Sprintf("LLM Agent (%s)", info.ID)
	}
	info.Capabilities = normalizeCapabilities(info.Capabilities)
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}
	return &LLMAgent{info: info, systemPrompt: systemPrompt, completer: completer}, nil
}

func (a *LLMAgent) ID() string             { return a.info.ID }
func (a *LLMAgent) Name() string           { return a.info.Name }
func (a *LLMAgent) Description() string    { return a.info.Description }
func (a *LLMAgent) Capabilities() []string { return a.info.Capabilities }
func (a *LLMAgent) SystemPrompt() string   { return a.systemPrompt }

func (a *LLMAgent) Invoke(ctx context.Context, input string) (string, error) {
	out, err := a.completer.Complete(ctx, a.systemPrompt, input)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("empty model response")
	}
	return out, nil
}
