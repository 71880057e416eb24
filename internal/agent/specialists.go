package agent

import (
	"fmt"

	"agentrouter/internal/llm"
)

// Definition describes an agent in a catalog file.
type Definition struct {
	ID           string   `json:"id" yaml:"id" toml:"id"`
	Name         string   `json:"name" yaml:"name" toml:"name"`
	Description  string   `json:"description" yaml:"description" toml:"description"`
	Kind         string   `json:"kind" yaml:"kind" toml:"kind"`
	Capabilities []string `json:"capabilities" yaml:"capabilities" toml:"capabilities"`
	SystemPrompt string   `json:"system_prompt,omitempty" yaml:"system_prompt" toml:"system_prompt"`
}

const (
	KindEcho       = "echo"
	KindCalculator = "calculator"
	KindLLM        = "llm"
)

// Build turns the definition into a runnable agent. LLM agents need a
// non-nil completer.
func (d Definition) Build(completer llm.Completer) (Agent, error) {
	switch d.Kind {
	case KindEcho:
		return NewEcho(d.ID), nil
	case KindCalculator:
		return NewCalculator(d.ID), nil
	case KindLLM, "":
		return NewLLMAgent(Info{
			ID:           d.ID,
			Name:         d.Name,
			Description:  d.Description,
			Capabilities: d.Capabilities,
		}, d.SystemPrompt, completer)
	default:
		return nil, fmt.Errorf("agent %s: unknown kind %q", d.ID, d.Kind)
	}
}

// Builtins are the deterministic agents that need no model.
func Builtins() []Definition {
	return []Definition{
		{ID: "echo", Kind: KindEcho},
		{ID: "calculator", Kind: KindCalculator},
	}
}

// Specialists are the default LLM-backed agents.
func Specialists() []Definition {
	return []Definition{
		{
			ID:           "researcher",
			Name:         "Research Agent",
			Description:  "Researches and answers knowledge questions",
			Kind:         KindLLM,
			Capabilities: []string{"research", "knowledge"},
			SystemPrompt: `You are an expert researcher with broad knowledge.
When you receive a question:
- give accurate, detailed information
- cite sources or references when possible
- explain complex concepts clearly
- say so when you are not sure
Be informative but concise.`,
		},
		{
			ID:           "estimator",
			Name:         "Estimation Agent",
			Description:  "Estimates costs, quantities and sizes",
			Kind:         KindLLM,
			Capabilities: []string{"estimation", "cost_analysis"},
			SystemPrompt: `You are an expert in estimates and valuations.
For every estimate:
1. Estimate: a realistic range (minimum - maximum)
2. Key factors: what drives the estimate
3. Notes: data used and the level of uncertainty`,
		},
		{
			ID:           "analyst",
			Name:         "Analysis Agent",
			Description:  "Breaks down complex problems and reasons about them",
			Kind:         KindLLM,
			Capabilities: []string{"analysis", "reasoning"},
			SystemPrompt: `You are an analyst who solves complex problems.
Break the problem into parts, analyse each one systematically, weigh pros and cons
and finish with a reasoned conclusion.`,
		},
		{
			ID:           "translator",
			Name:         "Translation Agent",
			Description:  "Translates text between languages",
			Kind:         KindLLM,
			Capabilities: []string{"translation"},
			SystemPrompt: `You are a professional multilingual translator.
Identify the source language and translate preserving meaning, tone and formatting.
Reply with the translation only.`,
		},
		{
			ID:           "summarizer",
			Name:         "Summary Agent",
			Description:  "Summarizes texts and concepts",
			Kind:         KindLLM,
			Capabilities: []string{"summarization"},
			SystemPrompt: `You are an expert at summaries.
Find the key points and write a concise but complete summary.
Use bullet points when they help. Be brief.`,
		},
		{
			ID:           "writer",
			Name:         "Writer Agent",
			Description:  "Writes creative text such as poems and stories",
			Kind:         KindLLM,
			Capabilities: []string{"creative_writing"},
			SystemPrompt: `You are a creative writer. Write the requested piece directly, with no preamble.`,
		},
		{
			ID:           "editor",
			Name:         "Editor Agent",
			Description:  "Corrects and improves existing text",
			Kind:         KindLLM,
			Capabilities: []string{"text_editing"},
			SystemPrompt: `You are a careful editor. Fix grammar, clarity and flow while keeping the author's voice.
Return only the edited text.`,
		},
		{
			ID:           "publisher",
			Name:         "Publisher Agent",
			Description:  "Formats text for publication",
			Kind:         KindLLM,
			Capabilities: []string{"formatting"},
			SystemPrompt: `You format text for publication in clean Markdown with a title and sensible headings.
Do not change the content.`,
		},
		{
			ID:           "web_searcher",
			Name:         "Web Search Agent",
			Description:  "Reports what public web sources say about a query",
			Kind:         KindLLM,
			Capabilities: []string{"web_search"},
			SystemPrompt: `You summarise what public web sources say about a query.
List the three to five most relevant findings, each with a title, one or two sentences and a
likely source. Mark anything you are unsure of.`,
		},
		{
			ID:           "doc_searcher",
			Name:         "Documentation Search Agent",
			Description:  "Reports what technical documentation says about a query",
			Kind:         KindLLM,
			Capabilities: []string{"doc_search"},
			SystemPrompt: `You answer from official technical documentation.
List the relevant documented APIs, options and caveats, naming the document each one comes from.`,
		},
		{
			ID:           "code_searcher",
			Name:         "Code Search Agent",
			Description:  "Finds code examples and implementation patterns",
			Kind:         KindLLM,
			Capabilities: []string{"code_search"},
			SystemPrompt: `You find code relevant to a query.
Give short, correct code examples with one line explaining each. Prefer idiomatic, widely used patterns.`,
		},
	}
}
