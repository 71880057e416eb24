package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"agentrouter/internal/domain"
	"agentrouter/internal/llm"
)

// Capability is an entry of the vocabulary offered to the analysis model.
type Capability struct {
	Name        string
	Description string
}

func DefaultVocabulary() []Capability {
	return []Capability{
		{Name: "calculation", Description: "arithmetic, calculations, formulas"},
		{Name: "echo", Description: "repeating a message back"},
		{Name: "creative_writing", Description: "creative writing, poems, stories, haiku"},
		{Name: "text_editing", Description: "editing, correcting and improving text"},
		{Name: "formatting", Description: "formatting documents, markdown, structure"},
		{Name: "research", Description: "looking up information, knowledge questions, facts"},
		{Name: "estimation", Description: "estimates of cost, quantity, size, valuations"},
		{Name: "analysis", Description: "analysis of complex problems, reasoning, pros and cons"},
		{Name: "translation", Description: "translation between languages"},
		{Name: "summarization", Description: "summaries of texts or concepts"},
	}
}

// Analyzer turns a task into capabilities, per-capability subtasks and
// optional dependencies with one model call.
type Analyzer struct {
	completer    llm.Completer
	systemPrompt string
}

func NewAnalyzer(completer llm.Completer, vocabulary []Capability) *Analyzer {
	if len(vocabulary) == 0 {
		vocabulary = DefaultVocabulary()
	}
	return &Analyzer{
		completer:    completer,
		systemPrompt: buildAnalyzerPrompt(vocabulary),
	}
}

func (a *Analyzer) Analyze(ctx context.Context, task string) (domain.AnalysisResult, error) {
	start := time.Now()
	raw, err := a.completer.Complete(ctx, a.systemPrompt, task)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("%w: %w", domain.ErrAnalysis, err)
	}
	result, err := parseAnalysis(raw, task)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("%w: %w; output: %s", domain.ErrAnalysis, err, trimText(raw, 400))
	}
	result.DurationMS = time.Since(start).Milliseconds()
	return result, nil
}

type analysisPayload struct {
	Capabilities *[]string           `json:"capabilities"`
	Subtasks     map[string]string   `json:"subtasks"`
	Dependencies map[string][]string `json:"dependencies"`
}

func parseAnalysis(raw, task string) (domain.AnalysisResult, error) {
	body, err := llm.ExtractJSONObject(raw)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	var payload analysisPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("decode analysis: %w", err)
	}
	if payload.Capabilities == nil {
		return domain.AnalysisResult{}, fmt.Errorf("analysis has no capabilities field")
	}

	caps := make([]string, 0, len(*payload.Capabilities))
	for _, c := range *payload.Capabilities {
		c = strings.TrimSpace(c)
		if c == "" || slices.Contains(caps, c) {
			continue
		}
		caps = append(caps, c)
	}

	subtasks := make(map[string]string, len(caps))
	for _, c := range caps {
		text := strings.TrimSpace(payload.Subtasks[c])
		if text == "" {
			text = task
		}
		subtasks[c] = text
	}

	var deps map[string][]string
	for c, prereqs := range payload.Dependencies {
		c = strings.TrimSpace(c)
		if !slices.Contains(caps, c) {
			continue
		}
		clean := make([]string, 0, len(prereqs))
		for _, p := range prereqs {
			p = strings.TrimSpace(p)
			if p != "" && !slices.Contains(clean, p) {
				clean = append(clean, p)
			}
		}
		if len(clean) == 0 {
			continue
		}
		if deps == nil {
			deps = make(map[string][]string)
		}
		deps[c] = clean
	}

	return domain.AnalysisResult{
		Capabilities: caps,
		Subtasks:     subtasks,
		Dependencies: deps,
	}, nil
}

func buildAnalyzerPrompt(vocabulary []Capability) string {
	var b strings.Builder
	b.WriteString(`You are a task analyzer. Read the user's request and decide:
1. which capabilities are needed to complete it
2. how to split it into one subtask per capability
3. whether a capability needs the output of another one first

Available capabilities:
`)
	for _, c := range vocabulary {
		fmt.Fprintf(&b, "  - %s: %s\n", c.Name, c.Description)
	}
	b.WriteString(`
Reply with valid JSON only, in this shape:
{
  "capabilities": ["capability1", "capability2"],
  "subtasks": {
    "capability1": "subtask for capability1",
    "capability2": "subtask for capability2"
  },
  "dependencies": {
    "capability2": ["capability1"]
  }
}
Omit "dependencies" when the subtasks are independent. Do not add explanations.`)
	return b.String()
}

func trimText(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
