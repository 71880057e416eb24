package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agentrouter/internal/domain"
	"agentrouter/internal/llm"
)

type Route string

const (
	RouteSynthesize Route = "synthesize"
	RouteEnd        Route = "end"
)

// ShouldSynthesize routes to synthesis only when more than one execution
// succeeded.
func ShouldSynthesize(executions []domain.ExecutionRecord) Route {
	n := 0
	for _, rec := range executions {
		if rec.Success {
			n++
		}
	}
	if n > 1 {
		return RouteSynthesize
	}
	return RouteEnd
}

const synthesizerSystemPrompt = `You are an expert synthesizer.
You receive the original task and the results of several specialist agents. Your job:
1. integrate complementary information
2. resolve contradictions: when results disagree on a fact or number, keep the one
   from the agent listed first
3. write one coherent, complete answer
4. keep the key information of every source

Answer format:
- main answer, addressing the task directly
- integrated details
- sources (which agents contributed)

Write clearly and with structure.`

type Synthesizer struct {
	completer llm.Completer
}

func NewSynthesizer(completer llm.Completer) *Synthesizer {
	return &Synthesizer{completer: completer}
}

// Synthesize merges successful outputs into a single answer with one model
// call. Records are presented in the order given.
func (s *Synthesizer) Synthesize(ctx context.Context, task string, successful []domain.ExecutionRecord) (domain.SynthesisRecord, error) {
	start := time.Now()
	out, err := s.completer.Complete(ctx, synthesizerSystemPrompt, buildSynthesisPrompt(task, successful))
	if err != nil {
		return domain.SynthesisRecord{}, fmt.Errorf("%w: %w", domain.ErrSynthesis, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return domain.SynthesisRecord{}, fmt.Errorf("%w: empty output", domain.ErrSynthesis)
	}
	sources := make([]string, 0, len(successful))
	for _, rec := range successful {
		sources = append(sources, rec.AgentID)
	}
	return domain.SynthesisRecord{
		Text:       out,
		Sources:    sources,
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

func buildSynthesisPrompt(task string, successful []domain.ExecutionRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Original task**: %s\n\n**Agent results:**\n", task)
	for _, rec := range successful {
		fmt.Fprintf(&b, "\n### %s (%s):\n%s\n", rec.AgentName, rec.Capability, rec.OutputText)
	}
	b.WriteString("\n---\nSynthesize these results into one coherent and complete answer.")
	return b.String()
}

// FallbackConcatenation joins outputs under a heading per agent. It is the
// final output when synthesis fails.
func FallbackConcatenation(successful []domain.ExecutionRecord) string {
	parts := make([]string, 0, len(successful))
	for _, rec := range successful {
		parts = append(parts, fmt.Sprintf("### %s (%s)\n%s", rec.AgentName, rec.Capability, rec.OutputText))
	}
	return strings.Join(parts, "\n\n")
}
