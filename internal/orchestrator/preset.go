package orchestrator

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"agentrouter/internal/domain"
)

// Preset is a named pipeline with a fixed analysis. A run started with a
// preset skips the model analysis and executes the preset's capabilities and
// dependencies instead.
type Preset struct {
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	Capabilities []string            `json:"capabilities"`
	Dependencies map[string][]string `json:"dependencies,omitempty"`
	// Instructions are prepended to the task for the capabilities listed.
	// Capabilities without an entry receive the task unchanged.
	Instructions map[string]string `json:"instructions,omitempty"`
	// Final names the capability whose output is the run's final output.
	// Empty means successful outputs are synthesized like an analyzed run.
	Final string `json:"final,omitempty"`
}

const (
	PresetChain    = "chain"
	PresetResearch = "research"
)

// ChainPreset drafts, edits and formats a text in sequence. Each step gets
// the previous step's output appended to its instruction.
func ChainPreset() Preset {
	return Preset{
		Name:         PresetChain,
		Description:  "Writer, editor and publisher in sequence",
		Capabilities: []string{"creative_writing", "text_editing", "formatting"},
		Dependencies: map[string][]string{
			"text_editing": {"creative_writing"},
			"formatting":   {"text_editing"},
		},
		Instructions: map[string]string{
			"creative_writing": "Write two or three paragraphs on this topic. No meta commentary.",
			"text_editing":     "Edit the draft below for grammar, clarity and flow. Return only the edited text.",
			"formatting":       "Format the edited text below as a Markdown article with a title. Do not change the content.",
		},
		Final: "formatting",
	}
}

// ResearchPreset searches the web, documentation and code in parallel and
// merges the findings through synthesis.
func ResearchPreset() Preset {
	return Preset{
		Name:         PresetResearch,
		Description:  "Parallel web, documentation and code search merged into one answer",
		Capabilities: []string{"web_search", "doc_search", "code_search"},
		Instructions: map[string]string{
			"web_search":  "Find what public web sources say about this query.",
			"doc_search":  "Find what technical documentation says about this query.",
			"code_search": "Find code examples and implementation patterns relevant to this query.",
		},
	}
}

// Presets lists the built-in presets in a stable order.
func Presets() []Preset {
	return []Preset{ChainPreset(), ResearchPreset()}
}

// LookupPreset finds a built-in preset by name, ignoring case.
func LookupPreset(name string) (Preset, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, p := range Presets() {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}

func (p Preset) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("preset: empty name")
	}
	if len(p.Capabilities) == 0 {
		return fmt.Errorf("preset %s: no capabilities", p.Name)
	}
	if p.Final != "" && !slices.Contains(p.Capabilities, p.Final) {
		return fmt.Errorf("preset %s: final capability %q is not part of the preset", p.Name, p.Final)
	}
	if _, err := BuildPlan(p.Capabilities, p.Dependencies); err != nil {
		return fmt.Errorf("preset %s: %w", p.Name, err)
	}
	return nil
}

// Analysis is the fixed analysis of task under this preset.
func (p Preset) Analysis(task string) domain.AnalysisResult {
	subtasks := make(map[string]string, len(p.Capabilities))
	for _, c := range p.Capabilities {
		if instr := strings.TrimSpace(p.Instructions[c]); instr != "" {
			subtasks[c] = instr + "\n\n" + task
			continue
		}
		subtasks[c] = task
	}
	var deps map[string][]string
	if len(p.Dependencies) > 0 {
		deps = make(map[string][]string, len(p.Dependencies))
		for c, pre := range p.Dependencies {
			deps[c] = slices.Clone(pre)
		}
	}
	return domain.AnalysisResult{
		Capabilities: slices.Clone(p.Capabilities),
		Subtasks:     subtasks,
		Dependencies: deps,
	}
}

// presetAnalyzer answers with the preset's analysis without calling a model.
type presetAnalyzer struct {
	preset Preset
}

func (a presetAnalyzer) Analyze(_ context.Context, task string) (domain.AnalysisResult, error) {
	start := time.Now()
	res := a.preset.Analysis(task)
	res.DurationMS = time.Since(start).Milliseconds()
	return res, nil
}

// finalOutput picks the output of the preset's final step. ok is false when
// that step did not run or failed.
func (p Preset) finalOutput(records []domain.ExecutionRecord) (string, *domain.ExecutionRecord, bool) {
	for i := range records {
		if records[i].Capability != p.Final {
			continue
		}
		if records[i].Success {
			return records[i].OutputText, &records[i], true
		}
		return "", &records[i], false
	}
	return "", nil, false
}

// RunOption customises a single run.
type RunOption func(*runOptions)

type runOptions struct {
	preset *Preset
}

// WithPreset runs the task through p instead of the analyzer.
func WithPreset(p Preset) RunOption {
	return func(o *runOptions) {
		cp := p
		cp.Capabilities = slices.Clone(p.Capabilities)
		cp.Dependencies = maps.Clone(p.Dependencies)
		cp.Instructions = maps.Clone(p.Instructions)
		o.preset = &cp
	}
}
