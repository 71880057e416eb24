package agent

import (
	"context"
	"slices"
	"strings"
)

// Agent is a worker selected by declared capability. Invoke receives the
// subtask text, possibly augmented with prerequisite outputs, and returns the
// agent's answer. Implementations must be safe for concurrent Invoke calls.
type Agent interface {
	ID() string
	Name() string
	Description() string
	Capabilities() []string
	Invoke(ctx context.Context, input string) (string, error)
}

type Info struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
}

func Describe(a Agent) Info {
	return Info{
		ID:           a.ID(),
		Name:         a.Name(),
		Description:  a.Description(),
		Capabilities: slices.Clone(a.Capabilities()),
	}
}

func HasCapability(a Agent, tag string) bool {
	return slices.Contains(a.Capabilities(), tag)
}

// Func adapts a plain function into an Agent.
type Func struct {
	id           string
	name         string
	description  string
	capabilities []string
	fn           func(ctx context.Context, input string) (string, error)
}

func NewFunc(id, name string, capabilities []string, fn func(ctx context.Context, input string) (string, error)) *Func {
	if strings.TrimSpace(name) == "" {
		name = id
	}
	return &Func{
		id:           id,
		name:         name,
		capabilities: normalizeCapabilities(capabilities),
		fn:           fn,
	}
}

func (f *Func) WithDescription(d string) *Func {
	f.description = d
	return f
}

func (f *Func) ID() string             { return f.id }
func (f *Func) Name() string           { return f.name }
func (f *Func) Description() string    { return f.description }
func (f *Func) Capabilities() []string { return f.capabilities }

func (f *Func) Invoke(ctx context.Context, input string) (string, error) {
	return f.fn(ctx, input)
}

func normalizeCapabilities(in []string) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" || slices.Contains(out, c) {
			continue
		}
		out = append(out, c)
	}
	return out
}
