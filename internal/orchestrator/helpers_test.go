package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"agentrouter/internal/agent"
	"agentrouter/internal/domain"
	"agentrouter/internal/llm"
	"agentrouter/internal/registry"
)

func newRegistry(t *testing.T, agents ...agent.Agent) *registry.Registry {
	t.Helper()
	reg, err := registry.New(agents...)
	require.NoError(t, err)
	return reg
}

func staticCompleter(out string) llm.Completer {
	return llm.Func(func(context.Context, string, string) (string, error) {
		return out, nil
	})
}

func constAgent(id, capability, out string) agent.Agent {
	return agent.NewFunc(id, id, []string{capability}, func(context.Context, string) (string, error) {
		return out, nil
	})
}

// inputRecorder captures the input every agent received.
type inputRecorder struct {
	mu     sync.Mutex
	inputs map[string]string
}

func newInputRecorder() *inputRecorder {
	return &inputRecorder{inputs: map[string]string{}}
}

func (r *inputRecorder) agent(id, capability string, fn func(input string) (string, error)) agent.Agent {
	return agent.NewFunc(id, id, []string{capability}, func(_ context.Context, input string) (string, error) {
		r.mu.Lock()
		r.inputs[id] = input
		r.mu.Unlock()
		return fn(input)
	})
}

func (r *inputRecorder) input(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.inputs[id]
	return in, ok
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingSink) Publish(ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) snapshot() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}

type panickingSink struct{}

func (panickingSink) Publish(domain.Event) error {
	panic("sink exploded")
}
