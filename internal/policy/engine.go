package policy

import (
	"fmt"
	"strings"
	"sync"

	"agentrouter/internal/agent"
)

const (
	FirstMatchName = "first_match"
	RoundRobinName = "round_robin"
)

// Selector picks the agent that serves a capability. candidates is never
// empty and is in registry order.
type Selector interface {
	Select(capability string, candidates []agent.Agent) agent.Agent
}

// FirstMatch always picks the earliest registered candidate.
type FirstMatch struct{}

func (FirstMatch) Select(_ string, candidates []agent.Agent) agent.Agent {
	return candidates[0]
}

// RoundRobin rotates through candidates per capability.
type RoundRobin struct {
	mu   sync.Mutex
	next map[string]int
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{next: make(map[string]int)}
}

func (r *RoundRobin) Select(capability string, candidates []agent.Agent) agent.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.next[capability] % len(candidates)
	r.next[capability] = i + 1
	return candidates[i]
}

func New(name string) (Selector, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", FirstMatchName:
		return FirstMatch{}, nil
	case RoundRobinName:
		return NewRoundRobin(), nil
	default:
		return nil, fmt.Errorf("unknown selection policy %q", name)
	}
}
