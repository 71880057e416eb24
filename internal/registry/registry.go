// Package registry keeps the set of available agents and answers
// capability lookups.
//
// A Registry is safe for concurrent use. Runs take a Snapshot when they
// start discovery, so agents registered or removed later never reach an
// in-flight run.
package registry

import (
	"fmt"
	"slices"
	"sync"

	"agentrouter/internal/agent"
	"agentrouter/internal/domain"
)

type Registry struct {
	mu     sync.RWMutex
	order  []string
	agents map[string]agent.Agent
}

func New(agents ...agent.Agent) (*Registry, error) {
	r := &Registry{agents: make(map[string]agent.Agent)}
	for _, a := range agents {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a. It fails with domain.ErrAgentExists when the id is taken.
func (r *Registry) Register(a agent.Agent) error {
	if a == nil || a.ID() == "" {
		return fmt.Errorf("register agent: empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[a.ID()]; ok {
		return fmt.Errorf("register %s: %w", a.ID(), domain.ErrAgentExists)
	}
	r.agents[a.ID()] = a
	r.order = append(r.order, a.ID())
	return nil
}

// Replace registers a, overwriting an agent with the same id in place.
func (r *Registry) Replace(a agent.Agent) error {
	if a == nil || a.ID() == "" {
		return fmt.Errorf("replace agent: empty id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[a.ID()]; !ok {
		r.order = append(r.order, a.ID())
	}
	r.agents[a.ID()] = a
	return nil
}

func (r *Registry) Unregister(id string) (agent.Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	delete(r.agents, id)
	r.order = slices.DeleteFunc(r.order, func(v string) bool { return v == id })
	return a, true
}

// Sync makes the registry hold exactly the given agents. Existing ids keep
// their position, new ids are appended, and ids not in agents are removed.
func (r *Registry) Sync(agents []agent.Agent) (added, replaced, removed int) {
	keep := make(map[string]struct{}, len(agents))
	for _, a := range agents {
		keep[a.ID()] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	order := r.order[:0:0]
	for _, id := range r.order {
		if _, ok := keep[id]; ok {
			order = append(order, id)
			continue
		}
		delete(r.agents, id)
		removed++
	}
	for _, a := range agents {
		if _, ok := r.agents[a.ID()]; ok {
			replaced++
		} else {
			order = append(order, a.ID())
			added++
		}
		r.agents[a.ID()] = a
	}
	r.order = order
	return added, replaced, removed
}

func (r *Registry) Get(id string) (agent.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Snapshot returns an immutable view of the current registration order.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := &Snapshot{
		agents: make([]agent.Agent, 0, len(r.order)),
		byID:   make(map[string]agent.Agent, len(r.order)),
	}
	for _, id := range r.order {
		a := r.agents[id]
		s.agents = append(s.agents, a)
		s.byID[id] = a
	}
	return s
}

func (r *Registry) List() []agent.Agent   { return r.Snapshot().List() }
func (r *Registry) IDs() []string         { return r.Snapshot().IDs() }
func (r *Registry) AllInfo() []agent.Info { return r.Snapshot().AllInfo() }

func (r *Registry) FindByCapability(tag string) []agent.Agent {
	return r.Snapshot().FindByCapability(tag)
}

func (r *Registry) FindByCapabilities(tags []string, matchAll bool) []agent.Agent {
	return r.Snapshot().FindByCapabilities(tags, matchAll)
}

func (r *Registry) Info(id string) (agent.Info, bool) {
	a, ok := r.Get(id)
	if !ok {
		return agent.Info{}, false
	}
	return agent.Describe(a), true
}

// Snapshot is a point-in-time, read-only copy of a Registry.
type Snapshot struct {
	agents []agent.Agent
	byID   map[string]agent.Agent
}

func (s *Snapshot) Get(id string) (agent.Agent, bool) {
	a, ok := s.byID[id]
	return a, ok
}

func (s *Snapshot) Len() int { return len(s.agents) }

func (s *Snapshot) List() []agent.Agent {
	return slices.Clone(s.agents)
}

func (s *Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.agents))
	for _, a := range s.agents {
		ids = append(ids, a.ID())
	}
	return ids
}

func (s *Snapshot) AllInfo() []agent.Info {
	out := make([]agent.Info, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, agent.Describe(a))
	}
	return out
}

// FindByCapability returns agents declaring tag, in registration order.
func (s *Snapshot) FindByCapability(tag string) []agent.Agent {
	var out []agent.Agent
	for _, a := range s.agents {
		if agent.HasCapability(a, tag) {
			out = append(out, a)
		}
	}
	return out
}

// FindByCapabilities returns agents declaring all tags when matchAll is set,
// or any of them otherwise.
func (s *Snapshot) FindByCapabilities(tags []string, matchAll bool) []agent.Agent {
	var out []agent.Agent
	for _, a := range s.agents {
		hits := 0
		for _, tag := range tags {
			if agent.HasCapability(a, tag) {
				hits++
			}
		}
		if (matchAll && hits == len(tags) && len(tags) > 0) || (!matchAll && hits > 0) {
			out = append(out, a)
		}
	}
	return out
}
