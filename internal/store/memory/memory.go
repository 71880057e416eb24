// Package memory keeps runs and their events in process memory. It is the
// default store and loses everything on exit.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"agentrouter/internal/domain"
)

// DefaultMaxRuns bounds the store when no option says otherwise.
const DefaultMaxRuns = 1024

type Option func(*Store)

// WithMaxRuns caps the number of runs kept. Saving a new run beyond the cap
// drops the oldest inserted run together with its events. n <= 0 keeps
// everything.
func WithMaxRuns(n int) Option {
	return func(s *Store) {
		s.maxRuns = n
	}
}

type Store struct {
	mu      sync.RWMutex
	runs    map[string]domain.GraphState
	events  map[string][]domain.Event
	order   []string
	maxRuns int
}

func New(opts ...Option) *Store {
	s := &Store{
		runs:    make(map[string]domain.GraphState),
		events:  make(map[string][]domain.Event),
		maxRuns: DefaultMaxRuns,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveRun upserts a run. CreatedAt is fixed by the first save.
func (s *Store) SaveRun(_ context.Context, state domain.GraphState) error {
	if state.TaskID == "" {
		return fmt.Errorf("save run: empty task id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state = state.Clone()
	if prev, ok := s.runs[state.TaskID]; ok {
		state.CreatedAt = prev.CreatedAt
	} else {
		s.order = append(s.order, state.TaskID)
	}
	s.runs[state.TaskID] = state
	s.evictLocked()
	return nil
}

func (s *Store) evictLocked() {
	if s.maxRuns <= 0 {
		return
	}
	for len(s.order) > s.maxRuns {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.runs, oldest)
		delete(s.events, oldest)
	}
}

func (s *Store) GetRun(_ context.Context, taskID string) (domain.GraphState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.runs[taskID]
	if !ok {
		return domain.GraphState{}, fmt.Errorf("get run %s: %w", taskID, domain.ErrRunNotFound)
	}
	return state.Clone(), nil
}

// ListRuns returns runs newest first. A limit <= 0 returns all of them.
func (s *Store) ListRuns(_ context.Context, limit int) ([]domain.GraphState, error) {
	s.mu.RLock()
	out := make([]domain.GraphState, 0, len(s.runs))
	for _, state := range s.runs {
		out = append(out, state.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.GraphState) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.TaskID, b.TaskID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendEvent stores an event. Events of runs the store does not hold, or has
// already evicted, are rejected so the log cannot outgrow the run cap.
func (s *Store) AppendEvent(_ context.Context, ev domain.Event) error {
	if ev.TaskID == "" {
		return fmt.Errorf("append event: empty task id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[ev.TaskID]; !ok {
		return fmt.Errorf("append event: %w", domain.ErrRunNotFound)
	}
	s.events[ev.TaskID] = append(s.events[ev.TaskID], ev)
	return nil
}

// ListEvents returns the most recent limit events of a run in sequence
// order. A limit <= 0 returns all of them.
func (s *Store) ListEvents(_ context.Context, taskID string, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	events := slices.Clone(s.events[taskID])
	s.mu.RUnlock()

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	if events == nil {
		events = []domain.Event{}
	}
	return events, nil
}

func (s *Store) Close() error {
	return nil
}
