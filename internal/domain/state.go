package domain

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// Update is the partial state a graph node returns. Zero-valued fields leave
// the state untouched.
type Update struct {
	Status       Status
	Capabilities []string
	Subtasks     map[string]string
	Dependencies map[string][]string
	Matches      []CapabilityMatch
	Executions   []ExecutionRecord
	Synthesis    *SynthesisRecord
	FinalOutput  *string
	Error        string
}

func Text(s string) *string {
	return &s
}

// Reduce merges u into state and returns the new state. The input state is
// never modified and the result shares no maps or slices with it.
//
// Capabilities merge as an ordered set union and executions are appended.
// Subtasks, dependencies, matches, synthesis and final output may be written
// once. Status only moves forward, failed is reachable from any non-final
// status, and final statuses are absorbing.
func Reduce(state GraphState, u Update) (GraphState, error) {
	next := state.Clone()

	if u.Status != "" && u.Status != state.Status {
		if err := checkTransition(state.Status, u.Status); err != nil {
			return state, err
		}
		next.Status = u.Status
	}

	for _, c := range u.Capabilities {
		if !slices.Contains(next.DetectedCapabilities, c) {
			next.DetectedCapabilities = append(next.DetectedCapabilities, c)
		}
	}

	if u.Subtasks != nil {
		if state.Subtasks != nil {
			return state, fmt.Errorf("subtasks: %w", ErrFieldAlreadySet)
		}
		next.Subtasks = maps.Clone(u.Subtasks)
	}
	if u.Dependencies != nil {
		if state.Dependencies != nil {
			return state, fmt.Errorf("dependencies: %w", ErrFieldAlreadySet)
		}
		next.Dependencies = cloneDeps(u.Dependencies)
	}
	if u.Matches != nil {
		if state.Matches != nil {
			return state, fmt.Errorf("matches: %w", ErrFieldAlreadySet)
		}
		next.Matches = cloneMatches(u.Matches)
	}
	if u.Synthesis != nil {
		if state.Synthesis != nil {
			return state, fmt.Errorf("synthesis: %w", ErrFieldAlreadySet)
		}
		syn := *u.Synthesis
		syn.Sources = slices.Clone(u.Synthesis.Sources)
		next.Synthesis = &syn
	}
	if u.FinalOutput != nil {
		if state.FinalOutput != "" {
			return state, fmt.Errorf("final output: %w", ErrFieldAlreadySet)
		}
		next.FinalOutput = *u.FinalOutput
	}

	next.Executions = append(next.Executions, u.Executions...)
	if u.Error != "" {
		next.Error = u.Error
	}

	now := time.Now().UTC()
	next.UpdatedAt = now
	if next.Status.IsFinal() && next.CompletedAt == nil {
		next.CompletedAt = &now
	}
	return next, nil
}

func checkTransition(from, to Status) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if from.IsFinal() {
		return fmt.Errorf("%w: %s is final", ErrInvalidTransition, from)
	}
	if to == StatusFailed {
		return nil
	}
	if to.Rank() <= from.Rank() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Clone returns a deep copy of s.
func (s GraphState) Clone() GraphState {
	out := s
	out.DetectedCapabilities = slices.Clone(s.DetectedCapabilities)
	if out.DetectedCapabilities == nil {
		out.DetectedCapabilities = []string{}
	}
	out.Subtasks = maps.Clone(s.Subtasks)
	out.Dependencies = cloneDeps(s.Dependencies)
	out.Matches = cloneMatches(s.Matches)
	out.Executions = slices.Clone(s.Executions)
	if out.Executions == nil {
		out.Executions = []ExecutionRecord{}
	}
	if s.Synthesis != nil {
		syn := *s.Synthesis
		syn.Sources = slices.Clone(s.Synthesis.Sources)
		out.Synthesis = &syn
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

func cloneDeps(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = slices.Clone(v)
	}
	return out
}

func cloneMatches(in []CapabilityMatch) []CapabilityMatch {
	if in == nil {
		return nil
	}
	out := make([]CapabilityMatch, len(in))
	for i, m := range in {
		out[i] = m
		out[i].AgentIDs = slices.Clone(m.AgentIDs)
	}
	return out
}
