package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAnalysis               = errors.New("task analysis failed")
	ErrDependencyCycle        = errors.New("dependency cycle")
	ErrAgentInvocation        = errors.New("agent invocation failed")
	ErrSynthesis              = errors.New("synthesis failed")
	ErrNoSuccessfulExecutions = errors.New("no successful executions")
	ErrRunCancelled           = errors.New("run cancelled")
	ErrEmptyTask              = errors.New("task is empty")
	ErrRunNotFound            = errors.New("run not found")
	ErrAgentExists            = errors.New("agent already registered")
	ErrAgentNotFound          = errors.New("agent not found")
	ErrFieldAlreadySet        = errors.New("state field already set")
	ErrInvalidTransition      = errors.New("invalid status transition")
)

// CycleError reports a dependency cycle among capabilities. Path starts and
// ends with the same capability.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error {
	return ErrDependencyCycle
}

type InvocationError struct {
	AgentID    string
	Capability string
	Err        error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("agent %s (%s): %v", e.AgentID, e.Capability, e.Err)
}

func (e *InvocationError) Unwrap() []error {
	return []error{ErrAgentInvocation, e.Err}
}

// NoSuccessError aggregates every failed record of a run that produced no
// successful execution. Failures is empty when no capability was matched.
type NoSuccessError struct {
	Failures []ExecutionRecord
}

func (e *NoSuccessError) Error() string {
	if len(e.Failures) == 0 {
		return "no successful executions: no agent matched any detected capability"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, rec := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s/%s: %s", rec.Capability, rec.AgentID, rec.Error))
	}
	return "no successful executions: " + strings.Join(parts, "; ")
}

func (e *NoSuccessError) Unwrap() error {
	return ErrNoSuccessfulExecutions
}
