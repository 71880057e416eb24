package domain

import (
	"time"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusAnalyzing    Status = "analyzing"
	StatusDiscovering  Status = "discovering"
	StatusExecuting    Status = "executing"
	StatusSynthesizing Status = "synthesizing"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

var statusRank = map[Status]int{
	StatusPending:      0,
	StatusAnalyzing:    1,
	StatusDiscovering:  2,
	StatusExecuting:    3,
	StatusSynthesizing: 4,
	StatusCompleted:    5,
	StatusFailed:       5,
}

// Rank orders statuses along the run lifecycle. Unknown statuses rank -1.
func (s Status) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

func (s Status) IsFinal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

type Node string

const (
	NodeAnalyze    Node = "analyze"
	NodeDiscover   Node = "discover"
	NodeExecute    Node = "execute"
	NodeSynthesize Node = "synthesize"
)

type GraphState struct {
	TaskID               string              `json:"task_id"`
	OriginalTask         string              `json:"original_task"`
	DetectedCapabilities []string            `json:"detected_capabilities"`
	Subtasks             map[string]string   `json:"subtasks,omitempty"`
	Dependencies         map[string][]string `json:"dependencies,omitempty"`
	Matches              []CapabilityMatch   `json:"matches,omitempty"`
	Executions           []ExecutionRecord   `json:"executions"`
	Synthesis            *SynthesisRecord    `json:"synthesis,omitempty"`
	FinalOutput          string              `json:"final_output,omitempty"`
	Status               Status              `json:"status"`
	Error                string              `json:"error,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
	CompletedAt          *time.Time          `json:"completed_at,omitempty"`
}

func NewGraphState(taskID, task string) GraphState {
	now := time.Now().UTC()
	return GraphState{
		TaskID:               taskID,
		OriginalTask:         task,
		DetectedCapabilities: []string{},
		Executions:           []ExecutionRecord{},
		Status:               StatusPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// Successful returns the successful execution records in execution order.
func (s GraphState) Successful() []ExecutionRecord {
	out := make([]ExecutionRecord, 0, len(s.Executions))
	for _, rec := range s.Executions {
		if rec.Success {
			out = append(out, rec)
		}
	}
	return out
}

func (s GraphState) Match(capability string) (CapabilityMatch, bool) {
	for _, m := range s.Matches {
		if m.Capability == capability {
			return m, true
		}
	}
	return CapabilityMatch{}, false
}

type CapabilityMatch struct {
	Capability string   `json:"capability"`
	AgentIDs   []string `json:"agent_ids"`
	Matched    bool     `json:"matched"`
}

type ExecutionRecord struct {
	AgentID    string    `json:"agent_id"`
	AgentName  string    `json:"agent_name"`
	Capability string    `json:"capability"`
	InputText  string    `json:"input_text"`
	OutputText string    `json:"output_text"`
	DurationMS int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

type SynthesisRecord struct {
	Text       string   `json:"text"`
	Sources    []string `json:"sources"`
	DurationMS int64    `json:"duration_ms"`
}

type AnalysisResult struct {
	Capabilities []string            `json:"capabilities"`
	Subtasks     map[string]string   `json:"subtasks"`
	Dependencies map[string][]string `json:"dependencies,omitempty"`
	DurationMS   int64               `json:"duration_ms"`
}

type RunSummary struct {
	TaskID       string     `json:"task_id"`
	OriginalTask string     `json:"original_task"`
	Status       Status     `json:"status"`
	Error        string     `json:"error,omitempty"`
	Executions   int        `json:"executions"`
	Synthesized  bool       `json:"synthesized"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func (s GraphState) Summary() RunSummary {
	return RunSummary{
		TaskID:       s.TaskID,
		OriginalTask: s.OriginalTask,
		Status:       s.Status,
		Error:        s.Error,
		Executions:   len(s.Executions),
		Synthesized:  s.Synthesis != nil,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		CompletedAt:  s.CompletedAt,
	}
}
