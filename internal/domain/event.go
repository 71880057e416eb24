package domain

import "time"

type EventType string

const (
	EventRunStarted         EventType = "run_started"
	EventNodeStarted        EventType = "node_started"
	EventNodeCompleted      EventType = "node_completed"
	EventExecutionStarted   EventType = "execution_started"
	EventExecutionCompleted EventType = "execution_completed"
	EventRunCompleted       EventType = "run_completed"
	EventRunFailed          EventType = "run_failed"
)

// Event is a progress notification emitted while a run advances. Seq is
// assigned per run and increases by one for every event of that run.
type Event struct {
	Seq        int64     `json:"seq"`
	TaskID     string    `json:"task_id"`
	Type       EventType `json:"type"`
	Node       Node      `json:"node,omitempty"`
	Capability string    `json:"capability,omitempty"`
	AgentID    string    `json:"agent_id,omitempty"`
	AgentName  string    `json:"agent_name,omitempty"`
	Status     Status    `json:"status,omitempty"`
	Success    *bool     `json:"success,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e Event) IsTerminal() bool {
	return e.Type == EventRunCompleted || e.Type == EventRunFailed
}
