package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"agentrouter/internal/agent"
	"agentrouter/internal/domain"
	"agentrouter/internal/policy"
	"agentrouter/internal/registry"
)

// ExecuteInput is everything the executor needs for one run.
type ExecuteInput struct {
	TaskID       string
	OriginalTask string
	Plan         Plan
	Matches      []domain.CapabilityMatch
	Subtasks     map[string]string
	Agents       *registry.Snapshot
}

// Executor runs the plan layer by layer. Agents within a layer run
// concurrently and the layer is joined before the next one starts.
type Executor struct {
	selector       policy.Selector
	agentTimeout   time.Duration
	maxConcurrency int
	logger         *slog.Logger
}

func NewExecutor(selector policy.Selector, agentTimeout time.Duration, maxConcurrency int, logger *slog.Logger) *Executor {
	if selector == nil {
		selector = policy.FirstMatch{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		selector:       selector,
		agentTimeout:   agentTimeout,
		maxConcurrency: maxConcurrency,
		logger:         logger,
	}
}

// Execute returns one record per matched capability, in plan order.
// Unmatched capabilities produce no record. Agent failures become failed
// records and never stop sibling agents.
//
// Cancellation of ctx is observed between layers. Calls already running are
// allowed to finish but the records of the interrupted layer are discarded;
// the records of completed layers are returned with domain.ErrRunCancelled.
func (e *Executor) Execute(ctx context.Context, in ExecuteInput, emit func(domain.Event)) ([]domain.ExecutionRecord, error) {
	if emit == nil {
		emit = func(domain.Event) {}
	}
	matches := make(map[string]domain.CapabilityMatch, len(in.Matches))
	for _, m := range in.Matches {
		matches[m.Capability] = m
	}

	records := make([]domain.ExecutionRecord, 0, len(in.Matches))
	byCapability := make(map[string]domain.ExecutionRecord, len(in.Matches))

	for depth, layer := range in.Plan.Layers {
		if err := ctx.Err(); err != nil {
			return records, fmt.Errorf("%w: before layer %d: %w", domain.ErrRunCancelled, depth, err)
		}

		results := make([]*domain.ExecutionRecord, len(layer))
		g := new(errgroup.Group)
		if e.maxConcurrency > 0 {
			g.SetLimit(e.maxConcurrency)
		}
		for i, capability := range layer {
			a := e.pick(capability, matches[capability], in.Agents)
			if a == nil {
				e.logger.Info("capability skipped, no agent matched", "task_id", in.TaskID, "capability", capability)
				continue
			}
			input := buildAgentInput(subtaskFor(in, capability), in.Plan.Prerequisites(capability), matches, byCapability)
			// started events follow plan order; completions arrive as agents finish
			emit(domain.Event{
				Type:       domain.EventExecutionStarted,
				Node:       domain.NodeExecute,
				Capability: capability,
				AgentID:    a.ID(),
				AgentName:  a.Name(),
			})
			g.Go(func() error {
				rec := e.invoke(ctx, in.TaskID, a, capability, input, emit)
				results[i] = &rec
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return records, fmt.Errorf("%w: during layer %d: %w", domain.ErrRunCancelled, depth, err)
		}
		for _, rec := range results {
			if rec == nil {
				continue
			}
			records = append(records, *rec)
			byCapability[rec.Capability] = *rec
		}
	}
	return records, nil
}

func (e *Executor) pick(capability string, m domain.CapabilityMatch, agents *registry.Snapshot) agent.Agent {
	if !m.Matched || agents == nil {
		return nil
	}
	candidates := make([]agent.Agent, 0, len(m.AgentIDs))
	for _, id := range m.AgentIDs {
		if a, ok := agents.Get(id); ok {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return e.selector.Select(capability, candidates)
}

func (e *Executor) invoke(ctx context.Context, taskID string, a agent.Agent, capability, input string, emit func(domain.Event)) (rec domain.ExecutionRecord) {
	rec = domain.ExecutionRecord{
		AgentID:    a.ID(),
		AgentName:  a.Name(),
		Capability: capability,
		InputText:  input,
		StartedAt:  time.Now().UTC(),
	}

	// The call outlives run cancellation; the layer join decides whether the
	// result is kept.
	callCtx := context.WithoutCancel(ctx)
	if e.agentTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, e.agentTimeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("agent panicked", "task_id", taskID, "agent", rec.AgentID, "panic", p, "stack", string(debug.Stack()))
			rec.Success = false
			rec.OutputText = ""
			rec.Error = (&domain.InvocationError{AgentID: rec.AgentID, Capability: capability, Err: fmt.Errorf("panic: %v", p)}).Error()
		}
		rec.DurationMS = time.Since(rec.StartedAt).Milliseconds()
		success := rec.Success
		emit(domain.Event{
			Type:       domain.EventExecutionCompleted,
			Node:       domain.NodeExecute,
			Capability: capability,
			AgentID:    rec.AgentID,
			AgentName:  rec.AgentName,
			Success:    &success,
			DurationMS: rec.DurationMS,
			Output:     rec.OutputText,
			Error:      rec.Error,
		})
	}()

	out, err := a.Invoke(callCtx, input)
	if err != nil {
		rec.Error = (&domain.InvocationError{AgentID: rec.AgentID, Capability: capability, Err: err}).Error()
		e.logger.Warn("agent failed", "task_id", taskID, "agent", rec.AgentID, "capability", capability, "error", err)
		return rec
	}
	rec.OutputText = out
	rec.Success = true
	return rec
}

func subtaskFor(in ExecuteInput, capability string) string {
	if s := strings.TrimSpace(in.Subtasks[capability]); s != "" {
		return s
	}
	return in.OriginalTask
}

// buildAgentInput appends one labelled block per prerequisite to the
// subtask. Prerequisites that failed or had no agent get a placeholder so the
// dependent agent still runs.
func buildAgentInput(subtask string, prereqs []string, matches map[string]domain.CapabilityMatch, done map[string]domain.ExecutionRecord) string {
	if len(prereqs) == 0 {
		return subtask
	}
	var b strings.Builder
	b.WriteString(subtask)
	for _, p := range prereqs {
		b.WriteString("\n\n")
		rec, ok := done[p]
		switch {
		case ok && rec.Success:
			fmt.Fprintf(&b, "[Output from %s (%s)]\n%s", p, rec.AgentName, rec.OutputText)
		case ok:
			fmt.Fprintf(&b, "[Output from %s unavailable: %s]", p, rec.Error)
		case !matches[p].Matched:
			fmt.Fprintf(&b, "[Output from %s unavailable: no agent matched]", p)
		default:
			fmt.Fprintf(&b, "[Output from %s unavailable: not executed]", p)
		}
	}
	return b.String()
}
