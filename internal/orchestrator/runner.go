package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentrouter/internal/domain"
	"agentrouter/internal/policy"
	"agentrouter/internal/registry"
	"agentrouter/internal/store/memory"
)

type Store interface {
	SaveRun(ctx context.Context, state domain.GraphState) error
	GetRun(ctx context.Context, taskID string) (domain.GraphState, error)
	ListRuns(ctx context.Context, limit int) ([]domain.GraphState, error)
	AppendEvent(ctx context.Context, ev domain.Event) error
	ListEvents(ctx context.Context, taskID string, limit int) ([]domain.Event, error)
}

// EventSink receives every event of every run. Publish must not block; errors
// and panics are logged and otherwise ignored.
type EventSink interface {
	Publish(ev domain.Event) error
}

type AgentSource interface {
	Snapshot() *registry.Snapshot
}

type TaskAnalyzer interface {
	Analyze(ctx context.Context, task string) (domain.AnalysisResult, error)
}

type OutputSynthesizer interface {
	Synthesize(ctx context.Context, task string, successful []domain.ExecutionRecord) (domain.SynthesisRecord, error)
}

type Config struct {
	AgentTimeout   time.Duration
	MaxConcurrency int
	Selector       policy.Selector
	RetainRuns     int
}

func (c Config) withDefaults() Config {
	if c.Selector == nil {
		c.Selector = policy.FirstMatch{}
	}
	if c.RetainRuns <= 0 {
		c.RetainRuns = 256
	}
	if c.MaxConcurrency < 0 {
		c.MaxConcurrency = 0
	}
	return c
}

// Runner drives runs through analyze, discover, execute and, when more than
// one agent succeeded, synthesize.
type Runner struct {
	agents      AgentSource
	analyzer    TaskAnalyzer
	synthesizer OutputSynthesizer
	executor    *Executor
	store       Store
	sinks       []EventSink
	cfg         Config
	logger      *slog.Logger

	mu       sync.Mutex
	runs     map[string]*run
	finished []string
	wg       sync.WaitGroup
}

type run struct {
	id     string
	cancel context.CancelFunc
	logger *slog.Logger
	preset *Preset

	emitMu sync.Mutex

	mu       sync.Mutex
	state    domain.GraphState
	events   []domain.Event
	seq      int64
	terminal bool
	changed  chan struct{}
}

func New(agents AgentSource, analyzer TaskAnalyzer, synthesizer OutputSynthesizer, store Store, cfg Config, logger *slog.Logger, sinks ...EventSink) *Runner {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = memory.New()
	}
	return &Runner{
		agents:      agents,
		analyzer:    analyzer,
		synthesizer: synthesizer,
		executor:    NewExecutor(cfg.Selector, cfg.AgentTimeout, cfg.MaxConcurrency, logger),
		store:       store,
		sinks:       sinks,
		cfg:         cfg,
		logger:      logger,
		runs:        make(map[string]*run),
	}
}

// Run executes task to completion and returns the final state. The returned
// error is the failure cause of a failed run; the state is returned either
// way.
func (rn *Runner) Run(ctx context.Context, task string, opts ...RunOption) (domain.GraphState, error) {
	r, runCtx, err := rn.begin(ctx, task, opts)
	if err != nil {
		return domain.GraphState{}, err
	}
	return rn.execute(runCtx, r)
}

// Start launches task in the background and returns its id. The run is not
// tied to ctx; use Cancel to stop it.
func (rn *Runner) Start(ctx context.Context, task string, opts ...RunOption) (string, error) {
	r, runCtx, err := rn.begin(context.WithoutCancel(ctx), task, opts)
	if err != nil {
		return "", err
	}
	rn.wg.Add(1)
	go func() {
		defer rn.wg.Done()
		_, _ = rn.execute(runCtx, r)
	}()
	return r.id, nil
}

// Wait blocks until every background run has finished.
func (rn *Runner) Wait() {
	rn.wg.Wait()
}

// Cancel requests cancellation of a live run. It reports whether a live run
// was found.
func (rn *Runner) Cancel(taskID string) bool {
	r := rn.lookup(taskID)
	if r == nil {
		return false
	}
	r.mu.Lock()
	live := !r.terminal
	r.mu.Unlock()
	if live {
		r.cancel()
	}
	return live
}

func (rn *Runner) Get(ctx context.Context, taskID string) (domain.GraphState, error) {
	if r := rn.lookup(taskID); r != nil {
		return r.snapshot(), nil
	}
	state, err := rn.store.GetRun(ctx, taskID)
	if err != nil {
		return domain.GraphState{}, err
	}
	return state, nil
}

func (rn *Runner) List(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	states, err := rn.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]domain.RunSummary, 0, len(states))
	for _, s := range states {
		out = append(out, s.Summary())
	}
	return out, nil
}

// Events returns the event sequence of a run from its first event. For a
// live run the sequence blocks for new events and ends after the terminal
// event or when ctx is done. Finished runs that are no longer retained in
// memory are replayed from the store.
func (rn *Runner) Events(ctx context.Context, taskID string) (iter.Seq[domain.Event], error) {
	r := rn.lookup(taskID)
	if r == nil {
		stored, err := rn.store.ListEvents(ctx, taskID, 0)
		if err != nil {
			return nil, err
		}
		if len(stored) == 0 {
			if _, err := rn.store.GetRun(ctx, taskID); err != nil {
				return nil, err
			}
		}
		return slices.Values(stored), nil
	}

	return func(yield func(domain.Event) bool) {
		next := 0
		for {
			r.mu.Lock()
			if next < len(r.events) {
				ev := r.events[next]
				next++
				r.mu.Unlock()
				if !yield(ev) || ev.IsTerminal() {
					return
				}
				continue
			}
			changed := r.changed
			r.mu.Unlock()

			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}, nil
}

func (rn *Runner) Graph() Structure {
	return GraphStructure()
}

func (rn *Runner) begin(ctx context.Context, task string, opts []RunOption) (*run, context.Context, error) {
	if strings.TrimSpace(task) == "" {
		return nil, nil, domain.ErrEmptyTask
	}
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.preset != nil {
		if err := o.preset.Validate(); err != nil {
			return nil, nil, err
		}
	}
	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		id:      id,
		cancel:  cancel,
		logger:  rn.logger.With("task_id", id),
		preset:  o.preset,
		state:   domain.NewGraphState(id, task),
		changed: make(chan struct{}),
	}

	rn.mu.Lock()
	rn.runs[id] = r
	rn.mu.Unlock()

	if err := rn.store.SaveRun(ctx, r.snapshot()); err != nil {
		r.logger.Warn("persist new run failed", "error", err)
	}
	return r, runCtx, nil
}

func (rn *Runner) execute(ctx context.Context, r *run) (domain.GraphState, error) {
	ctx, span := startRunSpan(ctx, r.id)
	start := time.Now()
	state, err := rn.drive(ctx, r)
	endRunSpan(span, state, err)

	if err != nil {
		r.logger.Warn("run failed", "duration", time.Since(start), "error", err)
	} else {
		r.logger.Info("run completed", "duration", time.Since(start), "executions", len(state.Executions), "synthesized", state.Synthesis != nil)
	}
	rn.finish(r)
	return state, err
}

func (rn *Runner) drive(ctx context.Context, r *run) (domain.GraphState, error) {
	task := r.snapshot().OriginalTask
	rn.emit(r, domain.Event{Type: domain.EventRunStarted})

	analyzer := rn.analyzer
	if r.preset != nil {
		analyzer = presetAnalyzer{preset: *r.preset}
		r.logger.Info("run uses preset", "preset", r.preset.Name)
	}
	err := rn.node(ctx, r, domain.NodeAnalyze, domain.StatusAnalyzing, func(ctx context.Context) (domain.Update, error) {
		res, err := analyzer.Analyze(ctx, task)
		if err != nil {
			return domain.Update{}, err
		}
		r.logger.Info("task analyzed", "capabilities", res.Capabilities, "dependencies", len(res.Dependencies), "duration_ms", res.DurationMS)
		subtasks := res.Subtasks
		if subtasks == nil {
			subtasks = map[string]string{}
		}
		return domain.Update{
			Capabilities: res.Capabilities,
			Subtasks:     subtasks,
			Dependencies: res.Dependencies,
		}, nil
	})
	if err != nil {
		return rn.fail(ctx, r, err)
	}

	var agents *registry.Snapshot
	err = rn.node(ctx, r, domain.NodeDiscover, domain.StatusDiscovering, func(ctx context.Context) (domain.Update, error) {
		agents = rn.agents.Snapshot()
		matches := Discover(agents, r.snapshot().DetectedCapabilities)
		for _, m := range matches {
			if !m.Matched {
				r.logger.Info("no agent for capability", "capability", m.Capability)
			}
		}
		return domain.Update{Matches: matches}, nil
	})
	if err != nil {
		return rn.fail(ctx, r, err)
	}

	err = rn.node(ctx, r, domain.NodeExecute, domain.StatusExecuting, func(ctx context.Context) (domain.Update, error) {
		state := r.snapshot()
		plan, err := BuildPlan(state.DetectedCapabilities, state.Dependencies)
		if err != nil {
			return domain.Update{}, err
		}
		records, err := rn.executor.Execute(ctx, ExecuteInput{
			TaskID:       r.id,
			OriginalTask: task,
			Plan:         plan,
			Matches:      state.Matches,
			Subtasks:     state.Subtasks,
			Agents:       agents,
		}, func(ev domain.Event) { rn.emit(r, ev) })
		return domain.Update{Executions: records}, err
	})
	if err != nil {
		return rn.fail(ctx, r, err)
	}

	state := r.snapshot()
	successful := state.Successful()
	if len(successful) == 0 {
		failures := make([]domain.ExecutionRecord, 0, len(state.Executions))
		for _, rec := range state.Executions {
			if !rec.Success {
				failures = append(failures, rec)
			}
		}
		return rn.fail(ctx, r, &domain.NoSuccessError{Failures: failures})
	}

	final := successful[0].OutputText
	if p := r.preset; p != nil && p.Final != "" {
		out, rec, ok := p.finalOutput(state.Executions)
		switch {
		case ok:
			final = out
		case rec != nil:
			return rn.fail(ctx, r, fmt.Errorf("%s pipeline: step %s failed: %s", p.Name, p.Final, rec.Error))
		default:
			return rn.fail(ctx, r, fmt.Errorf("%s pipeline: step %s did not run: no agent matched", p.Name, p.Final))
		}
	} else if ShouldSynthesize(state.Executions) == RouteSynthesize {
		err = rn.node(ctx, r, domain.NodeSynthesize, domain.StatusSynthesizing, func(ctx context.Context) (domain.Update, error) {
			rec, err := rn.synthesizer.Synthesize(ctx, task, successful)
			if err != nil {
				if ctx.Err() != nil {
					return domain.Update{}, err
				}
				r.logger.Warn("synthesis failed, concatenating outputs", "error", err)
				final = FallbackConcatenation(successful)
				return domain.Update{}, nil
			}
			final = rec.Text
			return domain.Update{Synthesis: &rec}, nil
		})
		if err != nil {
			return rn.fail(ctx, r, err)
		}
	}

	if err := rn.apply(ctx, r, domain.Update{Status: domain.StatusCompleted, FinalOutput: domain.Text(final)}); err != nil {
		return rn.fail(ctx, r, err)
	}
	rn.emit(r, domain.Event{Type: domain.EventRunCompleted, Output: final})
	return r.snapshot(), nil
}

// node runs one graph step: it moves the run to status, emits node events and
// reduces the returned update into the state. The update is applied even when
// body fails so partial results survive.
func (rn *Runner) node(ctx context.Context, r *run, node domain.Node, status domain.Status, body func(context.Context) (domain.Update, error)) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w before %s: %w", domain.ErrRunCancelled, node, err)
	}
	if err := rn.apply(ctx, r, domain.Update{Status: status}); err != nil {
		return err
	}
	rn.emit(r, domain.Event{Type: domain.EventNodeStarted, Node: node})

	start := time.Now()
	nodeCtx, span := startNodeSpan(ctx, node)
	u, err := body(nodeCtx)
	if applyErr := rn.apply(ctx, r, u); applyErr != nil && err == nil {
		err = applyErr
	}
	if err != nil && ctx.Err() != nil && !errors.Is(err, domain.ErrRunCancelled) {
		err = fmt.Errorf("%w during %s: %w", domain.ErrRunCancelled, node, ctx.Err())
	}
	endSpan(span, err)

	ev := domain.Event{Type: domain.EventNodeCompleted, Node: node, DurationMS: time.Since(start).Milliseconds()}
	if err != nil {
		ev.Error = err.Error()
	}
	rn.emit(r, ev)
	return err
}

func (rn *Runner) fail(ctx context.Context, r *run, cause error) (domain.GraphState, error) {
	if err := rn.apply(ctx, r, domain.Update{Status: domain.StatusFailed, Error: cause.Error()}); err != nil {
		r.logger.Error("mark run failed", "error", err)
	}
	rn.emit(r, domain.Event{Type: domain.EventRunFailed, Status: domain.StatusFailed, Error: cause.Error()})
	return r.snapshot(), cause
}

func (rn *Runner) apply(ctx context.Context, r *run, u domain.Update) error {
	r.mu.Lock()
	next, err := domain.Reduce(r.state, u)
	if err == nil {
		r.state = next
	}
	snapshot := r.state.Clone()
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if err := rn.store.SaveRun(context.WithoutCancel(ctx), snapshot); err != nil {
		r.logger.Warn("persist run state failed", "error", err)
	}
	return nil
}

// emit stamps ev, records it in the run journal and hands it to the store and
// sinks. Events of one run are delivered in Seq order. Nothing is emitted
// after the terminal event.
func (rn *Runner) emit(r *run, ev domain.Event) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	if r.terminal {
		r.mu.Unlock()
		return
	}
	r.seq++
	ev.Seq = r.seq
	ev.TaskID = r.id
	ev.Timestamp = time.Now().UTC()
	if ev.Status == "" {
		ev.Status = r.state.Status
	}
	if ev.IsTerminal() {
		r.terminal = true
	}
	r.events = append(r.events, ev)
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()

	if err := rn.store.AppendEvent(context.Background(), ev); err != nil {
		r.logger.Debug("persist event failed", "type", ev.Type, "error", err)
	}
	for _, sink := range rn.sinks {
		rn.publish(r, sink, ev)
	}
}

func (rn *Runner) publish(r *run, sink EventSink, ev domain.Event) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("event sink panicked", "type", ev.Type, "panic", p)
		}
	}()
	if err := sink.Publish(ev); err != nil {
		r.logger.Debug("event sink rejected event", "type", ev.Type, "error", err)
	}
}

func (rn *Runner) finish(r *run) {
	r.cancel()

	rn.mu.Lock()
	defer rn.mu.Unlock()
	rn.finished = append(rn.finished, r.id)
	for len(rn.finished) > rn.cfg.RetainRuns {
		delete(rn.runs, rn.finished[0])
		rn.finished = rn.finished[1:]
	}
}

func (rn *Runner) lookup(taskID string) *run {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return rn.runs[taskID]
}

func (r *run) snapshot() domain.GraphState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}
