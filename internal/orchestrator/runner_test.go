package orchestrator

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrouter/internal/agent"
	"agentrouter/internal/domain"
	"agentrouter/internal/llm"
	"agentrouter/internal/logging"
	"agentrouter/internal/registry"
	"agentrouter/internal/store/memory"
)

const haikuAnalysis = `{
  "capabilities": ["calculation", "creative_writing"],
  "subtasks": {"calculation": "15 * 3", "creative_writing": "write a haiku"}
}`

func newTestRunner(t *testing.T, reg *registry.Registry, analysis string, synth llm.Completer, sinks ...EventSink) *Runner {
	t.Helper()
	if synth == nil {
		synth = staticCompleter("synthesized answer")
	}
	return New(reg, NewAnalyzer(staticCompleter(analysis), nil), NewSynthesizer(synth), memory.New(), Config{}, logging.NewNop(), sinks...)
}

func collect(t *testing.T, rn *Runner, taskID string) []domain.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	seq, err := rn.Events(ctx, taskID)
	require.NoError(t, err)
	var out []domain.Event
	for ev := range seq {
		out = append(out, ev)
	}
	return out
}

func writer() agent.Agent {
	return constAgent("writer", "creative_writing", "an old silent pond")
}

func TestRunCalculationAndHaiku(t *testing.T) {
	reg := newRegistry(t, agent.NewCalculator(""), writer())
	rn := newTestRunner(t, reg, haikuAnalysis, staticCompleter("45, and: an old silent pond"))

	state, err := rn.Run(context.Background(), "calculate 15 * 3 and write a haiku")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, state.Status)
	assert.Equal(t, []string{"calculation", "creative_writing"}, state.DetectedCapabilities)
	require.Len(t, state.Executions, 2)
	assert.Equal(t, "15 * 3 = 45", state.Executions[0].OutputText)
	assert.Equal(t, "an old silent pond", state.Executions[1].OutputText)
	require.NotNil(t, state.Synthesis)
	assert.Equal(t, []string{"calculator", "writer"}, state.Synthesis.Sources)
	assert.Equal(t, "45, and: an old silent pond", state.FinalOutput)
	assert.Empty(t, state.Error)
	assert.NotNil(t, state.CompletedAt)
}

func TestRunSingleSuccessSkipsSynthesis(t *testing.T) {
	var synthCalls atomic.Int32
	synth := llm.Func(func(context.Context, string, string) (string, error) {
		synthCalls.Add(1)
		return "should not be used", nil
	})
	failing := agent.NewFunc("writer", "Writer", []string{"creative_writing"}, func(context.Context, string) (string, error) {
		return "", errors.New("writer's block")
	})
	rn := newTestRunner(t, newRegistry(t, agent.NewCalculator(""), failing), haikuAnalysis, synth)

	state, err := rn.Run(context.Background(), "calculate 15 * 3 and write a haiku")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, state.Status)
	assert.Equal(t, "15 * 3 = 45", state.FinalOutput)
	assert.Nil(t, state.Synthesis)
	assert.Zero(t, synthCalls.Load())
	require.Len(t, state.Executions, 2)
	assert.False(t, state.Executions[1].Success)
}

func TestRunSynthesisFailureFallsBack(t *testing.T) {
	synth := llm.Func(func(context.Context, string, string) (string, error) {
		return "", errors.New("overloaded")
	})
	rn := newTestRunner(t, newRegistry(t, agent.NewCalculator(""), writer()), haikuAnalysis, synth)

	state, err := rn.Run(context.Background(), "calculate 15 * 3 and write a haiku")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, state.Status)
	assert.Nil(t, state.Synthesis)
	assert.Equal(t, FallbackConcatenation(state.Successful()), state.FinalOutput)
}

func TestRunStateHasSubtaskPerCapability(t *testing.T) {
	analysis := `{
  "capabilities": ["calculation", "creative_writing", "calculation"],
  "subtasks": {"calculation": "15 * 3", "astrology": "read the stars"}
}`
	rn := newTestRunner(t, newRegistry(t, agent.NewCalculator(""), writer()), analysis, nil)

	task := "calculate 15 * 3 and write a haiku"
	state, err := rn.Run(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, []string{"calculation", "creative_writing"}, state.DetectedCapabilities)
	keys := slices.Sorted(maps.Keys(state.Subtasks))
	assert.Equal(t, slices.Sorted(slices.Values(state.DetectedCapabilities)), keys)
	assert.Equal(t, "15 * 3", state.Subtasks["calculation"])
	assert.Equal(t, task, state.Subtasks["creative_writing"])

	stored, err := rn.Get(context.Background(), state.TaskID)
	require.NoError(t, err)
	assert.Equal(t, state.Subtasks, stored.Subtasks)
}

func TestRunWithoutMatchesFails(t *testing.T) {
	rn := newTestRunner(t, newRegistry(t, agent.NewEcho("")), `{"capabilities": ["telepathy"]}`, nil)

	state, err := rn.Run(context.Background(), "read my mind")
	require.ErrorIs(t, err, domain.ErrNoSuccessfulExecutions)
	assert.Equal(t, domain.StatusFailed, state.Status)
	assert.Contains(t, state.Error, "no agent matched")
	assert.Empty(t, state.Executions)
	require.Len(t, state.Matches, 1)
	assert.False(t, state.Matches[0].Matched)
}

func TestRunAllAgentsFail(t *testing.T) {
	failing := agent.NewFunc("writer", "Writer", []string{"creative_writing"}, func(context.Context, string) (string, error) {
		return "", errors.New("writer's block")
	})
	rn := newTestRunner(t, newRegistry(t, failing), `{"capabilities": ["creative_writing"]}`, nil)

	state, err := rn.Run(context.Background(), "write a poem")
	var noSuccess *domain.NoSuccessError
	require.True(t, errors.As(err, &noSuccess))
	require.Len(t, noSuccess.Failures, 1)
	assert.Equal(t, domain.StatusFailed, state.Status)
	assert.Contains(t, state.Error, "writer's block")
}

func TestRunCycleFailsBeforeInvocation(t *testing.T) {
	var invoked atomic.Bool
	a := agent.NewFunc("a", "A", []string{"research", "analysis"}, func(context.Context, string) (string, error) {
		invoked.Store(true)
		return "x", nil
	})
	analysis := `{"capabilities": ["research", "analysis"],
		"dependencies": {"research": ["analysis"], "analysis": ["research"]}}`
	rn := newTestRunner(t, newRegistry(t, a), analysis, nil)

	state, err := rn.Run(context.Background(), "loop")
	require.ErrorIs(t, err, domain.ErrDependencyCycle)
	assert.Equal(t, domain.StatusFailed, state.Status)
	assert.False(t, invoked.Load())
	assert.Empty(t, state.Executions)
}

func TestRunAnalysisFailure(t *testing.T) {
	rn := newTestRunner(t, newRegistry(t, agent.NewEcho("")), "not json at all", nil)

	state, err := rn.Run(context.Background(), "echo hi")
	require.ErrorIs(t, err, domain.ErrAnalysis)
	assert.Equal(t, domain.StatusFailed, state.Status)
	assert.Nil(t, state.Matches)
}

func TestRunRejectsEmptyTask(t *testing.T) {
	rn := newTestRunner(t, newRegistry(t), "{}", nil)
	_, err := rn.Run(context.Background(), "   ")
	require.ErrorIs(t, err, domain.ErrEmptyTask)

	_, err = rn.Start(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrEmptyTask)
}

func TestRunEventsAreOrderedWithOneTerminal(t *testing.T) {
	sink := &recordingSink{}
	reg := newRegistry(t, agent.NewCalculator(""), writer())
	rn := newTestRunner(t, reg, haikuAnalysis, nil, panickingSink{}, sink)

	state, err := rn.Run(context.Background(), "calculate 15 * 3 and write a haiku")
	require.NoError(t, err)

	events := collect(t, rn, state.TaskID)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventRunStarted, events[0].Type)
	assert.Equal(t, domain.EventRunCompleted, events[len(events)-1].Type)
	assert.Equal(t, state.FinalOutput, events[len(events)-1].Output)

	terminal := 0
	var nodes []domain.Node
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, state.TaskID, ev.TaskID)
		if ev.IsTerminal() {
			terminal++
		}
		if ev.Type == domain.EventNodeStarted {
			nodes = append(nodes, ev.Node)
		}
	}
	assert.Equal(t, 1, terminal)
	assert.Equal(t, []domain.Node{domain.NodeAnalyze, domain.NodeDiscover, domain.NodeExecute, domain.NodeSynthesize}, nodes)
	assert.Len(t, sink.snapshot(), len(events), "sinks see every event despite a panicking sibling")
}

func TestFailedRunHasFailedTerminalEvent(t *testing.T) {
	rn := newTestRunner(t, newRegistry(t), `{"capabilities": ["telepathy"]}`, nil)
	state, err := rn.Run(context.Background(), "read my mind")
	require.Error(t, err)

	events := collect(t, rn, state.TaskID)
	last := events[len(events)-1]
	assert.Equal(t, domain.EventRunFailed, last.Type)
	assert.Equal(t, domain.StatusFailed, last.Status)
	assert.NotEmpty(t, last.Error)
}

func TestStartAndCancelBetweenLayers(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var dependentRan atomic.Bool

	researcher := agent.NewFunc("researcher", "Researcher", []string{"research"}, func(context.Context, string) (string, error) {
		close(started)
		<-release
		return "facts", nil
	})
	analyst := agent.NewFunc("analyst", "Analyst", []string{"analysis"}, func(context.Context, string) (string, error) {
		dependentRan.Store(true)
		return "analysis", nil
	})
	analysis := `{"capabilities": ["research", "analysis"], "dependencies": {"analysis": ["research"]}}`
	rn := newTestRunner(t, newRegistry(t, researcher, analyst), analysis, nil)

	id, err := rn.Start(context.Background(), "research then analyse")
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("researcher never started")
	}
	assert.True(t, rn.Cancel(id))
	close(release)
	rn.Wait()

	state, err := rn.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, state.Status)
	assert.Contains(t, state.Error, domain.ErrRunCancelled.Error())
	assert.False(t, dependentRan.Load())
	assert.Empty(t, state.Executions)

	assert.False(t, rn.Cancel(id), "finished runs cannot be cancelled")
	assert.False(t, rn.Cancel("unknown"))

	events := collect(t, rn, id)
	assert.Equal(t, domain.EventRunFailed, events[len(events)-1].Type)
}

func TestLiveEventsStreamUntilTerminal(t *testing.T) {
	release := make(chan struct{})
	slow := agent.NewFunc("slow", "Slow", []string{"research"}, func(context.Context, string) (string, error) {
		<-release
		return "late facts", nil
	})
	rn := newTestRunner(t, newRegistry(t, slow), `{"capabilities": ["research"]}`, nil)

	id, err := rn.Start(context.Background(), "look it up")
	require.NoError(t, err)

	done := make(chan []domain.Event)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		seq, err := rn.Events(ctx, id)
		if err != nil {
			done <- nil
			return
		}
		var out []domain.Event
		for ev := range seq {
			out = append(out, ev)
		}
		done <- out
	}()

	close(release)
	events := <-done
	rn.Wait()

	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventRunCompleted, events[len(events)-1].Type)
	assert.Equal(t, "late facts", events[len(events)-1].Output)
}

func TestGetAndListFallBackToStore(t *testing.T) {
	store := memory.New()
	reg := newRegistry(t, agent.NewEcho(""))
	cfg := Config{RetainRuns: 1}
	rn := New(reg, NewAnalyzer(staticCompleter(`{"capabilities": ["echo"]}`), nil), NewSynthesizer(staticCompleter("x")), store, cfg, logging.NewNop())

	first, err := rn.Run(context.Background(), "echo one")
	require.NoError(t, err)
	second, err := rn.Run(context.Background(), "echo two")
	require.NoError(t, err)

	assert.Nil(t, rn.lookup(first.TaskID), "evicted from memory")
	got, err := rn.Get(context.Background(), first.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "Echo from echo: echo one", got.FinalOutput)

	events := collect(t, rn, first.TaskID)
	require.NotEmpty(t, events)
	assert.True(t, events[len(events)-1].IsTerminal())

	summaries, err := rn.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	ids := []string{summaries[0].TaskID, summaries[1].TaskID}
	assert.ElementsMatch(t, []string{first.TaskID, second.TaskID}, ids)

	_, err = rn.Get(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrRunNotFound)
	_, err = rn.Events(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestRegistryChangesApplyToNextRun(t *testing.T) {
	reg := newRegistry(t)
	rn := newTestRunner(t, reg, `{"capabilities": ["echo"]}`, nil)

	_, err := rn.Run(context.Background(), "echo hi")
	require.ErrorIs(t, err, domain.ErrNoSuccessfulExecutions)

	require.NoError(t, reg.Register(agent.NewEcho("")))
	state, err := rn.Run(context.Background(), "echo hi")
	require.NoError(t, err)
	assert.Equal(t, "Echo from echo: echo hi", state.FinalOutput)
}
