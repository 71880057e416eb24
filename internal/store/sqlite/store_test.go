package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"agentrouter/internal/domain"
)

func TestSaveRunReplacesExecutions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	runID := uuid.NewString()
	state := domain.NewGraphState(runID, "summarize and translate")
	if err := store.SaveRun(ctx, state); err != nil {
		t.Fatalf("save pending run: %v", err)
	}

	state.Status = domain.StatusExecuting
	state.Executions = []domain.ExecutionRecord{
		{AgentID: "summarizer", AgentName: "Summarizer", Capability: "summarization", OutputText: "short", Success: true, StartedAt: time.Now().UTC()},
	}
	if err := store.SaveRun(ctx, state); err != nil {
		t.Fatalf("save executing run: %v", err)
	}

	state.Executions = append(state.Executions, domain.ExecutionRecord{
		AgentID: "translator", AgentName: "Translator", Capability: "translation", OutputText: "kurz", Success: true, StartedAt: time.Now().UTC(),
	})
	if err := store.SaveRun(ctx, state); err != nil {
		t.Fatalf("save second execution: %v", err)
	}

	got, err := store.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != domain.StatusExecuting {
		t.Fatalf("expected executing status, got %s", got.Status)
	}
	if len(got.Executions) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(got.Executions))
	}
	if got.Executions[0].AgentID != "summarizer" || got.Executions[1].AgentID != "translator" {
		t.Fatalf("unexpected execution order: %+v", got.Executions)
	}
	if got.Synthesis != nil {
		t.Fatalf("expected no synthesis, got %+v", got.Synthesis)
	}
	if got.CompletedAt != nil {
		t.Fatalf("expected no completion time")
	}
}

func TestGetRunNotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetRun(context.Background(), "missing")
	if !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestAppendEventRejectsDuplicateSeq(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	runID := uuid.NewString()
	if err := store.SaveRun(ctx, domain.NewGraphState(runID, "task")); err != nil {
		t.Fatalf("save run: %v", err)
	}
	ev := domain.Event{Seq: 1, TaskID: runID, Type: domain.EventRunStarted, Timestamp: time.Now().UTC()}
	if err := store.AppendEvent(ctx, ev); err != nil {
		t.Fatalf("append first event: %v", err)
	}
	if err := store.AppendEvent(ctx, ev); err == nil {
		t.Fatalf("expected duplicate sequence to be rejected")
	}
}

func TestAppendEventRejectsUnknownRun(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ev := domain.Event{Seq: 1, TaskID: "never-saved", Type: domain.EventRunStarted, Timestamp: time.Now().UTC()}
	if err := store.AppendEvent(context.Background(), ev); err == nil {
		t.Fatalf("expected foreign key violation for unknown run")
	}
}

func TestConcurrentRunsShareStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	const (
		writers = 16
		steps   = 40
	)
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			state := domain.NewGraphState(fmt.Sprintf("run-%02d", w), "concurrent task")
			for i := 1; i <= steps; i++ {
				state.UpdatedAt = time.Now().UTC()
				if err := store.SaveRun(ctx, state); err != nil {
					errs <- fmt.Errorf("writer %d save %d: %w", w, i, err)
					return
				}
				ev := domain.Event{Seq: int64(i), TaskID: state.TaskID, Type: domain.EventNodeStarted, Timestamp: time.Now().UTC()}
				if err := store.AppendEvent(ctx, ev); err != nil {
					errs <- fmt.Errorf("writer %d append %d: %w", w, i, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != writers {
		t.Fatalf("expected %d runs, got %d", writers, len(runs))
	}
	for w := 0; w < writers; w++ {
		events, err := store.ListEvents(ctx, fmt.Sprintf("run-%02d", w), 0)
		if err != nil {
			t.Fatalf("list events: %v", err)
		}
		if len(events) != steps {
			t.Fatalf("run %d: expected %d events, got %d", w, steps, len(events))
		}
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		t.Fatalf("migrate store: %v", err)
	}
	return store
}
