// Package file persists runs under a directory: one JSON snapshot per run and
// an append-only JSONL event log next to it.
//
//	<root>/<task id>/state.json
//	<root>/<task id>/events.jsonl
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"agentrouter/internal/domain"
)

const (
	stateFile  = "state.json"
	eventsFile = "events.jsonl"

	maxEventLine = 4 << 20
)

type Store struct {
	root string
	mu   sync.Mutex
}

func Open(root string) (*Store, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve runs dir: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create runs dir: %w", err)
	}
	return &Store{root: absRoot}, nil
}

func (s *Store) Root() string {
	return s.root
}

// SaveRun writes the run snapshot. CreatedAt is fixed by the first save.
func (s *Store) SaveRun(_ context.Context, state domain.GraphState) error {
	dir, err := s.runDir(state.TaskID)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, stateFile)

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, err := readState(path, state.TaskID); err == nil {
		state.CreatedAt = prev.CreatedAt
	} else if !errors.Is(err, domain.ErrRunNotFound) {
		return err
	}
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run %s: %w", state.TaskID, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	if err := atomicWriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write run %s: %w", state.TaskID, err)
	}
	return nil
}

func (s *Store) GetRun(_ context.Context, taskID string) (domain.GraphState, error) {
	dir, err := s.runDir(taskID)
	if err != nil {
		return domain.GraphState{}, err
	}
	return readState(filepath.Join(dir, stateFile), taskID)
}

// ListRuns returns runs newest first. A limit <= 0 returns all of them.
// Directories without a readable snapshot are skipped.
func (s *Store) ListRuns(_ context.Context, limit int) ([]domain.GraphState, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list runs dir: %w", err)
	}
	out := make([]domain.GraphState, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		state, err := readState(filepath.Join(s.root, e.Name(), stateFile), e.Name())
		if err != nil {
			continue
		}
		out = append(out, state)
	}
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

func (s *Store) AppendEvent(_ context.Context, ev domain.Event) error {
	dir, err := s.runDir(ev.TaskID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	raw = append(raw, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(filepath.Join(dir, stateFile)); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("append event to run %s: %w", ev.TaskID, domain.ErrRunNotFound)
	}
	f, err := os.OpenFile(filepath.Join(dir, eventsFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		_ = f.Close()
		return fmt.Errorf("append event: %w", err)
	}
	return f.Close()
}

// ListEvents returns the most recent limit events of a run in sequence
// order. A limit <= 0 returns all of them.
func (s *Store) ListEvents(_ context.Context, taskID string, limit int) ([]domain.Event, error) {
	dir, err := s.runDir(taskID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(dir, eventsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.Event{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	events := make([]domain.Event, 0, 16)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var ev domain.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("decode event of run %s: %w", taskID, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func (s *Store) Close() error {
	return nil
}

// runDir maps a task id to its directory and refuses ids that would leave the
// root.
func (s *Store) runDir(taskID string) (string, error) {
	id := strings.TrimSpace(taskID)
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("invalid task id %q", taskID)
	}
	dir := filepath.Clean(filepath.Join(s.root, id))
	rel, err := filepath.Rel(s.root, dir)
	if err != nil || strings.HasPrefix(rel, "..") || rel == "." {
		return "", fmt.Errorf("task id escapes runs dir: %q", taskID)
	}
	return dir, nil
}

func readState(path, taskID string) (domain.GraphState, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.GraphState{}, fmt.Errorf("get run %s: %w", taskID, domain.ErrRunNotFound)
	}
	if err != nil {
		return domain.GraphState{}, fmt.Errorf("read run %s: %w", taskID, err)
	}
	var state domain.GraphState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.GraphState{}, fmt.Errorf("decode run %s: %w", taskID, err)
	}
	return state, nil
}
