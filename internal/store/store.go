// Package store selects the persistence backend for runs and their events.
package store

import (
	"context"
	"fmt"
	"strings"

	"agentrouter/internal/domain"
	"agentrouter/internal/store/file"
	"agentrouter/internal/store/memory"
	"agentrouter/internal/store/sqlite"
)

const (
	KindMemory = "memory"
	KindFile   = "file"
	KindSQLite = "sqlite"
)

type RunStore interface {
	SaveRun(ctx context.Context, state domain.GraphState) error
	GetRun(ctx context.Context, taskID string) (domain.GraphState, error)
	ListRuns(ctx context.Context, limit int) ([]domain.GraphState, error)
	AppendEvent(ctx context.Context, ev domain.Event) error
	ListEvents(ctx context.Context, taskID string, limit int) ([]domain.Event, error)
	Close() error
}

var (
	_ RunStore = (*memory.Store)(nil)
	_ RunStore = (*file.Store)(nil)
	_ RunStore = (*sqlite.Store)(nil)
)

// Open returns the backend named by kind. path is the runs directory for
// "file" and the database file for "sqlite"; it is ignored for "memory",
// which takes memOpts instead.
func Open(ctx context.Context, kind, path string, memOpts ...memory.Option) (RunStore, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindMemory:
		return memory.New(memOpts...), nil
	case KindFile:
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("file store requires a runs dir")
		}
		s, err := file.Open(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindSQLite:
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("sqlite store requires a db path")
		}
		s, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", kind)
	}
}
