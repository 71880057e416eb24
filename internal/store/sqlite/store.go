package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agentrouter/internal/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	task TEXT NOT NULL,
	status TEXT NOT NULL,
	capabilities TEXT NOT NULL DEFAULT '[]',
	subtasks TEXT NOT NULL DEFAULT '{}',
	dependencies TEXT NOT NULL DEFAULT '{}',
	matches TEXT NOT NULL DEFAULT '[]',
	synthesis TEXT NULL,
	final_output TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	completed_at INTEGER NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

CREATE TABLE IF NOT EXISTS executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	agent_id TEXT NOT NULL,
	agent_name TEXT NOT NULL,
	capability TEXT NOT NULL,
	input_text TEXT NOT NULL,
	output_text TEXT NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	success INTEGER NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	UNIQUE(run_id, position),
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS run_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(run_id, seq),
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, seq);
`

type Store struct {
	db *sql.DB
}

// Open opens dbPath with its pragmas in the DSN so every pooled connection
// gets them. The pool is capped at one connection; concurrent runs queue on it
// instead of failing with SQLITE_BUSY.
func Open(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// SaveRun upserts the run row and replaces its executions in one
// transaction.
func (s *Store) SaveRun(ctx context.Context, state domain.GraphState) error {
	if state.TaskID == "" {
		return errors.New("save run: empty task id")
	}
	caps, err := encodeJSON(state.DetectedCapabilities, "[]")
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}
	subtasks, err := encodeJSON(state.Subtasks, "{}")
	if err != nil {
		return fmt.Errorf("encode subtasks: %w", err)
	}
	deps, err := encodeJSON(state.Dependencies, "{}")
	if err != nil {
		return fmt.Errorf("encode dependencies: %w", err)
	}
	matches, err := encodeJSON(state.Matches, "[]")
	if err != nil {
		return fmt.Errorf("encode matches: %w", err)
	}
	var synthesis any
	if state.Synthesis != nil {
		raw, err := json.Marshal(state.Synthesis)
		if err != nil {
			return fmt.Errorf("encode synthesis: %w", err)
		}
		synthesis = string(raw)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx save run: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO runs(
			id, task, status, capabilities, subtasks, dependencies, matches, synthesis,
			final_output, last_error, created_at, updated_at, completed_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			capabilities = excluded.capabilities,
			subtasks = excluded.subtasks,
			dependencies = excluded.dependencies,
			matches = excluded.matches,
			synthesis = excluded.synthesis,
			final_output = excluded.final_output,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at`,
		state.TaskID, state.OriginalTask, string(state.Status), caps, subtasks, deps, matches, synthesis,
		state.FinalOutput, state.Error, toUnixMilli(state.CreatedAt), toUnixMilli(state.UpdatedAt),
		nullableUnixMilli(state.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM executions WHERE run_id = ?`, state.TaskID); err != nil {
		return fmt.Errorf("clear executions: %w", err)
	}
	for i, rec := range state.Executions {
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO executions(
				run_id, position, agent_id, agent_name, capability, input_text, output_text,
				duration_ms, success, last_error, started_at
			) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			state.TaskID, i, rec.AgentID, rec.AgentName, rec.Capability, rec.InputText, rec.OutputText,
			rec.DurationMS, boolToInt(rec.Success), rec.Error, toUnixMilli(rec.StartedAt),
		)
		if err != nil {
			return fmt.Errorf("insert execution %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save run: %w", err)
	}
	return nil
}

const runColumns = `id, task, status, capabilities, subtasks, dependencies, matches, synthesis,
	final_output, last_error, created_at, updated_at, completed_at`

func (s *Store) GetRun(ctx context.Context, taskID string) (domain.GraphState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, taskID)
	state, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GraphState{}, fmt.Errorf("get run %s: %w", taskID, domain.ErrRunNotFound)
	}
	if err != nil {
		return domain.GraphState{}, fmt.Errorf("get run: %w", err)
	}
	if state.Executions, err = s.listExecutions(ctx, taskID); err != nil {
		return domain.GraphState{}, err
	}
	return state, nil
}

// ListRuns returns runs newest first. A limit <= 0 returns all of them.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.GraphState, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id ASC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	result := make([]domain.GraphState, 0)
	for rows.Next() {
		state, err := scanRun(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		result = append(result, state)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	_ = rows.Close()

	for i := range result {
		if result[i].Executions, err = s.listExecutions(ctx, result[i].TaskID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) AppendEvent(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	created := ev.Timestamp
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO run_events(run_id, seq, type, payload, created_at) VALUES(?, ?, ?, ?, ?)`,
		ev.TaskID, ev.Seq, string(ev.Type), string(payload), toUnixMilli(created),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns the most recent limit events of a run in sequence
// order. A limit <= 0 returns all of them.
func (s *Store) ListEvents(ctx context.Context, taskID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT payload FROM (
			SELECT payload, seq FROM run_events WHERE run_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`,
		taskID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Event, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev domain.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return result, nil
}

func (s *Store) listExecutions(ctx context.Context, taskID string) ([]domain.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT agent_id, agent_name, capability, input_text, output_text, duration_ms, success,
			last_error, started_at
		FROM executions WHERE run_id = ? ORDER BY position ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var result []domain.ExecutionRecord
	for rows.Next() {
		var rec domain.ExecutionRecord
		var success int
		var started int64
		if err := rows.Scan(
			&rec.AgentID, &rec.AgentName, &rec.Capability, &rec.InputText, &rec.OutputText,
			&rec.DurationMS, &success, &rec.Error, &started,
		); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		rec.Success = success != 0
		rec.StartedAt = unixMilliToTime(started)
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (domain.GraphState, error) {
	var st domain.GraphState
	var status, caps, subtasks, deps, matches string
	var synthesis sql.NullString
	var created, updated int64
	var completed sql.NullInt64
	if err := row.Scan(
		&st.TaskID, &st.OriginalTask, &status, &caps, &subtasks, &deps, &matches, &synthesis,
		&st.FinalOutput, &st.Error, &created, &updated, &completed,
	); err != nil {
		return domain.GraphState{}, err
	}
	st.Status = domain.Status(status)
	st.CreatedAt = unixMilliToTime(created)
	st.UpdatedAt = unixMilliToTime(updated)
	st.CompletedAt = nullInt64ToTimePtr(completed)

	if err := json.Unmarshal([]byte(caps), &st.DetectedCapabilities); err != nil {
		return domain.GraphState{}, fmt.Errorf("decode capabilities: %w", err)
	}
	if err := json.Unmarshal([]byte(subtasks), &st.Subtasks); err != nil {
		return domain.GraphState{}, fmt.Errorf("decode subtasks: %w", err)
	}
	if err := json.Unmarshal([]byte(deps), &st.Dependencies); err != nil {
		return domain.GraphState{}, fmt.Errorf("decode dependencies: %w", err)
	}
	if err := json.Unmarshal([]byte(matches), &st.Matches); err != nil {
		return domain.GraphState{}, fmt.Errorf("decode matches: %w", err)
	}
	if synthesis.Valid {
		var rec domain.SynthesisRecord
		if err := json.Unmarshal([]byte(synthesis.String), &rec); err != nil {
			return domain.GraphState{}, fmt.Errorf("decode synthesis: %w", err)
		}
		st.Synthesis = &rec
	}
	return st, nil
}

// encodeJSON stores nil values as empty so unset and empty read back the
// same way.
func encodeJSON(v any, empty string) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(raw) == "null" {
		return empty, nil
	}
	return string(raw), nil
}

func nullInt64ToTimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid || v.Int64 <= 0 {
		return nil
	}
	t := unixMilliToTime(v.Int64)
	return &t
}

func unixMilliToTime(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func toUnixMilli(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func nullableUnixMilli(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
