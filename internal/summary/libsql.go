package summary

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/flowline-dev/flowline/pkg/schema"
)

//go:embed migrations/001_initial_schema.sql
var migration001 string

// migration holds a versioned SQL migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []migration{
	{Version: 1, Name: "initial_schema", SQL: migration001},
}

// Compile-time interface check.
var _ Sink = (*LibSQLSink)(nil)

// LibSQLSink persists completed runs into a libSQL database. The path should
// be a file URI, e.g. "file:/path/to/runs.db".
type LibSQLSink struct {
	db *sql.DB
}

// NewLibSQLSink opens the database and applies pending migrations.
func NewLibSQLSink(ctx context.Context, dbPath string) (*LibSQLSink, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Connection-level PRAGMAs. Some return rows so QueryRow is used.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	s := &LibSQLSink{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *LibSQLSink) Close() error { return s.db.Close() }

// Record upserts the run summary and its per-step rows in one transaction.
func (s *LibSQLSink) Record(ctx context.Context, snap *schema.Snapshot) error {
	if snap == nil {
		return schema.NewError(schema.ErrCodeValidation, "snapshot is nil")
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return schema.NewError(schema.ErrCodeStore, "marshal snapshot").WithCause(err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflow_runs (id, name, status, started_at, completed_at, execution_time, memory_used, peak_memory, snapshot)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, started_at=excluded.started_at, completed_at=excluded.completed_at,
		   execution_time=excluded.execution_time, memory_used=excluded.memory_used,
		   peak_memory=excluded.peak_memory, snapshot=excluded.snapshot`,
		snap.WorkflowID, snap.Name, string(snap.Status),
		nullFloat(snap.StartedAt), nullFloat(snap.CompletedAt),
		snap.Performance.ExecutionTime, snap.Performance.MemoryUsed, snap.Performance.PeakMemory,
		string(raw),
	)
	if err != nil {
		return fmt.Errorf("insert workflow run: %w", err)
	}

	for stepID, exec := range snap.ExecutedJobs {
		errsJSON, err := marshalStrings(exec.Errors)
		if err != nil {
			return fmt.Errorf("marshal step errors: %w", err)
		}
		logsJSON, err := marshalStrings(exec.Logs)
		if err != nil {
			return fmt.Errorf("marshal step logs: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO step_runs (workflow_id, step_id, status, attempts, execution_time, skip_reason, errors, logs)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(workflow_id, step_id) DO UPDATE SET
			   status=excluded.status, attempts=excluded.attempts, execution_time=excluded.execution_time,
			   skip_reason=excluded.skip_reason, errors=excluded.errors, logs=excluded.logs`,
			snap.WorkflowID, stepID, string(exec.Status), exec.Attempts,
			exec.Performance.ExecutionTime, nullStr(exec.SkipReason), errsJSON, logsJSON,
		)
		if err != nil {
			return fmt.Errorf("insert step run %q: %w", stepID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run: %w", err)
	}
	return nil
}

// GetRun loads one persisted run by workflow id.
func (s *LibSQLSink) GetRun(ctx context.Context, workflowID string) (*RunRecord, error) {
	r := &RunRecord{}
	var status, snapJSON string
	var startedAt, completedAt sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, started_at, completed_at, execution_time, memory_used, peak_memory, snapshot
		 FROM workflow_runs WHERE id = ?`, workflowID,
	).Scan(&r.WorkflowID, &r.Name, &status, &startedAt, &completedAt,
		&r.ExecutionTime, &r.MemoryUsed, &r.PeakMemory, &snapJSON)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %q not found", workflowID)
	}
	if err != nil {
		return nil, err
	}
	r.Status = schema.WorkflowStatus(status)
	r.Snapshot = json.RawMessage(snapJSON)
	if startedAt.Valid {
		r.StartedAt = &startedAt.Float64
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Float64
	}
	return r, nil
}

// ListRuns returns persisted runs matching the filter, newest first.
func (s *LibSQLSink) ListRuns(ctx context.Context, filter RunFilter) ([]*RunRecord, error) {
	var where []string
	var args []any

	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT id, name, status, started_at, completed_at, execution_time, memory_used, peak_memory, snapshot FROM workflow_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		r := &RunRecord{}
		var status, snapJSON string
		var startedAt, completedAt sql.NullFloat64
		if err := rows.Scan(&r.WorkflowID, &r.Name, &status, &startedAt, &completedAt,
			&r.ExecutionTime, &r.MemoryUsed, &r.PeakMemory, &snapJSON); err != nil {
			return nil, err
		}
		r.Status = schema.WorkflowStatus(status)
		r.Snapshot = json.RawMessage(snapJSON)
		if startedAt.Valid {
			r.StartedAt = &startedAt.Float64
		}
		if completedAt.Valid {
			r.CompletedAt = &completedAt.Float64
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListStepRuns returns the per-step rows of one run.
func (s *LibSQLSink) ListStepRuns(ctx context.Context, workflowID string) ([]*StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT workflow_id, step_id, status, attempts, execution_time, skip_reason, errors, logs
		 FROM step_runs WHERE workflow_id = ? ORDER BY step_id`, workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*StepRecord
	for rows.Next() {
		st := &StepRecord{}
		var status string
		var skipReason, errsJSON, logsJSON sql.NullString
		if err := rows.Scan(&st.WorkflowID, &st.StepID, &status, &st.Attempts,
			&st.ExecutionTime, &skipReason, &errsJSON, &logsJSON); err != nil {
			return nil, err
		}
		st.Status = schema.StepStatus(status)
		st.SkipReason = skipReason.String
		st.Errors = unmarshalStrings(errsJSON)
		st.Logs = unmarshalStrings(logsJSON)
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// migrate creates the schema_version table and applies pending migrations.
func (s *LibSQLSink) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		for _, stmt := range splitStatements(m.SQL) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version, name) VALUES (?, ?)`, m.Version, m.Name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// splitStatements splits a SQL script on semicolons, skipping comment-only
// fragments.
func splitStatements(script string) []string {
	var stmts []string
	for _, raw := range strings.Split(script, ";") {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		hasCode := false
		for _, l := range strings.Split(s, "\n") {
			l = strings.TrimSpace(l)
			if l != "" && !strings.HasPrefix(l, "--") {
				hasCode = true
				break
			}
		}
		if hasCode {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalStrings(in []string) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func unmarshalStrings(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(ns.String), &out)
	return out
}
