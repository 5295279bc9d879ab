// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crawlhook/crawlhookd/internal/task"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrTaskNotFound is returned when a task id has no stored row.
var ErrTaskNotFound = task.ErrNotFound

// TaskStoreConfig controls the Postgres connection pool used for task rows.
type TaskStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// TaskStore persists task rows in Postgres.
type TaskStore struct {
	pool  pgxPool
	table string
}

// NewTaskStore creates a Postgres-backed TaskStore using the provided config.
func NewTaskStore(ctx context.Context, cfg TaskStoreConfig) (*TaskStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "tasks"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &TaskStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewTaskStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewTaskStoreWithPool(pool pgxPool, table string) (*TaskStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "tasks"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &TaskStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *TaskStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateTask inserts a task row.
func (s *TaskStore) CreateTask(ctx context.Context, t task.Task) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("task store is not configured")
	}
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	paramsJSON, err := json.Marshal(t.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	type,
	status,
	correlation_id,
	error_text,
	parameters,
	submitted_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`, s.table)

	args := []any{
		t.ID,
		string(t.Type),
		string(t.Status),
		t.CorrelationID,
		t.ErrorText,
		paramsJSON,
		t.Submitted,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// UpdateTaskStatus updates status, error text and lifecycle timestamps.
func (s *TaskStore) UpdateTaskStatus(ctx context.Context, taskID string, status task.Status, errText string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("task store is not configured")
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	error_text = $3,
	started_at = CASE WHEN $2 = 'processing' AND started_at IS NULL THEN now() ELSE started_at END,
	finished_at = CASE WHEN $2 IN ('completed','failed') THEN now() ELSE finished_at END
WHERE id = $1`, s.table)

	tag, err := s.pool.Exec(ctx, query, taskID, string(status), errText)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// SetTaskResults attaches normalized results to a task row.
func (s *TaskStore) SetTaskResults(ctx context.Context, taskID string, results []map[string]any) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("task store is not configured")
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET results = $2 WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, taskID, resultsJSON)
	if err != nil {
		return fmt.Errorf("update task results: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// GetTask fetches a task row by ID.
func (s *TaskStore) GetTask(ctx context.Context, taskID string) (task.Task, error) {
	if s == nil || s.pool == nil {
		return task.Task{}, fmt.Errorf("task store is not configured")
	}
	query := fmt.Sprintf(`
SELECT id, type, status, correlation_id, error_text, parameters, results, submitted_at, started_at, finished_at
FROM %s WHERE id = $1`, s.table)

	var (
		t           task.Task
		typeText    string
		statusText  string
		paramsJSON  []byte
		resultsJSON []byte
	)
	row := s.pool.QueryRow(ctx, query, taskID)
	err := row.Scan(
		&t.ID,
		&typeText,
		&statusText,
		&t.CorrelationID,
		&t.ErrorText,
		&paramsJSON,
		&resultsJSON,
		&t.Submitted,
		&t.Started,
		&t.Finished,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return task.Task{}, ErrTaskNotFound
	}
	if err != nil {
		return task.Task{}, fmt.Errorf("select task: %w", err)
	}
	t.Type = task.Type(typeText)
	t.Status = task.Status(statusText)
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &t.Parameters); err != nil {
			return task.Task{}, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &t.Results); err != nil {
			return task.Task{}, fmt.Errorf("unmarshal results: %w", err)
		}
	}
	return t, nil
}
