package task

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store implementations when a task id has
// no stored record. Callers distinguish it from store outages with
// errors.Is.
var ErrNotFound = errors.New("task not found")

// Store persists task metadata and terminal results.
type Store interface {
	CreateTask(ctx context.Context, t Task) error
	UpdateTaskStatus(ctx context.Context, taskID string, status Status, errText string) error
	SetTaskResults(ctx context.Context, taskID string, results []map[string]any) error
	GetTask(ctx context.Context, taskID string) (Task, error)
}

// Queue provides enqueue/dequeue semantics for tasks.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Executor runs the actual crawl or extraction work. The engine behind
// it (browser automation, extraction pipeline) lives outside this
// service; workers only consume its outcome.
type Executor interface {
	Execute(ctx context.Context, item QueueItem) (any, error)
}

// ResultLister is implemented by container types that can hand over an
// ordered sequence of per-URL results.
type ResultLister interface {
	Results() []any
}

// Publisher pushes completion events to a broker (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task and correlation IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
