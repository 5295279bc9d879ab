// Package memory provides an in-memory task store for development and
// testing.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/crawlhook/crawlhookd/internal/task"
)

// ErrTaskNotFound is returned when a task id has no stored record.
var ErrTaskNotFound = task.ErrNotFound

// TaskStore implements task.Store in memory.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]task.Task
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[string]task.Task),
	}
}

// CreateTask stores a new task.
func (s *TaskStore) CreateTask(_ context.Context, t task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.ID]; exists {
		return errors.New("task already exists")
	}
	s.tasks[t.ID] = t
	return nil
}

// UpdateTaskStatus updates the status and error text for a task.
func (s *TaskStore) UpdateTaskStatus(_ context.Context, taskID string, status task.Status, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	t.Status = status
	t.ErrorText = errText
	now := time.Now().UTC()
	if status == task.StatusProcessing && t.Started == nil {
		t.Started = pointerTime(now)
	}
	if status.Terminal() {
		t.Finished = pointerTime(now)
	}
	s.tasks[taskID] = t
	return nil
}

// SetTaskResults attaches normalized results to a task.
func (s *TaskStore) SetTaskResults(_ context.Context, taskID string, results []map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	t.Results = results
	s.tasks[taskID] = t
	return nil
}

// GetTask fetches a task by ID.
func (s *TaskStore) GetTask(_ context.Context, taskID string) (task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return task.Task{}, ErrTaskNotFound
	}
	return t, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
