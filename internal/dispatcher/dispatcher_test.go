package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	queueMemory "github.com/crawlhook/crawlhookd/internal/queue/memory"
	storageMemory "github.com/crawlhook/crawlhookd/internal/storage/memory"
	"github.com/crawlhook/crawlhookd/internal/task"
	"github.com/crawlhook/crawlhookd/internal/worker"
)

type countingExecutor struct {
	mu   sync.Mutex
	seen map[string]bool
	done chan struct{}
}

func (e *countingExecutor) Execute(_ context.Context, item task.QueueItem) (any, error) {
	e.mu.Lock()
	e.seen[item.TaskID] = true
	e.mu.Unlock()
	e.done <- struct{}{}
	return []any{}, nil
}

type sysClock struct{}

func (sysClock) Now() time.Time { return time.Now() }

func TestDispatcherFansOutAcrossWorkers(t *testing.T) {
	t.Parallel()

	store := storageMemory.NewTaskStore()
	queue := queueMemory.NewQueue(8)
	exec := &countingExecutor{seen: map[string]bool{}, done: make(chan struct{}, 8)}

	workers := make([]*worker.Worker, 3)
	for i := range workers {
		workers[i] = worker.New(queue, store, exec, nil, nil, nil, sysClock{},
			worker.Config{NotifyTimeout: time.Second}, zap.NewNop())
	}
	d := New(queue, workers)

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		d.Run(ctx)
	}()

	ids := []string{"T1", "T2", "T3", "T4"}
	for _, id := range ids {
		require.NoError(t, store.CreateTask(context.Background(), task.Task{
			ID: id, Type: task.TypeCrawl, Status: task.StatusProcessing,
		}))
		require.NoError(t, d.Enqueue(context.Background(), task.QueueItem{TaskID: id, Type: task.TypeCrawl}))
	}

	for range ids {
		select {
		case <-exec.done:
		case <-time.After(2 * time.Second):
			t.Fatal("tasks were not all executed")
		}
	}
	cancel()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()
	require.Len(t, exec.seen, 4)
	for _, id := range ids {
		require.True(t, exec.seen[id], id)
	}
}

func TestEnqueueWrapsQueueErrors(t *testing.T) {
	t.Parallel()

	queue := queueMemory.NewQueue(1)
	d := New(queue, nil)

	require.NoError(t, d.Enqueue(context.Background(), task.QueueItem{TaskID: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Enqueue(ctx, task.QueueItem{TaskID: "b"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
