// Package worker implements the task execution and completion
// pipeline: dequeue, execute, classify or normalize the outcome, then
// fan it out to the store, the webhook notifier and the event
// publisher.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crawlhook/crawlhookd/internal/correlation"
	"github.com/crawlhook/crawlhookd/internal/faults"
	"github.com/crawlhook/crawlhookd/internal/normalize"
	"github.com/crawlhook/crawlhookd/internal/task"
	"github.com/crawlhook/crawlhookd/internal/telemetry"
)

// Notifier delivers task-completion notifications.
type Notifier interface {
	NotifyTaskCompletion(ctx context.Context, t task.Task) bool
}

// Config controls Worker behavior.
type Config struct {
	// Topic receives completion events when a publisher is wired.
	Topic string
	// NotifyTimeout bounds each detached notification, backoff included.
	NotifyTimeout time.Duration
}

// Worker consumes queue items and executes the completion pipeline.
type Worker struct {
	queue      task.Queue
	store      task.Store
	executor   task.Executor
	normalizer *normalize.Normalizer
	notifier   Notifier
	publisher  task.Publisher
	clock      task.Clock
	cfg        Config
	logger     *zap.Logger

	notifyWG sync.WaitGroup
}

// New constructs a Worker.
func New(
	queue task.Queue,
	store task.Store,
	executor task.Executor,
	normalizer *normalize.Normalizer,
	notifier Notifier,
	publisher task.Publisher,
	clock task.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if normalizer == nil {
		normalizer = normalize.New(logger)
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Minute
	}
	return &Worker{
		queue:      queue,
		store:      store,
		executor:   executor,
		normalizer: normalizer,
		notifier:   notifier,
		publisher:  publisher,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task", zap.String("task_id", item.TaskID))
		w.processTask(ctx, item)
	}
}

// WaitNotifications blocks until all detached notifications finish.
// Used during shutdown so in-flight deliveries are not dropped early.
func (w *Worker) WaitNotifications() {
	w.notifyWG.Wait()
}

func (w *Worker) processTask(ctx context.Context, item task.QueueItem) {
	ctx = correlation.WithID(ctx, item.CorrelationID)
	logger := w.logger.With(
		zap.String("task_id", item.TaskID),
		zap.String("correlation_id", item.CorrelationID),
	)

	if err := w.store.UpdateTaskStatus(ctx, item.TaskID, task.StatusProcessing, ""); err != nil {
		logger.Error("update task status failed", zap.Error(err))
		return
	}
	telemetry.ObserveTask(string(item.Type), string(task.StatusProcessing))

	status := task.StatusCompleted
	errText := ""

	result, err := w.executor.Execute(ctx, item)
	if err != nil {
		rec := faults.Classify(err, "execute task").WithCorrelation(item.CorrelationID)
		rec.Log(logger)
		telemetry.ObserveFailure(string(rec.Kind))
		status = task.StatusFailed
		errText = rec.Message
	} else {
		results := w.collectResults(ctx, result)
		if err := w.store.SetTaskResults(ctx, item.TaskID, results); err != nil {
			logger.Error("store task results failed", zap.Error(err))
			status = task.StatusFailed
			errText = "failed to persist results"
		}
	}

	if err := w.store.UpdateTaskStatus(ctx, item.TaskID, status, errText); err != nil {
		logger.Error("final task status update failed", zap.Error(err))
		return
	}
	telemetry.ObserveTask(string(item.Type), string(status))

	t, err := w.store.GetTask(ctx, item.TaskID)
	if err != nil {
		logger.Error("reload task for fan-out failed", zap.Error(err))
		return
	}

	w.notifyDetached(ctx, t)
	w.publishCompletion(ctx, t)
}

// collectResults normalizes whatever the executor produced. A stream
// is drained as items arrive; anything else goes through the container
// normalizer directly.
func (w *Worker) collectResults(ctx context.Context, result any) []map[string]any {
	if stream, ok := result.(<-chan any); ok {
		return w.normalizer.Collect(ctx, stream)
	}
	if stream, ok := result.(chan any); ok {
		return w.normalizer.Collect(ctx, stream)
	}
	return w.normalizer.Many(result)
}

// notifyDetached spawns the webhook notification on its own context so
// that neither the job's cancellation nor the notification's outcome
// can affect the other.
func (w *Worker) notifyDetached(ctx context.Context, t task.Task) {
	if w.notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.NotifyTimeout)
	w.notifyWG.Add(1)
	go func() {
		defer w.notifyWG.Done()
		defer cancel()
		w.notifier.NotifyTaskCompletion(notifyCtx, t)
	}()
}

func (w *Worker) publishCompletion(ctx context.Context, t task.Task) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"task_id":   t.ID,
		"task_type": string(t.Type),
		"status":    string(t.Status),
		"timestamp": w.clock.Now().UTC().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("publish completion event failed",
			zap.String("task_id", t.ID),
			zap.Error(err),
		)
	}
}
