// Package main wires together the crawlhookd service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/crawlhook/crawlhookd/internal/api"
	"github.com/crawlhook/crawlhookd/internal/changedetect"
	"github.com/crawlhook/crawlhookd/internal/clock/system"
	"github.com/crawlhook/crawlhookd/internal/config"
	"github.com/crawlhook/crawlhookd/internal/dispatcher"
	"github.com/crawlhook/crawlhookd/internal/executor/httpfetch"
	"github.com/crawlhook/crawlhookd/internal/faults"
	"github.com/crawlhook/crawlhookd/internal/id/uuid"
	"github.com/crawlhook/crawlhookd/internal/logging"
	"github.com/crawlhook/crawlhookd/internal/normalize"
	pubsubPublisher "github.com/crawlhook/crawlhookd/internal/publisher/pubsub"
	queueMemory "github.com/crawlhook/crawlhookd/internal/queue/memory"
	storageMemory "github.com/crawlhook/crawlhookd/internal/storage/memory"
	storagePostgres "github.com/crawlhook/crawlhookd/internal/storage/postgres"
	"github.com/crawlhook/crawlhookd/internal/task"
	"github.com/crawlhook/crawlhookd/internal/webhook"
	"github.com/crawlhook/crawlhookd/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	queue := queueMemory.NewQueue(cfg.Jobs.QueueDepth)
	defer queue.Close()

	var publisher task.Publisher
	if cfg.PubSub.TopicName != "" {
		p, err := pubsubPublisher.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("build pubsub publisher: %w", err)
		}
		defer p.Close() //nolint:errcheck // best-effort close on shutdown
		publisher = p
	}

	notifier := webhook.New(webhook.Config{
		Enabled:        cfg.Webhook.Enabled,
		DefaultURL:     cfg.Webhook.DefaultURL,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialDelay:   cfg.Webhook.InitialDelay(),
		MaxDelay:       cfg.Webhook.MaxDelay(),
		Timeout:        cfg.Webhook.Timeout(),
		DataInPayload:  cfg.Webhook.DataInPayload,
		DefaultHeaders: cfg.Webhook.Headers,
	}, clock, logger)

	detector := changedetect.New(cfg.ChangeDetect.Strict)
	executor := httpfetch.New(nil, detector, clock, logger)
	normalizer := normalize.New(logger)

	// Worst-case delivery time: every attempt runs its full timeout and
	// every backoff sleeps the cap.
	notifyTimeout := time.Duration(cfg.Webhook.MaxAttempts) * (cfg.Webhook.Timeout() + cfg.Webhook.MaxDelay())

	workers := make([]*worker.Worker, 0, cfg.Jobs.Concurrency)
	for i := 0; i < cfg.Jobs.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue,
			store,
			executor,
			normalizer,
			notifier,
			publisher,
			clock,
			worker.Config{Topic: cfg.PubSub.TopicName, NotifyTimeout: notifyTimeout},
			logger,
		))
	}
	dispatch := dispatcher.New(queue, workers)

	server := api.NewServer(store, dispatch, idGen, clock, cfg, faults.DefaultStatusTable(), logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatch.Run(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		stop()
		<-dispatchDone
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	<-dispatchDone
	return nil
}

func buildStore(ctx context.Context, cfg config.Config) (task.Store, func(), error) {
	if cfg.DB.DSN == "" {
		return storageMemory.NewTaskStore(), func() {}, nil
	}
	store, err := storagePostgres.NewTaskStore(ctx, storagePostgres.TaskStoreConfig{
		DSN:      cfg.DB.DSN,
		Table:    cfg.DB.Table,
		MaxConns: cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build task store: %w", err)
	}
	return store, store.Close, nil
}
