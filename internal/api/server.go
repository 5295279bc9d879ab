// Package api exposes the HTTP interface for the task service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/crawlhook/crawlhookd/internal/config"
	"github.com/crawlhook/crawlhookd/internal/correlation"
	"github.com/crawlhook/crawlhookd/internal/dispatcher"
	"github.com/crawlhook/crawlhookd/internal/faults"
	"github.com/crawlhook/crawlhookd/internal/task"
	"github.com/crawlhook/crawlhookd/internal/telemetry"
)

// Server wires HTTP handlers to the dispatcher and task store.
type Server struct {
	router     chi.Router
	store      task.Store
	dispatcher *dispatcher.Dispatcher
	idGen      task.IDGenerator
	clock      task.Clock
	cfg        config.Config
	statuses   faults.StatusTable
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The status
// table is passed in explicitly so the kind→status mapping is fixed at
// startup.
func NewServer(
	store task.Store,
	dispatcher *dispatcher.Dispatcher,
	idGen task.IDGenerator,
	clock task.Clock,
	cfg config.Config,
	statuses faults.StatusTable,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:      store,
		dispatcher: dispatcher,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		statuses:   statuses,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(correlation.Middleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(telemetry.Middleware)
	r.Use(s.timeoutMiddleware(time.Duration(cfg.Server.TimeoutSeconds) * time.Second))
	if cfg.Auth.Enabled {
		r.Use(s.apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/crawl", s.handle(s.submitTask(task.TypeCrawl)))
			r.Post("/extract", s.handle(s.submitTask(task.TypeExtraction)))
			r.Get("/{task_id}", s.handle(s.getTask))
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitTaskRequest struct {
	URLs                 []string          `json:"urls"`
	Instruction          string            `json:"instruction"`
	WebhookURL           string            `json:"webhook_url"`
	WebhookHeaders       map[string]string `json:"webhook_headers"`
	WebhookDataInPayload *bool             `json:"webhook_data_in_payload"`
	Tags                 map[string]string `json:"tags"`
}

func (s *Server) submitTask(taskType task.Type) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req submitTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return faults.NewValidation("body", nil, "a JSON object", "request body is not valid JSON")
		}
		if len(req.URLs) == 0 {
			return faults.NewValidation("urls", req.URLs, "a non-empty list of URLs", "at least one URL is required")
		}
		if taskType == task.TypeExtraction && req.Instruction == "" {
			return faults.NewValidation("instruction", "", "a non-empty extraction instruction", "instruction is required for extraction tasks")
		}

		params := task.Parameters{
			URLs:              req.URLs,
			Instruction:       req.Instruction,
			WebhookURL:        req.WebhookURL,
			WebhookHeaders:    req.WebhookHeaders,
			WebhookDataInBody: req.WebhookDataInPayload,
			Tags:              req.Tags,
		}
		taskID, err := s.enqueueTask(r.Context(), taskType, params)
		if err != nil {
			return err
		}
		s.writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
		return nil
	}
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) error {
	taskID := chi.URLParam(r, "task_id")
	t, err := s.store.GetTask(r.Context(), taskID)
	if errors.Is(err, task.ErrNotFound) {
		return faults.NewNotFound("task", taskID)
	}
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	body := map[string]any{
		"task_id": t.ID,
		"status":  string(t.Status),
	}
	if t.Status == task.StatusCompleted {
		body["result"] = t.Results
	}
	if t.Status == task.StatusFailed && t.ErrorText != "" {
		body["error"] = t.ErrorText
	}
	s.writeJSON(w, http.StatusOK, body)
	return nil
}

func (s *Server) enqueueTask(ctx context.Context, taskType task.Type, params task.Parameters) (string, error) {
	taskID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	correlationID := correlation.FromContext(ctx)
	now := s.clock.Now()
	t := task.Task{
		ID:            taskID,
		Type:          taskType,
		Status:        task.StatusProcessing,
		CorrelationID: correlationID,
		Submitted:     now,
		Parameters:    params,
	}
	if err := s.store.CreateTask(ctx, t); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := task.QueueItem{
		TaskID:        taskID,
		Type:          taskType,
		Params:        params,
		CorrelationID: correlationID,
		Submitted:     now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", faults.NewProcessing("enqueue", "task",
				"Retry once the queue drains", "task queue is full")
		}
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	return taskID, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}
