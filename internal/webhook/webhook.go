// Package webhook delivers task-completion notifications to
// operator-configured HTTP endpoints with bounded, capped-exponential
// retry.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/crawlhook/crawlhookd/internal/correlation"
	"github.com/crawlhook/crawlhookd/internal/task"
	"github.com/crawlhook/crawlhookd/internal/telemetry"
)

// Config controls delivery behavior. It is read-only after startup and
// safe for concurrent use.
type Config struct {
	Enabled        bool
	DefaultURL     string
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Timeout        time.Duration
	DataInPayload  bool
	DefaultHeaders map[string]string
}

// Service posts payloads to webhook receivers. Deliveries for
// different tasks run concurrently; attempts within one delivery are
// strictly sequential.
type Service struct {
	client *http.Client
	cfg    Config
	logger *zap.Logger
	clock  task.Clock
}

// New constructs a Service.
func New(cfg Config, clock task.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Service{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		logger: logger,
		clock:  clock,
	}
}

// Deliver posts payload to url, retrying retryable failures with
// capped exponential backoff. It always resolves to a bool: true on a
// 2xx response, false on a 4xx response (terminal, never retried), on
// exhausted attempts, or on cancellation. No failure escapes.
func (s *Service) Deliver(ctx context.Context, url string, payload any, headers map[string]string) bool {
	start := time.Now()
	correlationID := correlation.FromContext(ctx)

	body, err := json.Marshal(payload)
	if err != nil {
		// Payloads are normalized before they reach here, so this only
		// fires on a caller bug. Treat as terminal.
		s.logger.Error("webhook payload not encodable",
			zap.String("url", url),
			zap.String("correlation_id", correlationID),
			zap.Error(err),
		)
		telemetry.ObserveWebhookDelivery("terminal", time.Since(start))
		return false
	}

	attempts := 0
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		attempts = attempt
		telemetry.ObserveWebhookAttempt()
		status, err := s.attempt(ctx, url, body, headers, correlationID)

		switch {
		case err == nil && status >= 200 && status < 300:
			s.logger.Info("webhook delivered",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Int("status", status),
				zap.String("correlation_id", correlationID),
			)
			telemetry.ObserveWebhookDelivery("success", time.Since(start))
			return true

		case err == nil && status >= 400 && status < 500:
			// The receiver rejected the payload itself; retrying would
			// only repeat the rejection.
			s.logger.Warn("webhook rejected by receiver",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Int("status", status),
				zap.String("correlation_id", correlationID),
			)
			telemetry.ObserveWebhookDelivery("terminal", time.Since(start))
			return false

		default:
			s.logger.Warn("webhook attempt failed",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", s.cfg.MaxAttempts),
				zap.Int("status", status),
				zap.String("correlation_id", correlationID),
				zap.Error(err),
			)
		}

		if attempt == s.cfg.MaxAttempts {
			break
		}
		if !s.sleep(ctx, s.backoff(attempt)) {
			s.logger.Warn("webhook delivery canceled",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.String("correlation_id", correlationID),
			)
			break
		}
	}

	s.logger.Error("webhook delivery abandoned",
		zap.String("url", url),
		zap.Int("attempts", attempts),
		zap.Int("max_attempts", s.cfg.MaxAttempts),
		zap.String("correlation_id", correlationID),
	)
	telemetry.ObserveWebhookDelivery("exhausted", time.Since(start))
	return false
}

func (s *Service) attempt(ctx context.Context, url string, body []byte, headers map[string]string, correlationID string) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build webhook request: %w", err)
	}
	for k, v := range s.cfg.DefaultHeaders {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	if correlationID != "" {
		req.Header.Set(correlation.Header, correlationID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // nothing useful to do on close failure
	return resp.StatusCode, nil
}

// backoff returns min(initial * 2^(attempt-1), max).
func (s *Service) backoff(attempt int) time.Duration {
	delay := s.cfg.InitialDelay << (attempt - 1)
	if s.cfg.MaxDelay > 0 && delay > s.cfg.MaxDelay {
		delay = s.cfg.MaxDelay
	}
	return delay
}

// sleep waits for d or until ctx is done; it reports whether the full
// wait elapsed.
func (s *Service) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// NotifyTaskCompletion builds the completion payload for a terminal
// task and delivers it. The effective URL is the per-task override,
// falling back to the operator default; with neither configured the
// notification is skipped silently. Callers run this detached from the
// originating request: its outcome never affects the HTTP response
// that enqueued the task.
func (s *Service) NotifyTaskCompletion(ctx context.Context, t task.Task) bool {
	if !s.cfg.Enabled {
		return false
	}
	url := t.Parameters.WebhookURL
	if url == "" {
		url = s.cfg.DefaultURL
	}
	if url == "" {
		s.logger.Debug("no webhook url configured, skipping notification",
			zap.String("task_id", t.ID),
		)
		return false
	}

	ctx = correlation.WithID(ctx, t.CorrelationID)

	payload := map[string]any{
		"task_id":   t.ID,
		"task_type": string(t.Type),
		"status":    string(t.Status),
		"timestamp": s.clock.Now().UTC().Format(time.RFC3339),
		"urls":      t.Parameters.URLs,
	}
	if t.Status == task.StatusFailed && t.ErrorText != "" {
		payload["error"] = t.ErrorText
	}

	includeData := s.cfg.DataInPayload
	if t.Parameters.WebhookDataInBody != nil {
		includeData = *t.Parameters.WebhookDataInBody
	}
	if includeData && t.Results != nil {
		payload["data"] = t.Results
	}

	return s.Deliver(ctx, url, payload, t.Parameters.WebhookHeaders)
}
