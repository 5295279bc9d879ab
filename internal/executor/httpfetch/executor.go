// Package httpfetch provides a plain-HTTP executor for crawl tasks.
// It stands in for the full rendering engine behind the task.Executor
// boundary: one GET per URL, with change detection against the
// previous fetch of the same URL.
package httpfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/crawlhook/crawlhookd/internal/changedetect"
	"github.com/crawlhook/crawlhookd/internal/faults"
	"github.com/crawlhook/crawlhookd/internal/task"
)

const maxBodyBytes = 10 << 20

// Executor fetches task URLs over plain HTTP.
type Executor struct {
	client   *http.Client
	detector *changedetect.Detector
	clock    task.Clock
	logger   *zap.Logger

	mu        sync.Mutex
	snapshots map[string]changedetect.Snapshot
}

// New constructs an Executor.
func New(client *http.Client, detector *changedetect.Detector, clock task.Clock, logger *zap.Logger) *Executor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		client:    client,
		detector:  detector,
		clock:     clock,
		logger:    logger,
		snapshots: make(map[string]changedetect.Snapshot),
	}
}

// Execute fetches every URL in the item and returns one result mapping
// per URL. Extraction tasks need a provider this build does not ship.
func (e *Executor) Execute(ctx context.Context, item task.QueueItem) (any, error) {
	if item.Type == task.TypeExtraction {
		return nil, faults.NewConfiguration(
			"extraction.provider",
			nil,
			"Configure an LLM extraction provider",
			"no extraction provider is configured",
		)
	}

	results := make([]any, 0, len(item.Params.URLs))
	var firstErr error
	for _, url := range item.Params.URLs {
		result, err := e.fetchURL(ctx, url)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			results = append(results, map[string]any{
				"url":           url,
				"success":       false,
				"error_message": err.Error(),
			})
			continue
		}
		results = append(results, result)
	}
	if len(item.Params.URLs) > 0 && firstErr != nil && len(results) == countFailures(results) {
		return nil, fmt.Errorf("fetch all urls: %w", firstErr)
	}
	return results, nil
}

func (e *Executor) fetchURL(ctx context.Context, url string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck // nothing useful to do on close failure

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", url, err)
	}
	if resp.StatusCode >= 400 {
		return nil, &faults.StatusError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("fetch %s returned %d", url, resp.StatusCode),
		}
	}

	snapshot := changedetect.Fingerprint(body)
	changed := true
	if e.detector != nil {
		e.mu.Lock()
		prev := e.snapshots[url]
		changed = e.detector.ShouldRecrawl(prev, snapshot)
		e.snapshots[url] = snapshot
		e.mu.Unlock()
	}

	return map[string]any{
		"url":            url,
		"success":        true,
		"status_code":    resp.StatusCode,
		"content_hash":   snapshot.ContentHash,
		"content_length": snapshot.ContentLength,
		"changed":        changed,
		"fetched_at":     e.clock.Now(),
	}, nil
}

func countFailures(results []any) int {
	n := 0
	for _, r := range results {
		if m, ok := r.(map[string]any); ok {
			if success, ok := m["success"].(bool); ok && !success {
				n++
			}
		}
	}
	return n
}
