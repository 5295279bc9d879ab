package httpfetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crawlhook/crawlhookd/internal/changedetect"
	"github.com/crawlhook/crawlhookd/internal/faults"
	"github.com/crawlhook/crawlhookd/internal/task"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestExecutor() *Executor {
	return New(nil, changedetect.New(true), &fakeClock{now: time.Unix(1700000000, 0).UTC()}, zap.NewNop())
}

func TestExecuteFetchesURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>hello</html>"))
	}))
	defer srv.Close()

	e := newTestExecutor()
	out, err := e.Execute(context.Background(), task.QueueItem{
		Type:   task.TypeCrawl,
		Params: task.Parameters{URLs: []string{srv.URL}},
	})
	require.NoError(t, err)

	results, ok := out.([]any)
	require.True(t, ok)
	require.Len(t, results, 1)

	first, ok := results[0].(map[string]any)
	require.True(t, ok)
	require.Equal(t, srv.URL, first["url"])
	require.Equal(t, true, first["success"])
	require.Equal(t, http.StatusOK, first["status_code"])
	require.Equal(t, len("<html>hello</html>"), first["content_length"])
	require.NotEmpty(t, first["content_hash"])
	require.Equal(t, true, first["changed"])
}

func TestExecuteDetectsUnchangedContent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("stable content"))
	}))
	defer srv.Close()

	e := newTestExecutor()
	item := task.QueueItem{
		Type:   task.TypeCrawl,
		Params: task.Parameters{URLs: []string{srv.URL}},
	}

	out, err := e.Execute(context.Background(), item)
	require.NoError(t, err)
	first := out.([]any)[0].(map[string]any)
	require.Equal(t, true, first["changed"])

	out, err = e.Execute(context.Background(), item)
	require.NoError(t, err)
	second := out.([]any)[0].(map[string]any)
	require.Equal(t, false, second["changed"])
}

func TestExecuteTurnsErrorStatusIntoStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	e := newTestExecutor()
	_, err := e.Execute(context.Background(), task.QueueItem{
		Type:   task.TypeCrawl,
		Params: task.Parameters{URLs: []string{srv.URL}},
	})
	require.Error(t, err)

	var statusErr *faults.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestExecutePartialFailureStillSucceeds(t *testing.T) {
	t.Parallel()

	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("fine"))
	}))
	defer okSrv.Close()
	badSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer badSrv.Close()

	e := newTestExecutor()
	out, err := e.Execute(context.Background(), task.QueueItem{
		Type:   task.TypeCrawl,
		Params: task.Parameters{URLs: []string{okSrv.URL, badSrv.URL}},
	})
	require.NoError(t, err)

	results := out.([]any)
	require.Len(t, results, 2)
	require.Equal(t, true, results[0].(map[string]any)["success"])

	failed := results[1].(map[string]any)
	require.Equal(t, false, failed["success"])
	require.Contains(t, failed["error_message"], "502")
}

func TestExecuteRejectsExtractionTasks(t *testing.T) {
	t.Parallel()

	e := newTestExecutor()
	_, err := e.Execute(context.Background(), task.QueueItem{
		Type:   task.TypeExtraction,
		Params: task.Parameters{URLs: []string{"https://example.com"}, Instruction: "summarize"},
	})
	require.Error(t, err)

	rec := faults.Classify(err, "execute")
	require.Equal(t, faults.KindConfiguration, rec.Kind)
}
