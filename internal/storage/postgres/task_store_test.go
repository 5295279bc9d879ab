package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/crawlhook/crawlhookd/internal/task"
)

func newMockStore(t *testing.T) (*TaskStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewTaskStoreWithPool(mock, "tasks")
	require.NoError(t, err)
	return store, mock
}

func TestNewTaskStoreWithPoolRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewTaskStoreWithPool(mock, "tasks; DROP TABLE tasks")
	require.Error(t, err)

	_, err = NewTaskStoreWithPool(nil, "tasks")
	require.Error(t, err)
}

func TestCreateTaskInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	submitted := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	tsk := task.Task{
		ID:            "T1",
		Type:          task.TypeCrawl,
		Status:        task.StatusProcessing,
		CorrelationID: "corr-1",
		Submitted:     submitted,
		Parameters: task.Parameters{
			URLs:       []string{"https://example.com"},
			WebhookURL: "https://hooks.example/cb",
		},
	}
	paramsJSON, err := json.Marshal(tsk.Parameters)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO tasks").
		WithArgs("T1", "crawl", "processing", "corr-1", "", paramsJSON, submitted).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateTask(context.Background(), tsk))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTaskRequiresID(t *testing.T) {
	t.Parallel()

	store, _ := newMockStore(t)
	err := store.CreateTask(context.Background(), task.Task{})
	require.Error(t, err)
}

func TestUpdateTaskStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE tasks SET").
		WithArgs("T1", "completed", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.UpdateTaskStatus(context.Background(), "T1", task.StatusCompleted, ""))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTaskStatusMissingRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE tasks SET").
		WithArgs("ghost", "failed", "boom").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateTaskStatus(context.Background(), "ghost", task.StatusFailed, "boom")
	require.ErrorIs(t, err, ErrTaskNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetTaskResults(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	results := []map[string]any{{"url": "https://example.com", "success": true}}
	resultsJSON, err := json.Marshal(results)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE tasks SET results").
		WithArgs("T1", resultsJSON).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.SetTaskResults(context.Background(), "T1", results))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	submitted := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	started := submitted.Add(time.Second)
	paramsJSON := []byte(`{"urls":["https://example.com"]}`)
	resultsJSON := []byte(`[{"url":"https://example.com","success":true}]`)

	rows := pgxmock.NewRows([]string{
		"id", "type", "status", "correlation_id", "error_text",
		"parameters", "results", "submitted_at", "started_at", "finished_at",
	}).AddRow(
		"T1", "crawl", "completed", "corr-1", "",
		paramsJSON, resultsJSON, submitted, &started, (*time.Time)(nil),
	)
	mock.ExpectQuery("SELECT id, type, status").
		WithArgs("T1").
		WillReturnRows(rows)

	got, err := store.GetTask(context.Background(), "T1")
	require.NoError(t, err)
	require.Equal(t, "T1", got.ID)
	require.Equal(t, task.TypeCrawl, got.Type)
	require.Equal(t, task.StatusCompleted, got.Status)
	require.Equal(t, []string{"https://example.com"}, got.Parameters.URLs)
	require.Len(t, got.Results, 1)
	require.Equal(t, true, got.Results[0]["success"])
	require.NotNil(t, got.Started)
	require.Nil(t, got.Finished)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, type, status").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetTask(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrTaskNotFound)
	require.ErrorIs(t, err, task.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskQueryFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, type, status").
		WithArgs("T1").
		WillReturnError(errors.New("connection reset"))

	_, err := store.GetTask(context.Background(), "T1")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTaskNotFound)
}
