package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"HistPull/internal/domain/models"
	"HistPull/internal/service/ratelimit"
	"HistPull/pkg/cache"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTasks struct {
	tasks []models.DownloadTask
}

func (f *fakeTasks) List(status models.TaskStatus, limit int) []models.DownloadTask {
	var out []models.DownloadTask
	for _, t := range f.tasks {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (f *fakeTasks) Counters() models.TaskCounters {
	var c models.TaskCounters
	for _, t := range f.tasks {
		c.Total++
		c.Add(t.Status, 1)
	}
	return c
}

func (f *fakeTasks) Get(key models.TaskKey) (models.DownloadTask, bool) {
	for _, t := range f.tasks {
		if t.Key() == key {
			return t, true
		}
	}
	return models.DownloadTask{}, false
}

func (f *fakeTasks) RunID() string { return "run-1" }

type fixedStats ratelimit.Stats

func (s fixedStats) Statistics() ratelimit.Stats { return ratelimit.Stats(s) }

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, summary SummaryReader) *echo.Echo {
	t.Helper()
	tasks := &fakeTasks{tasks: []models.DownloadTask{
		{Symbol: "NSE:A-EQ", Timeframe: models.TF1D, Status: models.StatusCompleted, Records: 10},
		{Symbol: "NSE:B-EQ", Timeframe: models.TF1D, Status: models.StatusFailed, Error: "transient after 3 attempts"},
		{Symbol: "NSE:C-EQ", Timeframe: models.TF1D, Status: models.StatusPending},
	}}
	stats := fixedStats{
		Day:           ratelimit.WindowStats{Used: 12, Limit: 50000},
		Violations:    1,
		MaxViolations: 2,
	}
	e := echo.New()
	NewStatusEchoHandler(nil, tasks, stats, summary).RegisterRoutes(e)
	return e
}

func do(t *testing.T, e *echo.Echo, target string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec.Code, env
}

func TestStatus_ReportsCountersAndLimiter(t *testing.T) {
	mc := cache.NewMemoryCache()
	require.NoError(t, mc.Set(context.Background(), LastSummaryKey, models.RunSummary{RunID: "run-0", Records: 99}, time.Hour))
	e := newTestServer(t, mc)

	code, env := do(t, e, "/api/status")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, http.StatusOK, env.Status)

	var res StatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 3, res.Tasks.Total)
	assert.Equal(t, 1, res.Tasks.Failed)
	assert.Equal(t, 12, res.Limiter.Day.Used)
	assert.Equal(t, 1, res.Remaining)
	require.NotNil(t, res.LastSummary)
	assert.Equal(t, 99, res.LastSummary.Records)
}

func TestStatus_NoSummaryYet(t *testing.T) {
	e := newTestServer(t, cache.NewMemoryCache())

	_, env := do(t, e, "/api/status")
	var res StatusResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Nil(t, res.LastSummary)
}

func TestTasks_FilterAndDefaults(t *testing.T) {
	e := newTestServer(t, nil)

	_, env := do(t, e, "/api/tasks?status=failed")
	require.Equal(t, http.StatusOK, env.Status)
	var list struct {
		Rows  []models.DownloadTask `json:"rows"`
		Total int64                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Rows, 1)
	assert.Equal(t, "NSE:B-EQ", list.Rows[0].Symbol)
	assert.EqualValues(t, 1, list.Total)

	_, env = do(t, e, "/api/tasks?limit=2")
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list.Rows, 2)
	assert.EqualValues(t, 3, list.Total)
}

func TestTasks_RejectsUnknownStatus(t *testing.T) {
	e := newTestServer(t, nil)

	_, env := do(t, e, "/api/tasks?status=running")
	assert.Equal(t, http.StatusBadRequest, env.Status)
}

func TestTask_LookupAndErrors(t *testing.T) {
	e := newTestServer(t, nil)

	_, env := do(t, e, "/api/tasks/NSE:B-EQ/1D")
	require.Equal(t, http.StatusOK, env.Status)
	var task models.DownloadTask
	require.NoError(t, json.Unmarshal(env.Data, &task))
	assert.Equal(t, models.StatusFailed, task.Status)

	_, env = do(t, e, "/api/tasks/NSE:Z-EQ/1D")
	assert.Equal(t, http.StatusNotFound, env.Status)

	_, env = do(t, e, "/api/tasks/NSE:B-EQ/7D")
	assert.Equal(t, http.StatusBadRequest, env.Status)
}
