package api

import (
	"context"
	"errors"

	"HistPull/internal/domain/models"
	"HistPull/internal/service/ratelimit"
	"HistPull/pkg/cache"
	xhttp "HistPull/pkg/http"
	xlogger "HistPull/pkg/logger"

	"github.com/labstack/echo/v4"
)

// LastSummaryKey is where the app keeps the most recent RunSummary.
const LastSummaryKey = "summary:last"

// TaskReader is the read-only part of the task store the status API needs.
type TaskReader interface {
	List(status models.TaskStatus, limit int) []models.DownloadTask
	Get(key models.TaskKey) (models.DownloadTask, bool)
	Counters() models.TaskCounters
	RunID() string
}

// StatsReader exposes limiter occupancy.
type StatsReader interface {
	Statistics() ratelimit.Stats
}

// SummaryReader loads cached values. cache.Service satisfies it.
type SummaryReader interface {
	Get(ctx context.Context, key string, dest interface{}) error
}

// TaskListRequest filters /api/tasks.
type TaskListRequest struct {
	Status string `query:"status" validate:"omitempty,oneof=pending downloading completed failed"`
	Limit  int    `query:"limit" default:"100" validate:"min=1,max=5000"`
}

// StatusResponse is the body of /api/status.
type StatusResponse struct {
	RunID       string              `json:"run_id"`
	Tasks       models.TaskCounters `json:"tasks"`
	Limiter     ratelimit.Stats     `json:"limiter"`
	Remaining   int                 `json:"violations_remaining"`
	LastSummary *models.RunSummary  `json:"last_summary,omitempty"`
}

// StatusEchoHandler serves the live view of an acquisition run.
type StatusEchoHandler struct {
	logger  *xlogger.Logger
	tasks   TaskReader
	limiter StatsReader
	summary SummaryReader
}

// NewStatusEchoHandler builds the handler. summary may be nil.
func NewStatusEchoHandler(logger *xlogger.Logger, tasks TaskReader, limiter StatsReader, summary SummaryReader) *StatusEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &StatusEchoHandler{logger: logger, tasks: tasks, limiter: limiter, summary: summary}
}

func (h *StatusEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/tasks", h.Tasks)
	g.GET("/tasks/:symbol/:timeframe", h.Task)
}

func (h *StatusEchoHandler) Status(c echo.Context) error {
	res := StatusResponse{
		RunID: h.tasks.RunID(),
		Tasks: h.tasks.Counters(),
	}
	if h.limiter != nil {
		res.Limiter = h.limiter.Statistics()
		res.Remaining = res.Limiter.Remaining()
	}
	if h.summary != nil {
		var last models.RunSummary
		err := h.summary.Get(c.Request().Context(), LastSummaryKey, &last)
		switch {
		case err == nil:
			res.LastSummary = &last
		case !errors.Is(err, cache.ErrCacheMiss):
			h.logger.Warn("load last summary", xlogger.Error(err))
		}
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *StatusEchoHandler) Tasks(c echo.Context) error {
	req := &TaskListRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	status := models.TaskStatus(req.Status)
	rows := h.tasks.List(status, req.Limit)
	return xhttp.ListResponse(c, rows, int64(countOf(h.tasks.Counters(), status)))
}

func countOf(c models.TaskCounters, s models.TaskStatus) int {
	switch s {
	case models.StatusPending:
		return c.Pending
	case models.StatusDownloading:
		return c.Downloading
	case models.StatusCompleted:
		return c.Completed
	case models.StatusFailed:
		return c.Failed
	}
	return c.Total
}

func (h *StatusEchoHandler) Task(c echo.Context) error {
	key := models.TaskKey{
		Symbol:    c.Param("symbol"),
		Timeframe: models.Timeframe(c.Param("timeframe")),
	}
	if !key.Timeframe.IsValid() {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("unknown timeframe %q", key.Timeframe))
	}
	t, ok := h.tasks.Get(key)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("task %s not found", key))
	}
	return xhttp.SuccessResponse(c, t)
}
