package repository

import (
	"context"

	"HistPull/internal/domain/models"
)

// HistoryRequest asks the provider for candles of one symbol over one sub-range.
type HistoryRequest struct {
	Symbol    string
	Timeframe models.Timeframe
	Range     models.DateSubRange
}

// HistoryResponse is the decoded provider reply.
type HistoryResponse struct {
	Status  string // ok, no_data, error
	Code    int
	Message string
	Candles []models.Candle
}

// HistoryProvider performs one raw history call against the market-data API.
type HistoryProvider interface {
	History(ctx context.Context, req HistoryRequest) (*HistoryResponse, error)
}

// CandleSink accepts month-partitioned candle batches. Implementations must be idempotent on
// (symbol, timeframe, timestamp) so redelivery never duplicates rows.
type CandleSink interface {
	StoreBatch(ctx context.Context, batch models.CandleBatch) error
	Health(ctx context.Context) error
	Close() error
}

// TaskStore is the durable registry of acquisition tasks.
type TaskStore interface {
	Register(task models.DownloadTask) (bool, error)
	Transition(key models.TaskKey, to models.TaskStatus, errMsg string) (models.DownloadTask, error)
	Progress(key models.TaskKey, done, total, records int) error
	MarkReview(key models.TaskKey, note string) error
	PendingOrFailed() []models.DownloadTask
	Get(key models.TaskKey) (models.DownloadTask, bool)
	List(status models.TaskStatus, limit int) []models.DownloadTask
	Counters() models.TaskCounters
	RunID() string
	Snapshot() error
}

type Metrics interface {
	RecordRequest(outcome string)
	RecordAdmitWait(seconds float64)
	RecordViolations(n int)
	RecordTaskStatus(status string)
	RecordCandlesWritten(backend, timeframe string, n int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
