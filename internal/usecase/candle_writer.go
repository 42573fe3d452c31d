package usecase

import (
	"context"
	"fmt"
	"time"

	"HistPull/internal/domain/models"
	drepo "HistPull/internal/domain/repository"
	"HistPull/pkg/util"
)

// Storage backends.
const (
	BackendClickHouse = "clickhouse"
	BackendKafka      = "kafka"
)

// CandleWriter deduplicates fetched candles and routes month batches to the configured backend.
type CandleWriter struct {
	pub     drepo.CandleSink
	store   drepo.CandleSink
	metrics drepo.Metrics
	backend string
}

// NewCandleWriter creates a CandleWriter. Only the sink for backend needs to be non-nil.
func NewCandleWriter(pub, store drepo.CandleSink, metrics drepo.Metrics, backend string) (*CandleWriter, error) {
	w := &CandleWriter{pub: pub, store: store, metrics: metrics, backend: backend}
	if w.sink() == nil {
		return nil, fmt.Errorf("no sink configured for backend %q", backend)
	}
	return w, nil
}

func (w *CandleWriter) sink() drepo.CandleSink {
	switch w.backend {
	case BackendKafka:
		return w.pub
	case BackendClickHouse:
		return w.store
	}
	return nil
}

// Backend names the active backend.
func (w *CandleWriter) Backend() string {
	return w.backend
}

// Write stores candles for key and returns how many unique candles were written.
func (w *CandleWriter) Write(ctx context.Context, key models.TaskKey, candles []models.Candle) (int, error) {
	unique := models.DedupSorted(candles)
	if len(unique) == 0 {
		return 0, nil
	}

	start := time.Now()
	written := 0
	for _, batch := range partitionByMonth(key, unique) {
		if err := w.sink().StoreBatch(ctx, batch); err != nil {
			w.metrics.RecordError("write")
			return written, fmt.Errorf("write %s %s: %w", key, batch.Month, err)
		}
		written += len(batch.Candles)
		w.metrics.RecordCandlesWritten(w.backend, string(key.Timeframe), len(batch.Candles))
	}
	w.metrics.RecordLatency("write", time.Since(start).Seconds())

	return written, nil
}

// Health checks the active sink.
func (w *CandleWriter) Health(ctx context.Context) error {
	return w.sink().Health(ctx)
}

// Close closes underlying resources if available.
func (w *CandleWriter) Close() {
	if w.pub != nil {
		_ = w.pub.Close()
	}
	if w.store != nil {
		_ = w.store.Close()
	}
}

// partitionByMonth splits time-sorted candles into one batch per UTC month.
func partitionByMonth(key models.TaskKey, sorted []models.Candle) []models.CandleBatch {
	var out []models.CandleBatch
	for _, c := range sorted {
		m := util.MonthKey(c.Time)
		if n := len(out); n == 0 || out[n-1].Month != m {
			out = append(out, models.CandleBatch{Symbol: key.Symbol, Timeframe: key.Timeframe, Month: m})
		}
		last := &out[len(out)-1]
		last.Candles = append(last.Candles, c)
	}
	return out
}
