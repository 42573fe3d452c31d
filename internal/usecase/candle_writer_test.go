package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"HistPull/internal/domain/models"
	"HistPull/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu      sync.Mutex
	batches []models.CandleBatch
	failOn  string
	closed  bool
}

func (m *memorySink) StoreBatch(_ context.Context, b models.CandleBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.Month == m.failOn {
		return errors.New("disk full")
	}
	m.batches = append(m.batches, b)
	return nil
}

func (m *memorySink) Health(context.Context) error { return nil }

func (m *memorySink) Close() error {
	m.closed = true
	return nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b.Candles)
	}
	return n
}

func candleAt(y int, mo time.Month, d int, close float64) models.Candle {
	return models.Candle{Time: time.Date(y, mo, d, 0, 0, 0, 0, time.UTC), Open: 1, High: 2, Low: 0.5, Close: close, Volume: 10}
}

func TestCandleWriter_DedupSortAndPartition(t *testing.T) {
	sink := &memorySink{}
	w, err := NewCandleWriter(nil, sink, metrics.Nop{}, BackendClickHouse)
	require.NoError(t, err)

	key := models.TaskKey{Symbol: "NSE:SBIN-EQ", Timeframe: models.TF1D}
	n, err := w.Write(context.Background(), key, []models.Candle{
		candleAt(2024, 2, 2, 1),
		candleAt(2024, 1, 31, 1),
		candleAt(2024, 2, 1, 1),
		candleAt(2024, 2, 1, 9), // overlapping sub-range boundary; later wins
		candleAt(2024, 3, 1, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	require.Len(t, sink.batches, 3)
	assert.Equal(t, "2024-01", sink.batches[0].Month)
	assert.Equal(t, "2024-02", sink.batches[1].Month)
	assert.Equal(t, "2024-03", sink.batches[2].Month)
	feb := sink.batches[1].Candles
	require.Len(t, feb, 2)
	assert.True(t, feb[0].Time.Before(feb[1].Time))
	assert.Equal(t, 9.0, feb[0].Close)
	assert.Equal(t, key.Symbol, sink.batches[0].Symbol)
}

func TestCandleWriter_RoutesToKafka(t *testing.T) {
	pub, store := &memorySink{}, &memorySink{}
	w, err := NewCandleWriter(pub, store, metrics.Nop{}, BackendKafka)
	require.NoError(t, err)

	_, err = w.Write(context.Background(), models.TaskKey{Symbol: "X", Timeframe: models.TF1h}, []models.Candle{candleAt(2024, 5, 1, 1)})
	require.NoError(t, err)
	assert.Len(t, pub.batches, 1)
	assert.Empty(t, store.batches)

	w.Close()
	assert.True(t, pub.closed)
	assert.True(t, store.closed)
}

func TestCandleWriter_UnknownBackend(t *testing.T) {
	_, err := NewCandleWriter(&memorySink{}, &memorySink{}, metrics.Nop{}, "parquet")
	assert.Error(t, err)

	_, err = NewCandleWriter(nil, &memorySink{}, metrics.Nop{}, BackendKafka)
	assert.Error(t, err)
}

func TestCandleWriter_SinkErrorReportsPartialCount(t *testing.T) {
	sink := &memorySink{failOn: "2024-02"}
	w, err := NewCandleWriter(nil, sink, metrics.Nop{}, BackendClickHouse)
	require.NoError(t, err)

	n, err := w.Write(context.Background(), models.TaskKey{Symbol: "X", Timeframe: models.TF1D}, []models.Candle{
		candleAt(2024, 1, 5, 1),
		candleAt(2024, 2, 5, 1),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2024-02")
	assert.Equal(t, 1, n)
}

func TestCandleWriter_EmptyInput(t *testing.T) {
	sink := &memorySink{}
	w, err := NewCandleWriter(nil, sink, metrics.Nop{}, BackendClickHouse)
	require.NoError(t, err)

	n, err := w.Write(context.Background(), models.TaskKey{Symbol: "X", Timeframe: models.TF1D}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, sink.batches)
}
