package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"HistPull/internal/domain/models"
	pkgkafka "HistPull/pkg/kafka"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	query string
	args  []any
}

type fakeDB struct {
	calls []execCall
	err   error
}

func (f *fakeDB) ExecContext(_ context.Context, q string, args ...any) (sql.Result, error) {
	f.calls = append(f.calls, execCall{query: q, args: args})
	return nil, f.err
}

func (f *fakeDB) PingContext(context.Context) error { return f.err }

func batchOf(n int) models.CandleBatch {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	cs := make([]models.Candle, n)
	for i := range cs {
		cs[i] = models.Candle{Time: start.Add(time.Duration(i) * time.Minute), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100}
	}
	return models.CandleBatch{Symbol: "NSE:SBIN-EQ", Timeframe: models.TF1m, Month: "2024-03", Candles: cs}
}

func TestClickHouseCandleStorage_ChunksInserts(t *testing.T) {
	db := &fakeDB{}
	s := NewClickHouseCandleStorage(db, "market.candles")

	require.NoError(t, s.StoreBatch(context.Background(), batchOf(4500)))
	require.Len(t, db.calls, 3)
	assert.True(t, strings.HasPrefix(db.calls[0].query, "INSERT INTO market.candles (symbol, timeframe, ts"))
	assert.Len(t, db.calls[0].args, 2000*8)
	assert.Len(t, db.calls[2].args, 500*8)
	assert.Equal(t, "NSE:SBIN-EQ", db.calls[0].args[0])
	assert.Equal(t, "1m", db.calls[0].args[1])
}

func TestClickHouseCandleStorage_Empty(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, NewClickHouseCandleStorage(db, "t").StoreBatch(context.Background(), batchOf(0)))
	assert.Empty(t, db.calls)
}

func TestClickHouseCandleStorage_WrapsError(t *testing.T) {
	db := &fakeDB{err: errors.New("table is read only")}
	err := NewClickHouseCandleStorage(db, "t").StoreBatch(context.Background(), batchOf(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2024-03")
	assert.Contains(t, err.Error(), "table is read only")
}

type fakePublisher struct {
	topic string
	msgs  []pkgkafka.Message
}

func (f *fakePublisher) PublishBatch(_ context.Context, topic string, m []pkgkafka.Message) error {
	f.topic = topic
	f.msgs = append(f.msgs, m...)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func TestKafkaCandlePublisher_KeysByMonth(t *testing.T) {
	pub := &fakePublisher{}
	p := NewKafkaCandlePublisher(pub, "histpull.candles")

	require.NoError(t, p.StoreBatch(context.Background(), batchOf(3)))
	assert.Equal(t, "histpull.candles", pub.topic)
	require.Len(t, pub.msgs, 3)
	for _, m := range pub.msgs {
		assert.Equal(t, "NSE:SBIN-EQ|1m|2024-03", string(m.Key))
	}
	first := pub.msgs[0].Value.(candleMessage)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Unix(), first.Ts)
}
