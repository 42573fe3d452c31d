package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"HistPull/internal/domain/models"
	drepo "HistPull/internal/domain/repository"
)

const insertChunkSize = 2000

// sqlExecer is the subset of *sql.DB the ClickHouse sink needs.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PingContext(ctx context.Context) error
}

// ClickHouseCandleStorage upserts candle batches into a ReplacingMergeTree table.
type ClickHouseCandleStorage struct {
	db    sqlExecer
	table string
}

// NewClickHouseCandleStorage creates the ClickHouse sink writing to table (database.table).
func NewClickHouseCandleStorage(db sqlExecer, table string) *ClickHouseCandleStorage {
	return &ClickHouseCandleStorage{db: db, table: table}
}

var _ drepo.CandleSink = (*ClickHouseCandleStorage)(nil)

// StoreBatch inserts the batch in multi-row chunks. Replays are collapsed by the table engine.
func (s *ClickHouseCandleStorage) StoreBatch(ctx context.Context, batch models.CandleBatch) error {
	candles := batch.Candles
	for start := 0; start < len(candles); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(candles) {
			end = len(candles)
		}

		values := make([]string, 0, end-start)
		args := make([]any, 0, (end-start)*8)
		for _, c := range candles[start:end] {
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				batch.Symbol,
				string(batch.Timeframe),
				c.Time.UTC(),
				c.Open,
				c.High,
				c.Low,
				c.Close,
				c.Volume,
			)
		}

		q := fmt.Sprintf("INSERT INTO %s (symbol, timeframe, ts, open, high, low, close, volume) VALUES %s",
			s.table, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert %s %s %s: %w", batch.Symbol, batch.Timeframe, batch.Month, err)
		}
	}
	return nil
}

func (s *ClickHouseCandleStorage) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseCandleStorage) Close() error {
	return nil // pool owned by pkg/clickhouse
}
