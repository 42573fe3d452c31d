package clickhouse

import "fmt"

// CandleSchema returns the DDL for the candle table. Re-inserted rows with the same
// (symbol, timeframe, ts) collapse to the latest ingested_at on merge.
func CandleSchema(database, table string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	symbol      LowCardinality(String),
	timeframe   LowCardinality(String),
	ts          DateTime64(3, 'UTC'),
	open        Float64,
	high        Float64,
	low         Float64,
	close       Float64,
	volume      Float64,
	ingested_at DateTime64(3, 'UTC') DEFAULT now64(3)
)
ENGINE = ReplacingMergeTree(ingested_at)
PARTITION BY toYYYYMM(ts)
ORDER BY (symbol, timeframe, ts)`, database, table),
	}
}
