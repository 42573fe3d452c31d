package models

import (
	"sort"
	"time"
)

// Candle is one OHLCV bar.
type Candle struct {
	Time   time.Time `json:"t"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}

// CandleBatch is the unit handed to storage: one symbol, one timeframe, one UTC month.
type CandleBatch struct {
	Symbol    string
	Timeframe Timeframe
	Month     string // YYYY-MM
	Candles   []Candle
}

// DedupSorted returns candles sorted by time with one row per timestamp.
// When a timestamp repeats the later occurrence wins.
func DedupSorted(in []Candle) []Candle {
	if len(in) == 0 {
		return nil
	}
	byTS := make(map[int64]int, len(in))
	out := make([]Candle, 0, len(in))
	for _, c := range in {
		k := c.Time.Unix()
		if i, ok := byTS[k]; ok {
			out[i] = c
			continue
		}
		byTS[k] = len(out)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
