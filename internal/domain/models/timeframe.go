package models

import (
	"fmt"
	"sort"
	"time"
)

// Timeframe is the candle resolution requested from the provider.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF2m  Timeframe = "2m"
	TF3m  Timeframe = "3m"
	TF5m  Timeframe = "5m"
	TF10m Timeframe = "10m"
	TF15m Timeframe = "15m"
	TF20m Timeframe = "20m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF2h  Timeframe = "2h"
	TF4h  Timeframe = "4h"
	TF1D  Timeframe = "1D"
)

// Provider request span limits.
const (
	IntradayMaxSpan = 100 * 24 * time.Hour
	DailyMaxSpan    = 366 * 24 * time.Hour
)

type timeframeInfo struct {
	resolution string
	maxSpan    time.Duration
	bar        time.Duration
}

var timeframes = map[Timeframe]timeframeInfo{
	TF1m:  {"1", IntradayMaxSpan, time.Minute},
	TF2m:  {"2", IntradayMaxSpan, 2 * time.Minute},
	TF3m:  {"3", IntradayMaxSpan, 3 * time.Minute},
	TF5m:  {"5", IntradayMaxSpan, 5 * time.Minute},
	TF10m: {"10", IntradayMaxSpan, 10 * time.Minute},
	TF15m: {"15", IntradayMaxSpan, 15 * time.Minute},
	TF20m: {"20", IntradayMaxSpan, 20 * time.Minute},
	TF30m: {"30", IntradayMaxSpan, 30 * time.Minute},
	TF1h:  {"60", IntradayMaxSpan, time.Hour},
	TF2h:  {"120", IntradayMaxSpan, 2 * time.Hour},
	TF4h:  {"240", IntradayMaxSpan, 4 * time.Hour},
	TF1D:  {"D", DailyMaxSpan, 24 * time.Hour},
}

// IsValid reports whether tf is a supported timeframe.
func (tf Timeframe) IsValid() bool {
	_, ok := timeframes[tf]
	return ok
}

// Resolution is the provider's resolution parameter for tf.
func (tf Timeframe) Resolution() string {
	return timeframes[tf].resolution
}

// MaxSpan is the longest date range the provider serves in one request for tf.
// Zero for unknown timeframes.
func (tf Timeframe) MaxSpan() time.Duration {
	return timeframes[tf].maxSpan
}

// BarDuration is the width of one candle.
func (tf Timeframe) BarDuration() time.Duration {
	return timeframes[tf].bar
}

// ParseTimeframes validates a list of raw timeframe names.
func ParseTimeframes(raw []string) ([]Timeframe, error) {
	out := make([]Timeframe, 0, len(raw))
	seen := make(map[Timeframe]bool, len(raw))
	for _, s := range raw {
		tf := Timeframe(s)
		if !tf.IsValid() {
			return nil, fmt.Errorf("unsupported timeframe %q", s)
		}
		if seen[tf] {
			continue
		}
		seen[tf] = true
		out = append(out, tf)
	}
	return out, nil
}

// AllTimeframes lists supported timeframes, finest first.
func AllTimeframes() []Timeframe {
	out := make([]Timeframe, 0, len(timeframes))
	for tf := range timeframes {
		out = append(out, tf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BarDuration() < out[j].BarDuration() })
	return out
}
