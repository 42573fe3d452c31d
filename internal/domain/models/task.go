package models

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus is the lifecycle state of a DownloadTask.
type TaskStatus string

const (
	StatusPending     TaskStatus = "pending"
	StatusDownloading TaskStatus = "downloading"
	StatusCompleted   TaskStatus = "completed"
	StatusFailed      TaskStatus = "failed"
)

// IsValid reports whether s is a known status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusDownloading, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition encodes the task state machine:
// pending -> downloading -> {completed | failed}, and failed -> downloading on retry.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	switch s {
	case StatusPending, StatusFailed:
		return to == StatusDownloading
	case StatusDownloading:
		return to == StatusCompleted || to == StatusFailed
	}
	return false
}

// TaskKey identifies a task: one symbol at one timeframe.
type TaskKey struct {
	Symbol    string
	Timeframe Timeframe
}

func (k TaskKey) String() string {
	return k.Symbol + "|" + string(k.Timeframe)
}

// ParseTaskKey is the inverse of TaskKey.String.
func ParseTaskKey(s string) (TaskKey, error) {
	i := strings.LastIndex(s, "|")
	if i <= 0 || i == len(s)-1 {
		return TaskKey{}, fmt.Errorf("invalid task key %q", s)
	}
	return TaskKey{Symbol: s[:i], Timeframe: Timeframe(s[i+1:])}, nil
}

// DownloadTask is the unit of acquisition work.
type DownloadTask struct {
	Category       string     `json:"category"`
	Symbol         string     `json:"symbol"`
	Timeframe      Timeframe  `json:"timeframe"`
	From           time.Time  `json:"from"`
	To             time.Time  `json:"to"`
	Status         TaskStatus `json:"status"`
	Error          string     `json:"error,omitempty"`
	RetryCount     int        `json:"retry_count"`
	SubrangesDone  int        `json:"subranges_done"`
	SubrangesTotal int        `json:"subranges_total"`
	Records        int        `json:"records"`
	NeedsReview    bool       `json:"needs_review,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Key returns the task identity.
func (t DownloadTask) Key() TaskKey {
	return TaskKey{Symbol: t.Symbol, Timeframe: t.Timeframe}
}

// SymbolRef is one catalog entry selected for acquisition.
type SymbolRef struct {
	Category string
	Symbol   string
}

// TaskCounters aggregates tasks per status bucket.
type TaskCounters struct {
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Downloading int `json:"downloading"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
}

// Add moves delta tasks into the bucket for s.
func (c *TaskCounters) Add(s TaskStatus, delta int) {
	switch s {
	case StatusPending:
		c.Pending += delta
	case StatusDownloading:
		c.Downloading += delta
	case StatusCompleted:
		c.Completed += delta
	case StatusFailed:
		c.Failed += delta
	}
}
