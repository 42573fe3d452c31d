package models

import "time"

// RunSummary is the user-facing result of one acquisition run.
type RunSummary struct {
	RunID       string         `json:"run_id"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Offered     int            `json:"offered"`
	Tasks       TaskCounters   `json:"tasks"`
	Records     int            `json:"records"`
	EmptyRanges int            `json:"empty_ranges"`
	NeedsReview int            `json:"needs_review"`
	Fatal       map[string]int `json:"fatal,omitempty"`
	Transient   map[string]int `json:"transient,omitempty"`
	FatalCause  string         `json:"fatal_cause,omitempty"`
	Violations  int            `json:"violations"`
	CallsToday  int            `json:"calls_today"`
}

// Succeeded is true when every task completed and no fatal condition halted the run.
func (s RunSummary) Succeeded() bool {
	return s.FatalCause == "" && s.Tasks.Failed == 0 && s.Tasks.Pending == 0 && s.Tasks.Downloading == 0
}
