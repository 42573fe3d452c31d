package models

import "time"

// DateSubRange is a half-open interval [Start, End) inside a task's range.
type DateSubRange struct {
	Start time.Time
	End   time.Time
}

// Span is End - Start.
func (r DateSubRange) Span() time.Duration {
	return r.End.Sub(r.Start)
}

// IsZero reports a zero-length range.
func (r DateSubRange) IsZero() bool {
	return !r.End.After(r.Start)
}

func (r DateSubRange) String() string {
	return r.Start.Format(time.DateOnly) + ".." + r.End.Format(time.DateOnly)
}
