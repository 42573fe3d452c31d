// Package chunker splits a task's date range into provider-sized requests.
package chunker

import (
	"time"

	"HistPull/internal/domain/models"
)

// Split walks from start to end in steps of the timeframe's maximum span.
// The result is ordered, contiguous and covers [start, end] exactly; the last
// range is clipped to end. start == end yields one zero-length range and
// start > end (or an unknown timeframe) yields nil.
func Split(start, end time.Time, tf models.Timeframe) []models.DateSubRange {
	span := tf.MaxSpan()
	if span <= 0 || start.After(end) {
		return nil
	}
	if start.Equal(end) {
		return []models.DateSubRange{{Start: start, End: end}}
	}

	out := make([]models.DateSubRange, 0, int(end.Sub(start)/span)+1)
	for cur := start; cur.Before(end); {
		next := cur.Add(span)
		if next.After(end) {
			next = end
		}
		out = append(out, models.DateSubRange{Start: cur, End: next})
		cur = next
	}
	return out
}
