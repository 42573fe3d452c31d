package ratelimit

import "time"

// WindowStats is the occupancy of one horizon.
type WindowStats struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// Stats is a read-only view of the limiter.
type Stats struct {
	Second        WindowStats   `json:"second"`
	Minute        WindowStats   `json:"minute"`
	Day           WindowStats   `json:"day"`
	InFlight      int           `json:"in_flight"`
	Violations    int           `json:"violations"`
	MaxViolations int           `json:"max_violations"`
	NextReset     time.Time     `json:"next_reset"`
	ResetIn       time.Duration `json:"reset_in"`
}

// Remaining is how many more violations the limiter tolerates before refusing calls.
func (s Stats) Remaining() int {
	if r := s.MaxViolations - s.Violations; r > 0 {
		return r
	}
	return 0
}

// Statistics reports the current occupancy without pruning or resetting anything.
func (l *Limiter) Statistics() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	violations := l.violations
	nextReset := l.nextReset
	dayUsed, _ := l.occupancy(&l.day, now)
	if !now.Before(nextReset) {
		// The reset is due but has not been applied yet.
		violations = 0
		dayUsed = 0
	}
	secUsed, _ := l.occupancy(&l.second, now)
	minUsed, _ := l.occupancy(&l.minute, now)

	resetIn := nextReset.Sub(now)
	if resetIn < 0 {
		resetIn = 0
	}
	return Stats{
		Second:        WindowStats{Used: secUsed, Limit: l.second.limit},
		Minute:        WindowStats{Used: minUsed, Limit: l.minute.limit},
		Day:           WindowStats{Used: dayUsed, Limit: l.day.limit},
		InFlight:      len(l.pending),
		Violations:    violations,
		MaxViolations: l.cfg.MaxViolations,
		NextReset:     nextReset,
		ResetIn:       resetIn,
	}
}
