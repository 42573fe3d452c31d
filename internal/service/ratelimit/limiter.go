package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"HistPull/pkg/logger"
	"HistPull/pkg/util"
)

// Documented provider quotas. Configured ceilings must stay below these.
const (
	ProviderPerSecond      = 10
	ProviderPerMinute      = 200
	ProviderPerDay         = 100000
	ProviderBlockThreshold = 3 // the 3rd violation in a day blocks the account until midnight
)

// ErrViolationCeiling is returned by Admit once the daily violation ceiling has been reached.
var ErrViolationCeiling = errors.New("ratelimit: violation ceiling reached")

// Config holds the limiter ceilings.
type Config struct {
	PerSecond     int
	PerMinute     int
	PerDay        int
	MaxViolations int
	Location      *time.Location // provider timezone; daily counters reset at its midnight
}

// DefaultConfig keeps a 50% margin below the documented quotas.
func DefaultConfig() Config {
	return Config{
		PerSecond:     ProviderPerSecond / 2,
		PerMinute:     ProviderPerMinute / 2,
		PerDay:        ProviderPerDay / 2,
		MaxViolations: ProviderBlockThreshold - 1,
		Location:      time.UTC,
	}
}

func (c Config) validate() error {
	if c.PerSecond <= 0 || c.PerMinute <= 0 || c.PerDay <= 0 {
		return fmt.Errorf("ratelimit: ceilings must be positive (%d/s, %d/min, %d/day)", c.PerSecond, c.PerMinute, c.PerDay)
	}
	if c.MaxViolations <= 0 || c.MaxViolations >= ProviderBlockThreshold {
		return fmt.Errorf("ratelimit: max violations must be in [1, %d), got %d", ProviderBlockThreshold, c.MaxViolations)
	}
	return nil
}

// Clock abstracts time for the limiter.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type window struct {
	horizon time.Duration
	limit   int
	stamps  []time.Time
}

func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.horizon)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// Limiter is the process-wide arbiter of outbound provider calls.
//
// Admissions are serialized through admitSem so that two callers never compute
// their wait from the same view of the windows. Window state lives behind mu,
// which is never held while sleeping or during network I/O.
type Limiter struct {
	cfg   Config
	clock Clock
	log   *logger.Logger

	admitSem chan struct{}

	mu         sync.Mutex
	second     window
	minute     window
	day        window
	pending    []time.Time // admitted, not yet recorded
	violations int
	dayStart   time.Time // last reset applied; zero before the first
	nextReset  time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithLogger sets the logger.
func WithLogger(lg *logger.Logger) Option {
	return func(l *Limiter) { l.log = lg }
}

// New creates a limiter. Construct one per process and share it.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		cfg:      cfg,
		clock:    realClock{},
		log:      logger.Nop(),
		admitSem: make(chan struct{}, 1),
		second:   window{horizon: time.Second, limit: cfg.PerSecond},
		minute:   window{horizon: time.Minute, limit: cfg.PerMinute},
		day:      window{horizon: 24 * time.Hour, limit: cfg.PerDay},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.nextReset = util.NextMidnight(l.clock.Now(), cfg.Location)
	return l, nil
}

// Admit blocks until a call may be issued and returns how long the caller waited.
// At least minDelay is waited. Once the violation ceiling is reached it returns
// ErrViolationCeiling without sleeping.
func (l *Limiter) Admit(ctx context.Context, minDelay time.Duration) (time.Duration, error) {
	if l.ceilingReached() {
		return 0, ErrViolationCeiling
	}

	select {
	case l.admitSem <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-l.admitSem }()

	var waited time.Duration
	first := true
	for {
		l.mu.Lock()
		now := l.clock.Now()
		wait, err := l.waitLocked(now)
		if err != nil {
			l.mu.Unlock()
			return waited, err
		}
		if first && minDelay > wait {
			wait = minDelay
		}
		first = false
		if wait <= 0 {
			l.pending = append(l.pending, now)
			l.mu.Unlock()
			return waited, nil
		}
		l.mu.Unlock()

		if wait > time.Minute {
			l.log.Warn("daily request ceiling reached, waiting for reset",
				logger.Duration("wait_ms", wait))
		}
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return waited, err
		}
		waited += wait
	}
}

// Record settles the oldest outstanding reservation at its admission time. Every
// attempt counts against the quota.
// success=false means the provider rejected the call for exceeding its rate limit.
func (l *Limiter) Record(success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.resetIfDueLocked(now)
	// A call occupies the slot it was admitted into, however long it ran.
	admitted := now
	if len(l.pending) > 0 {
		admitted = l.pending[0]
		l.pending = l.pending[1:]
	}
	l.second.stamps = append(l.second.stamps, admitted)
	l.minute.stamps = append(l.minute.stamps, admitted)
	if !admitted.Before(l.dayStart) {
		l.day.stamps = append(l.day.stamps, admitted)
	}

	if success {
		return
	}
	l.violations++
	remaining := l.cfg.MaxViolations - l.violations
	if remaining <= 0 {
		l.log.Error("rate-limit violation ceiling reached, refusing further requests until reset",
			logger.Int("violations", l.violations),
			logger.Int("block_threshold", ProviderBlockThreshold),
			logger.Time("reset_at", l.nextReset))
		return
	}
	l.log.Warn("provider rejected request for rate limit",
		logger.Int("violations", l.violations),
		logger.Int("remaining_before_stop", remaining),
		logger.Int("remaining_before_block", ProviderBlockThreshold-l.violations))
}

func (l *Limiter) ceilingReached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetIfDueLocked(l.clock.Now())
	return l.violations >= l.cfg.MaxViolations
}

func (l *Limiter) waitLocked(now time.Time) (time.Duration, error) {
	l.resetIfDueLocked(now)
	if l.violations >= l.cfg.MaxViolations {
		return 0, ErrViolationCeiling
	}
	l.pruneLocked(now)

	var wait time.Duration
	for _, w := range []*window{&l.second, &l.minute} {
		n, oldest := l.occupancy(w, now)
		if n >= w.limit {
			if d := oldest.Add(w.horizon).Sub(now); d > wait {
				wait = d
			}
		}
	}
	if n, _ := l.occupancy(&l.day, now); n >= l.day.limit {
		if d := l.nextReset.Sub(now); d > wait {
			wait = d
		}
	}
	return wait, nil
}

// occupancy counts recorded and outstanding calls inside w's horizon and returns the oldest of them.
func (l *Limiter) occupancy(w *window, now time.Time) (int, time.Time) {
	cutoff := now.Add(-w.horizon)
	n := 0
	var oldest time.Time
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			if n == 0 {
				oldest = ts
			}
			n++
		}
	}
	for _, ts := range l.pending {
		if ts.After(cutoff) {
			if oldest.IsZero() || ts.Before(oldest) {
				oldest = ts
			}
			n++
		}
	}
	return n, oldest
}

func (l *Limiter) pruneLocked(now time.Time) {
	l.second.prune(now)
	l.minute.prune(now)
	l.day.prune(now)

	cutoff := now.Add(-l.day.horizon)
	i := 0
	for i < len(l.pending) && !l.pending[i].After(cutoff) {
		i++
	}
	l.pending = l.pending[i:]
}

func (l *Limiter) resetIfDueLocked(now time.Time) {
	if now.Before(l.nextReset) {
		return
	}
	if l.violations > 0 || len(l.day.stamps) > 0 {
		l.log.Info("provider day rolled over, resetting daily counters",
			logger.Int("violations", l.violations),
			logger.Int("requests", len(l.day.stamps)))
	}
	l.violations = 0
	l.day.stamps = l.day.stamps[:0]
	l.dayStart = l.nextReset
	l.nextReset = util.NextMidnight(now, l.cfg.Location)
}
