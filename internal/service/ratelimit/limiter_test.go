package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept += d
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}

var ist = time.FixedZone("IST", 5*3600+1800)

func testConfig() Config {
	return Config{PerSecond: 5, PerMinute: 100, PerDay: 1000, MaxViolations: 2, Location: ist}
}

func newTestLimiter(t *testing.T, cfg Config, clock *fakeClock) *Limiter {
	t.Helper()
	l, err := New(cfg, WithClock(clock))
	require.NoError(t, err)
	return l
}

func TestAdmit_TwentyCallsAtFivePerSecond(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, ist))
	l := newTestLimiter(t, testConfig(), clock)

	var total time.Duration
	for i := 0; i < 20; i++ {
		waited, err := l.Admit(context.Background(), 0)
		require.NoError(t, err)
		if i < 5 {
			assert.Zero(t, waited, "call %d should be free", i)
		}
		total += waited
	}
	assert.GreaterOrEqual(t, total, 3*time.Second)
	assert.Equal(t, total, clock.Slept())
}

func TestAdmit_ConcurrentCallersNeverExceedPerSecondCeiling(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, ist))
	l := newTestLimiter(t, testConfig(), clock)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := l.Admit(context.Background(), 0)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	admitted := append([]time.Time(nil), l.pending...)
	require.Len(t, admitted, 80)
	sort.Slice(admitted, func(i, j int) bool { return admitted[i].Before(admitted[j]) })
	for i, start := range admitted {
		n := 0
		for _, ts := range admitted[i:] {
			if ts.Sub(start) < time.Second {
				n++
			}
		}
		assert.LessOrEqual(t, n, 5, "window starting at %s", start)
	}
}

func TestRecord_SlowCallsStayInTheirAdmissionWindow(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, ist))
	l := newTestLimiter(t, testConfig(), clock)

	admitWave := func() {
		for i := 0; i < 5; i++ {
			waited, err := l.Admit(context.Background(), 0)
			require.NoError(t, err)
			assert.Zero(t, waited)
		}
	}

	// First wave is still in flight when the second one is admitted.
	admitWave()
	clock.Advance(1500 * time.Millisecond)
	admitWave()

	for i := 0; i < 10; i++ {
		l.Record(true)
	}

	l.mu.Lock()
	l.pruneLocked(clock.Now())
	stamps := append([]time.Time(nil), l.second.stamps...)
	l.mu.Unlock()

	assert.LessOrEqual(t, len(stamps), 5)
	assert.True(t, sort.SliceIsSorted(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) }))
	for i, start := range stamps {
		n := 0
		for _, ts := range stamps[i:] {
			if ts.Sub(start) < time.Second {
				n++
			}
		}
		assert.LessOrEqual(t, n, 5, "window starting at %s", start)
	}

	// The next admission still waits for the second wave's slots.
	waited, err := l.Admit(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, time.Second, waited)
}

func TestAdmit_RecordedCallsKeepCounting(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, ist))
	l := newTestLimiter(t, testConfig(), clock)

	for i := 0; i < 5; i++ {
		_, err := l.Admit(context.Background(), 0)
		require.NoError(t, err)
		l.Record(true)
	}
	stats := l.Statistics()
	assert.Equal(t, 5, stats.Second.Used)
	assert.Zero(t, stats.InFlight)

	waited, err := l.Admit(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, time.Second, waited)
}

func TestAdmit_FailsFastAfterMaxViolations(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, ist))
	l := newTestLimiter(t, testConfig(), clock)

	l.Record(false)
	_, err := l.Admit(context.Background(), 0)
	require.NoError(t, err, "one violation is still below the ceiling")
	l.Record(false)

	for i := 0; i < 3; i++ {
		waited, err := l.Admit(context.Background(), time.Second)
		require.ErrorIs(t, err, ErrViolationCeiling)
		assert.Zero(t, waited)
	}
	assert.Zero(t, clock.Slept())
	assert.Equal(t, 0, l.Statistics().Remaining())
}

func TestViolationsResetAtProviderMidnight(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 1, 23, 59, 0, 0, ist))
	l := newTestLimiter(t, testConfig(), clock)

	l.Record(false)
	l.Record(false)
	_, err := l.Admit(context.Background(), 0)
	require.ErrorIs(t, err, ErrViolationCeiling)

	clock.Advance(2 * time.Minute)
	stats := l.Statistics()
	assert.Zero(t, stats.Violations)

	_, err = l.Admit(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 3, 0, 0, 0, 0, ist), l.Statistics().NextReset)
}

func TestRecord_CallAdmittedBeforeMidnightDoesNotCountToday(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 1, 23, 59, 59, 0, ist))
	l := newTestLimiter(t, testConfig(), clock)

	_, err := l.Admit(context.Background(), 0)
	require.NoError(t, err)
	clock.Advance(2 * time.Second)
	l.Record(true)

	stats := l.Statistics()
	assert.Zero(t, stats.Day.Used)
	assert.Zero(t, stats.InFlight)
	assert.Equal(t, 1, stats.Minute.Used)
}

func TestAdmit_DailyCeilingWaitsUntilReset(t *testing.T) {
	start := time.Date(2024, 3, 1, 22, 0, 0, 0, ist)
	clock := newFakeClock(start)
	cfg := testConfig()
	cfg.PerDay = 3
	l := newTestLimiter(t, cfg, clock)

	for i := 0; i < 3; i++ {
		_, err := l.Admit(context.Background(), 0)
		require.NoError(t, err)
		l.Record(true)
		clock.Advance(time.Minute)
	}

	waited, err := l.Admit(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, ist), clock.Now())
	assert.Equal(t, 2*time.Hour-3*time.Minute, waited)
}

func TestAdmit_MinimumDelay(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, ist))
	l := newTestLimiter(t, testConfig(), clock)

	waited, err := l.Admit(context.Background(), 250*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, waited)
}

func TestAdmit_ContextCanceledWhileWaiting(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, ist))
	cfg := testConfig()
	cfg.PerDay = 1
	l := newTestLimiter(t, cfg, clock)

	_, err := l.Admit(context.Background(), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Admit(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStatistics_ReadOnly(t *testing.T) {
	clock := newFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, ist))
	l := newTestLimiter(t, testConfig(), clock)

	_, err := l.Admit(context.Background(), 0)
	require.NoError(t, err)
	l.Record(true)
	_, err = l.Admit(context.Background(), 0)
	require.NoError(t, err)

	first := l.Statistics()
	second := l.Statistics()
	assert.Equal(t, first, second)
	assert.Equal(t, 2, first.Second.Used)
	assert.Equal(t, 1, first.InFlight)
	assert.Equal(t, 2, first.Day.Used)
	assert.Equal(t, 1000, first.Day.Limit)
	assert.Equal(t, 14*time.Hour, first.ResetIn)
}

func TestNew_RejectsUnsafeConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxViolations = ProviderBlockThreshold
	_, err := New(cfg)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.PerSecond = 0
	_, err = New(cfg)
	require.Error(t, err)

	_, err = New(DefaultConfig())
	require.NoError(t, err)
}

func TestAdmit_RealClock(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps for three seconds")
	}
	l, err := New(Config{PerSecond: 5, PerMinute: 100, PerDay: 1000, MaxViolations: 2})
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 20; i++ {
		_, err := l.Admit(context.Background(), 0)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 3*time.Second)
}
