package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"HistPull/internal/domain/models"
	drepo "HistPull/internal/domain/repository"
	"HistPull/internal/service/marketdata"
	"HistPull/internal/service/ratelimit"
	"HistPull/pkg/logger"
	"HistPull/pkg/metrics"
)

const defaultWatchdog = 30 * time.Second

// Admitter is the part of the rate limiter the executor depends on.
type Admitter interface {
	Admit(ctx context.Context, minDelay time.Duration) (time.Duration, error)
	Record(success bool)
}

// Executor issues single provider calls under the rate limiter and a watchdog timeout.
type Executor struct {
	provider drepo.HistoryProvider
	limiter  Admitter
	watchdog time.Duration
	log      *logger.Logger
	metrics  drepo.Metrics
}

// Option configures an Executor.
type Option func(*Executor)

// WithWatchdog bounds each provider call.
func WithWatchdog(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.watchdog = d
		}
	}
}

// WithLogger sets the executor logger.
func WithLogger(lg *logger.Logger) Option {
	return func(e *Executor) {
		if lg != nil {
			e.log = lg
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m drepo.Metrics) Option {
	return func(e *Executor) {
		if m != nil {
			e.metrics = m
		}
	}
}

// New creates an Executor.
func New(provider drepo.HistoryProvider, limiter Admitter, opts ...Option) *Executor {
	e := &Executor{
		provider: provider,
		limiter:  limiter,
		watchdog: defaultWatchdog,
		log:      logger.Nop(),
		metrics:  metrics.Nop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type callResult struct {
	resp *drepo.HistoryResponse
	err  error
}

// Fetch performs one attempt for sub. Success returns the candles and a nil error;
// every other outcome returns a *Failure, or the context error when ctx ends.
func (e *Executor) Fetch(ctx context.Context, key models.TaskKey, sub models.DateSubRange, minDelay time.Duration) ([]models.Candle, error) {
	waited, err := e.limiter.Admit(ctx, minDelay)
	e.metrics.RecordAdmitWait(waited.Seconds())
	if err != nil {
		if errors.Is(err, ratelimit.ErrViolationCeiling) {
			e.metrics.RecordRequest(string(KindViolationCeiling))
			return nil, &Failure{Kind: KindViolationCeiling, Key: key, Range: sub, Err: err}
		}
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.watchdog)
	defer cancel()

	done := make(chan callResult, 1)
	start := time.Now()
	go func() {
		resp, err := e.provider.History(callCtx, drepo.HistoryRequest{
			Symbol:    key.Symbol,
			Timeframe: key.Timeframe,
			Range:     sub,
		})
		done <- callResult{resp: resp, err: err}
	}()

	var res callResult
	interrupted := false
	select {
	case res = <-done:
		interrupted = res.err != nil && callCtx.Err() != nil
	case <-callCtx.Done():
		interrupted = true
	}
	e.metrics.RecordLatency("provider_call", time.Since(start).Seconds())

	if interrupted {
		e.limiter.Record(true)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.metrics.RecordRequest(string(KindTimeout))
		return nil, &Failure{
			Kind:  KindTimeout,
			Key:   key,
			Range: sub,
			Err:   fmt.Errorf("no reply within %s: %w", e.watchdog, context.DeadlineExceeded),
		}
	}

	candles, kind, cerr := classify(res)
	e.limiter.Record(kind != KindRateLimited)
	if kind == "" {
		e.metrics.RecordRequest("ok")
		return candles, nil
	}
	e.metrics.RecordRequest(string(kind))
	return nil, &Failure{Kind: kind, Key: key, Range: sub, Err: cerr}
}

func classify(res callResult) ([]models.Candle, FailureKind, error) {
	if res.err != nil {
		return nil, classifyError(res.err), res.err
	}
	resp := res.resp
	if resp == nil {
		return nil, KindTransient, errors.New("empty provider reply")
	}
	switch resp.Status {
	case marketdata.StatusError:
		return nil, classifyStatus(resp.Code), fmt.Errorf("provider error %d: %s", resp.Code, resp.Message)
	case marketdata.StatusNoData:
		return nil, KindEmptyData, nil
	}
	if len(resp.Candles) == 0 {
		return nil, KindEmptyData, nil
	}
	return resp.Candles, "", nil
}

// FetchWithRetry repeats Fetch while policy allows. The backoff before each retry is
// handed to the limiter as the minimum admission delay. It returns the final outcome
// and the number of attempts made.
func (e *Executor) FetchWithRetry(ctx context.Context, policy RetryPolicy, key models.TaskKey, sub models.DateSubRange) ([]models.Candle, int, error) {
	policy = policy.normalized()

	var delay time.Duration
	for attempt := 1; ; attempt++ {
		candles, err := e.Fetch(ctx, key, sub, delay)
		if err == nil {
			return candles, attempt, nil
		}

		kind := KindOf(err)
		if kind == "" || !policy.ShouldRetry(kind) || attempt >= policy.MaxAttempts {
			return nil, attempt, err
		}

		delay = policy.Backoff(attempt)
		e.log.Warn("sub-range attempt failed, retrying",
			logger.String("task", key.String()),
			logger.String("range", sub.String()),
			logger.String("kind", string(kind)),
			logger.Int("attempt", attempt),
			logger.Duration("backoff", delay),
			logger.Error(err))
	}
}
