package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"HistPull/internal/domain/models"
	drepo "HistPull/internal/domain/repository"
	"HistPull/internal/service/chunker"
	"HistPull/internal/service/executor"
	"HistPull/internal/service/ratelimit"
	"HistPull/pkg/logger"
)

// ErrRunHalted is returned by Run when a fatal condition stopped dispatch.
var ErrRunHalted = errors.New("acquisition halted")

const (
	causeCanceled      = "canceled"
	defaultWorkers     = 4
	defaultWriteWindow = 2 * time.Minute
	maxTaskErrors      = 5
)

// Fetcher fetches one sub-range with retries.
type Fetcher interface {
	FetchWithRetry(ctx context.Context, policy executor.RetryPolicy, key models.TaskKey, sub models.DateSubRange) ([]models.Candle, int, error)
}

// Writer persists fetched candles.
type Writer interface {
	Write(ctx context.Context, key models.TaskKey, candles []models.Candle) (int, error)
}

// LimiterStats exposes limiter usage for the run summary.
type LimiterStats interface {
	Statistics() ratelimit.Stats
}

// AcquisitionConfig tunes the worker pool.
type AcquisitionConfig struct {
	Workers     int
	Retry       executor.RetryPolicy
	WriteWindow time.Duration
}

// Acquisition plans download tasks and drains them with a fixed worker pool.
type Acquisition struct {
	store   drepo.TaskStore
	fetcher Fetcher
	writer  Writer
	limiter LimiterStats
	metrics drepo.Metrics
	log     *logger.Logger
	cfg     AcquisitionConfig
	nowFn   func() time.Time

	halted    atomic.Bool
	haltOnce  sync.Once
	haltCause string

	mu      sync.Mutex
	summary models.RunSummary
}

// NewAcquisition creates the orchestrator. limiter may be nil.
func NewAcquisition(
	store drepo.TaskStore,
	fetcher Fetcher,
	writer Writer,
	limiter LimiterStats,
	metrics drepo.Metrics,
	log *logger.Logger,
	cfg AcquisitionConfig,
) *Acquisition {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.WriteWindow <= 0 {
		cfg.WriteWindow = defaultWriteWindow
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Acquisition{
		store:   store,
		fetcher: fetcher,
		writer:  writer,
		limiter: limiter,
		metrics: metrics,
		log:     log,
		cfg:     cfg,
		nowFn:   time.Now,
	}
}

// Plan registers one task per (symbol, timeframe) and returns how many were new.
func (a *Acquisition) Plan(symbols []models.SymbolRef, tfs []models.Timeframe, from, to time.Time) (int, error) {
	if to.Before(from) {
		return 0, fmt.Errorf("invalid date range: %s after %s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	for _, tf := range tfs {
		if !tf.IsValid() {
			return 0, fmt.Errorf("unknown timeframe %q", tf)
		}
	}

	added := 0
	for _, s := range symbols {
		for _, tf := range tfs {
			ok, err := a.store.Register(models.DownloadTask{
				Category:  s.Category,
				Symbol:    s.Symbol,
				Timeframe: tf,
				From:      from,
				To:        to,
			})
			if err != nil {
				return added, fmt.Errorf("register %s|%s: %w", s.Symbol, tf, err)
			}
			if ok {
				added++
			}
		}
	}

	a.log.Info("acquisition planned",
		logger.Int("symbols", len(symbols)),
		logger.Int("timeframes", len(tfs)),
		logger.Int("new_tasks", added),
		logger.Int("total_tasks", a.store.Counters().Total))
	return added, nil
}

// Run drains pending and failed tasks. The summary is always returned; the error is
// ErrRunHalted (wrapped with the cause) when a fatal condition stopped the run.
func (a *Acquisition) Run(ctx context.Context) (models.RunSummary, error) {
	a.halted.Store(false)
	a.haltOnce = sync.Once{}
	a.haltCause = ""

	offered := a.store.PendingOrFailed()
	a.summary = models.RunSummary{
		RunID:     a.store.RunID(),
		StartedAt: a.nowFn().UTC(),
		Offered:   len(offered),
		Fatal:     map[string]int{},
		Transient: map[string]int{},
	}
	a.log.Info("acquisition started",
		logger.String("run_id", a.summary.RunID),
		logger.Int("offered", len(offered)),
		logger.Int("workers", a.cfg.Workers))

	jobs := make(chan models.DownloadTask)
	var wg sync.WaitGroup
	for i := 0; i < a.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			a.worker(ctx, id, jobs)
		}(i)
	}

feed:
	for _, t := range offered {
		if a.halted.Load() {
			break
		}
		select {
		case jobs <- t:
		case <-ctx.Done():
			a.halt(causeCanceled)
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	return a.finish()
}

func (a *Acquisition) worker(ctx context.Context, id int, jobs <-chan models.DownloadTask) {
	log := a.log.With(logger.Int("worker", id))
	for t := range jobs {
		if a.halted.Load() {
			continue
		}
		a.runTask(ctx, log, t)
	}
}

type taskResult struct {
	done, empty int
	failures    []string
	cause       string
}

func (a *Acquisition) runTask(ctx context.Context, log *logger.Logger, task models.DownloadTask) {
	key := task.Key()
	log = log.With(logger.String("task", key.String()))

	if _, err := a.store.Transition(key, models.StatusDownloading, ""); err != nil {
		log.Error("claim task failed", logger.Error(err))
		return
	}
	a.metrics.RecordTaskStatus(string(models.StatusDownloading))

	subs := chunker.Split(task.From, task.To, task.Timeframe)
	var (
		res     taskResult
		candles []models.Candle
	)

	for _, sub := range subs {
		if a.halted.Load() {
			res.cause = a.cause()
			break
		}

		cs, attempts, err := a.fetcher.FetchWithRetry(ctx, a.cfg.Retry, key, sub)
		kind := executor.KindOf(err)
		switch {
		case err == nil:
			candles = append(candles, cs...)
			res.done++
		case kind == executor.KindEmptyData:
			res.empty++
			res.done++
			a.count(func(s *models.RunSummary) { s.EmptyRanges++ })
		case kind.IsFatal():
			a.count(func(s *models.RunSummary) { s.Fatal[string(kind)]++ })
			a.metrics.RecordError(string(kind))
			a.halt(err.Error())
			res.cause = a.cause()
		case kind == "" && ctx.Err() != nil:
			a.halt(causeCanceled)
			res.cause = a.cause()
		case kind == "":
			res.failures = append(res.failures, fmt.Sprintf("%s: %v", sub, err))
			log.Warn("sub-range skipped", logger.String("range", sub.String()), logger.Error(err))
		default:
			a.count(func(s *models.RunSummary) { s.Transient[string(kind)]++ })
			a.metrics.RecordError(string(kind))
			res.failures = append(res.failures, fmt.Sprintf("%s: %s after %d attempts", sub, kind, attempts))
			log.Warn("sub-range skipped",
				logger.String("range", sub.String()),
				logger.String("kind", string(kind)),
				logger.Int("attempts", attempts),
				logger.Error(err))
		}
		if res.cause != "" {
			break
		}

		if err := a.store.Progress(key, res.done, len(subs), len(candles)); err != nil {
			log.Warn("persist progress failed", logger.Error(err))
		}
	}

	written, werr := a.write(ctx, key, candles)
	a.count(func(s *models.RunSummary) { s.Records += written })

	status, msg := a.outcome(res, len(subs), werr)
	if _, err := a.store.Transition(key, status, msg); err != nil {
		log.Error("finalize task failed", logger.Error(err))
		return
	}
	a.metrics.RecordTaskStatus(string(status))

	if status == models.StatusCompleted && len(subs) > 0 && res.empty == len(subs) {
		if err := a.store.MarkReview(key, "no data in any sub-range"); err != nil {
			log.Warn("flag task for review failed", logger.Error(err))
		}
		a.count(func(s *models.RunSummary) { s.NeedsReview++ })
		log.Warn("provider returned no data for the whole range, flagged for review")
	}

	fields := []logger.Field{
		logger.String("status", string(status)),
		logger.Int("subranges", len(subs)),
		logger.Int("empty", res.empty),
		logger.Int("records", written),
	}
	if status == models.StatusFailed {
		log.Warn("task failed", append(fields, logger.String("error", msg))...)
		return
	}
	log.Info("task completed", fields...)
}

// write stores whatever was fetched, even for interrupted tasks.
func (a *Acquisition) write(ctx context.Context, key models.TaskKey, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.WriteWindow)
	defer cancel()
	return a.writer.Write(wctx, key, candles)
}

func (a *Acquisition) outcome(res taskResult, total int, werr error) (models.TaskStatus, string) {
	switch {
	case res.cause != "":
		return models.StatusFailed, "interrupted: " + res.cause
	case werr != nil:
		return models.StatusFailed, werr.Error()
	case len(res.failures) > 0:
		return models.StatusFailed, summarizeFailures(res.failures)
	case res.done < total:
		return models.StatusFailed, fmt.Sprintf("%d of %d sub-ranges fetched", res.done, total)
	}
	return models.StatusCompleted, ""
}

func summarizeFailures(fs []string) string {
	if len(fs) <= maxTaskErrors {
		return strings.Join(fs, "; ")
	}
	return fmt.Sprintf("%s; and %d more", strings.Join(fs[:maxTaskErrors], "; "), len(fs)-maxTaskErrors)
}

func (a *Acquisition) halt(cause string) {
	a.haltOnce.Do(func() {
		a.mu.Lock()
		a.haltCause = cause
		a.mu.Unlock()
		a.halted.Store(true)
		a.log.Error("acquisition halting, no new work will be started", logger.String("cause", cause))
	})
}

func (a *Acquisition) cause() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.haltCause
}

func (a *Acquisition) count(fn func(s *models.RunSummary)) {
	a.mu.Lock()
	fn(&a.summary)
	a.mu.Unlock()
}

func (a *Acquisition) finish() (models.RunSummary, error) {
	a.mu.Lock()
	s := a.summary
	s.FatalCause = a.haltCause
	a.mu.Unlock()

	s.FinishedAt = a.nowFn().UTC()
	s.Tasks = a.store.Counters()
	if a.limiter != nil {
		st := a.limiter.Statistics()
		s.Violations = st.Violations
		s.CallsToday = st.Day.Used
		a.metrics.RecordViolations(st.Violations)
	}
	if err := a.store.Snapshot(); err != nil {
		a.log.Error("final snapshot failed", logger.Error(err))
	}

	a.log.Info("acquisition finished",
		logger.String("run_id", s.RunID),
		logger.Int("completed", s.Tasks.Completed),
		logger.Int("failed", s.Tasks.Failed),
		logger.Int("pending", s.Tasks.Pending),
		logger.Int("records", s.Records),
		logger.Int("needs_review", s.NeedsReview),
		logger.Duration("elapsed", s.FinishedAt.Sub(s.StartedAt)))

	if s.FatalCause != "" {
		return s, fmt.Errorf("%w: %s", ErrRunHalted, s.FatalCause)
	}
	return s, nil
}
