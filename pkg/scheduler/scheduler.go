// Package scheduler dispatches chunk requests through a bounded worker pool
// with retry, backoff, and daily-token-limit awareness. No ordering is
// guaranteed between in-flight requests; the aggregator re-establishes chunk
// order from the journal.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/chronominer/chronominer/pkg/config"
	"github.com/chronominer/chronominer/pkg/journal"
	"github.com/chronominer/chronominer/pkg/ledger"
	"github.com/chronominer/chronominer/pkg/model"
	"github.com/chronominer/chronominer/pkg/model/provider"
)

// Task is one chunk request queued for dispatch.
type Task struct {
	CustomID   string
	ChunkIndex int
	Req        model.Request
	// EstimatedTokens is the reservation made against the daily ledger
	// before the request is sent (input estimate + max output).
	EstimatedTokens int64
}

// Scheduler runs the tasks of one file.
type Scheduler struct {
	provider provider.Provider
	ledger   ledger.Ledger
	journal  *journal.Journal

	concurrency  int64
	retry        config.RetryConfig
	blockOnLimit bool

	// sleep and now are injectable for deterministic tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithSleep substitutes the backoff sleeper.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) {
		s.sleep = sleep
	}
}

// WithClock substitutes the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func New(
	prov provider.Provider,
	led ledger.Ledger,
	jrnl *journal.Journal,
	concurrency int,
	retry config.RetryConfig,
	blockOnLimit bool,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		provider:     prov,
		ledger:       led,
		journal:      jrnl,
		concurrency:  int64(concurrency),
		retry:        retry,
		blockOnLimit: blockOnLimit,
		sleep:        sleepCtx,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run dispatches all tasks and returns the number of chunks that failed.
// A non-nil error means the run itself was aborted (cancellation, journal
// I/O, or a non-blocking token-limit stop); chunk-level failures are recorded
// in the journal and never abort sibling chunks.
func (s *Scheduler) Run(ctx context.Context, tasks []Task) (failed int, err error) {
	sem := semaphore.NewWeighted(s.concurrency)
	g, ctx := errgroup.WithContext(ctx)

	failures := make(chan string, len(tasks))

	for _, task := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		g.Go(func() error {
			defer sem.Release(1)

			if err := s.runTask(ctx, task); err != nil {
				if isAbort(err) {
					return err
				}
				failures <- task.CustomID
			}
			return nil
		})
	}

	err = g.Wait()
	close(failures)
	for range failures {
		failed++
	}

	return failed, err
}

// isAbort reports whether an error must stop the whole run rather than fail
// one chunk.
func isAbort(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ledger.ErrLimitReached) ||
		errors.Is(err, ledger.ErrBudgetExceeded)
}

// runTask executes the per-request lifecycle: reserve, invoke with retries,
// commit, journal.
func (s *Scheduler) runTask(ctx context.Context, task Task) error {
	if err := s.reserve(ctx, task.EstimatedTokens); err != nil {
		return err
	}

	resp, attempts, invokeErr := s.invokeWithRetry(ctx, task)

	if invokeErr != nil {
		// Release the reservation; nothing was consumed on a hard failure.
		if cerr := s.ledger.Commit(task.EstimatedTokens, 0); cerr != nil {
			slog.Warn("Failed to release ledger reservation", "error", cerr)
		}

		if isAbort(invokeErr) {
			return invokeErr
		}

		slog.Error("Chunk failed",
			"custom_id", task.CustomID,
			"kind", model.KindOf(invokeErr).String(),
			"attempts", attempts,
			"error", invokeErr)

		if jerr := s.journal.AppendChunk(journal.ChunkRecord{
			CustomID:   task.CustomID,
			ChunkIndex: task.ChunkIndex,
			Error:      invokeErr.Error(),
			ErrorKind:  model.KindOf(invokeErr).String(),
			Attempts:   attempts,
		}); jerr != nil {
			return jerr
		}

		return invokeErr
	}

	if cerr := s.ledger.Commit(task.EstimatedTokens, resp.Usage.Total()); cerr != nil {
		slog.Warn("Failed to commit ledger usage", "error", cerr)
	}

	return s.journal.AppendChunk(journal.ChunkRecord{
		CustomID:   task.CustomID,
		ChunkIndex: task.ChunkIndex,
		OutputText: resp.Text,
		Usage:      &resp.Usage,
		Model:      resp.Model,
		Attempts:   attempts,
	})
}

// reserve claims tokens against the daily budget, blocking until the next
// local midnight when the policy allows it.
func (s *Scheduler) reserve(ctx context.Context, estimated int64) error {
	for {
		ok, waitUntil, err := s.ledger.Reserve(ctx, estimated)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if err := ledger.Wait(ctx, waitUntil, s.blockOnLimit, s.now); err != nil {
			return err
		}
	}
}

// invokeWithRetry is the explicit retry loop: exponential backoff between
// wait_min and wait_max plus uniform jitter, transient errors only.
func (s *Scheduler) invokeWithRetry(ctx context.Context, task Task) (*model.Response, int, error) {
	var lastErr error

	wait := s.retry.WaitMin.Std()
	for attempt := 1; attempt <= s.retry.Attempts; attempt++ {
		reqCtx := ctx
		var cancel context.CancelFunc
		if timeout := s.retry.RequestTimeout.Std(); timeout > 0 {
			reqCtx, cancel = context.WithTimeout(ctx, timeout)
		}

		resp, err := s.provider.Invoke(reqCtx, task.Req)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return resp, attempt, nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}
		if !model.IsTransient(err) {
			return nil, attempt, err
		}
		if attempt == s.retry.Attempts {
			break
		}

		delay := wait
		if jitterMax := s.retry.JitterMax.Std(); jitterMax > 0 {
			delay += time.Duration(rand.Int63n(int64(jitterMax)))
		}

		slog.Debug("Retrying after transient error",
			"custom_id", task.CustomID,
			"attempt", attempt,
			"delay", delay,
			"error", err)

		if err := s.sleep(ctx, delay); err != nil {
			return nil, attempt, err
		}

		wait *= 2
		if max := s.retry.WaitMax.Std(); wait > max {
			wait = max
		}
	}

	return nil, s.retry.Attempts, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
