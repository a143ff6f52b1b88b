// Package ledger enforces a persistent daily token budget. Usage accumulates
// in a JSON state file and resets at local midnight; callers that would exceed
// the cap are told when to come back.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/natefinch/atomic"
)

// StateFileName is the process-wide ledger file, kept under the output root.
const StateFileName = ".chronominer_token_state.json"

// ErrLimitReached is returned by Wait when blocking is disabled.
var ErrLimitReached = errors.New("daily token limit reached")

// ErrBudgetExceeded is returned by Reserve when a single estimate is larger
// than the whole daily cap. Waiting for a reset cannot make such a request
// admissible, so callers must fail instead of retrying.
var ErrBudgetExceeded = errors.New("estimated tokens exceed the daily limit")

// Ledger tracks cumulative token usage per local calendar day.
type Ledger interface {
	// Reserve attempts to claim estimated tokens against today's budget.
	// When the budget is exhausted it returns ok=false and the next local
	// midnight as the time the caller may retry.
	Reserve(ctx context.Context, estimated int64) (ok bool, waitUntil time.Time, err error)
	// Commit replaces a prior reservation with the actual usage.
	Commit(reserved, actual int64) error
	// Usage reports the current counter, the cap, and the day it covers.
	Usage() (used, limit int64, day string, err error)
}

type state struct {
	DateLocal   string    `json:"date_local"`
	TokensUsed  int64     `json:"tokens_used"`
	Limit       int64     `json:"limit"`
	LastUpdated time.Time `json:"last_updated"`
}

// FileLedger persists usage through atomic renames of a JSON file.
// All mutations are serialized by one mutex; multi-process coordination is out
// of scope (single-writer assumption).
type FileLedger struct {
	mu    sync.Mutex
	path  string
	limit int64
	now   func() time.Time
}

// Option customizes a FileLedger.
type Option func(*FileLedger)

// WithClock substitutes the wall clock, used by tests to cross midnight.
func WithClock(now func() time.Time) Option {
	return func(l *FileLedger) {
		l.now = now
	}
}

func New(path string, limit int64, opts ...Option) *FileLedger {
	l := &FileLedger{
		path:  path,
		limit: limit,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *FileLedger) Reserve(_ context.Context, estimated int64) (bool, time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load()
	if err != nil {
		return false, time.Time{}, err
	}

	if estimated > l.limit {
		return false, time.Time{}, fmt.Errorf("%w: estimated %d, limit %d", ErrBudgetExceeded, estimated, l.limit)
	}

	if st.TokensUsed+estimated > l.limit {
		next := nextMidnight(l.now())
		slog.Info("Daily token limit would be exceeded",
			"used", st.TokensUsed,
			"estimated", estimated,
			"limit", l.limit,
			"reset_at", next)
		return false, next, nil
	}

	st.TokensUsed += estimated
	if err := l.store(st); err != nil {
		return false, time.Time{}, err
	}

	return true, time.Time{}, nil
}

func (l *FileLedger) Commit(reserved, actual int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load()
	if err != nil {
		return err
	}

	// The reservation may have been wiped by a midnight reset between Reserve
	// and Commit; never let the counter go negative.
	st.TokensUsed -= reserved
	if st.TokensUsed < 0 {
		st.TokensUsed = 0
	}
	st.TokensUsed += actual

	return l.store(st)
}

func (l *FileLedger) Usage() (int64, int64, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.load()
	if err != nil {
		return 0, 0, "", err
	}

	return st.TokensUsed, l.limit, st.DateLocal, nil
}

// load reads the persisted state, zeroing the counter when the persisted day
// differs from today.
func (l *FileLedger) load() (state, error) {
	today := l.now().Format(time.DateOnly)

	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return state{DateLocal: today, Limit: l.limit}, nil
	}
	if err != nil {
		return state{}, fmt.Errorf("reading token state: %w", err)
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		slog.Warn("Token state file is corrupt, resetting", "path", l.path, "error", err)
		return state{DateLocal: today, Limit: l.limit}, nil
	}

	if st.DateLocal != today {
		slog.Info("New local day, resetting token counter", "previous", st.DateLocal, "today", today)
		return state{DateLocal: today, Limit: l.limit}, nil
	}

	st.Limit = l.limit
	return st, nil
}

func (l *FileLedger) store(st state) error {
	st.LastUpdated = l.now()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	if err := atomic.WriteFile(l.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing token state: %w", err)
	}

	return nil
}

func nextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

// Wait blocks until waitUntil or until ctx is cancelled. When block is false
// it returns ErrLimitReached immediately.
func Wait(ctx context.Context, waitUntil time.Time, block bool, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}

	if !block {
		return fmt.Errorf("%w: resets at %s", ErrLimitReached, waitUntil.Format(time.RFC3339))
	}

	delay := waitUntil.Sub(now())
	if delay <= 0 {
		return nil
	}

	slog.Info("Blocking until daily token reset", "resume_at", waitUntil)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Disabled is the no-op ledger used when enforcement is off.
type Disabled struct{}

func (Disabled) Reserve(context.Context, int64) (bool, time.Time, error) {
	return true, time.Time{}, nil
}

func (Disabled) Commit(int64, int64) error { return nil }

func (Disabled) Usage() (int64, int64, string, error) {
	return 0, 0, "", nil
}
