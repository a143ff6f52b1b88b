package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronominer/chronominer/pkg/config"
	"github.com/chronominer/chronominer/pkg/journal"
	"github.com/chronominer/chronominer/pkg/ledger"
	"github.com/chronominer/chronominer/pkg/model"
)

// scriptedProvider returns canned outcomes per custom ID prompt, counting
// attempts.
type scriptedProvider struct {
	mu       sync.Mutex
	attempts map[string]int
	// script maps prompt -> errors to return before succeeding. A nil entry
	// succeeds immediately; a model.Error with a non-transient kind fails for
	// good.
	script map[string][]error
}

func (p *scriptedProvider) Invoke(_ context.Context, req model.Request) (*model.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.attempts == nil {
		p.attempts = map[string]int{}
	}
	p.attempts[req.Prompt]++

	pending := p.script[req.Prompt]
	if len(pending) > 0 {
		err := pending[0]
		p.script[req.Prompt] = pending[1:]
		return nil, err
	}

	return &model.Response{
		Text:  `{"ok":true}`,
		Usage: model.Usage{Input: 10, Output: 5},
		Model: "test-model",
	}, nil
}

func (p *scriptedProvider) ID() string { return "test/test-model" }

func (p *scriptedProvider) attemptsFor(prompt string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts[prompt]
}

func noSleep(context.Context, time.Duration) error { return nil }

func testRetry() config.RetryConfig {
	return config.RetryConfig{
		Attempts: 3,
		WaitMin:  config.Duration(time.Millisecond),
		WaitMax:  config.Duration(time.Millisecond),
	}
}

func newTestJournal(t *testing.T, chunkCount int) (*journal.Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test_temporary.jsonl")
	j, err := journal.Create(path, journal.Meta{RunID: "run-1", ChunkCount: chunkCount})
	require.NoError(t, err)
	return j, path
}

func task(id string, index int) Task {
	return Task{
		CustomID:        id,
		ChunkIndex:      index,
		Req:             model.Request{Prompt: id},
		EstimatedTokens: 100,
	}
}

func TestRunTransientThenSuccess(t *testing.T) {
	j, path := newTestJournal(t, 1)
	defer j.Close()

	prov := &scriptedProvider{script: map[string][]error{
		"f-chunk-1": {
			model.NewError(model.KindTransient, 429, "rate limited", nil),
			model.NewError(model.KindTransient, 500, "server error", nil),
		},
	}}

	s := New(prov, ledger.Disabled{}, j, 2, testRetry(), true, WithSleep(noSleep))

	failed, err := s.Run(t.Context(), []Task{task("f-chunk-1", 1)})
	require.NoError(t, err)
	assert.Equal(t, 0, failed)
	assert.Equal(t, 3, prov.attemptsFor("f-chunk-1"))

	contents, err := journal.Read(path)
	require.NoError(t, err)
	rec := contents.Chunks["f-chunk-1"]
	assert.Equal(t, `{"ok":true}`, rec.OutputText)
	assert.Equal(t, 3, rec.Attempts)
}

func TestRunPermanentNoRetry(t *testing.T) {
	j, path := newTestJournal(t, 1)
	defer j.Close()

	prov := &scriptedProvider{script: map[string][]error{
		"f-chunk-1": {
			model.NewError(model.KindPermanent, 400, "bad request", nil),
			model.NewError(model.KindPermanent, 400, "bad request", nil),
		},
	}}

	s := New(prov, ledger.Disabled{}, j, 2, testRetry(), true, WithSleep(noSleep))

	failed, err := s.Run(t.Context(), []Task{task("f-chunk-1", 1)})
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, prov.attemptsFor("f-chunk-1"))

	contents, err := journal.Read(path)
	require.NoError(t, err)
	rec := contents.Chunks["f-chunk-1"]
	assert.Contains(t, rec.Error, "bad request")
	assert.Equal(t, "permanent", rec.ErrorKind)
}

func TestRunFailureDoesNotAbortSiblings(t *testing.T) {
	j, path := newTestJournal(t, 3)
	defer j.Close()

	prov := &scriptedProvider{script: map[string][]error{
		"f-chunk-2": {
			model.NewError(model.KindTransient, 500, "down", nil),
			model.NewError(model.KindTransient, 500, "down", nil),
			model.NewError(model.KindTransient, 500, "down", nil),
		},
	}}

	s := New(prov, ledger.Disabled{}, j, 2, testRetry(), true, WithSleep(noSleep))

	failed, err := s.Run(t.Context(), []Task{
		task("f-chunk-1", 1),
		task("f-chunk-2", 2),
		task("f-chunk-3", 3),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	contents, err := journal.Read(path)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, contents.Chunks["f-chunk-1"].OutputText)
	assert.NotEmpty(t, contents.Chunks["f-chunk-2"].Error)
	assert.Equal(t, `{"ok":true}`, contents.Chunks["f-chunk-3"].OutputText)
}

func TestRunStopsOnLimitWhenNotBlocking(t *testing.T) {
	j, _ := newTestJournal(t, 2)
	defer j.Close()

	led := ledger.New(filepath.Join(t.TempDir(), ledger.StateFileName), 110)
	prov := &scriptedProvider{}

	// Each task reserves 100 tokens against a 110 budget. The first commits
	// 15 actual tokens, so the second reservation would exceed the cap;
	// blocking is off, so the run aborts instead of waiting for midnight.
	s := New(prov, led, j, 1, testRetry(), false, WithSleep(noSleep))

	_, err := s.Run(t.Context(), []Task{
		task("f-chunk-1", 1),
		task("f-chunk-2", 2),
	})
	assert.ErrorIs(t, err, ledger.ErrLimitReached)
}

func TestRunStopsOnImpossibleEstimate(t *testing.T) {
	j, _ := newTestJournal(t, 1)
	defer j.Close()

	led := ledger.New(filepath.Join(t.TempDir(), ledger.StateFileName), 50)
	prov := &scriptedProvider{}

	// The estimate is larger than the whole daily cap. Even with blocking
	// enabled the run must abort rather than wait for a reset that cannot
	// help.
	s := New(prov, led, j, 1, testRetry(), true, WithSleep(noSleep))

	_, err := s.Run(t.Context(), []Task{task("f-chunk-1", 1)})
	assert.ErrorIs(t, err, ledger.ErrBudgetExceeded)
	assert.Equal(t, 0, prov.attemptsFor("f-chunk-1"))
}

func TestRunCommitsActualUsage(t *testing.T) {
	j, _ := newTestJournal(t, 1)
	defer j.Close()

	led := ledger.New(filepath.Join(t.TempDir(), ledger.StateFileName), 1000)
	prov := &scriptedProvider{}

	s := New(prov, led, j, 1, testRetry(), true, WithSleep(noSleep))

	failed, err := s.Run(t.Context(), []Task{task("f-chunk-1", 1)})
	require.NoError(t, err)
	require.Equal(t, 0, failed)

	// The 100-token reservation is replaced by the actual 15 tokens.
	used, _, _, err := led.Usage()
	require.NoError(t, err)
	assert.Equal(t, int64(15), used)
}

func TestRunCancelled(t *testing.T) {
	j, _ := newTestJournal(t, 1)
	defer j.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	prov := &scriptedProvider{}
	s := New(prov, ledger.Disabled{}, j, 1, testRetry(), true, WithSleep(noSleep))

	_, err := s.Run(ctx, []Task{task("f-chunk-1", 1)})
	// The semaphore acquire fails under a cancelled context; no chunk ran.
	require.NoError(t, err)
	assert.Equal(t, 0, prov.attemptsFor("f-chunk-1"))
}
