package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestReserveAndCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFileName)
	l := New(path, 1000)

	ok, _, err := l.Reserve(t.Context(), 600)
	require.NoError(t, err)
	assert.True(t, ok)

	// Actual usage came in lower than the estimate.
	require.NoError(t, l.Commit(600, 450))

	used, limit, _, err := l.Usage()
	require.NoError(t, err)
	assert.Equal(t, int64(450), used)
	assert.Equal(t, int64(1000), limit)
}

func TestReserveOverLimit(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.Local)
	path := filepath.Join(t.TempDir(), StateFileName)
	l := New(path, 1000, WithClock(fixedClock(now)))

	ok, _, err := l.Reserve(t.Context(), 800)
	require.NoError(t, err)
	require.True(t, ok)

	ok, waitUntil, err := l.Reserve(t.Context(), 300)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.Local), waitUntil)
}

func TestReserveImpossibleEstimate(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFileName)
	l := New(path, 100)

	// Larger than the whole daily cap: no midnight reset can admit it.
	ok, _, err := l.Reserve(t.Context(), 150)
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.False(t, ok)
}

func TestMidnightReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFileName)

	day1 := time.Date(2026, 3, 14, 23, 0, 0, 0, time.Local)
	l := New(path, 1000, WithClock(fixedClock(day1)))

	ok, _, err := l.Reserve(t.Context(), 900)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, l.Commit(900, 900))

	// Same state file, next local day: the counter starts over.
	day2 := day1.Add(2 * time.Hour)
	l2 := New(path, 1000, WithClock(fixedClock(day2)))

	ok, _, err = l2.Reserve(t.Context(), 900)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCorruptStateResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	l := New(path, 1000)
	used, _, _, err := l.Usage()
	require.NoError(t, err)
	assert.Equal(t, int64(0), used)
}

func TestCommitNeverGoesNegative(t *testing.T) {
	path := filepath.Join(t.TempDir(), StateFileName)
	l := New(path, 1000)

	// A reservation wiped by a midnight reset releases into a zero counter.
	require.NoError(t, l.Commit(500, 100))

	used, _, _, err := l.Usage()
	require.NoError(t, err)
	assert.Equal(t, int64(100), used)
}

func TestWaitNonBlocking(t *testing.T) {
	err := Wait(t.Context(), time.Now().Add(time.Hour), false, nil)
	assert.ErrorIs(t, err, ErrLimitReached)
}

func TestWaitPastDeadline(t *testing.T) {
	// waitUntil already passed: returns immediately.
	err := Wait(t.Context(), time.Now().Add(-time.Minute), true, nil)
	assert.NoError(t, err)
}

func TestWaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := Wait(ctx, time.Now().Add(time.Hour), true, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDisabled(t *testing.T) {
	var l Ledger = Disabled{}

	ok, _, err := l.Reserve(t.Context(), 1<<40)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, l.Commit(1, 1))
}
