package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronominer/chronominer/pkg/journal"
)

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusExpired.Terminal())
	assert.True(t, StatusCancelled.Terminal())

	assert.False(t, StatusValidating.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.False(t, StatusFinalizing.Terminal())
}

func planContents(chunks map[string]journal.ChunkRecord, batches ...journal.BatchRecord) *journal.Contents {
	contents := &journal.Contents{
		Meta:    journal.Meta{SourceFile: "diary.txt", ChunkCount: len(chunks)},
		Chunks:  chunks,
		Batches: map[string]journal.BatchRecord{},
	}
	for _, b := range batches {
		contents.Batches[b.BatchID] = b
	}
	return contents
}

func TestPlanRepairResubmitsMissingChunks(t *testing.T) {
	contents := planContents(map[string]journal.ChunkRecord{
		"diary-chunk-1": {CustomID: "diary-chunk-1", OutputText: "{}"},
	})

	plan := PlanRepair(contents, []string{"diary-chunk-1", "diary-chunk-2"}, false)

	assert.Equal(t, []string{"diary-chunk-2"}, plan.Resubmit)
	assert.Empty(t, plan.SkippedPermanent)
	assert.False(t, plan.Empty())
}

func TestPlanRepairDefersToPendingBatch(t *testing.T) {
	contents := planContents(
		map[string]journal.ChunkRecord{},
		journal.BatchRecord{BatchID: "b1", Status: string(StatusInProgress)},
	)

	plan := PlanRepair(contents, []string{"diary-chunk-1"}, false)

	// A pending batch may still deliver the missing chunk.
	assert.Empty(t, plan.Resubmit)
	require.Len(t, plan.PendingBatches, 1)
	assert.Equal(t, "b1", plan.PendingBatches[0].BatchID)
}

func TestPlanRepairDownloadsCompletedBatch(t *testing.T) {
	contents := planContents(
		map[string]journal.ChunkRecord{},
		journal.BatchRecord{BatchID: "b1", Status: string(StatusCompleted)},
	)

	plan := PlanRepair(contents, nil, false)

	require.Len(t, plan.DownloadBatches, 1)
	assert.Equal(t, "b1", plan.DownloadBatches[0].BatchID)
}

func TestPlanRepairIgnoresDownloadedBatch(t *testing.T) {
	contents := planContents(
		map[string]journal.ChunkRecord{},
		journal.BatchRecord{BatchID: "b1", Status: string(StatusCompleted), Downloaded: true},
	)

	plan := PlanRepair(contents, nil, false)
	assert.True(t, plan.Empty())
}

func TestPlanRepairTransientFailuresAlwaysRequeued(t *testing.T) {
	contents := planContents(map[string]journal.ChunkRecord{
		"diary-chunk-1": {CustomID: "diary-chunk-1", Error: "transient error: timeout", ErrorKind: "transient"},
	})

	plan := PlanRepair(contents, []string{"diary-chunk-1"}, false)
	assert.Equal(t, []string{"diary-chunk-1"}, plan.Resubmit)
}

func TestPlanRepairPermanentNeedsForce(t *testing.T) {
	chunks := map[string]journal.ChunkRecord{
		"diary-chunk-1": {CustomID: "diary-chunk-1", Error: "permanent error: bad request", ErrorKind: "permanent"},
	}

	plan := PlanRepair(planContents(chunks), []string{"diary-chunk-1"}, false)
	assert.Empty(t, plan.Resubmit)
	assert.Equal(t, []string{"diary-chunk-1"}, plan.SkippedPermanent)
	assert.True(t, plan.Empty())

	plan = PlanRepair(planContents(chunks), []string{"diary-chunk-1"}, true)
	assert.Equal(t, []string{"diary-chunk-1"}, plan.Resubmit)
	assert.Empty(t, plan.SkippedPermanent)
}

func TestPlanRepairAnsweredChunksUntouched(t *testing.T) {
	contents := planContents(map[string]journal.ChunkRecord{
		"diary-chunk-1": {CustomID: "diary-chunk-1", OutputText: `{"ok":true}`},
	})

	plan := PlanRepair(contents, []string{"diary-chunk-1"}, true)
	assert.True(t, plan.Empty())
}

func TestJournalPaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"diary" + journal.Suffix,
		"letters" + journal.Suffix,
		"diary.json",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0o644))
	}

	all, err := JournalPaths(dir, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := JournalPaths(dir, []string{"diary"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, filepath.Join(dir, "diary"+journal.Suffix), filtered[0])
}
