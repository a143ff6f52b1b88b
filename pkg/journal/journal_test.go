package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronominer/chronominer/pkg/model"
)

func TestPath(t *testing.T) {
	got := Path("out", filepath.Join("sources", "1850_diary.txt"))
	assert.Equal(t, filepath.Join("out", "1850_diary_temporary.jsonl"), got)
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diary_temporary.jsonl")

	j, err := Create(path, Meta{
		RunID:      "run-1",
		SourceFile: "diary.txt",
		Schema:     "diary_entries",
		Model:      "gpt-5",
		ChunkCount: 2,
		CreatedAt:  time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, j.AppendChunk(ChunkRecord{
		CustomID:   "diary-chunk-1",
		ChunkIndex: 1,
		OutputText: `{"entries":[]}`,
		Usage:      &model.Usage{Input: 100, Output: 20},
		Model:      "gpt-5",
		Attempts:   1,
	}))
	require.NoError(t, j.AppendBatch(BatchRecord{
		BatchID:    "batch-1",
		Provider:   "openai",
		ChunkCount: 2,
		Status:     "in_progress",
		SourceFile: "diary.txt",
	}))
	require.NoError(t, j.Close())

	contents, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, "diary_entries", contents.Meta.Schema)
	assert.Equal(t, 2, contents.Meta.ChunkCount)

	require.Contains(t, contents.Chunks, "diary-chunk-1")
	chunk := contents.Chunks["diary-chunk-1"]
	assert.Equal(t, `{"entries":[]}`, chunk.OutputText)
	assert.Equal(t, int64(100), chunk.Usage.Input)

	require.Contains(t, contents.Batches, "batch-1")
	assert.Equal(t, "in_progress", contents.Batches["batch-1"].Status)
}

func TestDuplicateRecordsLastWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diary_temporary.jsonl")

	j, err := Create(path, Meta{RunID: "run-1", ChunkCount: 1})
	require.NoError(t, err)

	require.NoError(t, j.AppendChunk(ChunkRecord{
		CustomID:   "diary-chunk-1",
		ChunkIndex: 1,
		Error:      "transient error: timeout",
		ErrorKind:  "transient",
	}))
	require.NoError(t, j.AppendChunk(ChunkRecord{
		CustomID:   "diary-chunk-1",
		ChunkIndex: 1,
		OutputText: `{"ok":true}`,
	}))
	require.NoError(t, j.Close())

	contents, err := Read(path)
	require.NoError(t, err)

	chunk := contents.Chunks["diary-chunk-1"]
	assert.Empty(t, chunk.Error)
	assert.Equal(t, `{"ok":true}`, chunk.OutputText)
}

func TestOpenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diary_temporary.jsonl")

	j, err := Create(path, Meta{RunID: "run-1", ChunkCount: 2})
	require.NoError(t, err)
	require.NoError(t, j.AppendChunk(ChunkRecord{CustomID: "diary-chunk-1", ChunkIndex: 1, OutputText: "{}"}))
	require.NoError(t, j.Close())

	j2, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j2.AppendChunk(ChunkRecord{CustomID: "diary-chunk-2", ChunkIndex: 2, OutputText: "{}"}))
	require.NoError(t, j2.Close())

	contents, err := Read(path)
	require.NoError(t, err)
	assert.Len(t, contents.Chunks, 2)
	assert.Equal(t, "run-1", contents.Meta.RunID)
}

func TestReadRequiresMetaFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad_temporary.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"chunk","custom_id":"x-chunk-1"}`+"\n"), 0o644))

	_, err := Read(path)
	assert.ErrorContains(t, err, "does not start with a meta record")
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, Exists(dir, "diary.txt"))

	j, err := Create(Path(dir, "diary.txt"), Meta{RunID: "run-1"})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.True(t, Exists(dir, "diary.txt"))
}
