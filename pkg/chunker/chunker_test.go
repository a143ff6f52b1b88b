package chunker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

// wordCounter counts whitespace-separated words, one token each.
type wordCounter struct{}

func (wordCounter) Count(text, _ string) int {
	return len(strings.Fields(text))
}

func TestSplitLines(t *testing.T) {
	assert.Nil(t, SplitLines(""))
	assert.Equal(t, []string{"a", "b"}, SplitLines("a\nb"))
	assert.Equal(t, []string{"a", "b"}, SplitLines("a\nb\n"))
	assert.Equal(t, []string{"a", "", "b"}, SplitLines("a\n\nb\n"))
}

func TestAutoRespectsBudget(t *testing.T) {
	ck := New(wordCounter{}, "test-model", 4)

	lines := []string{
		"one two",   // 2 tokens
		"three",     // 1 token
		"four five", // 2 tokens, would overflow chunk 1
		"six",
	}

	chunks := ck.Auto(lines)
	require.Len(t, chunks, 2)

	assert.Equal(t, 1, chunks[0].Index)
	assert.Equal(t, 1, chunks[0].LineStart)
	assert.Equal(t, 2, chunks[0].LineEnd)
	assert.Equal(t, "one two\nthree", chunks[0].Text)

	assert.Equal(t, 2, chunks[1].Index)
	assert.Equal(t, 3, chunks[1].LineStart)
	assert.Equal(t, 4, chunks[1].LineEnd)
}

func TestAutoNeverSplitsALine(t *testing.T) {
	ck := New(wordCounter{}, "test-model", 2)

	// A single line over budget still becomes one chunk.
	chunks := ck.Auto([]string{"one two three four five"})
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].LineStart)
	assert.Equal(t, 1, chunks[0].LineEnd)
}

func TestAutoExactBudgetSingleChunk(t *testing.T) {
	ck := New(wordCounter{}, "test-model", 4)

	chunks := ck.Auto([]string{"one two", "three four"})
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].LineStart)
	assert.Equal(t, 2, chunks[0].LineEnd)
}

func TestAutoEmpty(t *testing.T) {
	ck := New(wordCounter{}, "test-model", 4)
	assert.Nil(t, ck.Auto(nil))
}

func TestFromRanges(t *testing.T) {
	ck := New(wordCounter{}, "test-model", 100)
	lines := []string{"a", "b", "c", "d", "e"}

	chunks, err := ck.FromRanges(lines, []Range{{1, 2}, {3, 5}})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "a\nb", chunks[0].Text)
	assert.Equal(t, "c\nd\ne", chunks[1].Text)
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name    string
		ranges  []Range
		lines   int
		wantErr string
	}{
		{"valid", []Range{{1, 3}, {4, 10}}, 10, ""},
		{"gap is legal", []Range{{1, 3}, {7, 10}}, 10, ""},
		{"inverted pair", []Range{{5, 3}}, 10, "invalid pair"},
		{"zero start", []Range{{0, 3}}, 10, "invalid pair"},
		{"beyond file", []Range{{1, 11}}, 10, "exceeds line count"},
		{"overlap", []Range{{1, 5}, {5, 10}}, 10, "overlaps"},
		{"out of order", []Range{{4, 6}, {1, 3}}, 10, "overlaps"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRanges(tt.ranges, tt.lines)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestLineRangesPath(t *testing.T) {
	assert.Equal(t, filepath.Join("dir", "notes_line_ranges.txt"), LineRangesPath(filepath.Join("dir", "notes.txt")))
}

func TestLineRangesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranges.txt")
	want := []Range{{1, 100}, {101, 250}}

	require.NoError(t, WriteLineRanges(path, want))

	got, err := ReadLineRanges(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadLineRangesSkipsCommentsAndBlanks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranges.txt")
	content := "# header\n\n1-10\n  11-20  \n"
	require.NoError(t, writeFile(path, content))

	got, err := ReadLineRanges(path)
	require.NoError(t, err)
	assert.Equal(t, []Range{{1, 10}, {11, 20}}, got)
}

func TestReadLineRangesMissing(t *testing.T) {
	_, err := ReadLineRanges(filepath.Join(t.TempDir(), "absent.txt"))
	assert.ErrorIs(t, err, ErrMissingLineRanges)
}

func TestReadLineRangesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranges.txt")
	require.NoError(t, writeFile(path, "# only comments\n"))

	_, err := ReadLineRanges(path)
	assert.ErrorIs(t, err, ErrMissingLineRanges)
}

func TestReadLineRangesMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranges.txt")
	require.NoError(t, writeFile(path, "1..10\n"))

	_, err := ReadLineRanges(path)
	assert.ErrorContains(t, err, "expected start-end pair")
}
