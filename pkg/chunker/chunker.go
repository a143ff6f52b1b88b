// Package chunker partitions a text file into token-bounded line ranges.
package chunker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingLineRanges is returned when the line_ranges strategy finds no
// co-located range file (or an empty one).
var ErrMissingLineRanges = errors.New("line ranges file is missing")

// Chunk is a contiguous line range of a source file treated as one request
// unit. Lines are 1-based and inclusive on both ends.
type Chunk struct {
	Index     int
	LineStart int
	LineEnd   int
	Text      string
}

// TokenCounter is satisfied by tokens.Counter.
type TokenCounter interface {
	Count(text, model string) int
}

// Chunker produces chunks for one file under a token budget.
type Chunker struct {
	counter        TokenCounter
	model          string
	tokensPerChunk int
}

func New(counter TokenCounter, model string, tokensPerChunk int) *Chunker {
	return &Chunker{
		counter:        counter,
		model:          model,
		tokensPerChunk: tokensPerChunk,
	}
}

// SplitLines splits text into lines without dropping a trailing empty line
// produced by a final newline.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Auto greedily extends each chunk line by line until adding the next line
// would exceed the token budget. A line is never split: a single over-budget
// line still becomes (part of) a chunk.
func (c *Chunker) Auto(lines []string) []Chunk {
	if len(lines) == 0 {
		return nil
	}

	var chunks []Chunk
	start := 0
	budget := 0

	for i, line := range lines {
		lineTokens := c.counter.Count(line+"\n", c.model)

		if i > start && budget+lineTokens > c.tokensPerChunk {
			chunks = append(chunks, c.makeChunk(len(chunks)+1, lines, start, i-1))
			start = i
			budget = 0
		}

		budget += lineTokens
	}

	chunks = append(chunks, c.makeChunk(len(chunks)+1, lines, start, len(lines)-1))
	return chunks
}

// FromRanges materializes chunks from validated line ranges.
func (c *Chunker) FromRanges(lines []string, ranges []Range) ([]Chunk, error) {
	if err := ValidateRanges(ranges, len(lines)); err != nil {
		return nil, err
	}

	chunks := make([]Chunk, 0, len(ranges))
	for i, r := range ranges {
		chunks = append(chunks, c.makeChunk(i+1, lines, r.Start-1, r.End-1))
	}
	return chunks, nil
}

func (c *Chunker) makeChunk(index int, lines []string, start, end int) Chunk {
	return Chunk{
		Index:     index,
		LineStart: start + 1,
		LineEnd:   end + 1,
		Text:      strings.Join(lines[start:end+1], "\n"),
	}
}

// Ranges extracts the line ranges covered by chunks.
func Ranges(chunks []Chunk) []Range {
	ranges := make([]Range, 0, len(chunks))
	for _, ch := range chunks {
		ranges = append(ranges, Range{Start: ch.LineStart, End: ch.LineEnd})
	}
	return ranges
}

// ValidateRanges checks ordering, bounds, and overlap.
func ValidateRanges(ranges []Range, lineCount int) error {
	prevEnd := 0
	for i, r := range ranges {
		if r.Start < 1 || r.End < r.Start {
			return fmt.Errorf("range %d: invalid pair %d-%d", i+1, r.Start, r.End)
		}
		if r.End > lineCount {
			return fmt.Errorf("range %d: end %d exceeds line count %d", i+1, r.End, lineCount)
		}
		if r.Start <= prevEnd {
			return fmt.Errorf("range %d: %d-%d overlaps previous range ending at %d", i+1, r.Start, r.End, prevEnd)
		}
		prevEnd = r.End
	}
	return nil
}
