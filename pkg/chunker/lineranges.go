package chunker

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Range is one start-end pair from a line ranges file (1-based, inclusive).
type Range struct {
	Start int
	End   int
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// LineRangesPath returns the range file co-located with a source file,
// e.g. notes.txt -> notes_line_ranges.txt.
func LineRangesPath(sourcePath string) string {
	stem := strings.TrimSuffix(sourcePath, filepath.Ext(sourcePath))
	return stem + "_line_ranges.txt"
}

// ReadLineRanges parses a line ranges file. A missing or empty file yields
// ErrMissingLineRanges so callers can fall back or fail per strategy.
func ReadLineRanges(path string) ([]Range, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingLineRanges, path)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var ranges []Range
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		r, err := parseRange(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		ranges = append(ranges, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(ranges) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrMissingLineRanges, path)
	}

	return ranges, nil
}

func parseRange(line string) (Range, error) {
	start, end, ok := strings.Cut(line, "-")
	if !ok {
		return Range{}, fmt.Errorf("expected start-end pair, got %q", line)
	}

	s, err := strconv.Atoi(strings.TrimSpace(start))
	if err != nil {
		return Range{}, fmt.Errorf("invalid start in %q: %w", line, err)
	}
	e, err := strconv.Atoi(strings.TrimSpace(end))
	if err != nil {
		return Range{}, fmt.Errorf("invalid end in %q: %w", line, err)
	}

	return Range{Start: s, End: e}, nil
}

// WriteLineRanges persists ranges in the human-editable start-end format.
func WriteLineRanges(path string, ranges []Range) error {
	var sb strings.Builder
	for _, r := range ranges {
		sb.WriteString(r.String())
		sb.WriteByte('\n')
	}

	return os.WriteFile(path, []byte(sb.String()), 0o644)
}
