// Package refine aligns chunk boundaries with semantic markers. Each internal
// boundary is driven through a small state machine with explicit budgets for
// context expansion and low-certainty retries; exhausted budgets keep the
// original boundary.
package refine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chronominer/chronominer/pkg/chunker"
	"github.com/chronominer/chronominer/pkg/config"
)

// Verdict is the structured response expected from the boundary oracle.
type Verdict struct {
	ContainsNoSemanticBoundary bool   `json:"contains_no_semantic_boundary"`
	NeedsMoreContext           bool   `json:"needs_more_context"`
	SemanticMarker             string `json:"semantic_marker,omitempty"`
	// Certainty is the model's confidence in 0..100.
	Certainty int `json:"certainty"`
}

// Oracle judges candidate boundaries and probes ranges for schema-relevant
// content. Implemented by the LLM-backed oracle; tests use fakes.
type Oracle interface {
	Judge(ctx context.Context, window string) (Verdict, error)
	Relevant(ctx context.Context, window string) (bool, error)
}

// ChangeKind describes what happened to one boundary.
type ChangeKind string

const (
	ChangeShift  ChangeKind = "shift"
	ChangeDelete ChangeKind = "delete"
)

// Change records one boundary adjustment, for dry-run output and logs.
type Change struct {
	Kind       ChangeKind
	ChunkIndex int
	OldStart   int
	NewStart   int
}

func (c Change) String() string {
	if c.Kind == ChangeDelete {
		return fmt.Sprintf("chunk %d: range deleted (merged into next)", c.ChunkIndex)
	}
	return fmt.Sprintf("chunk %d: start %d -> %d", c.ChunkIndex, c.OldStart, c.NewStart)
}

// Refiner adjusts chunk starts to semantic markers.
type Refiner struct {
	oracle Oracle
	cfg    config.RefineConfig
}

func New(oracle Oracle, cfg config.RefineConfig) *Refiner {
	return &Refiner{oracle: oracle, cfg: cfg}
}

// Refine processes every internal boundary in order and returns the adjusted
// chunks plus the changes applied. Running it twice with the same model
// converges: boundaries already on a marker are confirmed, not moved.
func (r *Refiner) Refine(ctx context.Context, lines []string, chunks []chunker.Chunk) ([]chunker.Chunk, []Change, error) {
	if len(chunks) < 2 {
		return chunks, nil, nil
	}

	out := make([]chunker.Chunk, len(chunks))
	copy(out, chunks)

	var changes []Change

	// Boundaries are visited by chunk position; deletions shrink the slice,
	// so the loop re-reads len(out).
	for i := 1; i < len(out); i++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		change, err := r.refineBoundary(ctx, lines, out, i)
		if err != nil {
			return nil, nil, err
		}
		if change == nil {
			continue
		}

		changes = append(changes, *change)

		switch change.Kind {
		case ChangeShift:
			out[i].LineStart = change.NewStart
			out[i-1].LineEnd = change.NewStart - 1
		case ChangeDelete:
			// The following chunk absorbs the deleted range so coverage is
			// preserved. The last chunk is never deleted.
			out[i+1].LineStart = out[i].LineStart
			out = append(out[:i], out[i+1:]...)
			i--
		}

		rematerialize(lines, out)
	}

	renumber(out)
	rematerialize(lines, out)

	return out, changes, nil
}

// refineBoundary runs the per-boundary state machine for the start of
// out[i]. Returns nil when the original boundary is kept.
func (r *Refiner) refineBoundary(ctx context.Context, lines []string, out []chunker.Chunk, i int) (*Change, error) {
	boundary := out[i].LineStart
	window := r.cfg.ContextWindow
	expansions := 0
	lowCertainty := 0

	for {
		text, lo := windowAround(lines, boundary, window)

		verdict, err := r.oracle.Judge(ctx, text)
		if err != nil {
			slog.Warn("Boundary oracle failed, keeping original boundary",
				"chunk_index", out[i].Index, "boundary", boundary, "error", err)
			return nil, nil
		}

		switch {
		case verdict.NeedsMoreContext:
			if expansions >= r.cfg.MaxContextExpansions {
				return nil, nil
			}
			expansions++
			window *= 2
			continue

		case verdict.Certainty < r.cfg.CertaintyThreshold:
			if lowCertainty >= r.cfg.MaxLowCertaintyRetries {
				return nil, nil
			}
			lowCertainty++
			window *= 2
			continue

		case verdict.ContainsNoSemanticBoundary:
			return r.maybeDelete(ctx, lines, out, i)

		case verdict.SemanticMarker != "":
			newStart, ok := locateMarker(lines, lo, verdict.SemanticMarker, boundary, window)
			if !ok {
				// The marker the model reported is not in the window; treat
				// it as a low-certainty answer.
				if lowCertainty >= r.cfg.MaxLowCertaintyRetries {
					return nil, nil
				}
				lowCertainty++
				window *= 2
				continue
			}

			newStart = clampBoundary(newStart, out, i, len(lines))
			if newStart == boundary {
				return nil, nil
			}

			return &Change{
				Kind:       ChangeShift,
				ChunkIndex: out[i].Index,
				OldStart:   boundary,
				NewStart:   newStart,
			}, nil

		default:
			return nil, nil
		}
	}
}

// maybeDelete verifies an allegedly empty range before merging it away: the
// surrounding scan must find no schema-relevant content.
func (r *Refiner) maybeDelete(ctx context.Context, lines []string, out []chunker.Chunk, i int) (*Change, error) {
	if i == len(out)-1 {
		// Deleting the last chunk would drop the file tail.
		return nil, nil
	}

	scan := r.cfg.ScanMultiplier * r.cfg.ContextWindow
	for _, probe := range []struct{ from, to int }{
		{out[i].LineStart - scan, out[i].LineStart - 1},
		{out[i].LineStart, out[i].LineStart + scan - 1},
	} {
		text := sliceLines(lines, probe.from, probe.to)
		if text == "" {
			continue
		}

		relevant, err := r.oracle.Relevant(ctx, text)
		if err != nil {
			slog.Warn("Relevance probe failed, keeping range", "chunk_index", out[i].Index, "error", err)
			return nil, nil
		}
		if relevant {
			return nil, nil
		}
	}

	return &Change{
		Kind:       ChangeDelete,
		ChunkIndex: out[i].Index,
		OldStart:   out[i].LineStart,
	}, nil
}

// windowAround extracts w lines before and after the 1-based boundary line.
// Returns the text and the 1-based number of its first line.
func windowAround(lines []string, boundary, w int) (string, int) {
	lo := boundary - w
	if lo < 1 {
		lo = 1
	}
	hi := boundary + w
	if hi > len(lines) {
		hi = len(lines)
	}
	return strings.Join(lines[lo-1:hi], "\n"), lo
}

// locateMarker finds the first line inside the window containing marker as an
// exact substring. Returns the absolute 1-based line number.
func locateMarker(lines []string, lo int, marker string, boundary, w int) (int, bool) {
	hi := boundary + w
	if hi > len(lines) {
		hi = len(lines)
	}

	for n := lo; n <= hi; n++ {
		if strings.Contains(lines[n-1], marker) {
			return n, true
		}
	}
	return 0, false
}

// clampBoundary keeps a shifted start strictly between the neighbouring
// chunk starts.
func clampBoundary(newStart int, out []chunker.Chunk, i, lineCount int) int {
	min := out[i-1].LineStart + 1
	max := lineCount
	if i+1 < len(out) {
		max = out[i+1].LineStart - 1
	}

	if newStart < min {
		return min
	}
	if newStart > max {
		return max
	}
	return newStart
}

func sliceLines(lines []string, from, to int) string {
	if from < 1 {
		from = 1
	}
	if to > len(lines) {
		to = len(lines)
	}
	if from > to {
		return ""
	}
	return strings.Join(lines[from-1:to], "\n")
}

func renumber(chunks []chunker.Chunk) {
	for i := range chunks {
		chunks[i].Index = i + 1
	}
}

// rematerialize refreshes chunk text after boundary moves.
func rematerialize(lines []string, chunks []chunker.Chunk) {
	for i := range chunks {
		chunks[i].Text = sliceLines(lines, chunks[i].LineStart, chunks[i].LineEnd)
	}
}
