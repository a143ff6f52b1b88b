// Package aggregate merges per-chunk journal records into the per-file
// dataset, ordered by chunk index with provenance preserved.
package aggregate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chronominer/chronominer/pkg/journal"
	"github.com/chronominer/chronominer/pkg/schema"
)

// Meta is the file-level header of an aggregate.
type Meta struct {
	File        string    `json:"file"`
	Schema      string    `json:"schema"`
	Model       string    `json:"model"`
	ChunkCount  int       `json:"chunk_count"`
	GeneratedAt time.Time `json:"generated_at"`
	// Partial is set when at least one chunk index has no response.
	Partial bool `json:"partial,omitempty"`
}

// ChunkResult is one chunk's contribution, in chunk order.
type ChunkResult struct {
	ChunkIndex int             `json:"chunk_index"`
	CustomID   string          `json:"custom_id"`
	Response   json.RawMessage `json:"response,omitempty"`
	// Error preserves responses that were not parseable structured objects,
	// and provider failures, verbatim.
	Error string `json:"error,omitempty"`
}

// Aggregate is the canonical per-file output.
type Aggregate struct {
	Meta   Meta          `json:"meta"`
	Chunks []ChunkResult `json:"chunks"`
}

// Build computes the aggregate from journal contents. It is a pure function
// of the journal: re-running it over a complete journal reproduces the same
// dataset without provider calls.
func Build(contents *journal.Contents, desc *schema.Descriptor) *Aggregate {
	agg := &Aggregate{
		Meta: Meta{
			File:        contents.Meta.SourceFile,
			Schema:      contents.Meta.Schema,
			Model:       contents.Meta.Model,
			ChunkCount:  contents.Meta.ChunkCount,
			GeneratedAt: time.Now(),
		},
		Chunks: []ChunkResult{},
	}

	for _, rec := range contents.Chunks {
		agg.Chunks = append(agg.Chunks, toResult(rec, desc))
	}

	sort.Slice(agg.Chunks, func(i, j int) bool {
		return agg.Chunks[i].ChunkIndex < agg.Chunks[j].ChunkIndex
	})

	agg.Meta.Partial = markMissing(agg)

	return agg
}

func toResult(rec journal.ChunkRecord, desc *schema.Descriptor) ChunkResult {
	result := ChunkResult{
		ChunkIndex: rec.ChunkIndex,
		CustomID:   rec.CustomID,
	}

	if rec.Error != "" {
		result.Error = rec.Error
		return result
	}

	doc, err := schema.CheckShape(rec.OutputText)
	if err != nil {
		// Preserve the unparseable body verbatim.
		result.Error = fmt.Sprintf("%v: %s", err, rec.OutputText)
		return result
	}

	if desc != nil {
		if err := desc.Validate(doc); err != nil {
			slog.Warn("Chunk response violates schema", "custom_id", rec.CustomID, "error", err)
		}
	}

	result.Response = doc
	return result
}

// markMissing reports whether any chunk index in 1..chunk_count is absent.
func markMissing(agg *Aggregate) bool {
	present := make(map[int]bool, len(agg.Chunks))
	for _, ch := range agg.Chunks {
		present[ch.ChunkIndex] = true
	}

	partial := false
	for i := 1; i <= agg.Meta.ChunkCount; i++ {
		if !present[i] {
			slog.Warn("Aggregate is missing a chunk", "file", agg.Meta.File, "chunk_index", i)
			partial = true
		}
	}

	return partial
}

// Complete reports whether every expected chunk has a successful response.
func (a *Aggregate) Complete() bool {
	if a.Meta.Partial {
		return false
	}
	for _, ch := range a.Chunks {
		if ch.Error != "" {
			return false
		}
	}
	return true
}

// OutputPath returns the canonical aggregate path for a source file.
func OutputPath(outputDir, sourcePath string) string {
	stem := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	return filepath.Join(outputDir, stem+".json")
}

// Write persists the aggregate as indented JSON.
func (a *Aggregate) Write(path string) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
