package processor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chronominer/chronominer/pkg/chunker"
	"github.com/chronominer/chronominer/pkg/refine"
)

// GenerateLineRanges runs the token-bounded chunker over a file and writes
// the resulting ranges to its co-located range file for human editing.
func (p *Processor) GenerateLineRanges(path string, tokensPerChunk int) (string, []chunker.Range, error) {
	modelCfg, err := p.cfg.ExtractionModel()
	if err != nil {
		return "", nil, err
	}

	lines, err := readLines(path)
	if err != nil {
		return "", nil, err
	}
	if len(lines) == 0 {
		return "", nil, fmt.Errorf("%s is empty, nothing to chunk", path)
	}

	if tokensPerChunk <= 0 {
		tokensPerChunk = p.cfg.Chunking.TokensPerChunk
	}

	ck := chunker.New(p.counter, modelCfg.Model, tokensPerChunk)
	ranges := chunker.Ranges(ck.Auto(lines))

	rangesPath := chunker.LineRangesPath(path)
	if err := chunker.WriteLineRanges(rangesPath, ranges); err != nil {
		return "", nil, err
	}

	slog.Info("Line ranges written", "file", path, "ranges", len(ranges), "path", rangesPath)
	return rangesPath, ranges, nil
}

// ReadjustLineRanges refines the existing range file's boundaries with the
// boundary oracle. schemaName selects the extraction schema the relevance
// probe screens for; boundaryType overrides refine.boundary_type when
// non-empty. With dryRun the file is left untouched and only the proposed
// changes are returned.
func (p *Processor) ReadjustLineRanges(ctx context.Context, schemaName, path string, contextWindow int, boundaryType string, dryRun bool) ([]refine.Change, error) {
	if _, err := p.registry.Get(schemaName); err != nil {
		return nil, err
	}

	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	rangesPath := chunker.LineRangesPath(path)
	ranges, err := chunker.ReadLineRanges(rangesPath)
	if err != nil {
		return nil, err
	}

	modelCfg, err := p.cfg.ExtractionModel()
	if err != nil {
		return nil, err
	}

	ck := chunker.New(p.counter, modelCfg.Model, p.cfg.Chunking.TokensPerChunk)
	chunks, err := ck.FromRanges(lines, ranges)
	if err != nil {
		return nil, err
	}

	refineCfg := p.cfg.Refine
	if contextWindow > 0 {
		refineCfg.ContextWindow = contextWindow
	}
	if boundaryType == "" {
		boundaryType = p.cfg.Refine.BoundaryType
	}

	oracle, err := p.boundaryOracle(ctx, schemaName, boundaryType)
	if err != nil {
		return nil, err
	}

	refined, changes, err := refine.New(oracle, refineCfg).Refine(ctx, lines, chunks)
	if err != nil {
		return nil, err
	}

	if dryRun || len(changes) == 0 {
		return changes, nil
	}

	if err := chunker.WriteLineRanges(rangesPath, chunker.Ranges(refined)); err != nil {
		return nil, err
	}

	slog.Info("Line ranges adjusted", "file", path, "changes", len(changes))
	return changes, nil
}
