// Package processor drives the per-file extraction pipeline: chunk, prompt,
// dispatch (sync or batch), aggregate, clean up.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chronominer/chronominer/pkg/aggregate"
	"github.com/chronominer/chronominer/pkg/batch"
	"github.com/chronominer/chronominer/pkg/chunker"
	"github.com/chronominer/chronominer/pkg/config"
	"github.com/chronominer/chronominer/pkg/environment"
	"github.com/chronominer/chronominer/pkg/journal"
	"github.com/chronominer/chronominer/pkg/ledger"
	"github.com/chronominer/chronominer/pkg/model"
	"github.com/chronominer/chronominer/pkg/model/provider"
	"github.com/chronominer/chronominer/pkg/model/provider/options"
	"github.com/chronominer/chronominer/pkg/prompt"
	"github.com/chronominer/chronominer/pkg/refine"
	"github.com/chronominer/chronominer/pkg/scheduler"
	"github.com/chronominer/chronominer/pkg/schema"
	"github.com/chronominer/chronominer/pkg/tokens"
)

// batchPollInterval is how often a waiting process run polls batch status.
const batchPollInterval = 30 * time.Second

// defaultMaxOutputTokens sizes ledger reservations when the model entry does
// not cap output.
const defaultMaxOutputTokens = 8192

// RefinementModel is the optional model entry used for boundary refinement;
// the extraction entry is used when it is absent.
const RefinementModel = "refinement"

// Options are the per-invocation knobs from the process command.
type Options struct {
	// Strategy overrides chunking.strategy when non-empty.
	Strategy string
	// Batch submits chunks as one provider batch job instead of sync dispatch.
	Batch bool
	// NoWait returns right after batch submission instead of polling. In sync
	// mode it stops with an error instead of blocking on the daily token
	// limit.
	NoWait bool
	// ContextInline is extra context text passed on the command line.
	ContextInline string
	// ContextSource is a file whose contents join the context bundle.
	ContextSource string
}

// FileResult summarizes one processed file.
type FileResult struct {
	SourceFile string
	ChunkCount int
	Failed     int
	// Submitted is set when a batch was submitted and left pending (--no-wait).
	Submitted bool
	// Complete is set when the aggregate has every chunk answered.
	Complete bool
}

// Processor holds the shared collaborators for a run.
type Processor struct {
	cfg      *config.Config
	env      environment.Provider
	registry *schema.Registry
	counter  chunker.TokenCounter
	led      ledger.Ledger

	// pollInterval paces batch status polling; tests shorten it.
	pollInterval time.Duration

	// newProvider is swapped by tests.
	newProvider func(ctx context.Context, cfg config.ModelConfig, env environment.Provider, opts ...options.Opt) (provider.Provider, error)
}

func New(cfg *config.Config, env environment.Provider, registry *schema.Registry, led ledger.Ledger) *Processor {
	return &Processor{
		cfg:          cfg,
		env:          env,
		registry:     registry,
		counter:      tokens.NewCounter(),
		led:          led,
		pollInterval: batchPollInterval,
		newProvider:  provider.New,
	}
}

// ProcessFile runs the pipeline for one source file.
func (p *Processor) ProcessFile(ctx context.Context, schemaName, path string, opts Options) (*FileResult, error) {
	desc, err := p.registry.Get(schemaName)
	if err != nil {
		return nil, err
	}

	modelCfg, err := p.cfg.ExtractionModel()
	if err != nil {
		return nil, err
	}

	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	outputDir := p.cfg.Paths.OutputDir
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}

	if len(lines) == 0 {
		slog.Info("Source file is empty, writing empty dataset", "file", path)
		return p.writeEmpty(path, schemaName, modelCfg.Model, desc)
	}

	chunks, err := p.chunk(ctx, schemaName, lines, path, modelCfg, opts)
	if err != nil {
		return nil, err
	}

	bundle, err := p.contextBundle(opts)
	if err != nil {
		return nil, err
	}

	builder, err := prompt.NewBuilder(schemaName, bundle)
	if err != nil {
		return nil, err
	}

	prov, err := p.newProvider(ctx, modelCfg, p.env, options.WithStructuredOutput(desc))
	if err != nil {
		return nil, err
	}

	stem := fileStem(path)
	tasks, err := p.buildTasks(builder, stem, chunks, modelCfg)
	if err != nil {
		return nil, err
	}

	jrnl, pending, err := p.openJournal(path, schemaName, modelCfg.Model, len(chunks), &tasks)
	if err != nil {
		return nil, err
	}
	if jrnl == nil {
		// Journal is already complete; rebuild the aggregate from it alone.
		return p.finalize(path, desc, 0, false)
	}
	defer jrnl.Close()

	if pending {
		slog.Warn("File has batches still in flight, run check-batches to collect them", "file", path)
		return &FileResult{SourceFile: path, ChunkCount: len(chunks), Submitted: true}, nil
	}

	if len(tasks) == 0 {
		jrnl.Close()
		return p.finalize(path, desc, 0, false)
	}

	if opts.Batch {
		return p.runBatch(ctx, prov, jrnl, path, modelCfg, tasks, len(chunks), desc, opts)
	}

	return p.runSync(ctx, prov, jrnl, path, tasks, len(chunks), desc, !opts.NoWait)
}

func (p *Processor) runSync(
	ctx context.Context,
	prov provider.Provider,
	jrnl *journal.Journal,
	path string,
	tasks []scheduler.Task,
	chunkCount int,
	desc *schema.Descriptor,
	blockOnLimit bool,
) (*FileResult, error) {
	sched := scheduler.New(prov, p.led, jrnl, p.cfg.Concurrency, p.cfg.Retry, blockOnLimit)

	failed, err := sched.Run(ctx, tasks)
	if err != nil {
		return nil, err
	}

	jrnl.Close()
	result, ferr := p.finalize(path, desc, failed, false)
	if ferr != nil {
		return nil, ferr
	}
	result.ChunkCount = chunkCount
	return result, nil
}

func (p *Processor) runBatch(
	ctx context.Context,
	prov provider.Provider,
	jrnl *journal.Journal,
	path string,
	modelCfg config.ModelConfig,
	tasks []scheduler.Task,
	chunkCount int,
	desc *schema.Descriptor,
	opts Options,
) (*FileResult, error) {
	svc, ok := batch.ServiceFor(prov)
	if !ok {
		slog.Warn("Provider does not support batch jobs, falling back to sync dispatch",
			"provider", prov.ID())
		return p.runSync(ctx, prov, jrnl, path, tasks, chunkCount, desc, !opts.NoWait)
	}

	providerTag := modelCfg.Provider
	if providerTag == "" {
		providerTag = provider.Detect(modelCfg.Model)
	}

	mgr := batch.NewManager(svc, jrnl, providerTag, path, p.cfg.Paths.OutputDir)

	reqs := make([]batch.Request, 0, len(tasks))
	for _, t := range tasks {
		reqs = append(reqs, batch.Request{
			CustomID:   t.CustomID,
			ChunkIndex: t.ChunkIndex,
			Req:        t.Req,
		})
	}

	batchID, err := mgr.Submit(ctx, reqs)
	if err != nil {
		return nil, err
	}

	if opts.NoWait {
		return &FileResult{SourceFile: path, ChunkCount: chunkCount, Submitted: true}, nil
	}

	customIDs := make([]string, len(reqs))
	for i, req := range reqs {
		customIDs[i] = req.CustomID
	}

	rec := journal.BatchRecord{
		BatchID:    batchID,
		Provider:   providerTag,
		ChunkCount: len(reqs),
		Status:     string(batch.StatusValidating),
		SourceFile: path,
		CustomIDs:  customIDs,
	}
	rec, err = mgr.Watch(ctx, rec, p.pollInterval)
	if err != nil {
		return nil, err
	}

	jrnl.Close()

	if s := batch.Status(rec.Status); s != batch.StatusCompleted {
		// A failed or expired batch is a per-file outcome, not a run abort;
		// the journal keeps what was ingested and repair can re-queue the rest.
		slog.Error("Batch did not complete", "batch_id", batchID, "status", s, "file", path)
		result, ferr := p.finalize(path, desc, len(reqs), true)
		if ferr != nil {
			return nil, ferr
		}
		result.ChunkCount = chunkCount
		return result, nil
	}

	result, err := p.finalize(path, desc, 0, false)
	if err != nil {
		return nil, err
	}
	result.ChunkCount = chunkCount
	return result, nil
}

// chunk applies the effective strategy to the source lines.
func (p *Processor) chunk(ctx context.Context, schemaName string, lines []string, path string, modelCfg config.ModelConfig, opts Options) ([]chunker.Chunk, error) {
	strategy := p.cfg.Chunking.Strategy
	if opts.Strategy != "" {
		strategy = opts.Strategy
	}

	ck := chunker.New(p.counter, modelCfg.Model, p.cfg.Chunking.TokensPerChunk)
	rangesPath := chunker.LineRangesPath(path)

	switch strategy {
	case config.StrategyAuto:
		return ck.Auto(lines), nil

	case config.StrategyLineRanges:
		ranges, err := chunker.ReadLineRanges(rangesPath)
		if err != nil {
			return nil, err
		}
		return ck.FromRanges(lines, ranges)

	case config.StrategyPerFile:
		// Non-interactive per-file resolution: the range file wins when it
		// exists, otherwise auto.
		ranges, err := chunker.ReadLineRanges(rangesPath)
		if errors.Is(err, chunker.ErrMissingLineRanges) {
			return ck.Auto(lines), nil
		}
		if err != nil {
			return nil, err
		}
		return ck.FromRanges(lines, ranges)

	case config.StrategyAutoAdjust:
		chunks := ck.Auto(lines)
		refined, _, err := p.refineChunks(ctx, schemaName, p.cfg.Refine.BoundaryType, lines, chunks)
		return refined, err

	case config.StrategyAdjustLineRanges:
		ranges, err := chunker.ReadLineRanges(rangesPath)
		if err != nil {
			return nil, err
		}
		chunks, err := ck.FromRanges(lines, ranges)
		if err != nil {
			return nil, err
		}
		refined, changes, err := p.refineChunks(ctx, schemaName, p.cfg.Refine.BoundaryType, lines, chunks)
		if err != nil {
			return nil, err
		}
		if len(changes) > 0 {
			if err := chunker.WriteLineRanges(rangesPath, chunker.Ranges(refined)); err != nil {
				return nil, fmt.Errorf("writing adjusted line ranges: %w", err)
			}
		}
		return refined, nil

	default:
		return nil, fmt.Errorf("unknown chunking strategy %q", strategy)
	}
}

// refineChunks wires the boundary oracle and runs the refiner. schemaName is
// the extraction schema the relevance probe screens for.
func (p *Processor) refineChunks(ctx context.Context, schemaName, boundaryType string, lines []string, chunks []chunker.Chunk) ([]chunker.Chunk, []refine.Change, error) {
	oracle, err := p.boundaryOracle(ctx, schemaName, boundaryType)
	if err != nil {
		return nil, nil, err
	}

	refiner := refine.New(oracle, p.cfg.Refine)
	return refiner.Refine(ctx, lines, chunks)
}

func (p *Processor) boundaryOracle(ctx context.Context, schemaName, boundaryType string) (refine.Oracle, error) {
	modelCfg, ok := p.cfg.Models[RefinementModel]
	if !ok {
		var err error
		modelCfg, err = p.cfg.ExtractionModel()
		if err != nil {
			return nil, err
		}
	}

	judge, err := p.newProvider(ctx, modelCfg, p.env, options.WithStructuredOutput(refine.VerdictSchema()))
	if err != nil {
		return nil, err
	}

	probe, err := p.newProvider(ctx, modelCfg, p.env, options.WithStructuredOutput(refine.RelevanceSchema()))
	if err != nil {
		return nil, err
	}

	return refine.NewLLMOracle(judge, probe, schemaName, boundaryType), nil
}

// buildTasks renders a prompt and a ledger estimate for every chunk.
func (p *Processor) buildTasks(builder *prompt.Builder, stem string, chunks []chunker.Chunk, modelCfg config.ModelConfig) ([]scheduler.Task, error) {
	maxOut := modelCfg.MaxTokens
	if maxOut <= 0 {
		maxOut = defaultMaxOutputTokens
	}

	tasks := make([]scheduler.Task, 0, len(chunks))
	for _, ch := range chunks {
		text, err := builder.Chunk(ch.Text, ch.LineStart, ch.LineEnd)
		if err != nil {
			return nil, err
		}

		estimate := int64(p.counter.Count(text, modelCfg.Model) + maxOut)

		tasks = append(tasks, scheduler.Task{
			CustomID:        prompt.CustomID(stem, ch.Index),
			ChunkIndex:      ch.Index,
			Req:             model.Request{Prompt: text},
			EstimatedTokens: estimate,
		})
	}
	return tasks, nil
}

// openJournal creates or resumes the journal for path. When an existing
// journal is resumable, tasks is filtered down to the chunks it is missing.
// A nil journal with nil error means the journal is already complete. pending
// reports batches still in flight.
func (p *Processor) openJournal(path, schemaName, modelName string, chunkCount int, tasks *[]scheduler.Task) (jrnl *journal.Journal, pending bool, err error) {
	jpath := journal.Path(p.cfg.Paths.OutputDir, path)

	if journal.Exists(p.cfg.Paths.OutputDir, path) {
		contents, rerr := journal.Read(jpath)
		if rerr == nil && contents.Meta.Schema == schemaName && contents.Meta.ChunkCount == chunkCount {
			for _, rec := range contents.Batches {
				if !rec.Downloaded && !batch.Status(rec.Status).Terminal() {
					return nil, true, nil
				}
			}

			remaining := (*tasks)[:0]
			for _, t := range *tasks {
				if rec, ok := contents.Chunks[t.CustomID]; ok && rec.Error == "" {
					continue
				}
				remaining = append(remaining, t)
			}
			*tasks = remaining

			if len(remaining) == 0 {
				return nil, false, nil
			}

			slog.Info("Resuming from existing journal",
				"file", path, "remaining_chunks", len(remaining))
			j, oerr := journal.Open(jpath)
			return j, false, oerr
		}

		slog.Warn("Existing journal does not match this run, starting fresh",
			"file", path, "journal", jpath)
	}

	j, cerr := journal.Create(jpath, journal.Meta{
		RunID:      uuid.NewString(),
		SourceFile: path,
		Schema:     schemaName,
		Model:      modelName,
		ChunkCount: chunkCount,
		CreatedAt:  time.Now(),
	})
	return j, false, cerr
}

// finalize rebuilds the aggregate from the journal and deletes the journal
// when the dataset is complete and retention is off.
func (p *Processor) finalize(path string, desc *schema.Descriptor, failed int, keepJournal bool) (*FileResult, error) {
	jpath := journal.Path(p.cfg.Paths.OutputDir, path)

	contents, err := journal.Read(jpath)
	if err != nil {
		return nil, fmt.Errorf("reading journal for aggregation: %w", err)
	}

	agg := aggregate.Build(contents, desc)
	outPath := aggregate.OutputPath(p.cfg.Paths.OutputDir, path)
	if err := agg.Write(outPath); err != nil {
		return nil, fmt.Errorf("writing dataset: %w", err)
	}

	slog.Info("Dataset written",
		"file", path,
		"output", outPath,
		"chunks", len(agg.Chunks),
		"complete", agg.Complete())

	if agg.Complete() && !keepJournal && !p.cfg.Output.RetainTemporaryJSONL {
		if err := os.Remove(jpath); err != nil {
			slog.Warn("Failed to remove journal", "path", jpath, "error", err)
		}
	}

	return &FileResult{
		SourceFile: path,
		ChunkCount: contents.Meta.ChunkCount,
		Failed:     failed,
		Complete:   agg.Complete(),
	}, nil
}

// writeEmpty produces the dataset for a zero-chunk file without any provider
// call or journal.
func (p *Processor) writeEmpty(path, schemaName, modelName string, desc *schema.Descriptor) (*FileResult, error) {
	contents := &journal.Contents{
		Meta: journal.Meta{
			SourceFile: path,
			Schema:     schemaName,
			Model:      modelName,
			ChunkCount: 0,
		},
		Chunks:  map[string]journal.ChunkRecord{},
		Batches: map[string]journal.BatchRecord{},
	}

	agg := aggregate.Build(contents, desc)
	outPath := aggregate.OutputPath(p.cfg.Paths.OutputDir, path)
	if err := agg.Write(outPath); err != nil {
		return nil, err
	}

	return &FileResult{SourceFile: path, Complete: true}, nil
}

// contextBundle assembles the context fragments in priority order: config
// basic, config additional, --context-source file, --context inline.
func (p *Processor) contextBundle(opts Options) (prompt.Bundle, error) {
	fragments := []string{p.cfg.Context.Basic, p.cfg.Context.Additional}

	if opts.ContextSource != "" {
		data, err := os.ReadFile(opts.ContextSource)
		if err != nil {
			return prompt.Bundle{}, fmt.Errorf("reading context source: %w", err)
		}
		fragments = append(fragments, string(data))
	}

	fragments = append(fragments, opts.ContextInline)

	return prompt.NewBundle(fragments...), nil
}

// readLines loads a source file and normalizes line endings.
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading source file: %w", err)
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	return chunker.SplitLines(text), nil
}

func fileStem(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
