package processor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/chronominer/chronominer/pkg/batch"
	"github.com/chronominer/chronominer/pkg/config"
	"github.com/chronominer/chronominer/pkg/journal"
	"github.com/chronominer/chronominer/pkg/model/provider/options"
	"github.com/chronominer/chronominer/pkg/prompt"
	"github.com/chronominer/chronominer/pkg/scheduler"
)

// BatchRow is one tracked batch reported by the check and cancel commands.
type BatchRow struct {
	SourceFile string
	BatchID    string
	Provider   string
	Status     string
	ChunkCount int
	Downloaded bool
}

// CheckBatches polls every tracked batch across the output directory's
// journals, ingests completed results, and finalizes files whose journals
// became complete. stems optionally filters by source file stem.
func (p *Processor) CheckBatches(ctx context.Context, stems []string) ([]BatchRow, error) {
	paths, err := batch.JournalPaths(p.cfg.Paths.OutputDir, stems)
	if err != nil {
		return nil, err
	}

	var rows []BatchRow
	for _, jpath := range paths {
		fileRows, err := p.checkJournal(ctx, jpath)
		if err != nil {
			slog.Error("Failed to check journal", "journal", jpath, "error", err)
			continue
		}
		rows = append(rows, fileRows...)
	}

	return rows, nil
}

func (p *Processor) checkJournal(ctx context.Context, jpath string) ([]BatchRow, error) {
	contents, err := journal.Read(jpath)
	if err != nil {
		return nil, err
	}
	if len(contents.Batches) == 0 {
		return nil, nil
	}

	jrnl, err := journal.Open(jpath)
	if err != nil {
		return nil, err
	}
	defer jrnl.Close()

	var rows []BatchRow
	ingested := false

	for _, rec := range contents.Batches {
		if rec.Downloaded {
			rows = append(rows, toRow(rec))
			continue
		}

		mgr, err := p.managerFor(ctx, contents, jrnl, rec.Provider)
		if err != nil {
			return nil, err
		}

		rec, err = mgr.Poll(ctx, rec)
		if err != nil {
			slog.Error("Failed to poll batch", "batch_id", rec.BatchID, "error", err)
			rows = append(rows, toRow(rec))
			continue
		}

		if batch.Status(rec.Status) == batch.StatusCompleted {
			if _, err := mgr.Download(ctx, rec); err != nil {
				return nil, err
			}
			rec.Downloaded = true
			ingested = true
		}

		rows = append(rows, toRow(rec))
	}

	if ingested {
		jrnl.Close()
		if err := p.finalizeJournal(contents); err != nil {
			return rows, err
		}
	}

	return rows, nil
}

// CancelBatches cancels every non-terminal tracked batch. Returns the batches
// that were actually cancelled.
func (p *Processor) CancelBatches(ctx context.Context, stems []string) ([]BatchRow, error) {
	paths, err := batch.JournalPaths(p.cfg.Paths.OutputDir, stems)
	if err != nil {
		return nil, err
	}

	var cancelled []BatchRow
	for _, jpath := range paths {
		contents, err := journal.Read(jpath)
		if err != nil {
			return nil, err
		}
		if len(contents.Batches) == 0 {
			continue
		}

		jrnl, err := journal.Open(jpath)
		if err != nil {
			return nil, err
		}

		for _, rec := range contents.Batches {
			if batch.Status(rec.Status).Terminal() {
				continue
			}

			mgr, err := p.managerFor(ctx, contents, jrnl, rec.Provider)
			if err != nil {
				jrnl.Close()
				return cancelled, err
			}

			done, err := mgr.Cancel(ctx, rec)
			if err != nil {
				slog.Error("Failed to cancel batch", "batch_id", rec.BatchID, "error", err)
				continue
			}
			if done {
				rec.Status = string(batch.StatusCancelled)
				cancelled = append(cancelled, toRow(rec))
			}
		}

		jrnl.Close()
	}

	return cancelled, nil
}

// Repair brings interrupted runs to completion: ingest completed batches,
// leave pending ones alone, and re-run missing or failed chunks through the
// sync scheduler. Permanent failures are re-queued only with force.
func (p *Processor) Repair(ctx context.Context, stems []string, force bool) ([]*FileResult, error) {
	paths, err := batch.JournalPaths(p.cfg.Paths.OutputDir, stems)
	if err != nil {
		return nil, err
	}

	var results []*FileResult
	for _, jpath := range paths {
		res, err := p.repairJournal(ctx, jpath, force)
		if err != nil {
			return results, fmt.Errorf("%s: %w", jpath, err)
		}
		if res != nil {
			results = append(results, res)
		}
	}

	return results, nil
}

func (p *Processor) repairJournal(ctx context.Context, jpath string, force bool) (*FileResult, error) {
	contents, err := journal.Read(jpath)
	if err != nil {
		return nil, err
	}

	stem := strings.TrimSuffix(filepath.Base(jpath), journal.Suffix)
	expected := make([]string, 0, contents.Meta.ChunkCount)
	for i := 1; i <= contents.Meta.ChunkCount; i++ {
		expected = append(expected, prompt.CustomID(stem, i))
	}

	plan := batch.PlanRepair(contents, expected, force)
	for _, id := range plan.SkippedPermanent {
		slog.Warn("Chunk failed permanently, re-run with --force to re-queue", "custom_id", id)
	}
	if plan.Empty() {
		slog.Info("Nothing to repair", "journal", jpath)
		return nil, nil
	}

	jrnl, err := journal.Open(jpath)
	if err != nil {
		return nil, err
	}
	defer jrnl.Close()

	for _, rec := range plan.DownloadBatches {
		mgr, err := p.managerFor(ctx, contents, jrnl, rec.Provider)
		if err != nil {
			return nil, err
		}
		if _, err := mgr.Download(ctx, rec); err != nil {
			return nil, err
		}
	}

	for _, rec := range plan.PendingBatches {
		slog.Info("Batch still in flight, leaving its chunks alone",
			"batch_id", rec.BatchID, "status", rec.Status)
	}

	if len(plan.Resubmit) > 0 {
		if err := p.resubmit(ctx, contents, jrnl, stem, plan.Resubmit); err != nil {
			return nil, err
		}
	}

	jrnl.Close()

	if len(plan.PendingBatches) > 0 {
		return &FileResult{SourceFile: contents.Meta.SourceFile, Submitted: true}, nil
	}

	return p.finalizeAfterRepair(contents)
}

// resubmit re-chunks the source file and dispatches the named chunks through
// the sync scheduler.
func (p *Processor) resubmit(ctx context.Context, contents *journal.Contents, jrnl *journal.Journal, stem string, ids []string) error {
	desc, err := p.registry.Get(contents.Meta.Schema)
	if err != nil {
		return err
	}

	modelCfg, err := p.cfg.ExtractionModel()
	if err != nil {
		return err
	}

	lines, err := readLines(contents.Meta.SourceFile)
	if err != nil {
		return err
	}

	chunks, err := p.chunk(ctx, contents.Meta.Schema, lines, contents.Meta.SourceFile, modelCfg, Options{})
	if err != nil {
		return err
	}
	if len(chunks) != contents.Meta.ChunkCount {
		return fmt.Errorf("source file re-chunks into %d chunks, journal expects %d; re-run process instead",
			len(chunks), contents.Meta.ChunkCount)
	}

	builder, err := prompt.NewBuilder(contents.Meta.Schema, prompt.NewBundle(p.cfg.Context.Basic, p.cfg.Context.Additional))
	if err != nil {
		return err
	}

	tasks, err := p.buildTasks(builder, stem, chunks, modelCfg)
	if err != nil {
		return err
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	kept := tasks[:0]
	for _, t := range tasks {
		if wanted[t.CustomID] {
			kept = append(kept, t)
		}
	}

	prov, err := p.newProvider(ctx, modelCfg, p.env, options.WithStructuredOutput(desc))
	if err != nil {
		return err
	}

	slog.Info("Re-queuing chunks", "file", contents.Meta.SourceFile, "chunks", len(kept))

	sched := scheduler.New(prov, p.led, jrnl, p.cfg.Concurrency, p.cfg.Retry, true)
	_, err = sched.Run(ctx, kept)
	return err
}

func (p *Processor) finalizeAfterRepair(contents *journal.Contents) (*FileResult, error) {
	desc, err := p.registry.Get(contents.Meta.Schema)
	if err != nil {
		return nil, err
	}
	return p.finalize(contents.Meta.SourceFile, desc, 0, false)
}

func (p *Processor) finalizeJournal(contents *journal.Contents) error {
	_, err := p.finalizeAfterRepair(contents)
	return err
}

// managerFor builds a batch manager talking to the provider that submitted
// the batch, reusing the extraction entry's credentials and base URL.
func (p *Processor) managerFor(ctx context.Context, contents *journal.Contents, jrnl *journal.Journal, providerTag string) (*batch.Manager, error) {
	modelCfg, err := p.cfg.ExtractionModel()
	if err != nil {
		modelCfg = config.ModelConfig{}
	}
	modelCfg.Model = contents.Meta.Model
	if providerTag != "" {
		modelCfg.Provider = providerTag
	}

	desc, err := p.registry.Get(contents.Meta.Schema)
	if err != nil {
		return nil, err
	}

	prov, err := p.newProvider(ctx, modelCfg, p.env, options.WithStructuredOutput(desc))
	if err != nil {
		return nil, err
	}

	svc, ok := batch.ServiceFor(prov)
	if !ok {
		return nil, fmt.Errorf("provider %s does not support batch jobs", prov.ID())
	}

	return batch.NewManager(svc, jrnl, modelCfg.Provider, contents.Meta.SourceFile, p.cfg.Paths.OutputDir), nil
}

func toRow(rec journal.BatchRecord) BatchRow {
	return BatchRow{
		SourceFile: rec.SourceFile,
		BatchID:    rec.BatchID,
		Provider:   rec.Provider,
		Status:     rec.Status,
		ChunkCount: rec.ChunkCount,
		Downloaded: rec.Downloaded,
	}
}
