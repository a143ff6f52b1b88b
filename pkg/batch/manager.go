package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chronominer/chronominer/pkg/journal"
	"github.com/chronominer/chronominer/pkg/prompt"
)

// debugSuffix names the submission debug file written next to the journal.
const debugSuffix = "_batch_submission_debug.json"

// ServiceFor reports whether a provider client supports batch jobs.
func ServiceFor(p any) (Service, bool) {
	s, ok := p.(Service)
	return s, ok
}

// Manager drives the batch lifecycle for one source file: submit, poll,
// download into the journal, cancel.
type Manager struct {
	svc         Service
	jrnl        *journal.Journal
	providerTag string
	sourceFile  string
	outputDir   string

	now func() time.Time
}

func NewManager(svc Service, jrnl *journal.Journal, providerTag, sourceFile, outputDir string) *Manager {
	return &Manager{
		svc:         svc,
		jrnl:        jrnl,
		providerTag: providerTag,
		sourceFile:  sourceFile,
		outputDir:   outputDir,
		now:         time.Now,
	}
}

// submissionDebug is the sidecar written after every submission, for manual
// inspection when a batch needs to be chased with the provider.
type submissionDebug struct {
	SubmissionID string    `json:"submission_id"`
	BatchID      string    `json:"batch_id"`
	Provider     string    `json:"provider"`
	SourceFile   string    `json:"source_file"`
	SubmittedAt  time.Time `json:"submitted_at"`
	ChunkCount   int       `json:"chunk_count"`
	CustomIDs    []string  `json:"custom_ids"`
}

// Submit sends the requests as one batch job, records the tracking record in
// the journal, and writes the submission debug sidecar.
func (m *Manager) Submit(ctx context.Context, reqs []Request) (string, error) {
	batchID, err := m.svc.SubmitBatch(ctx, reqs)
	if err != nil {
		return "", fmt.Errorf("submitting batch: %w", err)
	}

	submittedAt := m.now()

	customIDs := make([]string, len(reqs))
	for i, req := range reqs {
		customIDs[i] = req.CustomID
	}

	if err := m.jrnl.AppendBatch(journal.BatchRecord{
		BatchID:     batchID,
		Provider:    m.providerTag,
		SubmittedAt: submittedAt,
		ChunkCount:  len(reqs),
		Status:      string(StatusValidating),
		SourceFile:  m.sourceFile,
		CustomIDs:   customIDs,
	}); err != nil {
		return "", err
	}

	debug := submissionDebug{
		SubmissionID: uuid.NewString(),
		BatchID:      batchID,
		Provider:     m.providerTag,
		SourceFile:   m.sourceFile,
		SubmittedAt:  submittedAt,
		ChunkCount:   len(reqs),
		CustomIDs:    customIDs,
	}
	if err := m.writeDebug(debug); err != nil {
		// The batch is already submitted and tracked; losing the sidecar is
		// not worth failing the run over.
		slog.Warn("Failed to write batch submission debug file", "batch_id", batchID, "error", err)
	}

	slog.Info("Batch submitted",
		"batch_id", batchID,
		"provider", m.providerTag,
		"file", m.sourceFile,
		"chunks", len(reqs))

	return batchID, nil
}

func (m *Manager) writeDebug(debug submissionDebug) error {
	data, err := json.MarshalIndent(debug, "", "  ")
	if err != nil {
		return err
	}

	stem := strings.TrimSuffix(filepath.Base(m.sourceFile), filepath.Ext(m.sourceFile))
	return os.WriteFile(filepath.Join(m.outputDir, stem+debugSuffix), data, 0o644)
}

// Poll queries the provider for the batch's current status and appends an
// updated tracking record when it changed.
func (m *Manager) Poll(ctx context.Context, rec journal.BatchRecord) (journal.BatchRecord, error) {
	status, err := m.svc.BatchStatus(ctx, rec.BatchID)
	if err != nil {
		return rec, fmt.Errorf("polling batch %s: %w", rec.BatchID, err)
	}

	if string(status) == rec.Status {
		return rec, nil
	}

	rec.Status = string(status)
	if err := m.jrnl.AppendBatch(rec); err != nil {
		return rec, err
	}

	slog.Debug("Batch status changed", "batch_id", rec.BatchID, "status", status)
	return rec, nil
}

// Download fetches the results of a completed batch and ingests them as chunk
// records, then marks the tracking record downloaded. Returns the number of
// results ingested.
func (m *Manager) Download(ctx context.Context, rec journal.BatchRecord) (int, error) {
	results, err := m.svc.DownloadBatch(ctx, rec.BatchID)
	if err != nil {
		return 0, fmt.Errorf("downloading batch %s: %w", rec.BatchID, err)
	}

	for i, res := range results {
		// Some providers return results in submission order without custom
		// IDs; re-key those from the tracking record.
		if res.CustomID == "" && i < len(rec.CustomIDs) {
			res.CustomID = rec.CustomIDs[i]
		}

		_, chunkIndex, ok := prompt.ParseCustomID(res.CustomID)
		if !ok {
			slog.Warn("Skipping batch result with unrecognized custom ID",
				"batch_id", rec.BatchID, "custom_id", res.CustomID)
			continue
		}

		chunk := journal.ChunkRecord{
			CustomID:   res.CustomID,
			ChunkIndex: chunkIndex,
			Attempts:   1,
		}
		if res.Err != "" {
			chunk.Error = res.Err
		} else {
			chunk.OutputText = res.Response.Text
			chunk.Usage = &res.Response.Usage
			chunk.Model = res.Response.Model
		}

		if err := m.jrnl.AppendChunk(chunk); err != nil {
			return 0, err
		}
	}

	rec.Status = string(StatusCompleted)
	rec.Downloaded = true
	if err := m.jrnl.AppendBatch(rec); err != nil {
		return len(results), err
	}

	slog.Info("Batch results ingested", "batch_id", rec.BatchID, "results", len(results))
	return len(results), nil
}

// Cancel requests cancellation for a non-terminal batch. Terminal batches are
// skipped without a provider call.
func (m *Manager) Cancel(ctx context.Context, rec journal.BatchRecord) (bool, error) {
	if Status(rec.Status).Terminal() {
		return false, nil
	}

	if err := m.svc.CancelBatch(ctx, rec.BatchID); err != nil {
		return false, fmt.Errorf("cancelling batch %s: %w", rec.BatchID, err)
	}

	rec.Status = string(StatusCancelled)
	if err := m.jrnl.AppendBatch(rec); err != nil {
		return true, err
	}

	slog.Info("Batch cancelled", "batch_id", rec.BatchID)
	return true, nil
}

// Watch polls the batch at the given interval until it reaches a terminal
// state, then downloads results when it completed.
func (m *Manager) Watch(ctx context.Context, rec journal.BatchRecord, interval time.Duration) (journal.BatchRecord, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for !Status(rec.Status).Terminal() {
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}

		updated, err := m.Poll(ctx, rec)
		if err != nil {
			return rec, err
		}
		rec = updated
	}

	if Status(rec.Status) == StatusCompleted && !rec.Downloaded {
		if _, err := m.Download(ctx, rec); err != nil {
			return rec, err
		}
		rec.Downloaded = true
	}

	return rec, nil
}
