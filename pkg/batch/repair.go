package batch

import (
	"path/filepath"
	"strings"

	"github.com/chronominer/chronominer/pkg/journal"
	"github.com/chronominer/chronominer/pkg/model"
)

// RepairPlan describes how to bring an interrupted run to completion. It is
// computed from the journal alone; executing it submits nothing that a
// pending batch may still deliver.
type RepairPlan struct {
	// PendingBatches are still in flight with the provider. Their chunks are
	// left alone; polling will resolve them.
	PendingBatches []journal.BatchRecord
	// DownloadBatches completed but were never ingested.
	DownloadBatches []journal.BatchRecord
	// Resubmit lists custom IDs of chunks that need a fresh request.
	Resubmit []string
	// SkippedPermanent lists chunks with permanent failures that were NOT
	// re-queued because force was off.
	SkippedPermanent []string
}

// Empty reports whether nothing remains to repair.
func (p RepairPlan) Empty() bool {
	return len(p.PendingBatches) == 0 &&
		len(p.DownloadBatches) == 0 &&
		len(p.Resubmit) == 0
}

// PlanRepair inspects a journal and decides what to poll, download, and
// resubmit. Permanent failures are re-queued only with force; chunks with no
// record at all are re-queued only when no batch is still pending, since a
// pending batch may still deliver them.
func PlanRepair(contents *journal.Contents, expectedIDs []string, force bool) RepairPlan {
	var plan RepairPlan

	for _, rec := range contents.Batches {
		switch {
		case rec.Downloaded:
		case Status(rec.Status) == StatusCompleted:
			plan.DownloadBatches = append(plan.DownloadBatches, rec)
		case !Status(rec.Status).Terminal():
			plan.PendingBatches = append(plan.PendingBatches, rec)
		}
	}

	for _, id := range expectedIDs {
		rec, ok := contents.Chunks[id]

		switch {
		case !ok:
			if len(plan.PendingBatches) == 0 {
				plan.Resubmit = append(plan.Resubmit, id)
			}

		case rec.Error == "":
			// Already answered.

		case isPermanentKind(rec.ErrorKind):
			if force {
				plan.Resubmit = append(plan.Resubmit, id)
			} else {
				plan.SkippedPermanent = append(plan.SkippedPermanent, id)
			}

		default:
			// Transient failures that exhausted retries are always fair game.
			plan.Resubmit = append(plan.Resubmit, id)
		}
	}

	return plan
}

func isPermanentKind(kind string) bool {
	switch kind {
	case model.KindPermanent.String(), model.KindValidation.String(),
		model.KindSchemaUnsupported.String(), model.KindAuth.String():
		return true
	default:
		return false
	}
}

// JournalPaths lists the journal files under outputDir, optionally filtered
// to the given source file stems.
func JournalPaths(outputDir string, stems []string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(outputDir, "*"+journal.Suffix))
	if err != nil {
		return nil, err
	}
	if len(stems) == 0 {
		return matches, nil
	}

	wanted := make(map[string]bool, len(stems))
	for _, s := range stems {
		wanted[s] = true
	}

	var kept []string
	for _, m := range matches {
		stem := strings.TrimSuffix(filepath.Base(m), journal.Suffix)
		if wanted[stem] {
			kept = append(kept, m)
		}
	}
	return kept, nil
}
