// Package batch drives asynchronous provider batch jobs: submission, polling,
// download, cancellation, and repair of partially completed runs.
package batch

import (
	"context"

	"github.com/chronominer/chronominer/pkg/model"
)

// Status is the unified batch state vocabulary exposed to users.
type Status string

const (
	StatusValidating Status = "validating"
	StatusInProgress Status = "in_progress"
	StatusFinalizing Status = "finalizing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

// Request is one chunk request inside a batch submission.
type Request struct {
	CustomID   string
	ChunkIndex int
	Req        model.Request
}

// Result is one chunk outcome downloaded from a completed batch.
type Result struct {
	CustomID string
	Response *model.Response
	// Err is set (and Response nil) when the provider reports a per-request
	// failure; preserved verbatim in the journal.
	Err string
}

// Service is implemented by provider clients that support batch jobs.
// Providers without batch support simply do not implement it.
type Service interface {
	SubmitBatch(ctx context.Context, reqs []Request) (batchID string, err error)
	BatchStatus(ctx context.Context, batchID string) (Status, error)
	DownloadBatch(ctx context.Context, batchID string) ([]Result, error)
	CancelBatch(ctx context.Context, batchID string) error
}
