package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/chronominer/chronominer/pkg/batch"
	"github.com/chronominer/chronominer/pkg/model"
)

// Gemini inlined batch responses carry no custom_id; responses come back in
// submission order, so results are returned with empty custom IDs and the
// batch manager re-keys them from the journal's tracking record. Display
// names are capped by the API and cannot carry the ID list.

// SubmitBatch creates a batch job from inlined requests.
func (c *Client) SubmitBatch(ctx context.Context, reqs []batch.Request) (string, error) {
	inlined := make([]*genai.InlinedRequest, 0, len(reqs))
	for _, req := range reqs {
		inlined = append(inlined, &genai.InlinedRequest{
			Contents: genai.Text(req.Req.Prompt),
			Config:   c.buildConfig(req.Req.System),
		})
	}

	job, err := c.client.Batches.Create(ctx,
		c.ModelConfig.Model,
		&genai.BatchJobSource{InlinedRequests: inlined},
		&genai.CreateBatchJobConfig{DisplayName: fmt.Sprintf("chronominer-%d-requests", len(inlined))},
	)
	if err != nil {
		return "", Classify(err)
	}

	slog.Debug("Submitted Gemini batch job", "name", job.Name, "requests", len(inlined))

	return job.Name, nil
}

// BatchStatus maps the provider job state onto the unified vocabulary.
func (c *Client) BatchStatus(ctx context.Context, batchID string) (batch.Status, error) {
	job, err := c.client.Batches.Get(ctx, batchID, nil)
	if err != nil {
		return "", Classify(err)
	}

	return mapJobState(job.State), nil
}

func mapJobState(state genai.JobState) batch.Status {
	switch state {
	case genai.JobStatePending, genai.JobStateQueued:
		return batch.StatusValidating
	case genai.JobStateRunning:
		return batch.StatusInProgress
	case genai.JobStateSucceeded:
		return batch.StatusCompleted
	case genai.JobStateCancelling, genai.JobStateCancelled:
		return batch.StatusCancelled
	case genai.JobStateExpired:
		return batch.StatusExpired
	default:
		return batch.StatusFailed
	}
}

// DownloadBatch fetches the inlined responses of a succeeded job.
func (c *Client) DownloadBatch(ctx context.Context, batchID string) ([]batch.Result, error) {
	job, err := c.client.Batches.Get(ctx, batchID, nil)
	if err != nil {
		return nil, Classify(err)
	}

	if job.Dest == nil || len(job.Dest.InlinedResponses) == 0 {
		return nil, fmt.Errorf("batch %s has no inlined responses", batchID)
	}

	// Custom IDs stay empty here; the caller fills them in by position from
	// its submission record.
	results := make([]batch.Result, 0, len(job.Dest.InlinedResponses))
	for _, inlined := range job.Dest.InlinedResponses {
		if inlined.Error != nil {
			results = append(results, batch.Result{
				Err: fmt.Sprintf("request failed: code %d: %s", inlined.Error.Code, inlined.Error.Message),
			})
			continue
		}

		text := inlined.Response.Text()
		results = append(results, batch.Result{
			Response: &model.Response{
				Text:  text,
				Model: c.ModelConfig.Model,
				Usage: usageFrom(inlined.Response),
			},
		})
	}

	return results, nil
}

// CancelBatch requests cancellation; terminal jobs are left unchanged.
func (c *Client) CancelBatch(ctx context.Context, batchID string) error {
	if err := c.client.Batches.Cancel(ctx, batchID, nil); err != nil {
		return Classify(err)
	}
	return nil
}
