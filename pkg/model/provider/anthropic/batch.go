package anthropic

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/chronominer/chronominer/pkg/batch"
	"github.com/chronominer/chronominer/pkg/model"
)

// SubmitBatch creates a Message Batch covering all chunk requests.
func (c *Client) SubmitBatch(ctx context.Context, reqs []batch.Request) (string, error) {
	requests := make([]anthropic.MessageBatchNewParamsRequest, 0, len(reqs))
	for _, req := range reqs {
		params := c.buildParams(req.Req)
		requests = append(requests, anthropic.MessageBatchNewParamsRequest{
			CustomID: req.CustomID,
			Params: anthropic.MessageBatchNewParamsRequestParams{
				Model:       params.Model,
				MaxTokens:   params.MaxTokens,
				Messages:    params.Messages,
				System:      params.System,
				Temperature: params.Temperature,
				TopP:        params.TopP,
				Thinking:    params.Thinking,
				Tools:       params.Tools,
				ToolChoice:  params.ToolChoice,
			},
		})
	}

	job, err := c.client.Messages.Batches.New(ctx, anthropic.MessageBatchNewParams{
		Requests: requests,
	})
	if err != nil {
		return "", Classify(err)
	}

	slog.Debug("Submitted Anthropic message batch", "batch_id", job.ID, "requests", len(requests))

	return job.ID, nil
}

// BatchStatus maps the provider state onto the unified vocabulary.
// Anthropic reports "processing" and a terminal "ended"; the terminal reason
// is derived from the request counts.
func (c *Client) BatchStatus(ctx context.Context, batchID string) (batch.Status, error) {
	job, err := c.client.Messages.Batches.Get(ctx, batchID)
	if err != nil {
		return "", Classify(err)
	}

	switch job.ProcessingStatus {
	case "in_progress", "canceling":
		return batch.StatusInProgress, nil
	case "ended":
		counts := job.RequestCounts
		switch {
		case counts.Succeeded > 0:
			return batch.StatusCompleted, nil
		case counts.Canceled > 0:
			return batch.StatusCancelled, nil
		case counts.Expired > 0:
			return batch.StatusExpired, nil
		default:
			return batch.StatusFailed, nil
		}
	default:
		return batch.StatusInProgress, nil
	}
}

// DownloadBatch streams the per-request results of an ended batch.
func (c *Client) DownloadBatch(ctx context.Context, batchID string) ([]batch.Result, error) {
	stream := c.client.Messages.Batches.ResultsStreaming(ctx, batchID)

	var results []batch.Result
	for stream.Next() {
		entry := stream.Current()
		results = append(results, toResult(entry))
	}
	if err := stream.Err(); err != nil {
		return nil, Classify(err)
	}

	return results, nil
}

func toResult(entry anthropic.MessageBatchIndividualResponse) batch.Result {
	switch variant := entry.Result.AsAny().(type) {
	case anthropic.MessageBatchSucceededResult:
		message := variant.Message
		text, err := extractText(&message)
		if err != nil {
			return batch.Result{CustomID: entry.CustomID, Err: err.Error()}
		}
		return batch.Result{
			CustomID: entry.CustomID,
			Response: &model.Response{
				Text:  text,
				Model: string(message.Model),
				Usage: model.Usage{
					Input:       message.Usage.InputTokens,
					CachedInput: message.Usage.CacheReadInputTokens,
					Output:      message.Usage.OutputTokens,
				},
			},
		}
	case anthropic.MessageBatchErroredResult:
		return batch.Result{
			CustomID: entry.CustomID,
			Err:      fmt.Sprintf("request errored: %s", variant.Error.RawJSON()),
		}
	case anthropic.MessageBatchCanceledResult:
		return batch.Result{CustomID: entry.CustomID, Err: "request canceled"}
	case anthropic.MessageBatchExpiredResult:
		return batch.Result{CustomID: entry.CustomID, Err: "request expired"}
	default:
		return batch.Result{CustomID: entry.CustomID, Err: "unknown result type"}
	}
}

// CancelBatch requests cancellation; terminal batches are left unchanged.
func (c *Client) CancelBatch(ctx context.Context, batchID string) error {
	_, err := c.client.Messages.Batches.Cancel(ctx, batchID)
	if err != nil {
		return Classify(err)
	}
	return nil
}
