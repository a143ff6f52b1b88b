package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	oai "github.com/openai/openai-go/v3"

	"github.com/chronominer/chronominer/pkg/batch"
	"github.com/chronominer/chronominer/pkg/model"
)

// batchInputLine is one record of the JSONL batch input file.
type batchInputLine struct {
	CustomID string                     `json:"custom_id"`
	Method   string                     `json:"method"`
	URL      string                     `json:"url"`
	Body     oai.ChatCompletionNewParams `json:"body"`
}

// batchOutputLine is one record of the JSONL batch output file.
type batchOutputLine struct {
	CustomID string `json:"custom_id"`
	Response struct {
		StatusCode int                `json:"status_code"`
		Body       oai.ChatCompletion `json:"body"`
	} `json:"response"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SubmitBatch uploads the serialized chunk requests and creates a batch job.
func (c *Client) SubmitBatch(ctx context.Context, reqs []batch.Request) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, req := range reqs {
		line := batchInputLine{
			CustomID: req.CustomID,
			Method:   "POST",
			URL:      "/v1/chat/completions",
			Body:     c.buildParams(req.Req),
		}
		if err := enc.Encode(line); err != nil {
			return "", fmt.Errorf("encoding batch input for %s: %w", req.CustomID, err)
		}
	}

	file, err := c.client.Files.New(ctx, oai.FileNewParams{
		File:    oai.File(bytes.NewReader(buf.Bytes()), "batch_input.jsonl", "application/jsonl"),
		Purpose: oai.FilePurposeBatch,
	})
	if err != nil {
		return "", Classify(err)
	}

	slog.Debug("Uploaded batch input file", "file_id", file.ID, "requests", len(reqs))

	job, err := c.client.Batches.New(ctx, oai.BatchNewParams{
		InputFileID:      file.ID,
		Endpoint:         oai.BatchNewParamsEndpointV1ChatCompletions,
		CompletionWindow: oai.BatchNewParamsCompletionWindow24h,
	})
	if err != nil {
		return "", Classify(err)
	}

	return job.ID, nil
}

// BatchStatus maps the provider state onto the unified vocabulary.
func (c *Client) BatchStatus(ctx context.Context, batchID string) (batch.Status, error) {
	job, err := c.client.Batches.Get(ctx, batchID)
	if err != nil {
		return "", Classify(err)
	}

	return mapBatchStatus(string(job.Status)), nil
}

func mapBatchStatus(status string) batch.Status {
	switch status {
	case "validating":
		return batch.StatusValidating
	case "in_progress":
		return batch.StatusInProgress
	case "finalizing":
		return batch.StatusFinalizing
	case "completed":
		return batch.StatusCompleted
	case "expired":
		return batch.StatusExpired
	case "cancelling", "cancelled":
		return batch.StatusCancelled
	default:
		return batch.StatusFailed
	}
}

// DownloadBatch fetches and parses the output file of a completed batch.
func (c *Client) DownloadBatch(ctx context.Context, batchID string) ([]batch.Result, error) {
	job, err := c.client.Batches.Get(ctx, batchID)
	if err != nil {
		return nil, Classify(err)
	}

	var results []batch.Result
	for _, fileID := range []string{job.OutputFileID, job.ErrorFileID} {
		if fileID == "" {
			continue
		}

		fileResults, err := c.downloadResultsFile(ctx, fileID)
		if err != nil {
			return nil, err
		}
		results = append(results, fileResults...)
	}

	return results, nil
}

func (c *Client) downloadResultsFile(ctx context.Context, fileID string) ([]batch.Result, error) {
	resp, err := c.client.Files.Content(ctx, fileID)
	if err != nil {
		return nil, Classify(err)
	}
	defer resp.Body.Close()

	var results []batch.Result
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	for scanner.Scan() {
		var line batchOutputLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return nil, fmt.Errorf("parsing batch output line: %w", err)
		}

		results = append(results, toResult(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading batch output: %w", err)
	}

	return results, nil
}

func toResult(line batchOutputLine) batch.Result {
	if line.Error != nil {
		return batch.Result{
			CustomID: line.CustomID,
			Err:      fmt.Sprintf("%s: %s", line.Error.Code, line.Error.Message),
		}
	}

	body := line.Response.Body
	if line.Response.StatusCode >= 400 || len(body.Choices) == 0 {
		return batch.Result{
			CustomID: line.CustomID,
			Err:      fmt.Sprintf("request failed with status %d", line.Response.StatusCode),
		}
	}

	return batch.Result{
		CustomID: line.CustomID,
		Response: &model.Response{
			Text:  body.Choices[0].Message.Content,
			Model: body.Model,
			Usage: model.Usage{
				Input:       body.Usage.PromptTokens,
				CachedInput: body.Usage.PromptTokensDetails.CachedTokens,
				Output:      body.Usage.CompletionTokens,
				Reasoning:   body.Usage.CompletionTokensDetails.ReasoningTokens,
			},
		},
	}
}

// CancelBatch requests cancellation; terminal batches are left unchanged.
func (c *Client) CancelBatch(ctx context.Context, batchID string) error {
	_, err := c.client.Batches.Cancel(ctx, batchID)
	if err != nil {
		return Classify(err)
	}
	return nil
}
