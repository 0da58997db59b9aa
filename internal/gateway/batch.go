// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/jsonl"

	"github.com/pdiddy/research-triage/pkg/types"
)

// BatchRequest is one request inside an asynchronous batch. CustomID must be
// unique within the batch and is how results are matched back.
type BatchRequest struct {
	CustomID string
	Request  Request
}

// BatchCounts tallies per-request outcomes of a batch.
type BatchCounts struct {
	Processing int64
	Succeeded  int64
	Errored    int64
	Canceled   int64
	Expired    int64
}

// BatchState is a snapshot of a remote batch.
type BatchState struct {
	Status     types.BatchStatus
	Counts     BatchCounts
	ResultsURL string
	EndedAt    time.Time
}

// BatchOutcome is the result of one request in a finished batch. Exactly one
// of Response or Err is meaningful.
type BatchOutcome struct {
	Response Response
	Err      error
}

// BatchBackend submits and tracks asynchronous batch jobs.
type BatchBackend interface {
	SubmitBatch(ctx context.Context, reqs []BatchRequest) (string, error)
	BatchStatus(ctx context.Context, id string) (BatchState, error)
	BatchResults(ctx context.Context, id string) (map[string]BatchOutcome, error)
	CancelBatch(ctx context.Context, id string) error
}

// Batches is the slice of the Anthropic Message Batches API ClaudeBatcher
// uses. *anthropic.MessageBatchService satisfies it.
type Batches interface {
	New(ctx context.Context, body anthropic.MessageBatchNewParams, opts ...option.RequestOption) (*anthropic.MessageBatch, error)
	Get(ctx context.Context, id string, opts ...option.RequestOption) (*anthropic.MessageBatch, error)
	Cancel(ctx context.Context, id string, opts ...option.RequestOption) (*anthropic.MessageBatch, error)
	ResultsStreaming(ctx context.Context, id string, opts ...option.RequestOption) *jsonl.Stream[anthropic.MessageBatchIndividualResponse]
}

// ClaudeBatcher runs batches through the Anthropic Message Batches API.
type ClaudeBatcher struct {
	batches Batches
	claude  *Claude
}

// NewClaudeBatcher builds a batcher sharing the request shaping of c.
func NewClaudeBatcher(b Batches, c *Claude) *ClaudeBatcher {
	return &ClaudeBatcher{batches: b, claude: c}
}

// NewClaudeBatcherFromOptions builds a batcher over the official SDK client.
func NewClaudeBatcherFromOptions(opts ClaudeOptions) *ClaudeBatcher {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	client := anthropic.NewClient(reqOpts...)
	return NewClaudeBatcher(&client.Messages.Batches, NewClaudeWithMessager(&client.Messages, opts.MaxTokens))
}

// SubmitBatch creates a remote batch and returns its id.
func (b *ClaudeBatcher) SubmitBatch(ctx context.Context, reqs []BatchRequest) (string, error) {
	if len(reqs) == 0 {
		return "", fmt.Errorf("empty batch")
	}
	params := anthropic.MessageBatchNewParams{
		Requests: make([]anthropic.MessageBatchNewParamsRequest, 0, len(reqs)),
	}
	for _, r := range reqs {
		p := b.claude.params(r.Request)
		params.Requests = append(params.Requests, anthropic.MessageBatchNewParamsRequest{
			CustomID: r.CustomID,
			Params: anthropic.MessageBatchNewParamsRequestParams{
				Model:       p.Model,
				MaxTokens:   p.MaxTokens,
				Messages:    p.Messages,
				System:      p.System,
				Temperature: p.Temperature,
			},
		})
	}
	batch, err := b.batches.New(ctx, params)
	if err != nil {
		return "", claudeError(err)
	}
	return batch.ID, nil
}

// BatchStatus fetches the remote batch and maps its processing status.
func (b *ClaudeBatcher) BatchStatus(ctx context.Context, id string) (BatchState, error) {
	batch, err := b.batches.Get(ctx, id)
	if err != nil {
		return BatchState{}, claudeError(err)
	}
	return batchState(batch), nil
}

func batchState(batch *anthropic.MessageBatch) BatchState {
	counts := BatchCounts{
		Processing: batch.RequestCounts.Processing,
		Succeeded:  batch.RequestCounts.Succeeded,
		Errored:    batch.RequestCounts.Errored,
		Canceled:   batch.RequestCounts.Canceled,
		Expired:    batch.RequestCounts.Expired,
	}
	st := BatchState{Counts: counts, ResultsURL: batch.ResultsURL, EndedAt: batch.EndedAt}
	switch batch.ProcessingStatus {
	case anthropic.MessageBatchProcessingStatusEnded:
		st.Status = endedStatus(counts)
	default:
		st.Status = types.BatchRunning
	}
	return st
}

// endedStatus decides the terminal status of an ended batch: canceled when
// every request was canceled, failed when nothing succeeded, else completed.
func endedStatus(c BatchCounts) types.BatchStatus {
	total := c.Succeeded + c.Errored + c.Canceled + c.Expired
	switch {
	case total > 0 && c.Canceled == total:
		return types.BatchCanceled
	case c.Succeeded == 0:
		return types.BatchFailed
	default:
		return types.BatchCompleted
	}
}

// BatchResults streams the per-request results keyed by custom id.
func (b *ClaudeBatcher) BatchResults(ctx context.Context, id string) (map[string]BatchOutcome, error) {
	stream := b.batches.ResultsStreaming(ctx, id)
	if err := stream.Err(); err != nil {
		return nil, claudeError(err)
	}
	defer stream.Close()

	out := make(map[string]BatchOutcome)
	for stream.Next() {
		item := stream.Current()
		out[item.CustomID] = outcome(item.Result)
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("reading batch results: %w", err)
	}
	return out, nil
}

func outcome(r anthropic.MessageBatchResultUnion) BatchOutcome {
	switch r.Type {
	case "succeeded":
		msg := r.Message
		text := messageText(&msg)
		if text == "" {
			return BatchOutcome{Err: fmt.Errorf("claude: %w", ErrEmptyResponse)}
		}
		return BatchOutcome{Response: Response{
			Text:         text,
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		}}
	case "errored":
		return BatchOutcome{Err: &ProviderError{
			Provider: "claude",
			Message:  fmt.Sprintf("%s: %s", r.Error.Error.Type, r.Error.Error.Message),
		}}
	default:
		return BatchOutcome{Err: fmt.Errorf("batch request %s", r.Type)}
	}
}

// CancelBatch asks the backend to stop processing a batch.
func (b *ClaudeBatcher) CancelBatch(ctx context.Context, id string) error {
	if _, err := b.batches.Cancel(ctx, id); err != nil {
		return claudeError(err)
	}
	return nil
}
