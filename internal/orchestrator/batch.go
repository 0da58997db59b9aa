// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pdiddy/research-triage/internal/gateway"
	"github.com/pdiddy/research-triage/internal/jobstore"
	"github.com/pdiddy/research-triage/pkg/types"
)

// ErrPollDeadline marks a batch canceled locally because it outlived
// MaxPollDuration.
var ErrPollDeadline = errors.New("batch exceeded maximum poll duration")

// BatchMetadata describes a batch job and how it ended.
type BatchMetadata struct {
	JobID     string
	BackendID string
	Model     string
	Status    types.BatchStatus
	ItemCount int
	CreatedAt time.Time

	// Error is set when the job failed or was canceled; Results are then empty.
	Error string
}

// BatchItem pairs a submitted prompt with its outcome.
type BatchItem struct {
	Prompt   string
	Response Result
}

// BatchResult is the outcome of ProcessBatch or ResumeBatch.
type BatchResult struct {
	Metadata BatchMetadata
	Results  []BatchItem
}

// Failed reports whether the job ended without usable results.
func (b BatchResult) Failed() bool {
	return b.Metadata.Status == types.BatchFailed || b.Metadata.Status == types.BatchCanceled
}

// Dedupe returns prompts without repeats, keeping first occurrences in order.
func Dedupe(prompts []string) []string {
	seen := make(map[string]struct{}, len(prompts))
	out := make([]string, 0, len(prompts))
	for _, p := range prompts {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func customID(position int) string {
	return fmt.Sprintf("req-%d", position)
}

// ProcessBatch submits prompts as one asynchronous batch job and polls it
// until it reaches a terminal status. With dedupe set, repeated prompts are
// submitted once and the results follow the deduplicated order.
//
// A job that fails or is canceled (including a local MaxPollDuration expiry,
// which cancels the remote job) yields empty results with Metadata.Error set
// and a nil error. A job that cannot be submitted yields a
// *FatalSubmissionError. If ctx ends while polling, the job stays pending in
// the job store and can be picked up with ResumeBatch.
func (o *Orchestrator) ProcessBatch(ctx context.Context, prompts []string, opts CallOptions, dedupe bool) (BatchResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.ProcessBatch", trace.WithAttributes(
		attribute.Int("prompts", len(prompts)),
		attribute.Bool("dedupe", dedupe),
		attribute.String("model", opts.Model),
	))
	defer span.End()

	if o.batches == nil {
		return BatchResult{}, &FatalSubmissionError{Op: "submit batch", Err: eris.New("no batch backend configured")}
	}

	items := prompts
	if dedupe {
		items = Dedupe(prompts)
	}

	job := types.BatchJob{
		ID:        o.newID(),
		Model:     opts.Model,
		Status:    types.BatchSubmitted,
		CreatedAt: o.now(),
		ItemCount: len(items),
	}
	job.LastPolledAt = job.CreatedAt

	if len(items) == 0 {
		job.Status = types.BatchCompleted
		return BatchResult{Metadata: metadata(job)}, nil
	}

	reqs := make([]gateway.BatchRequest, len(items))
	for i, p := range items {
		reqs[i] = gateway.BatchRequest{CustomID: customID(i), Request: opts.request(p)}
	}

	err := o.withRetry(ctx, "submit batch", o.limiterFor(opts.Model), func(callCtx context.Context) error {
		id, err := o.batches.SubmitBatch(callCtx, reqs)
		job.BackendID = id
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission failed")
		if _, ok := kind(err).(*FatalSubmissionError); ok {
			return BatchResult{}, err
		}
		return BatchResult{}, &FatalSubmissionError{Op: "submit batch", Err: err}
	}
	span.SetAttributes(attribute.String("batch.id", job.ID), attribute.String("batch.backend_id", job.BackendID))

	o.logger.Info("orchestrator: batch submitted",
		zap.String("job", job.ID),
		zap.String("backend_id", job.BackendID),
		zap.Int("items", len(items)),
	)

	if o.store != nil {
		stored := make([]jobstore.Item, len(items))
		for i, p := range items {
			stored[i] = jobstore.Item{Position: i, CustomID: customID(i), Prompt: p}
		}
		if err := o.store.Create(ctx, job, stored); err != nil {
			// Polling continues; only resume is lost.
			o.logger.Error("orchestrator: persisting batch job", zap.String("job", job.ID), zap.Error(err))
		}
	}

	res, err := o.poll(ctx, job, items, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(attribute.String("batch.status", string(res.Metadata.Status)))
	return res, nil
}

// ResumeBatch continues a persisted job: it polls a pending job to the end,
// or rebuilds the results of a job that already finished. opts must match
// the options used at submission so replies parse against the same schema.
func (o *Orchestrator) ResumeBatch(ctx context.Context, jobID string, opts CallOptions) (BatchResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.ResumeBatch", trace.WithAttributes(attribute.String("batch.id", jobID)))
	defer span.End()

	if o.store == nil {
		return BatchResult{}, eris.New("resume batch: no job store configured")
	}
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return BatchResult{}, eris.Wrapf(err, "resume batch %s", jobID)
	}
	stored, err := o.store.Items(ctx, jobID)
	if err != nil {
		return BatchResult{}, eris.Wrapf(err, "resume batch %s", jobID)
	}
	items := make([]string, len(stored))
	for i, it := range stored {
		items[i] = it.Prompt
	}
	if opts.Model == "" {
		opts.Model = job.Model
	}

	switch job.Status {
	case types.BatchFailed, types.BatchCanceled:
		return BatchResult{Metadata: metadata(job)}, nil
	case types.BatchCompleted:
		if allDone(stored) {
			return BatchResult{Metadata: metadata(job), Results: o.fromStored(stored, opts)}, nil
		}
	}

	if o.batches == nil {
		return BatchResult{}, eris.New("resume batch: no batch backend configured")
	}
	o.logger.Info("orchestrator: resuming batch", zap.String("job", job.ID), zap.String("status", string(job.Status)))
	return o.poll(ctx, job, items, opts)
}

func allDone(items []jobstore.Item) bool {
	for _, it := range items {
		if !it.Done {
			return false
		}
	}
	return true
}

// poll checks the remote job every PollInterval until it is terminal, then
// collects results. The poll deadline counts from job creation.
func (o *Orchestrator) poll(ctx context.Context, job types.BatchJob, items []string, opts CallOptions) (BatchResult, error) {
	cfg := o.cfg.Batch
	var deadline time.Time
	if cfg.MaxPollDuration > 0 {
		deadline = job.CreatedAt.Add(cfg.MaxPollDuration)
	}

	for !job.Status.Terminal() {
		if !deadline.IsZero() && !o.now().Before(deadline) {
			o.logger.Warn("orchestrator: batch poll deadline exceeded, canceling",
				zap.String("job", job.ID),
				zap.Duration("max_poll", cfg.MaxPollDuration),
			)
			if err := o.withRetry(ctx, "cancel batch", nil, func(callCtx context.Context) error {
				return o.batches.CancelBatch(callCtx, job.BackendID)
			}); err != nil {
				o.logger.Error("orchestrator: canceling batch", zap.String("job", job.ID), zap.Error(err))
			}
			job.Status = types.BatchCanceled
			job.Error = ErrPollDeadline.Error()
			job.LastPolledAt = o.now()
			o.persist(ctx, job)
			break
		}

		var st gateway.BatchState
		err := o.withRetry(ctx, "batch status", nil, func(callCtx context.Context) error {
			var serr error
			st, serr = o.batches.BatchStatus(callCtx, job.BackendID)
			return serr
		})
		if err != nil {
			if ctx.Err() != nil {
				return BatchResult{Metadata: metadata(job)}, eris.Wrapf(ctx.Err(), "polling batch %s", job.ID)
			}
			var te *TransientBackendError
			if !errors.As(err, &te) {
				job.Status = types.BatchFailed
				job.Error = err.Error()
				job.LastPolledAt = o.now()
				o.persist(ctx, job)
				break
			}
			o.logger.Warn("orchestrator: batch status check failed", zap.String("job", job.ID), zap.Error(err))
		} else {
			job.Status = st.Status
			job.OutputLocation = st.ResultsURL
			switch st.Status {
			case types.BatchFailed:
				job.Error = fmt.Sprintf("no request succeeded (%d errored, %d expired)", st.Counts.Errored, st.Counts.Expired)
			case types.BatchCanceled:
				job.Error = "batch canceled"
			}
		}
		job.LastPolledAt = o.now()
		o.persist(ctx, job)

		if job.Status.Terminal() {
			break
		}
		if err := sleep(ctx, cfg.PollInterval); err != nil {
			return BatchResult{Metadata: metadata(job)}, eris.Wrapf(err, "polling batch %s", job.ID)
		}
	}

	o.logger.Info("orchestrator: batch finished",
		zap.String("job", job.ID),
		zap.String("status", string(job.Status)),
	)
	if job.Status != types.BatchCompleted {
		return BatchResult{Metadata: metadata(job)}, nil
	}
	return o.collect(ctx, job, items, opts)
}

// collect downloads the results of a completed job and re-associates them
// with prompts by custom id.
func (o *Orchestrator) collect(ctx context.Context, job types.BatchJob, items []string, opts CallOptions) (BatchResult, error) {
	var outcomes map[string]gateway.BatchOutcome
	err := o.withRetry(ctx, "batch results", nil, func(callCtx context.Context) error {
		var rerr error
		outcomes, rerr = o.batches.BatchResults(callCtx, job.BackendID)
		return rerr
	})
	if err != nil {
		return BatchResult{Metadata: metadata(job)}, eris.Wrapf(err, "collecting batch %s", job.ID)
	}

	results := make([]BatchItem, len(items))
	stored := make([]jobstore.Item, len(items))
	for i, p := range items {
		id := customID(i)
		stored[i] = jobstore.Item{CustomID: id}
		out, ok := outcomes[id]
		switch {
		case !ok:
			o.logger.Warn("orchestrator: batch item missing from results",
				zap.String("job", job.ID),
				zap.String("custom_id", id),
			)
			err := &FatalSubmissionError{Op: "batch result", Err: fmt.Errorf("no result for %s", id)}
			results[i] = BatchItem{Prompt: p, Response: Result{Prompt: p, Err: err}}
			stored[i].Error = err.Error()
		case out.Err != nil:
			err := Classify(out.Err)
			results[i] = BatchItem{Prompt: p, Response: Result{Prompt: p, Err: err}}
			stored[i].Error = err.Error()
		default:
			r := o.parse(p, out.Response, opts)
			results[i] = BatchItem{Prompt: p, Response: r}
			stored[i].Text = out.Response.Text
		}
	}

	if o.store != nil {
		if err := o.store.SaveResults(ctx, job.ID, stored); err != nil {
			o.logger.Error("orchestrator: saving batch results", zap.String("job", job.ID), zap.Error(err))
		}
	}
	return BatchResult{Metadata: metadata(job), Results: results}, nil
}

// fromStored rebuilds results from a finished job's persisted items.
func (o *Orchestrator) fromStored(stored []jobstore.Item, opts CallOptions) []BatchItem {
	results := make([]BatchItem, len(stored))
	for i, it := range stored {
		if it.Error != "" {
			results[i] = BatchItem{Prompt: it.Prompt, Response: Result{
				Prompt: it.Prompt,
				Err:    &FatalSubmissionError{Op: "batch result", Err: errors.New(it.Error)},
			}}
			continue
		}
		results[i] = BatchItem{Prompt: it.Prompt, Response: o.parse(it.Prompt, gateway.Response{Text: it.Text}, opts)}
	}
	return results
}

func (o *Orchestrator) persist(ctx context.Context, job types.BatchJob) {
	if o.store == nil {
		return
	}
	if err := o.store.Update(context.WithoutCancel(ctx), job); err != nil {
		o.logger.Error("orchestrator: updating batch job", zap.String("job", job.ID), zap.Error(err))
	}
}

func metadata(job types.BatchJob) BatchMetadata {
	return BatchMetadata{
		JobID:     job.ID,
		BackendID: job.BackendID,
		Model:     job.Model,
		Status:    job.Status,
		ItemCount: job.ItemCount,
		CreatedAt: job.CreatedAt,
		Error:     job.Error,
	}
}

// ExpandResults maps a (possibly deduplicated) batch result back onto the
// original prompt list: one Result per prompt, matched by prompt text. When
// the batch failed every Result carries the batch error.
func ExpandResults(prompts []string, br BatchResult) []Result {
	byPrompt := make(map[string]Result, len(br.Results))
	for _, it := range br.Results {
		if _, ok := byPrompt[it.Prompt]; !ok {
			byPrompt[it.Prompt] = it.Response
		}
	}

	var batchErr error
	if br.Failed() {
		msg := br.Metadata.Error
		if msg == "" {
			msg = string(br.Metadata.Status)
		}
		batchErr = &FatalSubmissionError{Op: "batch " + br.Metadata.JobID, Err: errors.New(msg)}
	}

	out := make([]Result, len(prompts))
	for i, p := range prompts {
		if r, ok := byPrompt[p]; ok {
			out[i] = r
			continue
		}
		err := batchErr
		if err == nil {
			err = &FatalSubmissionError{Op: "batch result", Err: fmt.Errorf("prompt %d not in batch", i)}
		}
		out[i] = Result{Prompt: p, Err: err}
	}
	return out
}
