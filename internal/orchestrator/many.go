// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/research-triage/internal/gateway"
)

// ProcessMany runs one call per prompt concurrently and returns one Result
// per prompt in input order. A failed call never cancels its siblings; its
// Result carries the classified error instead.
func (o *Orchestrator) ProcessMany(ctx context.Context, prompts []string, opts CallOptions) []Result {
	ctx, span := o.tracer.Start(ctx, "orchestrator.ProcessMany", trace.WithAttributes(
		attribute.Int("prompts", len(prompts)),
		attribute.String("model", opts.Model),
	))
	defer span.End()

	results := make([]Result, len(prompts))

	// Not errgroup.WithContext: one failure must not cancel the rest.
	var g errgroup.Group
	if o.cfg.MaxConcurrency > 0 {
		g.SetLimit(o.cfg.MaxConcurrency)
	}
	for i, prompt := range prompts {
		g.Go(func() error {
			results[i] = o.call(ctx, prompt, opts)
			return nil
		})
	}
	g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("failed", failed))
	if failed > 0 {
		span.SetStatus(codes.Error, "some calls failed")
		o.logger.Warn("orchestrator: calls failed",
			zap.Int("failed", failed),
			zap.Int("total", len(prompts)),
		)
	}
	return results
}

// call runs one prompt through the cache, limiter, retry loop, and schema.
func (o *Orchestrator) call(ctx context.Context, prompt string, opts CallOptions) Result {
	if r, ok := o.cached(opts, prompt); ok {
		return r
	}

	req := opts.request(prompt)
	var resp gateway.Response
	err := o.withRetry(ctx, "generate", o.limiterFor(opts.Model), func(callCtx context.Context) error {
		var gerr error
		resp, gerr = o.gateway.Generate(callCtx, req)
		return gerr
	})
	if err != nil {
		return Result{Prompt: prompt, Err: err}
	}

	r := o.parse(prompt, resp, opts)
	o.remember(opts, r)
	return r
}

// parse validates a raw reply against the declared schema.
func (o *Orchestrator) parse(prompt string, resp gateway.Response, opts CallOptions) Result {
	r := Result{
		Prompt:       prompt,
		Text:         resp.Text,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}
	if opts.Schema == nil {
		return r
	}
	v, err := opts.Schema.Parse(resp.Text)
	if err != nil {
		r.Err = Classify(err)
		o.logger.Debug("orchestrator: malformed output",
			zap.String("schema", opts.Schema.Name()),
			zap.Error(err),
		)
		return r
	}
	r.Value = v
	return r
}
