// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package orchestrator drives many concurrent, rate-limited, schema-checked
// model calls. ProcessMany runs one synchronous call per prompt; ProcessBatch
// submits the prompts as one asynchronous batch job and polls it to
// completion. Every call passes the shared limiter, retries transient
// failures, and parses the raw reply against the declared output schema.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pdiddy/research-triage/internal/gateway"
	"github.com/pdiddy/research-triage/internal/jobstore"
	"github.com/pdiddy/research-triage/internal/ratelimit"
	"github.com/pdiddy/research-triage/internal/schema"
	"github.com/pdiddy/research-triage/pkg/types"
)

const tracerName = "github.com/pdiddy/research-triage/internal/orchestrator"

// CallOptions apply to every prompt of one ProcessMany or ProcessBatch call.
type CallOptions struct {
	Model       string
	System      string
	Temperature float64
	MaxTokens   int

	// Schema, when set, is sent to the backend and used to parse every reply.
	Schema schema.OutputSchema
}

func (o CallOptions) request(prompt string) gateway.Request {
	return gateway.Request{
		Model:       o.Model,
		Prompt:      prompt,
		System:      o.System,
		Temperature: o.Temperature,
		MaxTokens:   o.MaxTokens,
		Schema:      o.Schema,
	}
}

// Result is the outcome of one prompt. Err is nil on success, in which case
// Value holds the parsed reply (or nil when no schema was declared).
type Result struct {
	Prompt string
	Text   string
	Value  any
	Err    error

	InputTokens  int64
	OutputTokens int64
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Err == nil }

// JobStore persists batch jobs. *jobstore.Store implements it.
type JobStore interface {
	Create(ctx context.Context, job types.BatchJob, items []jobstore.Item) error
	Update(ctx context.Context, job types.BatchJob) error
	Get(ctx context.Context, id string) (types.BatchJob, error)
	Items(ctx context.Context, jobID string) ([]jobstore.Item, error)
	SaveResults(ctx context.Context, jobID string, results []jobstore.Item) error
}

// Orchestrator issues model calls on behalf of the ranking and analysis
// stages. It is safe for concurrent use.
type Orchestrator struct {
	gateway gateway.Gateway
	limiter ratelimit.Limiter
	cfg     types.OrchestratorConfig

	batches gateway.BatchBackend
	store   JobStore
	cache   *lru.Cache[string, Result]

	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
	newID  func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithBatchBackend enables ProcessBatch.
func WithBatchBackend(b gateway.BatchBackend) Option {
	return func(o *Orchestrator) { o.batches = b }
}

// WithJobStore persists batch jobs so they can be resumed.
func WithJobStore(s JobStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// New returns an Orchestrator sending calls through gw, admitting them
// through lim. A nil limiter admits everything. A *ratelimit.Routes
// limiter is consulted per call with the call's model.
func New(gw gateway.Gateway, lim ratelimit.Limiter, cfg types.OrchestratorConfig, opts ...Option) (*Orchestrator, error) {
	if gw == nil {
		return nil, eris.New("orchestrator needs a gateway")
	}
	if lim == nil {
		lim = ratelimit.Noop{}
	}
	o := &Orchestrator{
		gateway: gw,
		limiter: lim,
		cfg:     cfg,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if cfg.CacheSize > 0 {
		c, err := lru.New[string, Result](cfg.CacheSize)
		if err != nil {
			return nil, eris.Wrap(err, "creating response cache")
		}
		o.cache = c
	}
	return o, nil
}

// limiterFor returns the limiter guarding calls to model.
func (o *Orchestrator) limiterFor(model string) ratelimit.Limiter {
	if r, ok := o.limiter.(*ratelimit.Routes); ok {
		return r.For(model)
	}
	return o.limiter
}

// callContext applies the per-call timeout.
func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, o.cfg.CallTimeout)
	}
	return context.WithCancel(ctx)
}
