// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline drives one literature review end to end: it turns raw
// search records into papers, filters out short texts, runs the ranking
// tournament, and deep-analyzes the winners. Run additionally generates
// search queries for a claim and collects the records itself.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pdiddy/research-triage/internal/analysis"
	"github.com/pdiddy/research-triage/internal/orchestrator"
	"github.com/pdiddy/research-triage/internal/ranking"
	"github.com/pdiddy/research-triage/pkg/types"
)

// Searcher finds candidate papers for one query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]types.RawResult, error)
}

// Synthesizer writes a summary of the analyzed papers.
type Synthesizer interface {
	Synthesize(ctx context.Context, claim string, papers []types.RankedPaper) (string, error)
}

// Report is the outcome of one review run.
type Report struct {
	RunID string `json:"run_id" yaml:"run_id"`
	Claim string `json:"claim" yaml:"claim"`

	// Queries are the search queries issued by Run. Empty for RankAndAnalyze.
	Queries []string `json:"queries,omitempty" yaml:"queries,omitempty"`

	// Collected is the number of raw records received.
	Collected int `json:"collected" yaml:"collected"`

	// Normalized is the number of distinct papers after merging duplicates.
	Normalized int `json:"normalized" yaml:"normalized"`

	// Eligible is the number of papers long enough to be ranked.
	Eligible int `json:"eligible" yaml:"eligible"`

	// Papers are the analyzed winners, best first.
	Papers []types.RankedPaper `json:"papers" yaml:"papers"`

	// Synthesis is the optional summary across Papers.
	Synthesis string `json:"synthesis,omitempty" yaml:"synthesis,omitempty"`

	// SearchErrors lists queries whose search failed.
	SearchErrors []string `json:"search_errors,omitempty" yaml:"search_errors,omitempty"`

	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
}

// Pipeline runs reviews. It is safe for concurrent use when its
// collaborators are.
type Pipeline struct {
	proc     ranking.Processor
	cfg      types.PipelineConfig
	call     orchestrator.CallOptions
	ranker   *ranking.Ranker
	analyzer *analysis.Analyzer
	searcher Searcher
	synth    Synthesizer
	logger   *zap.Logger
	tracer   trace.Tracer
	progress io.Writer
	rng      *rand.Rand
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSearcher sets the search collaborator used by Run.
func WithSearcher(s Searcher) Option {
	return func(p *Pipeline) { p.searcher = s }
}

// WithSynthesizer enables the synthesis step.
func WithSynthesizer(s Synthesizer) Option {
	return func(p *Pipeline) { p.synth = s }
}

// WithLogger sets the structured logger for the pipeline and its stages.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithProgress sets the writer that receives human-readable progress lines.
func WithProgress(w io.Writer) Option {
	return func(p *Pipeline) { p.progress = w }
}

// WithRand injects the tournament shuffle source.
func WithRand(rng *rand.Rand) Option {
	return func(p *Pipeline) { p.rng = rng }
}

// New returns a Pipeline issuing every model call through proc.
func New(proc ranking.Processor, cfg types.PipelineConfig, opts ...Option) *Pipeline {
	p := &Pipeline{
		proc:     proc,
		cfg:      cfg,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("github.com/pdiddy/research-triage/internal/pipeline"),
		progress: io.Discard,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.call = orchestrator.CallOptions{
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		MaxTokens:   cfg.AI.MaxTokens,
	}

	rankOpts := []ranking.Option{ranking.WithLogger(p.logger.Named("ranking"))}
	if p.rng != nil {
		rankOpts = append(rankOpts, ranking.WithRand(p.rng))
	}
	p.ranker = ranking.NewRanker(proc, cfg.Ranking, p.call, rankOpts...)
	p.analyzer = analysis.NewAnalyzer(proc, cfg.Analysis, p.call, analysis.WithLogger(p.logger.Named("analysis")))
	return p
}

// RankAndAnalyze reviews an already collected set of search records:
// normalize, filter by length, rank, and analyze the winners. The returned
// papers are sorted by descending score. No eligible papers is not an
// error; the report is simply empty.
func (p *Pipeline) RankAndAnalyze(ctx context.Context, claim string, raw []types.RawResult) (Report, error) {
	rep := p.newReport(claim)
	if err := p.rankAndAnalyze(ctx, &rep, raw); err != nil {
		return rep, err
	}
	rep.FinishedAt = p.now()
	return rep, nil
}

func (p *Pipeline) rankAndAnalyze(ctx context.Context, rep *Report, raw []types.RawResult) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.RankAndAnalyze", trace.WithAttributes(
		attribute.String("run_id", rep.RunID),
		attribute.Int("raw", len(raw)),
	))
	defer span.End()

	papers := Normalize(raw)
	eligible := FilterByLength(papers, p.cfg.Ranking.MinWords)
	rep.Collected = len(raw)
	rep.Normalized = len(papers)
	rep.Eligible = len(eligible)
	fmt.Fprintf(p.progress, "%d records, %d distinct papers, %d with at least %d words\n",
		len(raw), len(papers), len(eligible), p.cfg.Ranking.MinWords)
	p.logger.Info("papers normalized",
		zap.String("run_id", rep.RunID),
		zap.Int("raw", len(raw)),
		zap.Int("distinct", len(papers)),
		zap.Int("eligible", len(eligible)),
	)
	if len(eligible) == 0 {
		return nil
	}

	fmt.Fprintf(p.progress, "ranking %d papers over %d rounds\n", len(eligible), p.cfg.Ranking.Rounds)
	candidates, err := p.ranker.Rank(ctx, eligible, rep.Claim, p.cfg.Ranking.Rounds, p.cfg.Ranking.TopN)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ranking failed")
		return eris.Wrap(err, "ranking papers")
	}

	fmt.Fprintf(p.progress, "analyzing %d papers\n", len(candidates))
	ranked, err := p.analyzer.Analyze(ctx, rep.Claim, candidates)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analysis failed")
		return eris.Wrap(err, "analyzing papers")
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	rep.Papers = ranked
	span.SetAttributes(attribute.Int("papers", len(ranked)))
	return nil
}

// Run performs a full review for claim: generate queries, search them
// concurrently, then rank and analyze what was found, and finally
// synthesize when a Synthesizer is configured. Failed searches are logged
// and skipped; Run fails only when every search fails.
func (p *Pipeline) Run(ctx context.Context, claim string) (Report, error) {
	if p.searcher == nil {
		return Report{}, eris.New("pipeline has no searcher")
	}
	rep := p.newReport(claim)
	ctx, span := p.tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(attribute.String("run_id", rep.RunID)))
	defer span.End()

	queries := p.GenerateQueries(ctx, claim)
	rep.Queries = queries
	fmt.Fprintf(p.progress, "searching %d queries\n", len(queries))

	raw, failures := p.search(ctx, queries)
	rep.SearchErrors = failures
	if len(failures) == len(queries) {
		err := eris.Errorf("all %d searches failed", len(queries))
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return rep, err
	}

	if err := p.rankAndAnalyze(ctx, &rep, raw); err != nil {
		return rep, err
	}

	if p.synth != nil && len(rep.Papers) > 0 {
		fmt.Fprintf(p.progress, "synthesizing %d papers\n", len(rep.Papers))
		text, err := p.synth.Synthesize(ctx, claim, rep.Papers)
		if err != nil {
			p.logger.Warn("synthesis failed", zap.String("run_id", rep.RunID), zap.Error(err))
		} else {
			rep.Synthesis = text
		}
	}

	rep.FinishedAt = p.now()
	return rep, nil
}

func (p *Pipeline) newReport(claim string) Report {
	return Report{
		RunID:     uuid.NewString(),
		Claim:     claim,
		StartedAt: p.now(),
	}
}
