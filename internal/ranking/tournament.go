// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ranking orders papers by relevance to a claim with a randomized
// tournament: every round shuffles the papers, partitions them into small
// groups, and asks the model to rank each group. A paper's score is the mean
// of its per-group scores across rounds.
package ranking

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"text/template"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pdiddy/research-triage/internal/orchestrator"
	"github.com/pdiddy/research-triage/internal/schema"
	"github.com/pdiddy/research-triage/pkg/types"
)

// rankingPromptTmpl asks the model to order one group of papers.
var rankingPromptTmpl = template.Must(template.New("ranking").Parse(`You are screening papers for a literature review. Rank the papers below by how relevant each is to the claim.

Claim: {{.Claim}}

Papers:
{{range .Papers}}- id: {{.ID}}
  title: {{.Title}}{{if .Year}}
  year: {{.Year}}{{end}}
{{end}}
Give every paper exactly one rank from 1 (most relevant) to {{len .Papers}} (least relevant), using each rank once. Refer to papers only by the ids listed above and add a one-sentence explanation for each.
`))

// RankingEntry is one paper's position in a group ranking.
type RankingEntry struct {
	PaperID     string `json:"paper_id"`
	Rank        int    `json:"rank"`
	Explanation string `json:"explanation"`
}

// RankingResponse is the reply expected for every group prompt.
type RankingResponse struct {
	Rankings []RankingEntry `json:"rankings"`
}

// ResponseSchema is the output schema of group ranking calls.
var ResponseSchema = schema.New[RankingResponse]("group_ranking", func(r *RankingResponse) error {
	if len(r.Rankings) == 0 {
		return errors.New("rankings is empty")
	}
	return nil
})

// Processor issues the group ranking calls. *orchestrator.Orchestrator
// implements it.
type Processor interface {
	ProcessMany(ctx context.Context, prompts []string, opts orchestrator.CallOptions) []orchestrator.Result
	ProcessBatch(ctx context.Context, prompts []string, opts orchestrator.CallOptions, dedupe bool) (orchestrator.BatchResult, error)
}

// Candidate is a paper with its aggregated tournament score.
type Candidate struct {
	Paper types.Paper
	Score float64

	// Appearances counts the valid rankings the score averages over.
	Appearances int
}

// Ranker runs tournaments. Rank may be called concurrently.
type Ranker struct {
	proc   Processor
	cfg    types.RankingConfig
	call   orchestrator.CallOptions
	logger *zap.Logger
	tracer trace.Tracer

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Ranker) { r.logger = l }
}

// WithRand injects the shuffle source.
func WithRand(rng *rand.Rand) Option {
	return func(r *Ranker) { r.rng = rng }
}

// NewRanker returns a Ranker. call carries the model settings; its Schema
// is replaced by ResponseSchema. A zero cfg.Seed seeds the shuffle randomly.
func NewRanker(proc Processor, cfg types.RankingConfig, call orchestrator.CallOptions, opts ...Option) *Ranker {
	call.Schema = ResponseSchema
	r := &Ranker{
		proc:   proc,
		cfg:    cfg,
		call:   call,
		logger: zap.NewNop(),
		tracer: otel.Tracer("github.com/pdiddy/research-triage/internal/ranking"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rng == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = rand.Uint64()
		}
		r.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	return r
}

// groupCall ties one prompt to the group it ranks.
type groupCall struct {
	round int
	group Group
}

// Rank scores papers over the given number of rounds and returns the best
// topN, ordered by descending score. Papers with equal scores keep their
// input order. topN <= 0 returns every paper.
//
// Failed or malformed group replies are skipped; entries naming papers
// outside their group, repeating a paper, or giving an invalid rank are
// dropped. A paper never validly ranked scores 0. When every group call
// fails with a fatal error, Rank returns that error and no candidates.
func (r *Ranker) Rank(ctx context.Context, papers []types.Paper, claim string, rounds, topN int) ([]Candidate, error) {
	ctx, span := r.tracer.Start(ctx, "ranking.Rank", trace.WithAttributes(
		attribute.Int("papers", len(papers)),
		attribute.Int("rounds", rounds),
	))
	defer span.End()

	if len(papers) == 0 {
		return nil, nil
	}
	if rounds < 1 {
		rounds = 1
	}

	calls, prompts, err := r.buildRounds(papers, claim, rounds)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("groups", len(calls)))

	results, err := r.run(ctx, prompts)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	scores, err := r.accumulate(calls, results)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	candidates := make([]Candidate, len(papers))
	for i, p := range papers {
		candidates[i] = Candidate{Paper: p, Score: mean(scores[p.ID]), Appearances: len(scores[p.ID])}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if topN > 0 && topN < len(candidates) {
		candidates = candidates[:topN]
	}
	return candidates, nil
}

// buildRounds shuffles and partitions the papers once per round and renders
// one prompt per group.
func (r *Ranker) buildRounds(papers []types.Paper, claim string, rounds int) ([]groupCall, []string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		calls   []groupCall
		prompts []string
	)
	for round := 0; round < rounds; round++ {
		shuffled := make([]types.Paper, len(papers))
		copy(shuffled, papers)
		r.rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		for _, g := range Partition(shuffled, r.cfg.MinGroupSize, r.cfg.MaxGroupSize) {
			prompt, err := renderPrompt(claim, g)
			if err != nil {
				return nil, nil, fmt.Errorf("rendering ranking prompt: %w", err)
			}
			calls = append(calls, groupCall{round: round, group: g})
			prompts = append(prompts, prompt)
		}
	}
	return calls, prompts, nil
}

// run sends the group prompts synchronously or as one batch job.
func (r *Ranker) run(ctx context.Context, prompts []string) ([]orchestrator.Result, error) {
	if !r.cfg.UseBatch {
		return r.proc.ProcessMany(ctx, prompts, r.call), nil
	}

	br, err := r.proc.ProcessBatch(ctx, prompts, r.call, true)
	if err != nil {
		return nil, eris.Wrap(err, "ranking batch")
	}
	if br.Failed() {
		return nil, eris.Errorf("ranking batch %s %s: %s", br.Metadata.JobID, br.Metadata.Status, br.Metadata.Error)
	}
	return orchestrator.ExpandResults(prompts, br), nil
}

// accumulate validates every group reply and collects per-paper scores.
func (r *Ranker) accumulate(calls []groupCall, results []orchestrator.Result) (map[string][]float64, error) {
	scores := make(map[string][]float64)
	var firstFatal error
	fatal := 0

	for i, res := range results {
		call := calls[i]
		if res.Err != nil {
			if orchestrator.IsFatal(res.Err) {
				fatal++
				if firstFatal == nil {
					firstFatal = res.Err
				}
			}
			r.logger.Warn("ranking: group dropped",
				zap.Int("round", call.round),
				zap.Int("group_size", len(call.group)),
				zap.Error(res.Err),
			)
			continue
		}

		resp, ok := schema.Value[RankingResponse](res.Value)
		if !ok {
			r.logger.Warn("ranking: unexpected response type",
				zap.Int("round", call.round),
				zap.String("type", fmt.Sprintf("%T", res.Value)),
			)
			continue
		}
		r.score(call, resp, scores)
	}

	if len(results) > 0 && fatal == len(results) {
		return nil, eris.Wrap(firstFatal, "every ranking call failed")
	}
	return scores, nil
}

// score converts one group ranking to (n - rank + 1) / n per paper.
func (r *Ranker) score(call groupCall, resp RankingResponse, scores map[string][]float64) {
	n := len(call.group)
	members := make(map[string]bool, n)
	for _, p := range call.group {
		members[p.ID] = true
	}

	seenID := make(map[string]bool, n)
	seenRank := make(map[int]bool, n)
	for _, e := range resp.Rankings {
		switch {
		case !members[e.PaperID]:
			r.logger.Warn("ranking: dropping entry",
				zap.Int("round", call.round),
				zap.Error(&orchestrator.UnknownEntityError{Kind: "paper", ID: e.PaperID}),
			)
		case e.Rank < 1 || e.Rank > n:
			r.logger.Warn("ranking: rank out of range",
				zap.String("paper", e.PaperID),
				zap.Int("rank", e.Rank),
				zap.Int("group_size", n),
			)
		case seenID[e.PaperID] || seenRank[e.Rank]:
			r.logger.Warn("ranking: duplicate entry",
				zap.String("paper", e.PaperID),
				zap.Int("rank", e.Rank),
			)
		default:
			seenID[e.PaperID] = true
			seenRank[e.Rank] = true
			scores[e.PaperID] = append(scores[e.PaperID], GroupScore(e.Rank, n))
		}
	}
}

// GroupScore is the score of rank r in a group of n: (n - r + 1) / n.
func GroupScore(rank, n int) float64 {
	return float64(n-rank+1) / float64(n)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func renderPrompt(claim string, g Group) (string, error) {
	var buf bytes.Buffer
	err := rankingPromptTmpl.Execute(&buf, struct {
		Claim  string
		Papers Group
	}{Claim: claim, Papers: g})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
