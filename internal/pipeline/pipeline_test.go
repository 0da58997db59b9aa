// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/research-triage/internal/analysis"
	"github.com/pdiddy/research-triage/internal/gateway"
	"github.com/pdiddy/research-triage/internal/orchestrator"
	"github.com/pdiddy/research-triage/internal/ranking"
	"github.com/pdiddy/research-triage/pkg/types"
)

var idLine = regexp.MustCompile(`(?m)^- id: (\S+)$`)

// scriptedGateway answers each call by its declared schema: ranking
// prompts are ordered by id, analysis prompts get three quotes, and query
// prompts get a fixed list.
type scriptedGateway struct {
	mu      sync.Mutex
	counts  map[string]int
	queries string
	fail    func(req gateway.Request) error
}

func newScriptedGateway() *scriptedGateway {
	return &scriptedGateway{
		counts:  map[string]int{},
		queries: `{"queries":["sleep memory","Sleep Memory","hippocampus replay","","rem sleep"]}`,
	}
}

func (g *scriptedGateway) Name() string { return "scripted" }

func (g *scriptedGateway) Generate(_ context.Context, req gateway.Request) (gateway.Response, error) {
	name := ""
	if req.Schema != nil {
		name = req.Schema.Name()
	}
	g.mu.Lock()
	g.counts[name]++
	g.mu.Unlock()

	if g.fail != nil {
		if err := g.fail(req); err != nil {
			return gateway.Response{}, err
		}
	}

	switch name {
	case ranking.ResponseSchema.Name():
		var ids []string
		for _, m := range idLine.FindAllStringSubmatch(req.Prompt, -1) {
			ids = append(ids, m[1])
		}
		sort.Strings(ids)
		resp := ranking.RankingResponse{}
		for i, id := range ids {
			resp.Rankings = append(resp.Rankings, ranking.RankingEntry{PaperID: id, Rank: i + 1, Explanation: "relevant"})
		}
		b, err := json.Marshal(resp)
		return gateway.Response{Text: "Here is the ranking:\n" + string(b)}, err
	case "paper_analysis":
		return gateway.Response{Text: "```json\n" + `{"analysis":"Supports the claim.","quotes":["q1","q2","q3"]}` + "\n```"}, nil
	case QuerySchema.Name():
		return gateway.Response{Text: g.queries}, nil
	}
	return gateway.Response{}, fmt.Errorf("unexpected schema %q", name)
}

func (g *scriptedGateway) count(schema string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counts[schema]
}

func testPipelineConfig() types.PipelineConfig {
	cfg := types.DefaultPipelineConfig()
	cfg.Orchestrator.Retry = types.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		Multiplier:     2,
		MaxBackoff:     2 * time.Millisecond,
	}
	cfg.Orchestrator.RateLimit = types.RateLimitConfig{Kind: types.LimiterNone}
	cfg.Orchestrator.CallTimeout = time.Second
	cfg.Orchestrator.CacheSize = 0
	cfg.Ranking = types.RankingConfig{
		MinWords:     50,
		MinGroupSize: 2,
		MaxGroupSize: 5,
		Rounds:       3,
		TopN:         3,
	}
	cfg.Analysis.QuoteCount = 3
	return cfg
}

func newTestPipeline(t *testing.T, gw gateway.Gateway, cfg types.PipelineConfig, opts ...Option) *Pipeline {
	t.Helper()
	orch, err := orchestrator.New(gw, nil, cfg.Orchestrator)
	require.NoError(t, err)
	opts = append([]Option{WithRand(rand.New(rand.NewPCG(7, 11)))}, opts...)
	return New(orch, cfg, opts...)
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("evidence ", n))
}

func samplePapers(n, wordCount int) []types.RawResult {
	raw := make([]types.RawResult, n)
	for i := range raw {
		raw[i] = types.RawResult{
			Title:    fmt.Sprintf("Paper %02d", i),
			DOI:      fmt.Sprintf("10.1000/p%02d", i),
			Authors:  []string{"Ada Lovelace"},
			Year:     2020 + i%4,
			FullText: words(wordCount),
		}
	}
	return raw
}

func TestRankAndAnalyze_EndToEnd(t *testing.T) {
	gw := newScriptedGateway()
	var progress bytes.Buffer
	p := newTestPipeline(t, gw, testPipelineConfig(), WithProgress(&progress))

	rep, err := p.RankAndAnalyze(context.Background(), "Sleep consolidates memory", samplePapers(12, 60))
	require.NoError(t, err)

	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 12, rep.Collected)
	assert.Equal(t, 12, rep.Normalized)
	assert.Equal(t, 12, rep.Eligible)
	require.Len(t, rep.Papers, 3)

	assert.Equal(t, "doi-10-1000-p00", rep.Papers[0].ID)
	assert.InDelta(t, 1.0, rep.Papers[0].Score, 1e-9)
	for i, rp := range rep.Papers {
		assert.Len(t, rp.Quotes, 3)
		assert.Equal(t, "Supports the claim.", rp.Analysis)
		assert.Contains(t, rp.Citation, rp.Title)
		if i > 0 {
			assert.GreaterOrEqual(t, rep.Papers[i-1].Score, rp.Score)
		}
	}

	// 12 papers in groups of at most 5 need 3 groups per round.
	assert.Equal(t, 9, gw.count(ranking.ResponseSchema.Name()))
	assert.Equal(t, 3, gw.count("paper_analysis"))
	assert.Contains(t, progress.String(), "ranking 12 papers over 3 rounds")
	assert.False(t, rep.FinishedAt.Before(rep.StartedAt))
}

func TestRankAndAnalyze_FiltersShortPapers(t *testing.T) {
	gw := newScriptedGateway()
	p := newTestPipeline(t, gw, testPipelineConfig())

	raw := samplePapers(4, 60)
	raw[1].FullText = words(10)
	raw = append(raw, raw[0]) // duplicate by DOI

	rep, err := p.RankAndAnalyze(context.Background(), "claim", raw)
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Collected)
	assert.Equal(t, 4, rep.Normalized)
	assert.Equal(t, 3, rep.Eligible)
	require.Len(t, rep.Papers, 3)
	for _, rp := range rep.Papers {
		assert.NotEqual(t, "doi-10-1000-p01", rp.ID)
	}
}

func TestRankAndAnalyze_NoEligiblePapers(t *testing.T) {
	gw := newScriptedGateway()
	p := newTestPipeline(t, gw, testPipelineConfig())

	rep, err := p.RankAndAnalyze(context.Background(), "claim", samplePapers(3, 5))
	require.NoError(t, err)
	assert.Empty(t, rep.Papers)
	assert.Equal(t, 0, rep.Eligible)
	assert.Zero(t, gw.count(ranking.ResponseSchema.Name()))
}

func TestRankAndAnalyze_BackendOutage(t *testing.T) {
	gw := newScriptedGateway()
	gw.fail = func(gateway.Request) error {
		return &gateway.ProviderError{Provider: "scripted", StatusCode: http.StatusServiceUnavailable, Message: "overloaded"}
	}
	p := newTestPipeline(t, gw, testPipelineConfig())

	rep, err := p.RankAndAnalyze(context.Background(), "claim", samplePapers(12, 60))
	require.Error(t, err)
	assert.True(t, orchestrator.IsFatal(err))
	assert.Empty(t, rep.Papers)
	assert.Zero(t, gw.count("paper_analysis"))
}

func TestRankAndAnalyze_AnalysisOutage(t *testing.T) {
	gw := newScriptedGateway()
	gw.fail = func(req gateway.Request) error {
		if req.Schema != nil && req.Schema.Name() == "paper_analysis" {
			return &gateway.ProviderError{Provider: "scripted", StatusCode: http.StatusServiceUnavailable, Message: "overloaded"}
		}
		return nil
	}
	p := newTestPipeline(t, gw, testPipelineConfig())

	rep, err := p.RankAndAnalyze(context.Background(), "claim", samplePapers(12, 60))
	require.Error(t, err)
	assert.True(t, orchestrator.IsFatal(err))
	assert.Empty(t, rep.Papers)
}

func TestRankAndAnalyze_RankingFailure(t *testing.T) {
	gw := newScriptedGateway()
	gw.fail = func(gateway.Request) error {
		return &gateway.ProviderError{Provider: "scripted", StatusCode: http.StatusUnauthorized, Message: "bad key"}
	}
	p := newTestPipeline(t, gw, testPipelineConfig())

	rep, err := p.RankAndAnalyze(context.Background(), "claim", samplePapers(6, 60))
	require.Error(t, err)
	assert.True(t, orchestrator.IsFatal(err))
	assert.Empty(t, rep.Papers)
}

func TestRankAndAnalyze_AnalysisDegradesPerPaper(t *testing.T) {
	gw := newScriptedGateway()
	gw.fail = func(req gateway.Request) error {
		if req.Schema.Name() == "paper_analysis" && strings.Contains(req.Prompt, "Paper 00") {
			return gateway.ErrEmptyResponse
		}
		return nil
	}
	p := newTestPipeline(t, gw, testPipelineConfig())

	rep, err := p.RankAndAnalyze(context.Background(), "claim", samplePapers(5, 60))
	require.NoError(t, err)
	require.Len(t, rep.Papers, 3)
	assert.Equal(t, "doi-10-1000-p00", rep.Papers[0].ID)
	assert.False(t, rep.Papers[0].Analyzed())
	assert.Empty(t, rep.Papers[0].Quotes)
	assert.True(t, rep.Papers[1].Analyzed())
}

// fakeSearcher returns samplePapers per query, failing for listed queries.
type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	fail    map[string]bool
	perHit  int
}

func (s *fakeSearcher) Search(_ context.Context, query string, limit int) ([]types.RawResult, error) {
	s.mu.Lock()
	s.queries = append(s.queries, query)
	s.mu.Unlock()
	if s.fail[query] {
		return nil, errors.New("backend unavailable")
	}
	n := s.perHit
	if limit > 0 && limit < n {
		n = limit
	}
	return samplePapers(n, 60), nil
}

type fakeSynth struct {
	got []types.RankedPaper
	err error
}

func (s *fakeSynth) Synthesize(_ context.Context, _ string, papers []types.RankedPaper) (string, error) {
	s.got = papers
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("%d papers support the claim", len(papers)), nil
}

func TestRun_SearchesGeneratedQueries(t *testing.T) {
	gw := newScriptedGateway()
	search := &fakeSearcher{perHit: 6, fail: map[string]bool{"hippocampus replay": true}}
	synth := &fakeSynth{}
	cfg := testPipelineConfig()
	cfg.Search.MaxQueries = 3
	p := newTestPipeline(t, gw, cfg, WithSearcher(search), WithSynthesizer(synth))

	rep, err := p.Run(context.Background(), "Sleep consolidates memory")
	require.NoError(t, err)

	assert.Equal(t, []string{"sleep memory", "hippocampus replay", "rem sleep"}, rep.Queries)
	assert.ElementsMatch(t, rep.Queries, search.queries)
	require.Len(t, rep.SearchErrors, 1)
	assert.Contains(t, rep.SearchErrors[0], "hippocampus replay")

	// Both successful searches return the same six papers.
	assert.Equal(t, 12, rep.Collected)
	assert.Equal(t, 6, rep.Normalized)
	require.Len(t, rep.Papers, 3)
	assert.Equal(t, "3 papers support the claim", rep.Synthesis)
	assert.Len(t, synth.got, 3)
}

func TestRun_AllSearchesFail(t *testing.T) {
	gw := newScriptedGateway()
	gw.queries = `{"queries":["a","b"]}`
	search := &fakeSearcher{fail: map[string]bool{"a": true, "b": true}}
	p := newTestPipeline(t, gw, testPipelineConfig(), WithSearcher(search))

	rep, err := p.Run(context.Background(), "claim")
	require.Error(t, err)
	assert.Len(t, rep.SearchErrors, 2)
	assert.Zero(t, gw.count(ranking.ResponseSchema.Name()))
}

func TestRun_SynthesisFailureKeepsReport(t *testing.T) {
	gw := newScriptedGateway()
	search := &fakeSearcher{perHit: 4}
	p := newTestPipeline(t, gw, testPipelineConfig(), WithSearcher(search), WithSynthesizer(&fakeSynth{err: errors.New("down")}))

	rep, err := p.Run(context.Background(), "claim")
	require.NoError(t, err)
	assert.Empty(t, rep.Synthesis)
	assert.Len(t, rep.Papers, 3)
}

func TestRun_RequiresSearcher(t *testing.T) {
	p := newTestPipeline(t, newScriptedGateway(), testPipelineConfig())
	_, err := p.Run(context.Background(), "claim")
	assert.Error(t, err)
}

func TestGenerateQueries_FallsBackToClaim(t *testing.T) {
	gw := newScriptedGateway()
	gw.queries = `I could not think of any queries.`
	p := newTestPipeline(t, gw, testPipelineConfig())

	assert.Equal(t, []string{"the claim"}, p.GenerateQueries(context.Background(), "the claim"))
}

func TestCapQueries(t *testing.T) {
	got := capQueries([]string{" a  b ", "A B", "c", "", "d"}, 2)
	assert.Equal(t, []string{"a b", "c"}, got)
	assert.Empty(t, capQueries(nil, 3))
}

func TestAnalysisSchemaMatchesScript(t *testing.T) {
	assert.Equal(t, "paper_analysis", analysis.NewSchema(3).Name())
}

func TestModelSynthesizer(t *testing.T) {
	gw := &synthGateway{}
	orch, err := orchestrator.New(gw, nil, testPipelineConfig().Orchestrator)
	require.NoError(t, err)
	s := NewModelSynthesizer(orch, orchestrator.CallOptions{Model: "m"})

	papers := []types.RankedPaper{
		{Paper: types.Paper{ID: "a", Title: "Alpha", Year: 2020}, Analysis: "Supports."},
		{Paper: types.Paper{ID: "b", Title: "Beta"}},
	}
	text, err := s.Synthesize(context.Background(), "the claim", papers)
	require.NoError(t, err)
	assert.Equal(t, "Overall supported [a].", text)
	assert.Contains(t, gw.prompt, "[a] Alpha (2020)")
	assert.NotContains(t, gw.prompt, "Beta")

	_, err = s.Synthesize(context.Background(), "the claim", papers[1:])
	assert.Error(t, err)
}

type synthGateway struct {
	prompt string
}

func (g *synthGateway) Name() string { return "synth" }

func (g *synthGateway) Generate(_ context.Context, req gateway.Request) (gateway.Response, error) {
	g.prompt = req.Prompt
	return gateway.Response{Text: `{"synthesis":" Overall supported [a]. "}`}, nil
}
