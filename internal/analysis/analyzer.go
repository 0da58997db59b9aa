// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package analysis runs the deep per-paper analysis of ranking winners:
// a narrative relating each paper to the claim plus verbatim supporting
// quotes, and a formatted citation.
package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pdiddy/research-triage/internal/orchestrator"
	"github.com/pdiddy/research-triage/internal/ranking"
	"github.com/pdiddy/research-triage/internal/schema"
	"github.com/pdiddy/research-triage/pkg/types"
)

var analysisPromptTmpl = template.Must(template.New("analysis").Funcs(template.FuncMap{"join": strings.Join}).Parse(`You are assisting with a literature review. Read the paper below and explain how it relates to the claim: whether it supports, contradicts, or qualifies it, and on what evidence.

Claim: {{.Claim}}

Title: {{.Paper.Title}}{{if .Paper.Authors}}
Authors: {{join .Paper.Authors ", "}}{{end}}{{if .Paper.Year}}
Year: {{.Paper.Year}}{{end}}

Respond with an "analysis" of one or two paragraphs and exactly {{.QuoteCount}} "quotes": short passages copied verbatim from the paper text that best support your analysis.

Paper text:
{{.Text}}
`))

// Response is the reply expected for every analysis prompt.
type Response struct {
	Analysis string   `json:"analysis"`
	Quotes   []string `json:"quotes"`
}

// Processor issues the analysis calls. *orchestrator.Orchestrator
// implements it.
type Processor interface {
	ProcessMany(ctx context.Context, prompts []string, opts orchestrator.CallOptions) []orchestrator.Result
}

// Analyzer produces RankedPapers from ranking candidates.
type Analyzer struct {
	proc   Processor
	cfg    types.AnalysisConfig
	call   orchestrator.CallOptions
	logger *zap.Logger
	tracer trace.Tracer
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// NewAnalyzer returns an Analyzer. A QuoteCount of zero or less means 3.
func NewAnalyzer(proc Processor, cfg types.AnalysisConfig, call orchestrator.CallOptions, opts ...Option) *Analyzer {
	if cfg.QuoteCount <= 0 {
		cfg.QuoteCount = 3
	}
	call.Schema = NewSchema(cfg.QuoteCount)
	a := &Analyzer{
		proc:   proc,
		cfg:    cfg,
		call:   call,
		logger: zap.NewNop(),
		tracer: otel.Tracer("github.com/pdiddy/research-triage/internal/analysis"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewSchema returns the analysis output schema requiring exactly quoteCount
// non-empty quotes and a non-empty analysis.
func NewSchema(quoteCount int) *schema.Object[Response] {
	return schema.New[Response]("paper_analysis", func(r *Response) error {
		if strings.TrimSpace(r.Analysis) == "" {
			return errors.New("analysis is empty")
		}
		if len(r.Quotes) != quoteCount {
			return fmt.Errorf("want %d quotes, got %d", quoteCount, len(r.Quotes))
		}
		for i, q := range r.Quotes {
			if strings.TrimSpace(q) == "" {
				return fmt.Errorf("quote %d is empty", i+1)
			}
		}
		return nil
	})
}

// Analyze issues one call per candidate, all concurrently, and returns one
// RankedPaper per candidate in the same order. A candidate whose reply is
// missing or malformed keeps its score with an empty analysis and no
// quotes. When every call fails fatally Analyze returns an error.
func (a *Analyzer) Analyze(ctx context.Context, claim string, candidates []ranking.Candidate) ([]types.RankedPaper, error) {
	ctx, span := a.tracer.Start(ctx, "analysis.Analyze", trace.WithAttributes(attribute.Int("candidates", len(candidates))))
	defer span.End()

	if len(candidates) == 0 {
		return nil, nil
	}

	prompts := make([]string, len(candidates))
	for i, c := range candidates {
		p, err := a.renderPrompt(claim, c.Paper)
		if err != nil {
			return nil, fmt.Errorf("rendering analysis prompt: %w", err)
		}
		prompts[i] = p
	}

	results := a.proc.ProcessMany(ctx, prompts, a.call)

	out := make([]types.RankedPaper, len(candidates))
	fatal := 0
	var firstFatal error
	for i, c := range candidates {
		rp := types.RankedPaper{
			Paper:    c.Paper,
			Score:    c.Score,
			Quotes:   []string{},
			Citation: Citation(c.Paper),
		}
		res := results[i]
		switch {
		case res.Err != nil:
			if orchestrator.IsFatal(res.Err) {
				fatal++
				if firstFatal == nil {
					firstFatal = res.Err
				}
			}
			a.logger.Warn("analysis: call failed",
				zap.String("paper", c.Paper.ID),
				zap.Error(res.Err),
			)
		default:
			resp, ok := schema.Value[Response](res.Value)
			if !ok {
				a.logger.Warn("analysis: unexpected response type",
					zap.String("paper", c.Paper.ID),
					zap.String("type", fmt.Sprintf("%T", res.Value)),
				)
				break
			}
			rp.Analysis = strings.TrimSpace(resp.Analysis)
			rp.Quotes = resp.Quotes
		}
		out[i] = rp
	}

	if fatal == len(candidates) {
		return nil, eris.Wrap(firstFatal, "every analysis call failed")
	}
	return out, nil
}

func (a *Analyzer) renderPrompt(claim string, p types.Paper) (string, error) {
	var buf bytes.Buffer
	err := analysisPromptTmpl.Execute(&buf, struct {
		Claim      string
		Paper      types.Paper
		QuoteCount int
		Text       string
	}{
		Claim:      claim,
		Paper:      p,
		QuoteCount: a.cfg.QuoteCount,
		Text:       truncate(p.FullText, a.cfg.MaxChars),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
// max <= 0 leaves s unchanged.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
