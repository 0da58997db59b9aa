// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/research-triage/internal/orchestrator"
	"github.com/pdiddy/research-triage/internal/schema"
	"github.com/pdiddy/research-triage/pkg/types"
)

// maxSearchConcurrency bounds the searches in flight at once.
const maxSearchConcurrency = 4

var queryPromptTmpl = template.Must(template.New("queries").Parse(`You are planning the search phase of a literature review. Write up to {{.Max}} distinct search queries for academic databases that would find papers supporting or contradicting the claim below. Keep each query short: a few key terms, no boolean operators.

Claim: {{.Claim}}
`))

// QueryList is the reply expected from the query generation call.
type QueryList struct {
	Queries []string `json:"queries"`
}

// QuerySchema is the output schema of the query generation call.
var QuerySchema = schema.New[QueryList]("search_queries", func(q *QueryList) error {
	for _, s := range q.Queries {
		if strings.TrimSpace(s) != "" {
			return nil
		}
	}
	return errors.New("queries is empty")
})

// GenerateQueries asks the model for search queries for claim, trimmed,
// deduplicated, and capped at the configured maximum. When generation
// fails the claim itself is the only query.
func (p *Pipeline) GenerateQueries(ctx context.Context, claim string) []string {
	limit := max(p.cfg.Search.MaxQueries, 1)

	var buf bytes.Buffer
	if err := queryPromptTmpl.Execute(&buf, struct {
		Claim string
		Max   int
	}{claim, limit}); err != nil {
		p.logger.Warn("rendering query prompt", zap.Error(err))
		return []string{claim}
	}

	opts := p.call
	opts.Schema = QuerySchema
	res := p.proc.ProcessMany(ctx, []string{buf.String()}, opts)[0]
	if !res.OK() {
		p.logger.Warn("query generation failed, searching for the claim",
			zap.Error(res.Err),
			zap.Bool("malformed", orchestrator.IsMalformed(res.Err)),
		)
		return []string{claim}
	}
	list, ok := schema.Value[QueryList](res.Value)
	if !ok {
		return []string{claim}
	}
	if qs := capQueries(list.Queries, limit); len(qs) > 0 {
		return qs
	}
	return []string{claim}
}

func capQueries(queries []string, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, q := range queries {
		q = strings.Join(strings.Fields(q), " ")
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out
}

// search runs every query concurrently. Results are concatenated in query
// order; failures are logged and returned as "query: error" lines.
func (p *Pipeline) search(ctx context.Context, queries []string) ([]types.RawResult, []string) {
	found := make([][]types.RawResult, len(queries))
	errs := make([]error, len(queries))

	var g errgroup.Group
	g.SetLimit(maxSearchConcurrency)
	for i, q := range queries {
		g.Go(func() error {
			results, err := p.searcher.Search(ctx, q, p.cfg.Search.ResultsPerQuery)
			if err != nil {
				p.logger.Warn("search failed", zap.String("query", q), zap.Error(err))
				fmt.Fprintf(p.progress, "warning: search %q: %v\n", q, err)
				errs[i] = err
				return nil
			}
			found[i] = results
			return nil
		})
	}
	g.Wait()

	var (
		all      []types.RawResult
		failures []string
	)
	for i, results := range found {
		if errs[i] != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", queries[i], errs[i]))
			continue
		}
		all = append(all, results...)
	}
	return all, failures
}
