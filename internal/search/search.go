// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package search queries academic APIs for candidate papers. Each backend
// returns raw records; merging duplicates across backends is left to the
// review pipeline's normalization.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/research-triage/pkg/types"
)

// defaultLimit is used when a caller passes no positive limit.
const defaultLimit = 20

// Backend searches a single academic API.
type Backend interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]types.RawResult, error)
}

// Multi fans a query out to several backends and concatenates their
// records in backend order. It satisfies the pipeline's Searcher.
type Multi struct {
	Backends []Backend

	// Delay staggers the start of consecutive backend requests.
	Delay time.Duration

	// Progress receives one warning line per failed backend.
	Progress io.Writer
	Logger   *zap.Logger
}

// Search queries every backend concurrently. A failing backend is logged
// and skipped; Search fails only when every backend fails.
func (m *Multi) Search(ctx context.Context, query string, limit int) ([]types.RawResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}
	if len(m.Backends) == 0 {
		return nil, errors.New("no search backends configured")
	}
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	progress := m.Progress
	if progress == nil {
		progress = io.Discard
	}

	type backendResult struct {
		results []types.RawResult
		err     error
	}

	out := make([]backendResult, len(m.Backends))
	var wg sync.WaitGroup

	for i, b := range m.Backends {
		if i > 0 && m.Delay > 0 {
			select {
			case <-time.After(m.Delay):
			case <-ctx.Done():
				out[i].err = ctx.Err()
				continue
			}
		}
		wg.Add(1)
		go func(i int, b Backend) {
			defer wg.Done()
			results, err := b.Search(ctx, query, limit)
			out[i] = backendResult{results: results, err: err}
		}(i, b)
	}
	wg.Wait()

	var all []types.RawResult
	var errs []error
	for i, br := range out {
		name := m.Backends[i].Name()
		if br.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, br.err))
			logger.Warn("search backend failed", zap.String("backend", name), zap.String("query", query), zap.Error(br.err))
			fmt.Fprintf(progress, "warning: backend %s failed: %v\n", name, br.err)
			continue
		}
		all = append(all, br.results...)
	}
	if len(errs) == len(m.Backends) {
		return nil, errors.Join(errs...)
	}
	return all, nil
}

// NewBackends builds the backends named in cfg.Backends. Unknown names
// are an error.
func NewBackends(cfg types.SearchConfig, httpCfg types.HTTPConfig, client *http.Client) ([]Backend, error) {
	var backends []Backend
	for _, name := range cfg.Backends {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "openalex":
			backends = append(backends, &OpenAlexBackend{Client: client, Email: cfg.OpenAlexEmail, UserAgent: httpCfg.UserAgent})
		case "arxiv":
			backends = append(backends, &ArxivBackend{Client: client, UserAgent: httpCfg.UserAgent})
		case "semantic_scholar", "semantic-scholar", "semanticscholar":
			backends = append(backends, &SemanticScholarBackend{Client: client, APIKey: cfg.SemanticScholarAPIKey, UserAgent: httpCfg.UserAgent})
		default:
			return nil, fmt.Errorf("unknown search backend %q: use openalex, arxiv, or semantic_scholar", name)
		}
	}
	if len(backends) == 0 {
		return nil, errors.New("no search backends configured")
	}
	return backends, nil
}

func clampLimit(limit, ceiling int) int {
	if limit <= 0 {
		limit = defaultLimit
	}
	if ceiling > 0 && limit > ceiling {
		limit = ceiling
	}
	return limit
}
