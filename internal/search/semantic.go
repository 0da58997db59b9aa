// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pdiddy/research-triage/internal/httputil"
	"github.com/pdiddy/research-triage/pkg/types"
)

// semanticAPIBase is the Semantic Scholar paper search endpoint. Declared
// as a var so tests can substitute an httptest server.
var semanticAPIBase = "https://api.semanticscholar.org/graph/v1/paper/search"

const semanticFields = "title,abstract,authors,externalIds,year,venue,citationCount,url"

// SemanticScholarBackend queries the Semantic Scholar API.
type SemanticScholarBackend struct {
	Client    *http.Client
	APIKey    string
	UserAgent string
}

// Name returns the backend identifier.
func (b *SemanticScholarBackend) Name() string { return "semantic_scholar" }

// Search queries the Semantic Scholar API. The abstract becomes the
// record's text.
func (b *SemanticScholarBackend) Search(ctx context.Context, query string, limit int) ([]types.RawResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty Semantic Scholar query")
	}

	params := url.Values{
		"query":  {query},
		"limit":  {fmt.Sprintf("%d", clampLimit(limit, 100))},
		"fields": {semanticFields},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, semanticAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", b.UserAgent)
	if b.APIKey != "" {
		req.Header.Set("x-api-key", b.APIKey)
	}

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("Semantic Scholar API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Semantic Scholar API returned HTTP %d", resp.StatusCode)
	}

	var sr semanticResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("parsing Semantic Scholar response: %w", err)
	}

	results := make([]types.RawResult, 0, len(sr.Data))
	for _, paper := range sr.Data {
		r := types.RawResult{
			Title:         paper.Title,
			FullText:      paper.Abstract,
			DOI:           paper.ExternalIDs.DOI,
			Year:          paper.Year,
			Journal:       paper.Venue,
			CitationCount: paper.CitationCount,
			URL:           paper.URL,
			Source:        "semantic_scholar",
		}
		for _, a := range paper.Authors {
			r.Authors = append(r.Authors, a.Name)
		}
		results = append(results, r)
	}
	return results, nil
}

// Semantic Scholar API JSON structures.
type semanticResponse struct {
	Data []semanticPaper `json:"data"`
}

type semanticPaper struct {
	Title         string              `json:"title"`
	Abstract      string              `json:"abstract"`
	Year          int                 `json:"year"`
	Venue         string              `json:"venue"`
	CitationCount int                 `json:"citationCount"`
	URL           string              `json:"url"`
	Authors       []semanticAuthor    `json:"authors"`
	ExternalIDs   semanticExternalIDs `json:"externalIds"`
}

type semanticAuthor struct {
	Name string `json:"name"`
}

type semanticExternalIDs struct {
	DOI   string `json:"DOI"`
	ArXiv string `json:"ArXiv"`
}
