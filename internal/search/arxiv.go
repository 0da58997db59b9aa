// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/research-triage/internal/httputil"
	"github.com/pdiddy/research-triage/pkg/types"
)

// arxivAPIBase is the arXiv search endpoint. Declared as a var so tests
// can substitute an httptest server.
var arxivAPIBase = "https://export.arxiv.org/api/query"

// ArxivBackend queries the arXiv API.
type ArxivBackend struct {
	Client    *http.Client
	UserAgent string
}

// Name returns the backend identifier.
func (b *ArxivBackend) Name() string { return "arxiv" }

// Search queries the arXiv API. The summary becomes the record's text.
func (b *ArxivBackend) Search(ctx context.Context, query string, limit int) ([]types.RawResult, error) {
	q := buildArxivQuery(query)
	if q == "" {
		return nil, fmt.Errorf("empty arXiv query")
	}

	reqURL := fmt.Sprintf("%s?search_query=%s&start=0&max_results=%d&sortBy=relevance&sortOrder=descending",
		arxivAPIBase, q, clampLimit(limit, 0))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", b.UserAgent)

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("arXiv API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arXiv API returned HTTP %d", resp.StatusCode)
	}

	var feed arxivFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("parsing arXiv response: %w", err)
	}

	var results []types.RawResult
	for _, entry := range feed.Entries {
		arxivID := extractArxivID(entry.ID)
		if arxivID == "" {
			continue
		}

		r := types.RawResult{
			Title:    strings.Join(strings.Fields(entry.Title), " "),
			FullText: strings.TrimSpace(entry.Summary),
			DOI:      strings.TrimSpace(entry.DOI),
			Journal:  strings.TrimSpace(entry.JournalRef),
			URL:      "https://arxiv.org/abs/" + arxivID,
			Source:   "arxiv",
		}
		for _, a := range entry.Authors {
			r.Authors = append(r.Authors, strings.TrimSpace(a.Name))
		}
		if t, parseErr := time.Parse(time.RFC3339, entry.Published); parseErr == nil {
			r.Year = t.Year()
		}
		results = append(results, r)
	}
	return results, nil
}

// buildArxivQuery turns free text into an all-fields conjunction.
func buildArxivQuery(q string) string {
	terms := strings.Fields(q)
	if len(terms) == 0 {
		return ""
	}
	for i, t := range terms {
		terms[i] = url.QueryEscape(t)
	}
	return "all:" + strings.Join(terms, "+AND+all:")
}

// arXiv Atom feed XML structures.
type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID         string        `xml:"id"`
	Title      string        `xml:"title"`
	Summary    string        `xml:"summary"`
	Published  string        `xml:"published"`
	Authors    []arxivAuthor `xml:"author"`
	DOI        string        `xml:"http://arxiv.org/schemas/atom doi"`
	JournalRef string        `xml:"http://arxiv.org/schemas/atom journal_ref"`
}

type arxivAuthor struct {
	Name string `xml:"name"`
}

// extractArxivID pulls the arXiv ID from the entry's <id> URL
// (e.g. "http://arxiv.org/abs/2301.07041v1" becomes "2301.07041").
func extractArxivID(idURL string) string {
	const prefix = "/abs/"
	idx := strings.Index(idURL, prefix)
	if idx < 0 {
		return ""
	}
	id := idURL[idx+len(prefix):]

	// Strip version suffix (e.g. "v1", "v2").
	if vIdx := strings.LastIndex(id, "v"); vIdx > 0 {
		if _, err := strconv.Atoi(id[vIdx+1:]); err == nil {
			id = id[:vIdx]
		}
	}
	return id
}
