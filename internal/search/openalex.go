// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/pdiddy/research-triage/internal/httputil"
	"github.com/pdiddy/research-triage/pkg/types"
)

// openAlexSearchBase is the OpenAlex Works search endpoint. Declared as a
// var so tests can substitute an httptest server.
var openAlexSearchBase = "https://api.openalex.org/works"

// OpenAlexBackend queries the OpenAlex API.
type OpenAlexBackend struct {
	Client *http.Client
	// Email is sent as mailto parameter for polite pool access.
	Email     string
	UserAgent string
}

// Name returns the backend identifier.
func (b *OpenAlexBackend) Name() string { return "openalex" }

// Search queries the OpenAlex API. The reconstructed abstract becomes the
// record's text.
func (b *OpenAlexBackend) Search(ctx context.Context, query string, limit int) ([]types.RawResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty OpenAlex query")
	}

	params := url.Values{
		"search":   {query},
		"per_page": {fmt.Sprintf("%d", clampLimit(limit, 200))},
		"page":     {"1"},
	}
	if b.Email != "" {
		params.Set("mailto", b.Email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openAlexSearchBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", b.UserAgent)

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("OpenAlex API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OpenAlex API returned HTTP %d", resp.StatusCode)
	}

	var oar openAlexResponse
	if err := json.NewDecoder(resp.Body).Decode(&oar); err != nil {
		return nil, fmt.Errorf("parsing OpenAlex response: %w", err)
	}

	results := make([]types.RawResult, 0, len(oar.Results))
	for _, work := range oar.Results {
		r := types.RawResult{
			Title:         work.Title,
			FullText:      reconstructAbstract(work.AbstractInvertedIndex),
			DOI:           strings.TrimPrefix(work.DOI, "https://doi.org/"),
			Year:          work.PublicationYear,
			CitationCount: work.CitedByCount,
			Source:        "openalex",
		}
		for _, authorship := range work.Authorships {
			if authorship.Author.DisplayName != "" {
				r.Authors = append(r.Authors, authorship.Author.DisplayName)
			}
		}
		if work.PrimaryLocation.Source != nil {
			r.Journal = work.PrimaryLocation.Source.DisplayName
		}
		switch {
		case work.OpenAccess.OAURL != "":
			r.URL = work.OpenAccess.OAURL
		case work.PrimaryLocation.LandingPageURL != "":
			r.URL = work.PrimaryLocation.LandingPageURL
		default:
			r.URL = work.ID
		}
		results = append(results, r)
	}
	return results, nil
}

// reconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text. The inverted index maps each word to a list of positions
// where that word appears.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}

// OpenAlex API JSON structures.
type openAlexResponse struct {
	Results []openAlexWork `json:"results"`
}

type openAlexWork struct {
	ID                    string               `json:"id"`
	Title                 string               `json:"title"`
	DOI                   string               `json:"doi"`
	PublicationYear       int                  `json:"publication_year"`
	CitedByCount          int                  `json:"cited_by_count"`
	Authorships           []openAlexAuthorship `json:"authorships"`
	AbstractInvertedIndex map[string][]int     `json:"abstract_inverted_index"`
	OpenAccess            openAlexOpenAccess   `json:"open_access"`
	PrimaryLocation       openAlexLocation     `json:"primary_location"`
}

type openAlexAuthorship struct {
	Author openAlexAuthor `json:"author"`
}

type openAlexAuthor struct {
	DisplayName string `json:"display_name"`
}

type openAlexOpenAccess struct {
	OAURL string `json:"oa_url"`
}

type openAlexLocation struct {
	LandingPageURL string          `json:"landing_page_url"`
	Source         *openAlexSource `json:"source"`
}

type openAlexSource struct {
	DisplayName string `json:"display_name"`
}
