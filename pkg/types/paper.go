// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "strings"

// Paper is a normalized search result. Papers are created once during
// normalization and never mutated afterwards; scores and analysis live on
// RankedPaper.
type Paper struct {
	// ID is unique within a ranking run (a DOI slug or a title hash).
	ID string `json:"id" yaml:"id"`

	// DOI is the Digital Object Identifier (optional).
	DOI string `json:"doi,omitempty" yaml:"doi,omitempty"`

	// Title is the paper title.
	Title string `json:"title" yaml:"title"`

	// Authors lists the paper authors in source order.
	Authors []string `json:"authors,omitempty" yaml:"authors,omitempty"`

	// Year is the publication year (0 if unknown).
	Year int `json:"year,omitempty" yaml:"year,omitempty"`

	// FullText is the paper body used for filtering and deep analysis.
	FullText string `json:"full_text,omitempty" yaml:"full_text,omitempty"`

	// Journal is the journal or venue name.
	Journal string `json:"journal,omitempty" yaml:"journal,omitempty"`

	// CitationCount is the number of citations reported by the source.
	CitationCount int `json:"citation_count,omitempty" yaml:"citation_count,omitempty"`

	// URL is a landing page or download link.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
}

// WordCount returns the number of whitespace-separated words in FullText.
func (p Paper) WordCount() int {
	return len(strings.Fields(p.FullText))
}

// RankedPaper is a Paper promoted by the ranking stage and augmented by the
// deep analysis stage. It is owned by the caller once returned.
type RankedPaper struct {
	Paper `yaml:",inline"`

	// Score is the aggregated relevance score: 0 at minimum, conventionally at most 1.
	Score float64 `json:"score" yaml:"score"`

	// Analysis is the narrative relating the paper to the claim. Empty when
	// analysis failed.
	Analysis string `json:"analysis" yaml:"analysis"`

	// Quotes are verbatim supporting passages from the paper.
	Quotes []string `json:"quotes" yaml:"quotes"`

	// Citation is a formatted bibliographic reference.
	Citation string `json:"citation" yaml:"citation"`
}

// Analyzed reports whether the paper carries a non-empty analysis.
func (r RankedPaper) Analyzed() bool {
	return r.Analysis != ""
}
