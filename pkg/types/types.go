// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the research-triage pipeline:
// inbound search records, normalized papers, ranked papers, batch job
// metadata, and the configuration of every stage.
package types

// RawResult is a candidate paper as delivered by the search/collection
// subsystem. Title and FullText are the only fields the pipeline requires.
type RawResult struct {
	// Title is the paper title as returned by the source.
	Title string `json:"title" yaml:"title"`

	// FullText is the extracted body text of the paper.
	FullText string `json:"full_text" yaml:"full_text"`

	// DOI is the Digital Object Identifier, when known.
	DOI string `json:"doi,omitempty" yaml:"doi,omitempty"`

	// Authors lists the paper authors in source order.
	Authors []string `json:"authors,omitempty" yaml:"authors,omitempty"`

	// Year is the publication year (0 if unknown).
	Year int `json:"year,omitempty" yaml:"year,omitempty"`

	// CitationCount is the number of citations reported by the source.
	CitationCount int `json:"citation_count,omitempty" yaml:"citation_count,omitempty"`

	// Journal is the journal or venue name.
	Journal string `json:"journal,omitempty" yaml:"journal,omitempty"`

	// URL is a landing page or download link.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Source identifies which backend found this result (e.g. "core", "arxiv").
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}
