// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/research-triage/internal/pipeline"
	"github.com/pdiddy/research-triage/pkg/types"
)

func sampleReport() pipeline.Report {
	return pipeline.Report{
		RunID:      "run-1",
		Claim:      "Sleep consolidates memory",
		Queries:    []string{"sleep memory"},
		Collected:  4,
		Normalized: 3,
		Eligible:   2,
		Papers: []types.RankedPaper{
			{
				Paper: types.Paper{
					ID:      "doi-10-1-a",
					DOI:     "10.1/a",
					Title:   "Sleep | Memory",
					Authors: []string{"Jane Doe", "Smith, John"},
					Year:    2021,
					Journal: "Neuron",
				},
				Score:    0.9,
				Analysis: "Strong support.",
				Quotes:   []string{"first quote", "second quote"},
				Citation: "Doe, J., & Smith, J. (2021). Sleep | Memory. Neuron. https://doi.org/10.1/a",
			},
			{
				Paper:  types.Paper{ID: "t-abc", Title: "Unanalyzed", Authors: []string{"Plato"}},
				Score:  0.4,
				Quotes: []string{},
			},
		},
		SearchErrors: []string{"rem sleep: timeout"},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"yaml": FormatYAML, "JSON": FormatJSON, "md": FormatMarkdown,
		"markdown": FormatMarkdown, " html ": FormatHTML, "csl": FormatCSL,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("latex")
	assert.Error(t, err)
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleReport(), FormatYAML))

	var got pipeline.Report
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "run-1", got.RunID)
	require.Len(t, got.Papers, 2)
	assert.Equal(t, "doi-10-1-a", got.Papers[0].ID)
	assert.Equal(t, "Strong support.", got.Papers[0].Analysis)
	assert.InDelta(t, 0.9, got.Papers[0].Score, 1e-9)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleReport(), FormatJSON))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "Sleep consolidates memory", got["claim"])
	papers, ok := got["papers"].([]any)
	require.True(t, ok)
	assert.Len(t, papers, 2)
}

func TestWriteMarkdown(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleReport(), FormatMarkdown))
	out := buf.String()

	assert.Contains(t, out, "**Claim:** Sleep consolidates memory")
	assert.Contains(t, out, "| 1 | Sleep \\| Memory | 2021 | 0.90 |")
	assert.Contains(t, out, "## 1. Sleep | Memory")
	assert.Contains(t, out, "> first quote")
	assert.Contains(t, out, "## 2. Unanalyzed")
	assert.Contains(t, out, "_No analysis available._")
	assert.Contains(t, out, "- rem sleep: timeout")
	assert.NotContains(t, out, "## Synthesis")
}

func TestWriteMarkdown_NoPapers(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMarkdown(&buf, pipeline.Report{Claim: "c"}))
	assert.Contains(t, buf.String(), "No papers met the ranking criteria.")
}

func TestWriteHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleReport(), FormatHTML))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "<!doctype html>"))
	assert.Contains(t, out, "<title>Sleep consolidates memory</title>")
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<blockquote>")
	assert.Contains(t, out, "<h2>1. Sleep | Memory</h2>")
}

func TestWriteCSL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleReport(), FormatCSL))

	var items []CSLItem
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &items))
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, "doi-10-1-a", first.ID)
	assert.Equal(t, "article-journal", first.Type)
	assert.Equal(t, "Neuron", first.ContainerTitle)
	assert.Equal(t, "10.1/a", first.DOI)
	assert.Equal(t, [][]int{{2021}}, first.Issued.DateParts)
	assert.Equal(t, []CSLName{{Given: "Jane", Family: "Doe"}, {Given: "John", Family: "Smith"}}, first.Author)
	assert.Equal(t, "Strong support.", first.Note)

	second := items[1]
	assert.Equal(t, "article", second.Type)
	assert.Nil(t, second.Issued)
	assert.Equal(t, []CSLName{{Literal: "Plato"}}, second.Author)
	assert.Contains(t, buf.String(), "DOI: 10.1/a")
}

func TestWriteUnknownFormat(t *testing.T) {
	assert.Error(t, Write(&bytes.Buffer{}, sampleReport(), Format("pdf")))
}
