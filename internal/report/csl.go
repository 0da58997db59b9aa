// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"io"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/research-triage/internal/analysis"
	"github.com/pdiddy/research-triage/internal/pipeline"
	"github.com/pdiddy/research-triage/pkg/types"
)

// CSLItem represents a bibliographic entry in CSL (Citation Style Language)
// format. The field names and structure follow the CSL-JSON/CSL-YAML schema
// so that output is consumable by Pandoc and reference managers.
type CSLItem struct {
	ID             string    `yaml:"id"`
	Type           string    `yaml:"type"`
	Title          string    `yaml:"title"`
	Author         []CSLName `yaml:"author,omitempty"`
	ContainerTitle string    `yaml:"container-title,omitempty"`
	Issued         *CSLDate  `yaml:"issued,omitempty"`
	DOI            string    `yaml:"DOI,omitempty"`
	URL            string    `yaml:"URL,omitempty"`
	Note           string    `yaml:"note,omitempty"`
}

// CSLName represents a person's name in CSL format.
type CSLName struct {
	Family  string `yaml:"family,omitempty"`
	Given   string `yaml:"given,omitempty"`
	Literal string `yaml:"literal,omitempty"`
}

// CSLDate represents a date in CSL format using date-parts.
type CSLDate struct {
	DateParts [][]int `yaml:"date-parts"`
}

// WriteCSL writes the ranked papers as a CSL-YAML list to w.
func WriteCSL(w io.Writer, rep pipeline.Report) error {
	items := make([]CSLItem, len(rep.Papers))
	for i, p := range rep.Papers {
		items[i] = toCSLItem(p)
	}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(items)
}

// toCSLItem converts a RankedPaper to a CSLItem. The analysis becomes the
// note so reference managers keep it next to the entry.
func toCSLItem(p types.RankedPaper) CSLItem {
	item := CSLItem{
		ID:             p.ID,
		Type:           "article-journal",
		Title:          p.Title,
		ContainerTitle: p.Journal,
		DOI:            p.DOI,
		URL:            p.URL,
		Note:           p.Analysis,
	}
	if p.Journal == "" {
		item.Type = "article"
	}
	for _, a := range p.Authors {
		n := analysis.SplitName(a)
		item.Author = append(item.Author, CSLName{Family: n.Family, Given: n.Given, Literal: n.Literal})
	}
	if p.Year > 0 {
		item.Issued = &CSLDate{DateParts: [][]int{{p.Year}}}
	}
	return item
}
