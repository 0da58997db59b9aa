// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package report renders review results as YAML, JSON, Markdown, HTML, or
// a CSL-YAML bibliography.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"strings"
	"text/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/research-triage/internal/pipeline"
)

// Format names an output format.
type Format string

const (
	FormatYAML     Format = "yaml"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatCSL      Format = "csl"
)

// Formats lists the supported formats in help-text order.
var Formats = []Format{FormatYAML, FormatJSON, FormatMarkdown, FormatHTML, FormatCSL}

// ParseFormat validates a format name. "md" is accepted for markdown.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "md" {
		return FormatMarkdown, nil
	}
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unsupported format %q: use yaml, json, markdown, html, or csl", s)
}

// Write renders rep to w in the given format.
func Write(w io.Writer, rep pipeline.Report, f Format) error {
	switch f {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(rep)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	case FormatMarkdown:
		return WriteMarkdown(w, rep)
	case FormatHTML:
		return WriteHTML(w, rep)
	case FormatCSL:
		return WriteCSL(w, rep)
	}
	return fmt.Errorf("unsupported format %q", f)
}

var markdownTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"inc":   func(i int) int { return i + 1 },
	"score": func(f float64) string { return fmt.Sprintf("%.2f", f) },
	"cell":  func(s string) string { return strings.ReplaceAll(s, "|", `\|`) },
}).Parse(`# Literature review

**Claim:** {{.Claim}}

{{.Collected}} records collected, {{.Normalized}} distinct papers, {{.Eligible}} eligible for ranking.
{{- if .Queries}}

Queries:
{{range .Queries}}
- {{.}}
{{- end}}
{{- end}}
{{- if .Papers}}

| # | Paper | Year | Score |
|---|-------|------|-------|
{{- range $i, $p := .Papers}}
| {{inc $i}} | {{cell $p.Title}} | {{if $p.Year}}{{$p.Year}}{{end}} | {{score $p.Score}} |
{{- end}}
{{- range $i, $p := .Papers}}

## {{inc $i}}. {{$p.Title}}

Score: {{score $p.Score}}

{{if $p.Analysis}}{{$p.Analysis}}{{else}}_No analysis available._{{end}}
{{- range $p.Quotes}}

> {{.}}
{{- end}}

{{$p.Citation}}
{{- end}}
{{- else}}

No papers met the ranking criteria.
{{- end}}
{{- if .Synthesis}}

## Synthesis

{{.Synthesis}}
{{- end}}
{{- if .SearchErrors}}

## Search errors
{{range .SearchErrors}}
- {{.}}
{{- end}}
{{- end}}
`))

// WriteMarkdown renders rep as a Markdown document.
func WriteMarkdown(w io.Writer, rep pipeline.Report) error {
	if err := markdownTmpl.Execute(w, rep); err != nil {
		return fmt.Errorf("rendering markdown: %w", err)
	}
	return nil
}

// WriteHTML renders the Markdown document as a standalone HTML page.
func WriteHTML(w io.Writer, rep pipeline.Report) error {
	var md bytes.Buffer
	if err := WriteMarkdown(&md, rep); err != nil {
		return err
	}
	var body bytes.Buffer
	conv := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := conv.Convert(md.Bytes(), &body); err != nil {
		return fmt.Errorf("markdown convert: %w", err)
	}
	_, err := fmt.Fprintf(w, "<!doctype html><html><head><meta charset='utf-8'><title>%s</title>"+
		"<style>body{font-family:sans-serif;max-width:900px;margin:2rem auto;line-height:1.5}"+
		"table{border-collapse:collapse}th,td{border:1px solid #ccc;padding:0.3rem 0.5rem}"+
		"blockquote{color:#444;border-left:3px solid #ccc;margin-left:0;padding-left:1rem}</style>"+
		"</head><body>\n%s</body></html>\n", html.EscapeString(rep.Claim), body.String())
	return err
}
