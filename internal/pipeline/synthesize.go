// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/pdiddy/research-triage/internal/analysis"
	"github.com/pdiddy/research-triage/internal/orchestrator"
	"github.com/pdiddy/research-triage/internal/schema"
	"github.com/pdiddy/research-triage/pkg/types"
)

var synthesisPromptTmpl = template.Must(template.New("synthesis").Parse(`You are writing the conclusion of a literature review. Using only the analyses below, summarize in two or three paragraphs how the evidence bears on the claim, where the papers agree, and where they disagree. Cite papers by their id in square brackets.

Claim: {{.Claim}}
{{range .Papers}}
[{{.ID}}] {{.Title}}{{if .Year}} ({{.Year}}){{end}}
{{.Analysis}}
{{end}}`))

// synthesisReply is the reply expected from the synthesis call.
type synthesisReply struct {
	Synthesis string `json:"synthesis"`
}

var synthesisSchema = schema.New[synthesisReply]("review_synthesis", func(r *synthesisReply) error {
	if strings.TrimSpace(r.Synthesis) == "" {
		return errors.New("synthesis is empty")
	}
	return nil
})

// ModelSynthesizer writes the summary with one model call.
type ModelSynthesizer struct {
	proc analysis.Processor
	call orchestrator.CallOptions
}

// NewModelSynthesizer returns a Synthesizer issuing its call through proc.
func NewModelSynthesizer(proc analysis.Processor, call orchestrator.CallOptions) *ModelSynthesizer {
	call.Schema = synthesisSchema
	return &ModelSynthesizer{proc: proc, call: call}
}

// Synthesize summarizes the analyzed papers. Papers without an analysis are
// left out; none analyzed is an error.
func (s *ModelSynthesizer) Synthesize(ctx context.Context, claim string, papers []types.RankedPaper) (string, error) {
	var analyzed []types.RankedPaper
	for _, p := range papers {
		if p.Analyzed() {
			analyzed = append(analyzed, p)
		}
	}
	if len(analyzed) == 0 {
		return "", errors.New("no analyzed papers to synthesize")
	}

	var buf bytes.Buffer
	if err := synthesisPromptTmpl.Execute(&buf, struct {
		Claim  string
		Papers []types.RankedPaper
	}{claim, analyzed}); err != nil {
		return "", fmt.Errorf("rendering synthesis prompt: %w", err)
	}

	res := s.proc.ProcessMany(ctx, []string{buf.String()}, s.call)[0]
	if res.Err != nil {
		return "", fmt.Errorf("synthesizing: %w", res.Err)
	}
	reply, ok := schema.Value[synthesisReply](res.Value)
	if !ok {
		return "", fmt.Errorf("synthesizing: unexpected response type %T", res.Value)
	}
	return strings.TrimSpace(reply.Synthesis), nil
}
