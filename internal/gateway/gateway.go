// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package gateway adapts model backends to a single request/response shape.
// A Gateway turns one prompt into one raw text completion; parsing the
// completion against an output schema is left to the caller.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pdiddy/research-triage/internal/schema"
)

// Request is one completion request.
type Request struct {
	Model       string
	Prompt      string
	System      string
	Temperature float64
	MaxTokens   int

	// Schema, when set, declares the JSON shape the completion must take.
	Schema schema.OutputSchema
}

// Response is the raw completion text and its token usage.
type Response struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Gateway sends requests to one model backend.
type Gateway interface {
	Name() string
	Generate(ctx context.Context, req Request) (Response, error)
}

// ErrEmptyResponse is returned when a backend answered without any text.
var ErrEmptyResponse = errors.New("empty completion")

// ProviderError is returned when a backend answered with an error status.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string

	// RetryAfter is the server-requested delay, zero when absent.
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Router dispatches requests to a backend chosen by model-name prefix.
// The prefix is stripped from the model name when StripPrefix is set on
// the route.
type Router struct {
	routes   []route
	fallback Gateway
}

type route struct {
	prefix string
	strip  bool
	gw     Gateway
}

// NewRouter returns a Router that sends unmatched models to fallback.
func NewRouter(fallback Gateway) *Router {
	return &Router{fallback: fallback}
}

// Handle registers gw for model names starting with prefix. When strip is
// true the prefix is removed before the request reaches gw.
func (r *Router) Handle(prefix string, strip bool, gw Gateway) *Router {
	r.routes = append(r.routes, route{prefix: prefix, strip: strip, gw: gw})
	return r
}

// Name returns "router".
func (r *Router) Name() string { return "router" }

// Resolve returns the backend for model and the model name it should see.
func (r *Router) Resolve(model string) (Gateway, string, error) {
	for _, rt := range r.routes {
		if strings.HasPrefix(model, rt.prefix) {
			if rt.strip {
				return rt.gw, strings.TrimPrefix(model, rt.prefix), nil
			}
			return rt.gw, model, nil
		}
	}
	if r.fallback == nil {
		return nil, "", fmt.Errorf("no backend for model %q", model)
	}
	return r.fallback, model, nil
}

// Generate forwards req to the backend selected by req.Model.
func (r *Router) Generate(ctx context.Context, req Request) (Response, error) {
	gw, model, err := r.Resolve(req.Model)
	if err != nil {
		return Response{}, err
	}
	req.Model = model
	return gw.Generate(ctx, req)
}

// systemWithSchema appends the schema instruction to a system prompt for
// backends without native structured output.
func systemWithSchema(system string, s schema.OutputSchema) string {
	if s == nil {
		return system
	}
	var b strings.Builder
	if system != "" {
		b.WriteString(system)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Respond with a single JSON value named %q matching this JSON Schema. Do not include any text outside the JSON.\n", s.Name())
	b.Write(s.Definition())
	return b.String()
}
