// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pdiddy/research-triage/internal/httputil"
)

// Ollama sends requests to a local Ollama server's /api/chat endpoint.
// Output schemas are passed natively in the request's format field.
type Ollama struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client

	// MaxRetries bounds the transport-level retries on 429 and gateway
	// errors. Zero uses the httputil default.
	MaxRetries int
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	PromptEvalCount int64         `json:"prompt_eval_count"`
	EvalCount       int64         `json:"eval_count"`
	Error           string        `json:"error"`
}

// Name returns "ollama".
func (o *Ollama) Name() string { return "ollama" }

// Generate sends one non-streaming chat request.
func (o *Ollama) Generate(ctx context.Context, req Request) (Response, error) {
	body := ollamaRequest{
		Model:   req.Model,
		Stream:  false,
		Options: ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	}
	if req.System != "" {
		body.Messages = append(body.Messages, ollamaMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, ollamaMessage{Role: "user", Content: req.Prompt})
	if req.Schema != nil {
		body.Format = req.Schema.Definition()
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(o.BaseURL, "/")+"/api/chat", bytes.NewReader(bodyBytes))
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.UserAgent != "" {
		httpReq.Header.Set("User-Agent", o.UserAgent)
	}

	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := httputil.DoWithRetry(ctx, client, httpReq, o.MaxRetries)
	if err != nil {
		return Response{}, fmt.Errorf("calling ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		pe := &ProviderError{Provider: "ollama", StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
		if ra, ok := httputil.RetryAfter(resp.Header); ok {
			pe.RetryAfter = ra
		}
		return Response{}, pe
	}

	var oResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&oResp); err != nil {
		return Response{}, fmt.Errorf("decoding ollama response: %w", err)
	}
	if oResp.Error != "" {
		return Response{}, fmt.Errorf("ollama error: %s", oResp.Error)
	}
	text := strings.TrimSpace(oResp.Message.Content)
	if text == "" {
		return Response{}, fmt.Errorf("ollama: %w", ErrEmptyResponse)
	}
	return Response{
		Text:         text,
		InputTokens:  oResp.PromptEvalCount,
		OutputTokens: oResp.EvalCount,
	}, nil
}
