// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/pdiddy/research-triage/internal/httputil"
)

// Messager is the slice of the Anthropic Messages API the Claude gateway
// uses. *anthropic.MessageService satisfies it.
type Messager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Claude sends requests to the Anthropic Messages API.
type Claude struct {
	messages  Messager
	maxTokens int
}

// ClaudeOptions configures NewClaude.
type ClaudeOptions struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client

	// MaxTokens applies when a request does not set its own.
	MaxTokens int
}

// NewClaude builds a Claude gateway over the official SDK client. SDK-level
// retries are disabled; the orchestrator owns the retry policy.
func NewClaude(opts ClaudeOptions) *Claude {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	client := anthropic.NewClient(reqOpts...)
	return NewClaudeWithMessager(&client.Messages, opts.MaxTokens)
}

// NewClaudeWithMessager builds a Claude gateway over any Messager.
func NewClaudeWithMessager(m Messager, maxTokens int) *Claude {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Claude{messages: m, maxTokens: maxTokens}
}

// Name returns "claude".
func (c *Claude) Name() string { return "claude" }

// Generate sends one Messages API call and concatenates the text blocks of
// the reply.
func (c *Claude) Generate(ctx context.Context, req Request) (Response, error) {
	msg, err := c.messages.New(ctx, c.params(req))
	if err != nil {
		return Response{}, claudeError(err)
	}
	text := messageText(msg)
	if text == "" {
		return Response{}, fmt.Errorf("claude: %w", ErrEmptyResponse)
	}
	return Response{
		Text:         text,
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}

func (c *Claude) params(req Request) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	p := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   int64(maxTokens),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
		Temperature: anthropic.Float(req.Temperature),
	}
	if sys := systemWithSchema(req.System, req.Schema); sys != "" {
		p.System = []anthropic.TextBlockParam{{Text: sys}}
	}
	return p
}

func messageText(msg *anthropic.Message) string {
	if msg == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

// claudeError converts SDK API errors to *ProviderError and passes every
// other error (network, context) through wrapped.
func claudeError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("calling claude: %w", err)
	}
	pe := &ProviderError{
		Provider:   "claude",
		StatusCode: apiErr.StatusCode,
		Message:    apiErr.RawJSON(),
	}
	if pe.Message == "" {
		pe.Message = http.StatusText(apiErr.StatusCode)
	}
	if apiErr.Response != nil {
		if ra, ok := httputil.RetryAfter(apiErr.Response.Header); ok {
			pe.RetryAfter = ra
		}
	}
	return pe
}
