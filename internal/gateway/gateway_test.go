// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/research-triage/internal/httputil"
	"github.com/pdiddy/research-triage/internal/schema"
)

func init() {
	httputil.RetryBaseDelay = time.Millisecond
}

type verdict struct {
	Label string `json:"label"`
}

var verdictSchema = schema.New[verdict]("verdict", nil)

type stubGateway struct {
	name  string
	model string
}

func (s *stubGateway) Name() string { return s.name }

func (s *stubGateway) Generate(_ context.Context, req Request) (Response, error) {
	s.model = req.Model
	return Response{Text: s.name}, nil
}

func TestRouter(t *testing.T) {
	claude := &stubGateway{name: "claude"}
	ollama := &stubGateway{name: "ollama"}
	r := NewRouter(claude).Handle("ollama/", true, ollama).Handle("claude-", false, claude)

	resp, err := r.Generate(context.Background(), Request{Model: "ollama/llama3.1"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", resp.Text)
	assert.Equal(t, "llama3.1", ollama.model)

	resp, err = r.Generate(context.Background(), Request{Model: "claude-sonnet-4-5"})
	require.NoError(t, err)
	assert.Equal(t, "claude", resp.Text)
	assert.Equal(t, "claude-sonnet-4-5", claude.model)

	resp, err = r.Generate(context.Background(), Request{Model: "something-else"})
	require.NoError(t, err)
	assert.Equal(t, "claude", resp.Text)
}

func TestRouterWithoutFallback(t *testing.T) {
	r := NewRouter(nil)
	_, err := r.Generate(context.Background(), Request{Model: "gpt-4"})
	assert.ErrorContains(t, err, "no backend")
}

func TestSystemWithSchema(t *testing.T) {
	assert.Equal(t, "be brief", systemWithSchema("be brief", nil))

	got := systemWithSchema("be brief", verdictSchema)
	assert.Contains(t, got, "be brief")
	assert.Contains(t, got, `"verdict"`)
	assert.Contains(t, got, `"label"`)
}

// --- Claude ---

type fakeMessager struct {
	params anthropic.MessageNewParams
	msg    *anthropic.Message
	err    error
}

func (f *fakeMessager) New(_ context.Context, p anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	f.params = p
	return f.msg, f.err
}

func TestClaudeGenerate(t *testing.T) {
	fm := &fakeMessager{msg: &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: `{"label":`},
			{Type: "text", Text: `"yes"}`},
		},
		Usage: anthropic.Usage{InputTokens: 11, OutputTokens: 4},
	}}
	c := NewClaudeWithMessager(fm, 0)

	resp, err := c.Generate(context.Background(), Request{
		Model:       "claude-sonnet-4-5",
		Prompt:      "is it?",
		System:      "you judge",
		Temperature: 0.2,
		Schema:      verdictSchema,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"label":"yes"}`, resp.Text)
	assert.Equal(t, int64(11), resp.InputTokens)
	assert.Equal(t, int64(4), resp.OutputTokens)

	assert.Equal(t, anthropic.Model("claude-sonnet-4-5"), fm.params.Model)
	assert.Equal(t, int64(4096), fm.params.MaxTokens)
	require.Len(t, fm.params.System, 1)
	assert.Contains(t, fm.params.System[0].Text, "you judge")
	assert.Contains(t, fm.params.System[0].Text, "JSON Schema")
	require.Len(t, fm.params.Messages, 1)
}

func TestClaudeGenerateEmptyContent(t *testing.T) {
	c := NewClaudeWithMessager(&fakeMessager{msg: &anthropic.Message{}}, 100)
	_, err := c.Generate(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestClaudeErrorMapping(t *testing.T) {
	apiErr := &anthropic.Error{
		StatusCode: http.StatusTooManyRequests,
		Response:   &http.Response{Header: http.Header{"Retry-After": []string{"7"}}},
	}
	c := NewClaudeWithMessager(&fakeMessager{err: apiErr}, 100)
	_, err := c.Generate(context.Background(), Request{Prompt: "p"})

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.Equal(t, 7*time.Second, pe.RetryAfter)
	assert.Equal(t, "claude", pe.Provider)
}

func TestClaudeNetworkErrorPassesThrough(t *testing.T) {
	c := NewClaudeWithMessager(&fakeMessager{err: context.DeadlineExceeded}, 100)
	_, err := c.Generate(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var pe *ProviderError
	assert.False(t, errors.As(err, &pe))
}

// --- Ollama ---

func TestOllamaGenerate(t *testing.T) {
	var got ollamaRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"message":{"role":"assistant","content":" {\"label\":\"no\"} "},"prompt_eval_count":9,"eval_count":3,"done":true}`))
	}))
	defer ts.Close()

	o := &Ollama{BaseURL: ts.URL + "/", Client: ts.Client()}
	resp, err := o.Generate(context.Background(), Request{
		Model:  "llama3.1",
		Prompt: "is it?",
		System: "you judge",
		Schema: verdictSchema,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"label":"no"}`, resp.Text)
	assert.Equal(t, int64(9), resp.InputTokens)
	assert.Equal(t, int64(3), resp.OutputTokens)

	assert.Equal(t, "llama3.1", got.Model)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.JSONEq(t, string(verdictSchema.Definition()), string(got.Format))
}

func TestOllamaRetriesThenProviderError(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("model loading"))
	}))
	defer ts.Close()

	o := &Ollama{BaseURL: ts.URL, Client: ts.Client(), MaxRetries: 2}
	_, err := o.Generate(context.Background(), Request{Model: "llama3.1", Prompt: "p"})

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusServiceUnavailable, pe.StatusCode)
	assert.Equal(t, "model loading", pe.Message)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestOllamaBadRequestNotRetried(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	o := &Ollama{BaseURL: ts.URL, Client: ts.Client()}
	_, err := o.Generate(context.Background(), Request{Model: "missing", Prompt: "p"})

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusNotFound, pe.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
