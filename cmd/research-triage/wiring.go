// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/research-triage/internal/gateway"
	"github.com/pdiddy/research-triage/internal/jobstore"
	"github.com/pdiddy/research-triage/internal/orchestrator"
	"github.com/pdiddy/research-triage/internal/ratelimit"
	"github.com/pdiddy/research-triage/internal/secrets"
	"github.com/pdiddy/research-triage/pkg/types"
)

const (
	claudePrefix = "claude-"
	ollamaPrefix = "ollama/"
)

// buildGateway routes "claude-" models to Anthropic and "ollama/" models
// to the configured Ollama server.
func buildGateway(ai types.AIConfig) (gateway.Gateway, error) {
	if strings.HasPrefix(ai.Model, claudePrefix) && ai.APIKey == "" {
		return nil, fmt.Errorf("model %s needs an Anthropic API key: set %s or write .secrets/%s", ai.Model, secrets.AnthropicEnv, secrets.AnthropicAPIKey)
	}

	client := &http.Client{Timeout: ai.HTTP.Timeout}
	router := gateway.NewRouter(nil)
	if ai.APIKey != "" {
		router.Handle(claudePrefix, false, gateway.NewClaude(gateway.ClaudeOptions{
			APIKey:     ai.APIKey,
			HTTPClient: client,
			MaxTokens:  ai.MaxTokens,
		}))
	}
	router.Handle(ollamaPrefix, true, &gateway.Ollama{
		BaseURL:    ai.OllamaURL,
		UserAgent:  ai.HTTP.UserAgent,
		Client:     client,
		MaxRetries: 1,
	})
	if _, _, err := router.Resolve(ai.Model); err != nil {
		return nil, fmt.Errorf("%w (use a %q or %q model)", err, claudePrefix, ollamaPrefix)
	}
	return router, nil
}

// buildOrchestrator wires the gateway, per-route limiters, and, when batch is set, the
// Anthropic batch backend with its SQLite job store. The returned closer
// releases the store and is never nil.
func buildOrchestrator(cfg types.PipelineConfig, logger *zap.Logger, batch bool) (*orchestrator.Orchestrator, func() error, error) {
	noop := func() error { return nil }

	gw, err := buildGateway(cfg.AI)
	if err != nil {
		return nil, noop, err
	}
	lim, err := buildLimiter(cfg.Orchestrator)
	if err != nil {
		return nil, noop, err
	}

	opts := []orchestrator.Option{orchestrator.WithLogger(logger.Named("orchestrator"))}
	closer := noop
	if batch {
		if !strings.HasPrefix(cfg.AI.Model, claudePrefix) {
			return nil, noop, fmt.Errorf("batch mode needs a %q model, got %s", claudePrefix, cfg.AI.Model)
		}
		store, err := jobstore.Open(cfg.Orchestrator.Batch.StorePath)
		if err != nil {
			return nil, noop, err
		}
		closer = store.Close
		opts = append(opts,
			orchestrator.WithJobStore(store),
			orchestrator.WithBatchBackend(gateway.NewClaudeBatcherFromOptions(gateway.ClaudeOptions{
				APIKey:     cfg.AI.APIKey,
				HTTPClient: &http.Client{Timeout: cfg.AI.HTTP.Timeout},
				MaxTokens:  cfg.AI.MaxTokens,
			})),
		)
	}

	orch, err := orchestrator.New(gw, lim, cfg.Orchestrator, opts...)
	if err != nil {
		_ = closer()
		return nil, noop, err
	}
	return orch, closer, nil
}

// buildLimiter gives the Claude and Ollama routes separate budgets.
func buildLimiter(cfg types.OrchestratorConfig) (*ratelimit.Routes, error) {
	claude, err := ratelimit.New(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("rate_limit: %w", err)
	}
	local, err := ratelimit.New(cfg.LocalRateLimit)
	if err != nil {
		return nil, fmt.Errorf("local_rate_limit: %w", err)
	}
	return ratelimit.NewRoutes(nil).Add(claudePrefix, claude).Add(ollamaPrefix, local), nil
}

// callOptions returns the per-call settings shared by ad hoc batch prompts.
func callOptions(ai types.AIConfig, system string) orchestrator.CallOptions {
	return orchestrator.CallOptions{
		Model:       ai.Model,
		System:      system,
		Temperature: ai.Temperature,
		MaxTokens:   ai.MaxTokens,
	}
}
