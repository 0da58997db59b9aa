// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/research-triage/internal/ratelimit"
	"github.com/pdiddy/research-triage/pkg/types"
)

func newTestViper(t *testing.T, cfgFile string) *viper.Viper {
	t.Helper()
	v := viper.New()
	configure(v, cfgFile)
	if cfgFile != "" {
		require.NoError(t, v.ReadInConfig())
	}
	return v
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(newTestViper(t, ""))
	require.NoError(t, err)
	assert.Equal(t, types.DefaultPipelineConfig(), cfg)
}

func TestLoadConfigEnvironment(t *testing.T) {
	t.Setenv("RESEARCH_TRIAGE_RANKING_ROUNDS", "7")
	t.Setenv("RESEARCH_TRIAGE_AI_MODEL", "ollama/llama3")
	t.Setenv("RESEARCH_TRIAGE_ORCHESTRATOR_RETRY_INITIAL_BACKOFF", "250ms")
	t.Setenv("RESEARCH_TRIAGE_SEARCH_BACKENDS", "arxiv,openalex")

	cfg, err := loadConfig(newTestViper(t, ""))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Ranking.Rounds)
	assert.Equal(t, "ollama/llama3", cfg.AI.Model)
	assert.Equal(t, 250*time.Millisecond, cfg.Orchestrator.Retry.InitialBackoff)
	assert.Equal(t, []string{"arxiv", "openalex"}, cfg.Search.Backends)
	assert.Equal(t, 5, cfg.Ranking.TopN)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "triage.yaml")
	doc := `
ai:
  model: claude-haiku-4-5
ranking:
  top_n: 8
  use_batch: true
orchestrator:
  rate_limit:
    kind: token_bucket
    requests: 10
    period: 1s
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := loadConfig(newTestViper(t, path))
	require.NoError(t, err)
	assert.Equal(t, "claude-haiku-4-5", cfg.AI.Model)
	assert.Equal(t, 8, cfg.Ranking.TopN)
	assert.True(t, cfg.Ranking.UseBatch)
	assert.Equal(t, types.LimiterTokenBucket, cfg.Orchestrator.RateLimit.Kind)
	assert.Equal(t, time.Second, cfg.Orchestrator.RateLimit.Period)
	assert.Equal(t, 3, cfg.Ranking.Rounds)
}

func TestBindFlagsOverrideOnlyWhenSet(t *testing.T) {
	t.Setenv("RESEARCH_TRIAGE_RANKING_ROUNDS", "7")

	cmd := &cobra.Command{Use: "rank"}
	addReviewFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--rounds", "9", "--seed", "42", "--model", "ollama/qwen3"}))

	v := newTestViper(t, "")
	require.NoError(t, bindFlags(v, cmd))
	cfg, err := loadConfig(v)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Ranking.Rounds)
	assert.Equal(t, uint64(42), cfg.Ranking.Seed)
	assert.Equal(t, "ollama/qwen3", cfg.AI.Model)
	assert.Equal(t, 5, cfg.Ranking.TopN, "unset flag keeps the default")
	assert.Equal(t, 500, cfg.Ranking.MinWords)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.PipelineConfig)
	}{
		{"no model", func(c *types.PipelineConfig) { c.AI.Model = "" }},
		{"inverted groups", func(c *types.PipelineConfig) { c.Ranking.MinGroupSize, c.Ranking.MaxGroupSize = 6, 3 }},
		{"zero group", func(c *types.PipelineConfig) { c.Ranking.MinGroupSize = 0 }},
		{"zero rounds", func(c *types.PipelineConfig) { c.Ranking.Rounds = 0 }},
		{"zero attempts", func(c *types.PipelineConfig) { c.Orchestrator.Retry.MaxAttempts = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := types.DefaultPipelineConfig()
			tt.mutate(&cfg)
			assert.Error(t, validate(cfg))
		})
	}
	assert.NoError(t, validate(types.DefaultPipelineConfig()))
}

func TestBuildGateway(t *testing.T) {
	ai := types.DefaultPipelineConfig().AI

	_, err := buildGateway(ai)
	assert.ErrorContains(t, err, "API key")

	ai.Model = "ollama/llama3"
	gw, err := buildGateway(ai)
	require.NoError(t, err)
	assert.Equal(t, "router", gw.Name())

	ai.Model = "gpt-4o"
	_, err = buildGateway(ai)
	assert.Error(t, err)

	ai.Model = "claude-sonnet-4-5"
	ai.APIKey = "sk-test"
	_, err = buildGateway(ai)
	assert.NoError(t, err)
}

func TestBuildOrchestratorBatchNeedsClaude(t *testing.T) {
	cfg := types.DefaultPipelineConfig()
	cfg.AI.Model = "ollama/llama3"
	_, closer, err := buildOrchestrator(cfg, zapNop(), true)
	assert.ErrorContains(t, err, "batch mode")
	assert.NoError(t, closer())

	cfg.AI.Model = "claude-sonnet-4-5"
	cfg.AI.APIKey = "sk-test"
	cfg.Orchestrator.Batch.StorePath = ":memory:"
	orch, closer, err := buildOrchestrator(cfg, zapNop(), true)
	require.NoError(t, err)
	assert.NotNil(t, orch)
	assert.NoError(t, closer())
}

func TestBuildLimiterSeparatesRoutes(t *testing.T) {
	cfg := types.DefaultPipelineConfig().Orchestrator
	routes, err := buildLimiter(cfg)
	require.NoError(t, err)
	assert.IsType(t, &ratelimit.SlidingWindow{}, routes.For("claude-sonnet-4-5"))
	assert.IsType(t, ratelimit.Noop{}, routes.For("ollama/llama3"))

	cfg.LocalRateLimit = types.RateLimitConfig{Kind: types.LimiterTokenBucket, Requests: 2, Period: time.Second}
	routes, err = buildLimiter(cfg)
	require.NoError(t, err)
	assert.IsType(t, &ratelimit.TokenBucket{}, routes.For("ollama/llama3"))
	assert.NotSame(t, routes.For("claude-sonnet-4-5"), routes.For("ollama/llama3"))

	cfg.LocalRateLimit = types.RateLimitConfig{Kind: types.LimiterWindow}
	_, err = buildLimiter(cfg)
	assert.ErrorContains(t, err, "local_rate_limit")
}

func TestLoadConfigLocalRateLimitFromEnvironment(t *testing.T) {
	t.Setenv("RESEARCH_TRIAGE_ORCHESTRATOR_LOCAL_RATE_LIMIT_KIND", "token_bucket")
	t.Setenv("RESEARCH_TRIAGE_ORCHESTRATOR_LOCAL_RATE_LIMIT_REQUESTS", "5")
	t.Setenv("RESEARCH_TRIAGE_ORCHESTRATOR_LOCAL_RATE_LIMIT_PERIOD", "1s")

	cfg, err := loadConfig(newTestViper(t, ""))
	require.NoError(t, err)
	assert.Equal(t, types.LimiterTokenBucket, cfg.Orchestrator.LocalRateLimit.Kind)
	assert.Equal(t, 5, cfg.Orchestrator.LocalRateLimit.Requests)
	assert.Equal(t, time.Second, cfg.Orchestrator.LocalRateLimit.Period)
	assert.Equal(t, types.LimiterWindow, cfg.Orchestrator.RateLimit.Kind)
}
