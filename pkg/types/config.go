// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by gateways that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests.
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// AIConfig selects the model backend and its credentials.
type AIConfig struct {
	// Model is the model identifier. A "claude-" prefix routes to the
	// Anthropic backend, an "ollama/" prefix to a local Ollama server.
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the authentication key for the Anthropic API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// OllamaURL is the base URL of an Ollama server (default http://localhost:11434).
	OllamaURL string `json:"ollama_url,omitempty" yaml:"ollama_url,omitempty" mapstructure:"ollama_url"`

	// Temperature is the sampling temperature for every call.
	Temperature float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`

	// MaxTokens bounds the length of each response.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`

	HTTP HTTPConfig `json:"http" yaml:"http" mapstructure:"http"`
}

// LimiterKind selects the rate limiting algorithm.
type LimiterKind string

const (
	LimiterWindow      LimiterKind = "window"
	LimiterTokenBucket LimiterKind = "token_bucket"
	LimiterNone        LimiterKind = "none"
)

// RateLimitConfig bounds the outbound request rate to one backend.
type RateLimitConfig struct {
	// Kind selects the algorithm: window (default), token_bucket, or none.
	Kind LimiterKind `json:"kind" yaml:"kind" mapstructure:"kind"`

	// Requests is the number of requests allowed per Period.
	Requests int `json:"requests" yaml:"requests" mapstructure:"requests"`

	// Period is the length of the rolling window.
	Period time.Duration `json:"period" yaml:"period" mapstructure:"period"`
}

// RetryConfig controls retries of transient backend failures.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts per call, including the first.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts" mapstructure:"max_attempts"`

	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff" mapstructure:"initial_backoff"`

	// Multiplier scales the delay after every failed attempt.
	Multiplier float64 `json:"multiplier" yaml:"multiplier" mapstructure:"multiplier"`

	// MaxBackoff caps a single delay.
	MaxBackoff time.Duration `json:"max_backoff" yaml:"max_backoff" mapstructure:"max_backoff"`
}

// BatchConfig controls asynchronous batch submissions.
type BatchConfig struct {
	// PollInterval is the sleep between status checks.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval"`

	// MaxPollDuration bounds the total time spent polling; the job is
	// canceled when it is exceeded. Zero means no bound.
	MaxPollDuration time.Duration `json:"max_poll_duration" yaml:"max_poll_duration" mapstructure:"max_poll_duration"`

	// StorePath is the SQLite database holding batch job records.
	StorePath string `json:"store_path" yaml:"store_path" mapstructure:"store_path"`
}

// OrchestratorConfig groups the request orchestration settings.
type OrchestratorConfig struct {
	// RateLimit bounds calls to Anthropic models.
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit" mapstructure:"rate_limit"`

	// LocalRateLimit bounds calls to Ollama models. It has its own budget.
	LocalRateLimit RateLimitConfig `json:"local_rate_limit" yaml:"local_rate_limit" mapstructure:"local_rate_limit"`

	Retry RetryConfig `json:"retry" yaml:"retry" mapstructure:"retry"`
	Batch BatchConfig `json:"batch" yaml:"batch" mapstructure:"batch"`

	// CallTimeout bounds a single backend call.
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout" mapstructure:"call_timeout"`

	// MaxConcurrency bounds in-flight calls per ProcessMany. Zero means unbounded;
	// the rate limiter still applies.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency" mapstructure:"max_concurrency"`

	// CacheSize is the number of successful responses kept in memory. Zero disables the cache.
	CacheSize int `json:"cache_size" yaml:"cache_size" mapstructure:"cache_size"`
}

// RankingConfig controls the tournament ranking stage.
type RankingConfig struct {
	// MinWords is the minimum full-text word count for a paper to be ranked.
	MinWords int `json:"min_words" yaml:"min_words" mapstructure:"min_words"`

	// MinGroupSize and MaxGroupSize bound the papers ranked in one call.
	MinGroupSize int `json:"min_group_size" yaml:"min_group_size" mapstructure:"min_group_size"`
	MaxGroupSize int `json:"max_group_size" yaml:"max_group_size" mapstructure:"max_group_size"`

	// Rounds is the number of reshuffled ranking passes.
	Rounds int `json:"rounds" yaml:"rounds" mapstructure:"rounds"`

	// TopN is the number of winners handed to deep analysis.
	TopN int `json:"top_n" yaml:"top_n" mapstructure:"top_n"`

	// Seed fixes the shuffle sequence. Zero draws a fresh seed per run.
	Seed uint64 `json:"seed" yaml:"seed" mapstructure:"seed"`

	// UseBatch submits the group prompts as one asynchronous batch job.
	UseBatch bool `json:"use_batch" yaml:"use_batch" mapstructure:"use_batch"`
}

// AnalysisConfig controls the deep analysis stage.
type AnalysisConfig struct {
	// QuoteCount is the number of verbatim quotes requested per paper.
	QuoteCount int `json:"quote_count" yaml:"quote_count" mapstructure:"quote_count"`

	// MaxChars truncates the full text sent to the model. Zero means no limit.
	MaxChars int `json:"max_chars" yaml:"max_chars" mapstructure:"max_chars"`

	// Synthesize asks the model for a summary across the analyzed papers.
	Synthesize bool `json:"synthesize" yaml:"synthesize" mapstructure:"synthesize"`
}

// SearchConfig controls the query generation and search fan-out.
type SearchConfig struct {
	// MaxQueries bounds the number of generated search queries.
	MaxQueries int `json:"max_queries" yaml:"max_queries" mapstructure:"max_queries"`

	// ResultsPerQuery bounds the records each backend returns per query.
	ResultsPerQuery int `json:"results_per_query" yaml:"results_per_query" mapstructure:"results_per_query"`

	// Backends names the search APIs queried by run: openalex, arxiv,
	// semantic_scholar.
	Backends []string `json:"backends" yaml:"backends" mapstructure:"backends"`

	// InterBackendDelay staggers the start of consecutive backend requests.
	InterBackendDelay time.Duration `json:"inter_backend_delay" yaml:"inter_backend_delay" mapstructure:"inter_backend_delay"`

	// OpenAlexEmail is sent as mailto for the OpenAlex polite pool.
	OpenAlexEmail string `json:"openalex_email,omitempty" yaml:"openalex_email,omitempty" mapstructure:"openalex_email"`

	// SemanticScholarAPIKey raises the Semantic Scholar rate limit.
	SemanticScholarAPIKey string `json:"semantic_scholar_api_key,omitempty" yaml:"semantic_scholar_api_key,omitempty" mapstructure:"semantic_scholar_api_key"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	OTLPEndpoint string  `json:"otlp_endpoint" yaml:"otlp_endpoint" mapstructure:"otlp_endpoint"`
	SampleRatio  float64 `json:"sample_ratio" yaml:"sample_ratio" mapstructure:"sample_ratio"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format is json or console.
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// PipelineConfig groups all stage configurations for the pipeline.
type PipelineConfig struct {
	AI           AIConfig           `json:"ai" yaml:"ai" mapstructure:"ai"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator" mapstructure:"orchestrator"`
	Ranking      RankingConfig      `json:"ranking" yaml:"ranking" mapstructure:"ranking"`
	Analysis     AnalysisConfig     `json:"analysis" yaml:"analysis" mapstructure:"analysis"`
	Search       SearchConfig       `json:"search" yaml:"search" mapstructure:"search"`
	Telemetry    TelemetryConfig    `json:"telemetry" yaml:"telemetry" mapstructure:"telemetry"`
	Log          LogConfig          `json:"log" yaml:"log" mapstructure:"log"`
}

// DefaultPipelineConfig returns the configuration used when no file,
// environment variable, or flag overrides a value.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		AI: AIConfig{
			Model:       "claude-sonnet-4-5",
			OllamaURL:   "http://localhost:11434",
			Temperature: 0,
			MaxTokens:   4096,
			HTTP: HTTPConfig{
				Timeout:   2 * time.Minute,
				UserAgent: "research-triage/0.1",
			},
		},
		Orchestrator: OrchestratorConfig{
			RateLimit: RateLimitConfig{
				Kind:     LimiterWindow,
				Requests: 50,
				Period:   time.Minute,
			},
			LocalRateLimit: RateLimitConfig{
				Kind: LimiterNone,
			},
			Retry: RetryConfig{
				MaxAttempts:    4,
				InitialBackoff: time.Second,
				Multiplier:     2,
				MaxBackoff:     30 * time.Second,
			},
			Batch: BatchConfig{
				PollInterval:    30 * time.Second,
				MaxPollDuration: 24 * time.Hour,
				StorePath:       "state/batches.db",
			},
			CallTimeout: 2 * time.Minute,
			CacheSize:   256,
		},
		Ranking: RankingConfig{
			MinWords:     500,
			MinGroupSize: 2,
			MaxGroupSize: 5,
			Rounds:       3,
			TopN:         5,
		},
		Analysis: AnalysisConfig{
			QuoteCount: 3,
			MaxChars:   120000,
		},
		Search: SearchConfig{
			MaxQueries:        5,
			ResultsPerQuery:   10,
			Backends:          []string{"openalex", "arxiv", "semantic_scholar"},
			InterBackendDelay: 200 * time.Millisecond,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "http://localhost:4318",
			SampleRatio:  1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
