// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pdiddy/research-triage/pkg/types"
)

// flagKeys maps command-line flags to configuration keys. A flag set on
// the command line overrides the environment and the config file.
var flagKeys = map[string]string{
	"model":             "ai.model",
	"temperature":       "ai.temperature",
	"rounds":            "ranking.rounds",
	"top-n":             "ranking.top_n",
	"min-words":         "ranking.min_words",
	"min-group":         "ranking.min_group_size",
	"max-group":         "ranking.max_group_size",
	"seed":              "ranking.seed",
	"batch":             "ranking.use_batch",
	"quotes":            "analysis.quote_count",
	"synthesize":        "analysis.synthesize",
	"max-queries":       "search.max_queries",
	"results-per-query": "search.results_per_query",
	"backends":          "search.backends",
	"store":             "orchestrator.batch.store_path",
	"poll-interval":     "orchestrator.batch.poll_interval",
	"log-level":         "log.level",
	"log-format":        "log.format",
}

// configure sets the config search path and environment binding on v.
// Every key is registered with its default so environment variables such
// as RESEARCH_TRIAGE_RANKING_ROUNDS reach Unmarshal.
func configure(v *viper.Viper, cfgFile string) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("research-triage")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "research-triage"))
		}
	}

	v.SetEnvPrefix("RESEARCH_TRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	registerDefaults(v, "", reflect.ValueOf(types.DefaultPipelineConfig()))
}

func registerDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := range t.NumField() {
		key := t.Field(i).Tag.Get("mapstructure")
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		fv := val.Field(i)
		if fv.Kind() == reflect.Struct {
			registerDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// bindFlags binds the flags cmd defines to their configuration keys.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		if bindErr := v.BindPFlag(key, f); bindErr != nil {
			err = fmt.Errorf("binding flag --%s: %w", f.Name, bindErr)
		}
	})
	return err
}

// loadConfig decodes v into a PipelineConfig and validates it.
func loadConfig(v *viper.Viper) (types.PipelineConfig, error) {
	cfg := types.DefaultPipelineConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding configuration: %w", err)
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validate(cfg types.PipelineConfig) error {
	r := cfg.Ranking
	switch {
	case cfg.AI.Model == "":
		return fmt.Errorf("ai.model is required")
	case r.MinGroupSize < 1 || r.MaxGroupSize < r.MinGroupSize:
		return fmt.Errorf("ranking group bounds [%d, %d] are invalid", r.MinGroupSize, r.MaxGroupSize)
	case r.Rounds < 1:
		return fmt.Errorf("ranking.rounds must be at least 1, got %d", r.Rounds)
	case cfg.Orchestrator.Retry.MaxAttempts < 1:
		return fmt.Errorf("orchestrator.retry.max_attempts must be at least 1, got %d", cfg.Orchestrator.Retry.MaxAttempts)
	}
	return nil
}
