// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/research-triage/internal/pipeline"
	"github.com/pdiddy/research-triage/internal/search"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Search for papers on a claim, then rank and analyze them",
	Long: `Run asks the model for up to --max-queries search queries for --claim,
sends every query to each configured backend (OpenAlex, arXiv, Semantic
Scholar), and passes the collected records through the same ranking and
analysis stages as rank.

A failing query or backend is reported and skipped; the run fails only
when every search fails. --synthesize adds a short cross-paper summary.`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	claim, _ := cmd.Flags().GetString("claim")
	if claim == "" {
		return fmt.Errorf("--claim is required")
	}
	format, err := reportFormat(cmd)
	if err != nil {
		return err
	}

	cfg := current.cfg
	backends, err := search.NewBackends(cfg.Search, cfg.AI.HTTP, &http.Client{Timeout: cfg.AI.HTTP.Timeout})
	if err != nil {
		return err
	}

	orch, closeStore, err := buildOrchestrator(cfg, current.logger, cfg.Ranking.UseBatch)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := []pipeline.Option{
		pipeline.WithLogger(current.logger),
		pipeline.WithProgress(os.Stderr),
		pipeline.WithSearcher(&search.Multi{
			Backends: backends,
			Delay:    cfg.Search.InterBackendDelay,
			Progress: os.Stderr,
			Logger:   current.logger.Named("search"),
		}),
	}
	if cfg.Analysis.Synthesize {
		opts = append(opts, pipeline.WithSynthesizer(
			pipeline.NewModelSynthesizer(orch, callOptions(cfg.AI, "")),
		))
	}

	rep, err := pipeline.New(orch, cfg, opts...).Run(cmd.Context(), claim)
	if err != nil {
		return err
	}
	return writeReport(cmd, rep, format)
}

func init() {
	addReviewFlags(runCmd)
	runCmd.Flags().Int("max-queries", 0, "maximum generated search queries")
	runCmd.Flags().Int("results-per-query", 0, "records requested per query and backend")
	runCmd.Flags().StringSlice("backends", nil, "search backends: openalex, arxiv, semantic_scholar")
	runCmd.Flags().Bool("synthesize", false, "summarize the analyzed papers")

	rootCmd.AddCommand(runCmd)
}
