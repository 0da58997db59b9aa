// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/research-triage/internal/pipeline"
	"github.com/pdiddy/research-triage/internal/report"
)

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Rank and analyze papers you already collected",
	Long: `Rank reads search records (YAML or JSON) from --input, merges duplicates,
drops papers shorter than --min-words, ranks the rest in a randomized
tournament of small groups, and deep-analyzes the --top-n winners.

The report is written to --output (default: standard output) in the
selected --format: yaml, json, markdown, html, or csl.`,
	RunE: runRank,
}

func runRank(cmd *cobra.Command, args []string) error {
	claim, _ := cmd.Flags().GetString("claim")
	if claim == "" {
		return fmt.Errorf("--claim is required")
	}
	input, _ := cmd.Flags().GetString("input")
	format, err := reportFormat(cmd)
	if err != nil {
		return err
	}

	raw, err := readRawResults(input)
	if err != nil {
		return err
	}

	cfg := current.cfg
	orch, closeStore, err := buildOrchestrator(cfg, current.logger, cfg.Ranking.UseBatch)
	if err != nil {
		return err
	}
	defer closeStore()

	p := pipeline.New(orch, cfg,
		pipeline.WithLogger(current.logger),
		pipeline.WithProgress(os.Stderr),
	)
	rep, err := p.RankAndAnalyze(cmd.Context(), claim, raw)
	if err != nil {
		return err
	}
	return writeReport(cmd, rep, format)
}

// reportFormat validates --format before any model call is made.
func reportFormat(cmd *cobra.Command) (report.Format, error) {
	name, _ := cmd.Flags().GetString("format")
	return report.ParseFormat(name)
}

func writeReport(cmd *cobra.Command, rep pipeline.Report, format report.Format) error {
	path, _ := cmd.Flags().GetString("output")
	out, err := openOutput(path)
	if err != nil {
		return err
	}
	if err := report.Write(out, rep, format); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if path != "" && path != "-" {
		fmt.Fprintf(os.Stderr, "wrote %d papers to %s\n", len(rep.Papers), path)
	}
	return nil
}

// addReviewFlags registers the flags rank and run share.
func addReviewFlags(cmd *cobra.Command) {
	cmd.Flags().String("claim", "", "research claim the papers are judged against (required)")
	cmd.Flags().StringP("output", "o", "", "report file (default: standard output)")
	cmd.Flags().StringP("format", "f", string(report.FormatYAML), "report format: yaml, json, markdown, html, csl")
	cmd.Flags().String("model", "", "model id: claude-* or ollama/<name>")
	cmd.Flags().Float64("temperature", 0, "sampling temperature")
	cmd.Flags().Int("rounds", 0, "tournament rounds")
	cmd.Flags().Int("top-n", 0, "papers handed to deep analysis")
	cmd.Flags().Int("min-words", 0, "minimum full-text word count")
	cmd.Flags().Int("min-group", 0, "smallest ranking group")
	cmd.Flags().Int("max-group", 0, "largest ranking group")
	cmd.Flags().Int("quotes", 0, "supporting quotes per analyzed paper")
	cmd.Flags().Uint64("seed", 0, "shuffle seed for a reproducible tournament")
	cmd.Flags().Bool("batch", false, "send ranking calls as one Anthropic batch job")
	cmd.Flags().String("store", "", "SQLite batch job store")
}

func init() {
	addReviewFlags(rankCmd)
	rankCmd.Flags().StringP("input", "i", "-", "search records file, YAML or JSON (- for standard input)")

	rootCmd.AddCommand(rankCmd)
}
