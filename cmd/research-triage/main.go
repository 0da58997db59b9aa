// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the research-triage CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/research-triage/internal/logging"
	"github.com/pdiddy/research-triage/internal/secrets"
	"github.com/pdiddy/research-triage/internal/telemetry"
	"github.com/pdiddy/research-triage/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

// session holds the state every subcommand shares once the root
// pre-run has loaded configuration, secrets, logging, and tracing.
type session struct {
	cfg      types.PipelineConfig
	logger   *zap.Logger
	shutdown telemetry.ShutdownFunc
}

var current = session{logger: zap.NewNop()}

// rootCmd is the base command for the research-triage CLI.
var rootCmd = &cobra.Command{
	Use:   "research-triage",
	Short: "Model-driven triage of candidate papers for a literature review",
	Long: `research-triage screens candidate papers against a research claim. It
ranks papers with a randomized tournament of small model-judged groups,
then deep-analyzes the winners with supporting quotes and a citation.

rank works on papers you already collected; run generates search queries,
searches OpenAlex, arXiv, and Semantic Scholar, and ranks what it finds.
batch manages asynchronous Anthropic batch jobs.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if current.shutdown != nil {
			err = current.shutdown(context.WithoutCancel(cmd.Context()))
		}
		_ = current.logger.Sync()
		return err
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./research-triage.yaml or ~/.config/research-triage/research-triage.yaml)")
	rootCmd.PersistentFlags().String("secrets-dir", ".secrets", "directory of secret key files")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "", "log format: console or json")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	configure(viper.GetViper(), cfgFile)

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// setup runs before every subcommand.
func setup(cmd *cobra.Command, args []string) error {
	if err := bindFlags(viper.GetViper(), cmd); err != nil {
		return err
	}
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}

	dir, _ := cmd.Flags().GetString("secrets-dir")
	s, err := secrets.Load(dir, logger)
	if err != nil {
		return err
	}
	if keys := s.Keys(); len(keys) > 0 {
		fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
	}
	s.ApplyAI(&cfg.AI, os.Getenv)
	s.ApplySearch(&cfg.Search)

	shutdown, err := telemetry.Setup(cmd.Context(), cfg.Telemetry, version)
	if err != nil {
		return err
	}

	current = session{cfg: cfg, logger: logger, shutdown: shutdown}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
