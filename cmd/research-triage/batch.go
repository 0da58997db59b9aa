// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/research-triage/internal/jobstore"
	"github.com/pdiddy/research-triage/internal/orchestrator"
	"github.com/pdiddy/research-triage/pkg/types"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Submit, inspect, and resume Anthropic batch jobs",
	Long: `Batch sends a list of prompts as one asynchronous Anthropic batch job and
waits for it to finish. Jobs are recorded in a SQLite store so that an
interrupted wait can be picked up again with resume.`,
}

// --- submit subcommand ---

var batchSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a list of prompts as one batch job and wait for the results",
	RunE:  runBatchSubmit,
}

func runBatchSubmit(cmd *cobra.Command, args []string) error {
	input, _ := cmd.Flags().GetString("input")
	system, _ := cmd.Flags().GetString("system")
	noDedupe, _ := cmd.Flags().GetBool("no-dedupe")

	prompts, err := readPrompts(input)
	if err != nil {
		return err
	}

	orch, closeStore, err := buildOrchestrator(current.cfg, current.logger, true)
	if err != nil {
		return err
	}
	defer closeStore()

	fmt.Fprintf(os.Stderr, "submitting %d prompts\n", len(prompts))
	res, err := orch.ProcessBatch(cmd.Context(), prompts, callOptions(current.cfg.AI, system), !noDedupe)
	if err != nil {
		if res.Metadata.JobID != "" && cmd.Context().Err() != nil {
			fmt.Fprintf(os.Stderr, "interrupted; resume with: research-triage batch resume %s\n", res.Metadata.JobID)
		}
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	return writeYAML(output, batchView(res))
}

// --- status subcommand ---

var batchStatusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "List recent or pending batch jobs, or show one job",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBatchStatus,
}

func runBatchStatus(cmd *cobra.Command, args []string) error {
	store, err := jobstore.Open(current.cfg.Orchestrator.Batch.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	if len(args) == 1 {
		return showJob(ctx, store, args[0])
	}

	limit, _ := cmd.Flags().GetInt("limit")
	pending, _ := cmd.Flags().GetBool("pending")
	return listJobs(ctx, os.Stdout, store, limit, pending)
}

// listJobs prints a table of stored jobs, newest first. With pending set
// it lists only unfinished jobs, oldest first, as candidates for resume.
func listJobs(ctx context.Context, w io.Writer, store *jobstore.Store, limit int, pending bool) error {
	var (
		jobs []types.BatchJob
		err  error
	)
	if pending {
		jobs, err = store.Pending(ctx)
	} else {
		jobs, err = store.List(ctx, limit)
	}
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		if pending {
			fmt.Fprintln(w, "No pending batch jobs.")
		} else {
			fmt.Fprintln(w, "No batch jobs found.")
		}
		return nil
	}

	fmt.Fprintf(w, "%-36s  %-10s  %-5s  %-24s  %s\n", "Job", "Status", "Items", "Model", "Created")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, j := range jobs {
		model := j.Model
		if len(model) > 24 {
			model = model[:21] + "..."
		}
		fmt.Fprintf(w, "%-36s  %-10s  %-5d  %-24s  %s\n",
			j.ID, j.Status, j.ItemCount, model, j.CreatedAt.Local().Format(time.DateTime))
	}
	fmt.Fprintf(w, "\n%d jobs\n", len(jobs))
	if pending {
		fmt.Fprintln(w, "Resume with: research-triage batch resume <job-id>")
	}
	return nil
}

// jobSummary is the status view of one stored job.
type jobSummary struct {
	Job    types.BatchJob `yaml:"job"`
	Done   int            `yaml:"done"`
	Failed int            `yaml:"failed"`
}

func showJob(ctx context.Context, store *jobstore.Store, id string) error {
	job, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	items, err := store.Items(ctx, id)
	if err != nil {
		return err
	}
	sum := jobSummary{Job: job}
	for _, it := range items {
		if it.Done {
			sum.Done++
		}
		if it.Error != "" {
			sum.Failed++
		}
	}
	return writeYAML("", sum)
}

// --- resume subcommand ---

var batchResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Wait for a stored batch job and print its results",
	Args:  cobra.ExactArgs(1),
	RunE:  runBatchResume,
}

func runBatchResume(cmd *cobra.Command, args []string) error {
	system, _ := cmd.Flags().GetString("system")

	orch, closeStore, err := buildOrchestrator(current.cfg, current.logger, true)
	if err != nil {
		return err
	}
	defer closeStore()

	opts := callOptions(current.cfg.AI, system)
	opts.Model = ""
	res, err := orch.ResumeBatch(cmd.Context(), args[0], opts)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	return writeYAML(output, batchView(res))
}

// batchOutput is the YAML document written by submit and resume.
type batchOutput struct {
	JobID     string            `yaml:"job_id"`
	BackendID string            `yaml:"backend_id,omitempty"`
	Model     string            `yaml:"model"`
	Status    types.BatchStatus `yaml:"status"`
	Error     string            `yaml:"error,omitempty"`
	Items     []batchItemOutput `yaml:"items"`
}

type batchItemOutput struct {
	Prompt string `yaml:"prompt"`
	Text   string `yaml:"text,omitempty"`
	Error  string `yaml:"error,omitempty"`
}

func batchView(res orchestrator.BatchResult) batchOutput {
	out := batchOutput{
		JobID:     res.Metadata.JobID,
		BackendID: res.Metadata.BackendID,
		Model:     res.Metadata.Model,
		Status:    res.Metadata.Status,
		Error:     res.Metadata.Error,
		Items:     make([]batchItemOutput, 0, len(res.Results)),
	}
	for _, it := range res.Results {
		item := batchItemOutput{Prompt: it.Prompt, Text: it.Response.Text}
		if it.Response.Err != nil {
			item.Error = it.Response.Err.Error()
		}
		out.Items = append(out.Items, item)
	}
	return out
}

func init() {
	batchSubmitCmd.Flags().StringP("input", "i", "-", "YAML or JSON list of prompts (- for standard input)")
	batchSubmitCmd.Flags().Bool("no-dedupe", false, "submit repeated prompts separately")

	batchStatusCmd.Flags().Int("limit", 20, "maximum jobs listed")
	batchStatusCmd.Flags().Bool("pending", false, "list only unfinished jobs that can be resumed")

	for _, c := range []*cobra.Command{batchSubmitCmd, batchResumeCmd} {
		c.Flags().String("system", "", "system prompt for every request")
		c.Flags().StringP("output", "o", "", "results file (default: standard output)")
		c.Flags().String("model", "", "claude-* model id")
		c.Flags().Duration("poll-interval", 0, "time between status checks")
	}
	for _, c := range []*cobra.Command{batchSubmitCmd, batchStatusCmd, batchResumeCmd} {
		c.Flags().String("store", "", "SQLite batch job store")
		batchCmd.AddCommand(c)
	}

	rootCmd.AddCommand(batchCmd)
}
