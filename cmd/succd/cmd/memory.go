package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/succ-project/succ/internal/config"
	"github.com/succ-project/succ/internal/daemon"
	"github.com/succ-project/succ/internal/logging"
	"github.com/succ-project/succ/internal/output"
)

// rememberOptions holds CLI flags for remember.
type rememberOptions struct {
	memType string
	tags    []string
	source  string
	format  string
}

func newRememberCmd() *cobra.Command {
	var opts rememberOptions

	cmd := &cobra.Command{
		Use:   "remember <content>",
		Short: "Save a memory to the project's memory store",
		Long: `Save a memory to the project's memory store.

Memories are deduplicated, quality-scored, and scanned for sensitive
content before being saved. Requires the daemon to be running, since
memory is kept resident the same way the code-search index is.

Examples:
  succ remember "the retriever fuses bm25 and vector scores with RRF at k=60"
  succ remember "tried redis for the queue, too much ops overhead" --type dead_end
  succ remember "prefer sqlite over postgres here" --type decision --tags storage,decision`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")
			return runRemember(cmd, content, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.memType, "type", "t", "observation", "Memory type: observation, decision, learning, error, pattern, dead_end")
	cmd.Flags().StringSliceVar(&opts.tags, "tags", nil, "Tags to attach (repeatable, comma-separated)")
	cmd.Flags().StringVar(&opts.source, "source", "", "Source identifier (e.g. file path or session id)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runRemember(cmd *cobra.Command, content string, opts rememberOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	client := daemon.NewClient(daemon.DefaultConfig())
	if !client.IsRunning() {
		return fmt.Errorf("memory store requires the daemon: run 'succ daemon start' first")
	}

	result, err := client.Remember(cmd.Context(), daemon.RememberParams{
		RootPath: root,
		Content:  content,
		Type:     opts.memType,
		Tags:     opts.tags,
		Source:   opts.source,
	})
	if err != nil {
		return fmt.Errorf("remember failed: %w", err)
	}
	slog.Info("remember_complete", slog.String("memory_id", result.MemoryID), slog.Bool("duplicate", result.Duplicate))

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if result.Duplicate {
		out.Statusf("", "Already remembered as %s", result.MemoryID)
	} else {
		out.Statusf("🧠", "Remembered as %s", result.MemoryID)
	}
	return nil
}

// recallOptions holds CLI flags for recall.
type recallOptions struct {
	limit  int
	format string
}

func newRecallCmd() *cobra.Command {
	var opts recallOptions

	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Recall memories relevant to a query",
		Long: `Recall the memories most relevant to a query, ranked by
semantic similarity. Requires the daemon to be running.

Examples:
  succ recall "why did we pick sqlite"
  succ recall "retriever fusion" --limit 3 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runRecall(cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of memories to return")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runRecall(cmd *cobra.Command, query string, opts recallOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	client := daemon.NewClient(daemon.DefaultConfig())
	if !client.IsRunning() {
		return fmt.Errorf("memory store requires the daemon: run 'succ daemon start' first")
	}

	results, err := client.Recall(cmd.Context(), daemon.RecallParams{
		RootPath: root,
		Query:    query,
		Limit:    opts.limit,
	})
	if err != nil {
		return fmt.Errorf("recall failed: %w", err)
	}
	slog.Info("recall_complete", slog.String("query", query), slog.Int("results", len(results)))

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		out.Status("", fmt.Sprintf("No memories found for %q", query))
		return nil
	}

	out.Statusf("🧠", "Found %d memories for %q:", len(results), query)
	out.Newline()
	for i, r := range results {
		pinned := ""
		if r.Pinned {
			pinned = " [pinned]"
		}
		out.Statusf("", "%d. [%s] (score: %.3f)%s", i+1, r.Type, r.Score, pinned)
		out.Status("", "   "+r.Content)
		out.Newline()
	}
	return nil
}
