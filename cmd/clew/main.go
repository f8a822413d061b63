// Package main provides the clew CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/richinex/clew/cli"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	provider string
	dbPath   string
	verbose  bool
	jsonOut  bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "clew",
		Short: "Answer questions about large documents with parallel sub-agents",
		Long: `A CLI tool for iterative question answering over documents too large for one context.

Each query runs a bounded loop:
- search: find the chunks most relevant to the question
- analyze: send each chunk to a sub-agent in parallel
- aggregate: deduplicate and rank findings, refine the query from follow-ups
- synthesize: combine the evidence into one answer

Settings come from the environment (or a .env file): CHUNK_*, RLM_*, INDEX_*, DB_PATH, SUBAGENT_*.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "LLM provider for provider-backed sub-agents (openai, anthropic, deepseek, gemini)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path for query history (default $DB_PATH or .clew/clew.db)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show progress and log output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print results as JSON")

	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(chunksCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func options() cli.Options {
	opts := cli.DefaultOptions()
	opts.Provider = provider
	opts.DBPath = dbPath
	opts.Verbose = verbose
	opts.JSON = jsonOut
	return opts
}

func queryCmd() *cobra.Command {
	var q cli.QueryOptions

	cmd := &cobra.Command{
		Use:   "query [document] [question]",
		Short: "Answer a question about a document",
		Long: `Answer a question about a text, markdown or PDF document.

Pass --session to reuse chunks fetched by earlier queries and to group
results in the history.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Query(cmd.Context(), args[0], args[1], q, options())
		},
	}

	cmd.Flags().StringVar(&q.SessionID, "session", "", "Session ID (default: a new session)")
	cmd.Flags().IntVarP(&q.MaxIterations, "max-iter", "m", 0, "Maximum search iterations (default $RLM_MAX_ITERATIONS)")
	cmd.Flags().IntVar(&q.ChunksPerIteration, "chunks", 0, "Chunks analyzed per iteration (default $RLM_CHUNKS_PER_ITERATION)")
	cmd.Flags().StringVar(&q.Model, "model", "", "Sub-agent model (default $RLM_MODEL)")

	return cmd
}

func chunksCmd() *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "chunks [document]",
		Short: "List how a document is chunked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListChunks(cmd.Context(), args[0], prefix, options())
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only list chunk ids with this prefix (e.g. chunk_01)")

	cmd.AddCommand(peekCmd())
	cmd.AddCommand(grepCmd())
	return cmd
}

func peekCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peek [document] [start] [end]",
		Short: "Print the document text between two byte offsets",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var start, end int
			if _, err := fmt.Sscan(args[1], &start); err != nil {
				return fmt.Errorf("invalid start offset %q: %w", args[1], err)
			}
			if _, err := fmt.Sscan(args[2], &end); err != nil {
				return fmt.Errorf("invalid end offset %q: %w", args[2], err)
			}
			return cli.Peek(cmd.Context(), args[0], start, end, options())
		},
	}
	return cmd
}

func grepCmd() *cobra.Command {
	var maxMatches int
	var contextLines int

	cmd := &cobra.Command{
		Use:   "grep [document] [pattern]",
		Short: "Search the document with a case-insensitive regular expression",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Grep(cmd.Context(), args[0], args[1], maxMatches, contextLines, options())
		},
	}
	cmd.Flags().IntVar(&maxMatches, "max", 10, "Maximum matches")
	cmd.Flags().IntVarP(&contextLines, "context", "C", 2, "Lines of context around each match")
	return cmd
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [session]",
		Short: "Show stored query results for a session, or list sessions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sessionID string
			if len(args) == 1 {
				sessionID = args[0]
			}
			return cli.History(cmd.Context(), sessionID, limit, options())
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum results (default 50)")
	return cmd
}

func serveCmd() *cobra.Command {
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "serve [document]",
		Short: "Serve the document over MCP (execute_query, orchestrator_status, configure_orchestrator)",
		Long: `Serve the document as a Model Context Protocol server.

Without --http the server speaks MCP over stdin/stdout, suitable for
registering with an MCP client:

  {"mcpServers": {"clew": {"command": "clew", "args": ["serve", "/path/to/doc.md"]}}}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Serve(cmd.Context(), args[0], httpAddr, options())
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "Serve streamable HTTP on this address instead of stdio (e.g. :8080)")
	return cmd
}
