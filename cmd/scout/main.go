// Package main provides the scout CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/richinex/scout/cli"
	"github.com/richinex/scout/storage"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	provider      string
	configPath    string
	mcpConfigPath string
	metricsAddr   string
	verbose       bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "scout",
		Short: "Iterative LLM research over pluggable tools",
		Long: `A CLI for multi-topic research driven by an LLM.

A topic is decomposed into sub-topics, each researched with external tools
until a judge decides the findings are sufficient. Progress is snapshotted
so interrupted runs can be resumed.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "LLM provider (openai, anthropic, deepseek, gemini)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (yaml, toml or json)")
	rootCmd.PersistentFlags().StringVar(&mcpConfigPath, "mcp-config", "", "Path to MCP server config file")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show progress events and debug logs")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(snapshotsCmd())
	rootCmd.AddCommand(archiveCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func globalOptions() cli.Options {
	return cli.Options{
		Provider:      provider,
		ConfigPath:    configPath,
		MCPConfigPath: mcpConfigPath,
		MetricsAddr:   metricsAddr,
		Verbose:       verbose,
	}
}

func runCmd() *cobra.Command {
	var symbols []string
	var extraContext string
	var output string
	var maxTopics int
	var maxIterations int
	var maxDuration time.Duration

	cmd := &cobra.Command{
		Use:   "run [topic]",
		Short: "Research a topic and print the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := globalOptions()
			opts.MaxTopics = maxTopics
			opts.MaxIterations = maxIterations
			opts.MaxDuration = maxDuration
			return cli.Run(cmd.Context(), cli.RunRequest{
				Topic:   args[0],
				Context: extraContext,
				Symbols: symbols,
				Output:  output,
			}, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&symbols, "symbols", "s", nil, "Ticker symbols the research targets (comma separated)")
	cmd.Flags().StringVar(&extraContext, "context", "", "Additional context for decomposition")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the final state snapshot to this file")
	cmd.Flags().IntVar(&maxTopics, "max-topics", 0, "Maximum sub-topics from decomposition")
	cmd.Flags().IntVarP(&maxIterations, "max-iter", "m", 0, "Maximum research rounds")
	cmd.Flags().DurationVar(&maxDuration, "max-duration", 0, "Wall-clock budget for the research stage")

	return cmd
}

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [state.json | research-id]",
		Short: "Resume an interrupted run from a state file or the snapshot store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Resume(cmd.Context(), args[0], globalOptions())
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [state.json | research-id]",
		Short: "Show queue statistics for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Stats(cmd.Context(), args[0], globalOptions())
		},
	}
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List registered tools and the research step vocabulary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListTools(cmd.Context(), globalOptions())
		},
	}
}

func snapshotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots",
		Short: "List runs in the snapshot store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListSnapshots(cmd.Context(), globalOptions())
		},
	}
}

func archiveCmd() *cobra.Command {
	var lines string
	var grep string

	cmd := &cobra.Command{
		Use:   "archive [research-id] [citation-id or prefix]",
		Short: "Show full raw answers archived for truncated traces",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := cli.ArchiveRequest{ResearchID: args[0], Grep: grep}
			if len(args) == 2 {
				req.CitationID = args[1]
			}
			if lines != "" {
				r, err := parseLineRange(lines)
				if err != nil {
					return err
				}
				req.Lines = r
			}
			return cli.ShowArchive(cmd.Context(), req, globalOptions())
		},
	}

	cmd.Flags().StringVar(&lines, "lines", "", "Line range to print, e.g. 10-40")
	cmd.Flags().StringVar(&grep, "grep", "", "Print only lines containing this text")

	return cmd
}

func parseLineRange(s string) (storage.LineRange, error) {
	startStr, endStr, ok := strings.Cut(s, "-")
	if !ok {
		return storage.LineRange{}, fmt.Errorf("invalid line range %q, expected START-END", s)
	}
	start, err := strconv.Atoi(strings.TrimSpace(startStr))
	if err != nil {
		return storage.LineRange{}, fmt.Errorf("invalid line range start %q: %w", startStr, err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(endStr))
	if err != nil {
		return storage.LineRange{}, fmt.Errorf("invalid line range end %q: %w", endStr, err)
	}
	if start < 1 || end < start {
		return storage.LineRange{}, fmt.Errorf("invalid line range %q", s)
	}
	return storage.LineRange{Start: start, End: end}, nil
}
