// Command execution for CLI commands.
//
// Information Hiding:
// - Agent/pipeline setup hidden
// - Snapshot lookup (file path or stored research id) hidden
// - Output formatting hidden

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/scout/agent"
	"github.com/richinex/scout/events"
	"github.com/richinex/scout/llm"
	"github.com/richinex/scout/orchestration"
	"github.com/richinex/scout/research"
	"github.com/richinex/scout/storage"
)

// Options holds CLI execution options. Zero values defer to config.
type Options struct {
	Provider      string
	ConfigPath    string
	MCPConfigPath string
	MetricsAddr   string
	MaxTopics     int
	MaxIterations int
	MaxDuration   time.Duration
	Verbose       bool
}

// RunRequest is the input to Run.
type RunRequest struct {
	Topic   string
	Context string
	Symbols []string
	// Output, when set, receives the final state snapshot.
	Output string
}

// Run researches a topic and prints the report.
func Run(ctx context.Context, req RunRequest, opts Options) error {
	rt, err := newRuntime(ctx, opts, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	a, err := rt.agent()
	if err != nil {
		return err
	}

	fmt.Printf("Researching: %s\n\n", req.Topic)
	res, err := rt.pipeline(a, progressSink(opts.Verbose)).Run(ctx, orchestration.Request{
		Topic:   req.Topic,
		Context: req.Context,
		Symbols: req.Symbols,
	})
	if err != nil {
		return err
	}

	if req.Output != "" {
		if err := res.Queue.SaveFile(req.Output); err != nil {
			return fmt.Errorf("failed to write state: %w", err)
		}
	}
	printResult(os.Stdout, res, a)
	if req.Output != "" {
		fmt.Printf("State saved to %s\n", req.Output)
	}
	return nil
}

// Resume continues an interrupted run. target is a state file path or a
// research id in the configured snapshot store.
func Resume(ctx context.Context, target string, opts Options) error {
	rt, err := newRuntime(ctx, opts, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	queue, err := rt.loadQueue(ctx, target)
	if err != nil {
		return err
	}

	a, err := rt.agent()
	if err != nil {
		return err
	}

	fmt.Printf("Resuming %s (%d topics)\n\n", queue.ResearchID(), queue.Len())
	res, err := rt.pipeline(a, progressSink(opts.Verbose)).Resume(ctx, queue, "")
	if err != nil {
		return err
	}
	printResult(os.Stdout, res, a)
	return nil
}

// Stats prints statistics for a state file or stored research id.
func Stats(ctx context.Context, target string, opts Options) error {
	if isStateFile(target) {
		queue, err := research.LoadFile(target)
		if err != nil {
			return err
		}
		printStats(os.Stdout, queue)
		return nil
	}

	rt, err := newRuntime(ctx, opts, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	queue, err := rt.loadQueue(ctx, target)
	if err != nil {
		return err
	}
	printStats(os.Stdout, queue)
	return nil
}

// ListTools prints the registered router tools and the step tool vocabulary.
func ListTools(ctx context.Context, opts Options) error {
	rt, err := newRuntime(ctx, opts, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	printTools(os.Stdout, rt.router.Registry().Describe(), rt.router.AvailableTools())
	return nil
}

// ListSnapshots prints the runs in the configured snapshot store.
func ListSnapshots(ctx context.Context, opts Options) error {
	rt, err := newRuntime(ctx, opts, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.store == nil {
		return errors.New("snapshot storage is disabled (storage backend is none)")
	}
	return listSnapshots(ctx, os.Stdout, rt.store)
}

func (rt *runtime) agent() (*agent.Agent, error) {
	provider, err := createProvider(rt.settings)
	if err != nil {
		return nil, err
	}
	rt.logger.Info("provider_ready",
		zap.String("provider", provider.Name()),
		zap.String("model", provider.Model()))

	return agent.NewBuilder(provider).
		StepTools(rt.stepTools()).
		ReportLanguage(rt.settings.Research.ReportLanguage).
		Logger(rt.logger).
		Build(), nil
}

// stepTools lists the step tool names whose router type is registered.
// With nothing registered every name is offered.
func (rt *runtime) stepTools() []string {
	available := map[string]bool{}
	for _, t := range rt.router.AvailableTools() {
		available[t] = true
	}
	var names []string
	for _, name := range orchestration.StepToolNames() {
		if routerType, _ := orchestration.RouterToolType(name); available[routerType] {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return orchestration.StepToolNames()
	}
	return names
}

// loadQueue opens target as a state file, or looks it up in the snapshot
// store. The returned queue keeps persisting to where it came from.
func (rt *runtime) loadQueue(ctx context.Context, target string) (*research.Queue, error) {
	if isStateFile(target) {
		queue, err := research.LoadFile(target)
		if err != nil {
			return nil, err
		}
		return queue.WithLogger(rt.logger).WithPersister(research.FilePersister{Path: target}), nil
	}

	if rt.store == nil {
		return nil, fmt.Errorf("%s: no such state file and snapshot storage is disabled", target)
	}
	queue, err := storage.LoadQueue(ctx, rt.store, target)
	if err != nil {
		return nil, err
	}
	return queue.WithLogger(rt.logger).
		WithPersister(storage.NewPersister(rt.store, rt.settings.Storage.PersistTimeout)), nil
}

func isStateFile(target string) bool {
	if strings.HasSuffix(target, ".json") {
		return true
	}
	info, err := os.Stat(target)
	return err == nil && !info.IsDir()
}

// progressSink prints one line per progress event when verbose.
func progressSink(verbose bool) events.Sink {
	if !verbose {
		return nil
	}
	return events.SinkFunc(func(_ context.Context, e events.Event) {
		fmt.Fprintln(os.Stderr, formatEvent(e))
	})
}

func formatEvent(e events.Event) string {
	switch e.Type {
	case events.StageStart:
		return fmt.Sprintf("→ %s", e.Stage)
	case events.StageComplete:
		return fmt.Sprintf("✓ %s", e.Stage)
	case events.ResearchStart:
		return fmt.Sprintf("  ▸ %s", e.SubTopic)
	case events.ResearchComplete:
		return fmt.Sprintf("  ✓ %s", e.SubTopic)
	case events.ResearchFailed:
		return fmt.Sprintf("  ✗ %s: %s", e.SubTopic, e.Message)
	case events.ToolCall:
		return fmt.Sprintf("    %s [%s]", e.ToolType, e.Status)
	case events.Round:
		return fmt.Sprintf("round %v: %s", e.Data["round"], e.Status)
	default:
		if e.Message != "" {
			return fmt.Sprintf("%s: %s", e.Type, e.Message)
		}
		return string(e.Type)
	}
}

func printResult(w io.Writer, res *orchestration.Result, a *agent.Agent) {
	if res.Report != "" {
		fmt.Fprintf(w, "%s\n\n", res.Report)
	} else if res.ReportError != "" {
		fmt.Fprintf(w, "Report failed: %s\n\n", res.ReportError)
	}

	o := res.Outcome
	fmt.Fprintf(w, "Research ID: %s\n", res.ResearchID)
	fmt.Fprintf(w, "Stopped: %s after %d rounds (%s)\n", o.StopReason, o.Rounds, o.Duration.Round(time.Second))
	fmt.Fprintf(w, "Topics: %d completed, %d failed, %d total; %d tool calls\n",
		o.Stats.Completed, o.Stats.Failed, o.Stats.TotalBlocks, o.Stats.TotalToolCalls)

	if a != nil {
		usage, calls := a.Usage()
		printTokenStats(w, usage, calls)
	}
}

func printTokenStats(w io.Writer, usage llm.TokenUsage, calls int) {
	if calls == 0 {
		return
	}
	fmt.Fprintf(w, "Tokens: %d prompt + %d completion = %d total (%d calls)\n",
		usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, calls)
}

func printStats(w io.Writer, queue *research.Queue) {
	stats := queue.Statistics()
	fmt.Fprintf(w, "Research ID: %s\n", queue.ResearchID())
	if !stats.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "Updated: %s\n", stats.UpdatedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "%s\n", orchestration.StatusSummary(queue))
}

func printTools(w io.Writer, described string, registered []string) {
	fmt.Fprintln(w, "Registered tools:")
	if len(registered) == 0 {
		fmt.Fprintln(w, "  (none; set SCOUT_ENDPOINT_<TYPE> or an MCP config)")
	} else {
		fmt.Fprintln(w, described)
	}

	available := make(map[string]bool, len(registered))
	for _, t := range registered {
		available[t] = true
	}

	fmt.Fprintln(w, "\nResearch step tools:")
	for _, name := range orchestration.StepToolNames() {
		routerType, _ := orchestration.RouterToolType(name)
		mark := "✗"
		if available[routerType] {
			mark = "✓"
		}
		fmt.Fprintf(w, "  %s %s → %s\n", mark, name, routerType)
	}
}

func listSnapshots(ctx context.Context, w io.Writer, store storage.SnapshotStore) error {
	infos, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Fprintln(w, "No stored research runs.")
		return nil
	}
	for _, info := range infos {
		fmt.Fprintf(w, "%s  %d/%d topics  %d tool calls  %s\n",
			info.ResearchID, info.Completed, info.Blocks, info.ToolCalls,
			info.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

// ArchiveRequest selects archived raw answers. An empty CitationID lists
// the run's entries; a CitationID with no exact match is used as a prefix.
type ArchiveRequest struct {
	ResearchID string
	CitationID string
	// Lines prints a line range when End is set.
	Lines storage.LineRange
	// Grep prints only the lines containing this text.
	Grep string
}

// ShowArchive prints archived raw answers for truncated traces.
func ShowArchive(ctx context.Context, req ArchiveRequest, opts Options) error {
	rt, err := newRuntime(ctx, opts, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.archive == nil {
		return errors.New("raw answer archive is disabled")
	}
	return showArchive(ctx, os.Stdout, rt.archive, req)
}

func showArchive(ctx context.Context, w io.Writer, archive *storage.RawArchive, req ArchiveRequest) error {
	key := storage.ArchiveKey{ResearchID: req.ResearchID, CitationID: req.CitationID}

	switch {
	case req.CitationID == "":
	case req.Grep != "":
		matches, err := archive.Search(ctx, key, req.Grep, 0)
		if err != nil {
			return err
		}
		for _, m := range matches {
			fmt.Fprintf(w, "%d: %s\n", m.Line, m.Text)
		}
		return nil
	case req.Lines.End > 0:
		text, err := archive.GetLines(ctx, key, req.Lines)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, text)
		return nil
	default:
		answer, err := archive.Get(ctx, key)
		if err != nil {
			return err
		}
		if answer != nil {
			fmt.Fprintln(w, answer.Content)
			return nil
		}
	}

	entries, err := archive.Find(ctx, req.ResearchID, req.CitationID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		if req.CitationID != "" {
			return fmt.Errorf("no archived answer for %s %s", req.ResearchID, req.CitationID)
		}
		fmt.Fprintf(w, "No archived answers for %s.\n", req.ResearchID)
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %d lines  %d bytes  %s\n", e.Key.CitationID, e.LineCount, e.ByteSize, e.ContentHash)
		if e.Summary != "" {
			fmt.Fprintf(w, "    %s\n", strings.ReplaceAll(e.Summary, "\n", "\n    "))
		}
	}
	return nil
}
