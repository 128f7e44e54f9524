// Research loop.
//
// Each round asks the judge whether to continue, researches the next
// eligible topic, then offers the judge's gaps to the proposer.
//
// Information Hiding:
// - Round counting and the iteration ceiling hidden
// - Tool name mapping and trace construction hidden
// - Per-topic failure isolation hidden

package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/richinex/scout/events"
	"github.com/richinex/scout/research"
	"github.com/richinex/scout/tools"
)

const (
	DefaultMaxIterations         = 50
	DefaultMaxIterationsPerTopic = 5

	// maxGapProposals caps how many judge gaps are offered per round.
	maxGapProposals = 2
	// previousFindingsWindow is how many recent findings a step sees.
	previousFindingsWindow = 5
	observationLen         = 1500
	proposalFindingsLen    = 1000
)

// ErrNotConfigured is returned by Run when a required collaborator is missing.
var ErrNotConfigured = errors.New("loop not configured")

// LoopConfig bounds a run.
type LoopConfig struct {
	// MaxIterations is the round ceiling. The round that reaches it is
	// forced to stop without asking the judge.
	MaxIterations int
	// MaxIterationsPerTopic bounds the research steps for one block.
	MaxIterationsPerTopic int
	// MaxDuration is an optional wall-clock budget. Zero means none.
	MaxDuration time.Duration
	// MaxRawAnswer is the byte ceiling for a trace's raw answer.
	MaxRawAnswer int
}

// DefaultLoopConfig returns the default bounds.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		MaxIterations:         DefaultMaxIterations,
		MaxIterationsPerTopic: DefaultMaxIterationsPerTopic,
		MaxRawAnswer:          research.DefaultMaxRawAnswer,
	}
}

func (c LoopConfig) normalize() LoopConfig {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.MaxIterationsPerTopic <= 0 {
		c.MaxIterationsPerTopic = DefaultMaxIterationsPerTopic
	}
	if c.MaxRawAnswer <= 0 {
		c.MaxRawAnswer = research.DefaultMaxRawAnswer
	}
	if c.MaxDuration < 0 {
		c.MaxDuration = 0
	}
	return c
}

// Observer receives loop measurements. metrics.Metrics implements it.
type Observer interface {
	ObserveRound()
	ObserveTrace()
	ObserveTopics(pending, researching, completed, failed int)
	ObserveStop(reason string, elapsed time.Duration)
}

// RawArchiver keeps full raw answers whose traces were truncated.
type RawArchiver interface {
	Archive(ctx context.Context, researchID, citationID, content string) error
}

// Loop drives one research queue to a stop.
// Not safe for concurrent use; run one Loop per queue.
type Loop struct {
	queue      *research.Queue
	router     *tools.Router
	judge      Judge
	researcher Researcher
	proposer   Proposer
	config     LoopConfig

	citations *research.Citations
	archive   RawArchiver
	events    events.Sink
	observer  Observer
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewLoop creates a loop over queue.
func NewLoop(queue *research.Queue, router *tools.Router, judge Judge, researcher Researcher, config LoopConfig) *Loop {
	return &Loop{
		queue:      queue,
		router:     router,
		judge:      judge,
		researcher: researcher,
		config:     config.normalize(),
		citations:  &research.Citations{},
		events:     events.Nop{},
		logger:     zap.NewNop(),
		tracer:     otel.Tracer("github.com/richinex/scout/orchestration"),
	}
}

// WithProposer enables gap-driven topic growth.
func (l *Loop) WithProposer(p Proposer) *Loop {
	l.proposer = p
	return l
}

// WithCitations shares a citation counter, e.g. one seeded from a snapshot.
func (l *Loop) WithCitations(c *research.Citations) *Loop {
	if c != nil {
		l.citations = c
	}
	return l
}

// WithArchive stores full raw answers for truncated traces.
func (l *Loop) WithArchive(a RawArchiver) *Loop {
	l.archive = a
	return l
}

// WithEvents sets the progress sink.
func (l *Loop) WithEvents(s events.Sink) *Loop {
	if s != nil {
		l.events = s
	}
	return l
}

// WithObserver sets the metrics observer.
func (l *Loop) WithObserver(o Observer) *Loop {
	l.observer = o
	return l
}

// WithLogger sets the logger.
func (l *Loop) WithLogger(logger *zap.Logger) *Loop {
	if logger != nil {
		l.logger = logger
	}
	return l
}

// Config returns the normalized bounds.
func (l *Loop) Config() LoopConfig {
	return l.config
}

// Run executes rounds until the judge is satisfied, the ceiling is reached,
// no topic is eligible, or ctx ends. Topic failures never end the run; the
// only error is a missing collaborator.
func (l *Loop) Run(ctx context.Context, objective string) (Outcome, error) {
	if l.queue == nil || l.router == nil || l.judge == nil || l.researcher == nil {
		return Outcome{}, ErrNotConfigured
	}

	start := time.Now()
	if l.config.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.MaxDuration)
		defer cancel()
	}

	researchID := l.queue.ResearchID()
	ctx, span := l.tracer.Start(ctx, "orchestration.run",
		trace.WithAttributes(attribute.String("research.id", researchID)))
	defer span.End()

	out := Outcome{ResearchID: researchID}
	logger := l.logger.With(zap.String("research_id", researchID))

	for {
		if err := ctx.Err(); err != nil {
			out.StopReason = stopReasonFor(err)
			break
		}

		out.Rounds++
		round := out.Rounds
		findings := l.queue.AllSummaries()

		var verdict Verdict
		forced := round >= l.config.MaxIterations
		if forced {
			verdict = Verdict{
				Decision:       DecisionSufficient,
				ReadyForReport: true,
				Reasoning:      "Reached maximum iteration limit",
			}
			logger.Warn("iteration_ceiling_reached", zap.Int("round", round))
		} else {
			out.JudgeCalls++
			verdict = l.askJudge(ctx, JudgeInput{
				Objective:     objective,
				StatusSummary: StatusSummary(l.queue),
				Findings:      findings,
				Iteration:     round,
				MaxIterations: l.config.MaxIterations,
			})
		}
		out.LastVerdict = verdict

		logger.Info("round",
			zap.Int("round", round),
			zap.String("decision", string(verdict.Decision)),
			zap.Bool("ready_for_report", verdict.ReadyForReport),
			zap.Int("gaps", len(verdict.Gaps)))
		l.observeRound()
		l.events.Emit(ctx, events.Event{
			Type:       events.Round,
			ResearchID: researchID,
			Stage:      events.StageResearch,
			Status:     string(verdict.Decision),
			Message:    verdict.Reasoning,
			Data:       map[string]any{"round": round, "ready_for_report": verdict.ReadyForReport},
		})

		if !verdict.Continue() {
			if forced {
				out.StopReason = StopCeiling
			} else {
				out.StopReason = StopJudgeSufficient
			}
			break
		}
		if err := ctx.Err(); err != nil {
			out.StopReason = stopReasonFor(err)
			break
		}

		block := l.queue.NextEligible()
		if block == nil {
			out.StopReason = StopQueueExhausted
			break
		}

		l.researchBlock(ctx, objective, block)
		out.TopicsResearched++

		l.proposeGaps(ctx, verdict.Gaps, findings)
	}

	out.Stats = l.queue.Statistics()
	out.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("research.stop_reason", string(out.StopReason)),
		attribute.Int("research.rounds", out.Rounds))
	if l.observer != nil {
		l.observer.ObserveTopics(out.Stats.Pending, out.Stats.Researching, out.Stats.Completed, out.Stats.Failed)
		l.observer.ObserveStop(string(out.StopReason), out.Duration)
	}
	logger.Info("research_stopped",
		zap.String("reason", string(out.StopReason)),
		zap.Int("rounds", out.Rounds),
		zap.Int("completed", out.Stats.Completed),
		zap.Int("failed", out.Stats.Failed),
		zap.Duration("elapsed", out.Duration))

	return out, nil
}

func stopReasonFor(err error) StopReason {
	if errors.Is(err, context.DeadlineExceeded) {
		return StopDeadline
	}
	return StopCancelled
}

// askJudge never fails: errors and unknown decisions fall back to continue.
func (l *Loop) askJudge(ctx context.Context, in JudgeInput) Verdict {
	verdict, err := l.judge.Judge(ctx, in)
	if err != nil {
		l.logger.Warn("judge_failed", zap.Int("round", in.Iteration), zap.Error(err))
		return ContinueVerdict(fmt.Sprintf("Error occurred: %v", err))
	}
	switch verdict.Decision {
	case DecisionContinue, DecisionSufficient, DecisionRefocus:
	default:
		l.logger.Warn("judge_unknown_decision", zap.String("decision", string(verdict.Decision)))
		verdict.Decision = DecisionContinue
		verdict.ReadyForReport = false
	}
	return verdict
}

func (l *Loop) observeRound() {
	if l.observer != nil {
		l.observer.ObserveRound()
	}
}

// researchBlock runs the inner loop for one block and records the result.
func (l *Loop) researchBlock(ctx context.Context, objective string, block *research.TopicBlock) {
	ctx, span := l.tracer.Start(ctx, "orchestration.research_topic",
		trace.WithAttributes(
			attribute.String("block.id", block.BlockID),
			attribute.String("block.sub_topic", block.SubTopic)))
	defer span.End()

	researchID := l.queue.ResearchID()
	logger := l.logger.With(zap.String("research_id", researchID), zap.String("block_id", block.BlockID))

	l.queue.MarkResearching(block.BlockID)
	l.events.Emit(ctx, events.Event{
		Type:       events.ResearchStart,
		ResearchID: researchID,
		BlockID:    block.BlockID,
		SubTopic:   block.SubTopic,
		Message:    "researching topic",
	})

	findings, err := l.safeResearch(ctx, objective, block)
	if err != nil {
		l.queue.MarkFailed(block.BlockID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("topic_failed", zap.String("sub_topic", block.SubTopic), zap.Error(err))
		l.events.Emit(ctx, events.Event{
			Type:       events.ResearchFailed,
			ResearchID: researchID,
			BlockID:    block.BlockID,
			SubTopic:   block.SubTopic,
			Message:    err.Error(),
		})
		return
	}

	l.queue.MarkCompleted(block.BlockID)
	logger.Info("topic_completed", zap.String("sub_topic", block.SubTopic), zap.Int("findings", len(findings)))
	l.events.Emit(ctx, events.Event{
		Type:       events.ResearchComplete,
		ResearchID: researchID,
		BlockID:    block.BlockID,
		SubTopic:   block.SubTopic,
		Message:    "topic completed",
		Data:       map[string]any{"findings_count": len(findings)},
	})
}

// safeResearch turns a panicking collaborator into a topic failure.
func (l *Loop) safeResearch(ctx context.Context, objective string, block *research.TopicBlock) (findings []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("research panic: %v", r)
		}
	}()
	return l.researchTopic(ctx, objective, block)
}

func (l *Loop) researchTopic(ctx context.Context, objective string, block *research.TopicBlock) ([]string, error) {
	symbols := l.symbolsFor(block)
	topicCtx := l.topicContext(ctx, objective, symbols)

	var findings []string
	var observation string
	for it := 1; it <= l.config.MaxIterationsPerTopic; it++ {
		if err := ctx.Err(); err != nil {
			return findings, err
		}
		if err := l.queue.SetIterationCount(block.BlockID, it); err != nil {
			return findings, err
		}

		step, err := l.researcher.Step(ctx, StepInput{
			SubTopic:         block.SubTopic,
			Overview:         block.Overview,
			Context:          topicCtx,
			PreviousFindings: lastN(findings, previousFindingsWindow),
			LastObservation:  observation,
			Iteration:        it,
		})
		if err != nil {
			return findings, fmt.Errorf("research step %d: %w", it, err)
		}

		if step.Sufficient {
			break
		}
		if step.ToolCall != nil && strings.TrimSpace(step.ToolCall.Tool) != "" {
			observation, err = l.runTool(ctx, block, symbols, *step.ToolCall, step.Analysis)
			if err != nil {
				return findings, err
			}
			findings = append(findings, step.KeyFindings...)
			continue
		}
		if step.NextStep == "" {
			break
		}
	}
	return findings, nil
}

// symbolsFor returns the block's own symbols, or the run's when it has none.
func (l *Loop) symbolsFor(block *research.TopicBlock) []string {
	if len(block.Metadata.Symbols) > 0 {
		return block.Metadata.Symbols
	}
	return l.queue.Symbols()
}

// runTool executes one requested call, appends its trace to the block and
// returns the rendering the next step will see.
func (l *Loop) runTool(ctx context.Context, block *research.TopicBlock, symbols []string, call ToolRequest, analysis string) (string, error) {
	researchID := l.queue.ResearchID()
	meta := map[string]any{"block_id": block.BlockID}

	var raw, observation string
	routerType, ok := RouterToolType(call.Tool)
	if !ok {
		raw = fmt.Sprintf("Tool '%s' is not available in ToolRouter.", call.Tool)
		observation = raw
		l.logger.Warn("tool_unmapped", zap.String("tool", call.Tool), zap.String("block_id", block.BlockID))
	} else {
		res := l.router.Execute(ctx, routerType, RouterArgs(routerType, call.Query, symbols))
		raw = res.RawAnswer()
		observation = res.ContextString(observationLen)
		meta["router"] = map[string]any{
			"status":         string(res.Status),
			"retries":        res.Retries,
			"execution_time": res.ExecutionTime.Seconds(),
		}
		l.events.Emit(ctx, events.Event{
			Type:       events.ToolCall,
			ResearchID: researchID,
			BlockID:    block.BlockID,
			SubTopic:   block.SubTopic,
			ToolType:   routerType,
			Status:     string(res.Status),
			Message:    res.Error,
			Data:       map[string]any{"retries": res.Retries, "execution_time": res.ExecutionTime.Seconds()},
		})
	}

	toolID, citationID := l.citations.Next(block.BlockID)
	tr := research.NewToolTrace(toolID, citationID, call.Tool, call.Query, raw, analysis, l.config.MaxRawAnswer)
	tr.Metadata = meta

	if tr.Truncated && l.archive != nil {
		if err := l.archive.Archive(ctx, researchID, citationID, raw); err != nil {
			l.logger.Warn("raw_archive_failed", zap.String("citation_id", citationID), zap.Error(err))
		} else {
			tr.Metadata["archived"] = true
		}
	}

	if err := l.queue.AppendTrace(block.BlockID, tr); err != nil {
		return "", fmt.Errorf("append trace %s: %w", citationID, err)
	}
	if l.observer != nil {
		l.observer.ObserveTrace()
	}
	return observation, nil
}

// proposeGaps offers at most two gaps to the proposer and adds what it
// accepts. Proposer errors are logged and skipped.
func (l *Loop) proposeGaps(ctx context.Context, gaps []string, findings string) {
	if l.proposer == nil || len(gaps) == 0 {
		return
	}
	if len(gaps) > maxGapProposals {
		gaps = gaps[:maxGapProposals]
	}

	var existing []string
	for _, b := range l.queue.Blocks() {
		existing = append(existing, b.SubTopic)
	}
	excerpt := tools.Clip(findings, proposalFindingsLen)

	for _, gap := range gaps {
		if ctx.Err() != nil {
			return
		}
		p, err := l.proposer.Propose(ctx, ProposalInput{Gap: gap, Findings: excerpt, ExistingTopics: existing})
		if err != nil {
			l.logger.Warn("proposal_failed", zap.String("gap", gap), zap.Error(err))
			continue
		}
		if p == nil || strings.TrimSpace(p.Title) == "" {
			continue
		}

		b := l.queue.AddBlock(p.Title, p.Overview, research.Metadata{
			Priority:    p.Priority,
			ToolsNeeded: p.ToolsNeeded,
			Symbols:     l.queue.Symbols(),
			Extra:       map[string]any{"dynamically_added": true, "gap": gap},
		})
		if b == nil {
			l.logger.Debug("proposal_rejected", zap.String("title", p.Title))
			continue
		}
		existing = append(existing, b.SubTopic)
		l.logger.Info("topic_added", zap.String("block_id", b.BlockID), zap.String("sub_topic", b.SubTopic))
	}
}

func lastN(s []string, n int) []string {
	if len(s) <= n {
		return append([]string(nil), s...)
	}
	return append([]string(nil), s[len(s)-n:]...)
}
