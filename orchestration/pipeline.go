package orchestration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/richinex/scout/events"
	"github.com/richinex/scout/research"
	"github.com/richinex/scout/tools"
)

// DefaultMaxTopics is the decomposition size when none is configured.
const DefaultMaxTopics = 5

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	// MaxTopics bounds the decomposition. The queue holds twice as many so
	// proposals have room.
	MaxTopics int
	Loop      LoopConfig
}

// PersisterFactory returns the persister for a new run's queue.
type PersisterFactory func(researchID string) research.Persister

// Request starts a run.
type Request struct {
	Topic      string
	Context    string
	Symbols    []string
	ResearchID string
}

// Result is a finished run.
type Result struct {
	ResearchID  string          `json:"research_id"`
	Topic       string          `json:"topic"`
	Objective   string          `json:"research_objective"`
	Outcome     Outcome         `json:"outcome"`
	Report      string          `json:"report,omitempty"`
	ReportError string          `json:"report_error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Queue       *research.Queue `json:"-"`
}

// Pipeline runs decompose, research and report for a topic.
type Pipeline struct {
	router     *tools.Router
	decomposer Decomposer
	judge      Judge
	researcher Researcher
	proposer   Proposer
	reporter   Reporter
	config     PipelineConfig

	persisters PersisterFactory
	archive    RawArchiver
	events     events.Sink
	observer   Observer
	logger     *zap.Logger
}

// NewPipeline creates a pipeline. Proposer and reporter are optional.
func NewPipeline(router *tools.Router, decomposer Decomposer, judge Judge, researcher Researcher, config PipelineConfig) *Pipeline {
	if config.MaxTopics <= 0 {
		config.MaxTopics = DefaultMaxTopics
	}
	config.Loop = config.Loop.normalize()
	return &Pipeline{
		router:     router,
		decomposer: decomposer,
		judge:      judge,
		researcher: researcher,
		config:     config,
		events:     events.Nop{},
		logger:     zap.NewNop(),
	}
}

// WithProposer enables topic growth from judge gaps.
func (p *Pipeline) WithProposer(pr Proposer) *Pipeline {
	p.proposer = pr
	return p
}

// WithReporter enables the report stage.
func (p *Pipeline) WithReporter(r Reporter) *Pipeline {
	p.reporter = r
	return p
}

// WithPersisters sets how new queues are persisted.
func (p *Pipeline) WithPersisters(f PersisterFactory) *Pipeline {
	p.persisters = f
	return p
}

// WithArchive stores full raw answers for truncated traces.
func (p *Pipeline) WithArchive(a RawArchiver) *Pipeline {
	p.archive = a
	return p
}

// WithEvents sets the progress sink.
func (p *Pipeline) WithEvents(s events.Sink) *Pipeline {
	if s != nil {
		p.events = s
	}
	return p
}

// WithObserver sets the metrics observer.
func (p *Pipeline) WithObserver(o Observer) *Pipeline {
	p.observer = o
	return p
}

// WithLogger sets the logger.
func (p *Pipeline) WithLogger(logger *zap.Logger) *Pipeline {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// NewResearchID returns a fresh run id.
func NewResearchID() string {
	return "research_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Run decomposes req.Topic into a fresh queue and researches it.
// Only a failed decomposition is returned as an error.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	researchID := req.ResearchID
	if researchID == "" {
		researchID = NewResearchID()
	}
	res := &Result{ResearchID: researchID, Topic: req.Topic, StartedAt: time.Now().UTC()}
	logger := p.logger.With(zap.String("research_id", researchID))

	p.events.Emit(ctx, events.Event{Type: events.Started, ResearchID: researchID, Message: req.Topic})
	p.stage(ctx, events.StageStart, researchID, events.StageDecompose, nil)

	plan, err := p.decomposer.Decompose(ctx, DecomposeInput{
		Topic:        req.Topic,
		Context:      req.Context,
		Symbols:      req.Symbols,
		MaxSubTopics: p.config.MaxTopics,
	})
	if err != nil {
		return nil, fmt.Errorf("decompose %q: %w", req.Topic, err)
	}
	res.Objective = plan.Objective
	if res.Objective == "" {
		res.Objective = req.Topic
	}

	queue := research.NewQueue(researchID, p.config.MaxTopics*2).WithLogger(p.logger)
	if p.persisters != nil {
		queue = queue.WithPersister(p.persisters(researchID))
	}
	queue.SetRun(res.Objective, req.Symbols)
	seedQueue(queue, plan, req, p.config.MaxTopics)
	logger.Info("topics_planned", zap.Int("topics", queue.Len()))
	p.stage(ctx, events.StageComplete, researchID, events.StageDecompose, map[string]any{"topics": queue.Len()})

	citations := &research.Citations{}
	return p.finish(ctx, res, queue, citations)
}

// seedQueue adds the planned sub-topics, or the topic itself when the plan
// is empty. Plan symbols default to the request's.
func seedQueue(q *research.Queue, plan Plan, req Request, maxTopics int) {
	subs := plan.SubTopics
	if len(subs) > maxTopics {
		subs = subs[:maxTopics]
	}
	for _, st := range subs {
		symbols := st.Symbols
		if len(symbols) == 0 {
			symbols = req.Symbols
		}
		q.AddBlock(st.Title, st.Overview, research.Metadata{
			Priority:     st.Priority,
			Dependencies: st.Dependencies,
			ToolsNeeded:  st.ToolsNeeded,
			Symbols:      symbols,
		})
	}
	if q.Len() == 0 {
		q.AddBlock(req.Topic, req.Context, research.Metadata{Priority: 1, Symbols: req.Symbols})
	}
}

// Resume continues a loaded queue. Blocks interrupted mid-research are
// marked failed; citation numbering continues after the highest existing id.
// An empty objective uses the one recorded in the queue, then the joined
// block titles.
func (p *Pipeline) Resume(ctx context.Context, queue *research.Queue, objective string) (*Result, error) {
	researchID := queue.ResearchID()
	if objective == "" {
		objective = queue.Objective()
	}
	if objective == "" {
		var titles []string
		for _, b := range queue.Blocks() {
			titles = append(titles, b.SubTopic)
		}
		objective = strings.Join(titles, "; ")
	}
	res := &Result{ResearchID: researchID, Topic: objective, Objective: objective, StartedAt: time.Now().UTC()}

	if ids := queue.RecoverInterrupted(); len(ids) > 0 {
		p.logger.Warn("interrupted_topics_failed", zap.String("research_id", researchID), zap.Strings("block_ids", ids))
	}
	citations := &research.Citations{}
	citations.Seed(queue.Snapshot().Traces())

	p.events.Emit(ctx, events.Event{Type: events.Started, ResearchID: researchID, Message: "resumed"})
	return p.finish(ctx, res, queue, citations)
}

// finish runs the research and report stages.
func (p *Pipeline) finish(ctx context.Context, res *Result, queue *research.Queue, citations *research.Citations) (*Result, error) {
	researchID := res.ResearchID
	res.Queue = queue

	p.stage(ctx, events.StageStart, researchID, events.StageResearch, nil)
	loop := NewLoop(queue, p.router, p.judge, p.researcher, p.config.Loop).
		WithProposer(p.proposer).
		WithCitations(citations).
		WithArchive(p.archive).
		WithEvents(p.events).
		WithObserver(p.observer).
		WithLogger(p.logger)

	outcome, err := loop.Run(ctx, res.Objective)
	if err != nil {
		return nil, err
	}
	res.Outcome = outcome
	p.stage(ctx, events.StageComplete, researchID, events.StageResearch, map[string]any{
		"stop_reason": string(outcome.StopReason),
		"rounds":      outcome.Rounds,
	})

	if p.reporter != nil && ctx.Err() == nil {
		p.stage(ctx, events.StageStart, researchID, events.StageReport, nil)
		report, err := p.reporter.Report(ctx, ReportInput{
			Topic:     res.Topic,
			Objective: res.Objective,
			Findings:  queue.AllSummaries(),
			Blocks:    queue.Completed(),
			Stats:     queue.Statistics(),
		})
		if err != nil {
			res.ReportError = err.Error()
			p.logger.Error("report_failed", zap.String("research_id", researchID), zap.Error(err))
		}
		res.Report = report
		p.stage(ctx, events.StageComplete, researchID, events.StageReport, nil)
	}

	res.CompletedAt = time.Now().UTC()
	p.events.Emit(ctx, events.Event{
		Type:       events.Completed,
		ResearchID: researchID,
		Status:     string(outcome.StopReason),
		Data: map[string]any{
			"completed":  outcome.Stats.Completed,
			"failed":     outcome.Stats.Failed,
			"tool_calls": outcome.Stats.TotalToolCalls,
		},
	})
	return res, nil
}

func (p *Pipeline) stage(ctx context.Context, t events.Type, researchID, stage string, data map[string]any) {
	p.events.Emit(ctx, events.Event{Type: t, ResearchID: researchID, Stage: stage, Data: data})
}
