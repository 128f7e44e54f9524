package orchestration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/richinex/scout/events"
	"github.com/richinex/scout/research"
	"github.com/richinex/scout/tools"
)

func alwaysContinue() JudgeFunc {
	return func(context.Context, JudgeInput) (Verdict, error) {
		return Verdict{Decision: DecisionContinue}, nil
	}
}

func sufficientStep() StepFunc {
	return func(context.Context, StepInput) (StepOutput, error) {
		return StepOutput{Sufficient: true}, nil
	}
}

func newQueue(titles ...string) *research.Queue {
	q := research.NewQueue("r1", 0)
	for _, title := range titles {
		q.AddBlock(title, title+" overview", research.Metadata{})
	}
	return q
}

func newRouter(t *testing.T) *tools.Router {
	t.Helper()
	cfg := tools.Config{Timeout: time.Second, MaxRetries: 0}
	return tools.NewRouter(cfg, tools.NewRegistry()).WithLogger(zaptest.NewLogger(t))
}

func newLoop(t *testing.T, q *research.Queue, router *tools.Router, judge Judge, step Researcher, cfg LoopConfig) *Loop {
	t.Helper()
	return NewLoop(q, router, judge, step, cfg).WithLogger(zaptest.NewLogger(t))
}

func TestCeilingForcesStopWithoutJudge(t *testing.T) {
	q := newQueue("A", "B", "C", "D")
	var judgeCalls int
	judge := JudgeFunc(func(context.Context, JudgeInput) (Verdict, error) {
		judgeCalls++
		return Verdict{Decision: DecisionContinue, ReadyForReport: false}, nil
	})

	out, err := newLoop(t, q, newRouter(t), judge, sufficientStep(), LoopConfig{MaxIterations: 3}).
		Run(context.Background(), "objective")
	require.NoError(t, err)

	assert.Equal(t, StopCeiling, out.StopReason)
	assert.Equal(t, 3, out.Rounds)
	assert.Equal(t, 2, judgeCalls)
	assert.Equal(t, 2, out.JudgeCalls)
	assert.True(t, out.LastVerdict.ReadyForReport)
	assert.Equal(t, DecisionSufficient, out.LastVerdict.Decision)
	assert.Equal(t, 2, out.TopicsResearched)
	assert.Equal(t, 2, out.Stats.Completed)
	assert.Equal(t, 2, out.Stats.Pending)
}

func TestJudgeSufficientStops(t *testing.T) {
	q := newQueue("A", "B", "C")
	judge := JudgeFunc(func(_ context.Context, in JudgeInput) (Verdict, error) {
		if in.Iteration == 2 {
			return Verdict{Decision: DecisionSufficient}, nil
		}
		return Verdict{Decision: DecisionContinue}, nil
	})

	out, err := newLoop(t, q, newRouter(t), judge, sufficientStep(), LoopConfig{MaxIterations: 10}).
		Run(context.Background(), "objective")
	require.NoError(t, err)

	assert.Equal(t, StopJudgeSufficient, out.StopReason)
	assert.Equal(t, 2, out.Rounds)
	assert.Equal(t, 1, out.TopicsResearched)
}

func TestReadyForReportStopsEvenOnContinue(t *testing.T) {
	q := newQueue("A")
	judge := JudgeFunc(func(context.Context, JudgeInput) (Verdict, error) {
		return Verdict{Decision: DecisionContinue, ReadyForReport: true}, nil
	})

	out, err := newLoop(t, q, newRouter(t), judge, sufficientStep(), LoopConfig{}).Run(context.Background(), "o")
	require.NoError(t, err)

	assert.Equal(t, StopJudgeSufficient, out.StopReason)
	assert.Equal(t, 0, out.TopicsResearched)
}

func TestQueueExhaustedStops(t *testing.T) {
	q := newQueue("A")
	var inputs []JudgeInput
	judge := JudgeFunc(func(_ context.Context, in JudgeInput) (Verdict, error) {
		inputs = append(inputs, in)
		return Verdict{Decision: DecisionContinue}, nil
	})

	out, err := newLoop(t, q, newRouter(t), judge, sufficientStep(), LoopConfig{MaxIterations: 10}).
		Run(context.Background(), "objective")
	require.NoError(t, err)

	assert.Equal(t, StopQueueExhausted, out.StopReason)
	assert.Equal(t, 2, out.Rounds)
	require.Len(t, inputs, 2)
	assert.Equal(t, "objective", inputs[0].Objective)
	assert.Equal(t, 10, inputs[0].MaxIterations)
	assert.Equal(t, 2, inputs[1].Iteration)
	assert.Contains(t, inputs[1].StatusSummary, "- Completed: 1")
	assert.Contains(t, inputs[1].StatusSummary, "[✓] A (tools: 0, iterations: 1)")
}

func TestToolCallIsRoutedAndTraced(t *testing.T) {
	router := newRouter(t)
	var mu sync.Mutex
	var got map[string]any
	require.NoError(t, router.Register(tools.TypeWebSearch, tools.HandlerFunc(func(_ context.Context, p map[string]any) (any, error) {
		mu.Lock()
		got = p
		mu.Unlock()
		return map[string]any{"results": []any{map[string]any{"title": "Q3 earnings", "snippet": "beat"}}}, nil
	})))

	q := newQueue("Earnings")
	var inputs []StepInput
	step := StepFunc(func(_ context.Context, in StepInput) (StepOutput, error) {
		inputs = append(inputs, in)
		if in.Iteration == 1 {
			return StepOutput{
				ToolCall:    &ToolRequest{Tool: "web_search", Query: "q3 earnings"},
				KeyFindings: []string{"earnings beat"},
				Analysis:    "searched earnings",
			}, nil
		}
		return StepOutput{Sufficient: true}, nil
	})

	_, err := newLoop(t, q, router, alwaysContinue(), step, LoopConfig{MaxIterations: 2}).Run(context.Background(), "o")
	require.NoError(t, err)

	mu.Lock()
	assert.Equal(t, map[string]any{"query": "q3 earnings", "max_results": 10}, got)
	mu.Unlock()

	block, _ := q.Get("block_1")
	require.Len(t, block.ToolTraces, 1)
	tr := block.ToolTraces[0]
	assert.Equal(t, "tool_1_1", tr.ToolID)
	assert.Equal(t, "CIT-1-01", tr.CitationID)
	assert.Equal(t, "web_search", tr.ToolType)
	assert.Equal(t, "q3 earnings", tr.Query)
	assert.Equal(t, "searched earnings", tr.Summary)
	assert.Contains(t, tr.RawAnswer, "Q3 earnings")
	assert.Equal(t, "block_1", tr.Metadata["block_id"])
	routerMeta, ok := tr.Metadata["router"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "success", routerMeta["status"])
	assert.Equal(t, 0, routerMeta["retries"])

	assert.Equal(t, research.StatusCompleted, block.Status)
	assert.Equal(t, 2, block.IterationCount)

	require.Len(t, inputs, 2)
	assert.Empty(t, inputs[0].PreviousFindings)
	assert.Equal(t, []string{"earnings beat"}, inputs[1].PreviousFindings)
	assert.Contains(t, inputs[1].LastObservation, "Q3 earnings")
	assert.Equal(t, "Earnings", inputs[0].SubTopic)
	assert.Equal(t, "Earnings overview", inputs[0].Overview)
}

func TestUnmappedToolIsTracedWithoutRouterCall(t *testing.T) {
	q := newQueue("A")
	step := StepFunc(func(_ context.Context, in StepInput) (StepOutput, error) {
		if in.Iteration == 1 {
			return StepOutput{ToolCall: &ToolRequest{Tool: "calculator", Query: "2+2"}}, nil
		}
		return StepOutput{Sufficient: true}, nil
	})

	_, err := newLoop(t, q, newRouter(t), alwaysContinue(), step, LoopConfig{MaxIterations: 2}).Run(context.Background(), "o")
	require.NoError(t, err)

	block, _ := q.Get("block_1")
	require.Len(t, block.ToolTraces, 1)
	assert.Equal(t, "Tool 'calculator' is not available in ToolRouter.", block.ToolTraces[0].RawAnswer)
	assert.NotContains(t, block.ToolTraces[0].Metadata, "router")
}

func TestInnerLoopStopsWithoutToolOrNextStep(t *testing.T) {
	q := newQueue("A")
	var calls int
	step := StepFunc(func(_ context.Context, in StepInput) (StepOutput, error) {
		calls++
		if in.Iteration == 1 {
			return StepOutput{NextStep: "think harder"}, nil
		}
		return StepOutput{}, nil
	})

	_, err := newLoop(t, q, newRouter(t), alwaysContinue(), step, LoopConfig{MaxIterations: 2, MaxIterationsPerTopic: 5}).
		Run(context.Background(), "o")
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	block, _ := q.Get("block_1")
	assert.Equal(t, research.StatusCompleted, block.Status)
}

func TestInnerLoopBoundedPerTopic(t *testing.T) {
	q := newQueue("A")
	var calls int
	step := StepFunc(func(context.Context, StepInput) (StepOutput, error) {
		calls++
		return StepOutput{NextStep: "more"}, nil
	})

	_, err := newLoop(t, q, newRouter(t), alwaysContinue(), step, LoopConfig{MaxIterations: 2, MaxIterationsPerTopic: 3}).
		Run(context.Background(), "o")
	require.NoError(t, err)

	assert.Equal(t, 3, calls)
	block, _ := q.Get("block_1")
	assert.Equal(t, 3, block.IterationCount)
}

func TestTopicFailureDoesNotStopLoop(t *testing.T) {
	for name, fail := range map[string]func() (StepOutput, error){
		"error": func() (StepOutput, error) { return StepOutput{}, errors.New("llm unavailable") },
		"panic": func() (StepOutput, error) { panic("boom") },
	} {
		t.Run(name, func(t *testing.T) {
			q := newQueue("A", "B")
			step := StepFunc(func(_ context.Context, in StepInput) (StepOutput, error) {
				if in.SubTopic == "A" {
					return fail()
				}
				return StepOutput{Sufficient: true}, nil
			})

			out, err := newLoop(t, q, newRouter(t), alwaysContinue(), step, LoopConfig{MaxIterations: 10}).
				Run(context.Background(), "o")
			require.NoError(t, err)

			a, _ := q.Get("block_1")
			b, _ := q.Get("block_2")
			assert.Equal(t, research.StatusFailed, a.Status)
			assert.Equal(t, research.StatusCompleted, b.Status)
			assert.Equal(t, StopQueueExhausted, out.StopReason)
			assert.Equal(t, 2, out.TopicsResearched)
		})
	}
}

func TestGapsOfferedAtMostTwice(t *testing.T) {
	q := newQueue("A", "B")
	judge := JudgeFunc(func(_ context.Context, in JudgeInput) (Verdict, error) {
		if in.Iteration == 1 {
			return Verdict{Decision: DecisionContinue, Gaps: []string{"Margins", "b", "Debt"}}, nil
		}
		return Verdict{Decision: DecisionSufficient}, nil
	})
	var offered []ProposalInput
	proposer := ProposerFunc(func(_ context.Context, in ProposalInput) (*Proposal, error) {
		offered = append(offered, in)
		return &Proposal{Title: in.Gap, Overview: "gap " + in.Gap, Priority: 2}, nil
	})

	_, err := newLoop(t, q, newRouter(t), judge, sufficientStep(), LoopConfig{MaxIterations: 10}).
		WithProposer(proposer).
		Run(context.Background(), "o")
	require.NoError(t, err)

	require.Len(t, offered, 2)
	assert.Equal(t, "Margins", offered[0].Gap)
	assert.Equal(t, []string{"A", "B"}, offered[0].ExistingTopics)
	assert.Equal(t, []string{"A", "B", "Margins"}, offered[1].ExistingTopics)

	// "b" duplicates an existing topic and is rejected by the queue.
	assert.Equal(t, 3, q.Len())
	added, ok := q.Get("block_3")
	require.True(t, ok)
	assert.Equal(t, "Margins", added.SubTopic)
	assert.Equal(t, 2, added.Metadata.Priority)
	assert.Equal(t, true, added.Metadata.Extra["dynamically_added"])
}

func TestProposerFailuresAreSkipped(t *testing.T) {
	q := newQueue("A")
	judge := JudgeFunc(func(_ context.Context, in JudgeInput) (Verdict, error) {
		if in.Iteration == 1 {
			return Verdict{Decision: DecisionContinue, Gaps: []string{"x", "y"}}, nil
		}
		return Verdict{Decision: DecisionSufficient}, nil
	})
	proposer := ProposerFunc(func(_ context.Context, in ProposalInput) (*Proposal, error) {
		if in.Gap == "x" {
			return nil, errors.New("bad json")
		}
		return nil, nil
	})

	_, err := newLoop(t, q, newRouter(t), judge, sufficientStep(), LoopConfig{}).
		WithProposer(proposer).
		Run(context.Background(), "o")
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())
}

func TestJudgeErrorFallsBackToContinue(t *testing.T) {
	q := newQueue("A", "B", "C")
	judge := JudgeFunc(func(context.Context, JudgeInput) (Verdict, error) {
		return Verdict{}, errors.New("rate limited")
	})

	out, err := newLoop(t, q, newRouter(t), judge, sufficientStep(), LoopConfig{MaxIterations: 3}).
		Run(context.Background(), "o")
	require.NoError(t, err)

	assert.Equal(t, StopCeiling, out.StopReason)
	assert.Equal(t, 2, out.TopicsResearched)
}

func TestUnknownDecisionTreatedAsContinue(t *testing.T) {
	q := newQueue("A")
	judge := JudgeFunc(func(context.Context, JudgeInput) (Verdict, error) {
		return Verdict{Decision: "maybe", ReadyForReport: true}, nil
	})

	out, err := newLoop(t, q, newRouter(t), judge, sufficientStep(), LoopConfig{MaxIterations: 5}).
		Run(context.Background(), "o")
	require.NoError(t, err)

	assert.Equal(t, StopQueueExhausted, out.StopReason)
	assert.Equal(t, 1, out.TopicsResearched)
}

func TestCancelledContextStopsBeforeFirstRound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := newLoop(t, newQueue("A"), newRouter(t), alwaysContinue(), sufficientStep(), LoopConfig{}).Run(ctx, "o")
	require.NoError(t, err)

	assert.Equal(t, StopCancelled, out.StopReason)
	assert.Equal(t, 0, out.Rounds)
}

func TestMaxDurationStopsWithDeadline(t *testing.T) {
	q := newQueue("A", "B")
	step := StepFunc(func(ctx context.Context, _ StepInput) (StepOutput, error) {
		<-ctx.Done()
		return StepOutput{}, ctx.Err()
	})

	start := time.Now()
	out, err := newLoop(t, q, newRouter(t), alwaysContinue(), step, LoopConfig{MaxDuration: 50 * time.Millisecond}).
		Run(context.Background(), "o")
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StopDeadline, out.StopReason)
	assert.Equal(t, 1, out.Rounds)
	a, _ := q.Get("block_1")
	assert.Equal(t, research.StatusFailed, a.Status)
}

func TestCitationSequenceSpansBlocks(t *testing.T) {
	router := newRouter(t)
	require.NoError(t, router.Register(tools.TypeNewsSearch, tools.HandlerFunc(func(context.Context, map[string]any) (any, error) {
		return "headline", nil
	})))
	q := newQueue("A", "B")
	step := StepFunc(func(_ context.Context, in StepInput) (StepOutput, error) {
		if in.Iteration == 1 {
			return StepOutput{ToolCall: &ToolRequest{Tool: "news_search", Query: in.SubTopic}}, nil
		}
		return StepOutput{Sufficient: true}, nil
	})

	_, err := newLoop(t, q, router, alwaysContinue(), step, LoopConfig{}).Run(context.Background(), "o")
	require.NoError(t, err)

	a, _ := q.Get("block_1")
	b, _ := q.Get("block_2")
	require.Len(t, a.ToolTraces, 1)
	require.Len(t, b.ToolTraces, 1)
	assert.Equal(t, "CIT-1-01", a.ToolTraces[0].CitationID)
	assert.Equal(t, "CIT-2-02", b.ToolTraces[0].CitationID)
	assert.Equal(t, "tool_2_2", b.ToolTraces[0].ToolID)
}

type fakeArchive struct {
	keys     []string
	contents []string
}

func (a *fakeArchive) Archive(_ context.Context, researchID, citationID, content string) error {
	a.keys = append(a.keys, researchID+"/"+citationID)
	a.contents = append(a.contents, content)
	return nil
}

func TestTruncatedRawAnswerIsArchived(t *testing.T) {
	long := strings.Repeat("x", 300)
	router := newRouter(t)
	require.NoError(t, router.Register(tools.TypeWebSearch, tools.HandlerFunc(func(context.Context, map[string]any) (any, error) {
		return long, nil
	})))
	step := StepFunc(func(_ context.Context, in StepInput) (StepOutput, error) {
		if in.Iteration == 1 {
			return StepOutput{ToolCall: &ToolRequest{Tool: "web_search", Query: "q"}}, nil
		}
		return StepOutput{Sufficient: true}, nil
	})
	archive := &fakeArchive{}
	q := newQueue("A")

	_, err := newLoop(t, q, router, alwaysContinue(), step, LoopConfig{MaxRawAnswer: 100}).
		WithArchive(archive).
		Run(context.Background(), "o")
	require.NoError(t, err)

	block, _ := q.Get("block_1")
	tr := block.ToolTraces[0]
	assert.True(t, tr.Truncated)
	assert.Equal(t, 300, tr.OriginalSize)
	assert.LessOrEqual(t, len(tr.RawAnswer), 100)
	assert.Equal(t, true, tr.Metadata["archived"])
	assert.Equal(t, []string{"r1/CIT-1-01"}, archive.keys)
	assert.Equal(t, long, archive.contents[0])
}

type countingObserver struct {
	rounds, traces int
	stops          []string
	completed      int
}

func (o *countingObserver) ObserveRound() { o.rounds++ }
func (o *countingObserver) ObserveTrace() { o.traces++ }
func (o *countingObserver) ObserveTopics(_, _, completed, _ int) {
	o.completed = completed
}
func (o *countingObserver) ObserveStop(reason string, _ time.Duration) {
	o.stops = append(o.stops, reason)
}

func TestObserverAndEvents(t *testing.T) {
	router := newRouter(t)
	require.NoError(t, router.Register(tools.TypeWebSearch, tools.HandlerFunc(func(context.Context, map[string]any) (any, error) {
		return "result", nil
	})))
	step := StepFunc(func(_ context.Context, in StepInput) (StepOutput, error) {
		if in.Iteration == 1 {
			return StepOutput{ToolCall: &ToolRequest{Tool: "web_search", Query: "q"}}, nil
		}
		return StepOutput{Sufficient: true}, nil
	})
	obs := &countingObserver{}
	sink := events.NewChannelSink(64)

	_, err := newLoop(t, newQueue("A"), router, alwaysContinue(), step, LoopConfig{}).
		WithObserver(obs).
		WithEvents(sink).
		Run(context.Background(), "o")
	require.NoError(t, err)
	sink.Close()

	assert.Equal(t, 2, obs.rounds)
	assert.Equal(t, 1, obs.traces)
	assert.Equal(t, 1, obs.completed)
	assert.Equal(t, []string{"queue-exhausted"}, obs.stops)

	var types []events.Type
	for e := range sink.Events() {
		types = append(types, e.Type)
	}
	assert.Equal(t, []events.Type{
		events.Round, events.ResearchStart, events.ToolCall, events.ResearchComplete, events.Round,
	}, types)
}

func TestRunRequiresCollaborators(t *testing.T) {
	_, err := NewLoop(newQueue("A"), newRouter(t), nil, sufficientStep(), LoopConfig{}).Run(context.Background(), "o")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestEnrichmentAddsMarketData(t *testing.T) {
	router := newRouter(t)
	require.NoError(t, router.Register(tools.TypeStockPrice, tools.HandlerFunc(func(_ context.Context, p map[string]any) (any, error) {
		return map[string]any{"symbol": p["symbol"], "close": 190.5}, nil
	})))
	require.NoError(t, router.Register(tools.TypeStockInfo, tools.HandlerFunc(func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("profile unavailable")
	})))

	q := research.NewQueue("r1", 0)
	q.AddBlock("Valuation", "", research.Metadata{Symbols: []string{"AAPL"}})
	var got StepInput
	step := StepFunc(func(_ context.Context, in StepInput) (StepOutput, error) {
		got = in
		return StepOutput{Sufficient: true}, nil
	})

	_, err := newLoop(t, q, router, alwaysContinue(), step, LoopConfig{}).Run(context.Background(), "Is AAPL cheap?")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got.Context, "Is AAPL cheap?\nTarget Symbols: AAPL"))
	assert.Contains(t, got.Context, "Market Data:")
	assert.NotContains(t, got.Context, "profile unavailable")
}
