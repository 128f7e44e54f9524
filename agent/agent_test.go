package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/richinex/scout/llm"
	"github.com/richinex/scout/orchestration"
	"github.com/richinex/scout/research"
)

// scriptedProvider replays canned answers and records each request.
type scriptedProvider struct {
	mu       sync.Mutex
	answers  []string
	err      error
	requests [][]llm.ChatMessage
	formats  []*llm.ResponseFormat
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-1" }

func (p *scriptedProvider) Chat(ctx context.Context, messages []llm.ChatMessage) (llm.Response, error) {
	return p.ChatWithFormat(ctx, messages, nil)
}

func (p *scriptedProvider) ChatWithFormat(_ context.Context, messages []llm.ChatMessage, format *llm.ResponseFormat) (llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, messages)
	p.formats = append(p.formats, format)
	if p.err != nil {
		return llm.Response{}, p.err
	}
	answer := ""
	if len(p.answers) > 0 {
		answer, p.answers = p.answers[0], p.answers[1:]
	}
	return llm.Response{Content: answer, Usage: &llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}, nil
}

func (p *scriptedProvider) lastUser() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.requests[len(p.requests)-1]
	return msgs[len(msgs)-1].Content
}

func newAgent(answers ...string) (*Agent, *scriptedProvider) {
	p := &scriptedProvider{answers: answers}
	return New(DefaultConfig(), p), p
}

func TestJudgeParsesVerdict(t *testing.T) {
	a, p := newAgent("```json\n" + `{
		"assessment": {"overall_score": 7},
		"decision": "Sufficient",
		"reasoning": "coverage is good",
		"gaps_identified": ["valuation peers"],
		"ready_for_report": true
	}` + "\n```")

	v, err := a.Judge(context.Background(), orchestration.JudgeInput{
		Objective:     "Assess ACME",
		StatusSummary: "Total Topics: 1",
		Iteration:     2,
		MaxIterations: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, orchestration.DecisionSufficient, v.Decision)
	assert.True(t, v.ReadyForReport)
	assert.Equal(t, []string{"valuation peers"}, v.Gaps)
	assert.Equal(t, "coverage is good", v.Reasoning)
	assert.Contains(t, v.Payload, "assessment")
	assert.False(t, v.Continue())

	user := p.lastUser()
	assert.Contains(t, user, "Research Objective: Assess ACME")
	assert.Contains(t, user, "No findings yet.")
	assert.Contains(t, user, "Iteration: 2/10")
	assert.True(t, p.formats[0].JSON())
}

func TestJudgeUnparseableContinues(t *testing.T) {
	a, _ := newAgent("I think we should keep going.")

	v, err := a.Judge(context.Background(), orchestration.JudgeInput{Objective: "x"})
	require.NoError(t, err)
	assert.Equal(t, orchestration.DecisionContinue, v.Decision)
	assert.False(t, v.ReadyForReport)
	assert.Equal(t, "I think we should keep going.", v.Reasoning)
	assert.True(t, v.Continue())
}

func TestJudgeMissingDecisionContinues(t *testing.T) {
	a, _ := newAgent(`{"reasoning": "partial"}`)

	v, err := a.Judge(context.Background(), orchestration.JudgeInput{})
	require.NoError(t, err)
	assert.Equal(t, orchestration.DecisionContinue, v.Decision)
}

func TestJudgeForwardsUnknownKeysInPayload(t *testing.T) {
	a, _ := newAgent(`{
		"decision": "continue",
		"ready_for_report": false,
		"reasoning": "thin",
		"gaps_identified": ["margins"],
		"assessment": {"overall_score": 4},
		"next_actions": ["dig"],
		"confidence": 0.4,
		"critical_issues": ["no filings"]
	}`)

	v, err := a.Judge(context.Background(), orchestration.JudgeInput{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"assessment":      map[string]any{"overall_score": float64(4)},
		"next_actions":    []any{"dig"},
		"confidence":      0.4,
		"critical_issues": []any{"no filings"},
	}, v.Payload)
}

func TestJudgeContractViolationFallsBack(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	a, _ := newAgent(`{"decision": "sufficient", "reasoning": "done"}`)
	a.WithLogger(zap.New(core))

	v, err := a.Judge(context.Background(), orchestration.JudgeInput{})
	require.NoError(t, err)
	assert.Equal(t, orchestration.DecisionSufficient, v.Decision)
	assert.False(t, v.ReadyForReport)
	assert.Nil(t, v.Payload)

	entries := logs.FilterMessage("contract_violation").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, orchestration.JudgeContract, fields["contract"])
	assert.Equal(t, []any{"Required field 'ready_for_report' is missing"}, fields["errors"])
}

func TestJudgeCompleteAnswerLogsNoViolation(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	a, _ := newAgent(`{"decision": "continue", "ready_for_report": false}`)
	a.WithLogger(zap.New(core))

	_, err := a.Judge(context.Background(), orchestration.JudgeInput{})
	require.NoError(t, err)
	assert.Zero(t, logs.FilterMessage("contract_violation").Len())
}

func TestJudgeProviderError(t *testing.T) {
	boom := errors.New("rate limited")
	a := New(DefaultConfig(), &scriptedProvider{err: boom})

	_, err := a.Judge(context.Background(), orchestration.JudgeInput{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "judge")
}

func TestStepParsesToolCall(t *testing.T) {
	a, p := newAgent(`Here is my plan: {
		"reasoning": "need prices",
		"tool_call": {"tool": "stock_data", "query": "ACME"},
		"key_findings": ["revenue up 12%"],
		"sufficient": false,
		"next_step": "check valuation"
	}`)

	out, err := a.Step(context.Background(), orchestration.StepInput{
		SubTopic:         "Price trend",
		Overview:         "Recent performance",
		Context:          "Objective: Assess ACME",
		PreviousFindings: []string{"founded 1999"},
		LastObservation:  "Tool: web_search\nStatus: success",
		Iteration:        2,
	})
	require.NoError(t, err)
	require.NotNil(t, out.ToolCall)
	assert.Equal(t, "stock_data", out.ToolCall.Tool)
	assert.Equal(t, "ACME", out.ToolCall.Query)
	assert.Equal(t, []string{"revenue up 12%"}, out.KeyFindings)
	assert.False(t, out.Sufficient)
	assert.Equal(t, "check valuation", out.NextStep)

	user := p.lastUser()
	assert.Contains(t, user, "Research Topic: Price trend")
	assert.Contains(t, user, "- founded 1999")
	assert.Contains(t, user, "Last Tool Result:\nTool: web_search")

	system := p.requests[0][0].Content
	assert.Contains(t, system, "- stock_data: Get stock price history")
	assert.Contains(t, system, "- web_search:")
}

func TestStepAcceptsList(t *testing.T) {
	a, _ := newAgent(`[{"tool_call": null, "key_findings": ["a"], "sufficient": true}, {"sufficient": false}]`)

	out, err := a.Step(context.Background(), orchestration.StepInput{SubTopic: "t"})
	require.NoError(t, err)
	assert.Nil(t, out.ToolCall)
	assert.True(t, out.Sufficient)
	assert.Equal(t, []string{"a"}, out.KeyFindings)
}

func TestStepUnparseableIsSufficient(t *testing.T) {
	a, _ := newAgent("no json here")

	out, err := a.Step(context.Background(), orchestration.StepInput{SubTopic: "t"})
	require.NoError(t, err)
	assert.True(t, out.Sufficient)
	assert.Nil(t, out.ToolCall)
	assert.Empty(t, out.KeyFindings)
}

func TestStepEmptyToolNameDropped(t *testing.T) {
	a, _ := newAgent(`{"tool_call": {"tool": " ", "query": "x"}, "next_step": "think"}`)

	out, err := a.Step(context.Background(), orchestration.StepInput{SubTopic: "t"})
	require.NoError(t, err)
	assert.Nil(t, out.ToolCall)
	assert.NotNil(t, out.KeyFindings)
	assert.Equal(t, "think", out.NextStep)
}

func TestStepMissingSufficientDefaults(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   bool
	}{
		{name: "no action", answer: `{"key_findings": ["a"]}`, want: true},
		{name: "tool requested", answer: `{"tool_call": {"tool": "web_search", "query": "q"}}`, want: false},
		{name: "next step named", answer: `{"next_step": "compare peers"}`, want: false},
		{name: "null", answer: `{"sufficient": null}`, want: true},
		{name: "explicit false", answer: `{"sufficient": false}`, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			a, _ := newAgent(tt.answer)
			a.WithLogger(zap.New(core))

			out, err := a.Step(context.Background(), orchestration.StepInput{SubTopic: "t"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Sufficient)

			violations := logs.FilterMessage("contract_violation").Len()
			if tt.name == "explicit false" {
				assert.Zero(t, violations)
			} else {
				assert.Equal(t, 1, violations)
			}
		})
	}
}

func TestProposeHonoursShouldAdd(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   *orchestration.Proposal
	}{
		{
			name:   "accepted",
			answer: `{"should_add": true, "title": " Peer valuation ", "overview": "Compare multiples", "tools_needed": ["financials"]}`,
			want:   &orchestration.Proposal{Title: "Peer valuation", Overview: "Compare multiples", Priority: 5, ToolsNeeded: []string{"financials"}},
		},
		{
			name:   "declined",
			answer: `{"should_add": false, "title": "Peer valuation"}`,
		},
		{
			name:   "untitled",
			answer: `{"should_add": true, "title": ""}`,
		},
		{
			name:   "garbage",
			answer: "maybe",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, p := newAgent(tt.answer)
			got, err := a.Propose(context.Background(), orchestration.ProposalInput{
				Gap:            "no peer comparison",
				Findings:       "ACME grew",
				ExistingTopics: []string{"Overview", "Financials"},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, p.lastUser(), "Identified gap: no peer comparison")
			assert.Contains(t, p.lastUser(), "- Overview\n- Financials")
		})
	}
}

func TestDecomposeBuildsPlan(t *testing.T) {
	a, p := newAgent(`{
		"main_topic": "ACME",
		"research_objective": "Is ACME fairly valued?",
		"sub_topics": [
			{"title": "Valuation", "overview": "multiples", "priority": 2, "dependencies": ["Overview"]},
			{"title": "", "overview": "dropped"},
			{"title": "Overview", "overview": "business", "priority": 1},
			{"title": "Risks", "overview": "threats"},
			{"title": "News", "overview": "sentiment", "priority": 2}
		]
	}`)

	plan, err := a.Decompose(context.Background(), orchestration.DecomposeInput{
		Topic:        "ACME outlook",
		Symbols:      []string{"ACME"},
		MaxSubTopics: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "Is ACME fairly valued?", plan.Objective)
	require.Len(t, plan.SubTopics, 3)
	assert.Equal(t, "Overview", plan.SubTopics[0].Title)
	assert.Equal(t, "Valuation", plan.SubTopics[1].Title)
	assert.Equal(t, []string{"Overview"}, plan.SubTopics[1].Dependencies)
	assert.Equal(t, "News", plan.SubTopics[2].Title)

	user := p.lastUser()
	assert.Contains(t, user, "Main Topic: ACME outlook")
	assert.Contains(t, user, "Target Symbols: ACME")
	assert.Contains(t, user, "at most 3 specific sub-topics")
}

func TestDecomposeUnparseableYieldsEmptyPlan(t *testing.T) {
	a, _ := newAgent("sorry")

	plan, err := a.Decompose(context.Background(), orchestration.DecomposeInput{Topic: "ACME outlook"})
	require.NoError(t, err)
	assert.Equal(t, "ACME outlook", plan.Objective)
	assert.Empty(t, plan.SubTopics)
}

func TestReportRendersCitations(t *testing.T) {
	a, p := newAgent("  # ACME Report\n\nBody  ")

	created := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	block := &research.TopicBlock{
		SubTopic: "Overview",
		Overview: "business model",
		ToolTraces: []research.ToolTrace{
			{CitationID: "CIT-1-01", ToolType: "web_search", Summary: "ACME sells anvils"},
			{CitationID: "CIT-1-02", ToolType: "stock_price"},
		},
	}
	report, err := a.Report(context.Background(), orchestration.ReportInput{
		Topic:     "ACME",
		Objective: "Assess ACME",
		Blocks:    []*research.TopicBlock{block},
		Stats: research.Stats{
			Completed:      1,
			TotalToolCalls: 2,
			CreatedAt:      created,
			UpdatedAt:      created.Add(90 * time.Second),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "# ACME Report\n\nBody", report)

	user := p.lastUser()
	assert.Contains(t, user, "### Overview\nbusiness model\n- [CIT-1-01] (web_search) ACME sells anvils")
	assert.NotContains(t, user, "CIT-1-02")
	assert.Contains(t, user, "Research Duration: 1m30s")
	assert.False(t, p.formats[0].JSON())
}

func TestReportLanguage(t *testing.T) {
	p := &scriptedProvider{answers: []string{"보고서"}}
	a := NewBuilder(p).ReportLanguage("ko").Build()

	_, err := a.Report(context.Background(), orchestration.ReportInput{Topic: "ACME"})
	require.NoError(t, err)
	assert.True(t, strings.Contains(p.requests[0][0].Content, "한국어"))
	assert.Contains(t, p.lastUser(), "No completed topics.")
}

func TestUsageAccumulates(t *testing.T) {
	a, _ := newAgent(`{"decision": "continue"}`, `{"sufficient": true}`)

	_, err := a.Judge(context.Background(), orchestration.JudgeInput{})
	require.NoError(t, err)
	_, err = a.Step(context.Background(), orchestration.StepInput{})
	require.NoError(t, err)

	usage, calls := a.Usage()
	assert.Equal(t, 2, calls)
	assert.Equal(t, uint32(30), usage.TotalTokens)
}

func TestDescribeToolsSkipsAliases(t *testing.T) {
	desc := describeTools([]string{"financial_ratios", "web_search", "rag_search"})
	assert.Equal(t, "- rag_search: Search uploaded documents and knowledge base\n- web_search: Search the web for recent information\n", desc)
}

func TestBuilderStepTools(t *testing.T) {
	a := NewBuilder(&scriptedProvider{}).StepTools([]string{"stock_data"}).Build()
	assert.Equal(t, "- stock_data: Get stock price history\n", a.Config().ToolsDescription)

	all := NewBuilder(&scriptedProvider{}).Build()
	assert.Contains(t, all.Config().ToolsDescription, "- web_search:")
}
