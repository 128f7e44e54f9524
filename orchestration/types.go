// Package orchestration drives a research run: it asks a judge whether to
// continue, researches the next eligible topic through the tool router, and
// grows the topic queue from the gaps the judge reports.
//
// The judge, research step, proposer, decomposer and reporter are opaque
// collaborators. The loop only reads the fields declared here.
package orchestration

import (
	"context"
	"time"

	"github.com/richinex/scout/research"
)

// Decision is the judge's verdict on a round.
type Decision string

const (
	DecisionContinue   Decision = "continue"
	DecisionSufficient Decision = "sufficient"
	DecisionRefocus    Decision = "refocus"
)

// Verdict is what a Judge returns. Anything beyond Decision and
// ReadyForReport is carried through untouched.
type Verdict struct {
	Decision       Decision       `json:"decision"`
	ReadyForReport bool           `json:"ready_for_report"`
	Gaps           []string       `json:"gaps_identified,omitempty"`
	Reasoning      string         `json:"reasoning,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// Continue reports whether the loop should run another round.
func (v Verdict) Continue() bool {
	return v.Decision == DecisionContinue && !v.ReadyForReport
}

// ContinueVerdict is the fallback when a judge's answer cannot be used.
func ContinueVerdict(reason string) Verdict {
	return Verdict{Decision: DecisionContinue, Reasoning: reason}
}

// JudgeInput is everything the judge sees for one round.
type JudgeInput struct {
	Objective     string
	StatusSummary string
	Findings      string
	Iteration     int
	MaxIterations int
}

// Judge decides whether research should continue.
type Judge interface {
	Judge(ctx context.Context, in JudgeInput) (Verdict, error)
}

// JudgeFunc adapts a function to Judge.
type JudgeFunc func(ctx context.Context, in JudgeInput) (Verdict, error)

// Judge implements Judge.
func (f JudgeFunc) Judge(ctx context.Context, in JudgeInput) (Verdict, error) { return f(ctx, in) }

// ToolRequest is a tool call asked for by the research step, using the
// step's own tool vocabulary (see RouterToolType).
type ToolRequest struct {
	Tool  string `json:"tool"`
	Query string `json:"query"`
}

// StepInput is one inner-loop turn for a topic.
type StepInput struct {
	SubTopic         string
	Overview         string
	Context          string
	PreviousFindings []string
	// LastObservation is the rendered output of the previous tool call, if any.
	LastObservation string
	Iteration       int
}

// StepOutput is the research step's answer.
type StepOutput struct {
	ToolCall    *ToolRequest `json:"tool_call,omitempty"`
	KeyFindings []string     `json:"key_findings"`
	Sufficient  bool         `json:"sufficient"`
	NextStep    string       `json:"next_step,omitempty"`
	Analysis    string       `json:"analysis,omitempty"`
}

// SufficientStep is the fallback when a step's answer cannot be used.
func SufficientStep() StepOutput {
	return StepOutput{KeyFindings: []string{}, Sufficient: true}
}

// Researcher chooses the next action for a topic.
type Researcher interface {
	Step(ctx context.Context, in StepInput) (StepOutput, error)
}

// StepFunc adapts a function to Researcher.
type StepFunc func(ctx context.Context, in StepInput) (StepOutput, error)

// Step implements Researcher.
func (f StepFunc) Step(ctx context.Context, in StepInput) (StepOutput, error) { return f(ctx, in) }

// ProposalInput asks for one new sub-topic covering a gap.
type ProposalInput struct {
	Gap            string
	Findings       string
	ExistingTopics []string
}

// Proposal is a candidate sub-topic.
type Proposal struct {
	Title       string   `json:"title"`
	Overview    string   `json:"overview"`
	Priority    int      `json:"priority"`
	ToolsNeeded []string `json:"tools_needed"`
}

// Proposer suggests new sub-topics. A nil proposal means "nothing to add".
type Proposer interface {
	Propose(ctx context.Context, in ProposalInput) (*Proposal, error)
}

// ProposerFunc adapts a function to Proposer.
type ProposerFunc func(ctx context.Context, in ProposalInput) (*Proposal, error)

// Propose implements Proposer.
func (f ProposerFunc) Propose(ctx context.Context, in ProposalInput) (*Proposal, error) {
	return f(ctx, in)
}

// SubTopic is one unit of a decomposition.
type SubTopic struct {
	Title        string   `json:"title"`
	Overview     string   `json:"overview"`
	Priority     int      `json:"priority"`
	Dependencies []string `json:"dependencies"`
	ToolsNeeded  []string `json:"tools_needed"`
	Symbols      []string `json:"symbols"`
}

// Plan is a decomposed topic.
type Plan struct {
	Objective string     `json:"research_objective"`
	SubTopics []SubTopic `json:"sub_topics"`
}

// DecomposeInput describes the topic to split.
type DecomposeInput struct {
	Topic        string
	Context      string
	Symbols      []string
	MaxSubTopics int
}

// Decomposer splits a topic into sub-topics.
type Decomposer interface {
	Decompose(ctx context.Context, in DecomposeInput) (Plan, error)
}

// ReportInput is the evidence handed to the reporter.
type ReportInput struct {
	Topic     string
	Objective string
	Findings  string
	Blocks    []*research.TopicBlock
	Stats     research.Stats
}

// Reporter turns finished research into a document.
type Reporter interface {
	Report(ctx context.Context, in ReportInput) (string, error)
}

// StopReason says why a run ended.
type StopReason string

const (
	StopJudgeSufficient StopReason = "judge-sufficient"
	StopCeiling         StopReason = "ceiling"
	StopQueueExhausted  StopReason = "queue-exhausted"
	StopCancelled       StopReason = "cancelled"
	StopDeadline        StopReason = "deadline"
)

// Outcome summarises a finished loop.
type Outcome struct {
	ResearchID       string         `json:"research_id"`
	StopReason       StopReason     `json:"stop_reason"`
	Rounds           int            `json:"rounds"`
	JudgeCalls       int            `json:"judge_calls"`
	TopicsResearched int            `json:"topics_researched"`
	LastVerdict      Verdict        `json:"last_verdict"`
	Stats            research.Stats `json:"stats"`
	Duration         time.Duration  `json:"duration"`
}
