package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	jsonutil "github.com/richinex/scout/internal/json"
	"github.com/richinex/scout/orchestration"
	"github.com/richinex/scout/tools"
)

type judgeResponse struct {
	Decision       string   `json:"decision"`
	Reasoning      string   `json:"reasoning"`
	Gaps           []string `json:"gaps_identified"`
	ReadyForReport bool     `json:"ready_for_report"`
}

// Judge implements orchestration.Judge. An unreadable answer yields a
// continue verdict carrying the raw text as reasoning.
func (a *Agent) Judge(ctx context.Context, in orchestration.JudgeInput) (orchestration.Verdict, error) {
	findings := in.Findings
	if strings.TrimSpace(findings) == "" {
		findings = "No findings yet."
	}
	user := fmt.Sprintf(judgeUserTemplate,
		in.Objective,
		in.StatusSummary,
		tools.Clip(findings, a.config.MaxFindingsChars),
		in.Iteration,
		in.MaxIterations,
	)

	content, err := a.chatJSON(ctx, "judge", judgeSystemPrompt, user)
	if err != nil {
		return orchestration.Verdict{}, err
	}
	return a.parseVerdict(content), nil
}

// judgeFields are read into Verdict; every other key lands in Payload.
var judgeFields = map[string]bool{
	"decision":         true,
	"ready_for_report": true,
	"gaps_identified":  true,
	"reasoning":        true,
}

// parseVerdict never fails. A missing decision means continue and a
// missing ready_for_report means false.
func (a *Agent) parseVerdict(content string) orchestration.Verdict {
	resp, ok := jsonutil.DecodeOr(content, judgeResponse{})
	if !ok {
		a.logger.Warn("judge_unparseable", zap.String("preview", preview(content)))
		return orchestration.ContinueVerdict(strings.TrimSpace(content))
	}
	raw, _ := jsonutil.DecodeOr[map[string]any](content, nil)
	a.checkContract(orchestration.JudgeContract, raw)

	v := orchestration.Verdict{
		Decision:       orchestration.Decision(strings.ToLower(strings.TrimSpace(resp.Decision))),
		ReadyForReport: resp.ReadyForReport,
		Gaps:           resp.Gaps,
		Reasoning:      resp.Reasoning,
	}
	if v.Decision == "" {
		v.Decision = orchestration.DecisionContinue
	}
	for k, val := range raw {
		if judgeFields[k] {
			continue
		}
		if v.Payload == nil {
			v.Payload = map[string]any{}
		}
		v.Payload[k] = val
	}
	a.logger.Info("judge_decision",
		zap.String("decision", string(v.Decision)),
		zap.Bool("ready_for_report", v.ReadyForReport),
		zap.Int("gaps", len(v.Gaps)),
	)
	return v
}
