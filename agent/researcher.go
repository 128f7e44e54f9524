package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	jsonutil "github.com/richinex/scout/internal/json"
	"github.com/richinex/scout/orchestration"
)

// Step implements orchestration.Researcher. An unreadable answer ends the
// topic as sufficient with no findings.
func (a *Agent) Step(ctx context.Context, in orchestration.StepInput) (orchestration.StepOutput, error) {
	system := fmt.Sprintf(stepSystemTemplate, a.config.ToolsDescription)
	user := fmt.Sprintf(stepUserTemplate, in.SubTopic, in.Overview, in.Context, stepHistory(in))

	content, err := a.chatJSON(ctx, "research step", system, user)
	if err != nil {
		return orchestration.StepOutput{}, err
	}
	return a.parseStep(content), nil
}

// stepHistory renders earlier findings and the last tool observation.
func stepHistory(in orchestration.StepInput) string {
	var b strings.Builder
	if len(in.PreviousFindings) > 0 {
		b.WriteString("Previous Findings:\n")
		for _, f := range in.PreviousFindings {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteString("\n")
		}
	}
	if in.LastObservation != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Last Tool Result:\n")
		b.WriteString(in.LastObservation)
		b.WriteString("\n")
	}
	if in.Iteration > 1 {
		fmt.Fprintf(&b, "\nIteration: %d", in.Iteration)
	}
	return strings.TrimRight(b.String(), "\n")
}

// parseStep accepts an object, or a list whose first element is an object.
// When sufficient is missing the step counts as sufficient unless it asked
// for a tool or named a next step.
func (a *Agent) parseStep(content string) orchestration.StepOutput {
	out, ok := jsonutil.DecodeOr(content, orchestration.StepOutput{})
	raw, _ := jsonutil.DecodeOr[map[string]any](content, nil)
	if !ok {
		list, listOK := jsonutil.DecodeOr[[]orchestration.StepOutput](content, nil)
		if !listOK || len(list) == 0 {
			a.logger.Warn("step_unparseable", zap.String("preview", preview(content)))
			return orchestration.SufficientStep()
		}
		out = list[0]
		raw = nil
		if rawList, rawOK := jsonutil.DecodeOr[[]map[string]any](content, nil); rawOK && len(rawList) > 0 {
			raw = rawList[0]
		}
	}

	if out.ToolCall != nil && strings.TrimSpace(out.ToolCall.Tool) == "" {
		out.ToolCall = nil
	}
	if out.KeyFindings == nil {
		out.KeyFindings = []string{}
	}
	if a.checkContract(orchestration.StepContract, raw).Missing("sufficient") {
		out.Sufficient = out.ToolCall == nil && strings.TrimSpace(out.NextStep) == ""
	}
	return out
}
