package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	jsonutil "github.com/richinex/scout/internal/json"
	"github.com/richinex/scout/orchestration"
)

const defaultMaxSubTopics = 8

type decomposeResponse struct {
	MainTopic         string                   `json:"main_topic"`
	ResearchObjective string                   `json:"research_objective"`
	SubTopics         []orchestration.SubTopic `json:"sub_topics"`
}

// Decompose implements orchestration.Decomposer. An unreadable answer
// yields an empty plan, which the pipeline researches as a single topic.
func (a *Agent) Decompose(ctx context.Context, in orchestration.DecomposeInput) (orchestration.Plan, error) {
	limit := in.MaxSubTopics
	if limit <= 0 {
		limit = defaultMaxSubTopics
	}
	symbols := ""
	if len(in.Symbols) > 0 {
		symbols = "Target Symbols: " + strings.Join(in.Symbols, ", ")
	}
	extra := ""
	if in.Context != "" {
		extra = "Additional Context:\n" + in.Context
	}
	user := fmt.Sprintf(decomposeUserTemplate, in.Topic, extra, symbols, limit)

	content, err := a.chatJSON(ctx, "decompose", decomposeSystemPrompt, user)
	if err != nil {
		return orchestration.Plan{}, err
	}

	resp, ok := jsonutil.DecodeOr(content, decomposeResponse{})
	if !ok {
		a.logger.Warn("decompose_unparseable", zap.String("preview", preview(content)))
		return orchestration.Plan{Objective: in.Topic}, nil
	}
	return buildPlan(in, resp, limit), nil
}

// buildPlan drops untitled entries, defaults priorities and orders by
// priority, keeping the model's order among equals.
func buildPlan(in orchestration.DecomposeInput, resp decomposeResponse, limit int) orchestration.Plan {
	plan := orchestration.Plan{Objective: strings.TrimSpace(resp.ResearchObjective)}
	if plan.Objective == "" {
		plan.Objective = in.Topic
	}

	for _, st := range resp.SubTopics {
		st.Title = strings.TrimSpace(st.Title)
		if st.Title == "" {
			continue
		}
		if st.Priority <= 0 {
			st.Priority = defaultPriority
		}
		plan.SubTopics = append(plan.SubTopics, st)
	}
	sort.SliceStable(plan.SubTopics, func(i, j int) bool {
		return plan.SubTopics[i].Priority < plan.SubTopics[j].Priority
	})
	if len(plan.SubTopics) > limit {
		plan.SubTopics = plan.SubTopics[:limit]
	}
	return plan
}
