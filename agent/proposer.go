package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	jsonutil "github.com/richinex/scout/internal/json"
	"github.com/richinex/scout/orchestration"
)

const defaultPriority = 5

type proposalResponse struct {
	ShouldAdd   bool     `json:"should_add"`
	Title       string   `json:"title"`
	Overview    string   `json:"overview"`
	Priority    int      `json:"priority"`
	ToolsNeeded []string `json:"tools_needed"`
}

// Propose implements orchestration.Proposer. It returns nil unless the
// model explicitly asks to add a titled sub-topic.
func (a *Agent) Propose(ctx context.Context, in orchestration.ProposalInput) (*orchestration.Proposal, error) {
	existing := make([]string, len(in.ExistingTopics))
	for i, t := range in.ExistingTopics {
		existing[i] = "- " + t
	}
	user := fmt.Sprintf(proposeUserTemplate, in.Gap, in.Findings, strings.Join(existing, "\n"))

	content, err := a.chatJSON(ctx, "propose", proposeSystemPrompt, user)
	if err != nil {
		return nil, err
	}

	resp, ok := jsonutil.DecodeOr(content, proposalResponse{})
	if !ok {
		a.logger.Warn("proposal_unparseable", zap.String("preview", preview(content)))
		return nil, nil
	}
	title := strings.TrimSpace(resp.Title)
	if !resp.ShouldAdd || title == "" {
		return nil, nil
	}

	priority := resp.Priority
	if priority <= 0 {
		priority = defaultPriority
	}
	return &orchestration.Proposal{
		Title:       title,
		Overview:    resp.Overview,
		Priority:    priority,
		ToolsNeeded: resp.ToolsNeeded,
	}, nil
}
