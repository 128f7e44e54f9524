package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/richinex/scout/llm"
	"github.com/richinex/scout/orchestration"
	"github.com/richinex/scout/research"
	"github.com/richinex/scout/tools"
)

// Report implements orchestration.Reporter. The report is markdown.
func (a *Agent) Report(ctx context.Context, in orchestration.ReportInput) (string, error) {
	system := reportSystemPromptEN
	if a.config.ReportLanguage == "ko" {
		system = reportSystemPromptKO
	}
	user := fmt.Sprintf(reportUserTemplate,
		in.Topic,
		in.Objective,
		tools.Clip(topicNotes(in.Blocks), a.config.MaxFindingsChars),
		in.Stats.Completed,
		in.Stats.TotalToolCalls,
		duration(in.Stats),
	)

	content, err := a.client.ChatWithFormat(ctx, []llm.ChatMessage{
		llm.SystemMessage(system),
		llm.UserMessage(user),
	}, llm.NewTextFormat())
	if err != nil {
		return "", fmt.Errorf("report: %w", err)
	}
	return strings.TrimSpace(content), nil
}

// topicNotes renders each block's summaries under its citation ids.
func topicNotes(blocks []*research.TopicBlock) string {
	var b strings.Builder
	for _, block := range blocks {
		fmt.Fprintf(&b, "### %s\n", block.SubTopic)
		if block.Overview != "" {
			b.WriteString(block.Overview)
			b.WriteString("\n")
		}
		for _, t := range block.ToolTraces {
			if t.Summary == "" {
				continue
			}
			fmt.Fprintf(&b, "- [%s] (%s) %s\n", t.CitationID, t.ToolType, t.Summary)
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "No completed topics."
	}
	return strings.TrimRight(b.String(), "\n")
}

func duration(s research.Stats) string {
	if s.CreatedAt.IsZero() || s.UpdatedAt.Before(s.CreatedAt) {
		return "unknown"
	}
	return s.UpdatedAt.Sub(s.CreatedAt).Round(time.Second).String()
}
