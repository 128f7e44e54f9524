package orchestration

import (
	"fmt"
	"strings"

	"github.com/richinex/scout/research"
)

var statusIcons = map[research.BlockStatus]string{
	research.StatusPending:     "[ ]",
	research.StatusResearching: "[→]",
	research.StatusCompleted:   "[✓]",
	research.StatusFailed:      "[✗]",
}

// StatusSummary renders queue counts and one line per block for the judge.
func StatusSummary(q *research.Queue) string {
	stats := q.Statistics()

	var b strings.Builder
	fmt.Fprintf(&b, "Total Topics: %d\n", stats.TotalBlocks)
	fmt.Fprintf(&b, "- Pending: %d\n", stats.Pending)
	fmt.Fprintf(&b, "- Researching: %d\n", stats.Researching)
	fmt.Fprintf(&b, "- Completed: %d\n", stats.Completed)
	fmt.Fprintf(&b, "- Failed: %d\n", stats.Failed)
	fmt.Fprintf(&b, "Total Tool Calls: %d\n", stats.TotalToolCalls)
	b.WriteString("\nTopic Details:")

	for _, block := range q.Blocks() {
		icon, ok := statusIcons[block.Status]
		if !ok {
			icon = "[?]"
		}
		fmt.Fprintf(&b, "\n  %s %s (tools: %d, iterations: %d)",
			icon, block.SubTopic, len(block.ToolTraces), block.IterationCount)
	}
	return b.String()
}
