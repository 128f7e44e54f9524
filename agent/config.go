// Agent configuration types.
//
// Information Hiding:
// - Default values hidden

package agent

import (
	"sort"
	"strings"

	"github.com/richinex/scout/orchestration"
)

// Config holds agent configuration.
type Config struct {
	// ToolsDescription lists the tools the research step may call. Empty
	// derives it from the step tool vocabulary.
	ToolsDescription string

	// ReportLanguage is "en" or "ko".
	ReportLanguage string

	// MaxFindingsChars bounds findings passed to the judge and reporter.
	MaxFindingsChars int
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.ToolsDescription == "" {
		c.ToolsDescription = describeTools(orchestration.StepToolNames())
	}
	if c.ReportLanguage == "" {
		c.ReportLanguage = "en"
	}
	if c.MaxFindingsChars <= 0 {
		c.MaxFindingsChars = 12000
	}
	return c
}

var toolDescriptions = map[string]string{
	"rag_search":         "Search uploaded documents and knowledge base",
	"web_search":         "Search the web for recent information",
	"stock_data":         "Get stock price history",
	"stock_info":         "Get company profile and key statistics",
	"financials":         "Get financial statements and ratios",
	"news_search":        "Search recent news articles",
	"youtube":            "Fetch transcripts of relevant analysis videos",
	"youtube_channel":    "List recent videos from a YouTube channel",
	"technical_analysis": "Get technical indicators and patterns",
}

// describeTools renders one line per tool. Aliases without a description
// are left out.
func describeTools(names []string) string {
	names = append([]string(nil), names...)
	sort.Strings(names)
	var b strings.Builder
	for _, name := range names {
		desc, ok := toolDescriptions[name]
		if !ok {
			continue
		}
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(desc)
		b.WriteString("\n")
	}
	return b.String()
}
