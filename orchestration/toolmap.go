package orchestration

import (
	"sort"
	"strings"

	"github.com/richinex/scout/tools"
)

// toolNames maps the tool names research steps use onto router tool types.
var toolNames = map[string]string{
	"rag_search":           tools.TypeRAGSearch,
	"web_search":           tools.TypeWebSearch,
	"stock_data":           tools.TypeStockPrice,
	"stock_info":           tools.TypeStockInfo,
	"financials":           tools.TypeFinancialRatios,
	"financial_ratios":     tools.TypeFinancialRatios,
	"news_search":          tools.TypeNewsSearch,
	"youtube":              tools.TypeYouTubeTranscript,
	"youtube_transcript":   tools.TypeYouTubeTranscript,
	"youtube_channel":      tools.TypeYouTubeChannel,
	"technical_analysis":   tools.TypeTechnicalIndicators,
	"technical_indicators": tools.TypeTechnicalIndicators,
}

// RouterToolType resolves a step's tool name. Unmapped names return false.
func RouterToolType(name string) (string, bool) {
	t, ok := toolNames[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// MarketFor guesses the market from a ticker: six digits is Korea.
func MarketFor(symbol string) string {
	if len(symbol) != 6 {
		return "US"
	}
	for _, c := range symbol {
		if c < '0' || c > '9' {
			return "US"
		}
	}
	return "KR"
}

// RouterArgs builds handler params for a router tool type. The first symbol
// stands in for the ticker; with no symbols the query is used.
func RouterArgs(routerType, query string, symbols []string) map[string]any {
	symbol := query
	if len(symbols) > 0 && symbols[0] != "" {
		symbol = symbols[0]
	}
	market := MarketFor(symbol)

	switch routerType {
	case tools.TypeStockPrice:
		return map[string]any{"symbol": symbol, "market": market, "period": "1mo", "interval": "1d"}
	case tools.TypeStockInfo, tools.TypeFinancialRatios:
		return map[string]any{"symbol": symbol, "market": market}
	case tools.TypeTechnicalIndicators:
		return map[string]any{"symbol": symbol, "market": market, "period": "3mo"}
	case tools.TypeNewsSearch:
		return map[string]any{"query": query, "market": market, "limit": 10}
	case tools.TypeWebSearch:
		return map[string]any{"query": query, "max_results": 10}
	case tools.TypeRAGSearch:
		return map[string]any{"query": query, "kb_name": "default", "top_k": 5}
	case tools.TypeYouTubeTranscript:
		return map[string]any{"video_url": query}
	case tools.TypeYouTubeChannel:
		return map[string]any{"channel": query, "max_results": 5}
	default:
		return map[string]any{"query": query}
	}
}

// StepToolNames lists the names a research step may use, sorted.
func StepToolNames() []string {
	names := make([]string, 0, len(toolNames))
	for n := range toolNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
