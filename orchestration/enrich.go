package orchestration

import (
	"context"
	"strings"

	"github.com/richinex/scout/tools"
)

const (
	maxEnrichSymbols = 3
	enrichContextLen = 800
)

// topicContext is the research context for one block: the objective, the
// target symbols and, when the router can price them, a market snapshot.
func (l *Loop) topicContext(ctx context.Context, objective string, symbols []string) string {
	var b strings.Builder
	b.WriteString(objective)
	if len(symbols) > 0 {
		b.WriteString("\nTarget Symbols: ")
		b.WriteString(strings.Join(symbols, ", "))
	}
	if market := l.marketContext(ctx, symbols); market != "" {
		b.WriteString("\n\nMarket Data:\n")
		b.WriteString(market)
	}
	return strings.TrimSpace(b.String())
}

// marketContext fetches price and profile data for up to three symbols in
// one parallel batch. Failed calls are left out.
func (l *Loop) marketContext(ctx context.Context, symbols []string) string {
	if len(symbols) == 0 {
		return ""
	}
	reg := l.router.Registry()

	var calls []tools.Call
	for _, sym := range symbols[:min(len(symbols), maxEnrichSymbols)] {
		for _, t := range []string{tools.TypeStockPrice, tools.TypeStockInfo} {
			if reg.Has(t) {
				calls = append(calls, tools.Call{ToolType: t, Params: RouterArgs(t, sym, []string{sym})})
			}
		}
	}
	if len(calls) == 0 {
		return ""
	}

	var parts []string
	for _, res := range l.router.ExecuteParallel(ctx, calls) {
		if res.OK() {
			parts = append(parts, res.ContextString(enrichContextLen))
		}
	}
	return strings.Join(parts, "\n\n")
}
