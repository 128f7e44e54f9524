package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultContextLength is the ContextString limit used when none is given.
const DefaultContextLength = 5000

const contextMarker = "\n... [truncated]"

// ContextString renders the result compactly for an LLM prompt.
// The output never exceeds maxLen bytes; longer renderings are cut and end
// with a truncation marker.
func (r Result) ContextString(maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultContextLength
	}

	if !r.OK() {
		msg := r.Error
		if msg == "" {
			msg = "no data"
		}
		return Clip(fmt.Sprintf("[%s] Error: %s", r.ToolType, msg), maxLen)
	}

	data, isMap := asMap(r.Data)

	var out string
	switch {
	case r.ToolType == TypeStockPrice && isMap:
		out = r.formatStockPrice(data)
	case r.ToolType == TypeStockInfo && isMap:
		out = formatStockInfo(data)
	case r.ToolType == TypeFinancialRatios && isMap:
		out = r.formatFlat("Financial Ratios", data)
	case r.ToolType == TypeTechnicalIndicators && isMap:
		out = r.formatFlat("Technical Indicators", data)
	case r.ToolType == TypeFinancialStatements && isMap:
		out = r.formatStatements(data)
	case (r.ToolType == TypeNewsSearch || r.ToolType == TypeFinanceNews) && isMap:
		out = r.formatSearch("News Search", data, "articles", "results")
	case r.ToolType == TypeWebSearch && isMap:
		out = r.formatSearch("Web Search", data, "results")
	default:
		b, err := json.MarshalIndent(r.Data, "", "  ")
		if err != nil {
			b = []byte(fmt.Sprintf("%v", r.Data))
		}
		out = fmt.Sprintf("[%s]\n%s", r.ToolType, b)
	}
	return Clip(out, maxLen)
}

// Clip cuts s to at most limit bytes on a rune boundary, ending with a marker.
func Clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	if limit <= len(contextMarker) {
		return cutRunes(s, limit)
	}
	return cutRunes(s, limit-len(contextMarker)) + contextMarker
}

// cutRunes returns the longest prefix of s within n bytes that does not
// split a UTF-8 sequence.
func cutRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (r Result) queryValue(key string) string {
	if v, ok := r.Query[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return "N/A"
}

func (r Result) formatStockPrice(data map[string]any) string {
	prices := listOf(data["prices"])
	if len(prices) == 0 {
		return fmt.Sprintf("[Stock Price] No data available for %s", r.queryValue("symbol"))
	}

	latest, _ := asMap(prices[len(prices)-1])
	lines := []string{
		fmt.Sprintf("[Stock Price: %s]", r.queryValue("symbol")),
		fmt.Sprintf("Date: %s", field(latest, "date")),
		fmt.Sprintf("Close: %s", field(latest, "close")),
		fmt.Sprintf("Open: %s", field(latest, "open")),
		fmt.Sprintf("High: %s", field(latest, "high")),
		fmt.Sprintf("Low: %s", field(latest, "low")),
	}
	if vol, ok := toFloat(latest["volume"]); ok {
		lines = append(lines, fmt.Sprintf("Volume: %s", groupThousands(vol)))
	} else {
		lines = append(lines, fmt.Sprintf("Volume: %s", field(latest, "volume")))
	}

	if len(prices) > 1 {
		first, _ := asMap(prices[0])
		open, ok1 := toFloat(first["close"])
		last, ok2 := toFloat(latest["close"])
		if ok1 && ok2 && open != 0 {
			lines = append(lines, fmt.Sprintf("Period Change: %.2f%%", (last-open)/open*100))
		}
		lines = append(lines, fmt.Sprintf("Data Points: %d", len(prices)))
	}
	return strings.Join(lines, "\n")
}

func formatStockInfo(data map[string]any) string {
	lines := []string{
		fmt.Sprintf("[Stock Info: %s]", field(data, "symbol")),
		fmt.Sprintf("Name: %s", field(data, "name")),
		fmt.Sprintf("Market: %s", field(data, "market")),
	}
	if s := stringOf(data["sector"]); s != "" {
		lines = append(lines, "Sector: "+s)
	}
	if s := stringOf(data["industry"]); s != "" {
		lines = append(lines, "Industry: "+s)
	}
	if mcap, ok := toFloat(data["market_cap"]); ok && mcap > 0 {
		lines = append(lines, "Market Cap: "+formatMarketCap(mcap))
	}
	if v, ok := toFloat(data["pe_ratio"]); ok && v != 0 {
		lines = append(lines, fmt.Sprintf("P/E Ratio: %.2f", v))
	}
	if v, ok := toFloat(data["pb_ratio"]); ok && v != 0 {
		lines = append(lines, fmt.Sprintf("P/B Ratio: %.2f", v))
	}
	if v, ok := toFloat(data["dividend_yield"]); ok && v != 0 {
		lines = append(lines, fmt.Sprintf("Dividend Yield: %.2f%%", v*100))
	}
	if v, ok := toFloat(data["52_week_high"]); ok && v != 0 {
		lines = append(lines, fmt.Sprintf("52 Week High: $%.2f", v))
	}
	if v, ok := toFloat(data["52_week_low"]); ok && v != 0 {
		lines = append(lines, fmt.Sprintf("52 Week Low: $%.2f", v))
	}
	if desc := stringOf(data["description"]); desc != "" {
		if utf8.RuneCountInString(desc) > 300 {
			desc = string([]rune(desc)[:300]) + "..."
		}
		lines = append(lines, "Description: "+desc)
	}
	return strings.Join(lines, "\n")
}

func formatMarketCap(v float64) string {
	switch {
	case v >= 1e12:
		return fmt.Sprintf("$%.2fT", v/1e12)
	case v >= 1e9:
		return fmt.Sprintf("$%.2fB", v/1e9)
	default:
		return fmt.Sprintf("$%.2fM", v/1e6)
	}
}

// formatFlat renders a flat key/value payload, keys sorted for stable output.
func (r Result) formatFlat(title string, data map[string]any) string {
	lines := []string{fmt.Sprintf("[%s: %s]", title, r.queryValue("symbol"))}
	for _, k := range sortedKeys(data) {
		v := data[k]
		if v == nil {
			continue
		}
		if f, ok := v.(float64); ok && f != math.Trunc(f) {
			lines = append(lines, fmt.Sprintf("%s: %.2f", k, f))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %v", k, v))
	}
	return strings.Join(lines, "\n")
}

func (r Result) formatStatements(data map[string]any) string {
	lines := []string{fmt.Sprintf("[Financial Statements: %s]", r.queryValue("symbol"))}
	if s := stringOf(data["source"]); s != "" {
		lines = append(lines, "Source: "+s)
	}
	if y, ok := data["year"]; ok && y != nil {
		lines = append(lines, fmt.Sprintf("Year: %v", y))
	}

	sections := []struct{ key, title string }{
		{"income_statement", "Income Statement"},
		{"balance_sheet", "Balance Sheet"},
		{"cash_flow", "Cash Flow"},
	}
	for _, sec := range sections {
		m, ok := asMap(data[sec.key])
		if !ok || len(m) == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("\n[%s]", sec.title))
		for _, k := range sortedKeys(m) {
			v := m[k]
			if v == nil {
				continue
			}
			if f, ok := toFloat(v); ok && math.Abs(f) > 1e6 {
				lines = append(lines, fmt.Sprintf("  %s: %s", k, groupThousands(f)))
				continue
			}
			lines = append(lines, fmt.Sprintf("  %s: %v", k, v))
		}
	}
	return strings.Join(lines, "\n")
}

// formatSearch renders up to five hits from the first list found under keys.
func (r Result) formatSearch(title string, data map[string]any, keys ...string) string {
	var items []any
	for _, k := range keys {
		if items = listOf(data[k]); len(items) > 0 {
			break
		}
	}
	query := r.queryValue("query")
	if len(items) == 0 {
		return fmt.Sprintf("[%s] No results for '%s'", title, query)
	}

	lines := []string{fmt.Sprintf("[%s: '%s']", title, query)}
	for i, raw := range items {
		if i == 5 {
			break
		}
		item, _ := asMap(raw)
		itemTitle := stringOf(item["title"])
		if itemTitle == "" {
			itemTitle = "No title"
		}
		lines = append(lines, fmt.Sprintf("\n%d. %s", i+1, itemTitle))

		source := stringOf(item["source"])
		date := firstString(item, "date", "published")
		switch {
		case source != "" && date != "":
			lines = append(lines, fmt.Sprintf("   Source: %s | Date: %s", source, date))
		case source != "":
			lines = append(lines, "   Source: "+source)
		}
		if u := stringOf(item["url"]); u != "" {
			lines = append(lines, "   URL: "+u)
		}

		snippet := firstString(item, "snippet", "summary")
		if snippet != "" {
			if utf8.RuneCountInString(snippet) > 150 {
				snippet = string([]rune(snippet)[:150]) + "..."
			}
			lines = append(lines, "   "+snippet)
		}
	}
	return strings.Join(lines, "\n")
}

// asMap coerces a payload into a generic map, round-tripping structs via JSON.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case nil:
		return nil, false
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, false
	}
	return out, true
}

func listOf(v any) []any {
	switch l := v.(type) {
	case []any:
		return l
	case []map[string]any:
		out := make([]any, len(l))
		for i := range l {
			out[i] = l[i]
		}
		return out
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func stringOf(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringOf(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func field(m map[string]any, key string) string {
	if s := stringOf(m[key]); s != "" {
		return s
	}
	return "N/A"
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// groupThousands formats a number with comma separators, no decimals.
func groupThousands(v float64) string {
	s := strconv.FormatFloat(math.Round(math.Abs(v)), 'f', 0, 64)
	var b strings.Builder
	if v < 0 {
		b.WriteByte('-')
	}
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 && !(b.Len() == 1 && v < 0) {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}
