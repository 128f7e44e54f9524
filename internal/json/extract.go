// Package json extracts JSON objects from LLM responses.
//
// Models wrap their answers in prose or markdown fences. Callers here never
// trust the raw text: they extract the object, decode it, and fall back to a
// caller-supplied default when nothing usable is found.
package json

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON returns the JSON object portion of a response.
// Handles a bare object, an object inside ``` fences, and an object embedded
// in text (first '{' to last '}').
//
// Limitations:
// - Top-level arrays are only accepted when the whole (unfenced) text parses
// - Brace matching is positional, not a real parser
func extractJSON(response string) (string, error) {
	response = stripCodeFence(response)

	var parsed interface{}
	if err := json.Unmarshal([]byte(response), &parsed); err == nil {
		return response, nil
	}

	start := strings.Index(response, "{")
	if start != -1 {
		end := strings.LastIndex(response, "}")
		if end > start {
			candidate := response[start : end+1]
			if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
				return candidate, nil
			}
		}
	}

	preview := response
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	return "", fmt.Errorf("no valid JSON in response: %q", preview)
}

// stripCodeFence removes a leading ```json / ``` fence and its closing fence.
// Text before the opening fence is dropped as commentary.
func stripCodeFence(response string) string {
	trimmed := strings.TrimSpace(response)

	if idx := strings.Index(trimmed, "```"); idx > 0 {
		trimmed = trimmed[idx:]
	}

	switch {
	case strings.HasPrefix(trimmed, "```json"):
		trimmed = strings.TrimPrefix(trimmed, "```json")
	case strings.HasPrefix(trimmed, "```"):
		trimmed = strings.TrimPrefix(trimmed, "```")
	default:
		return trimmed
	}

	if end := strings.Index(trimmed, "```"); end != -1 {
		trimmed = trimmed[:end]
	}
	return strings.TrimSpace(trimmed)
}

// ExtractJSON extracts the raw JSON portion from a response string.
func ExtractJSON(response string) (string, error) {
	return extractJSON(response)
}

// Decode extracts JSON from a response and unmarshals it into T.
func Decode[T any](response string) (T, error) {
	var result T
	raw, err := extractJSON(response)
	if err != nil {
		return result, err
	}
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return result, nil
}

// DecodeOr is Decode with a fallback: any extraction or decoding failure
// yields def and ok=false.
func DecodeOr[T any](response string, def T) (value T, ok bool) {
	v, err := Decode[T](response)
	if err != nil {
		return def, false
	}
	return v, true
}
