package util

import (
	"regexp"
	"strings"
)

var fencedJson = regexp.MustCompile("(?s)```(?:json)?(.*?)```")

// ExtractJsonFromText tries to find the largest JSON object/array in the text
func ExtractJsonFromText(text string) string {
	// 1. Try to find markdown code block first
	if matches := fencedJson.FindStringSubmatch(text); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	// 2. Fallback: Find first '{' or '[' and last '}' or ']'
	start := firstIndex(strings.Index(text, "{"), strings.Index(text, "["))
	if start == -1 {
		return text
	}

	end := max(strings.LastIndex(text, "}"), strings.LastIndex(text, "]"))
	if end > start {
		return text[start : end+1]
	}
	return text
}

func firstIndex(a, b int) int {
	switch {
	case a == -1:
		return b
	case b == -1:
		return a
	case a < b:
		return a
	default:
		return b
	}
}
