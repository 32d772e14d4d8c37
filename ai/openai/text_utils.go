package openai

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"
)

// stripFences removes markdown code fences around a model response.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

var (
	looseKey      = regexp.MustCompile(`([{,]\s*)"?([A-Za-z_][A-Za-z0-9_]*)"?\s*:`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// repairJSON fixes the malformed objects small models tend to return:
// keys with missing quotes and trailing commas. Valid JSON is returned
// unchanged.
func repairJSON(s string) string {
	if json.Valid([]byte(s)) {
		return s
	}
	s = looseKey.ReplaceAllString(s, `$1"$2":`)
	return trailingComma.ReplaceAllString(s, "$1")
}
