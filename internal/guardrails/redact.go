package guardrails

import "strings"

// Redact scrubs high-severity matches from content. Every occurrence of a
// flagged string is replaced throughout the whole input, so a value that was
// matched once but appears again elsewhere is scrubbed there too. Medium and
// low severity matches leave the content untouched.
//
// The returned bool is false iff at least one high-severity rule matched.
func Redact(content string, matches []Match) (string, bool) {
	passed := true
	cleaned := content

	for _, m := range matches {
		if m.Rule.Severity != SeverityHigh {
			continue
		}
		passed = false
		if m.Text == "" {
			continue
		}
		cleaned = strings.ReplaceAll(cleaned, m.Text, RedactedPlaceholder)
	}

	return cleaned, passed
}

// TruncateSnippet caps a violation snippet at limit characters.
func TruncateSnippet(content string, limit int) string {
	if limit <= 0 {
		return content
	}
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit])
}
