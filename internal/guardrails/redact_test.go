package guardrails

import (
	"strings"
	"testing"

	"github.com/aegislabs/aegis/internal/storage"
)

func TestRedact(t *testing.T) {
	high := storage.Rule{Name: "PII_EMAIL", Severity: SeverityHigh}
	medium := storage.Rule{Name: "PROFANITY", Severity: SeverityMedium}

	tests := []struct {
		name        string
		content     string
		matches     []Match
		wantContent string
		wantPassed  bool
	}{
		{
			name:        "no matches",
			content:     "hello world",
			matches:     nil,
			wantContent: "hello world",
			wantPassed:  true,
		},
		{
			name:        "high severity redacted",
			content:     "contact alice@example.com now",
			matches:     []Match{{Rule: high, Text: "alice@example.com"}},
			wantContent: "contact [REDACTED] now",
			wantPassed:  false,
		},
		{
			name:    "every occurrence of flagged text scrubbed",
			content: "alice@example.com wrote to alice@example.com",
			matches: []Match{{Rule: high, Text: "alice@example.com"}},
			wantContent: "[REDACTED] wrote to [REDACTED]",
			wantPassed:  false,
		},
		{
			name:        "medium severity untouched",
			content:     "well damn",
			matches:     []Match{{Rule: medium, Text: "damn"}},
			wantContent: "well damn",
			wantPassed:  true,
		},
		{
			name:    "mixed severities",
			content: "damn, email alice@example.com",
			matches: []Match{
				{Rule: medium, Text: "damn"},
				{Rule: high, Text: "alice@example.com"},
			},
			wantContent: "damn, email [REDACTED]",
			wantPassed:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, passed := Redact(tt.content, tt.matches)
			if got != tt.wantContent {
				t.Errorf("content = %q, want %q", got, tt.wantContent)
			}
			if passed != tt.wantPassed {
				t.Errorf("passed = %v, want %v", passed, tt.wantPassed)
			}
		})
	}
}

func TestTruncateSnippet(t *testing.T) {
	long := strings.Repeat("a", 300)

	if got := TruncateSnippet(long, 200); len(got) != 200 {
		t.Errorf("truncated length = %d, want 200", len(got))
	}
	if got := TruncateSnippet("short", 200); got != "short" {
		t.Errorf("short input changed: %q", got)
	}
	if got := TruncateSnippet(long, 0); got != long {
		t.Errorf("zero limit should leave content unchanged")
	}
}
