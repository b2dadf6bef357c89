package guardrails

import (
	"database/sql"

	"github.com/aegislabs/aegis/internal/storage"
)

// DefaultRules returns the seeded rule set. Names double as rule types for
// the built-in rules; severity decides blocking, the action field is
// informational.
func DefaultRules() []storage.Rule {
	return []storage.Rule{
		{
			Name:        "PII_EMAIL",
			RuleType:    "PII_EMAIL",
			Description: sql.NullString{String: "Detect email addresses in content", Valid: true},
			Pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`,
			Action:      "block",
			Severity:    SeverityHigh,
			Enabled:     true,
		},
		{
			Name:        "PII_PHONE",
			RuleType:    "PII_PHONE",
			Description: sql.NullString{String: "Detect phone numbers", Valid: true},
			Pattern:     `\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`,
			Action:      "block",
			Severity:    SeverityHigh,
			Enabled:     true,
		},
		{
			Name:        "PII_SSN",
			RuleType:    "PII_SSN",
			Description: sql.NullString{String: "Detect Social Security Numbers", Valid: true},
			Pattern:     `\b\d{3}-\d{2}-\d{4}\b`,
			Action:      "block",
			Severity:    SeverityHigh,
			Enabled:     true,
		},
		{
			Name:        "PROFANITY",
			RuleType:    "PROFANITY",
			Description: sql.NullString{String: "Detect profanity and offensive language", Valid: true},
			Pattern:     `\b(fuck|shit|damn|bitch|ass|bastard|crap)\b`,
			Action:      "warn",
			Severity:    SeverityMedium,
			Enabled:     true,
		},
		{
			Name:        "VIOLENCE",
			RuleType:    "VIOLENCE",
			Description: sql.NullString{String: "Detect violent content", Valid: true},
			Pattern:     `\b(kill|murder|shoot|stab|attack|harm|hurt|destroy)\b`,
			Action:      "block",
			Severity:    SeverityHigh,
			Enabled:     true,
		},
		{
			Name:        "FINANCIAL",
			RuleType:    "FINANCIAL",
			Description: sql.NullString{String: "Detect credit card numbers", Valid: true},
			Pattern:     `\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`,
			Action:      "warn",
			Severity:    SeverityMedium,
			Enabled:     true,
		},
		{
			Name:        "PROMPT_INJECTION",
			RuleType:    "PROMPT_INJECTION",
			Description: sql.NullString{String: "Detect prompt injection attempts", Valid: true},
			Pattern:     `\b(ignore|disregard|forget).*?(previous|above|prior)\s+(instructions|prompt|context)\b`,
			Action:      "block",
			Severity:    SeverityHigh,
			Enabled:     true,
		},
	}
}
