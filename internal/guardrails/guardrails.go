// Package guardrails implements regex-based content moderation: a rule
// store with seeded defaults, a scanner, redaction, and violation logging.
package guardrails

import "errors"

// Sentinel errors surfaced to the API layer.
var (
	ErrDuplicateRule  = errors.New("a rule with this name already exists")
	ErrInvalidPattern = errors.New("invalid regex pattern")
	ErrRuleNotFound   = errors.New("rule not found")
	ErrInvalidInput   = errors.New("invalid input")
)

// Severity levels. A high-severity match fails the content and triggers
// redaction; medium and low are logged only.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Actions recorded in the violation log.
const (
	ActionBlocked = "blocked"
	ActionWarned  = "warned"
)

// RedactedPlaceholder replaces flagged text in cleaned content.
const RedactedPlaceholder = "[REDACTED]"

// ViolationSummary describes one rule match in a check result.
type ViolationSummary struct {
	RuleName string `json:"rule_name"`
	RuleType string `json:"rule_type"`
	Severity string `json:"severity"`
	Action   string `json:"action"`
}

// CheckResult is the outcome of checking one piece of content.
type CheckResult struct {
	// Passed is false iff at least one high-severity rule matched.
	Passed bool `json:"passed"`
	// Content is the input, with every high-severity match replaced by
	// RedactedPlaceholder. Unchanged when Passed.
	Content string `json:"content"`
	// Violations holds one entry per rule match, in scan order.
	Violations []ViolationSummary `json:"violations"`
}

// Action returns the overall verdict string for the result.
func (r *CheckResult) Action() string {
	if r.Passed {
		return "allowed"
	}
	return "blocked"
}
