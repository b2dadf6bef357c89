package guardrails

import (
	"log/slog"
	"regexp"
	"sync"

	"github.com/aegislabs/aegis/internal/storage"
)

// Match is a single rule hit: the rule that fired and the matched text.
type Match struct {
	Rule storage.Rule
	Text string
}

// Scanner runs enabled rules against content. All patterns are applied
// case-insensitively. Compiled patterns are cached by pattern string.
type Scanner struct {
	logger *slog.Logger

	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}

// NewScanner creates a Scanner.
func NewScanner(logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		logger:   logger.With("component", "guardrails_scanner"),
		compiled: make(map[string]*regexp.Regexp),
	}
}

// Scan applies every enabled rule to the content and returns one Match per
// regex occurrence. Disabled rules, rules with an empty pattern, and rules
// whose pattern fails to compile are skipped.
func (s *Scanner) Scan(content string, rules []storage.Rule) []Match {
	var matches []Match

	for _, rule := range rules {
		if !rule.Enabled || rule.Pattern == "" {
			continue
		}

		re, err := s.compile(rule.Pattern)
		if err != nil {
			s.logger.Warn("skipping rule with invalid pattern",
				"rule", rule.Name,
				"error", err,
			)
			continue
		}

		for _, hit := range re.FindAllString(content, -1) {
			matches = append(matches, Match{Rule: rule, Text: hit})
		}
	}

	return matches
}

// CompilePattern validates a rule pattern as it will be executed.
func CompilePattern(pattern string) error {
	_, err := regexp.Compile("(?i)" + pattern)
	return err
}

func (s *Scanner) compile(pattern string) (*regexp.Regexp, error) {
	s.mu.RLock()
	re, ok := s.compiled[pattern]
	s.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.compiled[pattern] = re
	s.mu.Unlock()
	return re, nil
}
