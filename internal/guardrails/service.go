package guardrails

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/aegislabs/aegis/internal/storage"
)

// RuleStore is the persistence surface the service needs for rules.
type RuleStore interface {
	Insert(ctx context.Context, rule *storage.Rule) error
	GetByID(ctx context.Context, id uuid.UUID) (*storage.Rule, error)
	GetByName(ctx context.Context, name string) (*storage.Rule, error)
	Update(ctx context.Context, rule *storage.Rule) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]storage.Rule, error)
	ListEnabled(ctx context.Context) ([]storage.Rule, error)
}

// ViolationStore is the persistence surface for the violation log.
type ViolationStore interface {
	InsertBatch(ctx context.Context, violations []storage.Violation) error
	List(ctx context.Context, opts storage.ListViolationsOptions) ([]storage.Violation, error)
}

// RuleCache caches the enabled rule set between checks. May be nil.
type RuleCache interface {
	GetEnabledRules(ctx context.Context) ([]storage.Rule, bool, error)
	SetEnabledRules(ctx context.Context, rules []storage.Rule) error
	InvalidateRules(ctx context.Context) error
}

// Notifier publishes violation events. May be nil; publish failures are
// logged and never surfaced.
type Notifier interface {
	PublishViolation(ctx context.Context, v storage.Violation) error
}

// Config holds service behavior settings.
type Config struct {
	// Enabled short-circuits every check when false: content passes
	// unchanged with no logging and no events.
	Enabled bool
	// SnippetLimit caps the logged content snippet, in characters.
	SnippetLimit int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{Enabled: true, SnippetLimit: 200}
}

// Service is the moderation facade: rule management, content checking,
// violation logging.
type Service struct {
	config     Config
	rules      RuleStore
	violations ViolationStore
	cache      RuleCache
	notifier   Notifier
	scanner    *Scanner
	logger     *slog.Logger
}

// NewService creates the guardrails service. cache and notifier are optional.
func NewService(cfg Config, rules RuleStore, violations ViolationStore, cache RuleCache, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		config:     cfg,
		rules:      rules,
		violations: violations,
		cache:      cache,
		notifier:   notifier,
		scanner:    NewScanner(logger),
		logger:     logger.With("component", "guardrails"),
	}
}

// Enabled reports whether checking is active.
func (s *Service) Enabled() bool {
	return s.config.Enabled
}

// EnsureDefaults seeds the built-in rules, inserting only names that do not
// exist yet. Safe to call on every startup. Returns the number inserted.
func (s *Service) EnsureDefaults(ctx context.Context) (int, error) {
	inserted := 0
	for _, rule := range DefaultRules() {
		_, err := s.rules.GetByName(ctx, rule.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return inserted, fmt.Errorf("failed to check default rule %q: %w", rule.Name, err)
		}

		r := rule
		if err := s.rules.Insert(ctx, &r); err != nil {
			return inserted, fmt.Errorf("failed to seed rule %q: %w", rule.Name, err)
		}
		inserted++
	}

	if inserted > 0 {
		s.invalidateRuleCache(ctx)
		s.logger.Info("seeded default guardrail rules", "inserted", inserted)
	}
	return inserted, nil
}

// Check scans content against every enabled rule, logs one violation per
// match, and redacts high-severity matches. userID may be empty for
// anonymous callers.
func (s *Service) Check(ctx context.Context, content, userID string) (*CheckResult, error) {
	result := &CheckResult{Passed: true, Content: content}

	if !s.config.Enabled {
		return result, nil
	}

	rules, err := s.enabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	if len(rules) == 0 {
		return result, nil
	}

	matches := s.scanner.Scan(content, rules)
	if len(matches) == 0 {
		return result, nil
	}

	violations := make([]storage.Violation, 0, len(matches))
	summaries := make([]ViolationSummary, 0, len(matches))

	for _, m := range matches {
		action := ActionWarned
		if m.Rule.Severity == SeverityHigh {
			action = ActionBlocked
		}

		violations = append(violations, storage.Violation{
			UserID:         sql.NullString{String: userID, Valid: userID != ""},
			RuleName:       m.Rule.Name,
			RuleType:       m.Rule.RuleType,
			ActionTaken:    action,
			ContentSnippet: TruncateSnippet(m.Text, s.config.SnippetLimit),
		})
		summaries = append(summaries, ViolationSummary{
			RuleName: m.Rule.Name,
			RuleType: m.Rule.RuleType,
			Severity: m.Rule.Severity,
			Action:   action,
		})
	}

	if err := s.violations.InsertBatch(ctx, violations); err != nil {
		return nil, fmt.Errorf("failed to log violations: %w", err)
	}

	if s.notifier != nil {
		for _, v := range violations {
			if err := s.notifier.PublishViolation(ctx, v); err != nil {
				s.logger.Warn("failed to publish violation event",
					"rule", v.RuleName,
					"error", err,
				)
			}
		}
	}

	result.Content, result.Passed = Redact(content, matches)
	result.Violations = summaries

	s.logger.Info("content checked",
		"passed", result.Passed,
		"violations", len(summaries),
	)
	return result, nil
}

// CreateRuleInput holds fields for a new rule.
type CreateRuleInput struct {
	Name        string
	Description string
	RuleType    string
	Pattern     string
	Action      string
	Severity    string
	Enabled     *bool
}

// CreateRule validates and stores a new rule.
func (s *Service) CreateRule(ctx context.Context, in CreateRuleInput) (*storage.Rule, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || strings.TrimSpace(in.Pattern) == "" {
		return nil, fmt.Errorf("%w: name and pattern are required", ErrInvalidInput)
	}
	if err := CompilePattern(in.Pattern); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	if err := validateSeverity(in.Severity); err != nil {
		return nil, err
	}

	if _, err := s.rules.GetByName(ctx, name); err == nil {
		return nil, ErrDuplicateRule
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to check rule name: %w", err)
	}

	rule := &storage.Rule{
		Name:        name,
		Description: sql.NullString{String: in.Description, Valid: in.Description != ""},
		RuleType:    defaultString(in.RuleType, "CUSTOM"),
		Pattern:     in.Pattern,
		Action:      defaultString(in.Action, "block"),
		Severity:    defaultString(in.Severity, SeverityMedium),
		Enabled:     in.Enabled == nil || *in.Enabled,
	}

	if err := s.rules.Insert(ctx, rule); err != nil {
		return nil, err
	}
	s.invalidateRuleCache(ctx)

	s.logger.Info("rule created", "rule", rule.Name, "severity", rule.Severity)
	return rule, nil
}

// UpdateRuleInput holds partial-update fields; nil means leave unchanged.
type UpdateRuleInput struct {
	Name        *string
	Description *string
	RuleType    *string
	Pattern     *string
	Action      *string
	Severity    *string
	Enabled     *bool
}

// UpdateRule applies a partial update to an existing rule.
func (s *Service) UpdateRule(ctx context.Context, id uuid.UUID, in UpdateRuleInput) (*storage.Rule, error) {
	rule, err := s.rules.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidInput)
		}
		if name != rule.Name {
			if _, err := s.rules.GetByName(ctx, name); err == nil {
				return nil, ErrDuplicateRule
			} else if !errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("failed to check rule name: %w", err)
			}
		}
		rule.Name = name
	}
	if in.Description != nil {
		rule.Description = sql.NullString{String: *in.Description, Valid: *in.Description != ""}
	}
	if in.RuleType != nil {
		rule.RuleType = *in.RuleType
	}
	if in.Pattern != nil {
		if strings.TrimSpace(*in.Pattern) == "" {
			return nil, fmt.Errorf("%w: pattern cannot be empty", ErrInvalidInput)
		}
		if err := CompilePattern(*in.Pattern); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
		rule.Pattern = *in.Pattern
	}
	if in.Action != nil {
		rule.Action = *in.Action
	}
	if in.Severity != nil {
		if err := validateSeverity(*in.Severity); err != nil {
			return nil, err
		}
		rule.Severity = *in.Severity
	}
	if in.Enabled != nil {
		rule.Enabled = *in.Enabled
	}

	if err := s.rules.Update(ctx, rule); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	s.invalidateRuleCache(ctx)

	s.logger.Info("rule updated", "rule", rule.Name)
	return rule, nil
}

// DeleteRule removes a rule by id.
func (s *Service) DeleteRule(ctx context.Context, id uuid.UUID) error {
	if err := s.rules.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrRuleNotFound
		}
		return err
	}
	s.invalidateRuleCache(ctx)
	s.logger.Info("rule deleted", "rule_id", id)
	return nil
}

// ListRules returns every rule.
func (s *Service) ListRules(ctx context.Context) ([]storage.Rule, error) {
	return s.rules.List(ctx)
}

// ListViolations returns violation log entries, newest first.
func (s *Service) ListViolations(ctx context.Context, opts storage.ListViolationsOptions) ([]storage.Violation, error) {
	return s.violations.List(ctx, opts)
}

func (s *Service) enabledRules(ctx context.Context) ([]storage.Rule, error) {
	if s.cache != nil {
		if rules, ok, err := s.cache.GetEnabledRules(ctx); err == nil && ok {
			return rules, nil
		}
	}

	rules, err := s.rules.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetEnabledRules(ctx, rules); err != nil {
			s.logger.Warn("failed to cache rules", "error", err)
		}
	}
	return rules, nil
}

func (s *Service) invalidateRuleCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateRules(ctx); err != nil {
		s.logger.Warn("failed to invalidate rule cache", "error", err)
	}
}

func validateSeverity(severity string) error {
	switch severity {
	case "", SeverityLow, SeverityMedium, SeverityHigh:
		return nil
	}
	return fmt.Errorf("%w: severity must be low, medium or high", ErrInvalidInput)
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
