package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RuleStore persists guardrail rules.
type RuleStore struct {
	db     *PostgresDB
	logger *slog.Logger
}

// NewRuleStore creates a new RuleStore.
func NewRuleStore(db *PostgresDB, logger *slog.Logger) *RuleStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleStore{
		db:     db,
		logger: logger.With("component", "rule_store"),
	}
}

// Insert stores a new rule.
func (s *RuleStore) Insert(ctx context.Context, rule *Rule) error {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guardrail_rules (
			id, name, description, rule_type, pattern, action, severity, enabled, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		rule.ID, rule.Name, rule.Description, rule.RuleType, rule.Pattern,
		rule.Action, rule.Severity, rule.Enabled, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert rule %q: %w", rule.Name, err)
	}
	return nil
}

// GetByID fetches a rule by id. Returns ErrNotFound when missing.
func (s *RuleStore) GetByID(ctx context.Context, id uuid.UUID) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, rule_type, pattern, action, severity, enabled, created_at, updated_at
		FROM guardrail_rules WHERE id = $1
	`, id)
	return scanRule(row)
}

// GetByName fetches a rule by its unique name. Returns ErrNotFound when missing.
func (s *RuleStore) GetByName(ctx context.Context, name string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, rule_type, pattern, action, severity, enabled, created_at, updated_at
		FROM guardrail_rules WHERE name = $1
	`, name)
	return scanRule(row)
}

// Update replaces a rule's mutable fields. Returns ErrNotFound when missing.
func (s *RuleStore) Update(ctx context.Context, rule *Rule) error {
	rule.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE guardrail_rules
		SET name = $2, description = $3, rule_type = $4, pattern = $5,
		    action = $6, severity = $7, enabled = $8, updated_at = $9
		WHERE id = $1
	`,
		rule.ID, rule.Name, rule.Description, rule.RuleType, rule.Pattern,
		rule.Action, rule.Severity, rule.Enabled, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule %s: %w", rule.ID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a rule by id. Returns ErrNotFound when missing.
func (s *RuleStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM guardrail_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns all rules ordered by creation time.
func (s *RuleStore) List(ctx context.Context) ([]Rule, error) {
	return s.list(ctx, `
		SELECT id, name, description, rule_type, pattern, action, severity, enabled, created_at, updated_at
		FROM guardrail_rules ORDER BY created_at
	`)
}

// ListEnabled returns only enabled rules ordered by creation time.
func (s *RuleStore) ListEnabled(ctx context.Context) ([]Rule, error) {
	return s.list(ctx, `
		SELECT id, name, description, rule_type, pattern, action, severity, enabled, created_at, updated_at
		FROM guardrail_rules WHERE enabled = TRUE ORDER BY created_at
	`)
}

func (s *RuleStore) list(ctx context.Context, query string) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var r Rule
		err := rows.Scan(
			&r.ID, &r.Name, &r.Description, &r.RuleType, &r.Pattern,
			&r.Action, &r.Severity, &r.Enabled, &r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rules, nil
}

func scanRule(row *sql.Row) (*Rule, error) {
	var r Rule
	err := row.Scan(
		&r.ID, &r.Name, &r.Description, &r.RuleType, &r.Pattern,
		&r.Action, &r.Severity, &r.Enabled, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}
	return &r, nil
}
