package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ViolationStore persists guardrail violation log entries.
type ViolationStore struct {
	db     *PostgresDB
	logger *slog.Logger
}

// NewViolationStore creates a new ViolationStore.
func NewViolationStore(db *PostgresDB, logger *slog.Logger) *ViolationStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ViolationStore{
		db:     db,
		logger: logger.With("component", "violation_store"),
	}
}

// InsertBatch writes all violations in a single transaction. Either every
// entry is recorded or none is.
func (s *ViolationStore) InsertBatch(ctx context.Context, violations []Violation) error {
	if len(violations) == 0 {
		return nil
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO guardrail_violations (
				id, user_id, rule_name, rule_type, action_taken, content_snippet, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for i := range violations {
			v := &violations[i]
			if v.ID == uuid.Nil {
				v.ID = uuid.New()
			}
			if v.CreatedAt.IsZero() {
				v.CreatedAt = time.Now().UTC()
			}

			_, err := stmt.ExecContext(ctx,
				v.ID, v.UserID, v.RuleName, v.RuleType, v.ActionTaken, v.ContentSnippet, v.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert violation %d: %w", i, err)
			}
		}
		return nil
	})
}

// ListViolationsOptions controls violation log retrieval.
type ListViolationsOptions struct {
	// UserID restricts results to one user. Ignored when AllUsers is set.
	UserID string
	// AllUsers returns every user's entries.
	AllUsers bool
	// Limit caps result count; defaults to 100.
	Limit int
}

// List returns violation entries, newest first.
func (s *ViolationStore) List(ctx context.Context, opts ListViolationsOptions) ([]Violation, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	query := `
		SELECT id, user_id, rule_name, rule_type, action_taken, content_snippet, created_at
		FROM guardrail_violations
	`
	var args []interface{}
	if !opts.AllUsers {
		query += ` WHERE user_id = $1`
		args = append(args, opts.UserID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list violations: %w", err)
	}
	defer rows.Close()

	var violations []Violation
	for rows.Next() {
		var v Violation
		err := rows.Scan(
			&v.ID, &v.UserID, &v.RuleName, &v.RuleType, &v.ActionTaken, &v.ContentSnippet, &v.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		violations = append(violations, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating violations: %w", err)
	}
	return violations, nil
}
