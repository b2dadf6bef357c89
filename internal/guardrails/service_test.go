package guardrails

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/aegislabs/aegis/internal/storage"
)

type mockRuleStore struct {
	rules     map[string]*storage.Rule
	insertErr error
	listErr   error
}

func newMockRuleStore(rules ...storage.Rule) *mockRuleStore {
	m := &mockRuleStore{rules: make(map[string]*storage.Rule)}
	for i := range rules {
		r := rules[i]
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		m.rules[r.Name] = &r
	}
	return m
}

func (m *mockRuleStore) Insert(ctx context.Context, rule *storage.Rule) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	m.rules[rule.Name] = rule
	return nil
}

func (m *mockRuleStore) GetByID(ctx context.Context, id uuid.UUID) (*storage.Rule, error) {
	for _, r := range m.rules {
		if r.ID == id {
			copy := *r
			return &copy, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *mockRuleStore) GetByName(ctx context.Context, name string) (*storage.Rule, error) {
	if r, ok := m.rules[name]; ok {
		copy := *r
		return &copy, nil
	}
	return nil, storage.ErrNotFound
}

func (m *mockRuleStore) Update(ctx context.Context, rule *storage.Rule) error {
	for name, r := range m.rules {
		if r.ID == rule.ID {
			delete(m.rules, name)
			m.rules[rule.Name] = rule
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *mockRuleStore) Delete(ctx context.Context, id uuid.UUID) error {
	for name, r := range m.rules {
		if r.ID == id {
			delete(m.rules, name)
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *mockRuleStore) List(ctx context.Context) ([]storage.Rule, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []storage.Rule
	for _, r := range m.rules {
		out = append(out, *r)
	}
	return out, nil
}

func (m *mockRuleStore) ListEnabled(ctx context.Context) ([]storage.Rule, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []storage.Rule
	for _, r := range m.rules {
		if r.Enabled {
			out = append(out, *r)
		}
	}
	return out, nil
}

type mockViolationStore struct {
	batches   [][]storage.Violation
	insertErr error
}

func (m *mockViolationStore) InsertBatch(ctx context.Context, violations []storage.Violation) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.batches = append(m.batches, violations)
	return nil
}

func (m *mockViolationStore) List(ctx context.Context, opts storage.ListViolationsOptions) ([]storage.Violation, error) {
	var out []storage.Violation
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out, nil
}

type mockNotifier struct {
	published []storage.Violation
	err       error
}

func (m *mockNotifier) PublishViolation(ctx context.Context, v storage.Violation) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, v)
	return nil
}

func (m *mockViolationStore) total() int {
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func newTestService(rules *mockRuleStore, violations *mockViolationStore, notifier Notifier) *Service {
	return NewService(DefaultConfig(), rules, violations, nil, notifier, nil)
}

func TestCheckMixedSeverities(t *testing.T) {
	rules := newMockRuleStore(DefaultRules()...)
	violations := &mockViolationStore{}
	notifier := &mockNotifier{}
	svc := newTestService(rules, violations, notifier)

	content := "well damn, my email is alice@example.com"
	result, err := svc.Check(context.Background(), content, "user-1")
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}

	if result.Passed {
		t.Error("expected passed=false for high severity match")
	}
	if strings.Contains(result.Content, "alice@example.com") {
		t.Errorf("email not redacted: %q", result.Content)
	}
	if !strings.Contains(result.Content, RedactedPlaceholder) {
		t.Errorf("expected placeholder in content: %q", result.Content)
	}
	if !strings.Contains(result.Content, "damn") {
		t.Errorf("medium severity match should stay intact: %q", result.Content)
	}

	// One violation row per match.
	if violations.total() != 2 {
		t.Fatalf("got %d violations, want 2", violations.total())
	}
	actions := map[string]string{}
	for _, v := range violations.batches[0] {
		actions[v.RuleName] = v.ActionTaken
		if !v.UserID.Valid || v.UserID.String != "user-1" {
			t.Errorf("violation user id = %+v, want user-1", v.UserID)
		}
	}
	if actions["PII_EMAIL"] != ActionBlocked {
		t.Errorf("PII_EMAIL action = %q, want blocked", actions["PII_EMAIL"])
	}
	if actions["PROFANITY"] != ActionWarned {
		t.Errorf("PROFANITY action = %q, want warned", actions["PROFANITY"])
	}

	if len(notifier.published) != 2 {
		t.Errorf("got %d published events, want 2", len(notifier.published))
	}
}

func TestCheckDisabledEngine(t *testing.T) {
	rules := newMockRuleStore(DefaultRules()...)
	violations := &mockViolationStore{}
	svc := NewService(Config{Enabled: false, SnippetLimit: 200}, rules, violations, nil, nil, nil)

	content := "email alice@example.com, damn it"
	result, err := svc.Check(context.Background(), content, "user-1")
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}

	if !result.Passed {
		t.Error("disabled engine must pass all content")
	}
	if result.Content != content {
		t.Errorf("disabled engine must not modify content: %q", result.Content)
	}
	if violations.total() != 0 {
		t.Errorf("disabled engine logged %d violations, want 0", violations.total())
	}
}

func TestCheckCleanContent(t *testing.T) {
	rules := newMockRuleStore(DefaultRules()...)
	violations := &mockViolationStore{}
	svc := newTestService(rules, violations, nil)

	result, err := svc.Check(context.Background(), "what are your opening hours?", "user-1")
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if !result.Passed || len(result.Violations) != 0 {
		t.Errorf("clean content flagged: %+v", result)
	}
	if violations.total() != 0 {
		t.Errorf("clean content logged %d violations", violations.total())
	}
}

func TestCheckNoEnabledRules(t *testing.T) {
	svc := newTestService(newMockRuleStore(), &mockViolationStore{}, nil)

	result, err := svc.Check(context.Background(), "email alice@example.com", "user-1")
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if !result.Passed {
		t.Error("content must pass when no rules are enabled")
	}
}

func TestCheckAnonymousUser(t *testing.T) {
	rules := newMockRuleStore(DefaultRules()...)
	violations := &mockViolationStore{}
	svc := newTestService(rules, violations, nil)

	if _, err := svc.Check(context.Background(), "ssn 123-45-6789", ""); err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if violations.total() == 0 {
		t.Fatal("expected violations for anonymous user")
	}
	if violations.batches[0][0].UserID.Valid {
		t.Error("anonymous violation should have NULL user id")
	}
}

func TestCheckSnippetIsMatchedText(t *testing.T) {
	rules := newMockRuleStore(DefaultRules()...)
	violations := &mockViolationStore{}
	svc := newTestService(rules, violations, nil)

	content := strings.Repeat("padding ", 40) + "my ssn is 123-45-6789"
	if _, err := svc.Check(context.Background(), content, "u"); err != nil {
		t.Fatalf("Check returned error: %v", err)
	}

	snippet := violations.batches[0][0].ContentSnippet
	if snippet != "123-45-6789" {
		t.Errorf("snippet = %q, want the matched text", snippet)
	}
}

func TestCheckSnippetTruncation(t *testing.T) {
	longRule := storage.Rule{
		Name: "LONG_RUN", RuleType: "keyword", Severity: SeverityHigh, Enabled: true,
		Pattern: `x{250,}`,
	}
	violations := &mockViolationStore{}
	svc := newTestService(newMockRuleStore(longRule), violations, nil)

	if _, err := svc.Check(context.Background(), strings.Repeat("x", 400), "u"); err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	snippet := violations.batches[0][0].ContentSnippet
	if len(snippet) != 200 {
		t.Errorf("snippet length = %d, want 200", len(snippet))
	}
}

func TestCheckSkipsEmptyPatternRule(t *testing.T) {
	emptyRule := storage.Rule{
		Name: "EMPTY", RuleType: "keyword", Severity: SeverityHigh, Enabled: true,
		Pattern: "",
	}
	violations := &mockViolationStore{}
	svc := newTestService(newMockRuleStore(emptyRule), violations, nil)

	result, err := svc.Check(context.Background(), "hi", "u")
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if !result.Passed {
		t.Error("clean content must pass when the only rule has an empty pattern")
	}
	if violations.total() != 0 {
		t.Errorf("empty-pattern rule logged %d violations, want 0", violations.total())
	}
}

func TestCheckStoreFailure(t *testing.T) {
	rules := newMockRuleStore(DefaultRules()...)
	violations := &mockViolationStore{insertErr: errors.New("db down")}
	svc := newTestService(rules, violations, nil)

	if _, err := svc.Check(context.Background(), "alice@example.com", "u"); err == nil {
		t.Error("expected error when violation logging fails")
	}
}

func TestCheckNotifierFailureSwallowed(t *testing.T) {
	rules := newMockRuleStore(DefaultRules()...)
	violations := &mockViolationStore{}
	svc := newTestService(rules, violations, &mockNotifier{err: errors.New("nats down")})

	result, err := svc.Check(context.Background(), "alice@example.com", "u")
	if err != nil {
		t.Fatalf("notifier failure must not surface: %v", err)
	}
	if result.Passed {
		t.Error("expected passed=false")
	}
}

func TestEnsureDefaultsIdempotent(t *testing.T) {
	rules := newMockRuleStore()
	svc := newTestService(rules, &mockViolationStore{}, nil)

	n, err := svc.EnsureDefaults(context.Background())
	if err != nil {
		t.Fatalf("EnsureDefaults returned error: %v", err)
	}
	if n != len(DefaultRules()) {
		t.Errorf("first seed inserted %d, want %d", n, len(DefaultRules()))
	}

	n, err = svc.EnsureDefaults(context.Background())
	if err != nil {
		t.Fatalf("second EnsureDefaults returned error: %v", err)
	}
	if n != 0 {
		t.Errorf("second seed inserted %d, want 0", n)
	}
}

func TestCreateRuleValidation(t *testing.T) {
	rules := newMockRuleStore(storage.Rule{Name: "EXISTING", RuleType: "CUSTOM", Pattern: `x`, Severity: SeverityLow, Enabled: true})
	svc := newTestService(rules, &mockViolationStore{}, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		input   CreateRuleInput
		wantErr error
	}{
		{
			name:    "missing name",
			input:   CreateRuleInput{Pattern: `a+`},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "missing pattern",
			input:   CreateRuleInput{Name: "NEW"},
			wantErr: ErrInvalidInput,
		},
		{
			name:    "invalid pattern",
			input:   CreateRuleInput{Name: "NEW", Pattern: `[broken`},
			wantErr: ErrInvalidPattern,
		},
		{
			name:    "duplicate name",
			input:   CreateRuleInput{Name: "EXISTING", Pattern: `a+`},
			wantErr: ErrDuplicateRule,
		},
		{
			name:    "invalid severity",
			input:   CreateRuleInput{Name: "NEW", Pattern: `a+`, Severity: "critical"},
			wantErr: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateRule(ctx, tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got error %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateRuleDefaults(t *testing.T) {
	svc := newTestService(newMockRuleStore(), &mockViolationStore{}, nil)

	rule, err := svc.CreateRule(context.Background(), CreateRuleInput{Name: "NEW", Pattern: `a+`})
	if err != nil {
		t.Fatalf("CreateRule returned error: %v", err)
	}
	if rule.Severity != SeverityMedium {
		t.Errorf("default severity = %q, want medium", rule.Severity)
	}
	if rule.Action != "block" {
		t.Errorf("default action = %q, want block", rule.Action)
	}
	if !rule.Enabled {
		t.Error("new rules default to enabled")
	}
}

func TestUpdateRule(t *testing.T) {
	rules := newMockRuleStore(storage.Rule{Name: "R", RuleType: "CUSTOM", Pattern: `a+`, Severity: SeverityLow, Enabled: true})
	svc := newTestService(rules, &mockViolationStore{}, nil)
	ctx := context.Background()

	existing, _ := rules.GetByName(ctx, "R")

	enabled := false
	updated, err := svc.UpdateRule(ctx, existing.ID, UpdateRuleInput{Enabled: &enabled})
	if err != nil {
		t.Fatalf("UpdateRule returned error: %v", err)
	}
	if updated.Enabled {
		t.Error("enabled flag not updated")
	}

	bad := `[broken`
	if _, err := svc.UpdateRule(ctx, existing.ID, UpdateRuleInput{Pattern: &bad}); !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("got %v, want ErrInvalidPattern", err)
	}

	empty := ""
	if _, err := svc.UpdateRule(ctx, existing.ID, UpdateRuleInput{Pattern: &empty}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("got %v, want ErrInvalidInput for empty pattern", err)
	}

	if _, err := svc.UpdateRule(ctx, uuid.New(), UpdateRuleInput{}); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("got %v, want ErrRuleNotFound", err)
	}
}

func TestDeleteRule(t *testing.T) {
	rules := newMockRuleStore(storage.Rule{Name: "R", RuleType: "CUSTOM", Pattern: `a+`, Severity: SeverityLow, Enabled: true})
	svc := newTestService(rules, &mockViolationStore{}, nil)
	ctx := context.Background()

	existing, _ := rules.GetByName(ctx, "R")
	if err := svc.DeleteRule(ctx, existing.ID); err != nil {
		t.Fatalf("DeleteRule returned error: %v", err)
	}
	if err := svc.DeleteRule(ctx, existing.ID); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("got %v, want ErrRuleNotFound", err)
	}
}
