package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/aegislabs/aegis/internal/api/middleware"
	"github.com/aegislabs/aegis/internal/guardrails"
	"github.com/aegislabs/aegis/internal/storage"
	"github.com/aegislabs/aegis/pkg/logger"
)

// CheckRequestBody is the dry-run moderation request.
type CheckRequestBody struct {
	Content string `json:"content"`
}

// CheckResponse is the moderation verdict returned to the caller.
type CheckResponse struct {
	Passed     bool                          `json:"passed"`
	Action     string                        `json:"action"`
	Content    string                        `json:"content"`
	Violations []guardrails.ViolationSummary `json:"violations"`
}

// HandleGuardrailsCheck returns a handler for POST /guardrails/check. It
// runs the caller's content through the engine without dispatching anywhere.
func HandleGuardrailsCheck(svc GuardrailsService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CheckRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			RespondBadRequest(w, "Invalid request body")
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			RespondBadRequest(w, "content is required")
			return
		}

		result, err := svc.Check(r.Context(), req.Content, middleware.UserID(r.Context()))
		if err != nil {
			log.WithError(err).Error("guardrails check failed")
			RespondInternalError(w, "Content check failed")
			return
		}

		RespondJSON(w, http.StatusOK, CheckResponse{
			Passed:     result.Passed,
			Action:     result.Action(),
			Content:    result.Content,
			Violations: summaries(result),
		})
	}
}

func summaries(result *guardrails.CheckResult) []guardrails.ViolationSummary {
	if result.Violations == nil {
		return []guardrails.ViolationSummary{}
	}
	return result.Violations
}

// RuleRequestBody carries rule fields for create and update. Pointer fields
// distinguish "absent" from zero on update.
type RuleRequestBody struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	RuleType    *string `json:"rule_type"`
	Pattern     *string `json:"pattern"`
	Action      *string `json:"action"`
	Severity    *string `json:"severity"`
	Enabled     *bool   `json:"enabled"`
}

// ListRules returns a handler for GET /guardrails/rules.
func ListRules(svc GuardrailsService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rules, err := svc.ListRules(r.Context())
		if err != nil {
			log.WithError(err).Error("failed to list rules")
			RespondInternalError(w, "")
			return
		}
		if rules == nil {
			rules = []storage.Rule{}
		}
		RespondJSON(w, http.StatusOK, map[string]any{
			"rules": rules,
			"count": len(rules),
		})
	}
}

// CreateRule returns a handler for POST /guardrails/rules (admin).
func CreateRule(svc GuardrailsService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RuleRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			RespondBadRequest(w, "Invalid request body")
			return
		}

		in := guardrails.CreateRuleInput{
			Name:        strValue(req.Name),
			Description: strValue(req.Description),
			RuleType:    strValue(req.RuleType),
			Pattern:     strValue(req.Pattern),
			Action:      strValue(req.Action),
			Severity:    strValue(req.Severity),
			Enabled:     req.Enabled,
		}

		rule, err := svc.CreateRule(r.Context(), in)
		if err != nil {
			respondRuleError(w, err, log)
			return
		}
		RespondCreated(w, rule)
	}
}

// UpdateRule returns a handler for PUT /guardrails/rules/{id} (admin).
func UpdateRule(svc GuardrailsService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			RespondBadRequest(w, "Invalid rule ID")
			return
		}

		var req RuleRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			RespondBadRequest(w, "Invalid request body")
			return
		}

		rule, err := svc.UpdateRule(r.Context(), id, guardrails.UpdateRuleInput{
			Name:        req.Name,
			Description: req.Description,
			RuleType:    req.RuleType,
			Pattern:     req.Pattern,
			Action:      req.Action,
			Severity:    req.Severity,
			Enabled:     req.Enabled,
		})
		if err != nil {
			respondRuleError(w, err, log)
			return
		}
		RespondJSON(w, http.StatusOK, rule)
	}
}

// DeleteRule returns a handler for DELETE /guardrails/rules/{id} (admin).
func DeleteRule(svc GuardrailsService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			RespondBadRequest(w, "Invalid rule ID")
			return
		}

		if err := svc.DeleteRule(r.Context(), id); err != nil {
			respondRuleError(w, err, log)
			return
		}
		RespondNoContent(w)
	}
}

// ListViolationLogs returns a handler for GET /guardrails/logs. Callers see
// their own entries; admins may pass all=true for every user's entries.
func ListViolationLogs(svc GuardrailsService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		allUsers := r.URL.Query().Get("all") == "true"
		if allUsers && !middleware.IsAdmin(ctx) {
			RespondForbidden(w, "admin role required to view all users' logs")
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				RespondBadRequest(w, "limit must be a positive integer")
				return
			}
			limit = n
		}

		violations, err := svc.ListViolations(ctx, storage.ListViolationsOptions{
			UserID:   middleware.UserID(ctx),
			AllUsers: allUsers,
			Limit:    limit,
		})
		if err != nil {
			log.WithError(err).Error("failed to list violations")
			RespondInternalError(w, "")
			return
		}
		if violations == nil {
			violations = []storage.Violation{}
		}
		RespondJSON(w, http.StatusOK, map[string]any{
			"violations": violations,
			"count":      len(violations),
		})
	}
}

func respondRuleError(w http.ResponseWriter, err error, log *logger.Logger) {
	switch {
	case errors.Is(err, guardrails.ErrInvalidInput),
		errors.Is(err, guardrails.ErrInvalidPattern),
		errors.Is(err, guardrails.ErrDuplicateRule):
		RespondBadRequest(w, err.Error())
	case errors.Is(err, guardrails.ErrRuleNotFound):
		RespondNotFound(w, err.Error())
	default:
		log.WithError(err).Error("rule operation failed")
		RespondInternalError(w, "")
	}
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
