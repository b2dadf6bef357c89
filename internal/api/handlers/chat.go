package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/aegislabs/aegis/internal/api/middleware"
	"github.com/aegislabs/aegis/internal/rag"
	"github.com/aegislabs/aegis/internal/storage"
	"github.com/aegislabs/aegis/pkg/logger"
)

// RAGChatRequestBody is the document-chat request.
type RAGChatRequestBody struct {
	Message     string `json:"message"`
	UseInternet bool   `json:"use_internet"`
}

// RAGChatResponse is the document-chat answer.
type RAGChatResponse struct {
	Answer       string       `json:"answer"`
	Sources      []rag.Source `json:"sources"`
	NumSources   int          `json:"num_sources"`
	UsedInternet bool         `json:"used_internet"`
}

// ToolChatRequestBody is the tool-chat request.
type ToolChatRequestBody struct {
	Message string `json:"message"`
}

// ToolChatResponse is the tool-chat answer.
type ToolChatResponse struct {
	Answer       string   `json:"answer"`
	ToolsUsed    []string `json:"tools_used"`
	NumToolCalls int      `json:"num_tool_calls"`
}

// HandleRAGChat returns a handler for POST /chat/rag. Inbound messages and
// outbound answers both pass through the content checker.
func HandleRAGChat(svc RAGChatService, checker ContentChecker, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := middleware.UserID(ctx)

		var req RAGChatRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			RespondBadRequest(w, "Invalid request body")
			return
		}
		req.Message = strings.TrimSpace(req.Message)
		if req.Message == "" {
			RespondBadRequest(w, "message is required")
			return
		}

		if !moderateInbound(w, r, checker, req.Message, log) {
			return
		}

		result, err := svc.Chat(ctx, userID, req.Message, req.UseInternet)
		if err != nil {
			respondRAGChatError(w, err, log)
			return
		}

		answer := moderateOutbound(ctx, checker, result.Answer, userID, log)
		sources := result.Sources
		if sources == nil {
			sources = []rag.Source{}
		}

		RespondJSON(w, http.StatusOK, RAGChatResponse{
			Answer:       answer,
			Sources:      sources,
			NumSources:   len(sources),
			UsedInternet: result.UsedInternet,
		})
	}
}

// HandleToolChat returns a handler for POST /chat/tools, with the same
// inbound and outbound moderation as the RAG path.
func HandleToolChat(svc ToolChatService, checker ContentChecker, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := middleware.UserID(ctx)

		var req ToolChatRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			RespondBadRequest(w, "Invalid request body")
			return
		}
		req.Message = strings.TrimSpace(req.Message)
		if req.Message == "" {
			RespondBadRequest(w, "message is required")
			return
		}

		if !moderateInbound(w, r, checker, req.Message, log) {
			return
		}

		result, err := svc.Chat(ctx, userID, req.Message)
		if err != nil {
			log.WithError(err).Error("tool chat failed", "user_id", userID)
			RespondInternalError(w, "Failed to process your message")
			return
		}

		toolsUsed := result.ToolsUsed
		if toolsUsed == nil {
			toolsUsed = []string{}
		}

		RespondJSON(w, http.StatusOK, ToolChatResponse{
			Answer:       moderateOutbound(ctx, checker, result.Answer, userID, log),
			ToolsUsed:    toolsUsed,
			NumToolCalls: result.NumToolCalls,
		})
	}
}

// GetChatHistory returns a handler for GET /chat/history. Optional query
// params: type (rag|tool) and limit.
func GetChatHistory(svc HistoryService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				RespondBadRequest(w, "limit must be a positive integer")
				return
			}
			limit = n
		}

		messages, err := svc.GetHistory(r.Context(), middleware.UserID(r.Context()), r.URL.Query().Get("type"), limit)
		if err != nil {
			log.WithError(err).Error("failed to load chat history")
			RespondInternalError(w, "")
			return
		}
		if messages == nil {
			messages = []storage.ChatMessage{}
		}
		RespondJSON(w, http.StatusOK, map[string]any{
			"messages": messages,
			"count":    len(messages),
		})
	}
}

// ClearChatHistory returns a handler for DELETE /chat/history. An optional
// type query param limits deletion to one chat type.
func ClearChatHistory(svc HistoryService, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deleted, err := svc.ClearHistory(r.Context(), middleware.UserID(r.Context()), r.URL.Query().Get("type"))
		if err != nil {
			log.WithError(err).Error("failed to clear chat history")
			RespondInternalError(w, "")
			return
		}
		RespondJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
	}
}

// moderateInbound checks the user message before dispatch. A failing check
// rejects the request with the matched rule names; a checker error lets the
// message through so moderation outages do not take chat down with them.
func moderateInbound(w http.ResponseWriter, r *http.Request, checker ContentChecker, message string, log *logger.Logger) bool {
	if checker == nil {
		return true
	}

	ctx := r.Context()
	result, err := checker.Check(ctx, message, middleware.UserID(ctx))
	if err != nil {
		log.WithError(err).Warn("inbound content check failed, continuing")
		return true
	}
	if result.Passed {
		return true
	}

	names := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		names = append(names, v.RuleName)
	}
	RespondErrorWithDetails(w, http.StatusBadRequest, ErrCodeContentBlocked,
		"message violates content policy", map[string]any{"violations": names})
	return false
}

// moderateOutbound checks the model's answer and substitutes the redacted
// text when the check fails. Checker errors return the answer unchanged.
func moderateOutbound(ctx context.Context, checker ContentChecker, answer, userID string, log *logger.Logger) string {
	if checker == nil || answer == "" {
		return answer
	}

	result, err := checker.Check(ctx, answer, userID)
	if err != nil {
		log.WithError(err).Warn("outbound content check failed, returning answer unmoderated")
		return answer
	}
	if !result.Passed {
		log.Warn("outbound answer redacted", "violations", len(result.Violations))
		return result.Content
	}
	return answer
}

func respondRAGChatError(w http.ResponseWriter, err error, log *logger.Logger) {
	switch {
	case errors.Is(err, rag.ErrInvalidInput):
		RespondBadRequest(w, err.Error())
	case errors.Is(err, rag.ErrNoDocuments):
		RespondNotFound(w, "no documents uploaded; upload documents before chatting")
	case errors.Is(err, rag.ErrNoRelevantContent):
		RespondNotFound(w, "no relevant content found in your documents")
	default:
		log.WithError(err).Error("rag chat failed")
		RespondInternalError(w, "Failed to process your message")
	}
}
