package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aegislabs/aegis/internal/llm"
	"github.com/aegislabs/aegis/internal/storage"
	"github.com/aegislabs/aegis/pkg/logger"
)

// HistoryStore records chat exchanges.
type HistoryStore interface {
	Insert(ctx context.Context, msg *storage.ChatMessage) error
}

// WebSearcher supplements document context with internet results.
type WebSearcher interface {
	Search(ctx context.Context, query string) (string, error)
}

const ragSystemPrompt = `You are a helpful assistant that answers questions using the provided document excerpts. Base your answers on the excerpts and cite the source filenames you used. If the excerpts do not contain the answer, say so instead of guessing.`

// ServiceConfig holds configuration for the RAG service.
type ServiceConfig struct {
	MaxTokens   int
	Temperature float64
}

// Service answers questions over a user's documents and manages their
// document lifecycle.
type Service struct {
	ingestor  *Ingestor
	retriever *Retriever
	provider  llm.Provider
	documents DocumentStore
	vectors   storage.VectorStore
	objects   ObjectStore
	history   HistoryStore
	search    WebSearcher
	notifier  Notifier
	config    ServiceConfig
	log       *logger.Logger
}

// NewService creates a new Service. search and notifier may be nil.
func NewService(
	ingestor *Ingestor,
	retriever *Retriever,
	provider llm.Provider,
	documents DocumentStore,
	vectors storage.VectorStore,
	objects ObjectStore,
	history HistoryStore,
	search WebSearcher,
	notifier Notifier,
	cfg ServiceConfig,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.Default()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Service{
		ingestor:  ingestor,
		retriever: retriever,
		provider:  provider,
		documents: documents,
		vectors:   vectors,
		objects:   objects,
		history:   history,
		search:    search,
		notifier:  notifier,
		config:    cfg,
		log:       log.WithComponent("rag_service"),
	}
}

// Upload ingests a new document for the user.
func (s *Service) Upload(ctx context.Context, userID, filename string, data []byte) (*IngestResult, error) {
	return s.ingestor.Ingest(ctx, userID, filename, data)
}

// ListDocuments returns the user's documents, newest first.
func (s *Service) ListDocuments(ctx context.Context, userID string) ([]storage.Document, error) {
	return s.documents.ListByUser(ctx, userID)
}

// DeleteDocument removes a document, its stored file and its chunk
// collection. The metadata row is the authoritative delete; file and
// collection removal are best effort.
func (s *Service) DeleteDocument(ctx context.Context, userID string, id uuid.UUID) error {
	doc, err := s.documents.GetByIDAndUser(ctx, id, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrDocumentNotFound
		}
		return fmt.Errorf("failed to load document: %w", err)
	}

	if err := s.objects.Delete(ctx, doc.Filepath); err != nil {
		s.log.Warn("failed to delete document file", "document_id", id, "error", err)
	}
	if err := s.vectors.DeleteCollection(ctx, doc.CollectionID()); err != nil {
		s.log.Warn("failed to delete chunk collection", "document_id", id, "error", err)
	}

	if err := s.documents.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	if s.notifier != nil {
		if err := s.notifier.PublishDocumentDeleted(ctx, *doc); err != nil {
			s.log.Warn("failed to publish document deleted event", "document_id", id, "error", err)
		}
	}

	s.log.Info("document deleted", "document_id", id, "user_id", userID)
	return nil
}

// ChatResult is the outcome of a document chat turn.
type ChatResult struct {
	Answer       string   `json:"answer"`
	Sources      []Source `json:"sources"`
	UsedInternet bool     `json:"used_internet"`
}

// Chat answers a question over the user's documents, optionally augmented
// with internet search results.
func (s *Service) Chat(ctx context.Context, userID, question string, useInternet bool) (*ChatResult, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: empty question", ErrInvalidInput)
	}

	start := time.Now()

	sources, err := s.retriever.Retrieve(ctx, userID, question)
	if err != nil {
		return nil, err
	}

	var searchResults string
	usedInternet := false
	if useInternet && s.search != nil {
		results, err := s.search.Search(ctx, question)
		if err != nil {
			s.log.Warn("internet search failed, answering from documents only", "error", err)
		} else if results != "" {
			searchResults = results
			usedInternet = true
		}
	}

	prompt := buildPrompt(question, sources, searchResults)

	resp, err := s.provider.Chat(ctx, llm.ChatRequest{
		Messages:     []llm.Message{llm.NewTextMessage(llm.RoleUser, prompt)},
		SystemPrompt: ragSystemPrompt,
		MaxTokens:    s.config.MaxTokens,
		Temperature:  s.config.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	answer := resp.GetText()

	s.saveHistory(ctx, userID, question, answer, usedInternet, len(sources))

	s.log.Info("document chat completed",
		"user_id", userID,
		"sources", len(sources),
		"used_internet", usedInternet,
		"tokens", resp.Usage.TotalTokens(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &ChatResult{
		Answer:       answer,
		Sources:      sources,
		UsedInternet: usedInternet,
	}, nil
}

// saveHistory records the exchange; a write failure does not fail the chat.
func (s *Service) saveHistory(ctx context.Context, userID, question, answer string, usedInternet bool, numSources int) {
	if s.history == nil {
		return
	}

	meta, _ := json.Marshal(map[string]interface{}{
		"use_internet": usedInternet,
		"num_sources":  numSources,
	})

	msg := storage.ChatMessage{
		UserID:   userID,
		Message:  question,
		Response: answer,
		ChatType: "rag",
		Metadata: meta,
	}
	if err := s.history.Insert(ctx, &msg); err != nil {
		s.log.Warn("failed to save chat history", "user_id", userID, "error", err)
	}
}

// buildPrompt assembles the context blocks, optional search results and the
// question into a single user prompt.
func buildPrompt(question string, sources []Source, searchResults string) string {
	var sb strings.Builder

	sb.WriteString("Document excerpts:\n\n")
	for _, src := range sources {
		sb.WriteString(fmt.Sprintf("[source: %s]\n%s\n\n", src.Filename, src.Content))
	}

	if searchResults != "" {
		sb.WriteString("Internet Search Results:\n")
		sb.WriteString(searchResults)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Question: ")
	sb.WriteString(question)

	return sb.String()
}
