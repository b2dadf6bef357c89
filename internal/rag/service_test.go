package rag

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/aegislabs/aegis/internal/embedder"
	"github.com/aegislabs/aegis/internal/llm"
	"github.com/aegislabs/aegis/internal/storage"
)

type mockProvider struct {
	response string
	err      error
	requests []llm.ChatRequest
}

func (m *mockProvider) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return &llm.ChatResponse{
		Content:    []llm.ContentBlock{{Type: llm.ContentTypeText, Text: m.response}},
		StopReason: llm.StopReasonEndTurn,
	}, nil
}

func (m *mockProvider) SupportsTools() bool { return true }
func (m *mockProvider) Name() string        { return "mock" }
func (m *mockProvider) Model() string       { return "mock-model" }

type mockHistoryStore struct {
	messages []storage.ChatMessage
	err      error
}

func (m *mockHistoryStore) Insert(_ context.Context, msg *storage.ChatMessage) error {
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, *msg)
	return nil
}

type mockSearcher struct {
	results string
	err     error
	queries []string
}

func (m *mockSearcher) Search(_ context.Context, query string) (string, error) {
	m.queries = append(m.queries, query)
	if m.err != nil {
		return "", m.err
	}
	return m.results, nil
}

type serviceFixture struct {
	service  *Service
	docs     *mockDocumentStore
	vectors  *mockVectorStore
	objects  *mockObjectStore
	provider *mockProvider
	history  *mockHistoryStore
	searcher *mockSearcher
	notifier *mockNotifier
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	docs := &mockDocumentStore{}
	vectors := newMockVectorStore()
	objects := newMockObjectStore()
	provider := &mockProvider{response: "the answer"}
	history := &mockHistoryStore{}
	searcher := &mockSearcher{results: "search snippet"}
	notifier := &mockNotifier{}

	emb := embedder.NewMockEmbedder(8)
	ingestor := NewIngestor(docs, vectors, objects, newTestChunker(t), emb, notifier, IngestorConfig{}, nil)
	retriever := NewRetriever(docs, vectors, emb, nil, DefaultRetrieverConfig(), nil)

	service := NewService(ingestor, retriever, provider, docs, vectors, objects, history, searcher, notifier, ServiceConfig{}, nil)

	return &serviceFixture{
		service:  service,
		docs:     docs,
		vectors:  vectors,
		objects:  objects,
		provider: provider,
		history:  history,
		searcher: searcher,
		notifier: notifier,
	}
}

func (f *serviceFixture) seedDocument(userID, filename, content string, similarity float64) storage.Document {
	doc := testDocument(userID, filename)
	f.docs.docs = append(f.docs.docs, doc)
	f.vectors.searchResults[doc.CollectionID()] = []storage.RetrievedChunk{
		retrievedChunk(doc.ID, content, similarity),
	}
	return doc
}

func TestChatAnswersFromDocuments(t *testing.T) {
	f := newServiceFixture(t)
	f.seedDocument("user-1", "policy.txt", "refunds are issued within 30 days", 0.9)

	result, err := f.service.Chat(context.Background(), "user-1", "what is the refund window?", false)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if result.Answer != "the answer" {
		t.Errorf("unexpected answer: %q", result.Answer)
	}
	if len(result.Sources) != 1 || result.Sources[0].Filename != "policy.txt" {
		t.Errorf("unexpected sources: %+v", result.Sources)
	}
	if result.UsedInternet {
		t.Error("internet should not be used when not requested")
	}
	if len(f.searcher.queries) != 0 {
		t.Error("searcher should not be called")
	}

	if len(f.provider.requests) != 1 {
		t.Fatalf("expected 1 LLM request, got %d", len(f.provider.requests))
	}
	prompt := f.provider.requests[0].Messages[0].GetText()
	if !strings.Contains(prompt, "[source: policy.txt]") {
		t.Errorf("prompt missing source attribution: %q", prompt)
	}
	if !strings.Contains(prompt, "refunds are issued within 30 days") {
		t.Errorf("prompt missing retrieved content: %q", prompt)
	}
	if !strings.Contains(prompt, "Question: what is the refund window?") {
		t.Errorf("prompt missing question: %q", prompt)
	}
}

func TestChatSavesHistory(t *testing.T) {
	f := newServiceFixture(t)
	f.seedDocument("user-1", "notes.txt", "content", 0.8)

	if _, err := f.service.Chat(context.Background(), "user-1", "question", false); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if len(f.history.messages) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(f.history.messages))
	}
	msg := f.history.messages[0]
	if msg.ChatType != "rag" || msg.UserID != "user-1" {
		t.Errorf("unexpected history row: %+v", msg)
	}

	var meta map[string]interface{}
	if err := json.Unmarshal(msg.Metadata, &meta); err != nil {
		t.Fatalf("invalid metadata JSON: %v", err)
	}
	if meta["use_internet"] != false {
		t.Errorf("expected use_internet=false, got %v", meta["use_internet"])
	}
	if meta["num_sources"] != float64(1) {
		t.Errorf("expected num_sources=1, got %v", meta["num_sources"])
	}
}

func TestChatWithInternetSearch(t *testing.T) {
	f := newServiceFixture(t)
	f.seedDocument("user-1", "notes.txt", "content", 0.8)

	result, err := f.service.Chat(context.Background(), "user-1", "question", true)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if !result.UsedInternet {
		t.Error("expected internet results to be used")
	}
	prompt := f.provider.requests[0].Messages[0].GetText()
	if !strings.Contains(prompt, "Internet Search Results:") || !strings.Contains(prompt, "search snippet") {
		t.Errorf("prompt missing search results: %q", prompt)
	}
}

func TestChatSearchFailureFallsBackToDocuments(t *testing.T) {
	f := newServiceFixture(t)
	f.seedDocument("user-1", "notes.txt", "content", 0.8)
	f.searcher.err = errors.New("search provider down")

	result, err := f.service.Chat(context.Background(), "user-1", "question", true)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if result.UsedInternet {
		t.Error("failed search must not be reported as used")
	}
	if result.Answer != "the answer" {
		t.Errorf("expected documents-only answer, got %q", result.Answer)
	}
}

func TestChatPropagatesRetrievalErrors(t *testing.T) {
	f := newServiceFixture(t)

	if _, err := f.service.Chat(context.Background(), "user-1", "question", false); !errors.Is(err, ErrNoDocuments) {
		t.Errorf("expected ErrNoDocuments, got %v", err)
	}

	f.seedDocument("user-1", "notes.txt", "content", 0.8)
	f.vectors.searchResults = map[string][]storage.RetrievedChunk{}

	if _, err := f.service.Chat(context.Background(), "user-1", "question", false); !errors.Is(err, ErrNoRelevantContent) {
		t.Errorf("expected ErrNoRelevantContent, got %v", err)
	}
}

func TestChatHistoryFailureDoesNotFailChat(t *testing.T) {
	f := newServiceFixture(t)
	f.seedDocument("user-1", "notes.txt", "content", 0.8)
	f.history.err = errors.New("db down")

	if _, err := f.service.Chat(context.Background(), "user-1", "question", false); err != nil {
		t.Fatalf("Chat should survive history failure: %v", err)
	}
}

func TestDeleteDocument(t *testing.T) {
	f := newServiceFixture(t)
	doc := f.seedDocument("user-1", "notes.txt", "content", 0.8)

	if err := f.service.DeleteDocument(context.Background(), "user-1", doc.ID); err != nil {
		t.Fatalf("DeleteDocument failed: %v", err)
	}

	if len(f.docs.deleted) != 1 || f.docs.deleted[0] != doc.ID {
		t.Error("document row not deleted")
	}
	if len(f.vectors.deletedCollections) != 1 {
		t.Error("chunk collection not deleted")
	}
	if len(f.notifier.removed) != 1 {
		t.Error("deleted event not published")
	}
}

func TestDeleteDocumentNotFound(t *testing.T) {
	f := newServiceFixture(t)
	doc := f.seedDocument("user-2", "other.txt", "content", 0.8)

	// Wrong owner and unknown id both map to not found.
	if err := f.service.DeleteDocument(context.Background(), "user-1", doc.ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound for foreign document, got %v", err)
	}
	if err := f.service.DeleteDocument(context.Background(), "user-1", uuid.New()); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound for unknown id, got %v", err)
	}
}

func TestDeleteDocumentBestEffortCleanup(t *testing.T) {
	f := newServiceFixture(t)
	doc := f.seedDocument("user-1", "notes.txt", "content", 0.8)
	f.objects.deleteErr = errors.New("bucket unreachable")
	f.vectors.deleteErr = errors.New("index unreachable")

	if err := f.service.DeleteDocument(context.Background(), "user-1", doc.ID); err != nil {
		t.Fatalf("row delete must succeed despite cleanup failures: %v", err)
	}
	if len(f.docs.deleted) != 1 {
		t.Error("document row not deleted")
	}
}
