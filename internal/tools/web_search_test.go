package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestWebSearchParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "go language" {
			t.Errorf("unexpected query param %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"AbstractText": "Go is a statically typed language.",
			"RelatedTopics": []map[string]string{
				{"Text": "Go was designed at Google."},
			},
		})
	}))
	defer server.Close()

	tool := NewWebSearchTool(5*time.Second, 1000)
	tool.endpoint = server.URL + "/"

	result, err := tool.Search(context.Background(), "go language")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if !strings.Contains(result, "statically typed") {
		t.Errorf("abstract missing from result: %q", result)
	}
	if !strings.Contains(result, "designed at Google") {
		t.Errorf("related topic missing from result: %q", result)
	}
}

func TestWebSearchCapsResultLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"AbstractText": strings.Repeat("a", 5000),
		})
	}))
	defer server.Close()

	tool := NewWebSearchTool(5*time.Second, 100)
	tool.endpoint = server.URL + "/"

	result, err := tool.Search(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if utf8.RuneCountInString(result) != 100 {
		t.Errorf("expected 100 runes, got %d", utf8.RuneCountInString(result))
	}
}

func TestWebSearchEmptyResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	tool := NewWebSearchTool(5*time.Second, 1000)
	tool.endpoint = server.URL + "/"

	result, err := tool.Search(context.Background(), "obscure query")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if result != "No results found." {
		t.Errorf("unexpected result %q", result)
	}
}

func TestWebSearchExecuteValidation(t *testing.T) {
	tool := NewWebSearchTool(time.Second, 1000)

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"query": "  "}`)); err == nil {
		t.Error("expected error for blank query")
	}
	if _, err := tool.Execute(context.Background(), json.RawMessage(`garbage`)); err == nil {
		t.Error("expected error for malformed input")
	}
}

func TestHTTPGetFetchesPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		fmt.Fprint(w, "page body")
	}))
	defer server.Close()

	tool := NewHTTPGetTool(5*time.Second, 1000)
	input, _ := json.Marshal(map[string]string{"url": server.URL})

	result, err := tool.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(result, "HTTP 200") || !strings.Contains(result, "page body") {
		t.Errorf("unexpected result %q", result)
	}
}

func TestHTTPGetRejectsBadSchemes(t *testing.T) {
	tool := NewHTTPGetTool(time.Second, 1000)

	for _, target := range []string{"file:///etc/passwd", "ftp://host/file", "javascript:alert(1)"} {
		input, _ := json.Marshal(map[string]string{"url": target})
		if _, err := tool.Execute(context.Background(), input); err == nil {
			t.Errorf("expected scheme rejection for %q", target)
		}
	}
}

func TestHTTPGetTruncatesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 10000))
	}))
	defer server.Close()

	tool := NewHTTPGetTool(5*time.Second, 50)
	input, _ := json.Marshal(map[string]string{"url": server.URL})

	result, err := tool.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	// "HTTP 200\n\n" prefix plus 50 capped runes.
	if len(result) > 70 {
		t.Errorf("body not truncated, length %d", len(result))
	}
}
