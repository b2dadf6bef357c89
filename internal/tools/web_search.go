package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const duckDuckGoAPI = "https://api.duckduckgo.com/"

// WebSearchTool queries the DuckDuckGo instant answer API.
type WebSearchTool struct {
	client   *http.Client
	maxChars int
	endpoint string
}

// NewWebSearchTool creates a web search tool. maxChars caps the result text.
func NewWebSearchTool(timeout time.Duration, maxChars int) *WebSearchTool {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxChars <= 0 {
		maxChars = 1000
	}
	return &WebSearchTool{
		client:   &http.Client{Timeout: timeout},
		maxChars: maxChars,
		endpoint: duckDuckGoAPI,
	}
}

// Name returns the tool name.
func (t *WebSearchTool) Name() string {
	return "web_search"
}

// Description returns the tool description.
func (t *WebSearchTool) Description() string {
	return "Search the web for current information. Use this when the user asks about recent events, facts you are unsure about, or anything requiring up-to-date knowledge."
}

// InputSchema returns the JSON schema for the tool input.
func (t *WebSearchTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The search query",
			},
		},
		"required": []string{"query"},
	}
}

type webSearchInput struct {
	Query string `json:"query"`
}

// Execute runs the search.
func (t *WebSearchTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params webSearchInput
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("failed to parse input: %w", err)
	}
	if strings.TrimSpace(params.Query) == "" {
		return "", fmt.Errorf("query is required")
	}
	return t.Search(ctx, params.Query)
}

// duckDuckGoResponse maps the fields of the instant answer API we use.
type duckDuckGoResponse struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Answer        string `json:"Answer"`
	Definition    string `json:"Definition"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// Search queries DuckDuckGo and returns a capped plain-text summary. Also
// used directly by document chat's internet augmentation.
func (t *WebSearchTool) Search(ctx context.Context, query string) (string, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build search request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	var result duckDuckGoResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode search response: %w", err)
	}

	var parts []string
	if result.Answer != "" {
		parts = append(parts, result.Answer)
	}
	if result.AbstractText != "" {
		parts = append(parts, result.AbstractText)
	}
	if result.Definition != "" {
		parts = append(parts, result.Definition)
	}
	for _, topic := range result.RelatedTopics {
		if topic.Text != "" {
			parts = append(parts, topic.Text)
		}
		if len(parts) >= 5 {
			break
		}
	}

	if len(parts) == 0 {
		return "No results found.", nil
	}

	return truncateChars(strings.Join(parts, "\n"), t.maxChars), nil
}

// truncateChars caps s at limit runes.
func truncateChars(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
