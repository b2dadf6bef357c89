package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPGetTool fetches a URL with a GET request. Only http and https schemes
// are allowed and the body is truncated before returning to the model.
type HTTPGetTool struct {
	client   *http.Client
	maxChars int
}

// NewHTTPGetTool creates an HTTP fetch tool.
func NewHTTPGetTool(timeout time.Duration, maxChars int) *HTTPGetTool {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxChars <= 0 {
		maxChars = 1000
	}
	return &HTTPGetTool{
		client:   &http.Client{Timeout: timeout},
		maxChars: maxChars,
	}
}

// Name returns the tool name.
func (t *HTTPGetTool) Name() string {
	return "http_get"
}

// Description returns the tool description.
func (t *HTTPGetTool) Description() string {
	return "Fetch the contents of a URL with an HTTP GET request. Use this to read a specific web page the user has referenced. Only http and https URLs are supported."
}

// InputSchema returns the JSON schema for the tool input.
func (t *HTTPGetTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "The URL to fetch",
			},
		},
		"required": []string{"url"},
	}
}

type httpGetInput struct {
	URL string `json:"url"`
}

// Execute fetches the URL.
func (t *HTTPGetTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var params httpGetInput
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("failed to parse input: %w", err)
	}

	target, err := url.Parse(strings.TrimSpace(params.URL))
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q: only http and https are allowed", target.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Read a bit past the cap so truncation is detectable, never the
	// whole body.
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxChars)*4))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	content := truncateChars(string(body), t.maxChars)
	return fmt.Sprintf("HTTP %d\n\n%s", resp.StatusCode, content), nil
}
