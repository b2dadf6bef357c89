// Package tools provides the tool registry and built-in tools for tool chat.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aegislabs/aegis/pkg/logger"
)

// Tool defines the interface all tools implement.
type Tool interface {
	// Name returns the unique identifier for the tool.
	Name() string

	// Description tells the LLM what the tool does and when to use it.
	Description() string

	// InputSchema returns the JSON schema for the tool's input parameters.
	InputSchema() map[string]interface{}

	// Execute runs the tool with the given input and returns the result.
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// Definition is a tool definition in provider wire format.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Execution records one tool run for metrics.
type Execution struct {
	ToolName   string        `json:"tool_name"`
	Duration   time.Duration `json:"duration_ms"`
	Error      string        `json:"error,omitempty"`
	ExecutedAt time.Time     `json:"executed_at"`
	Success    bool          `json:"success"`
}

// Registry manages and executes tools.
type Registry struct {
	tools      map[string]Tool
	log        *logger.Logger
	executions []Execution
	mu         sync.RWMutex
	execMu     sync.Mutex
}

// NewRegistry creates a new tool registry.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Default()
	}
	return &Registry{
		tools: make(map[string]Tool),
		log:   log.WithComponent("tool_registry"),
	}
}

// Register adds a tool. Duplicate names are an error.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}

	r.tools[name] = tool
	r.log.Info("tool registered", "name", name)
	return nil
}

// MustRegister registers a tool and panics on error. For startup wiring.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tool names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns all tool definitions for the LLM request.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, Definition{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.InputSchema(),
		})
	}
	return defs
}

// Execute runs a tool by name with the given input.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (string, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		err := fmt.Errorf("unknown tool: %s", name)
		r.log.Error("tool execution failed", "name", name, "error", err)
		return "", err
	}

	start := time.Now()
	result, err := tool.Execute(ctx, input)
	duration := time.Since(start)

	exec := Execution{
		ToolName:   name,
		Duration:   duration,
		ExecutedAt: start,
		Success:    err == nil,
	}
	if err != nil {
		exec.Error = err.Error()
	}
	r.trackExecution(exec)

	if err != nil {
		r.log.Error("tool execution failed",
			"name", name,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return "", fmt.Errorf("tool %s execution failed: %w", name, err)
	}

	r.log.Info("tool execution completed",
		"name", name,
		"duration_ms", duration.Milliseconds(),
		"output_size", len(result),
	)

	return result, nil
}

// trackExecution appends to the bounded execution log.
func (r *Registry) trackExecution(exec Execution) {
	r.execMu.Lock()
	defer r.execMu.Unlock()

	if len(r.executions) >= 1000 {
		r.executions = r.executions[1:]
	}
	r.executions = append(r.executions, exec)
}

// RecentExecutions returns the most recent executions, newest first.
func (r *Registry) RecentExecutions(limit int) []Execution {
	r.execMu.Lock()
	defer r.execMu.Unlock()

	if limit <= 0 || limit > len(r.executions) {
		limit = len(r.executions)
	}

	result := make([]Execution, limit)
	for i := 0; i < limit; i++ {
		result[i] = r.executions[len(r.executions)-1-i]
	}
	return result
}
