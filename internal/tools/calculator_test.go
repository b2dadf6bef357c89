package tools

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		want float64
	}{
		{"2 + 3", 5},
		{"2 + 3 * 4", 14},
		{"(2 + 3) * 4", 20},
		{"10 / 4", 2.5},
		{"-5 + 3", -2},
		{"2 * -3", -6},
		{"(1 + 2) * (3 + 4)", 21},
		{"100 - 50 - 25", 25},
		{"3.5 * 2", 7},
		{"42", 42},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(tt.expr)
			if err != nil {
				t.Fatalf("Evaluate(%q) failed: %v", tt.expr, err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"division by zero", "1 / 0"},
		{"letters rejected", "2 + x"},
		{"code rejected", "__import__('os')"},
		{"mismatched open paren", "(2 + 3"},
		{"mismatched close paren", "2 + 3)"},
		{"dangling operator", "2 +"},
		{"double operator", "2 * / 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Evaluate(tt.expr); err == nil {
				t.Errorf("Evaluate(%q) should fail", tt.expr)
			}
		})
	}
}

func TestCalculatorToolExecute(t *testing.T) {
	tool := NewCalculatorTool()

	input, _ := json.Marshal(map[string]string{"expression": "(2 + 3) * 4"})
	result, err := tool.Execute(context.Background(), input)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result != "20" {
		t.Errorf("expected \"20\", got %q", result)
	}

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"expression": "1/0"}`)); err == nil {
		t.Error("expected error for division by zero")
	}
	if _, err := tool.Execute(context.Background(), json.RawMessage(`not json`)); err == nil {
		t.Error("expected error for malformed input")
	}
}

func TestCalculatorToolSchema(t *testing.T) {
	tool := NewCalculatorTool()
	if tool.Name() != "calculator" {
		t.Errorf("unexpected name %q", tool.Name())
	}
	schema := tool.InputSchema()
	required, ok := schema["required"].([]string)
	if !ok || len(required) != 1 || required[0] != "expression" {
		t.Errorf("unexpected required fields: %v", schema["required"])
	}
	if !strings.Contains(tool.Description(), "arithmetic") {
		t.Error("description should mention arithmetic")
	}
}
