package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// CalculatorTool evaluates arithmetic expressions. The expression is parsed
// with a shunting-yard evaluator; no code is executed.
type CalculatorTool struct{}

// NewCalculatorTool creates a calculator tool.
func NewCalculatorTool() *CalculatorTool {
	return &CalculatorTool{}
}

// Name returns the tool name.
func (t *CalculatorTool) Name() string {
	return "calculator"
}

// Description returns the tool description.
func (t *CalculatorTool) Description() string {
	return "Evaluate an arithmetic expression. Supports +, -, *, /, parentheses and decimal numbers. Use this for any calculation instead of doing arithmetic yourself."
}

// InputSchema returns the JSON schema for the tool input.
func (t *CalculatorTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"expression": map[string]interface{}{
				"type":        "string",
				"description": "The arithmetic expression to evaluate, e.g. \"(2 + 3) * 4.5\"",
			},
		},
		"required": []string{"expression"},
	}
}

type calculatorInput struct {
	Expression string `json:"expression"`
}

// Execute evaluates the expression.
func (t *CalculatorTool) Execute(_ context.Context, input json.RawMessage) (string, error) {
	var params calculatorInput
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("failed to parse input: %w", err)
	}

	result, err := Evaluate(params.Expression)
	if err != nil {
		return "", err
	}

	return strconv.FormatFloat(result, 'f', -1, 64), nil
}

// Evaluate parses and evaluates an arithmetic expression.
func Evaluate(expression string) (float64, error) {
	tokens, err := tokenize(expression)
	if err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0, fmt.Errorf("empty expression")
	}

	rpn, err := toRPN(tokens)
	if err != nil {
		return 0, err
	}

	return evalRPN(rpn)
}

type tokenKind int

const (
	tokenNumber tokenKind = iota
	tokenOperator
	tokenLeftParen
	tokenRightParen
)

type token struct {
	kind  tokenKind
	value float64
	op    byte
}

var precedence = map[byte]int{'+': 1, '-': 1, '*': 2, '/': 2}

// tokenize splits the expression, rejecting any character outside the
// arithmetic whitelist. A leading minus (of the expression or after an
// operator or open paren) parses as negation.
func tokenize(expression string) ([]token, error) {
	var tokens []token
	s := expression

	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(s) && (s[j] >= '0' && s[j] <= '9' || s[j] == '.') {
				j++
			}
			val, err := strconv.ParseFloat(s[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", s[i:j])
			}
			tokens = append(tokens, token{kind: tokenNumber, value: val})
			i = j
		case c == '(':
			tokens = append(tokens, token{kind: tokenLeftParen})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokenRightParen})
			i++
		case c == '+' || c == '-' || c == '*' || c == '/':
			if c == '-' && isUnaryPosition(tokens) {
				// Fold negation into the following number.
				j := i + 1
				for j < len(s) && (s[j] == ' ' || s[j] == '\t') {
					j++
				}
				k := j
				for k < len(s) && (s[k] >= '0' && s[k] <= '9' || s[k] == '.') {
					k++
				}
				if k == j {
					return nil, fmt.Errorf("unexpected '-' at position %d", i)
				}
				val, err := strconv.ParseFloat(s[j:k], 64)
				if err != nil {
					return nil, fmt.Errorf("invalid number %q", s[j:k])
				}
				tokens = append(tokens, token{kind: tokenNumber, value: -val})
				i = k
			} else {
				tokens = append(tokens, token{kind: tokenOperator, op: c})
				i++
			}
		default:
			return nil, fmt.Errorf("unsupported character %q in expression", string(c))
		}
	}

	return tokens, nil
}

func isUnaryPosition(tokens []token) bool {
	if len(tokens) == 0 {
		return true
	}
	last := tokens[len(tokens)-1]
	return last.kind == tokenOperator || last.kind == tokenLeftParen
}

// toRPN converts infix tokens to reverse Polish notation.
func toRPN(tokens []token) ([]token, error) {
	var output []token
	var stack []token

	for _, tok := range tokens {
		switch tok.kind {
		case tokenNumber:
			output = append(output, tok)
		case tokenOperator:
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				if top.kind != tokenOperator || precedence[top.op] < precedence[tok.op] {
					break
				}
				output = append(output, top)
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, tok)
		case tokenLeftParen:
			stack = append(stack, tok)
		case tokenRightParen:
			matched := false
			for len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if top.kind == tokenLeftParen {
					matched = true
					break
				}
				output = append(output, top)
			}
			if !matched {
				return nil, fmt.Errorf("mismatched parentheses")
			}
		}
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.kind == tokenLeftParen {
			return nil, fmt.Errorf("mismatched parentheses")
		}
		output = append(output, top)
	}

	return output, nil
}

// evalRPN evaluates a token stream in reverse Polish notation.
func evalRPN(tokens []token) (float64, error) {
	var stack []float64

	for _, tok := range tokens {
		switch tok.kind {
		case tokenNumber:
			stack = append(stack, tok.value)
		case tokenOperator:
			if len(stack) < 2 {
				return 0, fmt.Errorf("malformed expression")
			}
			b := stack[len(stack)-1]
			a := stack[len(stack)-2]
			stack = stack[:len(stack)-2]

			var result float64
			switch tok.op {
			case '+':
				result = a + b
			case '-':
				result = a - b
			case '*':
				result = a * b
			case '/':
				if b == 0 {
					return 0, fmt.Errorf("division by zero")
				}
				result = a / b
			}
			stack = append(stack, result)
		}
	}

	if len(stack) != 1 {
		return 0, fmt.Errorf("malformed expression")
	}
	if math.IsInf(stack[0], 0) || math.IsNaN(stack[0]) {
		return 0, fmt.Errorf("result is not a finite number")
	}
	return stack[0], nil
}
