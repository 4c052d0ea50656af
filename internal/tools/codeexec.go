package tools

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/gradr-ai/gradr/internal/pipeline"
)

// Arithmetic evaluation errors.
var (
	// ErrEmptyExpression indicates an empty arithmetic expression.
	ErrEmptyExpression = errors.New("empty expression")

	// ErrDivisionByZero indicates division by zero.
	ErrDivisionByZero = errors.New("division by zero")

	errMissingExprArg = errors.New(`capability input requires an "expression" string`)
)

// Evaluate computes an arithmetic expression: numbers, + - * /, unary
// minus, and parentheses. The grading stage uses it to verify that rubric
// point allocations sum to the awarded score without trusting the model's
// arithmetic.
func Evaluate(expression string) (float64, error) {
	p := &exprParser{input: strings.TrimSpace(expression)}
	if p.input == "" {
		return 0, ErrEmptyExpression
	}
	result, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
	}
	return result, nil
}

// exprParser is a recursive-descent parser over the usual grammar:
// expr = term (('+'|'-') term)*, term = factor (('*'|'/') factor)*,
// factor = number | '-' factor | '(' expr ')'.
type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		switch {
		case p.peek() == '+':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case p.peek() == '-':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		switch {
		case p.peek() == '*':
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			left *= right
		case p.peek() == '/':
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, ErrDivisionByZero
			}
			left /= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseFactor() (float64, error) {
	p.skipSpace()

	switch {
	case p.peek() == '-':
		p.pos++
		v, err := p.parseFactor()
		return -v, err

	case p.peek() == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis at position %d", p.pos)
		}
		p.pos++
		return v, nil

	default:
		return p.parseNumber()
	}
}

func (p *exprParser) parseNumber() (float64, error) {
	start := p.pos
	for p.pos < len(p.input) && (unicode.IsDigit(rune(p.input[p.pos])) || p.input[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at position %d", start)
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", p.input[start:p.pos], err)
	}
	return v, nil
}

// peek returns the current byte or 0 at end of input.
func (p *exprParser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

// NameCalculate is the calculator capability name.
const NameCalculate = "calculate"

// CalculatorCapability exposes Evaluate as a capability.
// Input: {"expression": string}. Output: {"result": float64}.
func CalculatorCapability() pipeline.Capability {
	return NewFunc(NameCalculate, func(_ context.Context, input map[string]any) (map[string]any, error) {
		expr, ok := stringArg(input, "expression")
		if !ok {
			return nil, errMissingExprArg
		}
		result, err := Evaluate(expr)
		if err != nil {
			return nil, err
		}
		return map[string]any{"result": result}, nil
	})
}
