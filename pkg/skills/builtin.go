package skills

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RegisterBuiltins installs the skills the process ships with.
func RegisterBuiltins(r *Registry) error {
	if err := r.Register(calculatorManifest, map[string]Handler{
		"calculate": calculateHandler,
	}); err != nil {
		return err
	}

	return r.Register(clockManifest, map[string]Handler{
		"current_time": currentTimeHandler,
	})
}

// builtinHandlers is the table of known function implementations available
// to imported manifests.
var builtinHandlers = map[string]Handler{
	"calculate":    calculateHandler,
	"current_time": currentTimeHandler,
}

// BuiltinResolver resolves imported manifest functions against the builtin
// handler table. Functions without a known implementation stay unresolved and
// are dropped at registration.
func BuiltinResolver(manifest Manifest) map[string]Handler {
	handlers := make(map[string]Handler)
	for _, fn := range manifest.Functions {
		if h, ok := builtinHandlers[fn.Name]; ok {
			handlers[fn.Name] = h
		}
	}
	return handlers
}

var calculatorManifest = Manifest{
	Name:        "calculator",
	Version:     "1.0.0",
	Description: "Evaluate arithmetic expressions",
	Author:      "kawan",
	AuditLevel:  "none",
	Functions: []FunctionDef{
		{
			Name:        "calculate",
			Description: "Evaluate an arithmetic expression with + - * / and parentheses",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"expression": map[string]interface{}{
						"type":        "string",
						"description": "Expression to evaluate, e.g. (2+3)*4",
					},
				},
				"required": []interface{}{"expression"},
			},
		},
	},
}

var clockManifest = Manifest{
	Name:        "clock",
	Version:     "1.0.0",
	Description: "Current date and time",
	Author:      "kawan",
	AuditLevel:  "none",
	Functions: []FunctionDef{
		{
			Name:        "current_time",
			Description: "Return the current date and time in RFC3339 format",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
	},
}

func calculateHandler(_ context.Context, args map[string]interface{}) (interface{}, error) {
	expr, _ := args["expression"].(string)
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("missing 'expression' argument")
	}

	value, err := evalExpression(expr)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"expression": expr,
		"result":     value,
	}, nil
}

func currentTimeHandler(context.Context, map[string]interface{}) (interface{}, error) {
	now := time.Now()
	return map[string]interface{}{
		"rfc3339": now.Format(time.RFC3339),
		"unix":    now.Unix(),
	}, nil
}

// evalExpression evaluates + - * / with parentheses via recursive descent.
func evalExpression(expr string) (float64, error) {
	p := &exprParser{input: expr}
	value, err := p.parseSum()
	if err != nil {
		return 0, err
	}
	p.skipSpaces()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
	}
	return value, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpaces() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *exprParser) parseSum() (float64, error) {
	left, err := p.parseProduct()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpaces()
		op := p.peek()
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseProduct()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *exprParser) parseProduct() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpaces()
		op := p.peek()
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == '*' {
			left *= right
		} else {
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	p.skipSpaces()

	if p.peek() == '(' {
		p.pos++
		value, err := p.parseSum()
		if err != nil {
			return 0, err
		}
		p.skipSpaces()
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return value, nil
	}

	if p.peek() == '-' {
		p.pos++
		value, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		return -value, nil
	}

	start := p.pos
	for p.pos < len(p.input) && (p.input[p.pos] == '.' || (p.input[p.pos] >= '0' && p.input[p.pos] <= '9')) {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at position %d", start)
	}

	value, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", p.input[start:p.pos], err)
	}
	return value, nil
}
