package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownOperator = errors.New("unknown operator")
	ErrArity           = errors.New("wrong number of arguments")
)

// node is a compiled expression tree element.
type node interface {
	eval(data Value) Value
}

type literal struct{ v Value }

func (l literal) eval(Value) Value { return l.v }

// list is an array whose elements are themselves expressions.
type list struct{ items []node }

func (l list) eval(data Value) Value {
	out := make([]Value, len(l.items))
	for i, item := range l.items {
		out[i] = item.eval(data)
	}
	return Array(out...)
}

type call struct {
	op   string
	args []node
	fn   opFunc
}

func (c call) eval(data Value) Value { return c.fn(c.args, data) }

// Expression is a compiled JSON-logic rule. It keeps its source document so it
// round-trips through JSON and YAML unchanged.
type Expression struct {
	root   node
	source any
}

// ParseExpression compiles a decoded JSON-logic document. Unknown operators
// and bad arities are reported here, never at evaluation time.
func ParseExpression(source any) (Expression, error) {
	root, err := compile(source)
	if err != nil {
		return Expression{}, err
	}
	return Expression{root: root, source: source}, nil
}

// MustParse is ParseExpression for literals in code and tests.
func MustParse(doc string) Expression {
	var source any
	if err := json.Unmarshal([]byte(doc), &source); err != nil {
		panic(fmt.Sprintf("rules: invalid expression JSON %q: %v", doc, err))
	}
	expr, err := ParseExpression(source)
	if err != nil {
		panic(fmt.Sprintf("rules: invalid expression %q: %v", doc, err))
	}
	return expr
}

// Source returns the document the expression was compiled from.
func (e Expression) Source() any { return e.source }

// IsZero reports whether the expression was never compiled.
func (e Expression) IsZero() bool { return e.root == nil }

// Evaluate runs the expression against data. It never panics; an uncompiled
// expression evaluates to null.
func (e Expression) Evaluate(data Value) Value {
	if e.root == nil {
		return Null()
	}
	return e.root.eval(data)
}

// Truthy evaluates the expression and applies JSON-logic truthiness.
func (e Expression) Truthy(data Value) bool {
	return e.Evaluate(data).Truthy()
}

func (e Expression) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.source)
}

func (e *Expression) UnmarshalJSON(b []byte) error {
	var source any
	if err := json.Unmarshal(b, &source); err != nil {
		return err
	}
	parsed, err := ParseExpression(source)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

func (e Expression) MarshalYAML() (any, error) {
	return e.source, nil
}

func (e *Expression) UnmarshalYAML(value *yaml.Node) error {
	var source any
	if err := value.Decode(&source); err != nil {
		return err
	}
	parsed, err := ParseExpression(source)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

func compile(source any) (node, error) {
	switch t := source.(type) {
	case []any:
		items, err := compileAll(t)
		if err != nil {
			return nil, err
		}
		return list{items: items}, nil
	case map[string]any:
		if len(t) != 1 {
			return literal{v: FromAny(t)}, nil
		}
		for op, rawArgs := range t {
			return compileCall(op, rawArgs)
		}
	case map[any]any:
		converted := make(map[string]any, len(t))
		for k, v := range t {
			converted[fmt.Sprint(k)] = v
		}
		return compile(converted)
	}
	return literal{v: FromAny(source)}, nil
}

func compileAll(sources []any) ([]node, error) {
	nodes := make([]node, len(sources))
	for i, s := range sources {
		n, err := compile(s)
		if err != nil {
			return nil, err
		}
		nodes[i] = n
	}
	return nodes, nil
}

func compileCall(op string, rawArgs any) (node, error) {
	def, ok := operators[op]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownOperator, op)
	}

	var argSources []any
	switch t := rawArgs.(type) {
	case []any:
		argSources = t
	default:
		argSources = []any{t}
	}

	if len(argSources) < def.minArgs || (def.maxArgs >= 0 && len(argSources) > def.maxArgs) {
		return nil, fmt.Errorf("%w for %q: got %d", ErrArity, op, len(argSources))
	}

	args, err := compileAll(argSources)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return call{op: op, args: args, fn: def.fn}, nil
}

// Operators lists the supported operator names.
func Operators() []string {
	names := make([]string, 0, len(operators))
	for name := range operators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
