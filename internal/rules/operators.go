package rules

import "strings"

type opFunc func(args []node, data Value) Value

type opSpec struct {
	minArgs int
	maxArgs int // -1 for variadic
	fn      opFunc
}

var operators = map[string]opSpec{
	"var":          {0, 2, opVar},
	"missing":      {0, -1, opMissing},
	"missing_some": {2, 2, opMissingSome},
	"==":           {2, 2, compareWith(looseEqual)},
	"!=":           {2, 2, negate(compareWith(looseEqual))},
	"===":          {2, 2, compareWith(strictEqual)},
	"!==":          {2, 2, negate(compareWith(strictEqual))},
	"<":            {2, 3, between(less)},
	"<=":           {2, 3, between(lessOrEqual)},
	">":            {2, 2, compareWith(func(a, b Value) bool { return less(b, a) })},
	">=":           {2, 2, compareWith(func(a, b Value) bool { return lessOrEqual(b, a) })},
	"in":           {2, 2, opIn},
	"and":          {1, -1, opAnd},
	"or":           {1, -1, opOr},
	"!":            {1, 1, opNot},
	"!!":           {1, 1, opTruthy},
	"if":           {0, -1, opIf},
	"?:":           {3, 3, opIf},
}

func arg(args []node, i int, data Value) Value {
	if i >= len(args) {
		return Absent
	}
	return args[i].eval(data)
}

func opVar(args []node, data Value) Value {
	if len(args) == 0 {
		return data
	}
	path := arg(args, 0, data)
	var resolved Value
	if path.Kind() == KindArray {
		// Array paths resolve to the whole row.
		resolved = data
	} else {
		resolved = data.Path(path.String())
	}
	if resolved.Kind() == KindAbsent && len(args) > 1 {
		return arg(args, 1, data)
	}
	if resolved.Kind() == KindAbsent {
		return Null()
	}
	return resolved
}

// isMissing treats absent, null and the empty string as missing.
func isMissing(v Value) bool {
	return v.IsNullish() || (v.Kind() == KindString && v.String() == "")
}

func missingKeys(keys []Value, data Value) []Value {
	var missing []Value
	for _, key := range keys {
		if isMissing(data.Path(key.String())) {
			missing = append(missing, key)
		}
	}
	return missing
}

func opMissing(args []node, data Value) Value {
	var keys []Value
	if len(args) > 0 {
		first := args[0].eval(data)
		if first.Kind() == KindArray {
			keys = first.Items()
		} else {
			keys = append(keys, first)
			for _, a := range args[1:] {
				keys = append(keys, a.eval(data))
			}
		}
	}
	return Array(missingKeys(keys, data)...)
}

func opMissingSome(args []node, data Value) Value {
	need := arg(args, 0, data).Number()
	keys := arg(args, 1, data).Items()
	missing := missingKeys(keys, data)
	if float64(len(keys)-len(missing)) >= need {
		return Array()
	}
	return Array(missing...)
}

func compareWith(cmp func(a, b Value) bool) opFunc {
	return func(args []node, data Value) Value {
		return Bool(cmp(arg(args, 0, data), arg(args, 1, data)))
	}
}

func negate(fn opFunc) opFunc {
	return func(args []node, data Value) Value {
		return Bool(!fn(args, data).Truthy())
	}
}

// between supports the three-argument form {"<": [a, b, c]} meaning a < b < c.
func between(cmp func(a, b Value) bool) opFunc {
	return func(args []node, data Value) Value {
		a, b := arg(args, 0, data), arg(args, 1, data)
		if len(args) == 3 {
			return Bool(cmp(a, b) && cmp(b, arg(args, 2, data)))
		}
		return Bool(cmp(a, b))
	}
}

func opIn(args []node, data Value) Value {
	needle, haystack := arg(args, 0, data), arg(args, 1, data)
	switch haystack.Kind() {
	case KindString:
		return Bool(strings.Contains(haystack.String(), needle.String()))
	case KindArray:
		for _, item := range haystack.Items() {
			if strictEqual(item, needle) {
				return Bool(true)
			}
		}
	}
	return Bool(false)
}

func opAnd(args []node, data Value) Value {
	var current Value
	for _, a := range args {
		current = a.eval(data)
		if !current.Truthy() {
			return current
		}
	}
	return current
}

func opOr(args []node, data Value) Value {
	var current Value
	for _, a := range args {
		current = a.eval(data)
		if current.Truthy() {
			return current
		}
	}
	return current
}

func opNot(args []node, data Value) Value {
	return Bool(!arg(args, 0, data).Truthy())
}

func opTruthy(args []node, data Value) Value {
	return Bool(arg(args, 0, data).Truthy())
}

// opIf evaluates condition/value pairs lazily; a trailing odd argument is the
// else branch.
func opIf(args []node, data Value) Value {
	i := 0
	for ; i+1 < len(args); i += 2 {
		if args[i].eval(data).Truthy() {
			return args[i+1].eval(data)
		}
	}
	if i < len(args) {
		return args[i].eval(data)
	}
	return Null()
}
