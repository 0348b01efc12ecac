package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Kind tags the dynamic type held by a Value.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// Value is a schema-less row value. The zero Value is absent.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

// Absent is returned for any lookup that does not resolve.
var Absent = Value{}

func Null() Value                { return Value{kind: KindNull} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Number(n float64) Value     { return Value{kind: KindNumber, n: n} }
func String(s string) Value      { return Value{kind: KindString, s: s} }
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }

// Object wraps a field map.
func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindObject, obj: fields}
}

func (v Value) Kind() Kind { return v.kind }

// IsNullish reports absent or null.
func (v Value) IsNullish() bool { return v.kind == KindAbsent || v.kind == KindNull }

// FromAny converts decoded JSON or YAML data into a Value.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int8:
		return Number(float64(t))
	case int16:
		return Number(float64(t))
	case int32:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case uint:
		return Number(float64(t))
	case uint8:
		return Number(float64(t))
	case uint16:
		return Number(float64(t))
	case uint32:
		return Number(float64(t))
	case uint64:
		return Number(float64(t))
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return Number(f)
		}
		return String(t.String())
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return Array(items...)
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			fields[k] = FromAny(item)
		}
		return Object(fields)
	case map[any]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			fields[fmt.Sprint(k)] = FromAny(item)
		}
		return Object(fields)
	}
	return fromReflect(reflect.ValueOf(x))
}

// fromReflect handles named map and slice types such as domain.NormalizedRow.
func fromReflect(rv reflect.Value) Value {
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		fields := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			fields[iter.Key().String()] = FromAny(iter.Value().Interface())
		}
		return Object(fields)
	case reflect.Slice, reflect.Array:
		items := make([]Value, rv.Len())
		for i := range items {
			items[i] = FromAny(rv.Index(i).Interface())
		}
		return Array(items...)
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null()
		}
		return FromAny(rv.Elem().Interface())
	}

	// Anything else goes through its JSON form.
	data, err := json.Marshal(rv.Interface())
	if err != nil {
		return Absent
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return Absent
	}
	return FromAny(decoded)
}

// Any converts the Value back to plain Go data. Absent becomes nil.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Any()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			out[k] = item.Any()
		}
		return out
	default:
		return nil
	}
}

// Get looks up a single object key or array index.
func (v Value) Get(segment string) Value {
	switch v.kind {
	case KindObject:
		if field, ok := v.obj[segment]; ok {
			return field
		}
	case KindArray:
		if i, err := strconv.Atoi(segment); err == nil && i >= 0 && i < len(v.arr) {
			return v.arr[i]
		}
	}
	return Absent
}

// Path resolves a dotted path such as "resource_limits.cpu". Any missing
// segment yields Absent. The empty path returns v itself.
func (v Value) Path(path string) Value {
	if path == "" {
		return v
	}
	cur := v
	for _, segment := range strings.Split(path, ".") {
		cur = cur.Get(segment)
		if cur.kind == KindAbsent {
			return Absent
		}
	}
	return cur
}

// Truthy follows JSON-logic truthiness: empty arrays are falsy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n != 0 && !math.IsNaN(v.n)
	case KindString:
		return v.s != ""
	case KindArray:
		return len(v.arr) > 0
	case KindObject:
		return true
	default:
		return false
	}
}

// Number coerces to a number. Absent, null and the empty string are 0;
// unparsable strings and objects are NaN.
func (v Value) Number() float64 {
	switch v.kind {
	case KindAbsent, KindNull:
		return 0
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	case KindNumber:
		return v.n
	case KindString:
		return parseNumber(v.s)
	case KindArray:
		return parseNumber(v.String())
	default:
		return math.NaN()
	}
}

func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// String renders the value the way a JSON-logic string coercion would.
func (v Value) String() string {
	switch v.kind {
	case KindAbsent, KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return formatNumber(v.n)
	case KindString:
		return v.s
	case KindArray:
		parts := make([]string, len(v.arr))
		for i, item := range v.arr {
			parts[i] = item.String()
		}
		return strings.Join(parts, ",")
	default:
		return "[object Object]"
	}
}

func formatNumber(n float64) string {
	switch {
	case math.IsNaN(n):
		return "NaN"
	case math.IsInf(n, 1):
		return "Infinity"
	case math.IsInf(n, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// primitive collapses arrays and objects to their string form.
func (v Value) primitive() Value {
	if v.kind == KindArray || v.kind == KindObject {
		return String(v.String())
	}
	return v
}

// MarshalJSON renders the value as JSON. Absent renders as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindNumber && (math.IsNaN(v.n) || math.IsInf(v.n, 0)) {
		return []byte("null"), nil
	}
	return json.Marshal(v.Any())
}

// Keys returns an object's field names in sorted order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Items returns an array's elements.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.arr
}

// looseEqual implements JSON-logic "==".
func looseEqual(a, b Value) bool {
	if a.kind == KindAbsent {
		a = Null()
	}
	if b.kind == KindAbsent {
		b = Null()
	}
	if a.kind == b.kind {
		return sameKindEqual(a, b)
	}
	if a.kind == KindNull || b.kind == KindNull {
		return false
	}
	if a.kind == KindBool {
		return looseEqual(Number(a.Number()), b)
	}
	if b.kind == KindBool {
		return looseEqual(a, Number(b.Number()))
	}
	if a.kind == KindNumber && b.kind == KindString {
		return a.n == b.Number()
	}
	if a.kind == KindString && b.kind == KindNumber {
		return a.Number() == b.n
	}
	if a.kind == KindArray || a.kind == KindObject {
		return looseEqual(a.primitive(), b)
	}
	if b.kind == KindArray || b.kind == KindObject {
		return looseEqual(a, b.primitive())
	}
	return false
}

// strictEqual implements JSON-logic "===". Absent and null are the same
// because a missing variable resolves to null.
func strictEqual(a, b Value) bool {
	if a.IsNullish() && b.IsNullish() {
		return true
	}
	if a.kind != b.kind {
		return false
	}
	return sameKindEqual(a, b)
}

func sameKindEqual(a, b Value) bool {
	switch a.kind {
	case KindAbsent, KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n
	case KindString:
		return a.s == b.s
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !strictEqual(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.obj) != len(b.obj) {
			return false
		}
		for k, av := range a.obj {
			bv, ok := b.obj[k]
			if !ok || !strictEqual(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// less implements JSON-logic "<": string comparison when both sides are
// strings, numeric comparison otherwise. NaN never compares.
func less(a, b Value) bool {
	pa, pb := a.primitive(), b.primitive()
	if pa.kind == KindString && pb.kind == KindString {
		return pa.s < pb.s
	}
	na, nb := pa.Number(), pb.Number()
	if math.IsNaN(na) || math.IsNaN(nb) {
		return false
	}
	return na < nb
}

func lessOrEqual(a, b Value) bool {
	pa, pb := a.primitive(), b.primitive()
	if pa.kind == KindString && pb.kind == KindString {
		return pa.s <= pb.s
	}
	na, nb := pa.Number(), pb.Number()
	if math.IsNaN(na) || math.IsNaN(nb) {
		return false
	}
	return na <= nb
}
