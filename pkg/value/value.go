// Package value implements the dynamically-typed value universe that
// expressions, transforms, and store records operate on.
package value

import (
	"fmt"
	"sort"
	"time"
)

// Kind tags the dynamic type of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindObject
	KindDate
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	case KindDate:
		return "date"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the runtime value universe a mission
// operates on. Only the field matching Kind is meaningful.
type Value struct {
	Kind   Kind
	Bool   bool
	Int    int64
	Float  float64
	Str    string
	List   []Value
	Object map[string]Value
	Date   time.Time
}

func Null() Value                { return Value{Kind: KindNull} }
func Bool(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value          { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value      { return Value{Kind: KindFloat, Float: f} }
func String(s string) Value      { return Value{Kind: KindString, Str: s} }
func List(items []Value) Value   { return Value{Kind: KindList, List: items} }
func Date(t time.Time) Value     { return Value{Kind: KindDate, Date: t} }
func Object(m map[string]Value) Value {
	if m == nil {
		m = make(map[string]Value)
	}
	return Value{Kind: KindObject, Object: m}
}

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Truthy implements the coercion used by guards and `if`/`and`/`or`.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNull:
		return false
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int != 0
	case KindFloat:
		return v.Float != 0
	case KindString:
		return v.Str != ""
	case KindList:
		return len(v.List) > 0
	case KindObject:
		return len(v.Object) > 0
	default:
		return true
	}
}

// Field looks up a field path (dot-separated) on an object value. Returns
// Null and ok=false when any segment is missing or the value isn't an
// object/list-index along the way.
func (v Value) Field(path string) (Value, bool) {
	segs := splitPath(path)
	cur := v
	for _, seg := range segs {
		if cur.Kind != KindObject {
			return Null(), false
		}
		next, ok := cur.Object[seg]
		if !ok {
			return Null(), false
		}
		cur = next
	}
	return cur, true
}

func splitPath(path string) []string {
	var out []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			out = append(out, path[start:i])
			start = i + 1
		}
	}
	out = append(out, path[start:])
	return out
}

// Equal implements non-coercing equality: values of different Kind are
// never equal (e.g. "5" == 5 is false).
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindInt:
		return a.Int == b.Int
	case KindFloat:
		return a.Float == b.Float
	case KindString:
		return a.Str == b.Str
	case KindDate:
		return a.Date.Equal(b.Date)
	case KindList:
		if len(a.List) != len(b.List) {
			return false
		}
		for i := range a.List {
			if !Equal(a.List[i], b.List[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.Object) != len(b.Object) {
			return false
		}
		for k, av := range a.Object {
			bv, ok := b.Object[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Add implements arithmetic coercion: int+float -> float, string+string ->
// concatenation, string+number is an error unless the caller is doing
// explicit interpolation (handled at a higher layer).
func Add(a, b Value) (Value, error) {
	switch {
	case a.Kind == KindInt && b.Kind == KindInt:
		return Int(a.Int + b.Int), nil
	case isNumeric(a) && isNumeric(b):
		return Float(asFloat(a) + asFloat(b)), nil
	case a.Kind == KindString && b.Kind == KindString:
		return String(a.Str + b.Str), nil
	default:
		return Null(), fmt.Errorf("cannot add %s and %s", a.Kind, b.Kind)
	}
}

func isNumeric(v Value) bool { return v.Kind == KindInt || v.Kind == KindFloat }

func asFloat(v Value) float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Float
}

// Compare implements ordering for numeric and string kinds used by <, <=, >,
// >=. Returns an error for incomparable kinds.
func Compare(a, b Value) (int, error) {
	switch {
	case isNumeric(a) && isNumeric(b):
		af, bf := asFloat(a), asFloat(b)
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	case a.Kind == KindString && b.Kind == KindString:
		switch {
		case a.Str < b.Str:
			return -1, nil
		case a.Str > b.Str:
			return 1, nil
		default:
			return 0, nil
		}
	case a.Kind == KindDate && b.Kind == KindDate:
		switch {
		case a.Date.Before(b.Date):
			return -1, nil
		case a.Date.After(b.Date):
			return 1, nil
		default:
			return 0, nil
		}
	default:
		return 0, fmt.Errorf("cannot compare %s and %s", a.Kind, b.Kind)
	}
}

// SortedKeys returns an object's field names in deterministic order, used
// when logging or rendering values for diagnostics.
func (v Value) SortedKeys() []string {
	keys := make([]string, 0, len(v.Object))
	for k := range v.Object {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FromNative converts a subset of Go native types (as produced by
// encoding/json unmarshalling into interface{}) into a Value tree.
func FromNative(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		if t == float64(int64(t)) {
			return Int(int64(t))
		}
		return Float(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case string:
		return String(t)
	case []interface{}:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = FromNative(e)
		}
		return List(items)
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = FromNative(e)
		}
		return Object(m)
	default:
		return Null()
	}
}

// ToNative converts a Value back to plain Go types suitable for
// encoding/json marshalling.
func (v Value) ToNative() interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindString:
		return v.Str
	case KindDate:
		return v.Date.Format(time.RFC3339)
	case KindList:
		out := make([]interface{}, len(v.List))
		for i, e := range v.List {
			out[i] = e.ToNative()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(v.Object))
		for k, e := range v.Object {
			out[k] = e.ToNative()
		}
		return out
	default:
		return nil
	}
}
