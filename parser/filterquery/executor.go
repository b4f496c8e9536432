package filterquery

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"

	"github.com/daveroberts0321/flagfilter/internal/invariant"
)

// Context is the record a filter is evaluated against, usually decoded
// from JSON.
type Context = map[string]any

// Check evaluates n against ctx. Comparisons and nots yield a bool; && and
// || yield whichever operand decided the result; literals and accessors
// yield their value. A nil node evaluates to false.
//
// Check panics if n is not a tree Parse could have produced.
func Check(ctx Context, n Node) any {
	if n == nil {
		return false
	}
	invariant.Invariant(!isNilNode(n), "nil %s node", n.NodeType())
	switch n := n.(type) {
	case *Accessor:
		invariant.Invariant(n.Key != "", "node incomplete")
		return lookup(ctx, n.Key)
	case *Value[float64]:
		return n.Value
	case *Value[string]:
		return n.Value
	case *BooleanValue:
		return n.Value
	case *Comparison:
		invariant.Invariant(n.Left != nil && n.Right != nil, "node incomplete")
		return compare(n.Op, Check(ctx, n.Left), Check(ctx, n.Right))
	case *Boolean:
		invariant.Invariant(n.Left != nil && n.Right != nil, "node incomplete")
		left := Check(ctx, n.Left)
		switch n.Op {
		case OpAnd:
			if !Truthy(left) {
				return left
			}
		case OpOr:
			if Truthy(left) {
				return left
			}
		default:
			invariant.Unreachable("unknown boolean operator %q", n.Op)
		}
		return Check(ctx, n.Right)
	case *Not:
		invariant.Invariant(n.Value != nil, "node incomplete")
		return !Truthy(Check(ctx, n.Value))
	case *Group:
		invariant.Invariant(n.Value != nil, "node incomplete")
		return Check(ctx, n.Value)
	case *List:
		out := make([]any, len(n.Children))
		for i, c := range n.Children {
			out[i] = Check(ctx, c)
		}
		return out
	}
	invariant.Unreachable("unknown AST type %T", n)
	return nil
}

// lookup folds the dotted key through nested string keyed maps. Any other
// value on the way ends the walk with nil.
func lookup(ctx Context, key string) any {
	var cur any = ctx
	for _, part := range strings.Split(key, ".") {
		next, ok := index(cur, part)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func index(v any, key string) (any, bool) {
	switch m := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		x, ok := m[key]
		return x, ok
	case map[string]string:
		x, ok := m[key]
		return x, ok
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	x := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
	if !x.IsValid() {
		return nil, false
	}
	return x.Interface(), true
}

func compare(op Operator, left, right any) bool {
	switch op {
	case OpEq:
		return strictEqual(left, right)
	case OpNotEq:
		return !strictEqual(left, right)
	case OpLt:
		return toNumber(left) < toNumber(right)
	case OpLte:
		return toNumber(left) <= toNumber(right)
	case OpGt:
		return toNumber(left) > toNumber(right)
	case OpGte:
		return toNumber(left) >= toNumber(right)
	case OpIn:
		switch r := right.(type) {
		case []any:
			for _, item := range r {
				if strictEqual(left, item) {
					return true
				}
			}
		case string:
			if l, ok := left.(string); ok {
				return strings.Contains(r, l)
			}
		}
		return false
	}
	invariant.Unreachable("unknown comparison operator %q", op)
	return false
}

func isNilNode(n Node) bool {
	v := reflect.ValueOf(n)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// normalize maps every numeric kind onto float64 so that values decoded by
// different means compare equal.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	}
	return v
}

// strictEqual is type sensitive: 5 and "5" differ, NaN differs from
// itself, and lists or maps are never equal to anything.
func strictEqual(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return false
}

// toNumber is the best effort coercion used by the ordering operators.
// Values that have no numeric reading become NaN, which compares false.
func toNumber(v any) float64 {
	switch x := normalize(v).(type) {
	case float64:
		return x
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0
		}
		return parseNumber(s)
	}
	return math.NaN()
}

// Truthy reports whether v counts as true: false, 0, NaN, "" and nil are
// false, every other value is true.
func Truthy(v any) bool {
	switch x := normalize(v).(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case string:
		return x != ""
	}
	return true
}
