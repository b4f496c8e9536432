package filterquery

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eval(t *testing.T, ctx Context, src string) any {
	t.Helper()
	return Check(ctx, mustParse(t, src))
}

func panicText(t *testing.T, fn func()) (msg string) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected panic")
		msg = fmt.Sprint(r)
	}()
	fn()
	return ""
}

func TestCheckHandBuiltTrees(t *testing.T) {
	obj := Context{"some": 5}
	assert.Equal(t, true, Check(Context{}, cmpNode(OpEq, num(5), num(5))))
	assert.Equal(t, false, Check(Context{}, cmpNode(OpEq, num(6), num(5))))
	assert.Equal(t, true, Check(obj, cmpNode(OpEq, key("some"), num(5))))
	assert.Equal(t, false, Check(obj, cmpNode(OpEq, key("some"), num(6))))
	assert.Equal(t, false, Check(obj, cmpNode(OpEq, key("non-existent"), num(5))))

	assert.Equal(t, true, Check(obj, logic(OpAnd, boolean(true), boolean(true))))
	assert.Equal(t, false, Check(obj, logic(OpAnd, boolean(true), boolean(false))))
	assert.Equal(t, false, Check(obj, logic(OpAnd, boolean(false), boolean(true))))
	assert.Equal(t, true, Check(obj, logic(OpOr, boolean(true), boolean(false))))
	assert.Equal(t, true, Check(obj, logic(OpOr, boolean(false), boolean(true))))
	assert.Equal(t, false, Check(obj, logic(OpOr, boolean(false), boolean(false))))
	assert.Equal(t, false, Check(obj, &Not{Value: boolean(true)}))
	assert.Equal(t, true, Check(obj, &Not{Value: boolean(false)}))
}

func TestCheckNilNode(t *testing.T) {
	assert.Equal(t, false, Check(nil, nil))
	assert.Equal(t, false, Check(Context{"a": 1}, nil))
}

func TestCheckScenarios(t *testing.T) {
	some := Context{"some": 5}
	assert.Equal(t, true, eval(t, some, "some = 5"))
	assert.Equal(t, false, eval(t, some, "some = 6"))
	assert.Equal(t, false, eval(t, some, "nonExistentValue = 5"))

	empty := Context{}
	assert.Equal(t, true, eval(t, empty, "true && true"))
	assert.Equal(t, false, eval(t, empty, "true && false"))
	assert.Equal(t, false, eval(t, empty, "false || false"))
	assert.Equal(t, false, eval(t, empty, "!true"))
	assert.Equal(t, true, eval(t, empty, "!!true"))
	assert.Equal(t, true, eval(t, empty, "!(true && false))"))

	obj := Context{"some": 5, "thing": "else"}
	assert.Equal(t, true, eval(t, obj, `some = 5 and thing = "else"`))
	assert.Equal(t, true, eval(t, obj, `some = 5 or thing != "else"`))
	assert.Equal(t, false, eval(t, obj, `some = 5 and thing != "else"`))
}

func TestCheckShortCircuit(t *testing.T) {
	broken := &Comparison{Op: OpEq, Left: key("a")}
	assert.Equal(t, false, Check(Context{}, logic(OpAnd, boolean(false), broken)))
	assert.Equal(t, true, Check(Context{}, logic(OpOr, boolean(true), broken)))

	assert.Panics(t, func() { Check(Context{}, logic(OpAnd, boolean(true), broken)) })
}

func TestCheckShortCircuitParsed(t *testing.T) {
	ctx := Context{"a": map[string]any{"b": 1}}
	for _, tt := range []struct {
		src  string
		want any
	}{
		{"false && a in [1]", false},
		{"true || a in [1]", true},
	} {
		t.Run(tt.src, func(t *testing.T) {
			n := mustParse(t, tt.src)
			assert.Equal(t, tt.want, Check(ctx, n))

			// Evaluating the right side of the broken tree would panic.
			b, ok := n.(*Boolean)
			require.True(t, ok)
			c, ok := b.Right.(*Comparison)
			require.True(t, ok)
			c.Right = nil
			assert.Equal(t, tt.want, Check(ctx, n))
		})
	}
}

func TestCheckBooleanReturnsDecidingOperand(t *testing.T) {
	ctx := Context{"name": "ada", "zero": 0}
	assert.Equal(t, "ada", eval(t, ctx, "true && name"))
	assert.Equal(t, 0, eval(t, ctx, "true && zero"))
	assert.Equal(t, true, eval(t, ctx, "true || name"))
	assert.Nil(t, eval(t, ctx, "false || missing"))
}

func TestCheckAccessors(t *testing.T) {
	ctx := Context{
		"user": map[string]any{
			"email":   "a@example.com",
			"profile": map[string]any{"age": 30},
			"tags":    []any{"beta"},
		},
		"headers": map[string]string{"country": "nl"},
		"scores":  map[string]int{"level": 7},
		"name":    "plain",
	}
	assert.Equal(t, "a@example.com", eval(t, ctx, "user.email"))
	assert.Equal(t, true, eval(t, ctx, "user.profile.age = 30"))
	assert.Equal(t, true, eval(t, ctx, `headers.country = "nl"`))
	assert.Equal(t, true, eval(t, ctx, "scores.level >= 7"))

	for _, path := range []string{"missing", "user.missing", "user.profile.age.more", "name.length", "user.tags.0", "headers.country.x"} {
		assert.Nil(t, eval(t, ctx, path), path)
		assert.Equal(t, false, eval(t, ctx, path+" = 1"), path)
		assert.Equal(t, false, eval(t, ctx, path+` = "x"`), path)
	}
	assert.Nil(t, Check(nil, key("a.b")))
}

func TestCheckEquality(t *testing.T) {
	tests := []struct {
		ctx  Context
		src  string
		want bool
	}{
		{Context{"n": 5}, "n = 5", true},
		{Context{"n": int64(5)}, "n = 5", true},
		{Context{"n": float32(0.5)}, "n = .5", true},
		{Context{"n": json.Number("5")}, "n = 5", true},
		{Context{"n": "5"}, "n = 5", false},
		{Context{"n": 5}, "n = '5'", false},
		{Context{"b": true}, "b = true", true},
		{Context{"b": "true"}, "b = true", false},
		{Context{"s": "x"}, "s != 'x'", false},
		{Context{}, "missing != 1", true},
		{Context{"l": []any{1}}, "l = 1", false},
		{Context{"n": 5}, "n = +-5", false},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.want, eval(t, tt.ctx, tt.src))
		})
	}
}

func TestCheckOrdering(t *testing.T) {
	tests := []struct {
		ctx  Context
		src  string
		want bool
	}{
		{Context{"age": 31}, "age > 30", true},
		{Context{"age": 30}, "age > 30", false},
		{Context{"age": 30}, "age >= 30", true},
		{Context{"age": 18}, "age < 20", true},
		{Context{"age": 20}, "age <= 20", true},
		{Context{"age": "31"}, "age > 30", true},
		{Context{"age": " 31 "}, "age > 30", true},
		{Context{"age": "old"}, "age > 30", false},
		{Context{"age": "old"}, "age <= 30", false},
		{Context{}, "age < 30", false},
		{Context{}, "age >= 0", false},
		{Context{"flag": true}, "flag > 0", true},
		{Context{"flag": false}, "flag >= 0", true},
		{Context{"blank": ""}, "blank = 0", false},
		{Context{"blank": ""}, "blank >= 0", true},
		{Context{"n": 1}, "n < true", false},
		{Context{"n": 1}, "n <= true", true},
		{Context{"obj": map[string]any{}}, "obj > 0", false},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.want, eval(t, tt.ctx, tt.src))
		})
	}
}

func TestCheckIn(t *testing.T) {
	ctx := Context{"email": "a@example.com", "id": 2, "country": "nl"}
	assert.Equal(t, true, eval(t, ctx, "id in [1,2,3]"))
	assert.Equal(t, false, eval(t, ctx, "id in ['1','2']"))
	assert.Equal(t, true, eval(t, ctx, `email in ["b@example.com", "a@example.com"]`))
	assert.Equal(t, true, eval(t, ctx, "country in 'nl,be,de'"))
	assert.Equal(t, false, eval(t, ctx, "id in '123'"))
	assert.Equal(t, false, eval(t, ctx, "id in 2"))
	assert.Equal(t, false, eval(t, ctx, "id in []"))
	assert.Equal(t, false, eval(t, ctx, "missing in [1]"))
	assert.Equal(t, true, eval(t, ctx, "!(id in [5])"))
}

func TestCheckListValue(t *testing.T) {
	assert.Equal(t, []any{1.0, "2", true}, eval(t, Context{}, "[1, '2', true]"))
}

func TestCheckInvariantViolations(t *testing.T) {
	incomplete := []Node{
		&Comparison{Op: OpEq, Left: key("a")},
		&Boolean{Op: OpAnd, Right: boolean(true)},
		&Not{},
		&Group{},
		&Accessor{},
	}
	for _, n := range incomplete {
		msg := panicText(t, func() { Check(Context{}, n) })
		assert.Contains(t, msg, "INVARIANT VIOLATION: node incomplete", n.NodeType())
	}

	msg := panicText(t, func() { Check(Context{}, bogus{}) })
	assert.Contains(t, msg, "INVARIANT VIOLATION: unknown AST type")

	for _, n := range []Node{(*Comparison)(nil), (*Boolean)(nil), (*Value[float64])(nil), (*Accessor)(nil)} {
		msg := panicText(t, func() { Check(Context{}, n) })
		assert.Contains(t, msg, "INVARIANT VIOLATION: nil "+n.NodeType()+" node")
	}
}

type bogus struct{}

func (bogus) NodeType() string { return "bogus" }
func (bogus) GetToken() *Token { return nil }
func (bogus) String() string   { return "bogus" }
func (bogus) node()            {}

func TestTruthy(t *testing.T) {
	for _, v := range []any{nil, false, 0, 0.0, math.NaN(), "", int64(0)} {
		assert.False(t, Truthy(v), "%#v", v)
	}
	for _, v := range []any{true, 1, -1.5, "x", "false", []any{}, map[string]any{}} {
		assert.True(t, Truthy(v), "%#v", v)
	}
}

func TestCheckConcurrentUse(t *testing.T) {
	n := mustParse(t, "age > 30 && city in ['Cherokee', 'Idamay']")
	done := make(chan bool)
	for i := range 8 {
		go func() {
			ctx := Context{"age": 31 + i, "city": "Cherokee"}
			done <- Check(ctx, n).(bool)
		}()
	}
	for range 8 {
		assert.True(t, <-done)
	}
}
