// Package filterquery implements the audience filter language.
// ast.go defines the node types produced by Parse.
package filterquery

import (
	"math"
	"strconv"
	"strings"
)

// Operator is the operator of a Comparison or Boolean node.
type Operator string

const (
	OpEq    Operator = "="
	OpNotEq Operator = "!="
	OpGt    Operator = ">"
	OpGte   Operator = ">="
	OpLt    Operator = "<"
	OpLte   Operator = "<="
	OpIn    Operator = "in"
	OpAnd   Operator = "&&"
	OpOr    Operator = "||"
)

// precedence of the logical operators; && binds tighter than ||.
func (o Operator) precedence() int {
	switch o {
	case OpAnd:
		return 2
	case OpOr:
		return 1
	}
	return 0
}

// Node is one of *Accessor, *Value[float64], *Value[string], *BooleanValue,
// *Comparison, *Boolean, *Not, *Group or *List. The set is closed.
type Node interface {
	// NodeType is the name used for the node in parse errors.
	NodeType() string
	// GetToken returns the token the node was created from, or nil once
	// the tree has been simplified.
	GetToken() *Token
	String() string
	node()
}

// Literal is the set of Go types a Value node can hold.
type Literal interface {
	float64 | string
}

// Accessor reads a dotted path from the evaluation context.
type Accessor struct {
	Key   string `json:"key"`
	Token *Token `json:"token,omitempty"`
}

// Value is a number or string literal.
type Value[T Literal] struct {
	Value T      `json:"value"`
	Token *Token `json:"token,omitempty"`
}

// BooleanValue is a true/false literal.
type BooleanValue struct {
	Value bool   `json:"value"`
	Token *Token `json:"token,omitempty"`
}

// Comparison is "left op right", e.g. user.age >= 18.
type Comparison struct {
	Op    Operator `json:"op"`
	Left  Node     `json:"left"`
	Right Node     `json:"right"`
	Token *Token   `json:"token,omitempty"`
}

// Boolean is a && or || of two logical operands.
type Boolean struct {
	Op    Operator `json:"op"`
	Left  Node     `json:"left"`
	Right Node     `json:"right"`
	Token *Token   `json:"token,omitempty"`
}

type Not struct {
	Value Node   `json:"value"`
	Token *Token `json:"token,omitempty"`
}

// Group is a parenthesized expression.
type Group struct {
	Value Node   `json:"value"`
	Token *Token `json:"token,omitempty"`
}

// List is a literal array, the right operand of "in".
type List struct {
	Children []Node `json:"children"`
	Token    *Token `json:"token,omitempty"`
}

func (n *Accessor) NodeType() string     { return "accessor" }
func (n *Value[T]) NodeType() string     { return "value" }
func (n *BooleanValue) NodeType() string { return "booleanValue" }
func (n *Comparison) NodeType() string   { return "comparison" }
func (n *Boolean) NodeType() string      { return "boolean" }
func (n *Not) NodeType() string          { return "not" }
func (n *Group) NodeType() string        { return "group" }
func (n *List) NodeType() string         { return "list" }

func (n *Accessor) GetToken() *Token     { return n.Token }
func (n *Value[T]) GetToken() *Token     { return n.Token }
func (n *BooleanValue) GetToken() *Token { return n.Token }
func (n *Comparison) GetToken() *Token   { return n.Token }
func (n *Boolean) GetToken() *Token      { return n.Token }
func (n *Not) GetToken() *Token          { return n.Token }
func (n *Group) GetToken() *Token        { return n.Token }
func (n *List) GetToken() *Token         { return n.Token }

func (*Accessor) node()     {}
func (*Value[T]) node()     {}
func (*BooleanValue) node() {}
func (*Comparison) node()   {}
func (*Boolean) node()      {}
func (*Not) node()          {}
func (*Group) node()        {}
func (*List) node()         {}

// String methods render the canonical source form of a node. Parsing the
// rendered form yields an equivalent tree.

func (n *Accessor) String() string { return n.Key }

func (n *Value[T]) String() string {
	switch v := any(n.Value).(type) {
	case float64:
		if n.Token != nil {
			return n.Token.Value
		}
		return formatNumber(v)
	case string:
		if n.Token != nil && n.Token.Tag == TagSingleQuoted {
			return quote(v, '\'')
		}
		if !quotable(v, '"') && quotable(v, '\'') {
			return quote(v, '\'')
		}
		return quote(v, '"')
	}
	return ""
}

// overflow is an integer literal past the float64 range; it reads back as
// an infinity.
var overflow = "1" + strings.Repeat("0", 309)

// formatNumber renders v as a numeric literal the tokenizer reads back to
// the same value. A repeated sign is the only literal that reads as NaN.
func formatNumber(v float64) string {
	switch {
	case math.IsNaN(v):
		return "--0"
	case math.IsInf(v, 1):
		return overflow
	case math.IsInf(v, -1):
		return "-" + overflow
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// quotable reports whether body fits between q quotes unchanged: every q
// in it is already escaped.
func quotable(body string, q byte) bool {
	for i := 0; i < len(body); i++ {
		if body[i] == q && (i == 0 || body[i-1] != '\\') {
			return false
		}
	}
	return true
}

// quote wraps body in q, escaping the bare q characters inside it.
func quote(body string, q byte) string {
	if quotable(body, q) {
		return string(q) + body + string(q)
	}
	var b strings.Builder
	b.WriteByte(q)
	for i := 0; i < len(body); i++ {
		if body[i] == q && (i == 0 || body[i-1] != '\\') {
			b.WriteByte('\\')
		}
		b.WriteByte(body[i])
	}
	b.WriteByte(q)
	return b.String()
}

func (n *BooleanValue) String() string { return strconv.FormatBool(n.Value) }

func (n *Comparison) String() string {
	return render(n.Left) + " " + string(n.Op) + " " + render(n.Right)
}

func (n *Boolean) String() string {
	left := render(n.Left)
	if b, ok := n.Left.(*Boolean); ok && b.Op.precedence() < n.Op.precedence() {
		left = "(" + left + ")"
	}
	right := render(n.Right)
	if b, ok := n.Right.(*Boolean); ok && b.Op.precedence() <= n.Op.precedence() {
		right = "(" + right + ")"
	}
	return left + " " + string(n.Op) + " " + right
}

func (n *Not) String() string {
	if _, ok := n.Value.(*Boolean); ok {
		return "!(" + render(n.Value) + ")"
	}
	return "!" + render(n.Value)
}

func (n *Group) String() string { return "(" + render(n.Value) + ")" }

func (n *List) String() string {
	parts := make([]string, len(n.Children))
	for i, c := range n.Children {
		parts[i] = render(c)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// render tolerates the missing operands of hand built trees.
func render(n Node) string {
	if n == nil {
		return "?"
	}
	return n.String()
}
