// Package filterquery implements the audience filter language.
// parser.go contains the cursor driven parser.
package filterquery

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

// Filter grammar:
//   expr       := orExpr
//   orExpr     := andExpr (("||"|"or") andExpr)*
//   andExpr    := unary (("&&"|"and") unary)*
//   unary      := ("!"|"not") unary | primary
//   primary    := comparison | "(" expr ")" | boolean-literal
//   comparison := accessor ("="|"=="|"!="|"!=="|">"|">="|"<"|"<="|"in") operand
//   accessor   := identifier ("." identifier)*
//   operand    := number | string-literal | boolean-literal | "[" (operand ("," operand)*)? "]"
//
// A lone accessor is also accepted as a whole expression and evaluates to
// the truthiness of the value it reads.

// ParserOpt configures Parse.
type ParserOpt func(*ParserConfig)

// ParserConfig holds parser configuration.
type ParserConfig struct {
	simplify bool
}

// WithSimplify strips tokens from the returned tree.
func WithSimplify() ParserOpt {
	return func(c *ParserConfig) {
		c.simplify = true
	}
}

type kind uint8

const (
	kindAccessor kind = iota
	kindNumber
	kindString
	kindBoolValue
	kindComparison
	kindBoolean
	kindNot
	kindGroup
	kindList
)

var kindNames = [...]string{
	kindAccessor:   "accessor",
	kindNumber:     "value",
	kindString:     "value",
	kindBoolValue:  "booleanValue",
	kindComparison: "comparison",
	kindBoolean:    "boolean",
	kindNot:        "not",
	kindGroup:      "group",
	kindList:       "list",
}

func (k kind) String() string { return kindNames[k] }

const none = -1

// pnode is a node under construction. Links are arena indices so the
// parent back references never escape the parser.
type pnode struct {
	kind     kind
	op       Operator
	key      string
	num      float64
	str      string
	boolean  bool
	left     int
	right    int
	value    int
	children []int
	parent   int
	closed   bool
	reclosed bool
	tok      Token
}

type parser struct {
	nodes  []pnode
	cursor int
}

// Parse parses source into an AST. It returns a nil Node and a nil error for
// empty or whitespace only input. Errors are *SyntaxError values.
func Parse(source string, opts ...ParserOpt) (Node, error) {
	var cfg ParserConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &parser{cursor: none}
	tokenizer := NewTokenizer(source)
	for {
		tok, err := tokenizer.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := p.step(tok); err != nil {
			return nil, err
		}
	}

	root, err := p.finish(len(source))
	if err != nil || root == none {
		return nil, err
	}
	n := p.build(root)
	if cfg.simplify {
		Simplify(n)
	}
	return n, nil
}

func (p *parser) step(tok Token) error {
	if tok.Tag == TagSpace {
		return nil
	}
	if p.cursor == none && !startsExpression(tok.Tag) {
		return errStart(tok)
	}

	switch tok.Tag {
	case TagKey:
		if !p.logicalSlot() {
			return p.errFollow(tok)
		}
		n := p.add(kindAccessor, tok)
		p.nodes[n].key = tok.Value
		p.attach(n)
		p.cursor = n

	case TagNot:
		if !p.logicalSlot() {
			return p.errFollow(tok)
		}
		n := p.add(kindNot, tok)
		p.attach(n)
		p.cursor = n

	case TagLParen:
		if !p.logicalSlot() {
			return p.errFollow(tok)
		}
		n := p.add(kindGroup, tok)
		p.attach(n)
		p.cursor = n

	case TagTrue, TagFalse:
		return p.literal(tok, true)

	case TagInteger, TagFloat, TagSingleQuoted, TagDoubleQuoted:
		return p.literal(tok, false)

	case TagEq, TagNotEq, TagGt, TagGte, TagLt, TagLte, TagIn:
		if p.nodes[p.cursor].kind != kindAccessor {
			return p.errFollow(tok)
		}
		left := p.cursor
		c := p.add(kindComparison, tok)
		p.nodes[c].op = Operator(tok.Tag)
		p.replace(left, c)
		p.nodes[c].left = left
		p.cursor = c

	case TagAnd, TagOr:
		return p.logical(tok)

	case TagRParen:
		return p.closeGroup(tok)

	case TagLBracket:
		if p.cursor == none {
			p.cursor = p.add(kindList, tok)
			return nil
		}
		cur := &p.nodes[p.cursor]
		switch {
		case cur.kind == kindComparison && cur.right == none:
			l := p.add(kindList, tok)
			p.nodes[l].parent = p.cursor
			p.nodes[p.cursor].right = l
			p.cursor = l
		case cur.kind == kindList && !cur.closed:
			l := p.add(kindList, tok)
			p.nodes[l].parent = p.cursor
			p.cursor = l
		default:
			return p.errFollow(tok)
		}

	case TagComma:
		parent := p.nodes[p.cursor].parent
		if parent == none || p.nodes[parent].kind != kindList || p.nodes[parent].closed {
			return &SyntaxError{Offset: tok.Start, Tag: tok.Tag, Msg: `token "," should only be used inside a list`}
		}
		if !p.complete(p.cursor) {
			return p.errFollow(tok)
		}
		p.nodes[parent].children = append(p.nodes[parent].children, p.cursor)
		p.cursor = parent

	case TagRBracket:
		return p.closeList(tok)

	default:
		return &SyntaxError{Offset: tok.Start, Tag: tok.Tag, Msg: fmt.Sprintf("unknown token %q", tok.Tag)}
	}
	return nil
}

func startsExpression(tag Tag) bool {
	switch tag {
	case TagKey, TagNot, TagLParen, TagTrue, TagFalse, TagLBracket:
		return true
	}
	return false
}

// logicalSlot reports whether the cursor is waiting for a logical operand:
// the start of input, an empty open group, a not without its operand, or a
// boolean without its right operand.
func (p *parser) logicalSlot() bool {
	if p.cursor == none {
		return true
	}
	n := &p.nodes[p.cursor]
	switch n.kind {
	case kindGroup:
		return !n.closed && n.value == none
	case kindNot:
		return n.value == none
	case kindBoolean:
		return n.right == none
	}
	return false
}

// literal handles number, string and boolean tokens.
func (p *parser) literal(tok Token, logical bool) error {
	var n int
	switch tok.Tag {
	case TagTrue, TagFalse:
		n = p.add(kindBoolValue, tok)
		p.nodes[n].boolean = tok.Tag == TagTrue
	case TagInteger, TagFloat:
		n = p.add(kindNumber, tok)
		p.nodes[n].num = parseNumber(tok.Value)
	default:
		n = p.add(kindString, tok)
		p.nodes[n].str = tok.Value
	}

	if p.cursor == none {
		p.cursor = n
		return nil
	}
	cur := &p.nodes[p.cursor]
	switch {
	case cur.kind == kindComparison && cur.right == none:
		cur.right = n
		p.nodes[n].parent = p.cursor
	case cur.kind == kindList && !cur.closed:
		p.nodes[n].parent = p.cursor
		p.cursor = n
	case logical && p.logicalSlot():
		p.attach(n)
		p.cursor = n
	default:
		return p.errFollow(tok)
	}
	return nil
}

// logical handles && and ||. The new node takes as its left operand the
// cursor, climbed over enclosing nots and over enclosing booleans that bind
// at least as tightly, which makes both operators left associative with &&
// above ||.
func (p *parser) logical(tok Token) error {
	cur := &p.nodes[p.cursor]
	switch cur.kind {
	case kindComparison, kindGroup, kindBoolValue, kindBoolean, kindNot:
		if !p.complete(p.cursor) {
			return p.errFollow(tok)
		}
	default:
		return p.errFollow(tok)
	}

	op := Operator(tok.Tag)
	left := p.cursor
	for {
		parent := p.nodes[left].parent
		if parent == none || !p.complete(parent) {
			break
		}
		pn := &p.nodes[parent]
		if pn.kind == kindNot || (pn.kind == kindBoolean && pn.op.precedence() >= op.precedence()) {
			left = parent
			continue
		}
		break
	}

	b := p.add(kindBoolean, tok)
	p.nodes[b].op = op
	p.replace(left, b)
	p.nodes[b].left = left
	p.cursor = b
	return nil
}

func (p *parser) closeGroup(tok Token) error {
	cur := &p.nodes[p.cursor]
	if cur.kind == kindGroup && !cur.closed && cur.value == none {
		return p.errFollow(tok)
	}

	below, n := none, p.cursor
	for n != none {
		pn := &p.nodes[n]
		if pn.kind == kindGroup && !pn.closed {
			break
		}
		if !p.complete(n) {
			return p.errFollowNode(tok, n)
		}
		below, n = n, pn.parent
	}
	if n == none {
		// One ")" right after a closed group closes it again.
		if cur.kind == kindGroup && cur.closed && !cur.reclosed {
			cur.reclosed = true
			return nil
		}
		return &SyntaxError{Offset: tok.Start, Tag: tok.Tag, Msg: "closed parenthesis before open parenthesis"}
	}

	switch p.nodes[below].kind {
	case kindComparison, kindBoolean, kindBoolValue, kindNot, kindGroup:
	default:
		return &SyntaxError{Offset: tok.Start, Tag: tok.Tag,
			Msg: fmt.Sprintf("closed parenthesis before open parenthesis: group cannot contain node of type %q", p.nodes[below].kind)}
	}
	p.nodes[n].closed = true
	p.cursor = n
	return nil
}

func (p *parser) closeList(tok Token) error {
	list := p.cursor
	if ln := &p.nodes[list]; ln.kind != kindList || ln.closed {
		parent := ln.parent
		if parent == none || p.nodes[parent].kind != kindList || p.nodes[parent].closed {
			return &SyntaxError{Offset: tok.Start, Tag: tok.Tag, Msg: "closed square bracket before open one"}
		}
		if !p.complete(list) {
			return p.errFollow(tok)
		}
		p.nodes[parent].children = append(p.nodes[parent].children, list)
		list = parent
	}

	p.nodes[list].closed = true
	p.cursor = list
	if parent := p.nodes[list].parent; parent != none && p.nodes[parent].kind == kindComparison {
		p.cursor = parent
	}
	return nil
}

// finish checks that every node from the cursor up to the root is complete
// and returns the root.
func (p *parser) finish(end int) (int, error) {
	root := none
	for n := p.cursor; n != none; n = p.nodes[n].parent {
		if !p.complete(n) {
			return none, &SyntaxError{Offset: end,
				Msg: fmt.Sprintf("unexpected end of expression: node of type %q is incomplete", p.nodes[n].kind)}
		}
		root = n
	}
	return root, nil
}

func (p *parser) add(k kind, tok Token) int {
	p.nodes = append(p.nodes, pnode{kind: k, tok: tok, left: none, right: none, value: none, parent: none})
	return len(p.nodes) - 1
}

// attach places n in the logical slot the cursor is waiting on.
func (p *parser) attach(n int) {
	p.nodes[n].parent = p.cursor
	if p.cursor == none {
		return
	}
	cur := &p.nodes[p.cursor]
	switch cur.kind {
	case kindGroup, kindNot:
		cur.value = n
	case kindBoolean:
		cur.right = n
	}
}

// replace puts n where old sits in old's parent and makes n old's parent.
func (p *parser) replace(old, n int) {
	parent := p.nodes[old].parent
	p.nodes[n].parent = parent
	p.nodes[old].parent = n
	if parent == none {
		return
	}
	pn := &p.nodes[parent]
	switch old {
	case pn.left:
		pn.left = n
	case pn.right:
		pn.right = n
	case pn.value:
		pn.value = n
	}
}

func (p *parser) complete(n int) bool {
	pn := &p.nodes[n]
	switch pn.kind {
	case kindComparison, kindBoolean:
		return pn.left != none && pn.right != none
	case kindNot:
		return pn.value != none
	case kindGroup, kindList:
		return pn.closed
	}
	return true
}

// build converts the arena into an owning tree.
func (p *parser) build(i int) Node {
	if i == none {
		return nil
	}
	pn := &p.nodes[i]
	tok := pn.tok
	switch pn.kind {
	case kindAccessor:
		return &Accessor{Key: pn.key, Token: &tok}
	case kindNumber:
		return &Value[float64]{Value: pn.num, Token: &tok}
	case kindString:
		return &Value[string]{Value: pn.str, Token: &tok}
	case kindBoolValue:
		return &BooleanValue{Value: pn.boolean, Token: &tok}
	case kindComparison:
		return &Comparison{Op: pn.op, Left: p.build(pn.left), Right: p.build(pn.right), Token: &tok}
	case kindBoolean:
		return &Boolean{Op: pn.op, Left: p.build(pn.left), Right: p.build(pn.right), Token: &tok}
	case kindNot:
		return &Not{Value: p.build(pn.value), Token: &tok}
	case kindGroup:
		return &Group{Value: p.build(pn.value), Token: &tok}
	default:
		children := make([]Node, len(pn.children))
		for j, c := range pn.children {
			children[j] = p.build(c)
		}
		return &List{Children: children, Token: &tok}
	}
}

func errStart(tok Token) error {
	return &SyntaxError{Offset: tok.Start, Tag: tok.Tag,
		Msg: fmt.Sprintf("expression should not start with token %q", tok.Tag)}
}

func (p *parser) errFollow(tok Token) error {
	return p.errFollowNode(tok, p.cursor)
}

func (p *parser) errFollowNode(tok Token, n int) error {
	return &SyntaxError{Offset: tok.Start, Tag: tok.Tag,
		Msg: fmt.Sprintf("token %q should not follow node of type %q", tok.Tag, p.nodes[n].kind)}
}

// parseNumber follows the usual decimal reading: a repeated sign is not a
// number, an out of range literal becomes an infinity.
func parseNumber(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err == nil {
		return f
	}
	if errors.Is(err, strconv.ErrRange) {
		return f
	}
	return math.NaN()
}
