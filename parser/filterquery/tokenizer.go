// Package filterquery implements the audience filter language: a tokenizer,
// a single pass parser producing an AST, and a tree walking executor.
// tokenizer.go contains the ordered lexical rule table.
package filterquery

import (
	"fmt"
	"io"
	"iter"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tag identifies the lexical class of a token. Its string form is used
// verbatim in parse error messages.
type Tag string

const (
	TagSpace        Tag = "space"
	TagTrue         Tag = "true"
	TagFalse        Tag = "false"
	TagFloat        Tag = "float"
	TagInteger      Tag = "integer"
	TagIn           Tag = "in"
	TagEq           Tag = "="
	TagNotEq        Tag = "!="
	TagNot          Tag = "!"
	TagGte          Tag = ">="
	TagLte          Tag = "<="
	TagGt           Tag = ">"
	TagLt           Tag = "<"
	TagAnd          Tag = "&&"
	TagOr           Tag = "||"
	TagLParen       Tag = "("
	TagRParen       Tag = ")"
	TagLBracket     Tag = "["
	TagRBracket     Tag = "]"
	TagComma        Tag = ","
	TagKey          Tag = "key"
	TagDoubleQuoted Tag = "doubleQuotedStringLiteral"
	TagSingleQuoted Tag = "singleQuotedStringLiteral"
)

// Token is a single lexeme. Start and End are byte offsets into the source.
// For string literals Value holds the raw body between the quotes with
// escape sequences left untouched.
type Token struct {
	Tag   Tag    `json:"tag"`
	Value string `json:"value"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

func (t Token) String() string {
	return fmt.Sprintf("%s %q [%d:%d]", t.Tag, t.Value, t.Start, t.End)
}

// matcher reports the token value and the number of bytes consumed when it
// matches at the beginning of rest.
type matcher func(rest string) (value string, width int, ok bool)

type rule struct {
	tag   Tag
	match matcher
}

// rules is tried in order at every offset; the first match wins. The order
// is part of the language: float before integer, the two character
// operators before their one character prefixes, keys after every keyword.
var rules = []rule{
	{TagSpace, matchSpace},
	{TagTrue, pattern(`(?i)^true`)},
	{TagFalse, pattern(`(?i)^false`)},
	{TagFloat, pattern(`^[+-]*\d*\.\d+`)},
	{TagInteger, pattern(`^[+-]*[0-9]+`)},
	{TagIn, literal("in")},
	{TagEq, followedByOtherThan('=', "=", "==")},
	{TagNotEq, followedByOtherThan('=', "!=", "!==")},
	{TagNot, matchNot},
	{TagGte, literal(">=")},
	{TagLte, literal("<=")},
	{TagGt, literal(">")},
	{TagLt, literal("<")},
	{TagAnd, followedByOtherThan('&', "&&", "and")},
	{TagOr, followedByOtherThan('|', "||", "or")},
	{TagLParen, literal("(")},
	{TagRParen, literal(")")},
	{TagLBracket, literal("[")},
	{TagRBracket, literal("]")},
	{TagComma, literal(",")},
	{TagKey, pattern(`^[a-zA-Z0-9.]+`)},
	{TagDoubleQuoted, pattern(`(?s)^"(.*?[^\\])"`)},
	{TagSingleQuoted, pattern(`(?s)^'(.*?[^\\])'`)},
	{TagDoubleQuoted, pattern(`^"([^"]?)"`)},
	{TagSingleQuoted, pattern(`^'([^']?)'`)},
}

// pattern builds a matcher from an anchored regular expression. When the
// expression has a capture group its first group is the token value,
// otherwise the whole match is.
func pattern(expr string) matcher {
	re := regexp.MustCompile(expr)
	return func(rest string) (string, int, bool) {
		loc := re.FindStringSubmatchIndex(rest)
		if loc == nil {
			return "", 0, false
		}
		if len(loc) >= 4 && loc[2] >= 0 {
			return rest[loc[2]:loc[3]], loc[1], true
		}
		return rest[loc[0]:loc[1]], loc[1], true
	}
}

func literal(s string) matcher {
	return func(rest string) (string, int, bool) {
		if strings.HasPrefix(rest, s) {
			return s, len(s), true
		}
		return "", 0, false
	}
}

// followedByOtherThan tries each alternative in order and accepts the first
// one that is followed by at least one more character different from c.
// RE2 has no lookahead, so this stands in for /^(a|b)(?=[^c])/.
func followedByOtherThan(c byte, alternatives ...string) matcher {
	return func(rest string) (string, int, bool) {
		for _, alt := range alternatives {
			if !strings.HasPrefix(rest, alt) {
				continue
			}
			if len(rest) > len(alt) && rest[len(alt)] != c {
				return alt, len(alt), true
			}
		}
		return "", 0, false
	}
}

func matchSpace(rest string) (string, int, bool) {
	i := 0
	for i < len(rest) {
		r, size := utf8.DecodeRuneInString(rest[i:])
		if !unicode.IsSpace(r) {
			break
		}
		i += size
	}
	if i == 0 {
		return "", 0, false
	}
	return rest[:i], i, true
}

// matchNot accepts "!" or the word "not" when whitespace follows it, so
// that "nota" stays a key.
func matchNot(rest string) (string, int, bool) {
	if strings.HasPrefix(rest, "!") {
		return "!", 1, true
	}
	if strings.HasPrefix(rest, "not") && len(rest) > 3 {
		r, _ := utf8.DecodeRuneInString(rest[3:])
		if unicode.IsSpace(r) {
			return "not", 3, true
		}
	}
	return "", 0, false
}

// Tokenizer is a resumable pull lexer over an immutable source string.
type Tokenizer struct {
	src   string
	index int
}

func NewTokenizer(src string) *Tokenizer {
	return &Tokenizer{src: src}
}

// Done reports whether the whole source has been consumed.
func (t *Tokenizer) Done() bool { return t.index >= len(t.src) }

// Reset rewinds the tokenizer to the start of the source.
func (t *Tokenizer) Reset() { t.index = 0 }

// Next returns the next token, or io.EOF once the source is exhausted.
// On failure the tokenizer does not advance.
func (t *Tokenizer) Next() (Token, error) {
	if t.Done() {
		return Token{}, io.EOF
	}
	rest := t.src[t.index:]
	for _, r := range rules {
		value, width, ok := r.match(rest)
		if !ok {
			continue
		}
		tok := Token{Tag: r.tag, Value: value, Start: t.index, End: t.index + width}
		t.index = tok.End
		return tok, nil
	}
	return Token{}, &SyntaxError{
		Offset: t.index,
		Msg:    fmt.Sprintf("error at position %d: no matcher for \"%s\"", t.index, rest),
	}
}

// Tokens yields every token of src in order. Iteration stops after the
// first error.
func Tokens(src string) iter.Seq2[Token, error] {
	return func(yield func(Token, error) bool) {
		t := NewTokenizer(src)
		for {
			tok, err := t.Next()
			if err == io.EOF {
				return
			}
			if !yield(tok, err) || err != nil {
				return
			}
		}
	}
}

// Tokenize returns all tokens of src, whitespace included.
func Tokenize(src string) ([]Token, error) {
	var toks []Token
	for tok, err := range Tokens(src) {
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
	}
	return toks, nil
}
