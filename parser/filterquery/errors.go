package filterquery

import "errors"

// ErrBadFilter is matched by every error Parse returns.
var ErrBadFilter = errors.New("invalid filter")

// SyntaxError reports a filter that could not be tokenized or parsed.
// Offset is the byte offset of the offending token; Tag is empty for
// tokenizer failures and end of input errors.
type SyntaxError struct {
	Offset int
	Tag    Tag
	Msg    string
}

func (e *SyntaxError) Error() string { return e.Msg }

func (e *SyntaxError) Unwrap() error { return ErrBadFilter }
