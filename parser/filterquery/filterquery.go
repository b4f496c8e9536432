package filterquery

// Predicate reports whether a context satisfies a parsed filter.
type Predicate func(Context) bool

// Query is a parsed filter together with its source. It is immutable and
// safe for concurrent use.
type Query struct {
	Source string
	Root   Node
}

// Compile parses source once for repeated evaluation.
func Compile(source string) (*Query, error) {
	root, err := Parse(source, WithSimplify())
	if err != nil {
		return nil, err
	}
	return &Query{Source: source, Root: root}, nil
}

// Eval returns the raw value of the filter for ctx.
func (q *Query) Eval(ctx Context) any { return Check(ctx, q.Root) }

// Match reports whether the filter holds for ctx.
func (q *Query) Match(ctx Context) bool { return Truthy(Check(ctx, q.Root)) }

// String returns the canonical form of the filter, or "" for an empty one.
func (q *Query) String() string {
	if q.Root == nil {
		return ""
	}
	return q.Root.String()
}

func (q *Query) MarshalText() ([]byte, error) {
	return []byte(q.Source), nil
}

// FilterPredicate parses source once and returns a reusable predicate.
// An empty source yields a predicate that matches nothing.
func FilterPredicate(source string) (Predicate, error) {
	q, err := Compile(source)
	if err != nil {
		return nil, err
	}
	return q.Match, nil
}

// Filter returns the elements of collection that satisfy source, keeping their
// input order.
func Filter[M ~map[string]any](collection []M, source string) ([]M, error) {
	pred, err := FilterPredicate(source)
	if err != nil {
		return nil, err
	}
	out := make([]M, 0, len(collection))
	for _, item := range collection {
		if pred(Context(item)) {
			out = append(out, item)
		}
	}
	return out, nil
}

// Validate reports whether source parses.
func Validate(source string) error {
	_, err := Parse(source)
	return err
}
