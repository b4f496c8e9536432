package audience

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/daveroberts0321/flagfilter/parser/filterquery"
)

// DefaultCacheSize is the number of compiled filters a Matcher keeps.
const DefaultCacheSize = 1024

// Returns selects what a match reports.
type Returns string

const (
	ReturnAudiences Returns = "audiences"
	ReturnOverrides Returns = "overrides"
	ReturnFlags     Returns = "flags"
)

func ParseReturns(s string) (Returns, error) {
	switch r := Returns(s); r {
	case ReturnAudiences, ReturnOverrides, ReturnFlags:
		return r, nil
	}
	return "", fmt.Errorf("unknown returns %q: want audiences, overrides or flags", s)
}

type compiled struct {
	query *filterquery.Query
	err   error
}

// Matcher evaluates the audiences of a Store against request contexts.
// Compiled filters, and the errors of filters that do not parse, are kept
// in an LRU keyed by filter source.
type Matcher struct {
	store  *Store
	logger *slog.Logger

	mu    sync.Mutex
	cache *lru.Cache
}

func NewMatcher(store *Store, size int, logger *slog.Logger) *Matcher {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Matcher{store: store, logger: logger, cache: lru.New(size)}
}

// Query returns the compiled form of source.
func (m *Matcher) Query(source string) (*filterquery.Query, error) {
	m.mu.Lock()
	v, ok := m.cache.Get(source)
	m.mu.Unlock()
	if ok {
		c := v.(compiled)
		return c.query, c.err
	}

	q, err := filterquery.Compile(source)
	m.mu.Lock()
	m.cache.Add(source, compiled{query: q, err: err})
	m.mu.Unlock()
	return q, err
}

// Predicate returns a reusable predicate for source.
func (m *Matcher) Predicate(source string) (filterquery.Predicate, error) {
	q, err := m.Query(source)
	if err != nil {
		return nil, err
	}
	return q.Match, nil
}

// CacheLen reports how many filters are cached.
func (m *Matcher) CacheLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}

// matches reports whether ctx is a member of a. An audience whose filter
// does not parse has no members.
func (m *Matcher) matches(a Audience, ctx filterquery.Context) bool {
	q, err := m.Query(a.Filter)
	if err != nil {
		m.logger.Warn("skipping audience with invalid filter",
			"app", a.AppID, "audience", a.AudienceID, "error", err)
		return false
	}
	return q.Match(ctx)
}

// members returns the ids of the audiences of app that ctx belongs to.
func (m *Matcher) members(appID string, ctx filterquery.Context) map[string]bool {
	set := map[string]bool{}
	for _, a := range m.store.Audiences(appID) {
		if m.matches(a, ctx) {
			set[a.AudienceID] = true
		}
	}
	return set
}

// Evaluate returns the audiences of app whose filter holds for ctx.
func (m *Matcher) Evaluate(appID string, ctx filterquery.Context) []Audience {
	out := []Audience{}
	for _, a := range m.store.Audiences(appID) {
		if m.matches(a, ctx) {
			out = append(out, a)
		}
	}
	return out
}

// MatchAudiences is Evaluate with each audience's overrides expanded.
func (m *Matcher) MatchAudiences(appID string, ctx filterquery.Context) []AudienceWithOverrides {
	out := []AudienceWithOverrides{}
	for _, a := range m.store.ExpandedAudiences(appID) {
		if m.matches(a.Audience, ctx) {
			out = append(out, a)
		}
	}
	return out
}

// MatchOverrides returns the overrides of app whose audience holds for ctx.
func (m *Matcher) MatchOverrides(appID string, ctx filterquery.Context) []ExpandedOverride {
	set := m.members(appID, ctx)
	out := []ExpandedOverride{}
	for _, o := range m.store.ExpandedOverrides(appID) {
		if set[o.AudienceID] {
			out = append(out, o)
		}
	}
	return out
}

// MatchFlags returns every flag of app. The first override whose audience
// holds for ctx replaces the flag's type and value.
func (m *Matcher) MatchFlags(appID string, ctx filterquery.Context) []FlagWithOverrides {
	set := m.members(appID, ctx)
	flags := m.store.ExpandedFlags(appID)
	for i := range flags {
		for _, o := range flags[i].Overrides {
			if set[o.AudienceID] {
				flags[i].Type, flags[i].Value = o.Type, o.Value
				break
			}
		}
	}
	return flags
}

// Match dispatches on returns.
func (m *Matcher) Match(appID string, returns Returns, ctx filterquery.Context) (any, error) {
	switch returns {
	case ReturnAudiences:
		return m.MatchAudiences(appID, ctx), nil
	case ReturnOverrides:
		return m.MatchOverrides(appID, ctx), nil
	case ReturnFlags:
		return m.MatchFlags(appID, ctx), nil
	}
	return nil, fmt.Errorf("unknown returns %q", returns)
}
