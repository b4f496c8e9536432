package audience

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// maxSuggestions bounds the ids offered in a NotFoundError.
const maxSuggestions = 3

type app struct {
	audiences []Audience
	flags     []Flag
	overrides []Override
}

func (a *app) audienceIndex(id string) int {
	return slices.IndexFunc(a.audiences, func(x Audience) bool { return x.AudienceID == id })
}

func (a *app) flag(id string) (Flag, bool) {
	i := slices.IndexFunc(a.flags, func(x Flag) bool { return x.FlagID == id })
	if i < 0 {
		return Flag{}, false
	}
	return a.flags[i], true
}

// Store holds the records of every app. Readers get copies, so a
// Replace never changes a slice a caller is iterating.
type Store struct {
	mu   sync.RWMutex
	apps map[string]*app
	now  func() time.Time
}

func NewStore() *Store {
	return &Store{apps: map[string]*app{}, now: time.Now}
}

// Replace swaps the whole contents of the store for f.
func (s *Store) Replace(f *File) {
	apps := map[string]*app{}
	get := func(id string) *app {
		if apps[id] == nil {
			apps[id] = &app{}
		}
		return apps[id]
	}
	for _, a := range f.Audiences {
		get(a.AppID).audiences = append(get(a.AppID).audiences, a)
	}
	for _, fl := range f.Flags {
		get(fl.AppID).flags = append(get(fl.AppID).flags, fl)
	}
	for _, o := range f.Overrides {
		get(o.AppID).overrides = append(get(o.AppID).overrides, o)
	}

	s.mu.Lock()
	s.apps = apps
	s.mu.Unlock()
}

// Snapshot returns every record as a single File.
func (s *Store) Snapshot() *File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f := &File{}
	for _, id := range s.appIDs() {
		a := s.apps[id]
		f.Audiences = append(f.Audiences, a.audiences...)
		f.Flags = append(f.Flags, a.flags...)
		f.Overrides = append(f.Overrides, a.overrides...)
	}
	return f
}

// Apps lists the known app ids in sorted order.
func (s *Store) Apps() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appIDs()
}

func (s *Store) appIDs() []string {
	ids := make([]string, 0, len(s.apps))
	for id := range s.apps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) Audiences(appID string) []Audience {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a := s.apps[appID]; a != nil {
		return slices.Clone(a.audiences)
	}
	return []Audience{}
}

func (s *Store) Flags(appID string) []Flag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a := s.apps[appID]; a != nil {
		return slices.Clone(a.flags)
	}
	return []Flag{}
}

func (s *Store) Overrides(appID string) []Override {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a := s.apps[appID]; a != nil {
		return slices.Clone(a.overrides)
	}
	return []Override{}
}

func (a *app) expandAudience(au Audience) AudienceWithOverrides {
	out := AudienceWithOverrides{Audience: au, Overrides: []OverrideWithFlag{}}
	for _, o := range a.overrides {
		if o.AudienceID == au.AudienceID {
			fl, _ := a.flag(o.FlagID)
			out.Overrides = append(out.Overrides, OverrideWithFlag{Override: o, Flag: fl})
		}
	}
	return out
}

func (a *app) expandFlag(fl Flag) FlagWithOverrides {
	out := FlagWithOverrides{Flag: fl, Overrides: []OverrideWithAudience{}}
	for _, o := range a.overrides {
		if o.FlagID != fl.FlagID {
			continue
		}
		if i := a.audienceIndex(o.AudienceID); i >= 0 {
			out.Overrides = append(out.Overrides, OverrideWithAudience{Override: o, Audience: a.audiences[i]})
		}
	}
	return out
}

// ExpandedAudiences lists the audiences of an app with their overrides.
func (s *Store) ExpandedAudiences(appID string) []AudienceWithOverrides {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []AudienceWithOverrides{}
	if a := s.apps[appID]; a != nil {
		for _, au := range a.audiences {
			out = append(out, a.expandAudience(au))
		}
	}
	return out
}

// ExpandedFlags lists the flags of an app with their overrides in store
// order. Overrides whose audience is gone are left out.
func (s *Store) ExpandedFlags(appID string) []FlagWithOverrides {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []FlagWithOverrides{}
	if a := s.apps[appID]; a != nil {
		for _, fl := range a.flags {
			out = append(out, a.expandFlag(fl))
		}
	}
	return out
}

// ExpandedOverrides lists the overrides of an app with their audience and
// flag.
func (s *Store) ExpandedOverrides(appID string) []ExpandedOverride {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []ExpandedOverride{}
	a := s.apps[appID]
	if a == nil {
		return out
	}
	for _, o := range a.overrides {
		i := a.audienceIndex(o.AudienceID)
		if i < 0 {
			continue
		}
		fl, _ := a.flag(o.FlagID)
		out = append(out, ExpandedOverride{Override: o, Audience: a.audiences[i], Flag: fl})
	}
	return out
}

// Audience returns one audience with its overrides expanded by flag.
func (s *Store) Audience(appID, audienceID string) (AudienceWithOverrides, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a := s.apps[appID]
	if a == nil {
		return AudienceWithOverrides{}, s.notFound(nil, audienceID)
	}
	i := a.audienceIndex(audienceID)
	if i < 0 {
		return AudienceWithOverrides{}, s.notFound(a, audienceID)
	}
	return a.expandAudience(a.audiences[i]), nil
}

// Create adds a new audience. Its filter must parse.
func (s *Store) Create(in Audience) (Audience, error) {
	if in.AppID == "" {
		in.AppID = DefaultApp
	}
	if err := (&File{Audiences: []Audience{in}}).Validate(); err != nil {
		return Audience{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.apps[in.AppID]
	if a == nil {
		a = &app{}
		s.apps[in.AppID] = a
	}
	if a.audienceIndex(in.AudienceID) >= 0 {
		return Audience{}, fmt.Errorf("audience %q: %w", in.AudienceID, ErrExists)
	}
	ts := s.now().UTC().Format(time.RFC3339Nano)
	in.CreatedAt, in.UpdatedAt = ts, ts
	a.audiences = append(a.audiences, in)
	return in, nil
}

// Update replaces the name, description and filter of an existing audience.
func (s *Store) Update(in Audience) (Audience, error) {
	if in.AppID == "" {
		in.AppID = DefaultApp
	}
	if err := (&File{Audiences: []Audience{in}}).Validate(); err != nil {
		return Audience{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.apps[in.AppID]
	i := -1
	if a != nil {
		i = a.audienceIndex(in.AudienceID)
	}
	if i < 0 {
		return Audience{}, s.notFound(a, in.AudienceID)
	}
	cur := &a.audiences[i]
	cur.Name = in.Name
	cur.Description = in.Description
	cur.Filter = in.Filter
	cur.UpdatedAt = s.now().UTC().Format(time.RFC3339Nano)
	return *cur, nil
}

// Delete removes an audience and every override that targets it.
func (s *Store) Delete(appID, audienceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.apps[appID]
	i := -1
	if a != nil {
		i = a.audienceIndex(audienceID)
	}
	if i < 0 {
		return s.notFound(a, audienceID)
	}
	a.audiences = slices.Delete(a.audiences, i, i+1)
	a.overrides = slices.DeleteFunc(a.overrides, func(o Override) bool { return o.AudienceID == audienceID })
	return nil
}

func (s *Store) notFound(a *app, id string) error {
	var ids []string
	if a != nil {
		for _, x := range a.audiences {
			ids = append(ids, x.AudienceID)
		}
	}
	return &NotFoundError{Kind: "audience", ID: id, Suggestions: suggest(id, ids)}
}

func suggest(target string, candidates []string) []string {
	if target == "" || len(candidates) == 0 {
		return nil
	}
	ranks := fuzzy.RankFindFold(target, candidates)
	sort.Sort(ranks)
	var out []string
	for _, r := range ranks {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, r.Target)
	}
	return out
}
