// Package audience holds the feature flag records that audience filters
// are attached to and matches them against request contexts.
package audience

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
)

// DefaultApp is used for records that do not name an application.
const DefaultApp = "default"

// Audience is a named filter over request contexts.
type Audience struct {
	AppID       string `yaml:"appId,omitempty" json:"appId"`
	AudienceID  string `yaml:"audienceId" json:"audienceId"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description"`
	Filter      string `yaml:"filter" json:"filter"`
	CreatedAt   string `yaml:"createdAt,omitempty" json:"createdAt"`
	UpdatedAt   string `yaml:"updatedAt,omitempty" json:"updatedAt"`
}

// FlagType is the type of a flag's value.
type FlagType string

const (
	FlagBoolean FlagType = "boolean"
	FlagString  FlagType = "string"
	FlagNumber  FlagType = "number"
)

// Check reports whether v is a valid value for t.
func (t FlagType) Check(v any) error {
	ok := false
	switch t {
	case FlagBoolean:
		_, ok = v.(bool)
	case FlagString:
		_, ok = v.(string)
	case FlagNumber:
		switch v.(type) {
		case int, int64, float64:
			ok = true
		}
	default:
		return fmt.Errorf("unknown flag type %q", t)
	}
	if !ok {
		return fmt.Errorf("value %v is not a %s", v, t)
	}
	return nil
}

type Flag struct {
	AppID       string   `yaml:"appId,omitempty" json:"appId"`
	FlagID      string   `yaml:"flagId" json:"flagId"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description"`
	Type        FlagType `yaml:"type" json:"type"`
	Value       any      `yaml:"value" json:"value"`
	CreatedAt   string   `yaml:"createdAt,omitempty" json:"createdAt"`
	UpdatedAt   string   `yaml:"updatedAt,omitempty" json:"updatedAt"`
}

// Override replaces a flag's value for the members of an audience.
type Override struct {
	AppID      string   `yaml:"appId,omitempty" json:"appId"`
	OverrideID string   `yaml:"overrideId" json:"overrideId"`
	FlagID     string   `yaml:"flagId" json:"flagId"`
	AudienceID string   `yaml:"audienceId" json:"audienceId"`
	Type       FlagType `yaml:"type" json:"type"`
	Value      any      `yaml:"value" json:"value"`
	CreatedAt  string   `yaml:"createdAt,omitempty" json:"createdAt"`
	UpdatedAt  string   `yaml:"updatedAt,omitempty" json:"updatedAt"`
}

// Expanded forms returned by the store and the matcher.

type OverrideWithFlag struct {
	Override
	Flag Flag `json:"flag"`
}

type OverrideWithAudience struct {
	Override
	Audience Audience `json:"audience"`
}

type ExpandedOverride struct {
	Override
	Audience Audience `json:"audience"`
	Flag     Flag     `json:"flag"`
}

type AudienceWithOverrides struct {
	Audience
	Overrides []OverrideWithFlag `json:"overrides"`
}

type FlagWithOverrides struct {
	Flag
	Overrides []OverrideWithAudience `json:"overrides"`
}

// NotFoundError names a missing record and close matches among the ids
// that do exist.
type NotFoundError struct {
	Kind        string
	ID          string
	Suggestions []string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s %q not found", e.Kind, e.ID)
	if len(e.Suggestions) > 0 {
		quoted := make([]string, len(e.Suggestions))
		for i, s := range e.Suggestions {
			quoted[i] = fmt.Sprintf("%q", s)
		}
		msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(quoted, ", "))
	}
	return msg
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
