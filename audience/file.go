package audience

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/daveroberts0321/flagfilter/parser/filterquery"
)

// File is the on-disk form of a set of audiences, flags and overrides.
// App is applied to every record that does not set its own appId.
type File struct {
	App       string     `yaml:"app,omitempty"`
	Audiences []Audience `yaml:"audiences,omitempty"`
	Flags     []Flag     `yaml:"flags,omitempty"`
	Overrides []Override `yaml:"overrides,omitempty"`
}

// LoadFile reads and validates an audience file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	f, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Decode parses YAML audience data, fills in app ids and validates it.
func Decode(data []byte) (*File, error) {
	f, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Parse is Decode without validation, for files whose references live in
// other files.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode audiences: %w", err)
	}
	f.normalize()
	return &f, nil
}

// WriteFile renders f as YAML at path, creating parent directories.
func WriteFile(path string, f *File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode audiences: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (f *File) normalize() {
	app := f.App
	if app == "" {
		app = DefaultApp
	}
	for i := range f.Audiences {
		if f.Audiences[i].AppID == "" {
			f.Audiences[i].AppID = app
		}
	}
	for i := range f.Flags {
		if f.Flags[i].AppID == "" {
			f.Flags[i].AppID = app
		}
	}
	for i := range f.Overrides {
		if f.Overrides[i].AppID == "" {
			f.Overrides[i].AppID = app
		}
	}
}

type key struct{ app, id string }

// FilterError reports an audience whose filter does not parse.
type FilterError struct {
	AppID      string
	AudienceID string
	Err        error
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("audience %q: invalid filter: %v", e.AudienceID, e.Err)
}

func (e *FilterError) Unwrap() error { return e.Err }

// Validate checks every filter, value type and reference in f and reports
// all problems at once. Filter problems are *FilterError values.
func (f *File) Validate() error {
	var errs []error
	audiences := map[key]bool{}
	for _, a := range f.Audiences {
		k := key{a.AppID, a.AudienceID}
		switch {
		case a.AudienceID == "":
			errs = append(errs, errors.New("audience without audienceId"))
		case audiences[k]:
			errs = append(errs, fmt.Errorf("audience %q: %w", a.AudienceID, ErrExists))
		}
		audiences[k] = true
		if err := filterquery.Validate(a.Filter); err != nil {
			errs = append(errs, &FilterError{AppID: a.AppID, AudienceID: a.AudienceID, Err: err})
		}
	}

	flags := map[key]bool{}
	for _, fl := range f.Flags {
		k := key{fl.AppID, fl.FlagID}
		switch {
		case fl.FlagID == "":
			errs = append(errs, errors.New("flag without flagId"))
		case flags[k]:
			errs = append(errs, fmt.Errorf("flag %q: %w", fl.FlagID, ErrExists))
		}
		flags[k] = true
		if err := fl.Type.Check(fl.Value); err != nil {
			errs = append(errs, fmt.Errorf("flag %q: %w", fl.FlagID, err))
		}
	}

	for _, o := range f.Overrides {
		if !audiences[key{o.AppID, o.AudienceID}] {
			errs = append(errs, fmt.Errorf("override %q: audience %q: %w", o.OverrideID, o.AudienceID, ErrNotFound))
		}
		if !flags[key{o.AppID, o.FlagID}] {
			errs = append(errs, fmt.Errorf("override %q: flag %q: %w", o.OverrideID, o.FlagID, ErrNotFound))
		}
		if err := o.Type.Check(o.Value); err != nil {
			errs = append(errs, fmt.Errorf("override %q: %w", o.OverrideID, err))
		}
	}
	return errors.Join(errs...)
}

// Merge concatenates files in order. The result is not validated.
func Merge(files ...*File) *File {
	out := &File{}
	for _, f := range files {
		out.Audiences = append(out.Audiences, f.Audiences...)
		out.Flags = append(out.Flags, f.Flags...)
		out.Overrides = append(out.Overrides, f.Overrides...)
	}
	return out
}
