// Package generator writes new audiences into audience files and renders
// the OpenAPI document for the HTTP server.
package generator

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/daveroberts0321/flagfilter/audience"
	"github.com/daveroberts0321/flagfilter/parser/filterquery"
	"github.com/daveroberts0321/flagfilter/spec/openapi"
)

// DefaultOpenAPIPath is where Init projects keep the generated document.
const DefaultOpenAPIPath = "generated/openapi/spec.yaml"

// GenerateAudience appends a to the audience file at path, creating the
// file when it does not exist. The filter must parse and the id must be
// unused within the file.
func GenerateAudience(path string, a audience.Audience) (audience.Audience, error) {
	if a.AudienceID == "" {
		return a, errors.New("audience id is required")
	}
	if err := filterquery.Validate(a.Filter); err != nil {
		return a, &audience.FilterError{AppID: a.AppID, AudienceID: a.AudienceID, Err: err}
	}
	if a.Name == "" {
		a.Name = titleCase(a.AudienceID)
	}

	f := &audience.File{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if f, err = audience.Parse(data); err != nil {
			return a, fmt.Errorf("%s: %w", path, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return a, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if a.AppID == "" {
		a.AppID = f.App
	}
	if a.AppID == "" {
		a.AppID = audience.DefaultApp
	}
	for _, existing := range f.Audiences {
		if existing.AppID == a.AppID && existing.AudienceID == a.AudienceID {
			return a, fmt.Errorf("audience %q: %w", a.AudienceID, audience.ErrExists)
		}
	}

	f.Audiences = append(f.Audiences, a)
	compact(f)
	if err := audience.WriteFile(path, f); err != nil {
		return a, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return a, nil
}

// GenerateOpenAPI writes the server's OpenAPI document to path.
func GenerateOpenAPI(path string) error {
	if path == "" {
		path = DefaultOpenAPIPath
	}
	if err := openapi.WriteFile(path); err != nil {
		return fmt.Errorf("failed to write OpenAPI spec: %w", err)
	}
	return nil
}

// compact clears app ids that the file's app already implies, so a
// rewritten file keeps the shape it was written in.
func compact(f *audience.File) {
	app := f.App
	if app == "" {
		app = audience.DefaultApp
	}
	for i := range f.Audiences {
		if f.Audiences[i].AppID == app {
			f.Audiences[i].AppID = ""
		}
	}
	for i := range f.Flags {
		if f.Flags[i].AppID == app {
			f.Flags[i].AppID = ""
		}
	}
	for i := range f.Overrides {
		if f.Overrides[i].AppID == app {
			f.Overrides[i].AppID = ""
		}
	}
}

// titleCase turns "beta-testers" into "Beta Testers".
func titleCase(id string) string {
	words := strings.FieldsFunc(id, func(r rune) bool {
		return r == '-' || r == '_' || r == '.'
	})
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
