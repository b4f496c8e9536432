// Package project scaffolds and loads flagfilter projects: a config file
// next to directories of audience YAML files.
package project

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/daveroberts0321/flagfilter/audience"
	"github.com/daveroberts0321/flagfilter/parser/filterquery"
	"github.com/daveroberts0321/flagfilter/watch"
)

//go:embed templates/*
var templates embed.FS

// ConfigFile is the name of the project config written by Init.
const ConfigFile = "flagfilter.yaml"

// Init creates a new project in dir with a config and a sample audience file.
func Init(dir string) error {
	if _, err := os.Stat(filepath.Join(dir, ConfigFile)); err == nil {
		return fmt.Errorf("project already exists in %s", dir)
	}

	for _, d := range []string{
		dir,
		filepath.Join(dir, "audiences"),
		filepath.Join(dir, "generated", "openapi"),
	} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}

	name := filepath.Base(filepath.Clean(dir))
	templateFiles := map[string]string{
		ConfigFile:               "templates/flagfilter.yaml",
		"audiences/default.yaml": "templates/default.yaml",
		"README.md":              "templates/README.md",
		".gitignore":             "templates/gitignore",
	}
	for filePath, templatePath := range templateFiles {
		if err := writeTemplateFile(dir, filePath, templatePath, name); err != nil {
			return fmt.Errorf("failed to write %s: %w", filePath, err)
		}
	}
	return nil
}

func writeTemplateFile(projectDir, filePath, templatePath, projectName string) error {
	content, err := templates.ReadFile(templatePath)
	if err != nil {
		return err
	}

	contentStr := string(content)
	contentStr = strings.ReplaceAll(contentStr, "{{.ProjectName}}", projectName)
	contentStr = strings.ReplaceAll(contentStr, "{{.ModuleName}}", strings.ToLower(projectName))

	fullPath := filepath.Join(projectDir, filePath)
	return os.WriteFile(fullPath, []byte(contentStr), 0644)
}

// FindAudienceFiles expands paths into audience files. Directories are
// walked recursively, skipping generated output and hidden directories.
// Files are taken as given.
func FindAudienceFiles(paths ...string) ([]string, error) {
	var files []string
	seen := map[string]bool{}
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && (d.Name() == "generated" || strings.HasPrefix(d.Name(), ".")) {
					return filepath.SkipDir
				}
				return nil
			}
			if watch.IsAudienceFile(path) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// Problem is one thing wrong with a project. AudienceID is set when Err
// is a filter syntax error. File is empty for problems that span files.
type Problem struct {
	File       string
	AudienceID string
	Err        error
}

func (p Problem) String() string {
	var b strings.Builder
	if p.File != "" {
		b.WriteString(p.File + ": ")
	}
	if p.AudienceID != "" {
		fmt.Fprintf(&b, "audience %q: invalid filter: ", p.AudienceID)
	}
	b.WriteString(p.Err.Error())
	return b.String()
}

// Check loads every audience file under paths and reports every problem:
// files that do not decode, filters that do not parse, and values or
// references that do not hold across all files together.
func Check(paths ...string) ([]Problem, error) {
	files, err := FindAudienceFiles(paths...)
	if err != nil {
		return nil, err
	}
	var problems []Problem
	var parsed []*audience.File
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		f, err := audience.Parse(data)
		if err != nil {
			problems = append(problems, Problem{File: file, Err: err})
			continue
		}
		for _, a := range f.Audiences {
			if err := filterquery.Validate(a.Filter); err != nil {
				problems = append(problems, Problem{File: file, AudienceID: a.AudienceID, Err: err})
			}
		}
		parsed = append(parsed, f)
	}
	for _, err := range unjoin(audience.Merge(parsed...).Validate()) {
		var ferr *audience.FilterError
		if errors.As(err, &ferr) {
			continue
		}
		problems = append(problems, Problem{Err: err})
	}
	return problems, nil
}

// Build loads every audience file under paths into one validated File.
func Build(paths ...string) (*audience.File, error) {
	files, err := FindAudienceFiles(paths...)
	if err != nil {
		return nil, err
	}
	var parsed []*audience.File
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		f, err := audience.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		parsed = append(parsed, f)
	}
	merged := audience.Merge(parsed...)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

func unjoin(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
