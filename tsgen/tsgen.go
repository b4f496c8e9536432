// Package tsgen emits TypeScript interfaces and an API client from the
// OpenAPI document of the flagfilter HTTP API.
package tsgen

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

// DefaultDir is where Init projects keep generated TypeScript.
const DefaultDir = "generated/ts"

type schema struct {
	Ref        string   `yaml:"$ref"`
	Type       string   `yaml:"type"`
	Enum       []string `yaml:"enum"`
	Items      *schema  `yaml:"items"`
	OneOf      []schema `yaml:"oneOf"`
	Nullable   bool     `yaml:"nullable"`
	Required   []string `yaml:"required"`
	Properties named    `yaml:"properties"`
}

type media struct {
	Schema *schema `yaml:"schema"`
}

type parameter struct {
	Name string `yaml:"name"`
	In   string `yaml:"in"`
}

type operation struct {
	OperationID string      `yaml:"operationId"`
	Summary     string      `yaml:"summary"`
	Parameters  []parameter `yaml:"parameters"`
	RequestBody *struct {
		Content map[string]media `yaml:"content"`
	} `yaml:"requestBody"`
	Responses map[string]struct {
		Content map[string]media `yaml:"content"`
	} `yaml:"responses"`
}

type pathItem struct {
	Parameters []parameter `yaml:"parameters"`
	Get        *operation  `yaml:"get"`
	Post       *operation  `yaml:"post"`
	Put        *operation  `yaml:"put"`
	Delete     *operation  `yaml:"delete"`
}

type document struct {
	Paths      yaml.MapSlice `yaml:"paths"`
	Components struct {
		Schemas named `yaml:"schemas"`
	} `yaml:"components"`
}

type namedPath struct {
	Path string
	Item pathItem
}

// named is an ordered name to schema mapping.
type named []namedSchema

type namedSchema struct {
	Name   string
	Schema *schema
}

func (n *named) UnmarshalYAML(unmarshal func(any) error) error {
	var order yaml.MapSlice
	if err := unmarshal(&order); err != nil {
		return err
	}
	var byName map[string]*schema
	if err := unmarshal(&byName); err != nil {
		return err
	}
	for _, it := range order {
		name := fmt.Sprint(it.Key)
		*n = append(*n, namedSchema{Name: name, Schema: byName[name]})
	}
	return nil
}

// Generate reads the OpenAPI YAML at specPath and writes one file per
// component schema plus client.ts into outDir.
func Generate(specPath, outDir string) error {
	data, err := os.ReadFile(specPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", specPath, err)
	}
	return Render(data, outDir)
}

// Render is Generate for a document already in memory.
func Render(spec []byte, outDir string) error {
	schemas, paths, err := parse(spec)
	if err != nil {
		return err
	}
	if outDir == "" {
		outDir = DefaultDir
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	names := make([]string, 0, len(schemas))
	for _, s := range schemas {
		if err := writeInterface(outDir, s.Name, s.Schema); err != nil {
			return err
		}
		names = append(names, s.Name)
	}
	return writeClient(outDir, names, paths)
}

// parse decodes the schemas and paths of spec, both in document order.
func parse(spec []byte) (named, []namedPath, error) {
	var doc document
	if err := yaml.Unmarshal(spec, &doc); err != nil {
		return nil, nil, fmt.Errorf("failed to parse OpenAPI document: %w", err)
	}
	var paths []namedPath
	for _, it := range doc.Paths {
		raw, err := yaml.Marshal(it.Value)
		if err != nil {
			return nil, nil, err
		}
		var item pathItem
		if err := yaml.Unmarshal(raw, &item); err != nil {
			return nil, nil, fmt.Errorf("path %v: %w", it.Key, err)
		}
		paths = append(paths, namedPath{Path: fmt.Sprint(it.Key), Item: item})
	}
	return doc.Components.Schemas, paths, nil
}

func refName(ref string) string {
	return ref[strings.LastIndex(ref, "/")+1:]
}

// tsType renders s as a TypeScript type expression.
func tsType(s *schema) string {
	if s == nil {
		return "unknown"
	}
	t := baseType(s)
	if s.Nullable {
		t += " | null"
	}
	return t
}

func baseType(s *schema) string {
	switch {
	case s.Ref != "":
		return refName(s.Ref)
	case len(s.Enum) > 0:
		quoted := make([]string, len(s.Enum))
		for i, v := range s.Enum {
			quoted[i] = fmt.Sprintf("%q", v)
		}
		return strings.Join(quoted, " | ")
	case len(s.OneOf) > 0:
		parts := make([]string, len(s.OneOf))
		for i := range s.OneOf {
			parts[i] = tsType(&s.OneOf[i])
		}
		return strings.Join(parts, " | ")
	}
	switch s.Type {
	case "array":
		item := tsType(s.Items)
		if strings.Contains(item, " ") {
			item = "(" + item + ")"
		}
		return item + "[]"
	case "object":
		if len(s.Properties) == 0 {
			return "Record<string, unknown>"
		}
		return inlineObject(s)
	case "integer", "number":
		return "number"
	case "boolean":
		return "boolean"
	case "string":
		return "string"
	}
	return "unknown"
}

func inlineObject(s *schema) string {
	var b strings.Builder
	b.WriteString("{ ")
	for _, p := range s.Properties {
		fmt.Fprintf(&b, "%s%s: %s; ", p.Name, optional(s, p.Name), tsType(p.Schema))
	}
	b.WriteString("}")
	return b.String()
}

func optional(s *schema, field string) string {
	for _, r := range s.Required {
		if r == field {
			return ""
		}
	}
	return "?"
}

// refs collects the component names s refers to.
func refs(s *schema, into map[string]bool) {
	if s == nil {
		return
	}
	if s.Ref != "" {
		into[refName(s.Ref)] = true
	}
	refs(s.Items, into)
	for i := range s.OneOf {
		refs(&s.OneOf[i], into)
	}
	for _, p := range s.Properties {
		refs(p.Schema, into)
	}
}

func writeImports(b *strings.Builder, used map[string]bool, self string) {
	delete(used, self)
	names := make([]string, 0, len(used))
	for n := range used {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(b, "import type { %s } from \"./%s\";\n", n, n)
	}
	if len(names) > 0 {
		b.WriteString("\n")
	}
}

func writeInterface(dir, name string, s *schema) error {
	var b strings.Builder
	used := map[string]bool{}
	refs(s, used)
	writeImports(&b, used, name)
	if s == nil || s.Type != "object" || len(s.Properties) == 0 {
		fmt.Fprintf(&b, "export type %s = %s;\n", name, tsType(s))
	} else {
		fmt.Fprintf(&b, "export interface %s {\n", name)
		for _, p := range s.Properties {
			fmt.Fprintf(&b, "  %s%s: %s;\n", p.Name, optional(s, p.Name), tsType(p.Schema))
		}
		b.WriteString("}\n")
	}
	return os.WriteFile(filepath.Join(dir, name+".ts"), []byte(b.String()), 0644)
}

func jsonSchema(content map[string]media) *schema {
	if m, ok := content["application/json"]; ok {
		return m.Schema
	}
	return nil
}

type clientMethod struct {
	name, httpMethod, path string
	params                 []string
	body, result           *schema
	summary                string
}

func methods(paths []namedPath) []clientMethod {
	var out []clientMethod
	for _, p := range paths {
		for _, op := range []struct {
			method string
			op     *operation
		}{
			{"GET", p.Item.Get},
			{"POST", p.Item.Post},
			{"PUT", p.Item.Put},
			{"DELETE", p.Item.Delete},
		} {
			if op.op == nil {
				continue
			}
			m := clientMethod{
				name:       op.op.OperationID,
				httpMethod: op.method,
				path:       p.Path,
				summary:    op.op.Summary,
			}
			if m.name == "" {
				m.name = fallbackName(op.method, p.Path)
			}
			for _, param := range append(append([]parameter{}, p.Item.Parameters...), op.op.Parameters...) {
				if param.In == "path" {
					m.params = append(m.params, param.Name)
				}
			}
			if op.op.RequestBody != nil {
				m.body = jsonSchema(op.op.RequestBody.Content)
			}
			if ok, found := op.op.Responses["200"]; found {
				m.result = jsonSchema(ok.Content)
			}
			out = append(out, m)
		}
	}
	return out
}

// fallbackName builds "postApiAudiencesEvaluate" style names for
// operations without an operationId.
func fallbackName(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, seg := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '-' || r == '_' }) {
		seg = strings.Trim(seg, "{}")
		if seg == "" {
			continue
		}
		b.WriteString(strings.ToUpper(seg[:1]) + seg[1:])
	}
	return b.String()
}

func writeClient(dir string, names []string, paths []namedPath) error {
	var b strings.Builder
	for _, n := range names {
		fmt.Fprintf(&b, "import type { %s } from \"./%s\";\n", n, n)
	}
	b.WriteString(`
export class APIClient {
  constructor(
    private baseUrl: string,
    private appId?: string,
    private apiKey?: string,
  ) {}

  private async request<T>(method: string, path: string, body?: unknown): Promise<T> {
    const headers: Record<string, string> = {};
    if (body !== undefined) {
      headers["Content-Type"] = "application/json";
    }
    if (this.appId) {
      headers["X-App-Id"] = this.appId;
    }
    if (this.apiKey) {
      headers["Authorization"] = ` + "`Bearer ${this.apiKey}`" + `;
    }
    const res = await fetch(this.baseUrl + path, {
      method,
      headers,
      body: body === undefined ? undefined : JSON.stringify(body),
    });
    if (!res.ok) {
      const err = await res.json().catch(() => ({ error: res.statusText }));
      throw new Error(err.error ?? res.statusText);
    }
    return res.json();
  }
`)
	for _, m := range methods(paths) {
		var args []string
		path := m.path
		for _, p := range m.params {
			args = append(args, p+": string")
			path = strings.ReplaceAll(path, "{"+p+"}", "${encodeURIComponent("+p+")}")
		}
		bodyArg := "undefined"
		if m.body != nil {
			args = append(args, "body: "+tsType(m.body))
			bodyArg = "body"
		}
		fmt.Fprintf(&b, "\n  /** %s */\n", m.summary)
		fmt.Fprintf(&b, "  async %s(%s): Promise<%s> {\n", m.name, strings.Join(args, ", "), tsType(m.result))
		fmt.Fprintf(&b, "    return this.request(%q, `%s`, %s);\n", m.httpMethod, path, bodyArg)
		b.WriteString("  }\n")
	}
	b.WriteString("}\n")
	return os.WriteFile(filepath.Join(dir, "client.ts"), []byte(b.String()), 0644)
}
