// Package openapi renders the OpenAPI document of the flagfilter HTTP API.
package openapi

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/daveroberts0321/flagfilter/audience"
)

// Version is the API version written into the document.
const Version = "1.0.0"

// components lists the record types published under components/schemas,
// in document order.
var components = []struct {
	name string
	typ  reflect.Type
}{
	{"Audience", reflect.TypeOf(audience.Audience{})},
	{"Flag", reflect.TypeOf(audience.Flag{})},
	{"Override", reflect.TypeOf(audience.Override{})},
	{"AudienceWithOverrides", reflect.TypeOf(audience.AudienceWithOverrides{})},
	{"FlagWithOverrides", reflect.TypeOf(audience.FlagWithOverrides{})},
	{"OverrideWithFlag", reflect.TypeOf(audience.OverrideWithFlag{})},
	{"OverrideWithAudience", reflect.TypeOf(audience.OverrideWithAudience{})},
	{"ExpandedOverride", reflect.TypeOf(audience.ExpandedOverride{})},
}

type m = yaml.MapSlice

type item = yaml.MapItem

// Generate returns the OpenAPI 3.0 document as YAML.
func Generate() (string, error) {
	doc := m{
		{Key: "openapi", Value: "3.0.3"},
		{Key: "info", Value: m{
			{Key: "title", Value: "flagfilter API"},
			{Key: "version", Value: Version},
		}},
		{Key: "paths", Value: paths()},
		{Key: "components", Value: m{
			{Key: "schemas", Value: schemas()},
			{Key: "parameters", Value: m{
				{Key: "AppID", Value: m{
					{Key: "name", Value: "X-App-Id"},
					{Key: "in", Value: "header"},
					{Key: "required", Value: false},
					{Key: "schema", Value: m{{Key: "type", Value: "string"}, {Key: "default", Value: audience.DefaultApp}}},
				}},
			}},
		}},
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode openapi document: %w", err)
	}
	return string(out), nil
}

// WriteFile renders the document and writes it to path.
func WriteFile(path string) error {
	doc, err := Generate()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(doc), 0644)
}

func ref(name string) m {
	return m{{Key: "$ref", Value: "#/components/schemas/" + name}}
}

func arrayOf(name string) m {
	return m{{Key: "type", Value: "array"}, {Key: "items", Value: ref(name)}}
}

func jsonBody(schema any) m {
	return m{{Key: "application/json", Value: m{{Key: "schema", Value: schema}}}}
}

func response(desc string, schema any) m {
	r := m{{Key: "description", Value: desc}}
	if schema != nil {
		r = append(r, item{Key: "content", Value: jsonBody(schema)})
	}
	return r
}

type operation struct {
	method, id, summary string
	body            any
	ok              any
	errors          []int
	app             bool
}

var statusText = map[int]string{
	400: "invalid params",
	401: "unauthorized",
	404: "not found",
	409: "already exists",
	422: "invalid filter",
	429: "rate limit exceeded",
}

func (op operation) render() m {
	out := m{
		{Key: "operationId", Value: op.id},
		{Key: "summary", Value: op.summary},
	}
	if op.app {
		out = append(out, item{Key: "parameters", Value: []any{m{{Key: "$ref", Value: "#/components/parameters/AppID"}}}})
	}
	if op.body != nil {
		out = append(out, item{Key: "requestBody", Value: m{
			{Key: "required", Value: true},
			{Key: "content", Value: jsonBody(op.body)},
		}})
	}
	responses := m{{Key: "200", Value: response("OK", op.ok)}}
	codes := op.errors
	if op.app {
		codes = append(codes, 401, 429)
	}
	for _, code := range codes {
		responses = append(responses, item{Key: fmt.Sprint(code), Value: response(statusText[code], ref("Error"))})
	}
	return append(out, item{Key: "responses", Value: responses})
}

func paths() m {
	idParam := m{
		{Key: "name", Value: "audienceID"},
		{Key: "in", Value: "path"},
		{Key: "required", Value: true},
		{Key: "schema", Value: m{{Key: "type", Value: "string"}}},
	}
	routes := []struct {
		path   string
		params []any
		ops    []operation
	}{
		{"/api/health", nil, []operation{
			{method: "get", id: "health", summary: "Health check", ok: m{{Key: "type", Value: "object"}}},
		}},
		{"/api/match", nil, []operation{
			{method: "post", id: "match", summary: "Match a context against audiences, overrides or flags", body: ref("MatchRequest"), ok: m{{Key: "type", Value: "array"}}, errors: []int{400}, app: true},
		}},
		{"/api/filters/check", nil, []operation{
			{method: "post", id: "checkFilter", summary: "Parse a filter and return its canonical form", body: ref("CheckRequest"), ok: ref("CheckResponse"), errors: []int{400, 422}},
		}},
		{"/api/audiences", nil, []operation{
			{method: "get", id: "listAudiences", summary: "List audiences", ok: arrayOf("AudienceWithOverrides"), app: true},
			{method: "post", id: "createAudience", summary: "Create an audience", body: ref("AudienceRequest"), ok: ref("AudienceWithOverrides"), errors: []int{400, 409, 422}, app: true},
		}},
		{"/api/audiences/evaluate", nil, []operation{
			{method: "post", id: "evaluateAudiences", summary: "Audiences matching a context", body: ref("EvaluateRequest"), ok: arrayOf("AudienceWithOverrides"), errors: []int{400}, app: true},
		}},
		{"/api/audiences/{audienceID}", []any{idParam}, []operation{
			{method: "get", id: "getAudience", summary: "Get an audience", ok: ref("AudienceWithOverrides"), errors: []int{404}, app: true},
			{method: "put", id: "updateAudience", summary: "Update an audience", body: ref("AudienceRequest"), ok: ref("AudienceWithOverrides"), errors: []int{400, 404, 422}, app: true},
			{method: "delete", id: "deleteAudience", summary: "Delete an audience and its overrides", ok: ref("AudienceWithOverrides"), errors: []int{404}, app: true},
		}},
		{"/api/flags", nil, []operation{
			{method: "get", id: "listFlags", summary: "List flags", ok: arrayOf("FlagWithOverrides"), app: true},
		}},
		{"/api/flags/evaluate", nil, []operation{
			{method: "post", id: "evaluateFlags", summary: "Flags resolved for a context", body: ref("EvaluateRequest"), ok: arrayOf("FlagWithOverrides"), errors: []int{400}, app: true},
		}},
		{"/api/overrides", nil, []operation{
			{method: "get", id: "listOverrides", summary: "List overrides", ok: arrayOf("ExpandedOverride"), app: true},
		}},
		{"/api/overrides/evaluate", nil, []operation{
			{method: "post", id: "evaluateOverrides", summary: "Overrides applying to a context", body: ref("EvaluateRequest"), ok: arrayOf("ExpandedOverride"), errors: []int{400}, app: true},
		}},
	}

	out := m{}
	for _, r := range routes {
		p := m{}
		if r.params != nil {
			p = append(p, item{Key: "parameters", Value: r.params})
		}
		for _, op := range r.ops {
			p = append(p, item{Key: op.method, Value: op.render()})
		}
		out = append(out, item{Key: r.path, Value: p})
	}
	return out
}

func object(required []string, props m) m {
	out := m{{Key: "type", Value: "object"}}
	if len(required) > 0 {
		out = append(out, item{Key: "required", Value: required})
	}
	return append(out, item{Key: "properties", Value: props})
}

func schemas() m {
	str := m{{Key: "type", Value: "string"}}
	obj := m{{Key: "type", Value: "object"}}
	out := m{}
	for _, c := range components {
		out = append(out, item{Key: c.name, Value: structSchema(c.typ)})
	}
	return append(out,
		item{Key: "MatchRequest", Value: object([]string{"returns", "context"}, m{
			{Key: "returns", Value: m{{Key: "type", Value: "string"}, {Key: "enum", Value: []string{
				string(audience.ReturnAudiences), string(audience.ReturnOverrides), string(audience.ReturnFlags),
			}}}},
			{Key: "context", Value: obj},
		})},
		item{Key: "EvaluateRequest", Value: object([]string{"context"}, m{{Key: "context", Value: obj}})},
		item{Key: "CheckRequest", Value: object([]string{"filter"}, m{{Key: "filter", Value: str}})},
		item{Key: "CheckResponse", Value: object([]string{"valid"}, m{
			{Key: "valid", Value: m{{Key: "type", Value: "boolean"}}},
			{Key: "filter", Value: str},
			{Key: "accessors", Value: m{{Key: "type", Value: "array"}, {Key: "items", Value: str}}},
			{Key: "error", Value: str},
			{Key: "offset", Value: m{{Key: "type", Value: "integer"}}},
		})},
		item{Key: "AudienceRequest", Value: object([]string{"name", "filter"}, m{
			{Key: "audienceId", Value: str},
			{Key: "name", Value: str},
			{Key: "description", Value: m{{Key: "type", Value: "string"}, {Key: "nullable", Value: true}}},
			{Key: "filter", Value: str},
		})},
		item{Key: "Error", Value: object([]string{"error"}, m{
			{Key: "error", Value: str},
			{Key: "suggestions", Value: m{{Key: "type", Value: "array"}, {Key: "items", Value: str}}},
		})},
	)
}

// structSchema describes t from its json tags. Embedded structs are
// flattened the way encoding/json flattens them.
func structSchema(t reflect.Type) m {
	props := m{}
	var required []string
	var walk func(reflect.Type)
	walk = func(t reflect.Type) {
		for i := range t.NumField() {
			f := t.Field(i)
			if f.Anonymous {
				walk(f.Type)
				continue
			}
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				continue
			}
			props = append(props, item{Key: name, Value: fieldSchema(f.Type)})
			required = append(required, name)
		}
	}
	walk(t)
	return object(required, props)
}

var flagType = reflect.TypeOf(audience.FlagType(""))

func fieldSchema(t reflect.Type) m {
	if t == flagType {
		return m{{Key: "type", Value: "string"}, {Key: "enum", Value: []string{
			string(audience.FlagBoolean), string(audience.FlagString), string(audience.FlagNumber),
		}}}
	}
	for _, c := range components {
		if c.typ == t {
			return ref(c.name)
		}
	}
	switch t.Kind() {
	case reflect.Slice:
		return m{{Key: "type", Value: "array"}, {Key: "items", Value: fieldSchema(t.Elem())}}
	case reflect.Interface:
		return m{{Key: "oneOf", Value: []any{
			m{{Key: "type", Value: "boolean"}},
			m{{Key: "type", Value: "string"}},
			m{{Key: "type", Value: "number"}},
		}}}
	}
	typ, format := mapType(t.Kind())
	s := m{{Key: "type", Value: typ}}
	if format != "" {
		s = append(s, item{Key: "format", Value: format})
	}
	return s
}

// mapType maps Go kinds to OpenAPI types and optional formats.
func mapType(k reflect.Kind) (string, string) {
	switch k {
	case reflect.Int, reflect.Int32, reflect.Int64:
		return "integer", ""
	case reflect.Float32, reflect.Float64:
		return "number", "double"
	case reflect.Bool:
		return "boolean", ""
	case reflect.Map, reflect.Struct:
		return "object", ""
	default:
		return "string", ""
	}
}
