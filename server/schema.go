package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const contextSchema = `{"type": "object"}`

var requestSchemas = map[string]string{
	"match": `{
		"type": "object",
		"required": ["returns", "context"],
		"properties": {
			"returns": {"enum": ["audiences", "overrides", "flags"]},
			"context": ` + contextSchema + `
		},
		"additionalProperties": false
	}`,
	"evaluate": `{
		"type": "object",
		"required": ["context"],
		"properties": {"context": ` + contextSchema + `},
		"additionalProperties": false
	}`,
	"check": `{
		"type": "object",
		"required": ["filter"],
		"properties": {"filter": {"type": "string"}},
		"additionalProperties": false
	}`,
	"createAudience": `{
		"type": "object",
		"required": ["audienceId", "name", "filter"],
		"properties": {
			"audienceId": {"type": "string", "pattern": "^[A-Za-z0-9][A-Za-z0-9_.-]*$"},
			"name": {"type": "string", "minLength": 1},
			"description": {"type": ["string", "null"]},
			"filter": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	"updateAudience": `{
		"type": "object",
		"required": ["name", "filter"],
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"description": {"type": ["string", "null"]},
			"filter": {"type": "string"}
		},
		"additionalProperties": false
	}`,
}

type schemas struct {
	byName map[string]*jsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	sc := &schemas{byName: map[string]*jsonschema.Schema{}}
	for name, src := range requestSchemas {
		url := "schema://" + name + ".json"
		if err := compiler.AddResource(url, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		sc.byName[name] = schema
	}
	return sc, nil
}

// decode validates body against the named schema and then decodes it into
// dst. Numbers are kept as json.Number so integers in contexts stay exact.
func (sc *schemas) decode(name string, body io.Reader, dst any) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	var raw any
	if err := unmarshal(data, &raw); err != nil {
		return err
	}
	if err := sc.byName[name].Validate(raw); err != nil {
		return err
	}
	return unmarshal(data, dst)
}

func unmarshal(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}
