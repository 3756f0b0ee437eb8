// Package validate checks JSON documents against compiled JSON Schemas.
package validate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a compiled JSON Schema. Safe for concurrent use.
type Schema struct {
	name   string
	schema *jsonschema.Schema
}

// Compile compiles a schema document registered under name.
func Compile(name, document string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(document)); err != nil {
		return nil, eris.Wrapf(err, "validate: add schema %s", name)
	}
	s, err := compiler.Compile(name)
	if err != nil {
		return nil, eris.Wrapf(err, "validate: compile schema %s", name)
	}
	return &Schema{name: name, schema: s}, nil
}

// MustCompile is Compile for package-level schemas known to be valid.
func MustCompile(name, document string) *Schema {
	s, err := Compile(name, document)
	if err != nil {
		panic(err)
	}
	return s
}

// Bytes validates a raw JSON document.
func (s *Schema) Bytes(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return eris.Wrapf(err, "validate: %s: unmarshal", s.name)
	}
	return s.check(v)
}

// Value validates v after a JSON round trip, so struct tags apply.
func (s *Schema) Value(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "validate: %s: marshal", s.name)
	}
	return s.Bytes(data)
}

func (s *Schema) check(v any) error {
	if err := s.schema.Validate(v); err != nil {
		return eris.Wrapf(err, "validate: %s", s.name)
	}
	return nil
}

// Messages flattens a validation error into one line per failing location,
// sorted for stable output. Errors that are not schema violations yield a
// single message.
func Messages(err error) []string {
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}

	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.Strings(out)
	return out
}
