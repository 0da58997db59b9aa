// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package schema defines the structured-output contract shared by the
// gateways and the request orchestrator. A schema knows its JSON Schema
// definition (so a backend can be told what shape to answer in) and how to
// parse a raw model response into a typed value.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// OutputSchema is the capability a declared output shape provides.
type OutputSchema interface {
	// Name identifies the schema in logs, cache keys, and prompts.
	Name() string

	// Definition returns the JSON Schema document for the expected value.
	Definition() json.RawMessage

	// Parse converts raw model text into a value conforming to the schema.
	// Failures are returned as *ParseError.
	Parse(raw string) (any, error)
}

// ParseError reports a response that could not be parsed or validated,
// even after the bracket-extraction fallback.
type ParseError struct {
	Schema string
	Raw    string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s response: %v", e.Schema, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// maxRawInError bounds the response excerpt kept on a ParseError.
const maxRawInError = 512

// Object is an OutputSchema for values of type T. The JSON Schema is
// reflected from T's json tags: fields without omitempty are required.
type Object[T any] struct {
	name       string
	definition json.RawMessage
	validate   func(*T) error
	open       byte
	close      byte
}

// New builds a schema for T. The optional validate func runs after a
// successful decode and rejects incomplete values (missing required fields,
// wrong counts).
func New[T any](name string, validate func(*T) error) *Object[T] {
	r := jsonschema.Reflector{DoNotReference: true, Anonymous: true}
	def, err := json.Marshal(r.Reflect(new(T)))
	if err != nil {
		// Reflection of a plain struct never fails to marshal.
		panic(fmt.Sprintf("schema %s: marshaling definition: %v", name, err))
	}
	return &Object[T]{
		name:       name,
		definition: def,
		validate:   validate,
		open:       '{',
		close:      '}',
	}
}

// WithBrackets overrides the bracket pair used by the extraction fallback,
// e.g. '[' and ']' for top-level arrays.
func (o *Object[T]) WithBrackets(open, close byte) *Object[T] {
	cp := *o
	cp.open, cp.close = open, close
	return &cp
}

// Name returns the schema name.
func (o *Object[T]) Name() string { return o.name }

// Definition returns the reflected JSON Schema.
func (o *Object[T]) Definition() json.RawMessage { return o.definition }

// Parse implements OutputSchema. The returned value has type T.
func (o *Object[T]) Parse(raw string) (any, error) {
	v, err := o.Decode(raw)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Decode is the typed form of Parse.
func (o *Object[T]) Decode(raw string) (T, error) {
	var zero T
	text := stripCodeFences(raw)
	if text == "" {
		return zero, o.fail(raw, fmt.Errorf("empty response"))
	}

	var v T
	err := json.Unmarshal([]byte(text), &v)
	if err != nil {
		inner, ok := Extract(text, o.open, o.close)
		if !ok {
			return zero, o.fail(raw, err)
		}
		v = *new(T)
		if err := json.Unmarshal([]byte(inner), &v); err != nil {
			return zero, o.fail(raw, err)
		}
	}

	if o.validate != nil {
		if err := o.validate(&v); err != nil {
			return zero, o.fail(raw, err)
		}
	}
	return v, nil
}

func (o *Object[T]) fail(raw string, err error) *ParseError {
	if len(raw) > maxRawInError {
		raw = raw[:maxRawInError]
	}
	return &ParseError{Schema: o.name, Raw: raw, Err: err}
}

// Extract returns the substring from the first open bracket to the last
// close bracket, inclusive. It handles backends that wrap JSON in prose.
func Extract(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// Value asserts a parsed value to T.
func Value[T any](v any) (T, bool) {
	t, ok := v.(T)
	return t, ok
}

// stripCodeFences removes a surrounding Markdown code fence, with or
// without a language tag.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}
	return s
}
