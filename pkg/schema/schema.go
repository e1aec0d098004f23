// Package schema validates brick parameters against per-brick JSON
// Schemas (draft 2020-12). Validation is strict: unknown fields are
// rejected and format assertions (date-time, email) are enforced.
package schema

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/brickfoundry/gateway/pkg/api"
)

// FieldError is one field-level validation failure, surfaced to clients
// in the error details list.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Validator holds compiled schemas keyed by brick name. Registration
// happens at startup; validation is read-only and safe for concurrent
// use.
type Validator struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewValidator creates an empty validator.
func NewValidator() *Validator {
	return &Validator{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles and stores the schema for a brick. Format assertions
// are enabled so "format": "date-time" and "format": "email" are checked,
// not merely annotated.
func (v *Validator) Register(brick, schemaJSON string) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true

	url := fmt.Sprintf("https://gateway.schemas.local/bricks/%s.schema.json", brick)
	if err := c.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("schema: loading schema for %s: %w", brick, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("schema: compiling schema for %s: %w", brick, err)
	}

	v.mu.Lock()
	v.schemas[brick] = compiled
	v.mu.Unlock()
	return nil
}

// Validate checks params against the brick's schema. A failure yields
// VALIDATION_FAILED carrying the full field/reason list. Bricks without
// a registered schema pass; the dispatcher has already rejected unknown
// brick names by the time validation runs.
func (v *Validator) Validate(brick string, params map[string]any) *api.Error {
	v.mu.RLock()
	compiled, ok := v.schemas[brick]
	v.mu.RUnlock()
	if !ok {
		return nil
	}

	// jsonschema validates any, but params arrive decoded as
	// map[string]any from the request body.
	var doc any = params
	if params == nil {
		doc = map[string]any{}
	}

	err := compiled.Validate(doc)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	fields := []FieldError{}
	if verr, ok := err.(*jsonschema.ValidationError); ok {
		ve = verr
		fields = flatten(ve)
	} else {
		fields = append(fields, FieldError{Field: "params", Reason: err.Error()})
	}

	return api.NewError(api.CodeValidationFailed, fmt.Sprintf("invalid parameters for %s", brick)).
		WithDetails(fields)
}

// flatten walks the validation error tree and returns leaf failures.
// Required-property failures are expanded so each missing field is
// reported under its own name rather than under the object root.
func flatten(ve *jsonschema.ValidationError) []FieldError {
	if len(ve.Causes) == 0 {
		if missing := missingProperties(ve.Message); len(missing) > 0 {
			out := make([]FieldError, 0, len(missing))
			for _, name := range missing {
				out = append(out, FieldError{Field: name, Reason: "required field is missing"})
			}
			return out
		}
		return []FieldError{{Field: fieldName(ve.InstanceLocation), Reason: ve.Message}}
	}
	var out []FieldError
	for _, cause := range ve.Causes {
		out = append(out, flatten(cause)...)
	}
	return out
}

// missingProperties extracts property names from the library's
// "missing properties: 'a', 'b'" message. Returns nil for other
// failures.
func missingProperties(message string) []string {
	rest, ok := strings.CutPrefix(message, "missing properties: ")
	if !ok {
		return nil
	}
	var names []string
	for _, part := range strings.Split(rest, ",") {
		name := strings.Trim(strings.TrimSpace(part), "'")
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

func fieldName(instanceLocation string) string {
	f := strings.TrimPrefix(instanceLocation, "/")
	if f == "" {
		return "params"
	}
	return strings.ReplaceAll(f, "/", ".")
}
