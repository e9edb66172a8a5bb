// Package schema compiles and validates JSON Schema documents using
// github.com/santhosh-tekuri/jsonschema/v6, the validator the teacher uses
// for tool-payload validation in registry/service.go. It backs function
// input/output schema validation (spec §3, §4.9) and tool-call argument
// validation (spec §4.6).
package schema

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is a compiled JSON Schema ready for repeated validation.
type Schema struct {
	compiled *jsonschema.Schema
	raw      json.RawMessage
}

var resourceCounter atomic.Uint64

// Compile parses and compiles a JSON Schema document. raw must be a valid
// JSON object; an empty/nil raw is rejected by callers before reaching here
// since schema presence is itself a config invariant (spec §3).
func Compile(raw json.RawMessage) (*Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema: unmarshal: %w", err)
	}
	c := jsonschema.NewCompiler()
	// Resource URIs must be unique per compiler instance; derive one that is
	// stable for error messages but collision-free across concurrent compiles.
	uri := fmt.Sprintf("mem://schema/%d", resourceCounter.Add(1))
	if err := c.AddResource(uri, doc); err != nil {
		return nil, fmt.Errorf("schema: add resource: %w", err)
	}
	compiled, err := c.Compile(uri)
	if err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}
	return &Schema{compiled: compiled, raw: raw}, nil
}

// Raw returns the original schema document.
func (s *Schema) Raw() json.RawMessage { return s.raw }

// ValidateBytes validates a JSON document (as raw bytes) against the schema.
func (s *Schema) ValidateBytes(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("schema: unmarshal payload: %w", err)
	}
	return s.Validate(doc)
}

// Validate validates an already-decoded JSON value (map[string]any, etc.)
// against the schema.
func (s *Schema) Validate(doc any) error {
	if err := s.compiled.Validate(doc); err != nil {
		return err
	}
	return nil
}
