// Package schema compiles and validates explicit JSON Schema documents
// supplied as data values (map[string]any), rather than deriving schemas
// by reflecting over Go struct tags.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// baseInputProperties are merged into every node's input schema: every node
// receives a trace identifier and the caller's context tags.
var baseInputProperties = map[string]any{
	"trace_id":     map[string]any{"type": "string"},
	"context_tags": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
}

// baseOutputProperties are merged into every node's output schema: every node
// emits a timestamp and node metadata alongside its own declared fields.
var baseOutputProperties = map[string]any{
	"execution_timestamp": map[string]any{"type": "string"},
	"node_meta":           map[string]any{"type": "object"},
}

// Schema is a compiled JSON Schema ready for validation.
type Schema struct {
	compiled *jsonschema.Schema
	raw      map[string]any
}

// Raw returns the schema document as originally supplied (with base fields merged in).
func (s *Schema) Raw() map[string]any { return s.raw }

// Validate checks value (already JSON-shaped, e.g. map[string]any) against the schema.
func (s *Schema) Validate(value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("schema: marshal value: %w", err)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return fmt.Errorf("schema: unmarshal value: %w", err)
	}
	if err := s.compiled.Validate(generic); err != nil {
		return fmt.Errorf("schema: validation failed: %w", err)
	}
	return nil
}

var (
	compileMu   sync.Mutex
	compileSeq  int
)

// CompileInput compiles a node's declared input schema merged with the base
// input fields every node must accept.
func CompileInput(fields map[string]any, required []string) (*Schema, error) {
	return compile(mergeProperties(fields, baseInputProperties), appendUnique(required, "trace_id"))
}

// CompileOutput compiles a node's declared output schema merged with the
// base output fields every node must emit.
func CompileOutput(fields map[string]any, required []string) (*Schema, error) {
	return compile(mergeProperties(fields, baseOutputProperties), appendUnique(required, "execution_timestamp", "node_meta"))
}

func mergeProperties(declared, base map[string]any) map[string]any {
	merged := make(map[string]any, len(declared)+len(base))
	for k, v := range declared {
		merged[k] = v
	}
	for k, v := range base {
		merged[k] = v
	}
	return merged
}

func appendUnique(required []string, extra ...string) []string {
	seen := make(map[string]bool, len(required))
	out := append([]string{}, required...)
	for _, r := range required {
		seen[r] = true
	}
	for _, e := range extra {
		if !seen[e] {
			out = append(out, e)
			seen[e] = true
		}
	}
	return out
}

func compile(properties map[string]any, required []string) (*Schema, error) {
	doc := map[string]any{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal document: %w", err)
	}

	compileMu.Lock()
	compileSeq++
	url := fmt.Sprintf("mem://traceflow/schema/%d.json", compileSeq)
	compileMu.Unlock()

	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("schema: add resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}
	return &Schema{compiled: compiled, raw: doc}, nil
}
