package schema

import "testing"

func TestCompileInputRequiresBaseFields(t *testing.T) {
	s, err := CompileInput(map[string]any{
		"query": map[string]any{"type": "string"},
	}, []string{"query"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	err = s.Validate(map[string]any{"query": "hi", "trace_id": "t1", "context_tags": []any{}})
	if err != nil {
		t.Fatalf("expected valid document, got error: %v", err)
	}

	err = s.Validate(map[string]any{"query": "hi"})
	if err == nil {
		t.Fatalf("expected validation failure for missing trace_id")
	}
}

func TestCompileInputRejectsWrongType(t *testing.T) {
	s, err := CompileInput(map[string]any{
		"query": map[string]any{"type": "string"},
	}, []string{"query"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	err = s.Validate(map[string]any{"query": 123, "trace_id": "t1", "context_tags": []any{}})
	if err == nil {
		t.Fatalf("expected validation failure for query:123")
	}
}

func TestCompileOutputRequiresMeta(t *testing.T) {
	s, err := CompileOutput(map[string]any{
		"result": map[string]any{"type": "string"},
	}, []string{"result"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	err = s.Validate(map[string]any{"result": "ok"})
	if err == nil {
		t.Fatalf("expected validation failure for missing node_meta/execution_timestamp")
	}
}
