package hashutil

import "testing"

func TestHashStableUnderKeyOrder(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2}
	b := map[string]any{"a": 2, "b": 1}
	ha, err := Hash(a)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hb, err := Hash(b)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if ha != hb {
		t.Fatalf("expected equal hashes, got %s != %s", ha, hb)
	}
}

func TestHashDiffersOnValueChange(t *testing.T) {
	h1, _ := Hash(map[string]any{"x": 1})
	h2, _ := Hash(map[string]any{"x": 2})
	if h1 == h2 {
		t.Fatalf("expected different hashes for different values")
	}
}

func TestHashNestedStructures(t *testing.T) {
	v := map[string]any{
		"list": []any{
			map[string]any{"z": 1, "a": 2},
			"hi",
		},
	}
	h1, err := Hash(v)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	// Same structure with inner map keys reordered should still hash equal.
	v2 := map[string]any{
		"list": []any{
			map[string]any{"a": 2, "z": 1},
			"hi",
		},
	}
	h2, err := Hash(v2)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected equal hashes for reordered nested map, got %s != %s", h1, h2)
	}
}
