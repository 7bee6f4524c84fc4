package nodeset

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEchoTextGeneratorWrapsPrompt(t *testing.T) {
	got, err := EchoTextGenerator.Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "Response to: hi" {
		t.Fatalf("expected 'Response to: hi', got %q", got)
	}
}

func TestHTTPTextGeneratorCallsEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req genRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(genResponse{Text: "Response to: " + req.Prompt})
	}))
	defer srv.Close()

	gen := NewHTTPTextGenerator(srv.URL)
	got, err := gen.Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "Response to: hi" {
		t.Fatalf("expected 'Response to: hi', got %q", got)
	}
}

func TestHTTPTextGeneratorSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	gen := NewHTTPTextGenerator(srv.URL)
	gen.Retries = 1
	if _, err := gen.Generate(context.Background(), "hi"); err == nil {
		t.Fatalf("expected error from failing backend")
	}
}
