// Package nodeset provides the built-in retriever/llm/executor nodes and
// the TextGenerator collaborator interface the llm node delegates to.
package nodeset

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/swarmguard/traceflow/internal/resilience"
)

// TextGenerator is the opaque LLM inference collaborator: generate(prompt)
// -> text. The engine core never inspects what is behind it.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// FuncTextGenerator adapts a plain function to TextGenerator, used for
// tests and for the default in-process wiring.
type FuncTextGenerator func(ctx context.Context, prompt string) (string, error)

// Generate calls the wrapped function.
func (f FuncTextGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// EchoTextGenerator is the default collaborator used when no external
// inference backend is configured: it mirrors the reference graph's
// "Response to: <prompt>" behavior.
var EchoTextGenerator TextGenerator = FuncTextGenerator(func(_ context.Context, prompt string) (string, error) {
	return fmt.Sprintf("Response to: %s", prompt), nil
})

// HTTPTextGenerator calls an external inference endpoint over HTTP,
// wrapped in retry with exponential backoff and an adaptive circuit
// breaker. The kernel itself invokes node bodies once, without retry.
type HTTPTextGenerator struct {
	Client  *http.Client
	URL     string
	Breaker *resilience.CircuitBreaker
	Retries int
}

// NewHTTPTextGenerator builds a generator pointed at url with a pooled
// client and a circuit breaker tuned for a chatty inference backend.
func NewHTTPTextGenerator(url string) *HTTPTextGenerator {
	return &HTTPTextGenerator{
		Client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		URL:     url,
		Breaker: resilience.NewCircuitBreaker(30*time.Second, 6, 5, 0.5, 10*time.Second, 2),
		Retries: 3,
	}
}

type genRequest struct {
	Prompt string `json:"prompt"`
}

type genResponse struct {
	Text string `json:"text"`
}

// Generate posts {"prompt": prompt} to the configured endpoint and returns
// the "text" field of the JSON response.
func (g *HTTPTextGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if !g.Breaker.Allow() {
		return "", fmt.Errorf("nodeset: text generator circuit open")
	}
	text, err := resilience.Retry(ctx, g.Retries, 200*time.Millisecond, func() (string, error) {
		return g.doRequest(ctx, prompt)
	})
	g.Breaker.RecordResult(err == nil)
	return text, err
}

func (g *HTTPTextGenerator) doRequest(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(genRequest{Prompt: prompt})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("nodeset: text generator returned %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var out genResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}
