package nodeset

import (
	"context"
	"fmt"

	"github.com/swarmguard/traceflow/internal/node"
	"github.com/swarmguard/traceflow/internal/schema"
)

// RegisterDefaults registers the reference retriever -> llm -> executor
// chain against registry, using gen as the llm node's text-generation
// collaborator.
func RegisterDefaults(registry *node.Registry, gen TextGenerator) error {
	retrieverIn, err := schema.CompileInput(map[string]any{
		"query": map[string]any{"type": "string"},
	}, []string{"query"})
	if err != nil {
		return fmt.Errorf("nodeset: compile retriever input schema: %w", err)
	}
	retrieverOut, err := schema.CompileOutput(map[string]any{
		"documents": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"prompt":    map[string]any{"type": "string"},
	}, []string{"documents", "prompt"})
	if err != nil {
		return fmt.Errorf("nodeset: compile retriever output schema: %w", err)
	}
	if err := registry.Register(&node.Spec{
		Name:         "retriever",
		Version:      "1.0.0",
		Tags:         []string{"builtin", "retrieval"},
		InputSchema:  retrieverIn,
		OutputSchema: retrieverOut,
		Func:         retrieverNode,
	}); err != nil {
		return err
	}

	llmIn, err := schema.CompileInput(map[string]any{
		"documents": map[string]any{"type": "array"},
		"prompt":    map[string]any{"type": "string"},
	}, []string{"prompt"})
	if err != nil {
		return fmt.Errorf("nodeset: compile llm input schema: %w", err)
	}
	llmOut, err := schema.CompileOutput(map[string]any{
		"response": map[string]any{"type": "string"},
		"action":   map[string]any{"type": "string"},
	}, []string{"response", "action"})
	if err != nil {
		return fmt.Errorf("nodeset: compile llm output schema: %w", err)
	}
	if err := registry.Register(&node.Spec{
		Name:         "llm",
		Version:      "1.0.0",
		Tags:         []string{"builtin", "inference"},
		InputSchema:  llmIn,
		OutputSchema: llmOut,
		InputNode:    "retriever",
		Func:         llmNode(gen),
	}); err != nil {
		return err
	}

	executorIn, err := schema.CompileInput(map[string]any{
		"action": map[string]any{"type": "string"},
	}, []string{"action"})
	if err != nil {
		return fmt.Errorf("nodeset: compile executor input schema: %w", err)
	}
	executorOut, err := schema.CompileOutput(map[string]any{
		"result": map[string]any{"type": "string"},
	}, []string{"result"})
	if err != nil {
		return fmt.Errorf("nodeset: compile executor output schema: %w", err)
	}
	if err := registry.Register(&node.Spec{
		Name:         "executor",
		Version:      "1.0.0",
		Tags:         []string{"builtin", "execution"},
		InputSchema:  executorIn,
		OutputSchema: executorOut,
		InputNode:    "llm",
		Func:         executorNode,
	}); err != nil {
		return err
	}
	return nil
}

func retrieverNode(_ context.Context, input map[string]any) (map[string]any, error) {
	query, _ := input["query"].(string)
	doc := fmt.Sprintf("Document for: %s", query)
	return map[string]any{
		"documents": []any{doc},
		"prompt":    query,
	}, nil
}

func llmNode(gen TextGenerator) node.Func {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		prompt, _ := input["prompt"].(string)
		response, err := gen.Generate(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("nodeset: llm generate: %w", err)
		}
		return map[string]any{
			"response": response,
			"action":   prompt,
		}, nil
	}
}

func executorNode(_ context.Context, input map[string]any) (map[string]any, error) {
	action, _ := input["action"].(string)
	return map[string]any{
		"result": fmt.Sprintf("Executed: %s", action),
	}, nil
}
