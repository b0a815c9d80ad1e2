package ollama

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/atlas/pkg/ai"

	"github.com/ollama/ollama/api"
)

// Embed sends all texts in one /api/embed request.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	inputs := make([]string, len(texts))
	for i, t := range texts {
		if t = strings.TrimSpace(t); t == "" {
			t = "-"
		}
		inputs[i] = t
	}

	rCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := e.Client.Embed(rCtx, &api.EmbedRequest{
		Model: e.model,
		Input: inputs,
	})
	if err != nil {
		return nil, err
	}

	e.modifyMetrics(ai.ModelMetrics{
		Requests:     1,
		InputTokens:  res.PromptEvalCount,
		TotalTokens:  res.PromptEvalCount,
		DurationMs:   res.TotalDuration.Milliseconds(),
		EmbeddedText: len(inputs),
	})

	if len(res.Embeddings) != len(inputs) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(res.Embeddings), len(inputs))
	}
	return res.Embeddings, nil
}
