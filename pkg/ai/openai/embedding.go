package openai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/atlas/pkg/ai"
	"github.com/OFFIS-RIT/atlas/pkg/logger"

	"github.com/openai/openai-go/v3"
	"github.com/pkoukk/tiktoken-go"
)

// Embed creates one embedding per input in a single request.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			t = "-"
		}
		inputs[i] = e.truncate(t)
	}

	rCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
		Model: e.model,
	}
	if e.dimensions > 0 {
		body.Dimensions = openai.Int(int64(e.dimensions))
	}

	start := time.Now()
	response, err := e.Client.Embeddings.New(rCtx, body)
	if err != nil {
		return nil, err
	}

	e.modifyMetrics(ai.ModelMetrics{
		Requests:     1,
		InputTokens:  int(response.Usage.PromptTokens),
		TotalTokens:  int(response.Usage.TotalTokens),
		DurationMs:   time.Since(start).Milliseconds(),
		EmbeddedText: len(inputs),
	})

	if len(response.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding response size mismatch: got %d want %d", len(response.Data), len(inputs))
	}

	out := make([][]float32, len(inputs))
	for _, embedding := range response.Data {
		idx := int(embedding.Index)
		if idx < 0 || idx >= len(inputs) {
			return nil, fmt.Errorf("embedding index out of range: %d", embedding.Index)
		}
		vec := make([]float32, len(embedding.Embedding))
		for i, v := range embedding.Embedding {
			vec[i] = float32(v)
		}
		out[idx] = vec
	}
	for i := range out {
		if out[i] == nil {
			return nil, fmt.Errorf("missing embedding for index %d", i)
		}
	}
	return out, nil
}

// truncate cuts text to the model's token limit. Without a tokenizer the
// text is sent unchanged.
func (e *Embedder) truncate(text string) string {
	if e.maxTokens < 0 {
		return text
	}
	e.encOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tokenEncoding)
		if err != nil {
			logger.Warn("[OpenAI] Tokenizer unavailable, inputs are not truncated", "encoding", tokenEncoding, "err", err)
			return
		}
		e.enc = enc
	})
	if e.enc == nil {
		return text
	}
	tokens := e.enc.Encode(text, nil, nil)
	if len(tokens) <= e.maxTokens {
		return text
	}
	return e.enc.Decode(tokens[:e.maxTokens])
}
