// Package ai holds the embedding contract and the two-tier embedder used by
// the ETL projector and the query service.
package ai

import (
	"context"

	"github.com/OFFIS-RIT/atlas/pkg/common"
)

// ErrDimensionMismatch is returned when an embedding does not have the
// dimension already fixed for the run or the collection.
var ErrDimensionMismatch = common.ErrDimensionMismatch

// Embedder turns texts into vectors. The result has one vector per input,
// in input order.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ModelMetrics accumulates provider usage.
type ModelMetrics struct {
	Requests     int   `json:"requests"`
	InputTokens  int   `json:"input_tokens"`
	TotalTokens  int   `json:"total_tokens"`
	DurationMs   int64 `json:"duration_ms"`
	EmbeddedText int   `json:"embedded_texts"`
}

// Add merges m2 into m.
func (m *ModelMetrics) Add(m2 ModelMetrics) {
	m.Requests += m2.Requests
	m.InputTokens += m2.InputTokens
	m.TotalTokens += m2.TotalTokens
	m.DurationMs += m2.DurationMs
	m.EmbeddedText += m2.EmbeddedText
}
