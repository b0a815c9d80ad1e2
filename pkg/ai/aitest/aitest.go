// Package aitest provides deterministic embedders for tests.
package aitest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// HashEmbedder maps every lowercase word to a bucket of a Dim-sized vector
// and L2-normalises the counts. Texts sharing words score high under cosine.
type HashEmbedder struct {
	Label string
	Dim   int
	// Fail, when set, is consulted before every call with the 1-based call
	// number. A non-nil result fails that call.
	Fail func(call int) error

	mu    sync.Mutex
	calls int
	texts int
}

func (e *HashEmbedder) Name() string {
	if e.Label == "" {
		return "hash"
	}
	return e.Label
}

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.mu.Unlock()
	if e.Fail != nil {
		if err := e.Fail(call); err != nil {
			return nil, err
		}
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = Vector(t, e.Dim)
	}
	e.mu.Lock()
	e.texts += len(texts)
	e.mu.Unlock()
	return out, nil
}

// Calls is the number of Embed calls so far.
func (e *HashEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Texts is the number of texts embedded successfully.
func (e *HashEmbedder) Texts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.texts
}

// Vector is the embedding HashEmbedder produces for text.
func Vector(text string, dim int) []float32 {
	if dim <= 0 {
		dim = 16
	}
	v := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(dim)]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
