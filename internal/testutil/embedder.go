package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
)

// FakeEmbedder is a deterministic in-process embedder for tests. It
// hashes words into a fixed-dimension bag-of-words vector and
// normalizes it, so texts sharing vocabulary score high cosine
// similarity and unrelated texts score near zero. No network access.
//
// FakeEmbedder is safe for concurrent use.
type FakeEmbedder struct {
	Dim int

	// Err, when set, is returned by every call.
	Err error

	mu    sync.Mutex
	calls int
}

// NewFakeEmbedder creates a FakeEmbedder with the given dimension.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	return &FakeEmbedder{Dim: dim}
}

// EmbedBatch embeds each text deterministically, preserving order.
func (f *FakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

// EmbedQuery embeds a single query string.
func (f *FakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Ping mirrors the production embedder's health probe.
func (f *FakeEmbedder) Ping(ctx context.Context) error {
	_, err := f.EmbedQuery(ctx, "ping")
	return err
}

// Calls returns how many embed calls were made.
func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Dimension returns the configured output dimensionality.
func (f *FakeEmbedder) Dimension() int { return f.Dim }

func (f *FakeEmbedder) vector(text string) []float32 {
	vec := make([]float64, f.Dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[int(h.Sum32())%f.Dim]++
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, f.Dim)
	if norm == 0 {
		// Whitespace-only text: arbitrary fixed unit vector.
		out[0] = 1
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
