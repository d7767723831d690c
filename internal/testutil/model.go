package testutil

import (
	"context"
	"iter"
	"sync"
)

// FakeModel is a scripted text-generation model for tests. Stream
// yields Chunks in order; when Err is set it is yielded after FailAfter
// chunks (so both immediate and mid-stream failures are testable).
//
// FakeModel is safe for concurrent use.
type FakeModel struct {
	Chunks    []string
	Err       error
	FailAfter int

	mu      sync.Mutex
	prompts []string
}

// Stream yields the scripted chunks, honoring context cancellation
// between chunks.
func (f *FakeModel) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	return func(yield func(string, error) bool) {
		for i, chunk := range f.Chunks {
			if f.Err != nil && i == f.FailAfter {
				yield("", f.Err)
				return
			}
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
		if f.Err != nil && f.FailAfter >= len(f.Chunks) {
			yield("", f.Err)
		}
	}
}

// Prompts returns every prompt passed to Stream, in call order.
func (f *FakeModel) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.prompts))
	copy(out, f.prompts)
	return out
}

// LastPrompt returns the most recent prompt, or "" if none.
func (f *FakeModel) LastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}
