package retrieve

import (
	"context"
	"errors"
	"testing"

	"github.com/docfox/docfox/internal/log"
	"github.com/docfox/docfox/internal/testutil"
	"github.com/docfox/docfox/internal/vecstore"
)

// fakeSearcher returns scripted hits and records the search inputs.
type fakeSearcher struct {
	hits       []vecstore.Hit
	err        error
	collection string
	topK       int
	threshold  float64
	filter     map[string]any
}

func (f *fakeSearcher) Search(_ context.Context, collection string, _ []float32, topK int, threshold float64, filter map[string]any) ([]vecstore.Hit, error) {
	f.collection = collection
	f.topK = topK
	f.threshold = threshold
	f.filter = filter
	return f.hits, f.err
}

func TestRetrievePassesConfigThrough(t *testing.T) {
	fs := &fakeSearcher{hits: []vecstore.Hit{
		{
			ID:         "doc_a:0000",
			DocumentID: "doc_a",
			Seq:        0,
			Content:    "install with the serve command",
			Score:      0.82,
			Metadata: map[string]any{
				"path":    "docs/install.md",
				"title":   "install.md",
				"heading": []any{"Install", "Linux"},
			},
		},
	}}
	r, err := New(testutil.NewFakeEmbedder(16), fs, Config{TopK: 7, Threshold: 0.4}, log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	passages, err := r.Retrieve(context.Background(), "docs", "how do I install", Options{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if fs.collection != "docs" || fs.topK != 7 || fs.threshold != 0.4 {
		t.Errorf("search got (%q, %d, %v), want (docs, 7, 0.4)", fs.collection, fs.topK, fs.threshold)
	}
	if len(passages) != 1 {
		t.Fatalf("got %d passages, want 1", len(passages))
	}
	p := passages[0]
	if p.ChunkID != "doc_a:0000" || p.Path != "docs/install.md" || p.Title != "install.md" {
		t.Errorf("provenance not lifted from metadata: %+v", p)
	}
	if len(p.Heading) != 2 || p.Heading[0] != "Install" || p.Heading[1] != "Linux" {
		t.Errorf("heading path = %v, want [Install Linux]", p.Heading)
	}
	if p.Score != 0.82 {
		t.Errorf("score = %v, want 0.82", p.Score)
	}
}

func TestRetrieveOverrides(t *testing.T) {
	fs := &fakeSearcher{}
	r, err := New(testutil.NewFakeEmbedder(16), fs, Config{TopK: 7, Threshold: 0.4}, log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	threshold := 0.9
	filter := map[string]any{"chapter": "2"}
	if _, err := r.Retrieve(context.Background(), "docs", "query", Options{
		K:         2,
		Threshold: &threshold,
		Filter:    filter,
	}); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if fs.topK != 2 {
		t.Errorf("topK = %d, want override 2", fs.topK)
	}
	if fs.threshold != 0.9 {
		t.Errorf("threshold = %v, want override 0.9", fs.threshold)
	}
	if fs.filter["chapter"] != "2" {
		t.Errorf("filter = %v, want chapter=2 passed through", fs.filter)
	}

	// Zero overrides fall back to the configured defaults.
	if _, err := r.Retrieve(context.Background(), "docs", "query", Options{}); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if fs.topK != 7 || fs.threshold != 0.4 || fs.filter != nil {
		t.Errorf("defaults not applied: got (%d, %v, %v)", fs.topK, fs.threshold, fs.filter)
	}

	// A zero-valued explicit threshold is an override, not a default.
	zero := 0.0
	if _, err := r.Retrieve(context.Background(), "docs", "query", Options{Threshold: &zero}); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if fs.threshold != 0 {
		t.Errorf("threshold = %v, want explicit 0", fs.threshold)
	}
}

func TestRetrieveEmptyResultIsNotError(t *testing.T) {
	r, err := New(testutil.NewFakeEmbedder(16), &fakeSearcher{}, Config{TopK: 5}, log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	passages, err := r.Retrieve(context.Background(), "docs", "unmatched query", Options{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(passages) != 0 {
		t.Errorf("got %d passages, want 0", len(passages))
	}
}

func TestRetrieveWrapsInfrastructureErrors(t *testing.T) {
	t.Run("searcher down", func(t *testing.T) {
		fs := &fakeSearcher{err: errors.New("connection refused")}
		r, _ := New(testutil.NewFakeEmbedder(16), fs, Config{TopK: 5}, log.NewNop())
		_, err := r.Retrieve(context.Background(), "docs", "query", Options{})
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("error = %v, want ErrUnavailable", err)
		}
	})

	t.Run("embedder down", func(t *testing.T) {
		fe := testutil.NewFakeEmbedder(16)
		fe.Err = errors.New("quota exceeded")
		r, _ := New(fe, &fakeSearcher{}, Config{TopK: 5}, log.NewNop())
		_, err := r.Retrieve(context.Background(), "docs", "query", Options{})
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("error = %v, want ErrUnavailable", err)
		}
	})
}

func TestNewValidation(t *testing.T) {
	fe := testutil.NewFakeEmbedder(16)
	if _, err := New(nil, &fakeSearcher{}, Config{TopK: 5}, nil); err == nil {
		t.Error("nil embedder accepted")
	}
	if _, err := New(fe, nil, Config{TopK: 5}, nil); err == nil {
		t.Error("nil searcher accepted")
	}
	if _, err := New(fe, &fakeSearcher{}, Config{TopK: 0}, nil); err == nil {
		t.Error("zero topK accepted")
	}
}
