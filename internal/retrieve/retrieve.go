// Package retrieve turns a user query into scored passages by embedding
// the query and searching the vector store.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docfox/docfox/internal/log"
	"github.com/docfox/docfox/internal/vecstore"
)

// ErrUnavailable wraps failures of the embedding API or the vector
// store so callers can distinguish "retrieval broke" from "nothing
// matched".
var ErrUnavailable = errors.New("retrieve: retrieval unavailable")

// searchTimeout bounds a single retrieval round trip (query embedding
// plus vector search).
const searchTimeout = 10 * time.Second

// embedder is the slice of the embedding client the retriever needs.
type embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// searcher is the slice of the vector store the retriever needs.
type searcher interface {
	Search(ctx context.Context, collection string, embedding []float32, topK int, threshold float64, filter map[string]any) ([]vecstore.Hit, error)
}

// Options override the configured retrieval parameters for one query.
// Zero values fall back to the Retriever's Config.
type Options struct {
	K         int            // result cap; 0 uses the configured TopK
	Threshold *float64       // minimum score; nil uses the configured Threshold
	Filter    map[string]any // metadata containment filter, passed to the index verbatim
}

// Passage is one retrieved chunk with provenance for citation.
type Passage struct {
	ChunkID    string   `json:"chunk_id"`
	DocumentID string   `json:"document_id"`
	Path       string   `json:"path"`
	Title      string   `json:"title"`
	Heading    []string `json:"heading,omitempty"`
	Seq        int      `json:"seq"`
	Text       string   `json:"text"`
	Score      float64  `json:"score"`
}

// Config bounds retrieval.
type Config struct {
	TopK      int
	Threshold float64
}

// Retriever performs semantic retrieval. Safe for concurrent use.
type Retriever struct {
	embedder embedder
	searcher searcher
	cfg      Config
	logger   log.Logger
}

// New creates a Retriever.
func New(e embedder, s searcher, cfg Config, logger log.Logger) (*Retriever, error) {
	if e == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if s == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if cfg.TopK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", cfg.TopK)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Retriever{embedder: e, searcher: s, cfg: cfg, logger: logger}, nil
}

// Retrieve returns passages from the collection scoring at least the
// effective threshold against the query, capped at the effective k and
// ordered by score descending. opts override the configured defaults
// for this query only. An empty result is not an error; infrastructure
// failures wrap ErrUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, collection, query string, opts Options) ([]Passage, error) {
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	k := r.cfg.TopK
	if opts.K > 0 {
		k = opts.K
	}
	threshold := r.cfg.Threshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}

	start := time.Now()
	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", ErrUnavailable, err)
	}

	hits, err := r.searcher.Search(ctx, collection, vec, k, threshold, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("%w: searching: %v", ErrUnavailable, err)
	}

	passages := make([]Passage, 0, len(hits))
	for _, h := range hits {
		passages = append(passages, passageFromHit(h))
	}

	r.logger.Debug("retrieved passages",
		"collection", collection,
		"passages", len(passages),
		"elapsed", time.Since(start),
	)
	return passages, nil
}

// passageFromHit lifts chunk metadata written at ingestion time into
// typed passage fields. Missing keys leave zero values.
func passageFromHit(h vecstore.Hit) Passage {
	p := Passage{
		ChunkID:    h.ID,
		DocumentID: h.DocumentID,
		Seq:        h.Seq,
		Text:       h.Content,
		Score:      h.Score,
	}
	if s, ok := h.Metadata["path"].(string); ok {
		p.Path = s
	}
	if s, ok := h.Metadata["title"].(string); ok {
		p.Title = s
	}
	if hs, ok := h.Metadata["heading"].([]any); ok {
		for _, v := range hs {
			if s, ok := v.(string); ok {
				p.Heading = append(p.Heading, s)
			}
		}
	}
	return p
}
