// Package vecstore persists chunk vectors in PostgreSQL + pgvector and
// serves cosine similarity search over them.
package vecstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/docfox/docfox/internal/log"
)

// ErrEmptyCollection is returned when an operation names a blank collection.
var ErrEmptyCollection = errors.New("vecstore: collection name is empty")

// candidateMultiplier controls how many rows the similarity query
// over-fetches before the score threshold is applied. The threshold can
// discard results, so fetching only topK would under-fill.
const candidateMultiplier = 4

// Record is one chunk row to be stored.
type Record struct {
	ID         string
	DocumentID string
	Seq        int
	Content    string
	Embedding  []float32
	Metadata   map[string]any
}

// Hit is one similarity search result. Score is cosine similarity in
// [-1, 1]; higher is more similar.
type Hit struct {
	ID         string
	DocumentID string
	Seq        int
	Content    string
	Metadata   map[string]any
	Score      float64
}

// CollectionInfo summarizes one collection.
type CollectionInfo struct {
	Name      string `json:"name"`
	Chunks    int64  `json:"chunks"`
	Documents int64  `json:"documents"`
}

const upsertChunkSQL = `INSERT INTO chunks (collection, id, document_id, seq, content, embedding, metadata)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (collection, id) DO UPDATE SET
		document_id = EXCLUDED.document_id,
		seq = EXCLUDED.seq,
		content = EXCLUDED.content,
		embedding = EXCLUDED.embedding,
		metadata = EXCLUDED.metadata,
		updated_at = now()`

// Store manages chunk vectors in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a vector Store.
func New(pool *pgxpool.Pool, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Upsert writes records into a collection in one round trip. Existing
// rows with the same (collection, id) are overwritten, which makes
// re-ingestion idempotent.
func (s *Store) Upsert(ctx context.Context, collection string, recs []Record) error {
	if collection == "" {
		return ErrEmptyCollection
	}
	if len(recs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range recs {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for %q: %w", r.ID, err)
		}
		batch.Queue(upsertChunkSQL,
			collection, r.ID, r.DocumentID, r.Seq, r.Content,
			pgvector.NewVector(r.Embedding), meta)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer func() {
		if err := br.Close(); err != nil {
			s.logger.Warn("closing upsert batch", "error", err)
		}
	}()

	for i := range recs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upserting chunk %q: %w", recs[i].ID, err)
		}
	}

	s.logger.Debug("upserted chunks", "collection", collection, "count", len(recs))
	return nil
}

// Search returns up to topK chunks from the collection whose cosine
// similarity to the query embedding is at least threshold, ordered by
// similarity descending. The query over-fetches and filters in Go so a
// high threshold still returns every qualifying row up to topK. A
// non-empty filter restricts candidates to rows whose metadata contains
// it; the filter is handed to the index as-is, with no interpretation
// of its keys.
func (s *Store) Search(ctx context.Context, collection string, embedding []float32, topK int, threshold float64, filter map[string]any) ([]Hit, error) {
	if collection == "" {
		return nil, ErrEmptyCollection
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	query := `SELECT id, document_id, seq, content, metadata, 1 - (embedding <=> $1) AS score
		 FROM chunks
		 WHERE collection = $2`
	args := []any{pgvector.NewVector(embedding), collection}
	if len(filter) > 0 {
		fj, err := json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("marshaling metadata filter: %w", err)
		}
		// Containment is served by the jsonb_path_ops GIN index.
		query += ` AND metadata @> $3`
		args = append(args, fj)
	}
	query += fmt.Sprintf(`
		 ORDER BY embedding <=> $1
		 LIMIT $%d`, len(args)+1)
	args = append(args, topK*candidateMultiplier)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h    Hit
			meta []byte
		)
		if err := rows.Scan(&h.ID, &h.DocumentID, &h.Seq, &h.Content, &meta, &h.Score); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		if h.Score < threshold {
			// Rows are ordered by distance, every following row scores lower.
			break
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &h.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling metadata for %q: %w", h.ID, err)
			}
		}
		hits = append(hits, h)
		if len(hits) == topK {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}
	return hits, nil
}

// DeleteDocument removes every chunk of one document from a collection
// and reports how many rows were deleted.
func (s *Store) DeleteDocument(ctx context.Context, collection, documentID string) (int64, error) {
	if collection == "" {
		return 0, ErrEmptyCollection
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM chunks WHERE collection = $1 AND document_id = $2`,
		collection, documentID)
	if err != nil {
		return 0, fmt.Errorf("deleting document %q: %w", documentID, err)
	}
	return tag.RowsAffected(), nil
}

// DropCollection removes every chunk in a collection. The per-collection
// advisory lock serializes the drop against concurrent re-ingestion of
// the same collection; pg_advisory_xact_lock releases at commit/rollback.
func (s *Store) DropCollection(ctx context.Context, collection string) (int64, error) {
	if collection == "" {
		return 0, ErrEmptyCollection
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, collection); err != nil {
		return 0, fmt.Errorf("acquiring advisory lock: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM chunks WHERE collection = $1`, collection)
	if err != nil {
		return 0, fmt.Errorf("dropping collection %q: %w", collection, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing drop: %w", err)
	}

	s.logger.Info("dropped collection", "collection", collection, "chunks", tag.RowsAffected())
	return tag.RowsAffected(), nil
}

// Collections lists every collection with chunk and document counts,
// ordered by name.
func (s *Store) Collections(ctx context.Context) ([]CollectionInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT collection, count(*), count(DISTINCT document_id)
		 FROM chunks
		 GROUP BY collection
		 ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()

	var infos []CollectionInfo
	for rows.Next() {
		var info CollectionInfo
		if err := rows.Scan(&info.Name, &info.Chunks, &info.Documents); err != nil {
			return nil, fmt.Errorf("scanning collection row: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading collection rows: %w", err)
	}
	return infos, nil
}

// Ping verifies database connectivity. Used by health checks and as the
// pre-flight check before ingestion starts.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
