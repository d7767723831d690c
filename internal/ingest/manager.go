package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/docfox/docfox/internal/chunk"
	"github.com/docfox/docfox/internal/log"
	"github.com/docfox/docfox/internal/vecstore"
)

// ErrTaskFinished indicates a cancel request arrived after the task
// already reached a terminal status.
var ErrTaskFinished = errors.New("ingest: task already finished")

// indexer is the slice of the vector store ingestion needs.
type indexer interface {
	Ping(ctx context.Context) error
	Upsert(ctx context.Context, collection string, recs []vecstore.Record) error
	DeleteDocument(ctx context.Context, collection, documentID string) (int64, error)
	DropCollection(ctx context.Context, collection string) (int64, error)
}

// embedder is the slice of the embedding client ingestion needs.
type embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Request starts one ingestion run. A positive BatchSize overrides the
// configured embedding batch size for this run only.
type Request struct {
	Source       string `json:"source"`
	Collection   string `json:"collection"`
	ForceReindex bool   `json:"force_reindex,omitempty"`
	BatchSize    int    `json:"batch_size,omitempty"`
}

// Config bounds the manager.
type Config struct {
	MaxConcurrent  int // ingestion tasks running at once
	EmbedBatchSize int // chunks per embedding call
}

// Manager runs ingestion tasks in the background. Safe for concurrent
// use. At most MaxConcurrent tasks run at once; the rest queue in
// pending status.
type Manager struct {
	store    Store
	index    indexer
	embedder embedder
	splitter *chunk.Splitter
	cfg      Config
	logger   log.Logger

	sem *semaphore.Weighted

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	closed  bool

	wg sync.WaitGroup
}

// NewManager creates a Manager.
func NewManager(store Store, index indexer, e embedder, splitter *chunk.Splitter, cfg Config, logger log.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("task store is required")
	}
	if index == nil {
		return nil, fmt.Errorf("indexer is required")
	}
	if e == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if splitter == nil {
		return nil, fmt.Errorf("splitter is required")
	}
	if cfg.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("max concurrent must be positive, got %d", cfg.MaxConcurrent)
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 32
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Manager{
		store:    store,
		index:    index,
		embedder: e,
		splitter: splitter,
		cfg:      cfg,
		logger:   logger,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		cancels:  make(map[string]context.CancelFunc),
	}, nil
}

// Start validates the request, registers a pending task, and launches
// the worker. The task runs detached from the caller's context; use
// Cancel to stop it.
func (m *Manager) Start(req Request) (Task, error) {
	if req.Collection == "" {
		return Task{}, fmt.Errorf("ingest: collection is required")
	}
	if req.BatchSize < 0 {
		return Task{}, fmt.Errorf("ingest: batch size must be positive, got %d", req.BatchSize)
	}
	info, err := os.Stat(req.Source)
	if err != nil {
		return Task{}, fmt.Errorf("ingest: source %q: %w", req.Source, err)
	}
	if !info.IsDir() {
		return Task{}, fmt.Errorf("ingest: source %q is not a directory", req.Source)
	}

	task := Task{
		ID:           uuid.NewString(),
		Collection:   req.Collection,
		Source:       req.Source,
		ForceReindex: req.ForceReindex,
		Status:       StatusPending,
		CreatedAt:    time.Now(),
	}
	if err := m.store.Create(task); err != nil {
		return Task{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return Task{}, fmt.Errorf("ingest: manager is shut down")
	}
	m.cancels[task.ID] = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(runCtx, task.ID, req)

	m.logger.Info("ingestion task queued",
		"task_id", task.ID,
		"collection", req.Collection,
		"source", req.Source,
		"force_reindex", req.ForceReindex,
	)
	return task, nil
}

// Get returns a task snapshot.
func (m *Manager) Get(id string) (Task, error) { return m.store.Get(id) }

// List returns all task snapshots, newest first.
func (m *Manager) List() []Task { return m.store.List() }

// Active returns how many tasks are pending or running.
func (m *Manager) Active() int {
	n := 0
	for _, t := range m.store.List() {
		if !t.Status.Terminal() {
			n++
		}
	}
	return n
}

// Cancel requests cooperative cancellation. The task transitions to
// cancelled at its next checkpoint (between documents or embedding
// batches). Cancelling a finished task returns ErrTaskFinished.
func (m *Manager) Cancel(id string) error {
	t, err := m.store.Get(id)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTaskFinished, id, t.Status)
	}

	m.mu.Lock()
	cancel, ok := m.cancels[id]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	m.logger.Info("ingestion task cancel requested", "task_id", id)
	return nil
}

// Close cancels every live task and waits for workers to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context, id string, req Request) {
	defer m.wg.Done()
	defer m.removeCancel(id)

	// Queue behind the concurrency cap; cancellation while queued
	// resolves immediately.
	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.finish(id, StatusCancelled, "")
		return
	}
	defer m.sem.Release(1)

	if _, err := m.store.Update(id, func(t *Task) {
		t.Status = StatusRunning
		t.StartedAt = time.Now()
	}); err != nil {
		m.logger.Error("marking task running", "task_id", id, "error", err)
		return
	}

	// Pre-flight: a dead index fails the task before any work.
	if err := m.index.Ping(ctx); err != nil {
		m.finish(id, StatusFailed, fmt.Sprintf("vector index unavailable: %v", err))
		return
	}

	docs, scanErrs, err := scanDocuments(req.Source)
	if err != nil {
		m.finish(id, StatusFailed, err.Error())
		return
	}
	if _, err := m.store.Update(id, func(t *Task) {
		t.DocsTotal = len(docs)
		t.DocErrors = append(t.DocErrors, scanErrs...)
	}); err != nil {
		m.logger.Error("recording scan results", "task_id", id, "error", err)
	}

	if req.ForceReindex {
		if _, err := m.index.DropCollection(ctx, req.Collection); err != nil {
			if ctx.Err() != nil {
				m.finish(id, StatusCancelled, "")
				return
			}
			m.finish(id, StatusFailed, fmt.Sprintf("dropping collection: %v", err))
			return
		}
	}

	batchSize := m.cfg.EmbedBatchSize
	if req.BatchSize > 0 {
		batchSize = req.BatchSize
	}

	for _, doc := range docs {
		if ctx.Err() != nil {
			m.finish(id, StatusCancelled, "")
			return
		}
		if err := m.processDocument(ctx, id, req.Collection, doc, batchSize); err != nil {
			if ctx.Err() != nil {
				m.finish(id, StatusCancelled, "")
				return
			}
			// One bad document does not fail the run.
			m.logger.Warn("document failed",
				"task_id", id,
				"path", doc.Path,
				"error", err,
			)
			if _, uerr := m.store.Update(id, func(t *Task) {
				t.DocErrors = append(t.DocErrors, DocError{Path: doc.Path, Message: err.Error()})
			}); uerr != nil {
				m.logger.Error("recording document error", "task_id", id, "error", uerr)
			}
			continue
		}
		if _, err := m.store.Update(id, func(t *Task) { t.DocsDone++ }); err != nil {
			m.logger.Error("recording document progress", "task_id", id, "error", err)
		}
	}

	if ctx.Err() != nil {
		m.finish(id, StatusCancelled, "")
		return
	}
	m.finish(id, StatusCompleted, "")
}

// processDocument replaces a document's chunks in the index: delete the
// old rows, then embed and upsert the new ones batch by batch.
func (m *Manager) processDocument(ctx context.Context, taskID, collection string, doc chunk.Document, batchSize int) error {
	chunks := m.splitter.Split(doc)

	if _, err := m.index.DeleteDocument(ctx, collection, doc.ID); err != nil {
		return fmt.Errorf("superseding previous chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}

	for start := 0; start < len(chunks); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := chunks[start:min(start+batchSize, len(chunks))]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vecs, err := m.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding chunks [%d:%d]: %w", start, start+len(batch), err)
		}

		recs := make([]vecstore.Record, len(batch))
		for i, c := range batch {
			recs[i] = vecstore.Record{
				ID:         c.ID,
				DocumentID: c.DocumentID,
				Seq:        c.Seq,
				Content:    c.Text,
				Embedding:  vecs[i],
				Metadata:   chunkMetadata(doc, c),
			}
		}
		if err := m.index.Upsert(ctx, collection, recs); err != nil {
			return fmt.Errorf("indexing chunks [%d:%d]: %w", start, start+len(batch), err)
		}

		if _, err := m.store.Update(taskID, func(t *Task) { t.ChunksDone += len(batch) }); err != nil {
			m.logger.Error("recording chunk progress", "task_id", taskID, "error", err)
		}
	}
	return nil
}

// chunkMetadata is the provenance stored next to each vector, read back
// at retrieval time for citation.
func chunkMetadata(doc chunk.Document, c chunk.Chunk) map[string]any {
	meta := map[string]any{
		"path":     doc.Path,
		"title":    doc.Title,
		"doc_hash": doc.ContentHash,
	}
	if len(c.HeadingPath) > 0 {
		heading := make([]any, len(c.HeadingPath))
		for i, h := range c.HeadingPath {
			heading[i] = h
		}
		meta["heading"] = heading
	}
	return meta
}

func (m *Manager) finish(id string, status Status, errMsg string) {
	t, err := m.store.Update(id, func(t *Task) {
		t.Status = status
		t.Error = errMsg
		t.FinishedAt = time.Now()
	})
	if err != nil {
		m.logger.Error("finishing task", "task_id", id, "status", status, "error", err)
		return
	}
	m.logger.Info("ingestion task finished",
		"task_id", id,
		"status", status,
		"docs_done", t.DocsDone,
		"docs_total", t.DocsTotal,
		"chunks", t.ChunksDone,
		"doc_errors", len(t.DocErrors),
		"elapsed", t.FinishedAt.Sub(t.CreatedAt),
	)
}

func (m *Manager) removeCancel(id string) {
	m.mu.Lock()
	if cancel, ok := m.cancels[id]; ok {
		cancel()
		delete(m.cancels, id)
	}
	m.mu.Unlock()
}
