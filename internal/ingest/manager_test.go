package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docfox/docfox/internal/chunk"
	"github.com/docfox/docfox/internal/log"
	"github.com/docfox/docfox/internal/testutil"
	"github.com/docfox/docfox/internal/vecstore"
)

// fakeIndex records vector store calls in memory.
type fakeIndex struct {
	mu       sync.Mutex
	rows     map[string]map[string]vecstore.Record // collection -> id -> record
	pingErr  error
	upserErr error
	drops    []string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{rows: make(map[string]map[string]vecstore.Record)}
}

func (f *fakeIndex) Ping(context.Context) error { return f.pingErr }

func (f *fakeIndex) Upsert(_ context.Context, collection string, recs []vecstore.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upserErr != nil {
		return f.upserErr
	}
	if f.rows[collection] == nil {
		f.rows[collection] = make(map[string]vecstore.Record)
	}
	for _, r := range recs {
		f.rows[collection][r.ID] = r
	}
	return nil
}

func (f *fakeIndex) DeleteDocument(_ context.Context, collection, documentID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, r := range f.rows[collection] {
		if r.DocumentID == documentID {
			delete(f.rows[collection], id)
			n++
		}
	}
	return n, nil
}

func (f *fakeIndex) DropCollection(_ context.Context, collection string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := int64(len(f.rows[collection]))
	delete(f.rows, collection)
	f.drops = append(f.drops, collection)
	return n, nil
}

func (f *fakeIndex) count(collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows[collection])
}

// blockingEmbedder parks every EmbedBatch call until released or the
// context is cancelled.
type blockingEmbedder struct {
	release chan struct{}
	inner   *testutil.FakeEmbedder
}

func (b *blockingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case <-b.release:
		return b.inner.EmbedBatch(ctx, texts)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func writeSourceTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	return dir
}

func newTestManager(t *testing.T, index indexer, e embedder, cfg Config) *Manager {
	t.Helper()
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.EmbedBatchSize == 0 {
		cfg.EmbedBatchSize = 4
	}
	splitter, err := chunk.NewSplitter(400, 80)
	if err != nil {
		t.Fatalf("NewSplitter: %v", err)
	}
	m, err := NewManager(NewMemoryStore(), index, e, splitter, cfg, log.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func waitStatus(t *testing.T, m *Manager, id string, want Status) Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := m.Get(id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if task.Status == want {
			return task
		}
		if task.Status.Terminal() {
			t.Fatalf("task reached %s (error %q), want %s", task.Status, task.Error, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task never reached %s", want)
	return Task{}
}

func TestIngestCompletes(t *testing.T) {
	src := writeSourceTree(t, map[string]string{
		"guide.md":      "# Guide\n\n" + strings.Repeat("Useful sentence for the index. ", 30),
		"notes.txt":     "plain text notes",
		"sub/deep.rst":  "nested document body",
		"skip.go":       "package skipped",
		".hidden/x.md":  "never scanned",
		"binaryish.png": "not text",
	})
	index := newFakeIndex()
	m := newTestManager(t, index, testutil.NewFakeEmbedder(16), Config{})

	task, err := m.Start(Request{Source: src, Collection: "docs"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if task.Status != StatusPending {
		t.Errorf("initial status = %s, want pending", task.Status)
	}

	done := waitStatus(t, m, task.ID, StatusCompleted)
	if done.DocsTotal != 3 || done.DocsDone != 3 {
		t.Errorf("docs = %d/%d, want 3/3", done.DocsDone, done.DocsTotal)
	}
	if done.Progress != 1 {
		t.Errorf("progress = %v, want 1", done.Progress)
	}
	if len(done.DocErrors) != 0 {
		t.Errorf("doc errors = %v, want none", done.DocErrors)
	}
	if done.ChunksDone == 0 || index.count("docs") != done.ChunksDone {
		t.Errorf("chunks done = %d, indexed = %d", done.ChunksDone, index.count("docs"))
	}
	if done.StartedAt.IsZero() || done.FinishedAt.IsZero() {
		t.Error("timestamps not recorded")
	}

	// Provenance must ride along with each vector.
	index.mu.Lock()
	defer index.mu.Unlock()
	for _, r := range index.rows["docs"] {
		if r.Metadata["path"] == "" || r.Metadata["title"] == "" {
			t.Fatalf("record %q missing provenance metadata: %v", r.ID, r.Metadata)
		}
	}
}

func TestIngestReingestSupersedes(t *testing.T) {
	src := writeSourceTree(t, map[string]string{
		"a.md": strings.Repeat("Original content sentence. ", 40),
	})
	index := newFakeIndex()
	m := newTestManager(t, index, testutil.NewFakeEmbedder(16), Config{})

	task, err := m.Start(Request{Source: src, Collection: "docs"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := waitStatus(t, m, task.ID, StatusCompleted)

	// Shrink the document, re-ingest, and confirm stale chunks are gone.
	if err := os.WriteFile(filepath.Join(src, "a.md"), []byte("short now"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	task2, err := m.Start(Request{Source: src, Collection: "docs"})
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	waitStatus(t, m, task2.ID, StatusCompleted)

	if got := index.count("docs"); got != 1 {
		t.Errorf("indexed chunks after re-ingest = %d, want 1 (was %d)", got, first.ChunksDone)
	}
}

func TestIngestForceReindexDropsCollection(t *testing.T) {
	src := writeSourceTree(t, map[string]string{"a.md": "content"})
	index := newFakeIndex()
	m := newTestManager(t, index, testutil.NewFakeEmbedder(16), Config{})

	task, err := m.Start(Request{Source: src, Collection: "docs", ForceReindex: true})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, m, task.ID, StatusCompleted)

	index.mu.Lock()
	defer index.mu.Unlock()
	if len(index.drops) != 1 || index.drops[0] != "docs" {
		t.Errorf("drops = %v, want [docs]", index.drops)
	}
}

func TestIngestFailsWhenIndexDown(t *testing.T) {
	src := writeSourceTree(t, map[string]string{"a.md": "content"})
	index := newFakeIndex()
	index.pingErr = errors.New("connection refused")
	m := newTestManager(t, index, testutil.NewFakeEmbedder(16), Config{})

	task, err := m.Start(Request{Source: src, Collection: "docs"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	failed := waitStatus(t, m, task.ID, StatusFailed)
	if !strings.Contains(failed.Error, "vector index unavailable") {
		t.Errorf("error = %q, want index unavailable", failed.Error)
	}
	if failed.DocsDone != 0 {
		t.Error("no documents should process after a failed pre-flight")
	}
}

func TestIngestBadDocumentDoesNotFailTask(t *testing.T) {
	src := writeSourceTree(t, map[string]string{
		"good.md":   "fine document",
		"悪い.md":     "POISON text that the embedder rejects",
		"also_ok.md": "another fine document",
	})
	index := newFakeIndex()
	embedder := &poisonEmbedder{inner: testutil.NewFakeEmbedder(16)}
	m := newTestManager(t, index, embedder, Config{})

	task, err := m.Start(Request{Source: src, Collection: "docs"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := waitStatus(t, m, task.ID, StatusCompleted)

	if done.DocsTotal != 3 || done.DocsDone != 2 {
		t.Errorf("docs = %d/%d, want 2/3", done.DocsDone, done.DocsTotal)
	}
	if len(done.DocErrors) != 1 || !strings.Contains(done.DocErrors[0].Message, "rejected") {
		t.Errorf("doc errors = %v, want the poisoned document", done.DocErrors)
	}
	if index.count("docs") == 0 {
		t.Error("healthy documents were not indexed")
	}
}

// poisonEmbedder fails any batch containing the marker string.
type poisonEmbedder struct {
	inner *testutil.FakeEmbedder
}

func (p *poisonEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, "POISON") {
			return nil, errors.New("batch rejected")
		}
	}
	return p.inner.EmbedBatch(ctx, texts)
}

func TestIngestCancellation(t *testing.T) {
	src := writeSourceTree(t, map[string]string{
		"a.md": strings.Repeat("Sentence to embed. ", 100),
	})
	index := newFakeIndex()
	embedder := &blockingEmbedder{release: make(chan struct{}), inner: testutil.NewFakeEmbedder(16)}
	m := newTestManager(t, index, embedder, Config{})

	task, err := m.Start(Request{Source: src, Collection: "docs"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, m, task.ID, StatusRunning)

	if err := m.Cancel(task.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	cancelled := waitStatus(t, m, task.ID, StatusCancelled)
	if cancelled.Status != StatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}

	// Cancelling again must report the task as finished.
	if err := m.Cancel(task.ID); !errors.Is(err, ErrTaskFinished) {
		t.Errorf("second Cancel = %v, want ErrTaskFinished", err)
	}
}

func TestIngestConcurrencyCap(t *testing.T) {
	srcA := writeSourceTree(t, map[string]string{"a.md": "first source"})
	srcB := writeSourceTree(t, map[string]string{"b.md": "second source"})
	index := newFakeIndex()
	embedder := &blockingEmbedder{release: make(chan struct{}), inner: testutil.NewFakeEmbedder(16)}
	m := newTestManager(t, index, embedder, Config{MaxConcurrent: 1})

	taskA, err := m.Start(Request{Source: srcA, Collection: "docs"})
	if err != nil {
		t.Fatalf("Start A: %v", err)
	}
	waitStatus(t, m, taskA.ID, StatusRunning)

	taskB, err := m.Start(Request{Source: srcB, Collection: "docs"})
	if err != nil {
		t.Fatalf("Start B: %v", err)
	}

	// B must queue behind the cap while A is parked in the embedder.
	time.Sleep(50 * time.Millisecond)
	got, _ := m.Get(taskB.ID)
	if got.Status != StatusPending {
		t.Fatalf("second task status = %s, want pending under cap", got.Status)
	}

	close(embedder.release)
	waitStatus(t, m, taskA.ID, StatusCompleted)
	waitStatus(t, m, taskB.ID, StatusCompleted)

	if m.Active() != 0 {
		t.Errorf("Active() = %d after both finished", m.Active())
	}
}

func TestIngestCancelQueuedTask(t *testing.T) {
	srcA := writeSourceTree(t, map[string]string{"a.md": "first"})
	srcB := writeSourceTree(t, map[string]string{"b.md": "second"})
	index := newFakeIndex()
	embedder := &blockingEmbedder{release: make(chan struct{}), inner: testutil.NewFakeEmbedder(16)}
	m := newTestManager(t, index, embedder, Config{MaxConcurrent: 1})

	taskA, _ := m.Start(Request{Source: srcA, Collection: "docs"})
	waitStatus(t, m, taskA.ID, StatusRunning)
	taskB, _ := m.Start(Request{Source: srcB, Collection: "docs"})

	if err := m.Cancel(taskB.ID); err != nil {
		t.Fatalf("Cancel queued: %v", err)
	}
	waitStatus(t, m, taskB.ID, StatusCancelled)

	close(embedder.release)
	waitStatus(t, m, taskA.ID, StatusCompleted)
}

// batchSizeEmbedder records how many texts each EmbedBatch call carries.
type batchSizeEmbedder struct {
	mu    sync.Mutex
	sizes []int
	inner *testutil.FakeEmbedder
}

func (b *batchSizeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	b.mu.Lock()
	b.sizes = append(b.sizes, len(texts))
	b.mu.Unlock()
	return b.inner.EmbedBatch(ctx, texts)
}

func TestIngestBatchSizeOverride(t *testing.T) {
	src := writeSourceTree(t, map[string]string{
		"big.md": strings.Repeat("Sentence to embed over and over. ", 120),
	})
	embedder := &batchSizeEmbedder{inner: testutil.NewFakeEmbedder(16)}
	m := newTestManager(t, newFakeIndex(), embedder, Config{EmbedBatchSize: 8})

	task, err := m.Start(Request{Source: src, Collection: "docs", BatchSize: 2})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := waitStatus(t, m, task.ID, StatusCompleted)
	if done.ChunksDone <= 2 {
		t.Fatalf("chunks done = %d, need more than one batch to observe the override", done.ChunksDone)
	}

	embedder.mu.Lock()
	defer embedder.mu.Unlock()
	if len(embedder.sizes) < 2 {
		t.Fatalf("EmbedBatch calls = %d, want several", len(embedder.sizes))
	}
	for _, n := range embedder.sizes {
		if n > 2 {
			t.Errorf("batch of %d texts, want at most the requested 2", n)
		}
	}
}

func TestStartValidation(t *testing.T) {
	m := newTestManager(t, newFakeIndex(), testutil.NewFakeEmbedder(16), Config{})

	if _, err := m.Start(Request{Source: t.TempDir(), Collection: ""}); err == nil {
		t.Error("empty collection accepted")
	}
	if _, err := m.Start(Request{Source: t.TempDir(), Collection: "docs", BatchSize: -1}); err == nil {
		t.Error("negative batch size accepted")
	}
	if _, err := m.Start(Request{Source: "/does/not/exist", Collection: "docs"}); err == nil {
		t.Error("missing source accepted")
	}
	file := filepath.Join(t.TempDir(), "f.md")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(Request{Source: file, Collection: "docs"}); err == nil {
		t.Error("file source accepted, want directory")
	}
}

func TestIngestEmptySourceCompletes(t *testing.T) {
	m := newTestManager(t, newFakeIndex(), testutil.NewFakeEmbedder(16), Config{})
	task, err := m.Start(Request{Source: t.TempDir(), Collection: "docs"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	done := waitStatus(t, m, task.ID, StatusCompleted)
	if done.DocsTotal != 0 || done.ChunksDone != 0 {
		t.Errorf("empty source produced %d docs / %d chunks", done.DocsTotal, done.ChunksDone)
	}
}

func TestListIncludesAllTasks(t *testing.T) {
	m := newTestManager(t, newFakeIndex(), testutil.NewFakeEmbedder(16), Config{})
	var ids []string
	for i := 0; i < 3; i++ {
		task, err := m.Start(Request{Source: writeSourceTree(t, map[string]string{"a.md": fmt.Sprintf("doc %d", i)}), Collection: "docs"})
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		ids = append(ids, task.ID)
	}
	for _, id := range ids {
		waitStatus(t, m, id, StatusCompleted)
	}
	if got := len(m.List()); got != 3 {
		t.Errorf("List() = %d tasks, want 3", got)
	}
}
