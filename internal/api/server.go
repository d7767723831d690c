// Package api exposes the document assistant over HTTP.
//
// Endpoints:
//
//	POST   /api/chat                   - chat (JSON, or SSE with "stream": true)
//	POST   /api/ingest                 - start an ingestion task (202)
//	GET    /api/ingest/status          - all ingestion tasks
//	GET    /api/ingest/status/{id}     - one ingestion task
//	POST   /api/ingest/{id}/cancel     - cancel an ingestion task
//	GET    /api/collections            - list collections with counts
//	DELETE /api/collections/{name}     - drop a collection
//	GET    /health                     - dependency health probe
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/docfox/docfox/internal/answer"
	"github.com/docfox/docfox/internal/chat"
	"github.com/docfox/docfox/internal/ingest"
	"github.com/docfox/docfox/internal/log"
	"github.com/docfox/docfox/internal/vecstore"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to shut out slow-header clients.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on
	// keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// chatService is the slice of the chat pipeline the HTTP layer needs.
type chatService interface {
	Chat(ctx context.Context, req chat.Request) (<-chan answer.Event, error)
	Ask(ctx context.Context, req chat.Request) (chat.Result, error)
}

// ingestManager is the slice of the ingestion manager the HTTP layer needs.
type ingestManager interface {
	Start(req ingest.Request) (ingest.Task, error)
	Get(id string) (ingest.Task, error)
	List() []ingest.Task
	Cancel(id string) error
	Active() int
}

// collectionStore is the slice of the vector store the HTTP layer needs.
type collectionStore interface {
	Collections(ctx context.Context) ([]vecstore.CollectionInfo, error)
	DropCollection(ctx context.Context, collection string) (int64, error)
	Ping(ctx context.Context) error
}

// pinger reports whether a remote dependency is reachable.
type pinger interface {
	Ping(ctx context.Context) error
}

// Config contains everything the server serves.
type Config struct {
	Logger   log.Logger
	Chat     chatService     // required
	Ingest   ingestManager   // required
	Index    collectionStore // required
	Embedder pinger          // optional: nil skips the embedder health check
}

// Server is the JSON API HTTP server.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Chat == nil {
		return nil, errors.New("chat service is required")
	}
	if cfg.Ingest == nil {
		return nil, errors.New("ingest manager is required")
	}
	if cfg.Index == nil {
		return nil, errors.New("vector store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	ch := &chatHandler{chat: cfg.Chat, logger: logger}
	mux.HandleFunc("POST /api/chat", ch.serveChat)

	ih := &ingestHandler{manager: cfg.Ingest, logger: logger}
	mux.HandleFunc("POST /api/ingest", ih.start)
	mux.HandleFunc("GET /api/ingest/status", ih.list)
	mux.HandleFunc("GET /api/ingest/status/{id}", ih.get)
	mux.HandleFunc("POST /api/ingest/{id}/cancel", ih.cancel)

	co := &collectionHandler{store: cfg.Index, logger: logger}
	mux.HandleFunc("GET /api/collections", co.list)
	mux.HandleFunc("DELETE /api/collections/{name}", co.drop)

	hh := &healthHandler{
		index:    cfg.Index,
		embedder: cfg.Embedder,
		ingest:   cfg.Ingest,
		logger:   logger,
	}
	mux.HandleFunc("GET /health", hh.health)

	return &Server{mux: mux, logger: logger}, nil
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery -> logging -> routes.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully. WriteTimeout stays unset so SSE streams
// are not cut off mid-answer.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
