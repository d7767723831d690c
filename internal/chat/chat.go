// Package chat wires retrieval, conversation state, and generation into
// the question-answering pipeline behind the chat API.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/docfox/docfox/internal/answer"
	"github.com/docfox/docfox/internal/convo"
	"github.com/docfox/docfox/internal/log"
	"github.com/docfox/docfox/internal/retrieve"
)

// ErrEmptyMessage rejects blank questions before any work starts.
var ErrEmptyMessage = errors.New("chat: message is empty")

// retriever is the slice of the retrieval layer the pipeline needs.
type retriever interface {
	Retrieve(ctx context.Context, collection, query string, opts retrieve.Options) ([]retrieve.Passage, error)
}

// Request is one chat turn. A zero SessionID starts a new session; an
// empty Collection falls back to the configured default. Retrieval
// carries the per-request overrides unchanged.
type Request struct {
	SessionID  uuid.UUID
	Collection string
	Message    string
	Retrieval  retrieve.Options
}

// Result is the non-streaming answer shape.
type Result struct {
	SessionID string             `json:"session_id"`
	Answer    string             `json:"answer"`
	Sources   []retrieve.Passage `json:"sources,omitempty"`
	Grounded  bool               `json:"grounded"`
	ElapsedMS int64              `json:"elapsed_ms"`
}

// Config bounds the pipeline.
type Config struct {
	DefaultCollection string
	TokenBudget       int
}

// Service runs the pipeline. Safe for concurrent use; turns addressed
// to the same session are serialized by the session manager.
type Service struct {
	sessions  *convo.Manager
	retriever retriever
	generator *answer.Generator
	cfg       Config
	logger    log.Logger
}

// New creates a chat Service.
func New(sessions *convo.Manager, r retriever, g *answer.Generator, cfg Config, logger log.Logger) (*Service, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if r == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if g == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.DefaultCollection == "" {
		return nil, fmt.Errorf("default collection is required")
	}
	if cfg.TokenBudget <= 0 {
		return nil, fmt.Errorf("token budget must be positive, got %d", cfg.TokenBudget)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{sessions: sessions, retriever: r, generator: g, cfg: cfg, logger: logger}, nil
}

// Chat answers one question as an event stream. Input problems return
// an error immediately; failures after the stream opens arrive as an
// EventError on the channel. The session stays locked until the stream
// terminates, so concurrent turns on one session run in order.
func (s *Service) Chat(ctx context.Context, req Request) (<-chan answer.Event, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}
	collection := req.Collection
	if collection == "" {
		collection = s.cfg.DefaultCollection
	}

	handle, err := s.sessions.Acquire(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	sessionID := handle.ID().String()

	passages, err := s.retriever.Retrieve(ctx, collection, req.Message, req.Retrieval)
	if err != nil {
		s.logger.Warn("retrieval unavailable",
			"session_id", sessionID,
			"collection", collection,
			"error", err,
		)
		handle.Release()
		return singleEvent(answer.Event{
			Type:      answer.EventError,
			SessionID: sessionID,
			Code:      answer.CodeRetrievalUnavailable,
			Message:   err.Error(),
		}), nil
	}
	if len(passages) == 0 {
		s.logger.Debug("no passages above threshold",
			"session_id", sessionID,
			"collection", collection,
		)
	}

	prompt, kept := convo.BuildPrompt(handle.History(), passages, req.Message, s.cfg.TokenBudget)

	out := make(chan answer.Event, 1)
	go func() {
		defer close(out)
		defer handle.Release()

		for e := range s.generator.Generate(ctx, sessionID, prompt, kept) {
			if e.Type == answer.EventDone {
				handle.Append(req.Message, e.Answer)
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Ask answers one question synchronously by draining the event stream.
func (s *Service) Ask(ctx context.Context, req Request) (Result, error) {
	events, err := s.Chat(ctx, req)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for e := range events {
		switch e.Type {
		case answer.EventDone:
			res = Result{
				SessionID: e.SessionID,
				Answer:    e.Answer,
				Sources:   e.Sources,
				Grounded:  e.Grounded,
				ElapsedMS: e.ElapsedMS,
			}
		case answer.EventError:
			return Result{}, fmt.Errorf("chat: %s: %s", e.Code, e.Message)
		}
	}
	if res.SessionID == "" {
		return Result{}, fmt.Errorf("chat: stream ended without a terminal event: %w", ctx.Err())
	}
	return res, nil
}

// singleEvent returns a closed stream carrying exactly one event.
func singleEvent(e answer.Event) <-chan answer.Event {
	ch := make(chan answer.Event, 1)
	ch <- e
	close(ch)
	return ch
}
