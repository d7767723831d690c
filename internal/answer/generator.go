package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docfox/docfox/internal/log"
	"github.com/docfox/docfox/internal/retrieve"
)

// EventType discriminates streamed answer events.
type EventType string

const (
	// EventStart opens a stream: session id plus candidate sources.
	EventStart EventType = "start"
	// EventChunk carries one text delta.
	EventChunk EventType = "chunk"
	// EventDone closes a successful stream with the full answer,
	// the sources actually cited, and timing.
	EventDone EventType = "done"
	// EventError closes a failed stream. No events follow it.
	EventError EventType = "error"
)

// Event is one element of an answer stream. Exactly one EventStart
// opens the stream and exactly one EventDone or EventError closes it.
type Event struct {
	Type      EventType          `json:"type"`
	SessionID string             `json:"session_id,omitempty"`
	Text      string             `json:"text,omitempty"`
	Answer    string             `json:"answer,omitempty"`
	Sources   []retrieve.Passage `json:"sources,omitempty"`
	Grounded  bool               `json:"grounded,omitempty"`
	Code      string             `json:"code,omitempty"`
	Message   string             `json:"message,omitempty"`
	ElapsedMS int64              `json:"elapsed_ms,omitempty"`
}

// Error codes carried by EventError.
const (
	CodeCancelled            = "cancelled"
	CodeGenerationFailed     = "generation_failed"
	CodeRetrievalUnavailable = "retrieval_unavailable"
)

// eventBuffer bounds the stream channel so a slow consumer applies
// backpressure to the model read loop instead of growing memory.
const eventBuffer = 16

// Generator turns prompts into answer event streams.
type Generator struct {
	model  Model
	logger log.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(model Model, logger log.Logger) (*Generator, error) {
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Generator{model: model, logger: logger}, nil
}

// Generate streams an answer for the prompt. sources are the passages
// the prompt was built from, in marker order. The returned channel is
// closed after the terminal event; cancel ctx to abandon the stream.
func (g *Generator) Generate(ctx context.Context, sessionID, prompt string, sources []retrieve.Passage) <-chan Event {
	events := make(chan Event, eventBuffer)

	go func() {
		defer close(events)
		start := time.Now()

		if !g.send(ctx, events, Event{Type: EventStart, SessionID: sessionID, Sources: sources}) {
			return
		}

		var sb strings.Builder
		for text, err := range g.model.Stream(ctx, prompt) {
			if err != nil {
				g.logger.Warn("generation failed",
					"session_id", sessionID,
					"elapsed", time.Since(start),
					"error", err,
				)
				g.send(ctx, events, errorEvent(sessionID, err))
				return
			}
			sb.WriteString(text)
			if !g.send(ctx, events, Event{Type: EventChunk, SessionID: sessionID, Text: text}) {
				return
			}
		}

		full := sb.String()
		cited := ExtractCitations(full, len(sources))
		citedSources := make([]retrieve.Passage, 0, len(cited))
		for _, n := range cited {
			citedSources = append(citedSources, sources[n-1])
		}

		g.logger.Debug("generation complete",
			"session_id", sessionID,
			"answer_bytes", len(full),
			"cited", len(citedSources),
			"elapsed", time.Since(start),
		)
		g.send(ctx, events, Event{
			Type:      EventDone,
			SessionID: sessionID,
			Answer:    full,
			Sources:   citedSources,
			Grounded:  len(citedSources) > 0,
			ElapsedMS: time.Since(start).Milliseconds(),
		})
	}()

	return events
}

// send delivers an event unless ctx is done first.
func (g *Generator) send(ctx context.Context, events chan<- Event, e Event) bool {
	select {
	case events <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

func errorEvent(sessionID string, err error) Event {
	code := CodeGenerationFailed
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		code = CodeCancelled
	}
	return Event{Type: EventError, SessionID: sessionID, Code: code, Message: err.Error()}
}
