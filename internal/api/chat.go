package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/docfox/docfox/internal/answer"
	"github.com/docfox/docfox/internal/chat"
	"github.com/docfox/docfox/internal/convo"
	"github.com/docfox/docfox/internal/log"
	"github.com/docfox/docfox/internal/retrieve"
)

// maxChatBody bounds the chat request body size.
const maxChatBody = 1 << 20

// chatHandler serves POST /api/chat in two modes: a buffered JSON
// answer, or an SSE stream of answer events when "stream" is true.
type chatHandler struct {
	chat   chatService
	logger log.Logger
}

// chatRequest is the wire shape of a chat turn. K, score threshold,
// and filters override the configured retrieval defaults for this
// request only.
type chatRequest struct {
	SessionID  string         `json:"session_id,omitempty"`
	Collection string         `json:"collection,omitempty"`
	Message    string         `json:"message"`
	Stream     bool           `json:"stream,omitempty"`
	K          int            `json:"k,omitempty"`
	Threshold  *float64       `json:"score_threshold,omitempty"`
	Filters    map[string]any `json:"filters,omitempty"`
}

func (h *chatHandler) serveChat(w http.ResponseWriter, r *http.Request) {
	var in chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	if in.K < 0 {
		writeError(w, http.StatusBadRequest, "invalid_k", "k must be positive")
		return
	}
	if in.Threshold != nil && (*in.Threshold < 0 || *in.Threshold >= 1) {
		writeError(w, http.StatusBadRequest, "invalid_threshold", "score_threshold must be in [0, 1)")
		return
	}

	req := chat.Request{
		Collection: in.Collection,
		Message:    in.Message,
		Retrieval: retrieve.Options{
			K:         in.K,
			Threshold: in.Threshold,
			Filter:    in.Filters,
		},
	}
	if in.SessionID != "" {
		id, err := uuid.Parse(in.SessionID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_session_id", "session_id must be a UUID")
			return
		}
		req.SessionID = id
	}

	if in.Stream {
		h.stream(w, r, req)
		return
	}

	result, err := h.chat.Ask(r.Context(), req)
	if err != nil {
		h.writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// stream answers over SSE. Validation errors surface as plain JSON
// responses; once the event stream is open, failures arrive as error
// events instead.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request, req chat.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported")
		return
	}

	ctx := r.Context()
	events, err := h.chat.Chat(ctx, req)
	if err != nil {
		h.writeChatError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for e := range events {
		if err := writeEvent(w, flusher, string(e.Type), e); err != nil {
			// Write failure usually means the client disconnected.
			h.logger.Debug("sse write failed", "error", err)
			return
		}
		select {
		case <-ctx.Done():
			h.logger.Info("client disconnected mid-stream", "session_id", e.SessionID)
			return
		default:
		}
	}
}

// writeChatError maps pipeline errors to HTTP status codes.
func (h *chatHandler) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "empty_message", "message is required")
	case errors.Is(err, convo.ErrNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", "unknown session id")
	default:
		h.logger.Error("chat failed", "error", err)
		writeError(w, http.StatusInternalServerError, "chat_failed", err.Error())
	}
}

// writeEvent writes a single SSE event with JSON-encoded data.
// SSE format: "event: <type>\ndata: <json>\n\n".
func writeEvent(w io.Writer, flusher http.Flusher, event string, data answer.Event) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
