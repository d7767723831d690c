// Package ingest runs document indexing as background tasks: scanning a
// source tree, chunking, embedding, and writing to the vector store,
// with bounded concurrency and cooperative cancellation.
package ingest

import (
	"time"
)

// Status is the lifecycle state of an ingestion task. Transitions are
// monotonic: once terminal, a task never changes again.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// validTransitions is the full status machine.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

// canTransition reports whether from -> to is a legal status change.
func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// DocError records a single document that failed during ingestion.
// Document failures do not fail the task.
type DocError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Task is one ingestion run and its progress counters.
type Task struct {
	ID           string     `json:"id"`
	Collection   string     `json:"collection"`
	Source       string     `json:"source"`
	ForceReindex bool       `json:"force_reindex,omitempty"`
	Status       Status     `json:"status"`
	DocsTotal    int        `json:"docs_total"`
	DocsDone     int        `json:"docs_done"`
	ChunksDone   int        `json:"chunks_done"`
	Progress     float64    `json:"progress"`
	DocErrors    []DocError `json:"doc_errors,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    time.Time  `json:"started_at,omitzero"`
	FinishedAt   time.Time  `json:"finished_at,omitzero"`
}

// progress is the completed fraction of the run, derived from the
// document counters. A completed task always reports 1.
func (t Task) progress() float64 {
	if t.Status == StatusCompleted {
		return 1
	}
	if t.DocsTotal <= 0 {
		return 0
	}
	p := float64(t.DocsDone) / float64(t.DocsTotal)
	if p > 1 {
		p = 1
	}
	return p
}

// clone returns a deep copy safe to hand to callers, with the derived
// Progress field filled in.
func (t Task) clone() Task {
	out := t
	out.Progress = t.progress()
	if t.DocErrors != nil {
		out.DocErrors = make([]DocError, len(t.DocErrors))
		copy(out.DocErrors, t.DocErrors)
	}
	return out
}
