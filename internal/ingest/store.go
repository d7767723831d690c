package ingest

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrTaskNotFound indicates the task id is unknown.
	ErrTaskNotFound = errors.New("ingest: task not found")
	// ErrInvalidTransition indicates an update tried to move a task
	// backwards in its lifecycle.
	ErrInvalidTransition = errors.New("ingest: invalid status transition")
)

// Store persists tasks. Implementations must serialize updates so the
// status machine stays monotonic under concurrent access.
type Store interface {
	Create(t Task) error
	Get(id string) (Task, error)
	List() []Task
	// Update applies fn to the stored task under the store's lock and
	// returns the updated snapshot. A status change that the machine
	// forbids makes Update fail with ErrInvalidTransition and leaves
	// the task untouched.
	Update(id string, fn func(*Task)) (Task, error)
}

// memoryStore is the in-process Store.
type memoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryStore creates an empty in-memory task store.
func NewMemoryStore() Store {
	return &memoryStore{tasks: make(map[string]*Task)}
}

func (s *memoryStore) Create(t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("ingest: task %q already exists", t.ID)
	}
	stored := t.clone()
	s.tasks[t.ID] = &stored
	return nil
}

func (s *memoryStore) Get(id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t.clone(), nil
}

func (s *memoryStore) List() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *memoryStore) Update(id string, fn func(*Task)) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	next := t.clone()
	fn(&next)

	if next.Status != t.Status && !canTransition(t.Status, next.Status) {
		return Task{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, next.Status)
	}

	*t = next
	return next.clone(), nil
}
