// Package convo manages in-memory conversation sessions.
//
// Each session holds a bounded history of user/assistant exchanges.
// Access to a session is serialized: a caller must Acquire the session
// before reading or appending, and concurrent requests for the same
// session queue up in arrival order. Idle sessions expire after a TTL.
package convo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docfox/docfox/internal/log"
)

// ErrNotFound indicates the requested session does not exist or has expired.
var ErrNotFound = errors.New("convo: session not found")

// Turn is one completed user/assistant exchange.
type Turn struct {
	User      string
	Assistant string
	At        time.Time
}

// Config bounds session history and lifetime.
type Config struct {
	MaxTurns    int           // turns kept per session
	TokenBudget int           // estimated tokens of history kept per session
	TTL         time.Duration // idle time before a session expires
}

// session is the internal session state. The sem channel is a binary
// semaphore serializing access; holding it also blocks expiry.
type session struct {
	id         uuid.UUID
	sem        chan struct{}
	mu         sync.Mutex // guards turns and lastActive
	turns      []Turn
	createdAt  time.Time
	lastActive time.Time
}

// Manager owns all live sessions. Safe for concurrent use.
type Manager struct {
	cfg    Config
	logger log.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*session

	done    chan struct{}
	stopped sync.Once
}

// NewManager creates a Manager and starts its expiry janitor. Call
// Close to stop the janitor.
func NewManager(cfg Config, logger log.Logger) (*Manager, error) {
	if cfg.MaxTurns <= 0 {
		return nil, fmt.Errorf("max turns must be positive, got %d", cfg.MaxTurns)
	}
	if cfg.TokenBudget <= 0 {
		return nil, fmt.Errorf("token budget must be positive, got %d", cfg.TokenBudget)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("session TTL must be positive, got %v", cfg.TTL)
	}
	if logger == nil {
		logger = log.NewNop()
	}

	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[uuid.UUID]*session),
		done:     make(chan struct{}),
	}
	go m.janitor()
	return m, nil
}

// Close stops the expiry janitor. Live handles stay usable.
func (m *Manager) Close() {
	m.stopped.Do(func() { close(m.done) })
}

// Handle is exclusive access to one session. Callers must Release it
// when done; a held session never expires.
type Handle struct {
	m *Manager
	s *session

	releaseOnce sync.Once
}

// Acquire locks a session for exclusive use. A zero id creates a new
// session; an unknown id returns ErrNotFound. Blocks until the session
// is free or ctx is done.
func (m *Manager) Acquire(ctx context.Context, id uuid.UUID) (*Handle, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquiring session %s: %w", s.id, ctx.Err())
	}

	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()

	return &Handle{m: m, s: s}, nil
}

func (m *Manager) lookup(id uuid.UUID) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == uuid.Nil {
		now := time.Now()
		s := &session{
			id:         uuid.New(),
			sem:        make(chan struct{}, 1),
			createdAt:  now,
			lastActive: now,
		}
		m.sessions[s.id] = s
		m.logger.Debug("created session", "session_id", s.id)
		return s, nil
	}

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// janitor periodically expires idle sessions.
func (m *Manager) janitor() {
	interval := m.cfg.TTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.expire(time.Now())
		}
	}
}

// expire removes sessions idle longer than the TTL. Held sessions are
// skipped; their lastActive refreshes on release.
func (m *Manager) expire(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.sessions {
		select {
		case s.sem <- struct{}{}:
		default:
			continue // held
		}

		s.mu.Lock()
		idle := now.Sub(s.lastActive)
		s.mu.Unlock()
		<-s.sem

		if idle > m.cfg.TTL {
			delete(m.sessions, id)
			m.logger.Debug("expired session", "session_id", id, "idle", idle)
		}
	}
}

// ID returns the session id.
func (h *Handle) ID() uuid.UUID { return h.s.id }

// History returns a copy of the session's turns, oldest first.
func (h *Handle) History() []Turn {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	out := make([]Turn, len(h.s.turns))
	copy(out, h.s.turns)
	return out
}

// Append records a completed exchange and trims history to the
// configured turn and token bounds, dropping oldest turns first.
func (h *Handle) Append(user, assistant string) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	h.s.turns = append(h.s.turns, Turn{User: user, Assistant: assistant, At: time.Now()})

	if n := len(h.s.turns) - h.m.cfg.MaxTurns; n > 0 {
		h.s.turns = h.s.turns[n:]
	}
	for len(h.s.turns) > 1 && historyTokens(h.s.turns) > h.m.cfg.TokenBudget {
		h.s.turns = h.s.turns[1:]
	}
	h.s.lastActive = time.Now()
}

// Release unlocks the session. Safe to call more than once.
func (h *Handle) Release() {
	h.releaseOnce.Do(func() {
		h.s.mu.Lock()
		h.s.lastActive = time.Now()
		h.s.mu.Unlock()
		<-h.s.sem
	})
}

// EstimateTokens approximates the token count of text. The 4-chars-per-
// token heuristic is close enough for budget trimming.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func historyTokens(turns []Turn) int {
	total := 0
	for _, t := range turns {
		total += EstimateTokens(t.User) + EstimateTokens(t.Assistant)
	}
	return total
}
