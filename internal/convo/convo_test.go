package convo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/docfox/docfox/internal/log"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = 10
	}
	if cfg.TokenBudget == 0 {
		cfg.TokenBudget = 6000
	}
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}
	m, err := NewManager(cfg, log.NewNop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func TestAcquireCreatesAndFinds(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	h, err := m.Acquire(ctx, uuid.Nil)
	if err != nil {
		t.Fatalf("Acquire(Nil): %v", err)
	}
	id := h.ID()
	if id == uuid.Nil {
		t.Fatal("new session got nil id")
	}
	h.Append("hello", "hi there")
	h.Release()

	h2, err := m.Acquire(ctx, id)
	if err != nil {
		t.Fatalf("Acquire(%s): %v", id, err)
	}
	defer h2.Release()

	turns := h2.History()
	if len(turns) != 1 || turns[0].User != "hello" || turns[0].Assistant != "hi there" {
		t.Errorf("history = %+v, want the appended turn", turns)
	}
}

func TestAcquireUnknownSession(t *testing.T) {
	m := newTestManager(t, Config{})
	_, err := m.Acquire(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestAcquireSerializesSameSession(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	h, err := m.Acquire(ctx, uuid.Nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	id := h.ID()

	acquired := make(chan struct{})
	go func() {
		h2, err := m.Acquire(ctx, id)
		if err == nil {
			h2.Release()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire succeeded while session was held")
	case <-time.After(50 * time.Millisecond):
	}

	h.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Acquire never proceeded after release")
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	m := newTestManager(t, Config{})
	h, err := m.Acquire(context.Background(), uuid.Nil)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer h.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, h.ID())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded", err)
	}
}

func TestAppendBoundsTurns(t *testing.T) {
	m := newTestManager(t, Config{MaxTurns: 3})
	h, _ := m.Acquire(context.Background(), uuid.Nil)
	defer h.Release()

	for i := 0; i < 7; i++ {
		h.Append(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
	}

	turns := h.History()
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	if turns[0].User != "q4" || turns[2].User != "q6" {
		t.Errorf("kept %q..%q, want newest three", turns[0].User, turns[2].User)
	}
}

func TestAppendBoundsTokens(t *testing.T) {
	// Each turn is ~200 estimated tokens; budget fits only two.
	m := newTestManager(t, Config{MaxTurns: 100, TokenBudget: 450})
	h, _ := m.Acquire(context.Background(), uuid.Nil)
	defer h.Release()

	big := strings.Repeat("word ", 80) // 400 chars -> ~100 tokens
	for i := 0; i < 5; i++ {
		h.Append(big, big)
	}

	turns := h.History()
	if len(turns) != 2 {
		t.Errorf("got %d turns, want 2 within the token budget", len(turns))
	}
}

func TestExpireRemovesIdleSessions(t *testing.T) {
	m := newTestManager(t, Config{TTL: time.Minute})
	h, _ := m.Acquire(context.Background(), uuid.Nil)
	id := h.ID()
	h.Release()

	m.expire(time.Now().Add(2 * time.Minute))

	if m.Len() != 0 {
		t.Errorf("session count = %d, want 0 after expiry", m.Len())
	}
	if _, err := m.Acquire(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired session still found: %v", err)
	}
}

func TestExpireSkipsHeldSessions(t *testing.T) {
	m := newTestManager(t, Config{TTL: time.Minute})
	h, _ := m.Acquire(context.Background(), uuid.Nil)
	defer h.Release()

	m.expire(time.Now().Add(2 * time.Minute))

	if m.Len() != 1 {
		t.Errorf("held session was expired")
	}
}

func TestConcurrentSessionsIndependent(t *testing.T) {
	m := newTestManager(t, Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := m.Acquire(ctx, uuid.Nil)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			defer h.Release()
			h.Append(fmt.Sprintf("q%d", i), "a")
		}(i)
	}
	wg.Wait()

	if m.Len() != 8 {
		t.Errorf("session count = %d, want 8", m.Len())
	}
}
