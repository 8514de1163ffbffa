package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Turn is one retained prompt/response pair.
type Turn struct {
	Prompt   string
	Response string
}

// Entry holds the cached state of one conversation. The gate admits one
// active turn at a time; history and flags are guarded by the entry's own
// mutex so unrelated conversations never contend.
type Entry struct {
	key  string
	gate *semaphore.Weighted

	mu       sync.Mutex
	history  []Turn
	lastUsed time.Time
	faulted  bool
}

// Acquire blocks until this conversation's gate is free or ctx is done.
func (e *Entry) Acquire(ctx context.Context) error {
	return e.gate.Acquire(ctx, 1)
}

// Release frees the gate. Callers must release on every exit path.
func (e *Entry) Release() {
	e.gate.Release(1)
}

// History returns a copy of the retained turns, oldest first.
func (e *Entry) History() []Turn {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.history) == 0 {
		return nil
	}

	out := make([]Turn, len(e.history))
	copy(out, e.history)
	return out
}

// AppendTurn records a completed turn and trims the oldest beyond maxTurns.
func (e *Entry) AppendTurn(prompt string, response string, maxTurns int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = append(e.history, Turn{Prompt: prompt, Response: response})
	if maxTurns > 0 && len(e.history) > maxTurns {
		e.history = e.history[len(e.history)-maxTurns:]
	}
	e.lastUsed = time.Now()
}

// Touch refreshes the idle timer without mutating history.
func (e *Entry) Touch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUsed = time.Now()
}

// MarkFaulted flags the entry as corrupted; the caller removes it afterward
// so the next turn on this key starts fresh.
func (e *Entry) MarkFaulted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faulted = true
}

// Faulted reports whether a turn on this entry ended in failure.
func (e *Entry) Faulted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.faulted
}

func (e *Entry) idleSince(now time.Time) time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return now.Sub(e.lastUsed)
}

// Store caches conversation entries by key with TTL eviction. Lookup and
// creation share one lock; per-entry setup runs outside it behind a per-key
// once so a slow factory never blocks unrelated keys.
type Store struct {
	ttl time.Duration

	mu      sync.Mutex
	slots   map[string]*slot
	done    chan struct{}
	closeMu sync.Once
}

type slot struct {
	once  sync.Once
	entry *Entry
}

// NewStore creates a store evicting entries idle longer than ttl. A
// background sweep also collects idle entries between lookups.
func NewStore(ttl time.Duration) *Store {
	s := &Store{
		ttl:   ttl,
		slots: make(map[string]*slot),
		done:  make(chan struct{}),
	}
	go s.sweep()
	return s
}

// GetOrCreate returns the live entry for key, evicting an expired one first.
// setup, when non-nil, runs exactly once per created entry and outside the
// store lock.
func (s *Store) GetOrCreate(key string, setup func(*Entry)) *Entry {
	now := time.Now()

	s.mu.Lock()
	existing, ok := s.slots[key]
	if ok && existing.entry != nil && existing.entry.idleSince(now) > s.ttl {
		delete(s.slots, key)
		ok = false
	}
	if !ok {
		existing = &slot{}
		s.slots[key] = existing
	}
	s.mu.Unlock()

	existing.once.Do(func() {
		entry := &Entry{
			key:      key,
			gate:     semaphore.NewWeighted(1),
			lastUsed: now,
		}
		if setup != nil {
			setup(entry)
		}
		existing.entry = entry
	})

	return existing.entry
}

// Remove drops the entry for key, if any.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, key)
}

// Len returns the number of cached conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

// Close stops the background sweep.
func (s *Store) Close() {
	s.closeMu.Do(func() { close(s.done) })
}

func (s *Store) sweep() {
	interval := s.ttl / 2
	if interval < time.Minute {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.evictIdle(time.Now())
		}
	}
}

func (s *Store) evictIdle(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, sl := range s.slots {
		if sl.entry != nil && sl.entry.idleSince(now) > s.ttl {
			delete(s.slots, key)
		}
	}
}
