package dedupe

import (
	"sync"
	"time"
)

const gcThreshold = 1024

// Cache suppresses redelivered event keys inside a sliding window. All access
// goes through one lock; expired entries are collected opportunistically once
// the map grows past a size threshold.
type Cache struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time
}

// New creates a dedupe cache with the given suppression window.
func New(window time.Duration) *Cache {
	return &Cache{
		seen:   make(map[string]time.Time),
		window: window,
		now:    time.Now,
	}
}

// CheckAndMark reports whether key was already seen inside the window, and
// marks it seen now. The check and mark are one atomic step.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	seenAt, ok := c.seen[key]
	duplicate := ok && now.Sub(seenAt) < c.window

	c.seen[key] = now
	if len(c.seen) > gcThreshold {
		c.collectExpired(now)
	}

	return duplicate
}

// Len returns the number of tracked keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.seen)
}

// collectExpired drops entries older than the window. Must hold mu.
func (c *Cache) collectExpired(now time.Time) {
	for key, seenAt := range c.seen {
		if now.Sub(seenAt) >= c.window {
			delete(c.seen, key)
		}
	}
}
