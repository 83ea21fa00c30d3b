package state

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryLoginHistory keeps the login set in a mutex-guarded map.
type MemoryLoginHistory struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryLoginHistory() *MemoryLoginHistory {
	return &MemoryLoginHistory{seen: make(map[string]struct{})}
}

func (h *MemoryLoginHistory) HasLoggedInBefore(_ context.Context, username string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.seen[normalizeUsername(username)]
	return ok, nil
}

func (h *MemoryLoginHistory) RecordLogin(_ context.Context, username string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen[normalizeUsername(username)] = struct{}{}
	return nil
}

func (h *MemoryLoginHistory) RecordFirstLogin(_ context.Context, username string) (bool, error) {
	key := normalizeUsername(username)

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.seen[key]; ok {
		return false, nil
	}
	h.seen[key] = struct{}{}
	return true, nil
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryFailureCounters keeps expiring counters in a mutex-guarded map.
// The expiry is fixed by the first increment of a window.
type MemoryFailureCounters struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*counterEntry
}

func NewMemoryFailureCounters(ttl time.Duration) *MemoryFailureCounters {
	return &MemoryFailureCounters{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*counterEntry),
	}
}

func (c *MemoryFailureCounters) Increment(_ context.Context, kind FailureKind, key string) (int64, error) {
	k := counterKey(kind, key)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[k]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &counterEntry{expiresAt: now.Add(c.ttl)}
		c.entries[k] = entry
	}
	entry.count++
	return entry.count, nil
}

func (c *MemoryFailureCounters) Get(_ context.Context, kind FailureKind, key string) (int64, error) {
	k := counterKey(kind, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[k]
	if !ok {
		return 0, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, k)
		return 0, nil
	}
	return entry.count, nil
}

func (c *MemoryFailureCounters) Reset(_ context.Context, kind FailureKind, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, counterKey(kind, key))
	return nil
}

func counterKey(kind FailureKind, key string) string {
	return string(kind) + ":" + strings.ToLower(strings.TrimSpace(key))
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
