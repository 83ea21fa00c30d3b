package store

import (
	"context"
	"sync"
	"time"

	"auditwatch/internal/notification"
)

// DefaultRuleCacheTTL is how long a rule snapshot is served before reloading.
const DefaultRuleCacheTTL = 12 * time.Hour

// CachedRuleStore serves a snapshot of the enabled rules for up to ttl.
// Concurrent passes may see different snapshots around a reload or an
// Invalidate; a failed reload is returned to the caller and not cached.
type CachedRuleStore struct {
	next notification.RuleStore
	ttl  time.Duration
	now  func() time.Time

	mu       sync.RWMutex
	rules    []notification.RuleDefinition
	loadedAt time.Time
	valid    bool
}

func NewCachedRuleStore(next notification.RuleStore, ttl time.Duration) *CachedRuleStore {
	if ttl <= 0 {
		ttl = DefaultRuleCacheTTL
	}
	return &CachedRuleStore{next: next, ttl: ttl, now: time.Now}
}

func (c *CachedRuleStore) ListEnabledRules(ctx context.Context) ([]notification.RuleDefinition, error) {
	c.mu.RLock()
	if c.fresh() {
		rules := c.rules
		c.mu.RUnlock()
		return rules, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fresh() {
		return c.rules, nil
	}

	rules, err := c.next.ListEnabledRules(ctx)
	if err != nil {
		return nil, err
	}
	c.rules = rules
	c.loadedAt = c.now()
	c.valid = true
	return rules, nil
}

func (c *CachedRuleStore) GetRule(ctx context.Context, id uint) (notification.RuleDefinition, error) {
	return c.next.GetRule(ctx, id)
}

// Invalidate drops the snapshot so the next pass reloads.
func (c *CachedRuleStore) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.rules = nil
	c.mu.Unlock()
}

func (c *CachedRuleStore) fresh() bool {
	return c.valid && c.now().Sub(c.loadedAt) < c.ttl
}
