package state

import (
	"context"
	"time"
)

// FailureKind separates failed logins for existing and unknown usernames.
type FailureKind string

const (
	FailureKnown   FailureKind = "known"
	FailureUnknown FailureKind = "unknown"
)

// DefaultCounterTTL is how long a failure counter lives after its first increment.
const DefaultCounterTTL = 12 * time.Hour

// LoginHistory is the process-wide set of usernames that have logged in before.
type LoginHistory interface {
	HasLoggedInBefore(ctx context.Context, username string) (bool, error)
	RecordLogin(ctx context.Context, username string) error
	// RecordFirstLogin adds username to the set and reports whether it was absent.
	// The check and the add happen atomically.
	RecordFirstLogin(ctx context.Context, username string) (bool, error)
}

// FailureCounters are expiring per-key counters of failed logins.
type FailureCounters interface {
	Increment(ctx context.Context, kind FailureKind, key string) (int64, error)
	Get(ctx context.Context, kind FailureKind, key string) (int64, error)
	Reset(ctx context.Context, kind FailureKind, key string) error
}

// EngineState groups the shared mutable state used by dispatch passes.
type EngineState struct {
	Logins     LoginHistory
	Failures   FailureCounters
	CounterTTL time.Duration
}

// NewMemory returns process-local state, suitable for a single instance or tests.
func NewMemory(ttl time.Duration) *EngineState {
	if ttl <= 0 {
		ttl = DefaultCounterTTL
	}
	return &EngineState{
		Logins:     NewMemoryLoginHistory(),
		Failures:   NewMemoryFailureCounters(ttl),
		CounterTTL: ttl,
	}
}
