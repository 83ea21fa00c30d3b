package notification

import (
	"context"
	"fmt"
	"strings"

	"auditwatch/internal/events"
	"auditwatch/internal/state"
)

// FailureObservation is the counter value after one failed-login event.
type FailureObservation struct {
	Kind  state.FailureKind
	Key   string
	Count int64
}

// Due reports whether r is a fail-threshold rule for this observation's kind
// whose threshold was reached by exactly this increment. Later increments in
// the same counter window do not fire again.
func (o FailureObservation) Due(r Rule) bool {
	switch o.Kind {
	case state.FailureKnown:
		if !r.FailThresholdKnown {
			return false
		}
	case state.FailureUnknown:
		if !r.FailThresholdUnknown {
			return false
		}
	default:
		return false
	}
	return o.Count == int64(r.FailThreshold())
}

// ThresholdWatcher maintains the failed-login counters: per username for
// existing users and per source IP for unknown usernames.
type ThresholdWatcher struct {
	counters state.FailureCounters
}

func NewThresholdWatcher(counters state.FailureCounters) *ThresholdWatcher {
	return &ThresholdWatcher{counters: counters}
}

// Observe increments the counter matching e. It reports ok=false for events
// that are not failed logins or carry no counter key.
func (w *ThresholdWatcher) Observe(ctx context.Context, e *Event) (FailureObservation, bool, error) {
	var obs FailureObservation
	switch e.KindID {
	case events.KindFailedLoginKnown:
		obs.Kind, obs.Key = state.FailureKnown, strings.ToLower(strings.TrimSpace(e.Username))
	case events.KindFailedLoginUnknown:
		obs.Kind, obs.Key = state.FailureUnknown, strings.TrimSpace(e.SourceIP)
	default:
		return obs, false, nil
	}
	if obs.Key == "" {
		return obs, false, nil
	}

	n, err := w.counters.Increment(ctx, obs.Kind, obs.Key)
	if err != nil {
		return obs, false, fmt.Errorf("failed to increment %s failure counter: %w", obs.Kind, err)
	}
	obs.Count = n
	return obs, true, nil
}

// Count returns the current value of a counter.
func (w *ThresholdWatcher) Count(ctx context.Context, kind state.FailureKind, key string) (int64, error) {
	return w.counters.Get(ctx, kind, key)
}
