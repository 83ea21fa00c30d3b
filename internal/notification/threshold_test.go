package notification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditwatch/internal/state"
)

func TestThresholdWatcherKeys(t *testing.T) {
	counters := state.NewMemoryFailureCounters(state.DefaultCounterTTL)
	w := NewThresholdWatcher(counters)
	ctx := context.Background()

	obs, ok, err := w.Observe(ctx, &Event{KindID: 1002, Username: " Alice ", SourceIP: "10.0.0.1"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, FailureObservation{Kind: state.FailureKnown, Key: "alice", Count: 1}, obs)

	obs, ok, err = w.Observe(ctx, &Event{KindID: 1003, Username: "ghost", SourceIP: "10.0.0.1"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, FailureObservation{Kind: state.FailureUnknown, Key: "10.0.0.1", Count: 1}, obs)

	_, ok, err = w.Observe(ctx, &Event{KindID: 1000, Username: "alice"})
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = w.Observe(ctx, &Event{KindID: 1003})
	require.NoError(t, err)
	assert.False(t, ok, "no source ip to key on")

	n, err := w.Count(ctx, state.FailureKnown, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestObservationDue(t *testing.T) {
	known := Rule{FailThresholdKnown: true, Threshold: 3}
	unknown := Rule{FailThresholdUnknown: true}
	plain := Rule{}

	assert.True(t, FailureObservation{Kind: state.FailureKnown, Count: 3}.Due(known))
	assert.False(t, FailureObservation{Kind: state.FailureKnown, Count: 4}.Due(known))
	assert.False(t, FailureObservation{Kind: state.FailureUnknown, Count: 3}.Due(known))
	assert.True(t, FailureObservation{Kind: state.FailureUnknown, Count: DefaultFailThreshold}.Due(unknown))
	assert.False(t, FailureObservation{Kind: state.FailureKnown, Count: DefaultFailThreshold}.Due(plain))
}
