package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// stateSuite runs the same behaviour checks against every backend.
type stateSuite struct {
	suite.Suite
	newState func() *EngineState
	cleanup  func()
}

func (s *stateSuite) TestRecordFirstLogin() {
	st := s.newState()
	ctx := context.Background()

	first, err := st.Logins.RecordFirstLogin(ctx, "alice")
	s.Require().NoError(err)
	s.True(first)

	first, err = st.Logins.RecordFirstLogin(ctx, "Alice")
	s.Require().NoError(err)
	s.False(first, "usernames are compared case-insensitively")

	seen, err := st.Logins.HasLoggedInBefore(ctx, "alice")
	s.Require().NoError(err)
	s.True(seen)

	seen, err = st.Logins.HasLoggedInBefore(ctx, "bob")
	s.Require().NoError(err)
	s.False(seen)

	s.Require().NoError(st.Logins.RecordLogin(ctx, "bob"))
	seen, err = st.Logins.HasLoggedInBefore(ctx, "bob")
	s.Require().NoError(err)
	s.True(seen)
}

func (s *stateSuite) TestConcurrentFirstLoginHasSingleWinner() {
	st := s.newState()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := st.Logins.RecordFirstLogin(ctx, "carol")
			if err == nil && first {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(1, winners)
}

func (s *stateSuite) TestConcurrentIncrementsAreNotLost() {
	st := s.newState()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = st.Failures.Increment(ctx, FailureUnknown, "10.0.0.5")
		}()
	}
	wg.Wait()

	n, err := st.Failures.Get(ctx, FailureUnknown, "10.0.0.5")
	s.Require().NoError(err)
	s.Equal(int64(100), n)

	other, err := st.Failures.Get(ctx, FailureKnown, "10.0.0.5")
	s.Require().NoError(err)
	s.Zero(other, "kinds are counted separately")

	s.Require().NoError(st.Failures.Reset(ctx, FailureUnknown, "10.0.0.5"))
	n, err = st.Failures.Get(ctx, FailureUnknown, "10.0.0.5")
	s.Require().NoError(err)
	s.Zero(n)
}

func TestMemoryState(t *testing.T) {
	suite.Run(t, &stateSuite{
		newState: func() *EngineState { return NewMemory(time.Hour) },
	})
}

func TestRedisState(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	suite.Run(t, &stateSuite{
		newState: func() *EngineState {
			mr.FlushAll()
			return NewRedis(client, time.Hour)
		},
	})
}

func TestMemoryFailureCountersExpire(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	c := NewMemoryFailureCounters(12 * time.Hour)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	n, err := c.Increment(ctx, FailureKnown, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	now = now.Add(11 * time.Hour)
	n, err = c.Increment(ctx, FailureKnown, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "later increments do not extend the window")

	now = now.Add(time.Hour)
	n, err = c.Get(ctx, FailureKnown, "alice")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = c.Increment(ctx, FailureKnown, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisFailureCountersExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	c := NewRedisFailureCounters(client, 12*time.Hour)
	ctx := context.Background()

	_, err := c.Increment(ctx, FailureUnknown, "10.0.0.9")
	require.NoError(t, err)
	_, err = c.Increment(ctx, FailureUnknown, "10.0.0.9")
	require.NoError(t, err)

	assert.Equal(t, 12*time.Hour, mr.TTL(failurePrefix+"unknown:10.0.0.9"))

	// A later increment keeps the original window.
	mr.FastForward(time.Hour)
	_, err = c.Increment(ctx, FailureUnknown, "10.0.0.9")
	require.NoError(t, err)
	assert.Equal(t, 11*time.Hour, mr.TTL(failurePrefix+"unknown:10.0.0.9"))

	mr.FastForward(12 * time.Hour)
	n, err := c.Get(ctx, FailureUnknown, "10.0.0.9")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisFailureCountersRepairMissingExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	// 之前的进程在 INCR 之后崩溃，计数器没有过期时间
	key := failurePrefix + "known:alice"
	require.NoError(t, mr.Set(key, "4"))

	c := NewRedisFailureCounters(client, time.Hour)
	n, err := c.Increment(context.Background(), FailureKnown, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, time.Hour, mr.TTL(key))
}
