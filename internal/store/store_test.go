package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"auditwatch/internal/database"
	"auditwatch/internal/events"
	"auditwatch/internal/models"
	"auditwatch/internal/notification"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(database.Config{
		Driver:   "sqlite",
		DBName:   fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		LogLevel: "silent",
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})
	return db
}

func sampleRule(name string, enabled bool) notification.RuleDefinition {
	return notification.RuleDefinition{
		Name:    name,
		Enabled: enabled,
		Triggers: []notification.StoredTrigger{
			{Field: 0, Operator: 0, Value: "1000"},
			{GroupOp: 1, Field: 4, Operator: 0, UserRole: 1},
		},
		ViewState:          []string{notification.TokenTrigger, notification.TokenTrigger},
		Emails:             []string{"admin@example.com"},
		Phones:             []string{"+15550100"},
		Subject:            "{rule}",
		FirstTimeLoginOnly: true,
		Threshold:          5,
	}
}

func TestGormRuleStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewGormRuleStore(newTestDB(t), zaptest.NewLogger(t))

	def := sampleRule("logins", true)
	require.NoError(t, s.SaveRule(ctx, &def))
	require.NotZero(t, def.ID)

	got, err := s.GetRule(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, def, got)

	def.Name = "renamed"
	def.Enabled = false
	require.NoError(t, s.SaveRule(ctx, &def))

	got, err = s.GetRule(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.False(t, got.Enabled)

	require.NoError(t, s.DeleteRule(ctx, def.ID))
	_, err = s.GetRule(ctx, def.ID)
	assert.ErrorIs(t, err, notification.ErrRuleNotFound)
	assert.ErrorIs(t, s.DeleteRule(ctx, def.ID), notification.ErrRuleNotFound)

	missing := sampleRule("ghost", true)
	missing.ID = 999
	assert.ErrorIs(t, s.SaveRule(ctx, &missing), notification.ErrRuleNotFound)
}

func TestGormRuleStoreListsOnlyEnabled(t *testing.T) {
	ctx := context.Background()
	s := NewGormRuleStore(newTestDB(t), zaptest.NewLogger(t))

	for _, def := range []notification.RuleDefinition{
		sampleRule("a", true),
		sampleRule("b", false),
		sampleRule("c", true),
	} {
		def := def
		require.NoError(t, s.SaveRule(ctx, &def))
	}

	enabled, err := s.ListEnabledRules(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 2)
	assert.Equal(t, "a", enabled[0].Name)
	assert.Equal(t, "c", enabled[1].Name)

	all, err := s.ListRules(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestGormRuleStoreSkipsUndecodableRows(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	s := NewGormRuleStore(db, zaptest.NewLogger(t))

	good := sampleRule("good", true)
	require.NoError(t, s.SaveRule(ctx, &good))
	require.NoError(t, db.Create(&models.NotificationRule{Name: "bad", Enabled: true, Triggers: "{not json"}).Error)

	rules, err := s.ListEnabledRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "good", rules[0].Name)
}

type countingStore struct {
	calls atomic.Int32
	rules []notification.RuleDefinition
	err   error
}

func (s *countingStore) ListEnabledRules(context.Context) ([]notification.RuleDefinition, error) {
	s.calls.Add(1)
	return s.rules, s.err
}

func (s *countingStore) GetRule(context.Context, uint) (notification.RuleDefinition, error) {
	return notification.RuleDefinition{}, notification.ErrRuleNotFound
}

func TestCachedRuleStore(t *testing.T) {
	ctx := context.Background()
	next := &countingStore{rules: []notification.RuleDefinition{sampleRule("a", true)}}
	c := NewCachedRuleStore(next, time.Hour)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		rules, err := c.ListEnabledRules(ctx)
		require.NoError(t, err)
		assert.Len(t, rules, 1)
	}
	assert.Equal(t, int32(1), next.calls.Load())

	now = now.Add(2 * time.Hour)
	_, err := c.ListEnabledRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load())

	c.Invalidate()
	_, err = c.ListEnabledRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(3), next.calls.Load())
}

func TestCachedRuleStoreDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	next := &countingStore{err: errors.New("connection reset")}
	c := NewCachedRuleStore(next, 0)

	_, err := c.ListEnabledRules(ctx)
	assert.Error(t, err)

	next.err = nil
	next.rules = []notification.RuleDefinition{sampleRule("a", true)}
	rules, err := c.ListEnabledRules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestCachedRuleStoreConcurrentLoadsOnce(t *testing.T) {
	next := &countingStore{rules: []notification.RuleDefinition{sampleRule("a", true)}}
	c := NewCachedRuleStore(next, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.ListEnabledRules(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), next.calls.Load())
}

func TestGormLoginHistory(t *testing.T) {
	ctx := context.Background()
	h := NewGormLoginHistory(newTestDB(t))

	seen, err := h.HasLoggedInBefore(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, seen)

	first, err := h.RecordFirstLogin(ctx, "Alice")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = h.RecordFirstLogin(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, first)

	seen, err = h.HasLoggedInBefore(ctx, "ALICE")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, h.RecordLogin(ctx, "bob"))
	seen, err = h.HasLoggedInBefore(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestGormEventStore(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	s := NewGormEventStore(db)
	base := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		e := &notification.Event{
			ID:        fmt.Sprintf("evt-%d", i),
			KindID:    1000 + i%2,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			UserID:    7,
			Username:  "alice",
			UserRoles: []string{"editor", "author"},
			SourceIP:  "10.0.0.5",
			Metadata:  map[string]string{"n": fmt.Sprint(i)},
		}
		require.NoError(t, s.SaveEvent(ctx, e, events.SeverityLow))
	}

	logins, total, err := s.ListEvents(ctx, EventQuery{KindID: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, logins, 3)
	assert.Equal(t, "evt-4", logins[0].ID)
	assert.Equal(t, []string{"editor", "author"}, logins[0].UserRoles)
	assert.Equal(t, "4", logins[0].Metadata["n"])

	page, total, err := s.ListEvents(ctx, EventQuery{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page, 2)
	assert.Equal(t, "evt-2", page[0].ID)

	dir := NewGormUserDirectory(db)
	name, ok := dir.UsernameByID(ctx, 7)
	assert.True(t, ok)
	assert.Equal(t, "alice", name)
	_, ok = dir.UsernameByID(ctx, 8)
	assert.False(t, ok)
}
