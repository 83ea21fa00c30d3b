package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestHelpersReportCallerAndBaseFields(t *testing.T) {
	prevLog, prevHelper := Log, helper
	t.Cleanup(func() { Log, helper = prevLog, prevHelper })

	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, Init("debug", path, zap.String("service", "auditwatch")))
	Info("rule fired")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &line))
	assert.Equal(t, "auditwatch", line["service"])
	assert.Contains(t, line["caller"], "logger_test.go")
}

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "auditwatch.log")
	l, err := New("info", path)
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("dispatch finished")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "dispatch finished", line["msg"])
}

func TestJournalRecordAndQuery(t *testing.T) {
	j, err := NewJournal(t.TempDir())
	require.NoError(t, err)

	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	entries := []*DeliveryEntry{
		{Timestamp: now.Add(-48 * time.Hour), RuleID: 1, Channel: "email", Endpoint: "a@example.com", Success: true},
		{Timestamp: now.Add(-2 * time.Hour), RuleID: 1, Channel: "sms", Endpoint: "+15550100", Success: false, Error: "gateway timeout"},
		{Timestamp: now.Add(-1 * time.Hour), RuleID: 2, Channel: "email", Endpoint: "b@example.com", Success: true},
		{RuleID: 2, Channel: "email", Endpoint: "c@example.com", Success: true},
	}
	for _, e := range entries {
		require.NoError(t, j.Record(e))
	}
	assert.Equal(t, now, entries[3].Timestamp)

	all, err := j.Query(&JournalQuery{})
	require.NoError(t, err)
	assert.Equal(t, 4, all.Total)
	assert.Equal(t, "c@example.com", all.Entries[0].Endpoint, "newest first")

	rule := uint(1)
	byRule, err := j.Query(&JournalQuery{RuleID: &rule})
	require.NoError(t, err)
	assert.Equal(t, 2, byRule.Total)

	failed := false
	failures, err := j.Query(&JournalQuery{Success: &failed})
	require.NoError(t, err)
	require.Equal(t, 1, failures.Total)
	assert.Equal(t, "gateway timeout", failures.Entries[0].Error)

	start := now.Add(-3 * time.Hour)
	recentEmail, err := j.Query(&JournalQuery{Channel: "email", StartTime: &start, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, recentEmail.Total)
	require.Len(t, recentEmail.Entries, 1)
	assert.Equal(t, "b@example.com", recentEmail.Entries[0].Endpoint)
}

func TestJournalSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJournal(dir)
	require.NoError(t, err)

	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }
	require.NoError(t, j.Record(&DeliveryEntry{RuleID: 1, Channel: "email"}))

	f, err := os.OpenFile(filepath.Join(dir, "delivery-2024-06-15.jsonl"), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{broken\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	res, err := j.Query(&JournalQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
}
