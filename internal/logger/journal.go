package logger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DeliveryEntry is one line of the delivery journal.
type DeliveryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	PassID    string    `json:"pass_id,omitempty"`
	RuleID    uint      `json:"rule_id"`
	RuleName  string    `json:"rule_name,omitempty"`
	EventID   string    `json:"event_id,omitempty"`
	KindID    int       `json:"kind_id,omitempty"`
	Channel   string    `json:"channel"` // email, sms
	Endpoint  string    `json:"endpoint"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Duration  int64     `json:"duration_ms"`
}

// Journal appends delivery attempts to daily JSONL files: <dir>/delivery-2006-01-02.jsonl
type Journal struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewJournal creates the journal directory if needed.
func NewJournal(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	return &Journal{dir: dir, now: time.Now}, nil
}

func (j *Journal) path(day time.Time) string {
	return filepath.Join(j.dir, fmt.Sprintf("delivery-%s.jsonl", day.Format("2006-01-02")))
}

// Record appends one entry to the file of the entry's day.
func (j *Journal) Record(entry *DeliveryEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = j.now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	file, err := os.OpenFile(j.path(entry.Timestamp), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}
	return nil
}

// JournalQuery filters a journal query. Without a time range the last 7 days are read.
type JournalQuery struct {
	RuleID    *uint      `json:"rule_id,omitempty"`
	Channel   string     `json:"channel,omitempty"`
	Success   *bool      `json:"success,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
}

type JournalResult struct {
	Total   int              `json:"total"`
	Entries []*DeliveryEntry `json:"entries"`
}

// Query reads the daily files covering the requested range, newest entries first.
func (j *Journal) Query(q *JournalQuery) (*JournalResult, error) {
	result := &JournalResult{Entries: make([]*DeliveryEntry, 0)}

	end := j.now()
	if q.EndTime != nil {
		end = *q.EndTime
	}
	start := end.AddDate(0, 0, -7)
	if q.StartTime != nil {
		start = *q.StartTime
	}

	j.mu.Lock()
	var matched []*DeliveryEntry
	for d := startOfDay(start); !d.After(end); d = d.AddDate(0, 0, 1) {
		entries, err := readJournalFile(j.path(d))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			j.mu.Unlock()
			return nil, fmt.Errorf("failed to read journal: %w", err)
		}
		for _, e := range entries {
			if q.matches(e) {
				matched = append(matched, e)
			}
		}
	}
	j.mu.Unlock()

	sort.SliceStable(matched, func(a, b int) bool {
		return matched[a].Timestamp.After(matched[b].Timestamp)
	})

	result.Total = len(matched)
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	from := min(max(q.Offset, 0), len(matched))
	to := min(from+limit, len(matched))
	result.Entries = append(result.Entries, matched[from:to]...)
	return result, nil
}

func (q *JournalQuery) matches(e *DeliveryEntry) bool {
	if q.RuleID != nil && e.RuleID != *q.RuleID {
		return false
	}
	if q.Channel != "" && e.Channel != q.Channel {
		return false
	}
	if q.Success != nil && e.Success != *q.Success {
		return false
	}
	if q.StartTime != nil && e.Timestamp.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && e.Timestamp.After(*q.EndTime) {
		return false
	}
	return true
}

func readJournalFile(path string) ([]*DeliveryEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []*DeliveryEntry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry DeliveryEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue // 跳过损坏的行
		}
		entries = append(entries, &entry)
	}
	return entries, scanner.Err()
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
