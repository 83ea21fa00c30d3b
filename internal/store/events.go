package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"auditwatch/internal/events"
	"auditwatch/internal/models"
	"auditwatch/internal/notification"
)

// GormEventStore records audit events in the audit_events table.
type GormEventStore struct {
	db *gorm.DB
}

func NewGormEventStore(db *gorm.DB) *GormEventStore {
	return &GormEventStore{db: db}
}

func (s *GormEventStore) SaveEvent(ctx context.Context, e *notification.Event, severity events.Severity) error {
	row, err := eventToModel(e, severity)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save event %s: %w", e.ID, err)
	}
	return nil
}

// EventQuery filters ListEvents. Zero values do not filter.
type EventQuery struct {
	KindID    int        `json:"event_id,omitempty"`
	Username  string     `json:"username,omitempty"`
	SourceIP  string     `json:"source_ip,omitempty"`
	Severity  string     `json:"severity,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Page      int        `json:"page,omitempty"`
	PageSize  int        `json:"page_size,omitempty"`
}

// ListEvents returns one page of matching events, newest first, and the total count.
func (s *GormEventStore) ListEvents(ctx context.Context, q EventQuery) ([]notification.Event, int64, error) {
	db := s.db.WithContext(ctx).Model(&models.AuditEvent{})
	if q.KindID != 0 {
		db = db.Where("kind_id = ?", q.KindID)
	}
	if q.Username != "" {
		db = db.Where("username = ?", q.Username)
	}
	if q.SourceIP != "" {
		db = db.Where("source_ip = ?", q.SourceIP)
	}
	if q.Severity != "" {
		db = db.Where("severity = ?", q.Severity)
	}
	if q.StartTime != nil {
		db = db.Where("timestamp >= ?", *q.StartTime)
	}
	if q.EndTime != nil {
		db = db.Where("timestamp <= ?", *q.EndTime)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	page, size := q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}

	var rows []models.AuditEvent
	if err := db.Order("timestamp desc, id desc").Offset((page - 1) * size).Limit(size).Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}

	out := make([]notification.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, eventFromModel(row))
	}
	return out, total, nil
}

func eventToModel(e *notification.Event, severity events.Severity) (models.AuditEvent, error) {
	row := models.AuditEvent{
		EventUUID:   e.ID,
		KindID:      e.KindID,
		Severity:    string(severity),
		Timestamp:   e.Timestamp,
		UserID:      e.UserID,
		Username:    e.Username,
		UserRoles:   strings.Join(e.UserRoles, ","),
		SourceIP:    e.SourceIP,
		PostID:      e.PostID,
		PostType:    e.PostType,
		PostStatus:  e.PostStatus,
		Object:      e.Object,
		EventType:   e.EventType,
		CustomField: e.CustomField,
		SiteID:      e.SiteID,
	}
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return row, fmt.Errorf("failed to encode metadata: %w", err)
		}
		row.Metadata = string(data)
	}
	if len(e.Links) > 0 {
		data, err := json.Marshal(e.Links)
		if err != nil {
			return row, fmt.Errorf("failed to encode links: %w", err)
		}
		row.Links = string(data)
	}
	return row, nil
}

func eventFromModel(row models.AuditEvent) notification.Event {
	e := notification.Event{
		ID:          row.EventUUID,
		KindID:      row.KindID,
		Timestamp:   row.Timestamp,
		UserID:      row.UserID,
		Username:    row.Username,
		SourceIP:    row.SourceIP,
		PostID:      row.PostID,
		PostType:    row.PostType,
		PostStatus:  row.PostStatus,
		Object:      row.Object,
		EventType:   row.EventType,
		CustomField: row.CustomField,
		SiteID:      row.SiteID,
	}
	if row.UserRoles != "" {
		e.UserRoles = strings.Split(row.UserRoles, ",")
	}
	// Columns are written by eventToModel; a decode failure leaves the map empty.
	_ = json.Unmarshal([]byte(row.Metadata), &e.Metadata)
	_ = json.Unmarshal([]byte(row.Links), &e.Links)
	return e
}

// GormUserDirectory resolves user ids to the username most recently recorded
// for them in the audit log.
type GormUserDirectory struct {
	db *gorm.DB
}

func NewGormUserDirectory(db *gorm.DB) *GormUserDirectory {
	return &GormUserDirectory{db: db}
}

func (d *GormUserDirectory) UsernameByID(ctx context.Context, id int64) (string, bool) {
	var row models.AuditEvent
	err := d.db.WithContext(ctx).Select("username").
		Where("user_id = ? AND username <> ''", id).
		Order("timestamp desc, id desc").
		Limit(1).
		Find(&row).Error
	if err != nil || row.Username == "" {
		return "", false
	}
	return row.Username, true
}
