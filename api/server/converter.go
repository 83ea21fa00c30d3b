package server

import (
	"strings"
	"time"

	"auditwatch/internal/elasticsearch"
	"auditwatch/internal/logger"
	"auditwatch/internal/notification"
	"auditwatch/internal/store"
)

// RuleRequest is the admin form of a notification rule.
type RuleRequest struct {
	Name      string                       `json:"name" binding:"required"`
	Enabled   bool                         `json:"enabled"`
	Triggers  []notification.StoredTrigger `json:"triggers"`
	ViewState []string                     `json:"view_state"`
	Emails    []string                     `json:"emails"`
	Phones    []string                     `json:"phones"`
	Subject   string                       `json:"subject"`
	Body      string                       `json:"body"`

	CriticalOnly         bool `json:"critical_only"`
	FirstTimeLoginOnly   bool `json:"first_time_login_only"`
	FailThresholdKnown   bool `json:"fail_threshold_known"`
	FailThresholdUnknown bool `json:"fail_threshold_unknown"`
	Threshold            int  `json:"threshold" binding:"gte=0"`
}

// EventRequest is an audit event as posted by the audited system.
type EventRequest struct {
	ID          string            `json:"id"`
	KindID      int               `json:"event_id" binding:"required,gt=0"`
	Timestamp   *time.Time        `json:"timestamp"`
	UserID      int64             `json:"user_id"`
	Username    string            `json:"username"`
	UserRoles   []string          `json:"user_roles"`
	SourceIP    string            `json:"source_ip"`
	PostID      int64             `json:"post_id"`
	PostType    string            `json:"post_type"`
	PostStatus  string            `json:"post_status"`
	Object      string            `json:"object"`
	EventType   string            `json:"event_type"`
	CustomField string            `json:"custom_field"`
	SiteID      int64             `json:"site_id"`
	Metadata    map[string]string `json:"metadata"`
	Links       map[string]string `json:"links"`
}

// EventSearchRequest 事件查询请求
type EventSearchRequest struct {
	KindID    *int   `json:"event_id,omitempty"`
	Severity  string `json:"severity,omitempty"`
	Username  string `json:"username,omitempty"`
	SourceIP  string `json:"source_ip,omitempty"`
	StartTime *int64 `json:"start_time,omitempty"` // Unix timestamp
	EndTime   *int64 `json:"end_time,omitempty"`   // Unix timestamp
	Size      int    `json:"size,omitempty"`
	From      int    `json:"from,omitempty"`
	QueryText string `json:"query_text,omitempty"`
}

// DeliveryLogRequest 发送记录查询请求
type DeliveryLogRequest struct {
	RuleID    *uint  `json:"rule_id,omitempty"`
	Channel   string `json:"channel,omitempty" binding:"omitempty,oneof=email sms"`
	Success   *bool  `json:"success,omitempty"`
	StartTime *int64 `json:"start_time,omitempty"` // Unix timestamp
	EndTime   *int64 `json:"end_time,omitempty"`   // Unix timestamp
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// ConvertRuleRequest 将 RuleRequest 转换为规则定义
func ConvertRuleRequest(req RuleRequest) notification.RuleDefinition {
	return notification.RuleDefinition{
		Name:                 strings.TrimSpace(req.Name),
		Enabled:              req.Enabled,
		Triggers:             req.Triggers,
		ViewState:            req.ViewState,
		Emails:               trimAll(req.Emails),
		Phones:               trimAll(req.Phones),
		Subject:              req.Subject,
		Body:                 req.Body,
		CriticalOnly:         req.CriticalOnly,
		FirstTimeLoginOnly:   req.FirstTimeLoginOnly,
		FailThresholdKnown:   req.FailThresholdKnown,
		FailThresholdUnknown: req.FailThresholdUnknown,
		Threshold:            req.Threshold,
	}
}

// ConvertEventRequest 将 EventRequest 转换为审计事件
func ConvertEventRequest(req EventRequest) *notification.Event {
	e := &notification.Event{
		ID:          strings.TrimSpace(req.ID),
		KindID:      req.KindID,
		UserID:      req.UserID,
		Username:    strings.TrimSpace(req.Username),
		UserRoles:   trimAll(req.UserRoles),
		SourceIP:    strings.TrimSpace(req.SourceIP),
		PostID:      req.PostID,
		PostType:    req.PostType,
		PostStatus:  req.PostStatus,
		Object:      req.Object,
		EventType:   req.EventType,
		CustomField: req.CustomField,
		SiteID:      req.SiteID,
		Metadata:    req.Metadata,
		Links:       req.Links,
	}
	if req.Timestamp != nil {
		e.Timestamp = *req.Timestamp
	}
	return e
}

// ToSearchQuery 转换为 Elasticsearch 查询
func (r EventSearchRequest) ToSearchQuery() *elasticsearch.SearchQuery {
	return &elasticsearch.SearchQuery{
		KindID:    r.KindID,
		Severity:  r.Severity,
		Username:  r.Username,
		SourceIP:  r.SourceIP,
		StartTime: unixPtr(r.StartTime),
		EndTime:   unixPtr(r.EndTime),
		Size:      r.Size,
		From:      r.From,
		QueryText: r.QueryText,
	}
}

// ToEventQuery 转换为数据库查询，ES 未启用时使用
func (r EventSearchRequest) ToEventQuery() store.EventQuery {
	size := r.Size
	if size <= 0 {
		size = 20
	}
	q := store.EventQuery{
		Severity:  r.Severity,
		Username:  r.Username,
		SourceIP:  r.SourceIP,
		StartTime: unixPtr(r.StartTime),
		EndTime:   unixPtr(r.EndTime),
		Page:      r.From/size + 1,
		PageSize:  size,
	}
	if r.KindID != nil {
		q.KindID = *r.KindID
	}
	return q
}

func (r DeliveryLogRequest) ToJournalQuery() *logger.JournalQuery {
	return &logger.JournalQuery{
		RuleID:    r.RuleID,
		Channel:   r.Channel,
		Success:   r.Success,
		StartTime: unixPtr(r.StartTime),
		EndTime:   unixPtr(r.EndTime),
		Limit:     r.Limit,
		Offset:    r.Offset,
	}
}

func unixPtr(ts *int64) *time.Time {
	if ts == nil {
		return nil
	}
	t := time.Unix(*ts, 0)
	return &t
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
