package models

import "time"

// NotificationRule 通知规则模型
type NotificationRule struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"size:255;not null" json:"name"`
	Enabled   bool   `gorm:"index" json:"enabled"`
	Triggers  string `gorm:"type:text;not null" json:"triggers"` // JSON array of stored triggers
	ViewState string `gorm:"type:text" json:"view_state"`        // JSON array of trigger/group/endgroup tokens
	Emails    string `gorm:"type:text" json:"emails"`            // JSON array
	Phones    string `gorm:"type:text" json:"phones"`            // JSON array
	Subject   string `gorm:"size:255" json:"subject"`
	Body      string `gorm:"type:text" json:"body"`

	CriticalOnly         bool `json:"critical_only"`
	FirstTimeLoginOnly   bool `json:"first_time_login_only"`
	FailThresholdKnown   bool `json:"fail_threshold_known"`
	FailThresholdUnknown bool `json:"fail_threshold_unknown"`
	Threshold            int  `json:"threshold"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (NotificationRule) TableName() string {
	return "notification_rules"
}

// AuditEvent 审计事件记录
type AuditEvent struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	EventUUID   string    `gorm:"size:36;uniqueIndex;not null" json:"event_uuid"`
	KindID      int       `gorm:"not null;index" json:"event_id"`
	Severity    string    `gorm:"size:20;index" json:"severity"`
	Timestamp   time.Time `gorm:"index" json:"timestamp"`
	UserID      int64     `json:"user_id"`
	Username    string    `gorm:"size:255;index" json:"username"`
	UserRoles   string    `gorm:"size:500" json:"user_roles"` // comma separated
	SourceIP    string    `gorm:"size:64;index" json:"source_ip"`
	PostID      int64     `json:"post_id"`
	PostType    string    `gorm:"size:100" json:"post_type"`
	PostStatus  string    `gorm:"size:50" json:"post_status"`
	Object      string    `gorm:"size:100" json:"object"`
	EventType   string    `gorm:"size:100" json:"event_type"`
	CustomField string    `gorm:"size:255" json:"custom_field"`
	SiteID      int64     `json:"site_id"`
	Metadata    string    `gorm:"type:text" json:"metadata"` // JSON object
	Links       string    `gorm:"type:text" json:"links"`    // JSON object
	CreatedAt   time.Time `json:"created_at"`
}

func (AuditEvent) TableName() string {
	return "audit_events"
}

// LoginRecord marks a username that has logged in at least once.
type LoginRecord struct {
	Username     string    `gorm:"primaryKey;size:255" json:"username"`
	FirstLoginAt time.Time `json:"first_login_at"`
}

func (LoginRecord) TableName() string {
	return "login_history"
}

// IPGeoCache IP 地理位置缓存
type IPGeoCache struct {
	IP        string    `gorm:"primaryKey;size:64" json:"ip"`
	Country   string    `gorm:"size:100" json:"country"`
	Region    string    `gorm:"size:100" json:"region"`
	City      string    `gorm:"size:100" json:"city"`
	ISP       string    `gorm:"size:255" json:"isp"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (IPGeoCache) TableName() string {
	return "ip_geo_cache"
}
