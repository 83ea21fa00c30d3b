package notification

import (
	"context"

	"auditwatch/internal/events"
)

// RuleStore supplies stored rule definitions to the engine.
type RuleStore interface {
	// ListEnabledRules returns a point-in-time snapshot of every enabled rule.
	ListEnabledRules(ctx context.Context) ([]RuleDefinition, error)
	// GetRule returns ErrRuleNotFound for unknown ids.
	GetRule(ctx context.Context, id uint) (RuleDefinition, error)
}

// Message is the rendered content of a fired rule.
type Message struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	// SMS is the subject plus the event kind description, cut to 160 runes.
	// The rule's custom body is never sent by SMS.
	SMS string `json:"sms"`
}

type MessageRenderer interface {
	Render(rule Rule, e *Event) Message
}

// NotificationSender delivers a message to one endpoint.
type NotificationSender interface {
	SendEmail(ctx context.Context, address, subject, body string) error
	SendSMS(ctx context.Context, phone, body string) error
}

type SeverityResolver interface {
	GetSeverity(kindID int) events.Severity
}
