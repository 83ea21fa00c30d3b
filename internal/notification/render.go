package notification

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"auditwatch/internal/events"
)

const (
	DefaultSubject = "{site}: {rule} fired on event {event_id}"
	DefaultBody    = `Notification {rule} was triggered.

Event ID: {event_id}
Severity: {severity}
User: {username}
Role: {user_role}
IP address: {source_ip}
Object: {object}
Event type: {event_type}
Date: {date_time}

{message}
{meta}
{links}`

	smsLimit = 160
)

// EventDescriber supplies the severity and human description of an event kind.
type EventDescriber interface {
	Lookup(id int) (events.Kind, bool)
	GetSeverity(id int) events.Severity
}

// TemplateRenderer substitutes event placeholders into a rule's template,
// falling back to the configured default subject and body.
type TemplateRenderer struct {
	Site           string
	DateTimeLayout string
	DefaultSubject string
	DefaultBody    string

	events EventDescriber
	users  func(e *Event) (string, bool)
}

func NewTemplateRenderer(site string, describer EventDescriber, m *Matcher) *TemplateRenderer {
	r := &TemplateRenderer{
		Site:           site,
		DateTimeLayout: "2006-01-02 15:04:05",
		DefaultSubject: DefaultSubject,
		DefaultBody:    DefaultBody,
		events:         describer,
	}
	if m != nil {
		r.users = m.ResolveUsername
	}
	return r
}

func (r *TemplateRenderer) Render(rule Rule, e *Event) Message {
	subject := rule.Template.Subject
	if strings.TrimSpace(subject) == "" {
		subject = r.DefaultSubject
	}
	body := rule.Template.Body
	if strings.TrimSpace(body) == "" {
		body = r.DefaultBody
	}

	repl := r.replacer(rule, e)
	msg := Message{
		Subject: repl.Replace(subject),
		Body:    strings.TrimSpace(repl.Replace(body)),
	}
	msg.SMS = truncateRunes(msg.Subject+"\n"+r.description(e), smsLimit)
	return msg
}

func (r *TemplateRenderer) replacer(rule Rule, e *Event) *strings.Replacer {
	username := e.Username
	if r.users != nil {
		if name, ok := r.users(e); ok {
			username = name
		}
	}

	severity := events.SeverityInfo
	if r.events != nil {
		severity = r.events.GetSeverity(e.KindID)
	}

	dateTime := ""
	if !e.Timestamp.IsZero() {
		dateTime = e.Timestamp.Format(r.DateTimeLayout)
	}

	return strings.NewReplacer(
		"{username}", orDash(username),
		"{user_role}", orDash(strings.Join(e.UserRoles, ", ")),
		"{site}", r.Site,
		"{event_id}", strconv.Itoa(e.KindID),
		"{severity}", string(severity),
		"{date_time}", dateTime,
		"{message}", r.description(e),
		"{meta}", formatPairs("Metadata", e.Metadata),
		"{links}", formatPairs("Links", e.Links),
		"{source_ip}", orDash(e.SourceIP),
		"{object}", orDash(e.Object),
		"{event_type}", orDash(e.EventType),
		"{rule}", rule.Name,
	)
}

func (r *TemplateRenderer) description(e *Event) string {
	if r.events != nil {
		if k, ok := r.events.Lookup(e.KindID); ok && k.Description != "" {
			return k.Description
		}
	}
	return fmt.Sprintf("Event %d", e.KindID)
}

func formatPairs(title string, m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(title + ":\n")
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("  %s: %s\n", k, m[k]))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
