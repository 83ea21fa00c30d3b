package notification

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"auditwatch/internal/events"
)

func TestRenderCustomTemplate(t *testing.T) {
	r := NewTemplateRenderer("shop.example.com", events.NewRegistry(), newTestMatcher())
	rule := Rule{
		Name: "Admin logins",
		Template: Template{
			Subject: "[{site}] {username} logged in",
			Body:    "{username} ({user_role}) from {source_ip} at {date_time}, severity {severity}, event {event_id}: {message}\n{meta}",
		},
	}
	e := newTestMatcher().BindActor(context.Background(), &Event{
		KindID:    1000,
		UserID:    7,
		Username:  "ignored",
		UserRoles: []string{"administrator"},
		SourceIP:  "10.0.0.5",
		Timestamp: time.Date(2024, 6, 15, 14, 30, 5, 0, time.UTC),
		Metadata:  map[string]string{"browser": "Firefox", "agent": "x"},
	})

	msg := r.Render(rule, e)

	assert.Equal(t, "[shop.example.com] alice logged in", msg.Subject)
	assert.Equal(t, "alice (administrator) from 10.0.0.5 at 2024-06-15 14:30:05, severity low, event 1000: User logged in\nMetadata:\n  agent: x\n  browser: Firefox", msg.Body)
	assert.Equal(t, "[shop.example.com] alice logged in\nUser logged in", msg.SMS)
}

func TestRenderDefaultTemplate(t *testing.T) {
	r := NewTemplateRenderer("example.org", events.NewRegistry(), nil)
	msg := r.Render(Rule{Name: "Plugins"}, &Event{KindID: 5000, Object: "plugin", EventType: "created"})

	assert.Equal(t, "example.org: Plugins fired on event 5000", msg.Subject)
	assert.Contains(t, msg.Body, "Severity: critical")
	assert.Contains(t, msg.Body, "User: -")
	assert.Contains(t, msg.Body, "Installed a plugin")
	assert.NotContains(t, msg.Body, "{")
}

func TestRenderUnknownKind(t *testing.T) {
	r := NewTemplateRenderer("", nil, nil)
	msg := r.Render(Rule{Template: Template{Subject: "{severity}", Body: "{message}"}}, &Event{KindID: 31337})

	assert.Equal(t, "info", msg.Subject)
	assert.Equal(t, "Event 31337", msg.Body)
}

func TestSMSIsTruncated(t *testing.T) {
	r := NewTemplateRenderer("", events.NewRegistry(), nil)
	rule := Rule{Template: Template{Subject: strings.Repeat("ü", 200)}}

	msg := r.Render(rule, &Event{KindID: 1000})
	assert.Equal(t, 160, utf8.RuneCountInString(msg.SMS))
}
