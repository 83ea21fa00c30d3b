package notification

import (
	"context"
	"strings"
	"time"

	"auditwatch/internal/catalog"
	"auditwatch/internal/events"
)

// UserDirectory resolves the acting user of an event from its user id.
type UserDirectory interface {
	UsernameByID(ctx context.Context, id int64) (string, bool)
}

// Matcher decides whether a single condition holds for an event.
// It is stateless apart from its clock and safe for concurrent use.
// Matches never touches the user directory; BindActor does, once per event.
type Matcher struct {
	users   UserDirectory
	layouts Layouts
	now     func() time.Time
}

type MatcherOption func(*Matcher)

// WithUserDirectory sets the directory used to resolve event user ids.
func WithUserDirectory(users UserDirectory) MatcherOption {
	return func(m *Matcher) {
		m.users = users
	}
}

// WithClock replaces time.Now for DATE and TIME conditions.
func WithClock(now func() time.Time) MatcherOption {
	return func(m *Matcher) {
		m.now = now
	}
}

func NewMatcher(layouts Layouts, opts ...MatcherOption) *Matcher {
	if layouts.Date == "" {
		layouts.Date = DefaultLayouts().Date
	}
	if layouts.Time == "" {
		layouts.Time = DefaultLayouts().Time
	}
	m := &Matcher{layouts: layouts, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Matches evaluates c against e. Unresolved conditions, unknown field kinds and
// operators a field kind does not support all evaluate to false.
func (m *Matcher) Matches(c Condition, e *Event) bool {
	if c.Err != nil || e == nil {
		return false
	}

	switch c.Field {
	case catalog.FieldEventID:
		n, ok := c.Extra.(NumberExtra)
		if !ok {
			return false
		}
		return equality(c.Operator, int64(e.KindID) == n.N)

	case catalog.FieldDate:
		return m.matchDate(c)

	case catalog.FieldTime:
		return m.matchTime(c)

	case catalog.FieldUsername:
		username, ok := m.ResolveUsername(e)
		if !ok {
			return false
		}
		return equality(c.Operator, username == c.Value)

	case catalog.FieldUserRole:
		return matchRole(c, e.UserRoles)

	case catalog.FieldSourceIP:
		switch c.Operator {
		case catalog.OpEqual:
			return e.SourceIP == c.Value
		case catalog.OpContains:
			return c.Value != "" && strings.Contains(e.SourceIP, c.Value)
		case catalog.OpNotEqual:
			return e.SourceIP != c.Value
		}
		return false

	case catalog.FieldPostID:
		post, ok := c.Extra.(PostExtra)
		if !ok {
			return false
		}
		switch c.Operator {
		case catalog.OpEqual:
			return e.PostID == post.ID && postTypeAllowed(post.Constraint, e.PostType)
		case catalog.OpNotEqual:
			return e.PostID != post.ID
		}
		return false

	case catalog.FieldSiteDomain:
		n, ok := c.Extra.(NumberExtra)
		if !ok {
			return false
		}
		return equality(c.Operator, e.SiteID == n.N)

	case catalog.FieldPostType:
		return equality(c.Operator, strings.EqualFold(e.PostType, c.Value))

	case catalog.FieldPostStatus:
		return equality(c.Operator, catalog.NormalizePostStatus(e.PostStatus) == catalog.NormalizePostStatus(c.Value))

	case catalog.FieldObject:
		return equality(c.Operator, matchOption(c, e.Object))

	case catalog.FieldEventType:
		return equality(c.Operator, matchOption(c, e.EventType))

	case catalog.FieldCustomUserField:
		if c.Operator != catalog.OpEqual {
			return false
		}
		return events.IsCustomFieldChange(e.KindID) && e.CustomField == c.Value
	}

	return false
}

// BindActor returns a copy of e carrying its acting user: the directory entry
// for the event's user id, else the username carried by login events. It is
// the only directory lookup; e itself is not modified.
func (m *Matcher) BindActor(ctx context.Context, e *Event) *Event {
	if e == nil || e.actorBound {
		return e
	}
	bound := *e
	bound.actorBound = true
	bound.actor = e.Username
	if e.UserID != 0 && m.users != nil {
		if name, ok := m.users.UsernameByID(ctx, e.UserID); ok && name != "" {
			bound.actor = name
		}
	}
	return &bound
}

// ResolveUsername returns the acting user bound by BindActor, or the event's
// own username when it was never bound.
func (m *Matcher) ResolveUsername(e *Event) (string, bool) {
	name := e.Username
	if e.actorBound {
		name = e.actor
	}
	return name, name != ""
}

func (m *Matcher) matchDate(c Condition) bool {
	now := m.now().In(m.layouts.location())
	switch c.Operator {
	case catalog.OpEqual:
		return now.Format(m.layouts.Date) == c.Value
	case catalog.OpIsAfter, catalog.OpIsBefore:
		d, ok := c.Extra.(DateExtra)
		if !ok {
			return false
		}
		if c.Operator == catalog.OpIsAfter {
			return now.After(d.At)
		}
		return now.Before(d.At)
	}
	return false
}

func (m *Matcher) matchTime(c Condition) bool {
	now := m.now().In(m.layouts.location())
	switch c.Operator {
	case catalog.OpEqual:
		return now.Format(m.layouts.Time) == c.Value
	case catalog.OpIsAfter, catalog.OpIsBefore:
		t, ok := c.Extra.(TimeExtra)
		if !ok {
			return false
		}
		at := time.Date(now.Year(), now.Month(), now.Day(), t.Hour, t.Minute, 0, 0, now.Location())
		if c.Operator == catalog.OpIsAfter {
			return now.After(at)
		}
		return now.Before(at)
	}
	return false
}

func matchRole(c Condition, roles []string) bool {
	want := catalog.NormalizeRole(c.Value)
	found := false
	for _, r := range roles {
		if catalog.NormalizeRole(r) == want {
			found = true
			break
		}
	}

	switch c.Operator {
	case catalog.OpEqual:
		return found
	case catalog.OpNotEqual:
		return !found
	}
	return false
}

// matchOption tries the display label first and then the storage key.
func matchOption(c Condition, value string) bool {
	if value == "" {
		return false
	}
	got := catalog.NormalizeKey(value)
	if catalog.NormalizeKey(c.Value) == got {
		return true
	}
	if opt, ok := c.Extra.(OptionExtra); ok && opt.Option.Key != "" {
		return catalog.NormalizeKey(opt.Option.Key) == got
	}
	return false
}

func postTypeAllowed(constraint catalog.PostTypeConstraint, postType string) bool {
	postType = strings.ToLower(postType)
	switch constraint {
	case catalog.PostTypePage:
		return postType == "page"
	case catalog.PostTypeCustom:
		return postType != "post" && postType != "page"
	}
	return true
}

// equality applies EQUAL / NOT EQUAL to a precomputed comparison; every
// other operator is unsupported and yields false.
func equality(op catalog.Operator, equal bool) bool {
	switch op {
	case catalog.OpEqual:
		return equal
	case catalog.OpNotEqual:
		return !equal
	}
	return false
}
