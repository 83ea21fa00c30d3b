package notification

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"auditwatch/internal/catalog"
)

// Layouts are the configured date and time formats of DATE and TIME conditions.
type Layouts struct {
	Date     string
	Time     string
	Location *time.Location
}

// DefaultLayouts returns ISO dates, 24h times and the local zone.
func DefaultLayouts() Layouts {
	return Layouts{Date: "2006-01-02", Time: "15:04", Location: time.Local}
}

func (l Layouts) location() *time.Location {
	if l.Location == nil {
		return time.Local
	}
	return l.Location
}

// Compiler turns stored definitions into rules against one catalog snapshot.
type Compiler struct {
	catalog *catalog.Catalog
	layouts Layouts
}

func NewCompiler(c *catalog.Catalog, layouts Layouts) *Compiler {
	if layouts.Date == "" {
		layouts.Date = DefaultLayouts().Date
	}
	if layouts.Time == "" {
		layouts.Time = DefaultLayouts().Time
	}
	return &Compiler{catalog: c, layouts: layouts}
}

// Compile builds the nested trigger tree of def. Triggers that cannot be
// resolved compile to conditions that never match; see Rule.Unresolved.
// A definition without triggers or with a broken view state is an error.
func (c *Compiler) Compile(def RuleDefinition) (Rule, error) {
	rule := Rule{
		ID:                   def.ID,
		Name:                 def.Name,
		Enabled:              def.Enabled,
		Emails:               compact(def.Emails),
		Phones:               compact(def.Phones),
		Template:             Template{Subject: def.Subject, Body: def.Body},
		CriticalOnly:         def.CriticalOnly,
		FirstTimeLoginOnly:   def.FirstTimeLoginOnly,
		FailThresholdKnown:   def.FailThresholdKnown,
		FailThresholdUnknown: def.FailThresholdUnknown,
		Threshold:            def.Threshold,
	}

	if len(def.Triggers) == 0 {
		return rule, fmt.Errorf("rule %d: %w", def.ID, ErrEmptyTriggerSequence)
	}

	seq, err := buildTree(def.Triggers, def.ViewState, func(i int, t StoredTrigger) Node {
		cond := c.Condition(t)
		if cond.Err != nil {
			cond.Err = fmt.Errorf("rule %d trigger %d: %w", def.ID, i, cond.Err)
		}
		return Node{GroupOp: c.catalog.GroupOp(t.GroupOp), Condition: &cond}
	})
	if err != nil {
		return rule, fmt.Errorf("rule %d: %w", def.ID, err)
	}

	rule.Triggers = seq
	return rule, nil
}

// Condition resolves one stored trigger.
func (c *Compiler) Condition(t StoredTrigger) Condition {
	field, constraint, ok := c.catalog.Field(t.Field)
	if !ok {
		return unresolved(fmt.Sprintf("field index %d", t.Field))
	}
	op, ok := c.catalog.Operator(t.Operator)
	if !ok {
		return unresolved(fmt.Sprintf("operator index %d", t.Operator))
	}

	cond := Condition{Field: field, Operator: op, Value: strings.TrimSpace(t.Value)}

	switch field {
	case catalog.FieldEventID, catalog.FieldSiteDomain:
		n, err := strconv.ParseInt(cond.Value, 10, 64)
		if err != nil {
			return unresolved(fmt.Sprintf("%s value %q is not numeric", field, cond.Value))
		}
		cond.Extra = NumberExtra{N: n}

	case catalog.FieldPostID:
		n, err := strconv.ParseInt(cond.Value, 10, 64)
		if err != nil {
			return unresolved(fmt.Sprintf("%s value %q is not numeric", field, cond.Value))
		}
		cond.Extra = PostExtra{ID: n, Constraint: constraint}

	case catalog.FieldDate:
		at, err := time.ParseInLocation(c.layouts.Date, cond.Value, c.layouts.location())
		if err != nil {
			return unresolved(fmt.Sprintf("date %q does not match layout %q", cond.Value, c.layouts.Date))
		}
		cond.Extra = DateExtra{At: at}

	case catalog.FieldTime:
		at, err := time.Parse(c.layouts.Time, cond.Value)
		if err != nil {
			return unresolved(fmt.Sprintf("time %q does not match layout %q", cond.Value, c.layouts.Time))
		}
		cond.Extra = TimeExtra{Hour: at.Hour(), Minute: at.Minute()}

	case catalog.FieldUserRole:
		role, ok := c.catalog.UserRole(t.UserRole)
		if !ok {
			return unresolved(fmt.Sprintf("user role index %d", t.UserRole))
		}
		cond.Value = role

	case catalog.FieldPostType:
		postType, ok := c.catalog.PostType(t.PostType)
		if !ok {
			return unresolved(fmt.Sprintf("post type index %d", t.PostType))
		}
		cond.Value = postType

	case catalog.FieldPostStatus:
		status, ok := c.catalog.PostStatus(t.PostStatus)
		if !ok {
			return unresolved(fmt.Sprintf("post status index %d", t.PostStatus))
		}
		cond.Value = status

	case catalog.FieldObject:
		opt, ok := c.catalog.Object(t.Object)
		if !ok {
			return unresolved(fmt.Sprintf("object index %d", t.Object))
		}
		cond.Value = opt.Label
		cond.Extra = OptionExtra{Option: opt}

	case catalog.FieldEventType:
		opt, ok := c.catalog.EventType(t.EventType)
		if !ok {
			return unresolved(fmt.Sprintf("event type index %d", t.EventType))
		}
		cond.Value = opt.Label
		cond.Extra = OptionExtra{Option: opt}
	}

	return cond
}

func unresolved(reason string) Condition {
	return Condition{
		Field: catalog.FieldUnknown,
		Err:   fmt.Errorf("%w: %s", ErrUnresolvableCondition, reason),
	}
}

func compact(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
