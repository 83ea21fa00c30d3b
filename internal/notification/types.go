package notification

import (
	"time"

	"auditwatch/internal/catalog"
)

// Extra carries the per-field-kind data resolved when a rule is compiled.
type Extra interface {
	extra()
}

// NumberExtra holds a numeric comparison value (event id, site id).
type NumberExtra struct {
	N int64
}

// PostExtra holds the post id and the post type constraint of legacy aliases.
type PostExtra struct {
	ID         int64
	Constraint catalog.PostTypeConstraint
}

// OptionExtra holds a catalog option whose label and key may differ.
type OptionExtra struct {
	Option catalog.Option
}

// DateExtra holds the configured calendar date.
type DateExtra struct {
	At time.Time
}

// TimeExtra holds the configured time of day.
type TimeExtra struct {
	Hour   int
	Minute int
}

func (NumberExtra) extra() {}
func (PostExtra) extra()   {}
func (OptionExtra) extra() {}
func (DateExtra) extra()   {}
func (TimeExtra) extra()   {}

// Condition is one compiled field/operator/value test.
type Condition struct {
	Field    catalog.FieldKind
	Operator catalog.Operator
	Value    string
	Extra    Extra

	// Err is set when the stored trigger could not be resolved; such a
	// condition never matches.
	Err error
}

// Node is one element of a Sequence: either a condition or a nested group.
// GroupOp joins the node to the node before it and is ignored on the first node.
type Node struct {
	GroupOp   catalog.GroupOp
	Condition *Condition
	Group     Sequence
}

// IsGroup reports whether the node is a parenthesized sub-sequence.
func (n Node) IsGroup() bool {
	return n.Condition == nil
}

// Sequence is an ordered list of conditions and groups folded left to right.
type Sequence []Node

// Conditions returns the number of conditions in the sequence, groups included.
func (s Sequence) Conditions() int {
	total := 0
	for _, n := range s {
		if n.IsGroup() {
			total += n.Group.Conditions()
		} else {
			total++
		}
	}
	return total
}

// Single returns the one-condition sequence equivalent to c.
func Single(c Condition) Sequence {
	return Sequence{{Condition: &c}}
}

// Template is a rule's custom message; empty fields fall back to the defaults.
type Template struct {
	Subject string
	Body    string
}

// DefaultFailThreshold applies to fail-threshold rules without an explicit threshold.
const DefaultFailThreshold = 10

// Rule is a compiled notification rule.
type Rule struct {
	ID       uint
	Name     string
	Enabled  bool
	Triggers Sequence
	Emails   []string
	Phones   []string
	Template Template

	CriticalOnly         bool
	FirstTimeLoginOnly   bool
	FailThresholdKnown   bool
	FailThresholdUnknown bool
	Threshold            int
}

// Unresolved returns the errors of every condition that failed to compile.
func (r Rule) Unresolved() []error {
	var errs []error
	var walk func(Sequence)
	walk = func(s Sequence) {
		for _, n := range s {
			if n.IsGroup() {
				walk(n.Group)
			} else if n.Condition.Err != nil {
				errs = append(errs, n.Condition.Err)
			}
		}
	}
	walk(r.Triggers)
	return errs
}

// FailThreshold returns the effective failed-login threshold.
func (r Rule) FailThreshold() int {
	if r.Threshold > 0 {
		return r.Threshold
	}
	return DefaultFailThreshold
}

// Event is the audit event a dispatch pass evaluates. It is never mutated by the engine.
type Event struct {
	ID          string            `json:"id"`
	KindID      int               `json:"event_id"`
	Timestamp   time.Time         `json:"timestamp"`
	UserID      int64             `json:"user_id,omitempty"`
	Username    string            `json:"username,omitempty"`
	UserRoles   []string          `json:"user_roles,omitempty"`
	SourceIP    string            `json:"source_ip,omitempty"`
	PostID      int64             `json:"post_id,omitempty"`
	PostType    string            `json:"post_type,omitempty"`
	PostStatus  string            `json:"post_status,omitempty"`
	Object      string            `json:"object,omitempty"`
	EventType   string            `json:"event_type,omitempty"`
	CustomField string            `json:"custom_field,omitempty"`
	SiteID      int64             `json:"site_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Links       map[string]string `json:"links,omitempty"`

	// actor is the resolved acting username, set by Matcher.BindActor.
	actor      string
	actorBound bool
}
