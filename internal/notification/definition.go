package notification

import (
	"errors"
	"fmt"
	"strings"

	"auditwatch/internal/catalog"
)

// View-state tokens. A definition's ViewState walks its Triggers in order:
// "trigger" consumes the next trigger, "group" opens a parenthesized
// sub-sequence and "endgroup" closes it.
const (
	TokenTrigger  = "trigger"
	TokenGroup    = "group"
	TokenEndGroup = "endgroup"
)

// StoredTrigger is a trigger as persisted by the admin UI: catalog indices plus free text.
type StoredTrigger struct {
	GroupOp    int    `json:"group_op"`
	Field      int    `json:"field"`
	Operator   int    `json:"operator"`
	PostStatus int    `json:"post_status"`
	PostType   int    `json:"post_type"`
	UserRole   int    `json:"user_role"`
	Object     int    `json:"object"`
	EventType  int    `json:"event_type"`
	Value      string `json:"value"`
}

// RuleDefinition is the stored, uncompiled form of a notification rule.
type RuleDefinition struct {
	ID        uint            `json:"id"`
	Name      string          `json:"name"`
	Enabled   bool            `json:"enabled"`
	Triggers  []StoredTrigger `json:"triggers"`
	ViewState []string        `json:"view_state,omitempty"`
	Emails    []string        `json:"emails,omitempty"`
	Phones    []string        `json:"phones,omitempty"`
	Subject   string          `json:"subject,omitempty"`
	Body      string          `json:"body,omitempty"`

	CriticalOnly         bool `json:"critical_only"`
	FirstTimeLoginOnly   bool `json:"first_time_login_only"`
	FailThresholdKnown   bool `json:"fail_threshold_known"`
	FailThresholdUnknown bool `json:"fail_threshold_unknown"`
	Threshold            int  `json:"threshold,omitempty"`
}

// Validate checks what the admin API must reject before a definition is saved.
func (d RuleDefinition) Validate() error {
	var errs []error

	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if len(d.Triggers) == 0 {
		errs = append(errs, ErrEmptyTriggerSequence)
	}
	if len(d.Emails) == 0 && len(d.Phones) == 0 {
		errs = append(errs, errors.New("at least one email address or phone number is required"))
	}
	for _, addr := range d.Emails {
		if !strings.Contains(addr, "@") {
			errs = append(errs, fmt.Errorf("invalid email address %q", addr))
		}
	}
	if d.Threshold < 0 {
		errs = append(errs, errors.New("threshold cannot be negative"))
	}
	if _, err := buildTree(d.Triggers, d.ViewState, func(_ int, _ StoredTrigger) Node { return Node{Condition: &Condition{}} }); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// buildTree walks the view state alongside the triggers and returns the
// nested structure. An empty view state means a flat sequence.
func buildTree(triggers []StoredTrigger, viewState []string, leaf func(int, StoredTrigger) Node) (Sequence, error) {
	if len(viewState) == 0 {
		seq := make(Sequence, 0, len(triggers))
		for i, t := range triggers {
			seq = append(seq, leaf(i, t))
		}
		return seq, nil
	}

	next := 0
	stack := []Sequence{{}}

	for pos, token := range viewState {
		switch token {
		case TokenTrigger:
			if next >= len(triggers) {
				return nil, fmt.Errorf("%w: token %d references trigger %d of %d", ErrMalformedViewState, pos, next, len(triggers))
			}
			top := len(stack) - 1
			stack[top] = append(stack[top], leaf(next, triggers[next]))
			next++
		case TokenGroup:
			stack = append(stack, Sequence{})
		case TokenEndGroup:
			if len(stack) == 1 {
				return nil, fmt.Errorf("%w: unbalanced endgroup at token %d", ErrMalformedViewState, pos)
			}
			group := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(group) == 0 {
				return nil, fmt.Errorf("%w: empty group closed at token %d", ErrMalformedViewState, pos)
			}
			top := len(stack) - 1
			// A group joins the outer sequence with the operator of its first condition.
			stack[top] = append(stack[top], Node{GroupOp: firstGroupOp(group), Group: group})
		default:
			return nil, fmt.Errorf("%w: unknown token %q", ErrMalformedViewState, token)
		}
	}

	if len(stack) != 1 {
		return nil, fmt.Errorf("%w: %d unclosed group(s)", ErrMalformedViewState, len(stack)-1)
	}
	if next != len(triggers) {
		return nil, fmt.Errorf("%w: %d trigger(s) not referenced", ErrMalformedViewState, len(triggers)-next)
	}
	return stack[0], nil
}

func firstGroupOp(s Sequence) catalog.GroupOp {
	if len(s) == 0 {
		return catalog.And
	}
	if s[0].IsGroup() {
		return firstGroupOp(s[0].Group)
	}
	return s[0].GroupOp
}
