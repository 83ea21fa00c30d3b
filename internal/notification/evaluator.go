package notification

import "auditwatch/internal/catalog"

// Evaluator folds trigger sequences into a single verdict.
type Evaluator struct {
	matcher *Matcher
}

func NewEvaluator(m *Matcher) *Evaluator {
	if m == nil {
		m = NewMatcher(DefaultLayouts())
	}
	return &Evaluator{matcher: m}
}

// Evaluate folds seq left to right with each node's operator and no
// precedence between AND and OR: [A, B(OR), C(AND)] is (A OR B) AND C.
// Groups are evaluated to one value before they are folded in.
// An empty sequence never matches.
func (ev *Evaluator) Evaluate(seq Sequence, e *Event) bool {
	if len(seq) == 0 {
		return false
	}

	result := ev.node(seq[0], e)
	for _, n := range seq[1:] {
		v := ev.node(n, e)
		if n.GroupOp == catalog.Or {
			result = result || v
		} else {
			result = result && v
		}
	}
	return result
}

// EvaluateSingle is the fast path for one-condition rules.
func (ev *Evaluator) EvaluateSingle(c Condition, e *Event) bool {
	return ev.matcher.Matches(c, e)
}

// EvaluateRule picks the fast path when the rule is a single bare condition.
func (ev *Evaluator) EvaluateRule(r Rule, e *Event) bool {
	if len(r.Triggers) == 1 && !r.Triggers[0].IsGroup() {
		return ev.EvaluateSingle(*r.Triggers[0].Condition, e)
	}
	return ev.Evaluate(r.Triggers, e)
}

func (ev *Evaluator) node(n Node, e *Event) bool {
	if n.IsGroup() {
		return ev.Evaluate(n.Group, e)
	}
	return ev.matcher.Matches(*n.Condition, e)
}

// Matcher returns the matcher the evaluator uses.
func (ev *Evaluator) Matcher() *Matcher {
	return ev.matcher
}
