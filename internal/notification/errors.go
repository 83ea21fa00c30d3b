package notification

import "errors"

var (
	// ErrUnresolvableCondition marks a trigger whose catalog index or value cannot be resolved.
	ErrUnresolvableCondition = errors.New("unresolvable condition")
	// ErrEmptyTriggerSequence marks a rule without conditions.
	ErrEmptyTriggerSequence = errors.New("empty trigger sequence")
	// ErrMalformedViewState marks a rule whose group markers do not line up with its triggers.
	ErrMalformedViewState = errors.New("malformed view state")
	// ErrDeliveryFailure wraps a failed send to one endpoint.
	ErrDeliveryFailure = errors.New("delivery failure")
	// ErrRuleStoreUnavailable wraps a failed rule list read.
	ErrRuleStoreUnavailable = errors.New("rule store unavailable")
	// ErrRuleNotFound is returned by RuleStore.GetRule for unknown ids.
	ErrRuleNotFound = errors.New("rule not found")
)
