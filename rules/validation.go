package rules

import "fmt"

const (
	maxNameLength    = 200
	maxConditions    = 50
	maxActions       = 20
	maxDelayDaysCap  = 3650
	maxValueElements = 100
)

var validOperators = map[Operator]bool{
	OpGreater:      true,
	OpGreaterEqual: true,
	OpLess:         true,
	OpLessEqual:    true,
	OpEqual:        true,
	OpNotEqual:     true,
	OpIsTrue:       true,
	OpIsFalse:      true,
	OpIn:           true,
	OpNotIn:        true,
}

// validImmediateActions lists the kinds allowed in a rule's immediate phase.
// Destructive kinds are delayed-only so that every deletion passes through
// the candidate queue.
var validImmediateActions = map[ActionKind]bool{
	ActionAddToCollection:      true,
	ActionRemoveFromCollection: true,
	ActionSetTitleFormat:       true,
	ActionClearTitleFormat:     true,
}

var validDelayedActions = map[ActionKind]bool{
	ActionDeleteViaRadarr:      true,
	ActionDeleteViaSonarr:      true,
	ActionDeleteInPlex:         true,
	ActionRemoveFromCollection: true,
	ActionClearTitleFormat:     true,
}

// ValidateRule checks a rule definition before it reaches the store.
// Returns a *ValidationError describing the first problem found, nil if the
// rule is valid. Evaluation-time leniency (unknown fields, absent values) is
// deliberate and not duplicated here; validation only rejects shapes that
// could never behave sensibly.
func ValidateRule(rule *Rule) error {
	if rule.Name == "" {
		return &ValidationError{Message: "name cannot be empty"}
	}
	if len(rule.Name) > maxNameLength {
		return &ValidationError{Message: fmt.Sprintf("name length %d exceeds maximum of %d characters", len(rule.Name), maxNameLength)}
	}
	if rule.LibraryID == "" {
		return &ValidationError{Message: "library_id cannot be empty"}
	}

	if rule.Logic != "" && rule.Logic != LogicAnd && rule.Logic != LogicOr {
		return &ValidationError{Message: fmt.Sprintf("logic must be AND or OR, got %q", rule.Logic)}
	}

	if len(rule.Conditions) > maxConditions {
		return &ValidationError{Message: fmt.Sprintf("rule has %d conditions, maximum allowed is %d", len(rule.Conditions), maxConditions)}
	}
	for i, cond := range rule.Conditions {
		if err := validateCondition(i, cond); err != nil {
			return err
		}
	}

	total := len(rule.Actions.Immediate) + len(rule.Actions.Delayed)
	if total > maxActions {
		return &ValidationError{Message: fmt.Sprintf("rule has %d actions, maximum allowed is %d", total, maxActions)}
	}

	for i, action := range rule.Actions.Immediate {
		if !validImmediateActions[action.Kind] {
			return &ValidationError{Message: fmt.Sprintf("immediate action %d has invalid type %q", i, action.Kind)}
		}
		if err := validateActionParams(i, "immediate", action); err != nil {
			return err
		}
		if action.DelayDays != 0 {
			return &ValidationError{Message: fmt.Sprintf("immediate action %d cannot carry a delay", i)}
		}
	}

	for i, action := range rule.Actions.Delayed {
		if !validDelayedActions[action.Kind] {
			return &ValidationError{Message: fmt.Sprintf("delayed action %d has invalid type %q", i, action.Kind)}
		}
		if err := validateActionParams(i, "delayed", action); err != nil {
			return err
		}
		if action.DelayDays < 0 {
			return &ValidationError{Message: fmt.Sprintf("delayed action %d has negative delay_days", i)}
		}
		if action.DelayDays > maxDelayDaysCap {
			return &ValidationError{Message: fmt.Sprintf("delayed action %d has delay_days %d, maximum allowed is %d", i, action.DelayDays, maxDelayDaysCap)}
		}
	}

	return nil
}

func validateCondition(i int, cond Condition) error {
	if cond.Field == "" {
		return &ValidationError{Message: fmt.Sprintf("condition %d has empty field", i)}
	}
	if !validOperators[cond.Operator] {
		return &ValidationError{Message: fmt.Sprintf("condition %d has invalid operator %q", i, cond.Operator)}
	}

	switch cond.Operator {
	case OpIsTrue, OpIsFalse:
		// No value needed.
	case OpIn, OpNotIn:
		if list, ok := cond.Value.([]any); ok && len(list) > maxValueElements {
			return &ValidationError{Message: fmt.Sprintf("condition %d has %d value elements, maximum allowed is %d", i, len(list), maxValueElements)}
		}
		if list, ok := cond.Value.([]string); ok && len(list) > maxValueElements {
			return &ValidationError{Message: fmt.Sprintf("condition %d has %d value elements, maximum allowed is %d", i, len(list), maxValueElements)}
		}
	default:
		if cond.Value == nil {
			return &ValidationError{Message: fmt.Sprintf("condition %d requires a value for operator %q", i, cond.Operator)}
		}
	}

	return nil
}

func validateActionParams(i int, phase string, action Action) error {
	switch action.Kind {
	case ActionAddToCollection, ActionRemoveFromCollection:
		if action.CollectionName == "" {
			return &ValidationError{Message: fmt.Sprintf("%s action %d requires collection_name", phase, i)}
		}
	case ActionSetTitleFormat:
		if action.TitleFormat == "" {
			return &ValidationError{Message: fmt.Sprintf("%s action %d requires title_format", phase, i)}
		}
	}
	return nil
}
