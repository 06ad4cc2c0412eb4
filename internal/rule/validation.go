package rule

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength     = 100
	maxDescriptionLen = 500
	maxActions        = 50
	maxMessageLength  = 1000
	maxPayloadKeys    = 20
	maxCooldownSec    = 86400 // 24 hours
)

// Pre-computed validation sets for O(1) lookups.
var (
	validOperators   map[Operator]struct{}
	validActionTypes map[ActionType]struct{}
)

func init() {
	validOperators = make(map[Operator]struct{}, len(AllOperators()))
	for _, op := range AllOperators() {
		validOperators[op] = struct{}{}
	}
	validActionTypes = make(map[ActionType]struct{}, len(AllActionTypes()))
	for _, t := range AllActionTypes() {
		validActionTypes[t] = struct{}{}
	}
}

// ValidateRule performs comprehensive validation on a rule.
// Returns an error describing the first validation failure found.
func ValidateRule(r *AutomationRule) error {
	if r == nil {
		return ErrInvalidRule
	}

	if err := ValidateName(r.Name); err != nil {
		return err
	}

	if r.Description != nil && len(*r.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidRule, maxDescriptionLen)
	}

	if r.CooldownSeconds < 0 || r.CooldownSeconds > maxCooldownSec {
		return fmt.Errorf("%w: cooldown_seconds must be 0-%d", ErrInvalidRule, maxCooldownSec)
	}

	if err := ValidateTrigger(r.Trigger); err != nil {
		return err
	}

	if len(r.Actions) == 0 {
		return ErrNoActions
	}
	if len(r.Actions) > maxActions {
		return fmt.Errorf("%w: exceeds maximum of %d actions", ErrInvalidAction, maxActions)
	}

	for i, action := range r.Actions {
		if err := ValidateAction(action); err != nil {
			return fmt.Errorf("action[%d]: %w", i, err)
		}
	}

	return nil
}

// ValidateName checks if a rule name is valid.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateTrigger checks if a trigger definition is valid.
//
// The target must be a JSON scalar. Numeric operators additionally
// require a numerically coercible target so misconfiguration surfaces
// at write time rather than on every event.
func ValidateTrigger(t Trigger) error {
	if t.DeviceID == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalidTrigger)
	}
	if t.Attribute == "" {
		return fmt.Errorf("%w: attribute is required", ErrInvalidTrigger)
	}
	if _, ok := validOperators[t.Operator]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidOperator, t.Operator)
	}

	switch t.Target.(type) {
	case string, bool, float64, float32, int, int64:
	case nil:
		return fmt.Errorf("%w: target is required", ErrInvalidTrigger)
	default:
		return fmt.Errorf("%w: target must be a scalar, got %T", ErrInvalidTrigger, t.Target)
	}

	if t.Operator == OpGreaterThan || t.Operator == OpLessThan {
		if _, err := toFloat(t.Target); err != nil {
			return fmt.Errorf("%w: numeric operator requires numeric target: %v", ErrInvalidTrigger, err)
		}
	}

	return nil
}

// ValidateAction checks if a rule action is valid for its declared type.
func ValidateAction(action Action) error {
	if _, ok := validActionTypes[action.Type]; !ok {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAction, action.Type)
	}

	switch action.Type {
	case ActionNotify:
		if strings.TrimSpace(action.Message) == "" {
			return fmt.Errorf("%w: notify requires message", ErrInvalidAction)
		}
		if len(action.Message) > maxMessageLength {
			return fmt.Errorf("%w: message exceeds %d characters", ErrInvalidAction, maxMessageLength)
		}

	case ActionControlDevice:
		if action.DeviceID == "" {
			return fmt.Errorf("%w: control_device requires device_id", ErrInvalidAction)
		}
		if action.Command == "" {
			return fmt.Errorf("%w: control_device requires command", ErrInvalidAction)
		}

	case ActionSetScene:
		if action.SceneID == "" {
			return fmt.Errorf("%w: set_scene requires scene_id", ErrInvalidAction)
		}

	case ActionLogEvent:
		if len(action.Payload) == 0 {
			return fmt.Errorf("%w: log_event requires payload", ErrInvalidAction)
		}
		if len(action.Payload) > maxPayloadKeys {
			return fmt.Errorf("%w: payload exceeds %d keys", ErrInvalidAction, maxPayloadKeys)
		}
	}

	return nil
}

// GenerateID creates a new UUID for a rule or execution.
func GenerateID() string {
	return uuid.New().String()
}
