package rule

import "time"

// AutomationRule binds a single trigger condition to an ordered list of
// actions. Rules are evaluated against telemetry events and fire only
// when the condition transitions from false to true.
type AutomationRule struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Description (optional)
	Description *string `json:"description,omitempty"`

	// Enabled controls whether the rule participates in evaluation.
	// Disabled rules are never indexed and never fire.
	Enabled bool `json:"enabled"`

	// Trigger condition
	Trigger Trigger `json:"trigger"`

	// Actions to execute when the rule fires (ordered)
	Actions []Action `json:"actions"`

	// CooldownSeconds is the minimum interval between firings.
	// Zero means no cooldown.
	CooldownSeconds int `json:"cooldown_seconds"`

	// Runtime state (managed by the engine, not by API clients)
	LastTriggeredAt    *time.Time `json:"last_triggered_at,omitempty"`
	LastConditionState bool       `json:"last_condition_state"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Trigger defines the condition that causes a rule to fire.
//
// A trigger watches one attribute of one device. Target holds the
// comparison value as a JSON scalar (string, number, or bool).
type Trigger struct {
	DeviceID  string   `json:"device_id"`
	Attribute string   `json:"attribute"`
	Operator  Operator `json:"operator"`
	Target    any      `json:"target"`
}

// SameCondition reports whether two triggers describe the same condition.
// Used to decide whether an update invalidates stored condition state.
func (t Trigger) SameCondition(other Trigger) bool {
	return t.DeviceID == other.DeviceID &&
		t.Attribute == other.Attribute &&
		t.Operator == other.Operator &&
		normalizeOperand(t.Target) == normalizeOperand(other.Target)
}

// Operator is a trigger comparison operator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
)

// AllOperators returns all valid trigger operators.
func AllOperators() []Operator {
	return []Operator{
		OpEquals,
		OpNotEquals,
		OpGreaterThan,
		OpLessThan,
		OpContains,
	}
}

// ActionType discriminates the action variants.
type ActionType string

const (
	// ActionNotify sends a human-readable notification.
	ActionNotify ActionType = "notify"

	// ActionControlDevice sends a command to a device.
	ActionControlDevice ActionType = "control_device"

	// ActionSetScene activates a scene.
	ActionSetScene ActionType = "set_scene"

	// ActionLogEvent records a structured event payload.
	ActionLogEvent ActionType = "log_event"
)

// AllActionTypes returns all valid action types.
func AllActionTypes() []ActionType {
	return []ActionType{
		ActionNotify,
		ActionControlDevice,
		ActionSetScene,
		ActionLogEvent,
	}
}

// Action is a tagged union over the four action variants. Type selects
// the variant; only the fields for that variant are meaningful.
//
//   - notify: Message
//   - control_device: DeviceID, Command, Value (optional)
//   - set_scene: SceneID
//   - log_event: Payload
type Action struct {
	Type ActionType `json:"type"`

	// notify
	Message string `json:"message,omitempty"`

	// control_device
	DeviceID string `json:"device_id,omitempty"`
	Command  string `json:"command,omitempty"`
	Value    any    `json:"value,omitempty"`

	// set_scene
	SceneID string `json:"scene_id,omitempty"`

	// log_event
	Payload map[string]any `json:"payload,omitempty"`
}

// DeviceEvent is a single attribute update from a device, as received
// over the telemetry channel.
type DeviceEvent struct {
	DeviceID  string    `json:"device_id"`
	Attribute string    `json:"attribute"`
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// RuleExecution is the audit record of one rule firing.
type RuleExecution struct {
	ID     string `json:"id"`
	RuleID string `json:"rule_id"`

	FiredAt time.Time `json:"fired_at"`

	// The event that caused the firing
	EventDeviceID  string `json:"event_device_id"`
	EventAttribute string `json:"event_attribute"`
	EventValue     string `json:"event_value"`

	Status ExecutionStatus `json:"status"`

	// Action counts
	ActionsTotal  int `json:"actions_total"`
	ActionsFailed int `json:"actions_failed"`

	// Per-action outcomes, in rule action order
	Outcomes []ActionOutcome `json:"outcomes,omitempty"`

	// Total execution duration in milliseconds
	DurationMS int64 `json:"duration_ms"`
}

// ActionOutcome records the result of a single action within a firing.
type ActionOutcome struct {
	ActionIndex int        `json:"action_index"`
	Type        ActionType `json:"type"`
	Status      string     `json:"status"` // success, failed
	Attempts    int        `json:"attempts"`
	Error       string     `json:"error,omitempty"`
}

// ExecutionStatus represents the overall result of a rule firing.
type ExecutionStatus string

const (
	StatusSuccess        ExecutionStatus = "success"
	StatusPartialFailure ExecutionStatus = "partial_failure" // some actions failed
	StatusFailure        ExecutionStatus = "failure"         // all actions failed
)

// DeepCopy creates a complete independent copy of the AutomationRule.
// All pointer, map, and slice fields are cloned so modifications to the
// copy do not affect the original. This is essential for cache isolation.
func (r *AutomationRule) DeepCopy() *AutomationRule {
	if r == nil {
		return nil
	}

	cpy := *r // Shallow copy of value fields

	cpy.Description = cloneStringPtr(r.Description)
	cpy.LastTriggeredAt = cloneTimePtr(r.LastTriggeredAt)

	cpy.Trigger.Target = deepCopyValue(r.Trigger.Target)

	if r.Actions != nil {
		cpy.Actions = make([]Action, len(r.Actions))
		for i, action := range r.Actions {
			cpy.Actions[i] = action
			cpy.Actions[i].Value = deepCopyValue(action.Value)
			if action.Payload != nil {
				cpy.Actions[i].Payload = deepCopyMap(action.Payload)
			}
		}
	}

	return &cpy
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v // Primitives are immutable
	}
}

// cloneStringPtr creates an independent copy of a *string.
func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// cloneTimePtr creates an independent copy of a *time.Time.
func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
