package scene

import "time"

// Scene represents a named collection of device commands that can be
// activated together, manually or by an automation rule.
type Scene struct {
	// Identity
	ID   string `json:"id"`
	Name string `json:"name"`

	// Description (optional)
	Description *string `json:"description,omitempty"`

	// Enabled controls whether the scene can be activated.
	Enabled bool `json:"enabled"`

	// Commands to execute (ordered)
	Commands []Command `json:"commands"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Command defines a single device command within a scene.
type Command struct {
	// Target device
	DeviceID string `json:"device_id"`

	// Command to execute (e.g., "set_target", "lock", "power")
	Command string `json:"command"`

	// Command parameter (optional, protocol-specific)
	Value any `json:"value,omitempty"`
}

// Execution tracks a single activation of a scene.
type Execution struct {
	ID          string    `json:"id"`
	SceneID     string    `json:"scene_id"`
	TriggeredAt time.Time `json:"triggered_at"`

	// TriggerSource identifies the activation origin: "api" for manual
	// activations, or the firing rule's ID for automation activations.
	TriggerSource string `json:"trigger_source"`

	Status ExecutionStatus `json:"status"`

	// Command counts
	CommandsTotal  int `json:"commands_total"`
	CommandsFailed int `json:"commands_failed"`

	// Total execution duration in milliseconds
	DurationMS int64 `json:"duration_ms"`
}

// ExecutionStatus represents the result of a scene activation.
type ExecutionStatus string

const (
	StatusCompleted ExecutionStatus = "completed"
	StatusPartial   ExecutionStatus = "partial" // some commands failed
	StatusFailed    ExecutionStatus = "failed"  // all commands failed
)

// DeepCopy creates a complete independent copy of the Scene.
// All pointer and slice fields are cloned so modifications to the copy
// do not affect the original. This is essential for cache isolation.
func (s *Scene) DeepCopy() *Scene {
	if s == nil {
		return nil
	}

	cpy := *s

	if s.Description != nil {
		v := *s.Description
		cpy.Description = &v
	}
	if s.Commands != nil {
		cpy.Commands = make([]Command, len(s.Commands))
		copy(cpy.Commands, s.Commands)
	}

	return &cpy
}
