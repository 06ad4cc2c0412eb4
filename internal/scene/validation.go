package scene

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength     = 100
	maxDescriptionLen = 500
	maxCommands       = 100
)

// ValidateScene performs comprehensive validation on a scene.
// Returns an error describing the first validation failure found.
func ValidateScene(s *Scene) error {
	if s == nil {
		return ErrInvalidScene
	}

	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidScene)
	}
	if len(s.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidScene, maxNameLength)
	}
	if s.Description != nil && len(*s.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidScene, maxDescriptionLen)
	}

	if len(s.Commands) == 0 {
		return ErrNoCommands
	}
	if len(s.Commands) > maxCommands {
		return fmt.Errorf("%w: exceeds maximum of %d commands", ErrInvalidCommand, maxCommands)
	}

	for i, cmd := range s.Commands {
		if err := ValidateCommand(cmd); err != nil {
			return fmt.Errorf("command[%d]: %w", i, err)
		}
	}

	return nil
}

// ValidateCommand checks if a scene command is valid.
func ValidateCommand(cmd Command) error {
	if cmd.DeviceID == "" {
		return fmt.Errorf("%w: device_id is required", ErrInvalidCommand)
	}
	if cmd.Command == "" {
		return fmt.Errorf("%w: command is required", ErrInvalidCommand)
	}
	return nil
}

// GenerateID creates a new UUID for a scene or execution.
func GenerateID() string {
	return uuid.New().String()
}
