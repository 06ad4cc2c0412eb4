package scene

import (
	"context"
	"time"
)

// CommandSender delivers device commands for the engine.
type CommandSender interface {
	// SendCommand issues a command to the given device. Value may be nil
	// for parameterless commands.
	SendCommand(ctx context.Context, deviceID, command string, value any) error
}

// WSHub is the interface for broadcasting WebSocket events.
type WSHub interface {
	Broadcast(channel string, payload any)
}

// maxActivationTime is the hard limit for a single scene activation.
const maxActivationTime = 60 * time.Second

// Engine orchestrates scene activation.
//
// It loads scenes from the registry, sends each command through the
// CommandSender in order, records the activation, and broadcasts the
// result. A failing command does not stop later commands.
//
// Thread Safety: ActivateScene is safe for concurrent use.
type Engine struct {
	registry *Registry
	sender   CommandSender
	hub      WSHub
	repo     Repository // For execution logging
	logger   Logger
}

// NewEngine creates a new scene engine.
//
// Parameters:
//   - registry: Scene registry for loading scene definitions
//   - sender: Command sender for device commands
//   - hub: WebSocket hub for broadcasting activation events (may be nil)
//   - repo: Repository for persisting execution logs
//   - logger: Logger instance
func NewEngine(registry *Registry, sender CommandSender, hub WSHub, repo Repository, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{
		registry: registry,
		sender:   sender,
		hub:      hub,
		repo:     repo,
		logger:   logger,
	}
}

// ActivateScene activates a scene by ID.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - sceneID: The scene to activate
//   - triggerType: How the scene was triggered ("manual" or "automation")
//   - triggerSource: Where the trigger originated (API, or the firing rule's ID)
//
// Returns:
//   - string: The execution ID for tracking
//   - error: nil on success, or:
//   - ErrSceneNotFound if scene doesn't exist
//   - ErrSceneDisabled if scene is disabled
func (e *Engine) ActivateScene(ctx context.Context, sceneID, triggerType, triggerSource string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, maxActivationTime)
	defer cancel()

	s, err := e.registry.GetScene(ctx, sceneID)
	if err != nil {
		return "", err
	}
	if !s.Enabled {
		return "", ErrSceneDisabled
	}

	exec := &Execution{
		ID:            GenerateID(),
		SceneID:       sceneID,
		TriggeredAt:   time.Now().UTC(),
		TriggerSource: triggerSource,
		CommandsTotal: len(s.Commands),
	}

	e.logger.Info("scene activation started",
		"scene_id", sceneID,
		"scene_name", s.Name,
		"execution_id", exec.ID,
		"trigger_type", triggerType,
		"commands", len(s.Commands),
	)

	start := time.Now()
	for i, cmd := range s.Commands {
		if sendErr := e.sender.SendCommand(ctx, cmd.DeviceID, cmd.Command, cmd.Value); sendErr != nil {
			exec.CommandsFailed++
			e.logger.Warn("scene command failed",
				"scene_id", sceneID,
				"command_index", i,
				"device_id", cmd.DeviceID,
				"command", cmd.Command,
				"error", sendErr,
			)
		}
	}
	exec.DurationMS = time.Since(start).Milliseconds()

	switch {
	case exec.CommandsFailed == 0:
		exec.Status = StatusCompleted
	case exec.CommandsFailed == exec.CommandsTotal:
		exec.Status = StatusFailed
	default:
		exec.Status = StatusPartial
	}

	if createErr := e.repo.CreateExecution(ctx, exec); createErr != nil {
		e.logger.Error("failed to record scene execution", "execution_id", exec.ID, "error", createErr)
		// Commands already went out; the activation stands even if logging fails.
	}

	if e.hub != nil {
		e.hub.Broadcast("scenes", map[string]any{
			"event":        "scene.activated",
			"scene_id":     sceneID,
			"scene_name":   s.Name,
			"execution_id": exec.ID,
			"status":       string(exec.Status),
		})
	}

	e.logger.Info("scene activation finished",
		"scene_id", sceneID,
		"execution_id", exec.ID,
		"status", string(exec.Status),
		"failed", exec.CommandsFailed,
	)

	return exec.ID, nil
}
