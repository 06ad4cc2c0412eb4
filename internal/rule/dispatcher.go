package rule

import (
	"context"
	"fmt"
	"time"
)

// Notifier delivers human-readable notifications for notify actions.
type Notifier interface {
	// Notify sends a notification message. The rule ID and triggering
	// event are included for context in delivery payloads.
	Notify(ctx context.Context, message string, ruleID string, event DeviceEvent) error
}

// CommandChannel sends commands to devices for control_device actions.
type CommandChannel interface {
	// SendCommand issues a command to the given device. Value may be nil
	// for parameterless commands.
	SendCommand(ctx context.Context, deviceID, command string, value any) error
}

// SceneActivator activates scenes for set_scene actions.
type SceneActivator interface {
	// ActivateScene runs a scene. The trigger source identifies the
	// firing rule for the scene's own execution log.
	ActivateScene(ctx context.Context, sceneID, triggerType, triggerSource string) (string, error)
}

// EventSink records structured payloads for log_event actions.
type EventSink interface {
	// LogEvent records an application event emitted by a rule.
	LogEvent(ctx context.Context, ruleID string, payload map[string]any) error
}

// Default dispatch tuning, used when DispatcherConfig fields are zero.
const (
	// defaultMaxAttempts is the initial attempt plus three retries.
	defaultMaxAttempts    = 4
	defaultRetryBackoff   = 200 * time.Millisecond
	defaultAttemptTimeout = 5 * time.Second

	// backoffMultiplier grows the delay between retries: 200ms, 800ms, 3200ms.
	backoffMultiplier = 4
)

// DispatcherConfig carries dispatch tuning. Zero values select defaults.
type DispatcherConfig struct {
	// MaxAttempts is the total number of attempts per action (initial + retries).
	MaxAttempts int

	// RetryBackoff is the delay before the first retry. Each further
	// retry multiplies the delay by four.
	RetryBackoff time.Duration

	// AttemptTimeout bounds each individual collaborator call.
	AttemptTimeout time.Duration
}

// Dispatcher executes the actions of a fired rule.
//
// Actions run strictly in order. Each action is retried on transient
// failure with exponential backoff; failures marked Permanent stop
// retrying immediately. One action failing never prevents later actions
// from running: the firing degrades to partial_failure instead.
//
// Thread Safety: Dispatch is safe for concurrent use. Callers serialise
// per rule; different rules may dispatch concurrently.
type Dispatcher struct {
	notifier Notifier
	commands CommandChannel
	scenes   SceneActivator
	events   EventSink
	logger   Logger

	maxAttempts    int
	retryBackoff   time.Duration
	attemptTimeout time.Duration

	// sleep is replaceable in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a new action dispatcher.
//
// Collaborators may be nil; actions whose collaborator is missing fail
// permanently with a configuration error.
func NewDispatcher(notifier Notifier, commands CommandChannel, scenes SceneActivator, events EventSink, cfg DispatcherConfig, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	return &Dispatcher{
		notifier:       notifier,
		commands:       commands,
		scenes:         scenes,
		events:         events,
		logger:         logger,
		maxAttempts:    cfg.MaxAttempts,
		retryBackoff:   cfg.RetryBackoff,
		attemptTimeout: cfg.AttemptTimeout,
		sleep:          sleepCtx,
	}
}

// Dispatch executes every action of a fired rule in order and returns
// the execution record. The record is complete but not yet persisted;
// the coordinator owns persistence and broadcasting.
func (d *Dispatcher) Dispatch(ctx context.Context, r *AutomationRule, event DeviceEvent, firedAt time.Time) *RuleExecution {
	exec := &RuleExecution{
		ID:             GenerateID(),
		RuleID:         r.ID,
		FiredAt:        firedAt.UTC(),
		EventDeviceID:  event.DeviceID,
		EventAttribute: event.Attribute,
		EventValue:     normalizeOperand(event.Value),
		ActionsTotal:   len(r.Actions),
		Outcomes:       make([]ActionOutcome, 0, len(r.Actions)),
	}

	start := time.Now()
	for i, action := range r.Actions {
		outcome := ActionOutcome{
			ActionIndex: i,
			Type:        action.Type,
			Status:      "success",
		}

		attempts, err := d.dispatchAction(ctx, r, action, event)
		outcome.Attempts = attempts
		if err != nil {
			outcome.Status = "failed"
			outcome.Error = err.Error()
			exec.ActionsFailed++
			d.logger.Warn("rule action failed",
				"rule_id", r.ID,
				"action_index", i,
				"action_type", string(action.Type),
				"attempts", attempts,
				"error", err,
			)
		}

		exec.Outcomes = append(exec.Outcomes, outcome)
	}
	exec.DurationMS = time.Since(start).Milliseconds()

	switch {
	case exec.ActionsFailed == 0:
		exec.Status = StatusSuccess
	case exec.ActionsFailed == exec.ActionsTotal:
		exec.Status = StatusFailure
	default:
		exec.Status = StatusPartialFailure
	}

	return exec
}

// dispatchAction runs one action with retry. It returns the number of
// attempts made and the final error, nil on success.
func (d *Dispatcher) dispatchAction(ctx context.Context, r *AutomationRule, action Action, event DeviceEvent) (int, error) {
	backoff := d.retryBackoff
	var lastErr error

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
		err := d.execute(attemptCtx, r, action, event)
		cancel()

		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if IsPermanent(err) {
			return attempt, err
		}
		if attempt == d.maxAttempts {
			break
		}

		d.logger.Debug("retrying rule action",
			"rule_id", r.ID,
			"action_type", string(action.Type),
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		if sleepErr := d.sleep(ctx, backoff); sleepErr != nil {
			return attempt, fmt.Errorf("dispatch aborted: %w", sleepErr)
		}
		backoff *= backoffMultiplier
	}

	return d.maxAttempts, lastErr
}

// execute routes a single action attempt to its collaborator.
//
// The switch is exhaustive over ActionType; validation guarantees no
// other value reaches dispatch, but an unknown type still fails
// permanently rather than silently succeeding.
func (d *Dispatcher) execute(ctx context.Context, r *AutomationRule, action Action, event DeviceEvent) error {
	switch action.Type {
	case ActionNotify:
		if d.notifier == nil {
			return Permanent(fmt.Errorf("%w: no notifier configured", ErrInvalidAction))
		}
		return d.notifier.Notify(ctx, action.Message, r.ID, event)

	case ActionControlDevice:
		if d.commands == nil {
			return Permanent(fmt.Errorf("%w: no command channel configured", ErrInvalidAction))
		}
		return d.commands.SendCommand(ctx, action.DeviceID, action.Command, action.Value)

	case ActionSetScene:
		if d.scenes == nil {
			return Permanent(fmt.Errorf("%w: no scene activator configured", ErrInvalidAction))
		}
		_, err := d.scenes.ActivateScene(ctx, action.SceneID, "automation", r.ID)
		return err

	case ActionLogEvent:
		if d.events == nil {
			return Permanent(fmt.Errorf("%w: no event sink configured", ErrInvalidAction))
		}
		return d.events.LogEvent(ctx, r.ID, action.Payload)

	default:
		return Permanent(fmt.Errorf("%w: unknown type %q", ErrInvalidAction, action.Type))
	}
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
