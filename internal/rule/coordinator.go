package rule

import (
	"context"
	"errors"
	"sync"
	"time"
)

// WSHub is the interface for broadcasting WebSocket events.
type WSHub interface {
	// Broadcast sends an event to all clients subscribed to the given channel.
	Broadcast(channel string, payload any)
}

// AuditSink records engine-initiated changes in the audit trail.
type AuditSink interface {
	Record(ctx context.Context, action, entityType, entityID string, details map[string]any) error
}

// HistorySink records rule firing outcomes in the time-series store for
// dashboards tracking rule activity and failure rates. Writes are
// fire-and-forget.
type HistorySink interface {
	WriteRuleOutcome(ruleID string, status string, durationMS int64)
}

// WebSocket channel and event names for rule activity.
const (
	wsChannelRules = "rules"

	wsEventRuleFired        = "rule.fired"
	wsEventRuleAutoDisabled = "rule.auto_disabled"
)

// Coordinator is the event pipeline of the rule engine.
//
// For every incoming DeviceEvent it looks up candidate rules in the
// index, evaluates each rule's condition, and fires actions through the
// Dispatcher on false-to-true transitions. It owns the firing
// guarantees:
//
//   - Edge triggering: only transitions fire; repeated true states do not.
//   - Cooldown: firings inside the window are suppressed, not deferred.
//   - Per-rule serialisation: one execution per rule at a time; firings
//     for different rules proceed concurrently.
//   - Auto-disable: after enough consecutive failed firings the rule is
//     disabled and a diagnostic is emitted, so a rule with a dead
//     webhook cannot retry forever.
//
// Thread Safety: HandleEvent is safe for concurrent use. Callers that
// need per-device event ordering (the telemetry ingestor does) must
// serialise calls per device themselves.
type Coordinator struct {
	store      *Store
	dispatcher *Dispatcher
	repo       Repository
	hub        WSHub
	audit      AuditSink
	history    HistorySink
	logger     Logger

	autoDisableThreshold int

	// now is replaceable in tests for cooldown arithmetic.
	now func() time.Time

	mu        sync.Mutex
	ruleLocks map[string]*sync.Mutex

	// failStreaks counts consecutive failed firings per rule.
	streakMu    sync.Mutex
	failStreaks map[string]int
}

// CoordinatorConfig carries coordinator tuning.
type CoordinatorConfig struct {
	// AutoDisableThreshold is the number of consecutive failed firings
	// after which a rule is disabled. Zero or negative turns the
	// safeguard off.
	AutoDisableThreshold int
}

// NewCoordinator creates a new execution coordinator.
//
// Parameters:
//   - store: Rule store for lookups and runtime state persistence
//   - dispatcher: Action dispatcher for firing rules
//   - repo: Repository for persisting execution records
//   - hub: WebSocket hub for broadcasting rule events (may be nil)
//   - audit: Audit sink for auto-disable records (may be nil)
//   - cfg: Coordinator tuning
//   - logger: Logger instance
func NewCoordinator(store *Store, dispatcher *Dispatcher, repo Repository, hub WSHub, audit AuditSink, cfg CoordinatorConfig, logger Logger) *Coordinator {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Coordinator{
		store:                store,
		dispatcher:           dispatcher,
		repo:                 repo,
		hub:                  hub,
		audit:                audit,
		logger:               logger,
		autoDisableThreshold: cfg.AutoDisableThreshold,
		now:                  time.Now,
		ruleLocks:            make(map[string]*sync.Mutex),
		failStreaks:          make(map[string]int),
	}
}

// SetClock replaces the coordinator's time source. Tests use this to
// drive cooldown windows deterministically.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// SetHistory attaches a time-series sink for rule outcome metrics.
// Optional; without one, outcomes are only persisted as execution records.
func (c *Coordinator) SetHistory(history HistorySink) {
	c.history = history
}

// HandleEvent processes one telemetry event through the rule engine.
//
// Every enabled rule watching the event's (device, attribute) stream is
// evaluated. Rules that fire do so before HandleEvent returns; the
// caller's per-device serialisation therefore extends through action
// dispatch, matching the ordering guarantee for telemetry streams.
func (c *Coordinator) HandleEvent(ctx context.Context, event DeviceEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = c.now().UTC()
	}

	ids := c.store.Index().Lookup(event.DeviceID, event.Attribute)
	if len(ids) == 0 {
		return
	}

	for _, id := range ids {
		c.processRule(ctx, id, event)
	}
}

// processRule evaluates one rule against one event, firing if the
// condition transitions from false to true.
func (c *Coordinator) processRule(ctx context.Context, ruleID string, event DeviceEvent) {
	lock := c.lockFor(ruleID)
	lock.Lock()
	defer lock.Unlock()

	r, err := c.store.GetRule(ctx, ruleID)
	if err != nil {
		// Deleted between lookup and processing; nothing to do.
		if errors.Is(err, ErrRuleNotFound) {
			return
		}
		c.logger.Error("loading rule for evaluation", "rule_id", ruleID, "error", err)
		return
	}
	if !r.Enabled {
		return
	}

	result, err := Evaluate(r.Trigger.Operator, event.Value, r.Trigger.Target)
	if err != nil {
		// Condition unknown: log and leave stored state untouched so a
		// later well-formed event sees the original baseline.
		c.logger.Warn("rule condition evaluation failed",
			"rule_id", r.ID,
			"operator", string(r.Trigger.Operator),
			"value", event.Value,
			"error", err,
		)
		return
	}

	prev := r.LastConditionState
	if result == prev {
		return
	}

	if !result {
		// True-to-false transition: record the new baseline, no firing.
		if stateErr := c.store.SetConditionState(ctx, r.ID, false); stateErr != nil {
			c.logger.Error("persisting condition state", "rule_id", r.ID, "error", stateErr)
		}
		return
	}

	// False-to-true transition: the rule wants to fire.
	now := c.now().UTC()
	if c.inCooldown(r, now) {
		// Suppressed outright. The transition is still consumed so the
		// rule does not fire later from this edge.
		if stateErr := c.store.SetConditionState(ctx, r.ID, true); stateErr != nil {
			c.logger.Error("persisting condition state", "rule_id", r.ID, "error", stateErr)
		}
		c.logger.Debug("rule firing suppressed by cooldown",
			"rule_id", r.ID,
			"cooldown_seconds", r.CooldownSeconds,
			"last_triggered_at", r.LastTriggeredAt,
		)
		return
	}

	c.fire(ctx, r, event, now)
}

// inCooldown reports whether now falls inside the rule's cooldown window.
// A firing exactly at the window boundary is allowed.
func (c *Coordinator) inCooldown(r *AutomationRule, now time.Time) bool {
	if r.CooldownSeconds <= 0 || r.LastTriggeredAt == nil {
		return false
	}
	return now.Sub(*r.LastTriggeredAt) < time.Duration(r.CooldownSeconds)*time.Second
}

// fire dispatches the rule's actions and records the outcome.
func (c *Coordinator) fire(ctx context.Context, r *AutomationRule, event DeviceEvent, now time.Time) {
	// Mark the firing before dispatch so the cooldown window opens at
	// fire time, not at completion of possibly slow retries.
	if err := c.store.MarkFired(ctx, r.ID, now); err != nil {
		c.logger.Error("persisting fire timestamp", "rule_id", r.ID, "error", err)
	}

	c.logger.Info("rule fired",
		"rule_id", r.ID,
		"rule_name", r.Name,
		"device_id", event.DeviceID,
		"attribute", event.Attribute,
		"value", event.Value,
	)

	exec := c.dispatcher.Dispatch(ctx, r, event, now)

	if err := c.repo.CreateExecution(ctx, exec); err != nil {
		c.logger.Error("persisting execution record", "rule_id", r.ID, "execution_id", exec.ID, "error", err)
		// Dispatch already happened; the firing stands even if logging fails.
	}

	if c.history != nil {
		c.history.WriteRuleOutcome(r.ID, string(exec.Status), exec.DurationMS)
	}

	if c.hub != nil {
		c.hub.Broadcast(wsChannelRules, map[string]any{
			"event":        wsEventRuleFired,
			"rule_id":      r.ID,
			"rule_name":    r.Name,
			"execution_id": exec.ID,
			"status":       string(exec.Status),
			"fired_at":     exec.FiredAt,
		})
	}

	c.trackOutcome(ctx, r, exec)
}

// trackOutcome updates the consecutive-failure streak and auto-disables
// the rule when it crosses the threshold.
//
// Any firing with at least one failed action counts against the streak;
// only a fully clean firing resets it. A rule that keeps half-working is
// still broken, and silently losing one action per firing is exactly the
// failure mode auto-disable exists to surface.
func (c *Coordinator) trackOutcome(ctx context.Context, r *AutomationRule, exec *RuleExecution) {
	if c.autoDisableThreshold < 1 {
		return
	}

	c.streakMu.Lock()
	if exec.Status != StatusSuccess {
		c.failStreaks[r.ID]++
	} else {
		delete(c.failStreaks, r.ID)
	}
	streak := c.failStreaks[r.ID]
	if streak >= c.autoDisableThreshold {
		delete(c.failStreaks, r.ID)
	}
	c.streakMu.Unlock()

	if streak < c.autoDisableThreshold {
		return
	}

	c.autoDisable(ctx, r, streak)
}

// autoDisable disables a rule and emits the diagnostic trail: log,
// WebSocket broadcast, and audit record.
func (c *Coordinator) autoDisable(ctx context.Context, r *AutomationRule, streak int) {
	if err := c.store.SetEnabled(ctx, r.ID, false); err != nil {
		c.logger.Error("auto-disabling rule", "rule_id", r.ID, "error", err)
		return
	}

	c.logger.Warn("rule auto-disabled after consecutive failures",
		"rule_id", r.ID,
		"rule_name", r.Name,
		"consecutive_failures", streak,
	)

	if c.hub != nil {
		c.hub.Broadcast(wsChannelRules, map[string]any{
			"event":                wsEventRuleAutoDisabled,
			"rule_id":              r.ID,
			"rule_name":            r.Name,
			"consecutive_failures": streak,
		})
	}

	if c.audit != nil {
		details := map[string]any{
			"rule_name":            r.Name,
			"consecutive_failures": streak,
		}
		if err := c.audit.Record(ctx, "auto_disable", "rule", r.ID, details); err != nil {
			c.logger.Error("recording auto-disable audit entry", "rule_id", r.ID, "error", err)
		}
	}
}

// lockFor returns the serialisation mutex for a rule, creating it on
// first use. Locks are never removed; the map grows with the rule set,
// which is bounded and small.
func (c *Coordinator) lockFor(ruleID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, ok := c.ruleLocks[ruleID]
	if !ok {
		lock = &sync.Mutex{}
		c.ruleLocks[ruleID] = lock
	}
	return lock
}
