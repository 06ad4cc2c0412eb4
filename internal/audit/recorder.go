package audit

import (
	"context"
)

// Logger is the minimal logging interface the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder writes audit entries on behalf of the engine and the API.
// It satisfies the rule engine's audit and event sink interfaces.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a recorder backed by the given repository.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, logger: logger}
}

// Record writes an engine-sourced audit entry.
func (r *Recorder) Record(ctx context.Context, action, entityType, entityID string, details map[string]any) error {
	return r.repo.Create(ctx, &Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     SourceEngine,
		Details:    details,
	})
}

// LogEvent records a rule's log_event action as an audit entry.
func (r *Recorder) LogEvent(ctx context.Context, ruleID string, payload map[string]any) error {
	return r.repo.Create(ctx, &Entry{
		Action:     "rule_event",
		EntityType: "rule",
		EntityID:   ruleID,
		Source:     SourceEngine,
		Details:    payload,
	})
}

// RecordAPI writes an audit entry for a user-initiated API mutation.
// Failures are logged, not returned: an audit miss must not fail the
// request that caused it.
func (r *Recorder) RecordAPI(ctx context.Context, userID, action, entityType, entityID string, details map[string]any) {
	err := r.repo.Create(ctx, &Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Source:     SourceAPI,
		Details:    details,
	})
	if err != nil {
		r.logger.Warn("audit write failed", "action", action, "entity_id", entityID, "error", err)
	}
}
