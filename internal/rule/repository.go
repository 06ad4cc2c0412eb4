package rule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for rule persistence.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Rule CRUD
	GetByID(ctx context.Context, id string) (*AutomationRule, error)
	List(ctx context.Context) ([]AutomationRule, error)
	Create(ctx context.Context, r *AutomationRule) error
	Update(ctx context.Context, r *AutomationRule) error
	Delete(ctx context.Context, id string) error

	// SetEnabled flips the enabled flag without touching the definition.
	SetEnabled(ctx context.Context, id string, enabled bool) error

	// UpdateRuntimeState persists engine-managed state (cooldown clock
	// and stored condition state) without bumping updated_at.
	UpdateRuntimeState(ctx context.Context, id string, lastTriggeredAt *time.Time, lastConditionState bool) error

	// Execution logging
	CreateExecution(ctx context.Context, exec *RuleExecution) error
	GetExecution(ctx context.Context, id string) (*RuleExecution, error)
	ListExecutions(ctx context.Context, ruleID string, limit int) ([]RuleExecution, error)
}

// ruleColumns is the SELECT column list for rule queries.
const ruleColumns = `id, name, description, enabled,
			trigger_device_id, trigger_attribute, trigger_operator, trigger_target,
			actions, cooldown_seconds, last_triggered_at, last_condition_state,
			created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a rule by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*AutomationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	rule, err := scanRuleRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("querying rule by id: %w", err)
	}
	return rule, nil
}

// List retrieves all rules ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]AutomationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var rules []AutomationRule
	for rows.Next() {
		rule, scanErr := scanRuleRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning rule: %w", scanErr)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rules: %w", err)
	}
	return rules, nil
}

// Create inserts a new rule.
func (r *SQLiteRepository) Create(ctx context.Context, rule *AutomationRule) error {
	targetJSON, actionsJSON, err := marshalRuleJSON(rule)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO automation_rules (
			id, name, description, enabled,
			trigger_device_id, trigger_attribute, trigger_operator, trigger_target,
			actions, cooldown_seconds, last_triggered_at, last_condition_state,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		nullableString(rule.Description),
		boolToInt(rule.Enabled),
		rule.Trigger.DeviceID,
		rule.Trigger.Attribute,
		string(rule.Trigger.Operator),
		targetJSON,
		actionsJSON,
		rule.CooldownSeconds,
		nullableTime(rule.LastTriggeredAt),
		boolToInt(rule.LastConditionState),
		rule.CreatedAt.Format(time.RFC3339),
		rule.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrRuleExists
		}
		return fmt.Errorf("inserting rule: %w", err)
	}
	return nil
}

// Update modifies an existing rule definition, including runtime state.
func (r *SQLiteRepository) Update(ctx context.Context, rule *AutomationRule) error {
	targetJSON, actionsJSON, err := marshalRuleJSON(rule)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE automation_rules SET
			name = ?, description = ?, enabled = ?,
			trigger_device_id = ?, trigger_attribute = ?, trigger_operator = ?, trigger_target = ?,
			actions = ?, cooldown_seconds = ?, last_triggered_at = ?, last_condition_state = ?,
			updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		rule.Name,
		nullableString(rule.Description),
		boolToInt(rule.Enabled),
		rule.Trigger.DeviceID,
		rule.Trigger.Attribute,
		string(rule.Trigger.Operator),
		targetJSON,
		actionsJSON,
		rule.CooldownSeconds,
		nullableTime(rule.LastTriggeredAt),
		boolToInt(rule.LastConditionState),
		rule.UpdatedAt.Format(time.RFC3339),
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("updating rule: %w", err)
	}
	return checkAffected(result, ErrRuleNotFound)
}

// Delete removes a rule by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM automation_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting rule: %w", err)
	}
	return checkAffected(result, ErrRuleNotFound)
}

// SetEnabled flips the enabled flag for a rule.
func (r *SQLiteRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	query := `UPDATE automation_rules SET enabled = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		boolToInt(enabled),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("setting rule enabled: %w", err)
	}
	return checkAffected(result, ErrRuleNotFound)
}

// UpdateRuntimeState persists the cooldown clock and stored condition state.
func (r *SQLiteRepository) UpdateRuntimeState(ctx context.Context, id string, lastTriggeredAt *time.Time, lastConditionState bool) error {
	query := `UPDATE automation_rules SET last_triggered_at = ?, last_condition_state = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		nullableTime(lastTriggeredAt),
		boolToInt(lastConditionState),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating rule runtime state: %w", err)
	}
	return checkAffected(result, ErrRuleNotFound)
}

// CreateExecution inserts a new execution record.
func (r *SQLiteRepository) CreateExecution(ctx context.Context, exec *RuleExecution) error {
	outcomesJSON, err := marshalOutcomes(exec.Outcomes)
	if err != nil {
		return fmt.Errorf("marshalling outcomes: %w", err)
	}

	query := `
		INSERT INTO rule_executions (
			id, rule_id, fired_at,
			event_device_id, event_attribute, event_value,
			status, actions_total, actions_failed, outcomes, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		exec.ID,
		exec.RuleID,
		exec.FiredAt.Format(time.RFC3339),
		exec.EventDeviceID,
		exec.EventAttribute,
		exec.EventValue,
		string(exec.Status),
		exec.ActionsTotal,
		exec.ActionsFailed,
		outcomesJSON,
		exec.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (r *SQLiteRepository) GetExecution(ctx context.Context, id string) (*RuleExecution, error) {
	query := `
		SELECT id, rule_id, fired_at,
			event_device_id, event_attribute, event_value,
			status, actions_total, actions_failed, outcomes, duration_ms
		FROM rule_executions
		WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	exec, err := scanExecutionRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, fmt.Errorf("querying execution: %w", err)
	}
	return exec, nil
}

// ListExecutions retrieves recent executions for a rule, newest first.
func (r *SQLiteRepository) ListExecutions(ctx context.Context, ruleID string, limit int) ([]RuleExecution, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	query := `
		SELECT id, rule_id, fired_at,
			event_device_id, event_attribute, event_value,
			status, actions_total, actions_failed, outcomes, duration_ms
		FROM rule_executions
		WHERE rule_id = ?
		ORDER BY fired_at DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var executions []RuleExecution
	for rows.Next() {
		exec, scanErr := scanExecutionRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning execution: %w", scanErr)
		}
		executions = append(executions, *exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}
	return executions, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuleRow(scanner rowScanner) (*AutomationRule, error) {
	var rule AutomationRule
	var description, lastTriggeredAt sql.NullString
	var targetJSON, actionsJSON, operator string
	var enabled, lastConditionState int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&rule.ID,
		&rule.Name,
		&description,
		&enabled,
		&rule.Trigger.DeviceID,
		&rule.Trigger.Attribute,
		&operator,
		&targetJSON,
		&actionsJSON,
		&rule.CooldownSeconds,
		&lastTriggeredAt,
		&lastConditionState,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		rule.Description = &description.String
	}
	rule.Enabled = enabled != 0
	rule.LastConditionState = lastConditionState != 0
	rule.Trigger.Operator = Operator(operator)

	// Target is stored JSON-encoded so scalar types survive the round trip.
	if targetJSON != "" {
		if jsonErr := json.Unmarshal([]byte(targetJSON), &rule.Trigger.Target); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling trigger target: %w", jsonErr)
		}
	}

	if actionsJSON != "" && actionsJSON != "[]" {
		if jsonErr := json.Unmarshal([]byte(actionsJSON), &rule.Actions); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling actions: %w", jsonErr)
		}
	}
	if rule.Actions == nil {
		rule.Actions = []Action{}
	}

	if lastTriggeredAt.Valid {
		if t, parseErr := time.Parse(time.RFC3339, lastTriggeredAt.String); parseErr == nil {
			rule.LastTriggeredAt = &t
		}
	}
	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		rule.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		rule.UpdatedAt = t
	}

	return &rule, nil
}

func scanExecutionRow(scanner rowScanner) (*RuleExecution, error) {
	var e RuleExecution
	var firedAt, status string
	var outcomesJSON sql.NullString

	err := scanner.Scan(
		&e.ID,
		&e.RuleID,
		&firedAt,
		&e.EventDeviceID,
		&e.EventAttribute,
		&e.EventValue,
		&status,
		&e.ActionsTotal,
		&e.ActionsFailed,
		&outcomesJSON,
		&e.DurationMS,
	)
	if err != nil {
		return nil, err
	}

	e.Status = ExecutionStatus(status)
	if t, parseErr := time.Parse(time.RFC3339, firedAt); parseErr == nil {
		e.FiredAt = t
	}

	if outcomesJSON.Valid && outcomesJSON.String != "" && outcomesJSON.String != "null" {
		if jsonErr := json.Unmarshal([]byte(outcomesJSON.String), &e.Outcomes); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling outcomes: %w", jsonErr)
		}
	}

	return &e, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func marshalRuleJSON(rule *AutomationRule) (targetJSON, actionsJSON string, err error) {
	target, err := json.Marshal(rule.Trigger.Target)
	if err != nil {
		return "", "", fmt.Errorf("marshalling trigger target: %w", err)
	}
	actions, err := json.Marshal(rule.Actions)
	if err != nil {
		return "", "", fmt.Errorf("marshalling actions: %w", err)
	}
	return string(target), string(actions), nil
}

func marshalOutcomes(outcomes []ActionOutcome) (sql.NullString, error) {
	if len(outcomes) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(outcomes)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func checkAffected(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

func nullableString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
