package scene

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for scene persistence.
type Repository interface {
	// Scene CRUD
	GetByID(ctx context.Context, id string) (*Scene, error)
	List(ctx context.Context) ([]Scene, error)
	Create(ctx context.Context, s *Scene) error
	Update(ctx context.Context, s *Scene) error
	Delete(ctx context.Context, id string) error

	// Execution logging
	CreateExecution(ctx context.Context, exec *Execution) error
	ListExecutions(ctx context.Context, sceneID string, limit int) ([]Execution, error)
}

// sceneColumns is the SELECT column list for scene queries.
const sceneColumns = `id, name, description, enabled, commands, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a scene by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Scene, error) {
	query := `SELECT ` + sceneColumns + ` FROM scenes WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	s, err := scanSceneRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSceneNotFound
		}
		return nil, fmt.Errorf("querying scene by id: %w", err)
	}
	return s, nil
}

// List retrieves all scenes ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Scene, error) {
	query := `SELECT ` + sceneColumns + ` FROM scenes ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying scenes: %w", err)
	}
	defer rows.Close()

	var scenes []Scene
	for rows.Next() {
		s, scanErr := scanSceneRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning scene: %w", scanErr)
		}
		scenes = append(scenes, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scenes: %w", err)
	}
	return scenes, nil
}

// Create inserts a new scene.
func (r *SQLiteRepository) Create(ctx context.Context, s *Scene) error {
	commandsJSON, err := json.Marshal(s.Commands)
	if err != nil {
		return fmt.Errorf("marshalling commands: %w", err)
	}

	now := time.Now().UTC()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	query := `
		INSERT INTO scenes (id, name, description, enabled, commands, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		s.ID,
		s.Name,
		nullableString(s.Description),
		boolToInt(s.Enabled),
		string(commandsJSON),
		s.CreatedAt.Format(time.RFC3339),
		s.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrSceneExists
		}
		return fmt.Errorf("inserting scene: %w", err)
	}
	return nil
}

// Update modifies an existing scene.
func (r *SQLiteRepository) Update(ctx context.Context, s *Scene) error {
	commandsJSON, err := json.Marshal(s.Commands)
	if err != nil {
		return fmt.Errorf("marshalling commands: %w", err)
	}

	s.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE scenes SET
			name = ?, description = ?, enabled = ?, commands = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		s.Name,
		nullableString(s.Description),
		boolToInt(s.Enabled),
		string(commandsJSON),
		s.UpdatedAt.Format(time.RFC3339),
		s.ID,
	)
	if err != nil {
		return fmt.Errorf("updating scene: %w", err)
	}
	return checkAffected(result, ErrSceneNotFound)
}

// Delete removes a scene by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM scenes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting scene: %w", err)
	}
	return checkAffected(result, ErrSceneNotFound)
}

// CreateExecution inserts a new execution record.
func (r *SQLiteRepository) CreateExecution(ctx context.Context, exec *Execution) error {
	query := `
		INSERT INTO scene_executions (
			id, scene_id, triggered_at, trigger_source, status,
			commands_total, commands_failed, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		exec.ID,
		exec.SceneID,
		exec.TriggeredAt.Format(time.RFC3339),
		exec.TriggerSource,
		string(exec.Status),
		exec.CommandsTotal,
		exec.CommandsFailed,
		exec.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting scene execution: %w", err)
	}
	return nil
}

// ListExecutions retrieves recent executions for a scene, newest first.
func (r *SQLiteRepository) ListExecutions(ctx context.Context, sceneID string, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	query := `
		SELECT id, scene_id, triggered_at, trigger_source, status,
			commands_total, commands_failed, duration_ms
		FROM scene_executions
		WHERE scene_id = ?
		ORDER BY triggered_at DESC
		LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, sceneID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying scene executions: %w", err)
	}
	defer rows.Close()

	var executions []Execution
	for rows.Next() {
		var e Execution
		var triggeredAt, status string
		if scanErr := rows.Scan(
			&e.ID,
			&e.SceneID,
			&triggeredAt,
			&e.TriggerSource,
			&status,
			&e.CommandsTotal,
			&e.CommandsFailed,
			&e.DurationMS,
		); scanErr != nil {
			return nil, fmt.Errorf("scanning scene execution: %w", scanErr)
		}
		e.Status = ExecutionStatus(status)
		if t, parseErr := time.Parse(time.RFC3339, triggeredAt); parseErr == nil {
			e.TriggeredAt = t
		}
		executions = append(executions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scene executions: %w", err)
	}
	return executions, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSceneRow(scanner rowScanner) (*Scene, error) {
	var s Scene
	var description sql.NullString
	var commandsJSON string
	var enabled int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&s.ID,
		&s.Name,
		&description,
		&enabled,
		&commandsJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if description.Valid {
		s.Description = &description.String
	}
	s.Enabled = enabled != 0

	if commandsJSON != "" && commandsJSON != "[]" {
		if jsonErr := json.Unmarshal([]byte(commandsJSON), &s.Commands); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling commands: %w", jsonErr)
		}
	}
	if s.Commands == nil {
		s.Commands = []Command{}
	}

	if t, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
		s.CreatedAt = t
	}
	if t, parseErr := time.Parse(time.RFC3339, updatedAt); parseErr == nil {
		s.UpdatedAt = t
	}

	return &s, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

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
