package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stokeworth/fleetcore/internal/rule"
)

// handleListRules returns all automation rules.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.rules.ListRules(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list rules")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules, "count": len(rules)})
}

// handleGetRule returns a single rule by ID.
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rl, err := s.rules.GetRule(r.Context(), id)
	if err != nil {
		if errors.Is(err, rule.ErrRuleNotFound) {
			writeNotFound(w, "rule not found")
			return
		}
		writeInternalError(w, "failed to get rule")
		return
	}

	writeJSON(w, http.StatusOK, rl)
}

// handleCreateRule creates a new automation rule.
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	// Rules are enabled unless the body says otherwise.
	rl := rule.AutomationRule{Enabled: true}
	if err := json.NewDecoder(r.Body).Decode(&rl); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.rules.CreateRule(r.Context(), &rl); err != nil {
		switch {
		case isRuleValidationError(err):
			writeValidationError(w, err.Error())
		case errors.Is(err, rule.ErrRuleExists):
			writeConflict(w, "rule already exists")
		default:
			writeInternalError(w, "failed to create rule")
		}
		return
	}

	s.recordAudit(r, "create", "rule", rl.ID, map[string]any{"name": rl.Name})
	writeJSON(w, http.StatusCreated, rl)
}

// handleUpdateRule replaces a rule definition. Runtime state
// (last_triggered_at, last_condition_state) is engine-owned and ignored
// on input.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var rl rule.AutomationRule
	if err := json.NewDecoder(r.Body).Decode(&rl); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	rl.ID = id

	if err := s.rules.UpdateRule(r.Context(), &rl); err != nil {
		switch {
		case errors.Is(err, rule.ErrRuleNotFound):
			writeNotFound(w, "rule not found")
		case isRuleValidationError(err):
			writeValidationError(w, err.Error())
		default:
			writeInternalError(w, "failed to update rule")
		}
		return
	}

	s.recordAudit(r, "update", "rule", id, map[string]any{"name": rl.Name})
	writeJSON(w, http.StatusOK, rl)
}

// handleDeleteRule removes a rule by ID.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.rules.DeleteRule(r.Context(), id); err != nil {
		if errors.Is(err, rule.ErrRuleNotFound) {
			writeNotFound(w, "rule not found")
			return
		}
		writeInternalError(w, "failed to delete rule")
		return
	}

	s.recordAudit(r, "delete", "rule", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleSetRuleEnabled enables or disables a rule.
func (s *Server) handleSetRuleEnabled(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		writeBadRequest(w, "body must contain an enabled boolean")
		return
	}

	if err := s.rules.SetEnabled(r.Context(), id, *body.Enabled); err != nil {
		if errors.Is(err, rule.ErrRuleNotFound) {
			writeNotFound(w, "rule not found")
			return
		}
		writeInternalError(w, "failed to update rule")
		return
	}

	action := "disable"
	if *body.Enabled {
		action = "enable"
	}
	s.recordAudit(r, action, "rule", id, nil)

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": *body.Enabled})
}

// defaultExecutionLimit caps GET /rules/{id}/executions when no limit is given.
const defaultExecutionLimit = 50

// handleListRuleExecutions returns the rule's recent execution records,
// most recent first.
func (s *Server) handleListRuleExecutions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Existence check gives a clean 404 instead of an empty list.
	if _, err := s.rules.GetRule(r.Context(), id); err != nil {
		if errors.Is(err, rule.ErrRuleNotFound) {
			writeNotFound(w, "rule not found")
			return
		}
		writeInternalError(w, "failed to get rule")
		return
	}

	limit := defaultExecutionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	executions, err := s.ruleRepo.ListExecutions(r.Context(), id, limit)
	if err != nil {
		writeInternalError(w, "failed to list executions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"executions": executions, "count": len(executions)})
}

// recordAudit writes an audit entry for a mutating request when a
// recorder is configured.
func (s *Server) recordAudit(r *http.Request, action, entityType, entityID string, details map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.RecordAPI(r.Context(), requestUserID(r), action, entityType, entityID, details)
}

// isRuleValidationError reports whether err belongs to the rule
// validation family.
func isRuleValidationError(err error) bool {
	return errors.Is(err, rule.ErrInvalidRule) ||
		errors.Is(err, rule.ErrInvalidName) ||
		errors.Is(err, rule.ErrInvalidTrigger) ||
		errors.Is(err, rule.ErrInvalidOperator) ||
		errors.Is(err, rule.ErrInvalidAction) ||
		errors.Is(err, rule.ErrNoActions)
}
