package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stokeworth/fleetcore/internal/scene"
)

// handleListScenes returns all scenes.
func (s *Server) handleListScenes(w http.ResponseWriter, r *http.Request) {
	scenes, err := s.scenes.ListScenes(r.Context())
	if err != nil {
		writeInternalError(w, "failed to list scenes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenes": scenes, "count": len(scenes)})
}

// handleGetScene returns a single scene by ID.
func (s *Server) handleGetScene(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sc, err := s.scenes.GetScene(r.Context(), id)
	if err != nil {
		if errors.Is(err, scene.ErrSceneNotFound) {
			writeNotFound(w, "scene not found")
			return
		}
		writeInternalError(w, "failed to get scene")
		return
	}

	writeJSON(w, http.StatusOK, sc)
}

// handleCreateScene creates a new scene.
func (s *Server) handleCreateScene(w http.ResponseWriter, r *http.Request) {
	// Scenes are enabled unless the body says otherwise.
	sc := scene.Scene{Enabled: true}
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.scenes.CreateScene(r.Context(), &sc); err != nil {
		switch {
		case isSceneValidationError(err):
			writeValidationError(w, err.Error())
		case errors.Is(err, scene.ErrSceneExists):
			writeConflict(w, "scene already exists")
		default:
			writeInternalError(w, "failed to create scene")
		}
		return
	}

	s.recordAudit(r, "create", "scene", sc.ID, map[string]any{"name": sc.Name})
	writeJSON(w, http.StatusCreated, sc)
}

// handleUpdateScene replaces a scene definition.
func (s *Server) handleUpdateScene(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var sc scene.Scene
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	sc.ID = id

	if err := s.scenes.UpdateScene(r.Context(), &sc); err != nil {
		switch {
		case errors.Is(err, scene.ErrSceneNotFound):
			writeNotFound(w, "scene not found")
		case isSceneValidationError(err):
			writeValidationError(w, err.Error())
		default:
			writeInternalError(w, "failed to update scene")
		}
		return
	}

	s.recordAudit(r, "update", "scene", id, map[string]any{"name": sc.Name})
	writeJSON(w, http.StatusOK, sc)
}

// handleDeleteScene removes a scene by ID.
func (s *Server) handleDeleteScene(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.scenes.DeleteScene(r.Context(), id); err != nil {
		if errors.Is(err, scene.ErrSceneNotFound) {
			writeNotFound(w, "scene not found")
			return
		}
		writeInternalError(w, "failed to delete scene")
		return
	}

	s.recordAudit(r, "delete", "scene", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleActivateScene triggers a scene and returns the execution ID.
func (s *Server) handleActivateScene(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s.sceneEngine == nil {
		writeInternalError(w, "scene engine not available")
		return
	}

	execID, err := s.sceneEngine.ActivateScene(r.Context(), id, "manual", "api")
	if err != nil {
		switch {
		case errors.Is(err, scene.ErrSceneNotFound):
			writeNotFound(w, "scene not found")
		case errors.Is(err, scene.ErrSceneDisabled):
			writeConflict(w, "scene is disabled")
		default:
			writeInternalError(w, "failed to activate scene")
		}
		return
	}

	s.recordAudit(r, "activate", "scene", id, map[string]any{"execution_id": execID})
	writeJSON(w, http.StatusAccepted, map[string]any{"execution_id": execID, "status": "accepted"})
}

// handleListSceneExecutions returns the scene's recent activations.
func (s *Server) handleListSceneExecutions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.scenes.GetScene(r.Context(), id); err != nil {
		if errors.Is(err, scene.ErrSceneNotFound) {
			writeNotFound(w, "scene not found")
			return
		}
		writeInternalError(w, "failed to get scene")
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

	executions, err := s.sceneRepo.ListExecutions(r.Context(), id, limit)
	if err != nil {
		writeInternalError(w, "failed to list executions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"executions": executions, "count": len(executions)})
}

// isSceneValidationError reports whether err belongs to the scene
// validation family.
func isSceneValidationError(err error) bool {
	return errors.Is(err, scene.ErrInvalidScene) ||
		errors.Is(err, scene.ErrInvalidCommand) ||
		errors.Is(err, scene.ErrNoCommands)
}
