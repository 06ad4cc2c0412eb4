package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stokeworth/fleetcore/internal/scene"
)

const sceneBody = `{
	"name": "Evening Lights",
	"commands": [
		{"device_id": "light-01", "command": "set_level", "value": 60},
		{"device_id": "light-02", "command": "turn_off"}
	]
}`

func createScene(t *testing.T, router http.Handler) scene.Scene {
	t.Helper()
	req := authReq(t, httptest.NewRequest(http.MethodPost, "/api/v1/scenes", strings.NewReader(sceneBody)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d; body: %s", w.Code, w.Body.String())
	}

	var created scene.Scene
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal created: %v", err)
	}
	return created
}

func TestCreateAndGetScene(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	created := createScene(t, router)
	if created.ID == "" {
		t.Error("expected generated scene ID")
	}
	if !created.Enabled {
		t.Error("scenes default to enabled")
	}

	req := authReq(t, httptest.NewRequest(http.MethodGet, "/api/v1/scenes/"+created.ID, nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	var got scene.Scene
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Name != "Evening Lights" || len(got.Commands) != 2 {
		t.Errorf("scene = %+v", got)
	}
}

func TestCreateSceneInvalidBody(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := authReq(t, httptest.NewRequest(http.MethodPost, "/api/v1/scenes", strings.NewReader(`{"name": "No Commands", "commands": []}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d; body: %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestActivateScene(t *testing.T) {
	srv, deps := testServer(t)
	router := srv.buildRouter()

	created := createScene(t, router)

	req := authReq(t, httptest.NewRequest(http.MethodPost, "/api/v1/scenes/"+created.ID+"/activate", nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	execID, _ := resp["execution_id"].(string)
	if execID == "" {
		t.Error("expected execution_id in response")
	}

	if len(deps.sender.sent) != 2 {
		t.Errorf("sent = %v, want 2 commands", deps.sender.sent)
	}

	// Activation shows up in the execution history.
	req = authReq(t, httptest.NewRequest(http.MethodGet, "/api/v1/scenes/"+created.ID+"/executions", nil))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("executions status = %d", w.Code)
	}
	var listResp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if int(listResp["count"].(float64)) != 1 {
		t.Errorf("count = %v, want 1", listResp["count"])
	}
}

func TestActivateSceneNotFound(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := authReq(t, httptest.NewRequest(http.MethodPost, "/api/v1/scenes/missing/activate", nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestActivateDisabledScene(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	created := createScene(t, router)

	// Disable via update.
	disabled := strings.Replace(sceneBody, `"name": "Evening Lights",`, `"name": "Evening Lights", "enabled": false,`, 1)
	req := authReq(t, httptest.NewRequest(http.MethodPut, "/api/v1/scenes/"+created.ID, strings.NewReader(disabled)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d; body: %s", w.Code, w.Body.String())
	}

	req = authReq(t, httptest.NewRequest(http.MethodPost, "/api/v1/scenes/"+created.ID+"/activate", nil))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d; body: %s", w.Code, http.StatusConflict, w.Body.String())
	}
}

func TestDeleteScene(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	created := createScene(t, router)

	req := authReq(t, httptest.NewRequest(http.MethodDelete, "/api/v1/scenes/"+created.ID, nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}

	req = authReq(t, httptest.NewRequest(http.MethodGet, "/api/v1/scenes/"+created.ID, nil))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", w.Code)
	}
}
