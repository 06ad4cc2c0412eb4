package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stokeworth/fleetcore/internal/device"
)

const deviceBody = `{
	"id": "thermo-01",
	"name": "Workshop Thermostat",
	"type": "sensor",
	"protocol": "mqtt"
}`

func createDevice(t *testing.T, router http.Handler) device.Device {
	t.Helper()
	req := authReq(t, httptest.NewRequest(http.MethodPost, "/api/v1/devices", strings.NewReader(deviceBody)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d; body: %s", w.Code, w.Body.String())
	}

	var created device.Device
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal created: %v", err)
	}
	return created
}

func TestCreateAndListDevices(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	created := createDevice(t, router)
	if created.Status != device.StatusUnknown {
		t.Errorf("status = %q, want %q", created.Status, device.StatusUnknown)
	}

	req := authReq(t, httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if int(resp["count"].(float64)) != 1 {
		t.Errorf("count = %v, want 1", resp["count"])
	}
}

func TestCreateDeviceInvalid(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := authReq(t, httptest.NewRequest(http.MethodPost, "/api/v1/devices", strings.NewReader(`{"id": "x"}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d; body: %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestUpdateDevicePartial(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	created := createDevice(t, router)

	req := authReq(t, httptest.NewRequest(http.MethodPatch, "/api/v1/devices/"+created.ID, strings.NewReader(`{"name": "Garage Thermostat"}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	var got device.Device
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Name != "Garage Thermostat" {
		t.Errorf("name = %q", got.Name)
	}
	// Untouched fields survive a partial update.
	if got.Protocol != "mqtt" {
		t.Errorf("protocol = %q", got.Protocol)
	}
}

func TestDeleteDevice(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	created := createDevice(t, router)

	req := authReq(t, httptest.NewRequest(http.MethodDelete, "/api/v1/devices/"+created.ID, nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}

	req = authReq(t, httptest.NewRequest(http.MethodGet, "/api/v1/devices/"+created.ID, nil))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", w.Code)
	}
}
