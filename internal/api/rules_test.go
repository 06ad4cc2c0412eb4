package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stokeworth/fleetcore/internal/audit"
	"github.com/stokeworth/fleetcore/internal/rule"
)

const ruleBody = `{
	"name": "High Temperature Alert",
	"trigger": {
		"device_id": "thermo-01",
		"attribute": "temperature",
		"operator": "greater_than",
		"target": 25.0
	},
	"actions": [
		{"type": "notify", "message": "temperature high"}
	],
	"cooldown_seconds": 300
}`

func createRule(t *testing.T, router http.Handler) rule.AutomationRule {
	t.Helper()
	req := authReq(t, httptest.NewRequest(http.MethodPost, "/api/v1/rules", strings.NewReader(ruleBody)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var created rule.AutomationRule
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal created: %v", err)
	}
	return created
}

func TestListRulesEmpty(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := authReq(t, httptest.NewRequest(http.MethodGet, "/api/v1/rules", nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if int(resp["count"].(float64)) != 0 {
		t.Errorf("count = %v, want 0", resp["count"])
	}
}

func TestCreateAndGetRule(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	created := createRule(t, router)
	if created.ID == "" {
		t.Error("expected generated rule ID")
	}
	if !created.Enabled {
		t.Error("rules default to enabled")
	}

	req := authReq(t, httptest.NewRequest(http.MethodGet, "/api/v1/rules/"+created.ID, nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	var got rule.AutomationRule
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Name != "High Temperature Alert" {
		t.Errorf("name = %q", got.Name)
	}
	if got.Trigger.Operator != rule.OpGreaterThan {
		t.Errorf("operator = %q", got.Trigger.Operator)
	}
}

func TestCreateRuleInvalid(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	tests := []struct {
		name string
		body string
	}{
		{"not json", "nope"},
		{"missing name", `{"trigger": {"device_id": "d", "attribute": "a", "operator": "equals", "target": 1}, "actions": [{"type": "notify", "message": "m"}]}`},
		{"no actions", `{"name": "r", "trigger": {"device_id": "d", "attribute": "a", "operator": "equals", "target": 1}, "actions": []}`},
		{"bad operator", `{"name": "r", "trigger": {"device_id": "d", "attribute": "a", "operator": "matches", "target": 1}, "actions": [{"type": "notify", "message": "m"}]}`},
		{"non-numeric target for numeric op", `{"name": "r", "trigger": {"device_id": "d", "attribute": "a", "operator": "greater_than", "target": "warm"}, "actions": [{"type": "notify", "message": "m"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := authReq(t, httptest.NewRequest(http.MethodPost, "/api/v1/rules", strings.NewReader(tt.body)))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d; body: %s", w.Code, http.StatusBadRequest, w.Body.String())
			}
		})
	}
}

func TestUpdateRule(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	created := createRule(t, router)

	updated := strings.Replace(ruleBody, "High Temperature Alert", "Renamed Alert", 1)
	req := authReq(t, httptest.NewRequest(http.MethodPut, "/api/v1/rules/"+created.ID, strings.NewReader(updated)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d; body: %s", w.Code, w.Body.String())
	}

	var got rule.AutomationRule
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Name != "Renamed Alert" {
		t.Errorf("name = %q", got.Name)
	}
}

func TestUpdateRuleNotFound(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := authReq(t, httptest.NewRequest(http.MethodPut, "/api/v1/rules/missing", strings.NewReader(ruleBody)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestDeleteRule(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	created := createRule(t, router)

	req := authReq(t, httptest.NewRequest(http.MethodDelete, "/api/v1/rules/"+created.ID, nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}

	req = authReq(t, httptest.NewRequest(http.MethodGet, "/api/v1/rules/"+created.ID, nil))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestSetRuleEnabled(t *testing.T) {
	srv, deps := testServer(t)
	router := srv.buildRouter()

	created := createRule(t, router)

	req := authReq(t, httptest.NewRequest(http.MethodPatch, "/api/v1/rules/"+created.ID+"/enabled", strings.NewReader(`{"enabled": false}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	got, err := deps.rules.GetRule(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if got.Enabled {
		t.Error("rule still enabled after disable")
	}
}

func TestSetRuleEnabledMissingBody(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	created := createRule(t, router)

	req := authReq(t, httptest.NewRequest(http.MethodPatch, "/api/v1/rules/"+created.ID+"/enabled", strings.NewReader(`{}`)))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestListRuleExecutions(t *testing.T) {
	srv, deps := testServer(t)
	router := srv.buildRouter()

	created := createRule(t, router)

	// Seed two execution records directly.
	ctx := context.Background()
	for i, status := range []rule.ExecutionStatus{rule.StatusSuccess, rule.StatusFailure} {
		err := deps.ruleRepo.CreateExecution(ctx, &rule.RuleExecution{
			ID:             rule.GenerateID(),
			RuleID:         created.ID,
			FiredAt:        time.Now().UTC().Add(time.Duration(i) * time.Second),
			EventDeviceID:  "thermo-01",
			EventAttribute: "temperature",
			EventValue:     "26",
			Status:         status,
			ActionsTotal:   1,
		})
		if err != nil {
			t.Fatalf("CreateExecution: %v", err)
		}
	}

	req := authReq(t, httptest.NewRequest(http.MethodGet, "/api/v1/rules/"+created.ID+"/executions", nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if int(resp["count"].(float64)) != 2 {
		t.Errorf("count = %v, want 2", resp["count"])
	}
}

func TestListRuleExecutionsUnknownRule(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := authReq(t, httptest.NewRequest(http.MethodGet, "/api/v1/rules/missing/executions", nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRuleMutationsAudited(t *testing.T) {
	srv, deps := testServer(t)
	router := srv.buildRouter()

	created := createRule(t, router)

	result, err := deps.auditRepo.List(context.Background(), audit.Filter{
		EntityType: "rule",
		EntityID:   created.ID,
	})
	if err != nil {
		t.Fatalf("audit List: %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("audit entries = %d, want 1", result.Total)
	}
	e := result.Entries[0]
	if e.Action != "create" || e.Source != audit.SourceAPI || e.UserID != "user-test" {
		t.Errorf("entry = %+v", e)
	}
}
