package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stokeworth/fleetcore/internal/audit"
)

func TestListAuditFiltersBySource(t *testing.T) {
	srv, deps := testServer(t)
	router := srv.buildRouter()

	// A device create via the API plus one engine-side entry.
	createDevice(t, router)
	err := deps.auditRepo.Create(context.Background(), &audit.Entry{
		Action:     "auto_disable",
		EntityType: "rule",
		EntityID:   "rule-1",
		Source:     audit.SourceEngine,
	})
	if err != nil {
		t.Fatalf("seed engine entry: %v", err)
	}

	req := authReq(t, httptest.NewRequest(http.MethodGet, "/api/v1/audit?source=engine", nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var result audit.ListResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(result.Entries))
	}
	if result.Entries[0].Action != "auto_disable" {
		t.Errorf("action = %q", result.Entries[0].Action)
	}
}

func TestListAuditRejectsBadSince(t *testing.T) {
	srv, _ := testServer(t)
	router := srv.buildRouter()

	req := authReq(t, httptest.NewRequest(http.MethodGet, "/api/v1/audit?since=yesterday", nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
