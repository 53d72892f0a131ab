package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/womenshealth/planner/internal/platform/auth"
)

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func runAudit(t *testing.T, req *http.Request, h echo.HandlerFunc) []map[string]interface{} {
	t.Helper()
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-123")
	_ = Audit(zerolog.New(&buf))(h)(c)

	var events []map[string]interface{}
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var ev map[string]interface{}
		if err := dec.Decode(&ev); err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func TestAudit_PlanRead(t *testing.T) {
	planID := uuid.New()
	companyID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/plans/"+planID.String(), nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "user-7", companyID, auth.RoleUser))

	events := runAudit(t, req, okHandler)
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(events))
	}
	ev := events[0]
	want := map[string]interface{}{
		"message":     "data_access",
		"type":        "audit",
		"request_id":  "req-123",
		"user_id":     "user-7",
		"company_id":  companyID.String(),
		"resource":    "plans",
		"resource_id": planID.String(),
		"action":      "read",
		"status":      float64(200),
		"level":       "info",
	}
	for k, v := range want {
		if ev[k] != v {
			t.Errorf("%s: got %v, want %v", k, ev[k], v)
		}
	}
}

func TestAudit_ForbiddenLoggedAsWarning(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/companies", nil)
	events := runAudit(t, req, func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
	})
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(events))
	}
	if events[0]["level"] != "warn" || events[0]["status"] != float64(403) {
		t.Errorf("unexpected event: %v", events[0])
	}
}

func TestAudit_SkipsNonAPIPaths(t *testing.T) {
	for _, path := range []string{"/health", "/metrics", "/blobs/x"} {
		if events := runAudit(t, httptest.NewRequest(http.MethodGet, path, nil), okHandler); len(events) != 0 {
			t.Errorf("%s: expected no audit event, got %d", path, len(events))
		}
	}
}

func TestAuditAction(t *testing.T) {
	tests := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/api/v1/plans", "read"},
		{http.MethodPost, "/api/v1/plans", "create"},
		{http.MethodPut, "/api/v1/plans/x", "update"},
		{http.MethodDelete, "/api/v1/plans/x", "delete"},
		{http.MethodPost, "/api/v1/plans/x/generate", "generate"},
		{http.MethodGet, "/api/v1/plans/x/pdf", "export"},
		{http.MethodPost, "/api/v1/plans/x/exams/0/file", "upload"},
		{http.MethodGet, "/api/v1/plans/x/exams/0/file", "read"},
	}
	for _, tt := range tests {
		if got := auditAction(tt.method, tt.path); got != tt.want {
			t.Errorf("auditAction(%s %s) = %q, want %q", tt.method, tt.path, got, tt.want)
		}
	}
}

func TestSplitResource(t *testing.T) {
	id := uuid.New().String()
	tests := []struct {
		path, resource, id string
	}{
		{"/api/v1/plans", "plans", ""},
		{"/api/v1/plans/" + id, "plans", id},
		{"/api/v1/plans/" + id + "/pdf", "plans", id},
		{"/api/v1/companies/not-a-uuid", "companies", ""},
		{"/api/v1/", "unknown", ""},
	}
	for _, tt := range tests {
		res, rid := splitResource(tt.path)
		if res != tt.resource || rid != tt.id {
			t.Errorf("splitResource(%q) = (%q, %q), want (%q, %q)", tt.path, res, rid, tt.resource, tt.id)
		}
	}
}
