package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/womenshealth/planner/internal/platform/auth"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated when missing", "", false},
		{"propagated from caller", "front-office-123", true},
		{"oversized id replaced", strings.Repeat("x", 129), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodPost, "/api/v1/plans", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()

			var seen string
			err := RequestID()(func(c echo.Context) error {
				seen, _ = c.Get("request_id").(string)
				return c.NoContent(http.StatusCreated)
			})(e.NewContext(req, rec))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
				t.Fatalf("context id %q, header %q", seen, rec.Header().Get(RequestIDHeader))
			}
			if (seen == tt.incoming) != tt.keep {
				t.Errorf("incoming %q kept = %v, want %v", tt.incoming, seen == tt.incoming, tt.keep)
			}
		})
	}
}

func TestLogger_IncludesTenant(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	companyID := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/plans", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-7")

	err := Logger(zerolog.New(&buf))(func(c echo.Context) error {
		// auth runs inside the logger and swaps the request
		c.SetRequest(c.Request().WithContext(auth.WithIdentity(c.Request().Context(), "nutri-1", companyID, auth.RoleUser)))
		return c.JSON(http.StatusOK, []string{})
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"request_id":"req-7"`, `"status":200`, `"user_id":"nutri-1"`, `"company_id":"` + companyID.String() + `"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %s: %s", want, out)
		}
	}
}

func TestRecovery_GenerationPanicBecomes500(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	companyID := uuid.MustParse("7b0c8f5e-4d1a-4e55-9a0b-0c1d2e3f4a5b")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/plans/42/generate", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), "user-1", companyID, auth.RoleUser))
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/api/v1/plans/:id/generate")
	c.SetParamNames("id")
	c.SetParamValues("42")
	c.Set("request_id", "req-1")

	err := Recovery(zerolog.New(&buf))(func(c echo.Context) error {
		var sections map[string]string
		sections["diet"] = "x"
		return nil
	})(c)

	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError || httpErr.Message != "internal server error" {
		t.Errorf("unexpected error %d %v", httpErr.Code, httpErr.Message)
	}
	if httpErr.Internal == nil || !strings.Contains(httpErr.Internal.Error(), "assignment to entry in nil map") {
		t.Errorf("expected the panic kept as internal error, got %v", httpErr.Internal)
	}

	out := buf.String()
	for _, want := range []string{
		`"message":"panic recovered"`,
		`"request_id":"req-1"`,
		`"route":"/api/v1/plans/:id/generate"`,
		`"company_id":"7b0c8f5e-4d1a-4e55-9a0b-0c1d2e3f4a5b"`,
		`"plan_id":"42"`,
		`"stack":`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %s: %s", want, out)
		}
	}
}

func TestRecovery_NonPlanRouteHasNoPlanID(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/companies/9", nil), httptest.NewRecorder())
	c.SetPath("/api/v1/companies/:id")
	c.SetParamNames("id")
	c.SetParamValues("9")

	err := Recovery(zerolog.New(&buf))(func(c echo.Context) error {
		panic("quota row missing")
	})(c)
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	if strings.Contains(buf.String(), "plan_id") || strings.Contains(buf.String(), "company_id") {
		t.Errorf("unexpected identifiers in %s", buf.String())
	}
	if !strings.Contains(buf.String(), "quota row missing") {
		t.Errorf("expected panic value logged, got %s", buf.String())
	}
}

func TestRecovery_ReraisesAbortHandler(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/plans/1/pdf", nil), httptest.NewRecorder())

	defer func() {
		if r := recover(); r != http.ErrAbortHandler {
			t.Errorf("expected http.ErrAbortHandler to propagate, got %v", r)
		}
	}()
	_ = Recovery(zerolog.Nop())(func(c echo.Context) error {
		panic(http.ErrAbortHandler)
	})(c)
	t.Error("expected the abort panic to propagate")
}

func TestRecovery_PassesThrough(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/plans", nil), rec)

	err := Recovery(zerolog.Nop())(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestLogger_UsesHTTPErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/plans/x", nil), httptest.NewRecorder())

	err := Logger(zerolog.New(&buf))(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "plan not found")
	})(c)
	if err == nil {
		t.Fatal("expected the handler error to be returned")
	}
	if !strings.Contains(buf.String(), `"status":404`) || !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Errorf("unexpected log line: %s", buf.String())
	}
}
