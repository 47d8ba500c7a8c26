package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContextWithRoles(method, path string, roles []string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	ctx := context.WithValue(req.Context(), UserRolesKey, roles)
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

var okHandler = func(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestRequireRole_Allowed(t *testing.T) {
	c, rec := newContextWithRoles(http.MethodGet, "/", []string{"doctor"})

	mw := RequireRole("doctor", "assistant")
	if err := mw(okHandler)(c); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	c, _ := newContextWithRoles(http.MethodGet, "/", []string{"patient"})

	mw := RequireRole("doctor", "assistant")
	err := mw(okHandler)(c)

	if err == nil {
		t.Error("expected error for unauthorized role")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", httpErr.Code)
	}
}

func TestRequireRole_NoRoles(t *testing.T) {
	c, _ := newContextWithRoles(http.MethodGet, "/", nil)

	mw := RequireRole("doctor")
	if err := mw(okHandler)(c); err == nil {
		t.Error("expected error when no roles present")
	}
}

func TestRequireRole_AdminBypass(t *testing.T) {
	required := [][]string{
		{"doctor"},
		{"assistant"},
		{"patient"},
		{"doctor", "patient"},
	}

	for _, roles := range required {
		c, _ := newContextWithRoles(http.MethodGet, "/", []string{"admin"})
		mw := RequireRole(roles...)
		if err := mw(okHandler)(c); err != nil {
			t.Errorf("admin should access endpoint requiring %v, got error: %v", roles, err)
		}
	}
}

func TestUserIDFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), UserIDKey, "user-123")
	if uid := UserIDFromContext(ctx); uid != "user-123" {
		t.Errorf("expected user-123, got %s", uid)
	}

	if empty := UserIDFromContext(context.Background()); empty != "" {
		t.Errorf("expected empty string, got %s", empty)
	}
}
