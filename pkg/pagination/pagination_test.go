package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, query string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/"+query, nil)
	rec := httptest.NewRecorder()
	return FromContext(e.NewContext(req, rec))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", DefaultLimit, 0},
		{"custom values", "?limit=50&offset=10", 50, 10},
		{"non-numeric", "?limit=abc&offset=xyz", DefaultLimit, 0},
		{"zero limit falls back", "?limit=0", DefaultLimit, 0},
		{"negative limit falls back", "?limit=-3", DefaultLimit, 0},
		{"limit clamped", "?limit=500", MaxLimit, 0},
		{"negative offset clamped", "?offset=-5", DefaultLimit, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := paramsFor(t, tt.query)
			if p.Limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", p.Limit, tt.wantLimit)
			}
			if p.Offset != tt.wantOffset {
				t.Errorf("offset = %d, want %d", p.Offset, tt.wantOffset)
			}
		})
	}
}

func TestNewResponse(t *testing.T) {
	data := []string{"a", "b", "c"}

	r := NewResponse(data, 10, 3, 0)
	if r.Total != 10 {
		t.Errorf("total = %d, want 10", r.Total)
	}
	if !r.HasMore {
		t.Error("expected has_more when offset+limit < total")
	}

	last := NewResponse(data, 3, 3, 0)
	if last.HasMore {
		t.Error("expected no has_more on the final page")
	}

	past := NewResponse([]string{}, 3, 3, 6)
	if past.HasMore {
		t.Error("expected no has_more past the end")
	}
}
