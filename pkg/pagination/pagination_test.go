package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/encounters?"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", DefaultLimit, 0},
		{"limit=5&offset=10", 5, 10},
		{"limit=1000", MaxLimit, 0},
		{"limit=-3&offset=-1", DefaultLimit, 0},
		{"limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		p := paramsFor(tt.query)
		if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
			t.Errorf("FromContext(%q) = %+v, want limit %d offset %d", tt.query, p, tt.wantLimit, tt.wantOffset)
		}
	}
}

func TestWindow(t *testing.T) {
	tests := []struct {
		p          Params
		total      int
		start, end int
	}{
		{Params{Limit: 10, Offset: 0}, 25, 0, 10},
		{Params{Limit: 10, Offset: 20}, 25, 20, 25},
		{Params{Limit: 10, Offset: 30}, 25, 25, 25},
		{Params{Limit: 0, Offset: 5}, 25, 5, 25},
	}
	for _, tt := range tests {
		start, end := tt.p.Window(tt.total)
		if start != tt.start || end != tt.end {
			t.Errorf("%+v.Window(%d) = [%d,%d), want [%d,%d)", tt.p, tt.total, start, end, tt.start, tt.end)
		}
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]int{1, 2}, 5, 2, 0)
	if !r.HasMore || r.Total != 5 {
		t.Errorf("unexpected response %+v", r)
	}
	r = NewResponse([]int{5}, 5, 2, 4)
	if r.HasMore {
		t.Error("expected last page to report has_more=false")
	}
}
