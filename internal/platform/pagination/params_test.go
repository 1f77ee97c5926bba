package pagination

import (
	"errors"
	"net/url"
	"testing"

	domain "github.com/nax-handle/crm-backend/internal/domain"
)

var orderOpts = Options{AllowedSortFields: []string{"createdAt", "updatedAt", "totalAmount"}}

func TestParseDefaults(t *testing.T) {
	req, err := Parse(url.Values{}, orderOpts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	want := domain.PageRequest{Page: 1, Limit: DefaultLimit, SortBy: "createdAt", SortOrder: domain.SortDesc}
	if req != want {
		t.Fatalf("expected %+v, got %+v", want, req)
	}
	if req.Offset() != 0 {
		t.Fatalf("expected zero offset, got %d", req.Offset())
	}
}

func TestParseValues(t *testing.T) {
	values := url.Values{}
	values.Set("page", "3")
	values.Set("limit", "20")
	values.Set("sortBy", "totalAmount")
	values.Set("sortOrder", "ASC")

	req, err := Parse(values, orderOpts)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if req.Page != 3 || req.Limit != 20 || req.SortBy != "totalAmount" || req.SortOrder != domain.SortAsc {
		t.Fatalf("unexpected request %+v", req)
	}
	if req.Offset() != 40 {
		t.Fatalf("expected offset 40, got %d", req.Offset())
	}
}

func TestParseClampsLimit(t *testing.T) {
	values := url.Values{}
	values.Set("limit", "1000")
	req, err := Parse(values, Options{MaxLimit: 50})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if req.Limit != 50 {
		t.Fatalf("expected limit clamped to 50, got %d", req.Limit)
	}
}

func TestParseRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		key, value string
		want       error
	}{
		{"page", "0", ErrInvalidPage},
		{"page", "abc", ErrInvalidPage},
		{"limit", "-5", ErrInvalidLimit},
		{"sortBy", "customerId", ErrInvalidSortBy},
		{"sortOrder", "sideways", ErrInvalidSortOrder},
	}
	for _, tc := range cases {
		values := url.Values{}
		values.Set(tc.key, tc.value)
		_, err := Parse(values, orderOpts)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s=%s: expected %v, got %v", tc.key, tc.value, tc.want, err)
		}
		if !IsInvalid(err) {
			t.Fatalf("%s=%s: expected IsInvalid", tc.key, tc.value)
		}
	}
}
