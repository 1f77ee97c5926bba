package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	domain "github.com/nax-handle/crm-backend/internal/domain"
)

const (
	// DefaultLimit is used when the client omits limit.
	DefaultLimit = 10
	// DefaultMaxLimit caps limit so a single page stays cheap to read.
	DefaultMaxLimit = 100
)

var (
	ErrInvalidPage      = errors.New("pagination: invalid page")
	ErrInvalidLimit     = errors.New("pagination: invalid limit")
	ErrInvalidSortBy    = errors.New("pagination: invalid sortBy")
	ErrInvalidSortOrder = errors.New("pagination: invalid sortOrder")
)

// Options configure Parse for a single list endpoint. The first AllowedSortFields entry is the
// default sort field.
type Options struct {
	DefaultLimit      int
	MaxLimit          int
	AllowedSortFields []string
	DefaultSortOrder  domain.SortOrder
}

// Parse reads page, limit, sortBy and sortOrder from the query string.
func Parse(values url.Values, opts Options) (domain.PageRequest, error) {
	maxLimit := opts.MaxLimit
	if maxLimit <= 0 {
		maxLimit = DefaultMaxLimit
	}
	limit := opts.DefaultLimit
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, maxLimit)

	req := domain.PageRequest{Page: 1, Limit: limit, SortOrder: domain.SortDesc}
	if opts.DefaultSortOrder != "" {
		req.SortOrder = opts.DefaultSortOrder
	}
	if len(opts.AllowedSortFields) > 0 {
		req.SortBy = opts.AllowedSortFields[0]
	}

	if raw := strings.TrimSpace(values.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return domain.PageRequest{}, fmt.Errorf("%w: must be a positive integer", ErrInvalidPage)
		}
		req.Page = page
	}

	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 1 {
			return domain.PageRequest{}, fmt.Errorf("%w: must be a positive integer", ErrInvalidLimit)
		}
		req.Limit = min(value, maxLimit)
	}

	if raw := strings.TrimSpace(values.Get("sortBy")); raw != "" {
		if !slices.Contains(opts.AllowedSortFields, raw) {
			return domain.PageRequest{}, fmt.Errorf("%w: field %q is not allowed", ErrInvalidSortBy, raw)
		}
		req.SortBy = raw
	}

	if raw := strings.TrimSpace(values.Get("sortOrder")); raw != "" {
		switch order := domain.SortOrder(strings.ToLower(raw)); order {
		case domain.SortAsc, domain.SortDesc:
			req.SortOrder = order
		default:
			return domain.PageRequest{}, fmt.Errorf("%w: must be asc or desc", ErrInvalidSortOrder)
		}
	}

	return req, nil
}

// IsInvalid reports whether err came from Parse rejecting client input.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidPage) ||
		errors.Is(err, ErrInvalidLimit) ||
		errors.Is(err, ErrInvalidSortBy) ||
		errors.Is(err, ErrInvalidSortOrder)
}
