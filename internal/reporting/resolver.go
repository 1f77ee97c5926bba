// Package reporting turns order facts into revenue series and overview statistics. All
// calendar arithmetic happens in an explicit business location.
package reporting

import (
	"time"

	domain "github.com/nax-handle/crm-backend/internal/domain"
)

// Range tokens accepted by Resolve.
const (
	RangeDay   = "1d"
	RangeWeek  = "7d"
	RangeMonth = "1m"
	RangeYear  = "1y"
	RangeAll   = "all"
)

// DefaultRange is used for empty or unknown tokens.
const DefaultRange = RangeWeek

// Window is a resolved aggregation window. From is inclusive and To is exclusive; the window
// is split into BucketCount slices of Unit, except for sparse windows which emit one point per
// populated year.
type Window struct {
	Token       string
	Unit        domain.BucketUnit
	BucketCount int
	From        time.Time
	To          time.Time
	Sparse      bool
}

// Resolver maps range tokens onto windows in the business location.
type Resolver struct {
	loc *time.Location
	now func() time.Time
}

// NewResolver builds a resolver. A nil location means UTC and a nil clock means time.Now.
func NewResolver(loc *time.Location, clock func() time.Time) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = time.Now
	}
	return &Resolver{loc: loc, now: clock}
}

// Location returns the business location.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// KnownRange reports whether token is one of the supported tokens.
func KnownRange(token string) bool {
	switch token {
	case RangeDay, RangeWeek, RangeMonth, RangeYear, RangeAll:
		return true
	default:
		return false
	}
}

// Resolve computes the window for token relative to the current business-local time.
func (r *Resolver) Resolve(token string) Window {
	if !KnownRange(token) {
		token = DefaultRange
	}
	now := r.now().In(r.loc)

	switch token {
	case RangeDay:
		hour := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, r.loc)
		return Window{
			Token:       token,
			Unit:        domain.BucketUnitHour,
			BucketCount: 24,
			From:        hour.Add(-23 * time.Hour),
			To:          hour.Add(time.Hour),
		}
	case RangeMonth:
		return r.dayWindow(token, now, 30)
	case RangeYear:
		return Window{
			Token:       token,
			Unit:        domain.BucketUnitMonth,
			BucketCount: 12,
			From:        time.Date(now.Year(), now.Month()-11, 1, 0, 0, 0, 0, r.loc),
			To:          time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, r.loc),
		}
	case RangeAll:
		return Window{
			Token:       token,
			Unit:        domain.BucketUnitYear,
			BucketCount: 5,
			From:        time.Date(1970, time.January, 1, 0, 0, 0, 0, r.loc),
			To:          time.Date(now.Year()+1, time.January, 1, 0, 0, 0, 0, r.loc),
			Sparse:      true,
		}
	default:
		return r.dayWindow(token, now, 7)
	}
}

func (r *Resolver) dayWindow(token string, now time.Time, days int) Window {
	return Window{
		Token:       token,
		Unit:        domain.BucketUnitDay,
		BucketCount: days,
		From:        time.Date(now.Year(), now.Month(), now.Day()-(days-1), 0, 0, 0, 0, r.loc),
		To:          time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, r.loc),
	}
}

// StartOfDay and EndOfDay give the closed bounds of the business-local day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func EndOfDay(t time.Time, loc *time.Location) time.Time {
	return StartOfDay(t, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
}
