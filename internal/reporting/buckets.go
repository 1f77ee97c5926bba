package reporting

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/nax-handle/crm-backend/internal/domain"
)

const epochYear = 1970

// BucketIndex returns the number of whole units between anchor and t, both read in loc.
// The result is negative when t precedes anchor.
func BucketIndex(anchor, t time.Time, unit domain.BucketUnit, loc *time.Location) int {
	anchor = anchor.In(loc)
	t = t.In(loc)

	switch unit {
	case domain.BucketUnitHour:
		return floorDiv(t.Sub(anchor), time.Hour)
	case domain.BucketUnitDay:
		// Compare calendar dates so days stay whole across DST changes.
		a := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, time.UTC)
		b := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return floorDiv(b.Sub(a), 24*time.Hour)
	case domain.BucketUnitMonth:
		return (t.Year()-anchor.Year())*12 + int(t.Month()) - int(anchor.Month())
	case domain.BucketUnitYear:
		return t.Year() - anchor.Year()
	default:
		return -1
	}
}

// BucketStart returns the business-local start of bucket index.
func BucketStart(anchor time.Time, index int, unit domain.BucketUnit, loc *time.Location) time.Time {
	anchor = anchor.In(loc)
	switch unit {
	case domain.BucketUnitHour:
		return anchor.Add(time.Duration(index) * time.Hour)
	case domain.BucketUnitDay:
		return time.Date(anchor.Year(), anchor.Month(), anchor.Day()+index, 0, 0, 0, 0, loc)
	case domain.BucketUnitMonth:
		return time.Date(anchor.Year(), anchor.Month()+time.Month(index), 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(anchor.Year()+index, time.January, 1, 0, 0, 0, 0, loc)
	}
}

func floorDiv(d, unit time.Duration) int {
	q := d / unit
	if d%unit < 0 {
		q--
	}
	return int(q)
}

type bucketedAmount struct {
	index  int
	amount decimal.Decimal
}

// ComputeRevenueSeries reduces completed order facts inside window into revenue points.
// Fixed windows are densified to exactly BucketCount points; sparse windows emit one point
// per business-local year holding revenue, indexed from 1970.
func ComputeRevenueSeries(window Window, loc *time.Location, facts []domain.OrderFact) domain.RevenueSeries {
	series := domain.RevenueSeries{
		Range:       window.Token,
		Unit:        window.Unit,
		From:        window.From,
		To:          window.To,
		BucketCount: window.BucketCount,
		Sparse:      window.Sparse,
	}

	bucketed := bucketFacts(window, loc, facts)
	sums := groupSums(bucketed)
	if window.Sparse {
		series.Points = sparsePoints(sums, loc)
	} else {
		series.Points = densify(window, loc, sums)
	}
	return series
}

func bucketFacts(window Window, loc *time.Location, facts []domain.OrderFact) []bucketedAmount {
	out := make([]bucketedAmount, 0, len(facts))
	for _, fact := range facts {
		if fact.Status != domain.OrderStatusCompleted {
			continue
		}
		if fact.CreatedAt.Before(window.From) || !fact.CreatedAt.Before(window.To) {
			continue
		}
		var index int
		if window.Sparse {
			index = fact.CreatedAt.In(loc).Year() - epochYear
		} else {
			index = BucketIndex(window.From, fact.CreatedAt, window.Unit, loc)
			if index < 0 || index >= window.BucketCount {
				continue
			}
		}
		out = append(out, bucketedAmount{index: index, amount: fact.TotalAmount})
	}
	return out
}

func groupSums(bucketed []bucketedAmount) map[int]decimal.Decimal {
	sums := make(map[int]decimal.Decimal)
	for _, b := range bucketed {
		sums[b.index] = sums[b.index].Add(b.amount)
	}
	return sums
}

func densify(window Window, loc *time.Location, sums map[int]decimal.Decimal) []domain.RevenuePoint {
	points := make([]domain.RevenuePoint, window.BucketCount)
	for i := range points {
		revenue, ok := sums[i]
		if !ok {
			revenue = decimal.Zero
		}
		points[i] = domain.RevenuePoint{
			BucketIndex: i,
			BucketStart: BucketStart(window.From, i, window.Unit, loc),
			Revenue:     revenue,
		}
	}
	return points
}

func sparsePoints(sums map[int]decimal.Decimal, loc *time.Location) []domain.RevenuePoint {
	points := make([]domain.RevenuePoint, 0, len(sums))
	for index, revenue := range sums {
		points = append(points, domain.RevenuePoint{
			BucketIndex: index,
			BucketStart: time.Date(epochYear+index, time.January, 1, 0, 0, 0, 0, loc),
			Revenue:     revenue,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].BucketIndex < points[j].BucketIndex })
	return points
}
