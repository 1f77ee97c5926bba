package reporting

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/nax-handle/crm-backend/internal/domain"
)

// ComputeOverview summarises facts created inside the closed window [from, to].
func ComputeOverview(from, to time.Time, facts []domain.OrderFact) domain.OverviewStatistics {
	counts := make(map[domain.OrderStatus]int, len(domain.OrderStatuses))
	amounts := make(map[domain.OrderStatus]decimal.Decimal, len(domain.OrderStatuses))

	stats := domain.OverviewStatistics{From: from, To: to}
	for _, fact := range facts {
		if fact.CreatedAt.Before(from) || fact.CreatedAt.After(to) || !fact.Status.Valid() {
			continue
		}
		stats.TotalOrders++
		counts[fact.Status]++
		amounts[fact.Status] = amounts[fact.Status].Add(fact.TotalAmount)
	}

	stats.ByStatus = make([]domain.StatusBreakdown, 0, len(domain.OrderStatuses))
	stats.TotalAmount = decimal.Zero
	stats.InProgressAmount = decimal.Zero
	for _, status := range domain.OrderStatuses {
		amount, ok := amounts[status]
		if !ok {
			amount = decimal.Zero
		}
		stats.ByStatus = append(stats.ByStatus, domain.StatusBreakdown{Status: status, Count: counts[status], Amount: amount})
		stats.TotalAmount = stats.TotalAmount.Add(amount)
		if status.InProgress() {
			stats.InProgressCount += counts[status]
			stats.InProgressAmount = stats.InProgressAmount.Add(amount)
		}
	}

	stats.CompletedCount = counts[domain.OrderStatusCompleted]
	stats.CompletedAmount = amounts[domain.OrderStatusCompleted]
	if stats.CompletedAmount.IsZero() {
		stats.CompletedAmount = decimal.Zero
	}
	stats.TotalRevenue = stats.CompletedAmount
	stats.CancelledCount = counts[domain.OrderStatusCancelled]
	return stats
}
