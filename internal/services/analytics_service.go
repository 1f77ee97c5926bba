package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/nax-handle/crm-backend/internal/domain"
	"github.com/nax-handle/crm-backend/internal/reporting"
	"github.com/nax-handle/crm-backend/internal/repositories"
)

const defaultAnalyticsTimeout = 10 * time.Second

var (
	// ErrAnalyticsInvalidInput signals an unusable overview window.
	ErrAnalyticsInvalidInput = errors.New("analytics: invalid input")
	// ErrAnalyticsTimeout indicates the aggregation did not finish within its deadline.
	ErrAnalyticsTimeout = errors.New("analytics: timed out")
	// ErrAnalyticsUnavailable indicates the order store failed while aggregating.
	ErrAnalyticsUnavailable = errors.New("analytics: store unavailable")
)

// AnalyticsServiceDeps bundles collaborators required to construct the analytics service.
type AnalyticsServiceDeps struct {
	Orders   repositories.OrderRepository
	Resolver *reporting.Resolver
	// Timeout bounds every aggregation; zero uses the default.
	Timeout time.Duration
	Clock   func() time.Time
	Metrics AnalyticsMetrics
	Logger  func(ctx context.Context, event string, fields map[string]any)
}

type analyticsService struct {
	orders   repositories.OrderRepository
	resolver *reporting.Resolver
	timeout  time.Duration
	clock    func() time.Time
	metrics  AnalyticsMetrics
	logger   func(context.Context, string, map[string]any)
}

// NewAnalyticsService wires dependencies into a concrete AnalyticsService implementation.
func NewAnalyticsService(deps AnalyticsServiceDeps) (AnalyticsService, error) {
	if deps.Orders == nil {
		return nil, errors.New("analytics service: order repository is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("analytics service: range resolver is required")
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultAnalyticsTimeout
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &analyticsService{
		orders:   deps.Orders,
		resolver: deps.Resolver,
		timeout:  timeout,
		clock:    clock,
		metrics:  deps.Metrics,
		logger:   logger,
	}, nil
}

func (s *analyticsService) GetRevenueSeries(ctx context.Context, rangeToken string) (RevenueSeries, error) {
	window := s.resolver.Resolve(rangeToken)
	query := repositories.FactQuery{
		From:     window.From,
		To:       window.To,
		Statuses: []domain.OrderStatus{domain.OrderStatusCompleted},
	}

	facts, err := s.collect(ctx, "revenue_series", window.Token, query)
	if err != nil {
		return RevenueSeries{}, err
	}
	return reporting.ComputeRevenueSeries(window, s.resolver.Location(), facts), nil
}

func (s *analyticsService) GetOverview(ctx context.Context, q OverviewQuery) (OverviewStatistics, error) {
	if q.From.IsZero() || q.To.IsZero() {
		return OverviewStatistics{}, fmt.Errorf("%w: fromDate and toDate are required", ErrAnalyticsInvalidInput)
	}
	if q.From.After(q.To) {
		return OverviewStatistics{}, fmt.Errorf("%w: fromDate must not be after toDate", ErrAnalyticsInvalidInput)
	}

	query := repositories.FactQuery{From: q.From, To: q.To, ToInclusive: true}
	facts, err := s.collect(ctx, "overview", "", query)
	if err != nil {
		return OverviewStatistics{}, err
	}
	return reporting.ComputeOverview(q.From, q.To, facts), nil
}

// collect streams the matching facts under the analytics deadline. A deadline hit at any
// point, including after the last fact, discards everything read so far.
func (s *analyticsService) collect(ctx context.Context, operation, rangeToken string, query repositories.FactQuery) ([]domain.OrderFact, error) {
	start := s.clock()
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var facts []domain.OrderFact
	err := s.orders.StreamFacts(ctx, query, func(f domain.OrderFact) error {
		facts = append(facts, f)
		return nil
	})
	if err == nil {
		err = ctx.Err()
	}

	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		outcome = "timeout"
		err = fmt.Errorf("%w after %s", ErrAnalyticsTimeout, s.timeout)
	case errors.Is(err, context.Canceled):
		outcome = "canceled"
	default:
		outcome = "error"
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
			err = fmt.Errorf("%w: %v", ErrAnalyticsUnavailable, err)
		} else {
			err = fmt.Errorf("analytics: %s: %w", operation, err)
		}
	}

	elapsed := s.clock().Sub(start)
	if s.metrics != nil {
		s.metrics.RecordAnalytics(ctx, operation, rangeToken, outcome, elapsed)
	}
	if err != nil {
		s.logger(ctx, "analytics."+operation+".failed", map[string]any{
			"range":   rangeToken,
			"outcome": outcome,
			"error":   err.Error(),
		})
		return nil, err
	}
	return facts, nil
}
