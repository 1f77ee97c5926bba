package services

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/nax-handle/crm-backend/internal/domain"
	"github.com/nax-handle/crm-backend/internal/repositories"
)

var orderTestNow = time.Date(2025, 3, 15, 3, 37, 0, 0, time.UTC)

func newTestOrderService(t *testing.T, repo *stubOrderRepo, customers CustomerService, deps OrderServiceDeps) OrderService {
	t.Helper()
	deps.Orders = repo
	deps.Customers = customers
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return orderTestNow }
	}
	if deps.IDGenerator == nil {
		deps.IDGenerator = func() string { return "01JABCDEF" }
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}
	return svc
}

func pendingOrder(id string) domain.Order {
	return domain.Order{
		ID:          id,
		CustomerID:  "cus_1",
		OrderType:   domain.OrderTypeSales,
		Status:      domain.OrderStatusPending,
		TotalAmount: decimal.RequireFromString("150000"),
		CreatedAt:   orderTestNow.Add(-time.Hour),
		UpdatedAt:   orderTestNow.Add(-time.Hour),
	}
}

func TestNewOrderServiceRequiresDependencies(t *testing.T) {
	if _, err := NewOrderService(OrderServiceDeps{}); err == nil {
		t.Fatalf("expected error without repository")
	}
	if _, err := NewOrderService(OrderServiceDeps{Orders: &stubOrderRepo{}}); err == nil {
		t.Fatalf("expected error without customer service")
	}
}

func TestOrderServiceCreateOrderResolvesCustomerByEmail(t *testing.T) {
	var inserted domain.Order
	repo := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order) error {
			inserted = order
			return nil
		},
	}
	var gotRef string
	customers := &stubCustomerService{
		findFn: func(_ context.Context, ref string) (Customer, error) {
			gotRef = ref
			return Customer{ID: "cus_9", FullName: "Tran Thi B", Email: "b@example.com"}, nil
		},
	}
	events := &captureOrderEvents{}
	svc := newTestOrderService(t, repo, customers, OrderServiceDeps{Events: events})

	order, err := svc.CreateOrder(context.Background(), CreateOrderCommand{
		CustomerRef: "  b@example.com ",
		OrderType:   domain.OrderTypeService,
		TotalAmount: decimal.RequireFromString("2500000.50"),
		Description: "<b>Setup</b> fee",
		ActorID:     "staff-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotRef != "b@example.com" {
		t.Fatalf("expected trimmed customer ref, got %q", gotRef)
	}
	if order.ID != "ord_01JABCDEF" {
		t.Fatalf("unexpected order id %q", order.ID)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status, got %s", order.Status)
	}
	if order.Description != "Setup fee" {
		t.Fatalf("expected sanitized description, got %q", order.Description)
	}
	if inserted.CustomerID != "cus_9" || !inserted.CreatedAt.Equal(orderTestNow) {
		t.Fatalf("unexpected inserted order %+v", inserted)
	}
	if order.Customer == nil || order.Customer.ID != "cus_9" {
		t.Fatalf("expected hydrated customer, got %+v", order.Customer)
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventCreated || events.events[0].ActorID != "staff-1" {
		t.Fatalf("unexpected events %+v", events.events)
	}
}

func TestOrderServiceCreateOrderValidation(t *testing.T) {
	svc := newTestOrderService(t, &stubOrderRepo{}, &stubCustomerService{}, OrderServiceDeps{})

	cases := []struct {
		name string
		cmd  CreateOrderCommand
	}{
		{"missing customer", CreateOrderCommand{OrderType: domain.OrderTypeSales}},
		{"bad type", CreateOrderCommand{CustomerRef: "cus_1", OrderType: "barter"}},
		{"negative amount", CreateOrderCommand{CustomerRef: "cus_1", OrderType: domain.OrderTypeSales, TotalAmount: decimal.NewFromInt(-1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateOrder(context.Background(), tc.cmd)
			if !errors.Is(err, ErrOrderInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestOrderServiceCreateOrderUnknownCustomer(t *testing.T) {
	repo := &stubOrderRepo{
		insertFn: func(context.Context, domain.Order) error {
			t.Fatalf("insert must not be called")
			return nil
		},
	}
	svc := newTestOrderService(t, repo, &stubCustomerService{}, OrderServiceDeps{})

	_, err := svc.CreateOrder(context.Background(), CreateOrderCommand{CustomerRef: "cus_missing", OrderType: domain.OrderTypeSales})
	if !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected customer not found, got %v", err)
	}
}

func TestOrderServiceGetOrderHidesDeleted(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			order := pendingOrder(id)
			order.IsDeleted = true
			return order, nil
		},
	}
	svc := newTestOrderService(t, repo, &stubCustomerService{}, OrderServiceDeps{})

	if _, err := svc.GetOrder(context.Background(), "ord_1"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderServiceGetOrderToleratesLookupFailure(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) { return pendingOrder(id), nil },
	}
	customers := &stubCustomerService{
		lookupFn: func(context.Context, []string) (map[string]Customer, error) {
			return nil, ErrCustomerUnavailable
		},
	}
	logs := &captureLogs{}
	svc := newTestOrderService(t, repo, customers, OrderServiceDeps{Logger: logs.log})

	order, err := svc.GetOrder(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Customer != nil {
		t.Fatalf("expected no customer when lookup fails")
	}
	if !logs.has("order.customer.lookup.failed") {
		t.Fatalf("expected lookup failure to be logged")
	}
}

func TestOrderServiceListOrdersHydratesCustomers(t *testing.T) {
	repo := &stubOrderRepo{
		listFn: func(_ context.Context, filter repositories.OrderListFilter) (domain.OffsetPage[domain.Order], error) {
			if filter.Pagination.Limit != 10 {
				t.Fatalf("unexpected limit %d", filter.Pagination.Limit)
			}
			a, b := pendingOrder("ord_a"), pendingOrder("ord_b")
			b.CustomerID = "cus_2"
			return domain.OffsetPage[domain.Order]{
				Items: []domain.Order{a, b},
				Meta:  domain.PageMeta{Page: 1, Limit: 10, Total: 2, TotalPages: 1},
			}, nil
		},
	}
	customers := &stubCustomerService{
		lookupFn: func(_ context.Context, ids []string) (map[string]Customer, error) {
			if len(ids) != 2 {
				t.Fatalf("expected two ids, got %v", ids)
			}
			return map[string]Customer{"cus_1": {ID: "cus_1", FullName: "Nguyen Van A"}}, nil
		},
	}
	svc := newTestOrderService(t, repo, customers, OrderServiceDeps{})

	page, err := svc.ListOrders(context.Background(), OrderListFilter{Pagination: domain.PageRequest{Page: 1, Limit: 10}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Items[0].Customer == nil || page.Items[0].Customer.FullName != "Nguyen Van A" {
		t.Fatalf("expected first order hydrated, got %+v", page.Items[0].Customer)
	}
	if page.Items[1].Customer != nil {
		t.Fatalf("expected deleted customer to stay empty")
	}
}

func TestOrderServiceListOrdersValidatesFilter(t *testing.T) {
	svc := newTestOrderService(t, &stubOrderRepo{}, &stubCustomerService{}, OrderServiceDeps{})
	lo, hi := decimal.NewFromInt(100), decimal.NewFromInt(10)
	from, to := orderTestNow, orderTestNow.Add(-time.Hour)

	filters := []OrderListFilter{
		{Status: []domain.OrderStatus{"shipped"}},
		{OrderType: "barter"},
		{Search: "orders/ord_1"},
		{TotalAmount: domain.RangeQuery[decimal.Decimal]{From: &lo, To: &hi}},
		{CreatedAt: domain.RangeQuery[time.Time]{From: &from, To: &to}},
	}
	for i, filter := range filters {
		if _, err := svc.ListOrders(context.Background(), filter); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("filter %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestOrderServiceTransitionStatusAllowed(t *testing.T) {
	var got repositories.OrderTransition
	repo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			order := pendingOrder(id)
			order.Status = domain.OrderStatusProcessing
			return order, nil
		},
		transitionFn: func(_ context.Context, tr repositories.OrderTransition) (domain.Order, error) {
			got = tr
			order := pendingOrder(tr.OrderID)
			order.Status = tr.Target
			order.UpdatedAt = tr.UpdatedAt
			order.CompletedAt = tr.CompletedAt
			return order, nil
		},
	}
	events := &captureOrderEvents{}
	metrics := &captureMetrics{}
	svc := newTestOrderService(t, repo, &stubCustomerService{}, OrderServiceDeps{Events: events, Metrics: metrics})

	order, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "ord_1",
		TargetStatus: " Completed ",
		ActorID:      "staff-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected completed, got %s", order.Status)
	}
	if got.Expected != domain.OrderStatusProcessing || got.CompletedAt == nil || !got.CompletedAt.Equal(orderTestNow) {
		t.Fatalf("unexpected transition %+v", got)
	}
	if len(metrics.transitions) != 1 || metrics.transitions[0] != (transitionRecord{"processing", "completed", "ok"}) {
		t.Fatalf("unexpected metrics %+v", metrics.transitions)
	}
	if len(events.events) != 1 || events.events[0].PreviousStatus != "processing" || events.events[0].Status != "completed" {
		t.Fatalf("unexpected events %+v", events.events)
	}
}

func TestOrderServiceTransitionStatusClosure(t *testing.T) {
	allowed := map[[2]domain.OrderStatus]bool{
		{domain.OrderStatusPending, domain.OrderStatusProcessing}:   true,
		{domain.OrderStatusPending, domain.OrderStatusCancelled}:    true,
		{domain.OrderStatusProcessing, domain.OrderStatusCompleted}: true,
		{domain.OrderStatusProcessing, domain.OrderStatusCancelled}: true,
	}

	edges := 0
	for from, targets := range orderStateTransitions {
		for _, to := range targets {
			if !allowed[[2]domain.OrderStatus{from, to}] {
				t.Fatalf("unexpected edge %s -> %s in transition table", from, to)
			}
			edges++
		}
	}
	if edges != len(allowed) {
		t.Fatalf("expected %d edges in transition table, got %d", len(allowed), edges)
	}

	for _, current := range domain.OrderStatuses {
		for _, target := range domain.OrderStatuses {
			t.Run(string(current)+" to "+string(target), func(t *testing.T) {
				transitions := 0
				repo := &stubOrderRepo{
					findFn: func(_ context.Context, id string) (domain.Order, error) {
						order := pendingOrder(id)
						order.Status = current
						return order, nil
					},
					transitionFn: func(_ context.Context, tr repositories.OrderTransition) (domain.Order, error) {
						transitions++
						if tr.Expected != current || tr.Target != target {
							t.Fatalf("unexpected transition %+v", tr)
						}
						order := pendingOrder(tr.OrderID)
						order.Status = tr.Target
						return order, nil
					},
				}
				metrics := &captureMetrics{}
				svc := newTestOrderService(t, repo, &stubCustomerService{}, OrderServiceDeps{Metrics: metrics})

				order, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{OrderID: "ord_1", TargetStatus: target})

				var want error
				switch {
				case current.Terminal():
					want = ErrOrderTerminalStatus
				case current == target:
					want = ErrOrderStatusUnchanged
				case !allowed[[2]domain.OrderStatus{current, target}]:
					want = ErrOrderInvalidTransition
				}

				if want == nil {
					if err != nil {
						t.Fatalf("expected success, got %v", err)
					}
					if order.Status != target || transitions != 1 {
						t.Fatalf("expected one write to %s, got status %s after %d writes", target, order.Status, transitions)
					}
					return
				}
				if !errors.Is(err, want) || !errors.Is(err, ErrOrderInvalidState) {
					t.Fatalf("expected %v, got %v", want, err)
				}
				if transitions != 0 {
					t.Fatalf("repository must not be called on rejection")
				}
				if len(metrics.transitions) != 1 || metrics.transitions[0].outcome != "invalid_state" {
					t.Fatalf("expected invalid_state metric, got %+v", metrics.transitions)
				}
			})
		}
	}
}

func TestOrderServiceTransitionStatusUnknownTarget(t *testing.T) {
	svc := newTestOrderService(t, &stubOrderRepo{}, &stubCustomerService{}, OrderServiceDeps{})
	_, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{OrderID: "ord_1", TargetStatus: "shipped"})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestOrderServiceTransitionStatusConflict(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) { return pendingOrder(id), nil },
		transitionFn: func(context.Context, repositories.OrderTransition) (domain.Order, error) {
			return domain.Order{}, repoErr{conflict: true}
		},
	}
	events := &captureOrderEvents{}
	metrics := &captureMetrics{}
	svc := newTestOrderService(t, repo, &stubCustomerService{}, OrderServiceDeps{Events: events, Metrics: metrics})

	_, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{OrderID: "ord_1", TargetStatus: domain.OrderStatusProcessing})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(events.events) != 0 {
		t.Fatalf("expected no events on conflict")
	}
	if metrics.transitions[0].outcome != "conflict" {
		t.Fatalf("expected conflict metric, got %+v", metrics.transitions)
	}
}

func TestOrderServiceTransitionStatusPublishFailureIsLogged(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) { return pendingOrder(id), nil },
		transitionFn: func(_ context.Context, tr repositories.OrderTransition) (domain.Order, error) {
			order := pendingOrder(tr.OrderID)
			order.Status = tr.Target
			return order, nil
		},
	}
	logs := &captureLogs{}
	svc := newTestOrderService(t, repo, &stubCustomerService{}, OrderServiceDeps{
		Events: &captureOrderEvents{err: errors.New("pubsub down")},
		Logger: logs.log,
	})

	if _, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{OrderID: "ord_1", TargetStatus: domain.OrderStatusCancelled}); err != nil {
		t.Fatalf("publish failure must not fail the transition: %v", err)
	}
	if !logs.has("order.event.publish.failed") {
		t.Fatalf("expected publish failure log")
	}
}

func TestOrderServiceSoftDeleteOrder(t *testing.T) {
	var deletedAt time.Time
	repo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) { return pendingOrder(id), nil },
		softDeleteFn: func(_ context.Context, id string, expected domain.OrderStatus, at time.Time) error {
			if expected != domain.OrderStatusPending {
				t.Fatalf("expected pending precondition, got %s", expected)
			}
			deletedAt = at
			return nil
		},
	}
	events := &captureOrderEvents{}
	svc := newTestOrderService(t, repo, &stubCustomerService{}, OrderServiceDeps{Events: events})

	if err := svc.SoftDeleteOrder(context.Background(), DeleteOrderCommand{OrderID: "ord_1", ActorID: "staff-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !deletedAt.Equal(orderTestNow) {
		t.Fatalf("unexpected deletedAt %v", deletedAt)
	}
	if len(events.events) != 1 || events.events[0].Type != orderEventDeleted {
		t.Fatalf("unexpected events %+v", events.events)
	}
}

func TestOrderServiceSoftDeleteOrderRejectsNonPending(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) {
			order := pendingOrder(id)
			order.Status = domain.OrderStatusProcessing
			return order, nil
		},
		softDeleteFn: func(context.Context, string, domain.OrderStatus, time.Time) error {
			t.Fatalf("repository must not be called")
			return nil
		},
	}
	svc := newTestOrderService(t, repo, &stubCustomerService{}, OrderServiceDeps{})

	err := svc.SoftDeleteOrder(context.Background(), DeleteOrderCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrOrderNotDeletable) || !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected not deletable, got %v", err)
	}
}

func TestOrderServiceSoftDeleteOrderRaceBecomesConflict(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(_ context.Context, id string) (domain.Order, error) { return pendingOrder(id), nil },
		softDeleteFn: func(context.Context, string, domain.OrderStatus, time.Time) error {
			return repoErr{conflict: true}
		},
	}
	svc := newTestOrderService(t, repo, &stubCustomerService{}, OrderServiceDeps{})

	if err := svc.SoftDeleteOrder(context.Background(), DeleteOrderCommand{OrderID: "ord_1"}); !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestOrderServiceBulkSoftDelete(t *testing.T) {
	var gotIDs []string
	repo := &stubOrderRepo{
		bulkDeleteFn: func(_ context.Context, ids []string, _ time.Time) (repositories.BulkDeleteResult, error) {
			gotIDs = ids
			return repositories.BulkDeleteResult{Deleted: []string{"ord_1"}, Skipped: []string{"ord_2"}}, nil
		},
	}
	events := &captureOrderEvents{}
	svc := newTestOrderService(t, repo, &stubCustomerService{}, OrderServiceDeps{Events: events})

	res, err := svc.BulkSoftDelete(context.Background(), BulkDeleteOrdersCommand{OrderIDs: []string{"ord_1", " ord_2", "ord_1", ""}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gotIDs) != 2 || gotIDs[0] != "ord_1" || gotIDs[1] != "ord_2" {
		t.Fatalf("expected deduplicated ids, got %v", gotIDs)
	}
	if res.DeletedCount != 1 || len(res.SkippedIDs) != 1 || res.SkippedIDs[0] != "ord_2" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(events.events) != 1 || events.events[0].OrderID != "ord_1" {
		t.Fatalf("expected one deleted event, got %+v", events.events)
	}
}

func TestOrderServiceBulkSoftDeleteValidation(t *testing.T) {
	svc := newTestOrderService(t, &stubOrderRepo{}, &stubCustomerService{}, OrderServiceDeps{})

	if _, err := svc.BulkSoftDelete(context.Background(), BulkDeleteOrdersCommand{OrderIDs: []string{" "}}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for empty ids, got %v", err)
	}

	ids := make([]string, MaxBulkDeleteIDs+1)
	for i := range ids {
		ids[i] = "ord_" + strconv.Itoa(i)
	}
	if _, err := svc.BulkSoftDelete(context.Background(), BulkDeleteOrdersCommand{OrderIDs: ids}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for oversized batch, got %v", err)
	}
}

func TestOrderServiceMapsUnavailable(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, repoErr{unavailable: true}
		},
	}
	svc := newTestOrderService(t, repo, &stubCustomerService{}, OrderServiceDeps{})

	if _, err := svc.GetOrder(context.Background(), "ord_1"); !errors.Is(err, ErrOrderUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
