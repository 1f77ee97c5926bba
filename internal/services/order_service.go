package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/nax-handle/crm-backend/internal/domain"
	"github.com/nax-handle/crm-backend/internal/platform/textutil"
	"github.com/nax-handle/crm-backend/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status_changed"
	orderEventDeleted       = "order.deleted"

	orderIDPrefix = "ord_"

	maxDescriptionLength = 2000
	// MaxBulkDeleteIDs bounds a bulk delete to what one Firestore transaction can write.
	MaxBulkDeleteIDs = 500
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order does not exist or was deleted.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the order's current status forbids the operation.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates the order changed between read and conditional write.
	ErrOrderConflict = errors.New("order: conflicting update")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order: store unavailable")

	ErrOrderStatusUnchanged   = fmt.Errorf("%w: status unchanged", ErrOrderInvalidState)
	ErrOrderTerminalStatus    = fmt.Errorf("%w: order is in a terminal status", ErrOrderInvalidState)
	ErrOrderInvalidTransition = fmt.Errorf("%w: transition not allowed", ErrOrderInvalidState)
	ErrOrderNotDeletable      = fmt.Errorf("%w: only pending orders can be deleted", ErrOrderInvalidState)
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
	domain.OrderStatusCompleted:  {},
	domain.OrderStatusCancelled:  {},
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Customers   CustomerService
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Metrics     TransitionMetrics
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	customers CustomerService
	clock     func() time.Time
	newID     func() string
	events    OrderEventPublisher
	metrics   TransitionMetrics
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Customers == nil {
		return nil, errors.New("order service: customer service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:    deps.Orders,
		customers: deps.Customers,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		events:  deps.Events,
		metrics: deps.Metrics,
		logger:  logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	ref := strings.TrimSpace(cmd.CustomerRef)
	if ref == "" {
		return Order{}, fmt.Errorf("%w: customer is required", ErrOrderInvalidInput)
	}
	if !cmd.OrderType.Valid() {
		return Order{}, fmt.Errorf("%w: unsupported order type %q", ErrOrderInvalidInput, cmd.OrderType)
	}
	if cmd.TotalAmount.IsNegative() {
		return Order{}, fmt.Errorf("%w: total amount must not be negative", ErrOrderInvalidInput)
	}

	customer, err := s.customers.FindCustomerByIDOrEmail(ctx, ref)
	if err != nil {
		return Order{}, fmt.Errorf("order: resolve customer: %w", err)
	}

	now := s.clock()
	order := Order{
		ID:          orderIDPrefix + s.newID(),
		CustomerID:  customer.ID,
		OrderType:   cmd.OrderType,
		Status:      domain.OrderStatusPending,
		TotalAmount: cmd.TotalAmount,
		Description: textutil.PlainText(cmd.Description, maxDescriptionLength),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	order.Customer = &customer

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventCreated,
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount,
		ActorID:     strings.TrimSpace(cmd.ActorID),
		OccurredAt:  now,
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	order, err := s.findActive(ctx, orderID)
	if err != nil {
		return Order{}, err
	}

	customers, err := s.customers.LookupCustomers(ctx, []string{order.CustomerID})
	if err != nil {
		s.logger(ctx, "order.customer.lookup.failed", map[string]any{"order": order.ID, "error": err.Error()})
		return order, nil
	}
	if customer, ok := customers[order.CustomerID]; ok {
		order.Customer = &customer
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.OffsetPage[Order], error) {
	if err := validateOrderListFilter(filter); err != nil {
		return domain.OffsetPage[Order]{}, err
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.OffsetPage[Order]{}, s.mapRepositoryError(err)
	}
	if len(page.Items) == 0 {
		return page, nil
	}

	ids := make([]string, 0, len(page.Items))
	for _, order := range page.Items {
		ids = append(ids, order.CustomerID)
	}
	customers, err := s.customers.LookupCustomers(ctx, ids)
	if err != nil {
		s.logger(ctx, "order.customer.lookup.failed", map[string]any{"count": len(ids), "error": err.Error()})
		return page, nil
	}
	for i := range page.Items {
		if customer, ok := customers[page.Items[i].CustomerID]; ok {
			page.Items[i].Customer = &customer
		}
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.TargetStatus))))
	if !target.Valid() {
		return Order{}, fmt.Errorf("%w: unsupported status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	order, err := s.findActive(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	current := order.Status

	if err := checkTransition(current, target); err != nil {
		s.recordTransition(ctx, current, target, "invalid_state")
		return Order{}, fmt.Errorf("%w (%s -> %s)", err, current, target)
	}

	now := s.clock()
	transition := repositories.OrderTransition{
		OrderID:   order.ID,
		Expected:  current,
		Target:    target,
		UpdatedAt: now,
	}
	if target == domain.OrderStatusCompleted {
		transition.CompletedAt = &now
	}

	updated, err := s.orders.TransitionStatus(ctx, transition)
	if err != nil {
		mapped := s.mapRepositoryError(err)
		outcome := "error"
		if errors.Is(mapped, ErrOrderConflict) {
			outcome = "conflict"
		}
		s.recordTransition(ctx, current, target, outcome)
		return Order{}, mapped
	}
	s.recordTransition(ctx, current, target, "ok")

	actor := strings.TrimSpace(cmd.ActorID)
	s.logger(ctx, "order.status.changed", map[string]any{
		"order": updated.ID,
		"from":  string(current),
		"to":    string(updated.Status),
		"actor": actor,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        updated.ID,
		CustomerID:     updated.CustomerID,
		PreviousStatus: string(current),
		Status:         string(updated.Status),
		TotalAmount:    updated.TotalAmount,
		ActorID:        actor,
		OccurredAt:     now,
	})
	return updated, nil
}

func (s *orderService) SoftDeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error {
	order, err := s.findActive(ctx, cmd.OrderID)
	if err != nil {
		return err
	}
	if order.Status != domain.OrderStatusPending {
		return fmt.Errorf("%w (status %s)", ErrOrderNotDeletable, order.Status)
	}

	now := s.clock()
	if err := s.orders.SoftDelete(ctx, order.ID, domain.OrderStatusPending, now); err != nil {
		return s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:        orderEventDeleted,
		OrderID:     order.ID,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount,
		ActorID:     strings.TrimSpace(cmd.ActorID),
		OccurredAt:  now,
	})
	return nil
}

func (s *orderService) BulkSoftDelete(ctx context.Context, cmd BulkDeleteOrdersCommand) (BulkDeleteResult, error) {
	ids := make([]string, 0, len(cmd.OrderIDs))
	for _, id := range cmd.OrderIDs {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(ids, id) {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return BulkDeleteResult{}, fmt.Errorf("%w: order ids must not be empty", ErrOrderInvalidInput)
	}
	if len(ids) > MaxBulkDeleteIDs {
		return BulkDeleteResult{}, fmt.Errorf("%w: at most %d order ids per request", ErrOrderInvalidInput, MaxBulkDeleteIDs)
	}

	now := s.clock()
	res, err := s.orders.BulkSoftDelete(ctx, ids, now)
	if err != nil {
		return BulkDeleteResult{}, s.mapRepositoryError(err)
	}

	actor := strings.TrimSpace(cmd.ActorID)
	for _, id := range res.Deleted {
		s.publishEvent(ctx, OrderEvent{
			Type:       orderEventDeleted,
			OrderID:    id,
			Status:     string(domain.OrderStatusPending),
			ActorID:    actor,
			OccurredAt: now,
		})
	}
	if len(res.Skipped) > 0 {
		s.logger(ctx, "order.bulk_delete.skipped", map[string]any{"skipped": len(res.Skipped), "deleted": len(res.Deleted)})
	}

	return BulkDeleteResult{
		DeletedCount: len(res.Deleted),
		DeletedIDs:   res.Deleted,
		SkippedIDs:   res.Skipped,
	}, nil
}

func (s *orderService) findActive(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.IsDeleted {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

// checkTransition applies the static transition table. Terminal orders reject every request,
// including one for their own status.
func checkTransition(current, target domain.OrderStatus) error {
	if current.Terminal() {
		return ErrOrderTerminalStatus
	}
	if current == target {
		return ErrOrderStatusUnchanged
	}
	if !slices.Contains(orderStateTransitions[current], target) {
		return ErrOrderInvalidTransition
	}
	return nil
}

func validateOrderListFilter(filter OrderListFilter) error {
	for _, status := range filter.Status {
		if !status.Valid() {
			return fmt.Errorf("%w: unsupported status %q", ErrOrderInvalidInput, status)
		}
	}
	if filter.OrderType != "" && !filter.OrderType.Valid() {
		return fmt.Errorf("%w: unsupported order type %q", ErrOrderInvalidInput, filter.OrderType)
	}
	// Order and customer ids never contain a path separator.
	if strings.Contains(filter.Search, "/") {
		return fmt.Errorf("%w: search must be an order or customer id", ErrOrderInvalidInput)
	}
	if minAmount, maxAmount := filter.TotalAmount.From, filter.TotalAmount.To; minAmount != nil && maxAmount != nil && minAmount.GreaterThan(*maxAmount) {
		return fmt.Errorf("%w: minTotalAmount must not exceed maxTotalAmount", ErrOrderInvalidInput)
	}
	if from, to := filter.CreatedAt.From, filter.CreatedAt.To; from != nil && to != nil && from.After(*to) {
		return fmt.Errorf("%w: fromDate must not be after toDate", ErrOrderInvalidInput)
	}
	return nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}

func (s *orderService) recordTransition(ctx context.Context, from, to domain.OrderStatus, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordTransition(ctx, string(from), string(to), outcome)
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"status": event.Status,
			"error":  err.Error(),
		})
	}
}
