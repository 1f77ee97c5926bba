package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/nax-handle/crm-backend/internal/domain"
	"github.com/nax-handle/crm-backend/internal/repositories"
)

type (
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	OrderType          = domain.OrderType
	Customer           = domain.Customer
	RevenueSeries      = domain.RevenueSeries
	OverviewStatistics = domain.OverviewStatistics
	OrderListFilter    = repositories.OrderListFilter
	CustomerListFilter = repositories.CustomerListFilter
)

// OrderService manages the order lifecycle.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.OffsetPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	SoftDeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error
	BulkSoftDelete(ctx context.Context, cmd BulkDeleteOrdersCommand) (BulkDeleteResult, error)
}

// CustomerService manages CRM contacts.
type CustomerService interface {
	CreateCustomer(ctx context.Context, cmd UpsertCustomerCommand) (Customer, error)
	UpdateCustomer(ctx context.Context, customerID string, cmd UpsertCustomerCommand) (Customer, error)
	SoftDeleteCustomer(ctx context.Context, customerID string) error
	GetCustomer(ctx context.Context, customerID string) (Customer, error)
	ListCustomers(ctx context.Context, filter CustomerListFilter) (domain.OffsetPage[Customer], error)
	// FindCustomerByIDOrEmail resolves a reference that is either a customer id or an email.
	FindCustomerByIDOrEmail(ctx context.Context, ref string) (Customer, error)
	// LookupCustomers returns the non-deleted customers among ids, keyed by id.
	LookupCustomers(ctx context.Context, ids []string) (map[string]Customer, error)
}

// AnalyticsService computes revenue charts and overview statistics on demand.
type AnalyticsService interface {
	GetRevenueSeries(ctx context.Context, rangeToken string) (RevenueSeries, error)
	GetOverview(ctx context.Context, query OverviewQuery) (OverviewStatistics, error)
}

// ExportService renders order listings into downloadable files.
type ExportService interface {
	ExportOrders(ctx context.Context, filter OrderListFilter) (OrderExport, error)
}

type CreateOrderCommand struct {
	// CustomerRef is a customer id or email address.
	CustomerRef string
	OrderType   OrderType
	TotalAmount decimal.Decimal
	Description string
	ActorID     string
}

type OrderStatusTransitionCommand struct {
	OrderID      string
	TargetStatus OrderStatus
	ActorID      string
}

type DeleteOrderCommand struct {
	OrderID string
	ActorID string
}

type BulkDeleteOrdersCommand struct {
	OrderIDs []string
	ActorID  string
}

// BulkDeleteResult reports the outcome of a bulk soft delete. SkippedIDs lists ids that were
// missing, already deleted or not pending.
type BulkDeleteResult struct {
	DeletedCount int
	DeletedIDs   []string
	SkippedIDs   []string
}

type UpsertCustomerCommand struct {
	FullName    string
	Email       string
	Phone       string
	CompanyName string
	Address     string
}

// OverviewQuery is a closed creation-time window.
type OverviewQuery struct {
	From time.Time
	To   time.Time
}

// OrderExport points at an uploaded export object.
type OrderExport struct {
	Object    string
	URL       string
	ExpiresAt time.Time
	Rows      int
	Truncated bool
}

// OrderEventPublisher publishes order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// OrderEvent describes a change to an order.
type OrderEvent struct {
	Type           string          `json:"type"`
	OrderID        string          `json:"orderId"`
	CustomerID     string          `json:"customerId,omitempty"`
	PreviousStatus string          `json:"previousStatus,omitempty"`
	Status         string          `json:"status"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	ActorID        string          `json:"actorId,omitempty"`
	OccurredAt     time.Time       `json:"occurredAt"`
}

// ObjectUploader stores export files and issues download links.
type ObjectUploader interface {
	Upload(ctx context.Context, object, contentType string, data []byte) error
	SignedURL(ctx context.Context, object string, ttl time.Duration) (string, error)
}

// TransitionMetrics and AnalyticsMetrics are satisfied by *observability.Metrics.
type TransitionMetrics interface {
	RecordTransition(ctx context.Context, from, to, outcome string)
}

type AnalyticsMetrics interface {
	RecordAnalytics(ctx context.Context, operation, rangeToken, outcome string, elapsed time.Duration)
}
