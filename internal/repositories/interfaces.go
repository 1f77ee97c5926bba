package repositories

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/nax-handle/crm-backend/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists orders and serves the projections the reporting pipeline reads.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// FindByID returns the stored order, including soft-deleted ones.
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// TransitionStatus atomically applies the transition when the stored status still equals
	// Expected and the order is not deleted; otherwise it returns a conflict error.
	TransitionStatus(ctx context.Context, transition OrderTransition) (domain.Order, error)
	// SoftDelete marks a non-deleted order deleted when its status still equals Expected.
	SoftDelete(ctx context.Context, orderID string, expected domain.OrderStatus, deletedAt time.Time) error
	// BulkSoftDelete deletes every listed order that is non-deleted and pending, in one transaction.
	BulkSoftDelete(ctx context.Context, orderIDs []string, deletedAt time.Time) (BulkDeleteResult, error)
	List(ctx context.Context, filter OrderListFilter) (domain.OffsetPage[domain.Order], error)
	// StreamFacts calls fn for every non-deleted order matching the query.
	StreamFacts(ctx context.Context, query FactQuery, fn func(domain.OrderFact) error) error
}

// CustomerRepository persists CRM contacts. Email uniqueness is enforced by the store.
type CustomerRepository interface {
	Insert(ctx context.Context, customer domain.Customer) error
	Update(ctx context.Context, customer domain.Customer) error
	SoftDelete(ctx context.Context, customerID string, deletedAt time.Time) error
	FindByID(ctx context.Context, customerID string) (domain.Customer, error)
	FindByEmail(ctx context.Context, email string) (domain.Customer, error)
	// FindByIDs returns the customers that exist, keyed by id. Missing ids are omitted.
	FindByIDs(ctx context.Context, customerIDs []string) (map[string]domain.Customer, error)
	List(ctx context.Context, filter CustomerListFilter) (domain.OffsetPage[domain.Customer], error)
}

// OrderTransition describes a conditional status change.
type OrderTransition struct {
	OrderID     string
	Expected    domain.OrderStatus
	Target      domain.OrderStatus
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// BulkDeleteResult reports which ids were deleted and which were left untouched.
type BulkDeleteResult struct {
	Deleted []string
	Skipped []string
}

// OrderListFilter narrows ListOrders. Zero values mean "no constraint".
type OrderListFilter struct {
	Status      []domain.OrderStatus
	OrderType   domain.OrderType
	CustomerID  string
	TotalAmount domain.RangeQuery[decimal.Decimal]
	CreatedAt   domain.RangeQuery[time.Time]
	// Search matches an exact order id or customer id.
	Search     string
	Pagination domain.PageRequest
}

type CustomerListFilter struct {
	Email      string
	Pagination domain.PageRequest
}

// FactQuery selects order facts by creation time. To is exclusive unless ToInclusive is set.
type FactQuery struct {
	From        time.Time
	To          time.Time
	ToInclusive bool
	Statuses    []domain.OrderStatus
}
