package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// PageRequest carries offset pagination parameters for list queries.
type PageRequest struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder SortOrder
}

// Offset returns the number of records skipped before the requested page.
func (p PageRequest) Offset() int {
	if p.Page <= 1 || p.Limit <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// PageMeta describes the position of a page inside the full result set.
type PageMeta struct {
	Page       int
	Limit      int
	Total      int
	TotalPages int
}

// NewPageMeta derives total pages from the total record count.
func NewPageMeta(req PageRequest, total int) PageMeta {
	meta := PageMeta{Page: req.Page, Limit: req.Limit, Total: total}
	if meta.Page <= 0 {
		meta.Page = 1
	}
	if req.Limit > 0 {
		meta.TotalPages = (total + req.Limit - 1) / req.Limit
	}
	return meta
}

// OffsetPage packages list results with their pagination metadata.
type OffsetPage[T any] struct {
	Items []T
	Meta  PageMeta
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T any] struct {
	From *T
	To   *T
}

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// OrderStatuses lists every known status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

// Valid reports whether the status is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusCompleted, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is permitted from the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// InProgress reports whether the order is still being worked on.
func (s OrderStatus) InProgress() bool {
	return s == OrderStatusPending || s == OrderStatusProcessing
}

// OrderType classifies the commercial nature of an order.
type OrderType string

const (
	OrderTypeSales        OrderType = "sales"
	OrderTypeService      OrderType = "service"
	OrderTypeSubscription OrderType = "subscription"
)

// Valid reports whether the order type is supported.
func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeSales, OrderTypeService, OrderTypeSubscription:
		return true
	default:
		return false
	}
}

// Order captures a single sales, service or subscription transaction.
type Order struct {
	ID          string
	CustomerID  string
	Customer    *Customer
	OrderType   OrderType
	Status      OrderStatus
	TotalAmount decimal.Decimal
	Description string
	IsDeleted   bool
	DeletedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OrderFact is the projection of an order needed by the reporting pipeline.
type OrderFact struct {
	Status      OrderStatus
	TotalAmount decimal.Decimal
	CreatedAt   time.Time
}

// Customer represents a CRM contact that places orders.
type Customer struct {
	ID          string
	FullName    string
	Email       string
	Phone       string
	CompanyName string
	Address     string
	IsDeleted   bool
	DeletedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BucketUnit is the calendar unit of a single revenue bucket.
type BucketUnit string

const (
	BucketUnitHour  BucketUnit = "hour"
	BucketUnitDay   BucketUnit = "day"
	BucketUnitMonth BucketUnit = "month"
	BucketUnitYear  BucketUnit = "year"
)

// RevenuePoint is the realised revenue of one bucket.
type RevenuePoint struct {
	BucketIndex int
	BucketStart time.Time
	Revenue     decimal.Decimal
}

// RevenueSeries is the chart payload for a resolved range token.
type RevenueSeries struct {
	Range       string
	Unit        BucketUnit
	From        time.Time
	To          time.Time
	BucketCount int
	Sparse      bool
	Points      []RevenuePoint
}

// StatusBreakdown aggregates orders sharing the same status.
type StatusBreakdown struct {
	Status OrderStatus
	Count  int
	Amount decimal.Decimal
}

// OverviewStatistics summarises orders created inside a closed window.
type OverviewStatistics struct {
	From             time.Time
	To               time.Time
	TotalOrders      int
	TotalAmount      decimal.Decimal
	TotalRevenue     decimal.Decimal
	CompletedCount   int
	CompletedAmount  decimal.Decimal
	InProgressCount  int
	InProgressAmount decimal.Decimal
	CancelledCount   int
	ByStatus         []StatusBreakdown
}
