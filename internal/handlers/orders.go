package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/nax-handle/crm-backend/internal/domain"
	"github.com/nax-handle/crm-backend/internal/platform/auth"
	"github.com/nax-handle/crm-backend/internal/platform/httpx"
	"github.com/nax-handle/crm-backend/internal/platform/pagination"
	"github.com/nax-handle/crm-backend/internal/services"
)

const (
	maxOrderBodySize      = 8 * 1024
	maxBulkDeleteBodySize = 64 * 1024
)

var orderSortFields = []string{"createdAt", "updatedAt", "totalAmount"}

// OrderHandlers exposes the /orders endpoints, including analytics and export.
type OrderHandlers struct {
	orders      services.OrderService
	analytics   services.AnalyticsService
	exports     services.ExportService
	loc         *time.Location
	reportingMW []func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// NewOrderHandlers constructs order handlers. Analytics and export endpoints answer 503 until
// their services are provided.
func NewOrderHandlers(orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{orders: orders, loc: time.UTC}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// WithOrderAnalytics enables the overview and chart endpoints.
func WithOrderAnalytics(svc services.AnalyticsService) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.analytics = svc
	}
}

// WithOrderExports enables the CSV export endpoint.
func WithOrderExports(svc services.ExportService) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.exports = svc
	}
}

// WithBusinessLocation sets the location used to expand calendar-date query parameters.
func WithBusinessLocation(loc *time.Location) OrderHandlersOption {
	return func(h *OrderHandlers) {
		if loc != nil {
			h.loc = loc
		}
	}
}

// WithReportingMiddlewares wraps the analytics and export endpoints, for example with a rate limiter.
func WithReportingMiddlewares(mw ...func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.reportingMW = append(h.reportingMW, mw...)
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(reports chi.Router) {
		for _, mw := range h.reportingMW {
			if mw != nil {
				reports.Use(mw)
			}
		}
		reports.Get("/overview", h.getOverview)
		reports.Get("/chart", h.getChart)
		reports.Post("/export", h.exportOrders)
	})
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Post("/bulk-delete", h.bulkDelete)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}/status", h.updateStatus)
	r.Delete("/{orderID}", h.deleteOrder)
}

type createOrderRequest struct {
	Customer    string           `json:"customer"`
	CustomerID  string           `json:"customerId"`
	OrderType   string           `json:"orderType"`
	TotalAmount *decimal.Decimal `json:"totalAmount"`
	Description string           `json:"description"`
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

type bulkDeleteRequest struct {
	OrderIDs []string `json:"orderIds"`
}

type customerPayload struct {
	ID          string `json:"id"`
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	CompanyName string `json:"companyName"`
	Address     string `json:"address"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

type orderPayload struct {
	ID          string           `json:"id"`
	CustomerID  string           `json:"customerId"`
	Customer    *customerPayload `json:"customer,omitempty"`
	OrderType   string           `json:"orderType"`
	Status      string           `json:"status"`
	TotalAmount decimal.Decimal  `json:"totalAmount"`
	Description string           `json:"description,omitempty"`
	CompletedAt *string          `json:"completedAt,omitempty"`
	CreatedAt   string           `json:"createdAt"`
	UpdatedAt   string           `json:"updatedAt"`
}

type pageMetaPayload struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type orderListResponse struct {
	Items []orderPayload  `json:"items"`
	Meta  pageMetaPayload `json:"meta"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type bulkDeleteResponse struct {
	DeletedCount int      `json:"deletedCount"`
	DeletedIDs   []string `json:"deletedIds"`
	SkippedIDs   []string `json:"skippedIds"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderServiceUnavailable(ctx, w)
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}
	ref := strings.TrimSpace(req.Customer)
	if ref == "" {
		ref = strings.TrimSpace(req.CustomerID)
	}
	if req.TotalAmount == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "totalAmount is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		CustomerRef: ref,
		OrderType:   domain.OrderType(strings.ToLower(strings.TrimSpace(req.OrderType))),
		TotalAmount: *req.TotalAmount,
		Description: req.Description,
		ActorID:     auth.ActorID(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderServiceUnavailable(ctx, w)
		return
	}

	filter, err := h.parseOrderListFilter(r.URL.Query())
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items, Meta: buildPageMeta(page.Meta)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderServiceUnavailable(ctx, w)
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderServiceUnavailable(ctx, w)
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req updateOrderStatusRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}
	if strings.TrimSpace(req.Status) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.OrderStatusTransitionCommand{
		OrderID:      orderID,
		TargetStatus: domain.OrderStatus(req.Status),
		ActorID:      auth.ActorID(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderServiceUnavailable(ctx, w)
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	if err := h.orders.SoftDeleteOrder(ctx, services.DeleteOrderCommand{OrderID: orderID, ActorID: auth.ActorID(ctx)}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandlers) bulkDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderServiceUnavailable(ctx, w)
		return
	}

	var req bulkDeleteRequest
	if !decodeJSONBody(ctx, w, r, maxBulkDeleteBodySize, &req) {
		return
	}

	result, err := h.orders.BulkSoftDelete(ctx, services.BulkDeleteOrdersCommand{
		OrderIDs: req.OrderIDs,
		ActorID:  auth.ActorID(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, bulkDeleteResponse{
		DeletedCount: result.DeletedCount,
		DeletedIDs:   nonNilStrings(result.DeletedIDs),
		SkippedIDs:   nonNilStrings(result.SkippedIDs),
	})
}

func (h *OrderHandlers) parseOrderListFilter(query url.Values) (services.OrderListFilter, error) {
	page, err := pagination.Parse(query, pagination.Options{
		DefaultLimit:      pagination.DefaultLimit,
		MaxLimit:          pagination.DefaultMaxLimit,
		AllowedSortFields: orderSortFields,
		DefaultSortOrder:  domain.SortDesc,
	})
	if err != nil {
		return services.OrderListFilter{}, err
	}

	filter := services.OrderListFilter{
		Status:     parseStatusValues(query["status"]),
		OrderType:  domain.OrderType(strings.ToLower(strings.TrimSpace(query.Get("orderType")))),
		CustomerID: firstNonEmpty(query.Get("customerId"), query.Get("customer")),
		Search:     strings.TrimSpace(query.Get("search")),
		Pagination: page,
	}

	if raw := strings.TrimSpace(query.Get("minTotalAmount")); raw != "" {
		value, err := parseAmountParam(raw)
		if err != nil {
			return services.OrderListFilter{}, errors.New("minTotalAmount must be a non-negative number")
		}
		filter.TotalAmount.From = &value
	}
	if raw := strings.TrimSpace(query.Get("maxTotalAmount")); raw != "" {
		value, err := parseAmountParam(raw)
		if err != nil {
			return services.OrderListFilter{}, errors.New("maxTotalAmount must be a non-negative number")
		}
		filter.TotalAmount.To = &value
	}
	if raw := strings.TrimSpace(query.Get("fromDate")); raw != "" {
		ts, err := parseDayParam(raw, h.loc, false)
		if err != nil {
			return services.OrderListFilter{}, errors.New("fromDate must be a date (YYYY-MM-DD) or RFC3339 timestamp")
		}
		filter.CreatedAt.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("toDate")); raw != "" {
		ts, err := parseDayParam(raw, h.loc, true)
		if err != nil {
			return services.OrderListFilter{}, errors.New("toDate must be a date (YYYY-MM-DD) or RFC3339 timestamp")
		}
		filter.CreatedAt.To = &ts
	}
	return filter, nil
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

// parseStatusValues accepts repeated and comma separated status parameters.
func parseStatusValues(values []string) []domain.OrderStatus {
	var statuses []domain.OrderStatus
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
				statuses = append(statuses, domain.OrderStatus(part))
			}
		}
	}
	return statuses
}

func parseAmountParam(raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if value.IsNegative() {
		return decimal.Decimal{}, errors.New("negative amount")
	}
	return value, nil
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		CustomerID:  order.CustomerID,
		OrderType:   string(order.OrderType),
		Status:      string(order.Status),
		TotalAmount: order.TotalAmount,
		Description: order.Description,
		CompletedAt: formatTimePtr(order.CompletedAt),
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
	}
	if order.Customer != nil {
		customer := buildCustomerPayload(*order.Customer)
		payload.Customer = &customer
	}
	return payload
}

func buildPageMeta(meta domain.PageMeta) pageMetaPayload {
	return pageMetaPayload{
		Page:       meta.Page,
		Limit:      meta.Limit,
		Total:      meta.Total,
		TotalPages: meta.TotalPages,
	}
}

func writeOrderServiceUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput), pagination.IsInvalid(err):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCustomerNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("customer_not_found", "customer not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently, retry the request", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable), errors.Is(err, services.ErrCustomerUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_store_unavailable", "order store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "internal server error", http.StatusInternalServerError))
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
