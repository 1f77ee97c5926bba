package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/nax-handle/crm-backend/internal/domain"
	"github.com/nax-handle/crm-backend/internal/platform/auth"
	"github.com/nax-handle/crm-backend/internal/services"
)

type stubOrderService struct {
	createFn     func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn        func(context.Context, string) (services.Order, error)
	listFn       func(context.Context, services.OrderListFilter) (domain.OffsetPage[services.Order], error)
	transitionFn func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error)
	deleteFn     func(context.Context, services.DeleteOrderCommand) error
	bulkDeleteFn func(context.Context, services.BulkDeleteOrdersCommand) (services.BulkDeleteResult, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	return s.createFn(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	return s.getFn(ctx, orderID)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.OffsetPage[services.Order], error) {
	return s.listFn(ctx, filter)
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	return s.transitionFn(ctx, cmd)
}

func (s *stubOrderService) SoftDeleteOrder(ctx context.Context, cmd services.DeleteOrderCommand) error {
	return s.deleteFn(ctx, cmd)
}

func (s *stubOrderService) BulkSoftDelete(ctx context.Context, cmd services.BulkDeleteOrdersCommand) (services.BulkDeleteResult, error) {
	return s.bulkDeleteFn(ctx, cmd)
}

type stubAnalyticsService struct {
	seriesFn   func(context.Context, string) (services.RevenueSeries, error)
	overviewFn func(context.Context, services.OverviewQuery) (services.OverviewStatistics, error)
}

func (s *stubAnalyticsService) GetRevenueSeries(ctx context.Context, rangeToken string) (services.RevenueSeries, error) {
	return s.seriesFn(ctx, rangeToken)
}

func (s *stubAnalyticsService) GetOverview(ctx context.Context, q services.OverviewQuery) (services.OverviewStatistics, error) {
	return s.overviewFn(ctx, q)
}

type stubExportService struct {
	exportFn func(context.Context, services.OrderListFilter) (services.OrderExport, error)
}

func (s *stubExportService) ExportOrders(ctx context.Context, filter services.OrderListFilter) (services.OrderExport, error) {
	return s.exportFn(ctx, filter)
}

type stubCustomerService struct {
	createFn func(context.Context, services.UpsertCustomerCommand) (services.Customer, error)
	updateFn func(context.Context, string, services.UpsertCustomerCommand) (services.Customer, error)
	deleteFn func(context.Context, string) error
	getFn    func(context.Context, string) (services.Customer, error)
	listFn   func(context.Context, services.CustomerListFilter) (domain.OffsetPage[services.Customer], error)
}

func (s *stubCustomerService) CreateCustomer(ctx context.Context, cmd services.UpsertCustomerCommand) (services.Customer, error) {
	return s.createFn(ctx, cmd)
}

func (s *stubCustomerService) UpdateCustomer(ctx context.Context, id string, cmd services.UpsertCustomerCommand) (services.Customer, error) {
	return s.updateFn(ctx, id, cmd)
}

func (s *stubCustomerService) SoftDeleteCustomer(ctx context.Context, id string) error {
	return s.deleteFn(ctx, id)
}

func (s *stubCustomerService) GetCustomer(ctx context.Context, id string) (services.Customer, error) {
	return s.getFn(ctx, id)
}

func (s *stubCustomerService) ListCustomers(ctx context.Context, filter services.CustomerListFilter) (domain.OffsetPage[services.Customer], error) {
	return s.listFn(ctx, filter)
}

func (s *stubCustomerService) FindCustomerByIDOrEmail(context.Context, string) (services.Customer, error) {
	return services.Customer{}, services.ErrCustomerNotFound
}

func (s *stubCustomerService) LookupCustomers(context.Context, []string) (map[string]services.Customer, error) {
	return map[string]services.Customer{}, nil
}

var (
	_ services.OrderService     = (*stubOrderService)(nil)
	_ services.AnalyticsService = (*stubAnalyticsService)(nil)
	_ services.ExportService    = (*stubExportService)(nil)
	_ services.CustomerService  = (*stubCustomerService)(nil)
)

// serveRoutes mounts routes under prefix the way NewRouter does and serves one request as staff_1.
func serveRoutes(t *testing.T, prefix string, routes RouteRegistrar, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	router.Route(prefix, func(r chi.Router) { routes(r) })

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "staff_1", Roles: []string{auth.RoleStaff}}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decodeBody(t, rr, &body)
	return body.Error
}
