package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/nax-handle/crm-backend/internal/domain"
	"github.com/nax-handle/crm-backend/internal/platform/httpx"
	"github.com/nax-handle/crm-backend/internal/platform/pagination"
	"github.com/nax-handle/crm-backend/internal/services"
)

const maxCustomerBodySize = 8 * 1024

var customerSortFields = []string{"createdAt", "updatedAt", "fullName"}

// CustomerHandlers exposes CRUD endpoints for CRM contacts.
type CustomerHandlers struct {
	customers services.CustomerService
}

// NewCustomerHandlers constructs customer handlers.
func NewCustomerHandlers(customers services.CustomerService) *CustomerHandlers {
	return &CustomerHandlers{customers: customers}
}

// Routes registers the /customers endpoints.
func (h *CustomerHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createCustomer)
	r.Get("/", h.listCustomers)
	r.Get("/{customerID}", h.getCustomer)
	r.Patch("/{customerID}", h.updateCustomer)
	r.Delete("/{customerID}", h.deleteCustomer)
}

type customerRequest struct {
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	CompanyName string `json:"companyName"`
	Address     string `json:"address"`
}

func (req customerRequest) command() services.UpsertCustomerCommand {
	return services.UpsertCustomerCommand{
		FullName:    req.FullName,
		Email:       req.Email,
		Phone:       req.Phone,
		CompanyName: req.CompanyName,
		Address:     req.Address,
	}
}

type customerResponse struct {
	Customer customerPayload `json:"customer"`
}

type customerListResponse struct {
	Items []customerPayload `json:"items"`
	Meta  pageMetaPayload   `json:"meta"`
}

func (h *CustomerHandlers) createCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.customers == nil {
		writeCustomerServiceUnavailable(ctx, w)
		return
	}
	var req customerRequest
	if !decodeJSONBody(ctx, w, r, maxCustomerBodySize, &req) {
		return
	}

	customer, err := h.customers.CreateCustomer(ctx, req.command())
	if err != nil {
		writeCustomerError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, customerResponse{Customer: buildCustomerPayload(customer)})
}

// updateCustomer replaces the editable profile; every field is required as on create.
func (h *CustomerHandlers) updateCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.customers == nil {
		writeCustomerServiceUnavailable(ctx, w)
		return
	}
	customerID, ok := customerIDParam(w, r)
	if !ok {
		return
	}
	var req customerRequest
	if !decodeJSONBody(ctx, w, r, maxCustomerBodySize, &req) {
		return
	}

	customer, err := h.customers.UpdateCustomer(ctx, customerID, req.command())
	if err != nil {
		writeCustomerError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, customerResponse{Customer: buildCustomerPayload(customer)})
}

func (h *CustomerHandlers) listCustomers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.customers == nil {
		writeCustomerServiceUnavailable(ctx, w)
		return
	}

	query := r.URL.Query()
	page, err := pagination.Parse(query, pagination.Options{
		AllowedSortFields: customerSortFields,
		DefaultSortOrder:  domain.SortDesc,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.customers.ListCustomers(ctx, services.CustomerListFilter{
		Email:      strings.ToLower(strings.TrimSpace(query.Get("email"))),
		Pagination: page,
	})
	if err != nil {
		writeCustomerError(ctx, w, err)
		return
	}

	items := make([]customerPayload, 0, len(result.Items))
	for _, customer := range result.Items {
		items = append(items, buildCustomerPayload(customer))
	}
	writeJSONResponse(w, http.StatusOK, customerListResponse{Items: items, Meta: buildPageMeta(result.Meta)})
}

func (h *CustomerHandlers) getCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.customers == nil {
		writeCustomerServiceUnavailable(ctx, w)
		return
	}
	customerID, ok := customerIDParam(w, r)
	if !ok {
		return
	}

	customer, err := h.customers.GetCustomer(ctx, customerID)
	if err != nil {
		writeCustomerError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, customerResponse{Customer: buildCustomerPayload(customer)})
}

func (h *CustomerHandlers) deleteCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.customers == nil {
		writeCustomerServiceUnavailable(ctx, w)
		return
	}
	customerID, ok := customerIDParam(w, r)
	if !ok {
		return
	}

	if err := h.customers.SoftDeleteCustomer(ctx, customerID); err != nil {
		writeCustomerError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func customerIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	customerID := strings.TrimSpace(chi.URLParam(r, "customerID"))
	if customerID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "customer id is required", http.StatusBadRequest))
		return "", false
	}
	return customerID, true
}

func buildCustomerPayload(c services.Customer) customerPayload {
	return customerPayload{
		ID:          c.ID,
		FullName:    c.FullName,
		Email:       c.Email,
		Phone:       c.Phone,
		CompanyName: c.CompanyName,
		Address:     c.Address,
		CreatedAt:   formatTime(c.CreatedAt),
		UpdatedAt:   formatTime(c.UpdatedAt),
	}
}

func writeCustomerServiceUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("customer_service_unavailable", "customer service unavailable", http.StatusServiceUnavailable))
}

func writeCustomerError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCustomerInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCustomerNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("customer_not_found", "customer not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCustomerConflict):
		httpx.WriteError(ctx, w, httpx.NewError("customer_email_taken", "email already belongs to another customer", http.StatusConflict))
	case errors.Is(err, services.ErrCustomerUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("customer_store_unavailable", "customer store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("customer_error", "internal server error", http.StatusInternalServerError))
	}
}
