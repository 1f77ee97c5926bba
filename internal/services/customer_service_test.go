package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/nax-handle/crm-backend/internal/domain"
)

var customerTestNow = time.Date(2025, 3, 15, 3, 0, 0, 0, time.UTC)

func newTestCustomerService(t *testing.T, repo *stubCustomerRepo) CustomerService {
	t.Helper()
	svc, err := NewCustomerService(CustomerServiceDeps{
		Customers:   repo,
		Clock:       func() time.Time { return customerTestNow },
		IDGenerator: func() string { return "01JCUST" },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}
	return svc
}

func validCustomerCommand() UpsertCustomerCommand {
	return UpsertCustomerCommand{
		FullName:    "Nguyen Van A",
		Email:       "  A.Nguyen@Example.COM ",
		Phone:       "+84 90 123 4567",
		CompanyName: "Sao Mai Co.",
		Address:     "12 Le Loi, District 1, Ho Chi Minh City",
	}
}

func TestCustomerServiceCreateCustomer(t *testing.T) {
	var inserted domain.Customer
	repo := &stubCustomerRepo{
		insertFn: func(_ context.Context, c domain.Customer) error {
			inserted = c
			return nil
		},
	}
	svc := newTestCustomerService(t, repo)

	customer, err := svc.CreateCustomer(context.Background(), validCustomerCommand())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if customer.ID != "cus_01JCUST" {
		t.Fatalf("unexpected id %q", customer.ID)
	}
	if customer.Email != "a.nguyen@example.com" {
		t.Fatalf("expected normalized email, got %q", customer.Email)
	}
	if inserted.ID != customer.ID || !inserted.CreatedAt.Equal(customerTestNow) {
		t.Fatalf("unexpected inserted customer %+v", inserted)
	}
}

func TestCustomerServiceCreateCustomerValidation(t *testing.T) {
	svc := newTestCustomerService(t, &stubCustomerRepo{})

	missing := validCustomerCommand()
	missing.Phone = " "
	missing.Address = ""
	_, err := svc.CreateCustomer(context.Background(), missing)
	if !errors.Is(err, ErrCustomerInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if !strings.Contains(err.Error(), "phone, address") {
		t.Fatalf("expected missing fields listed in order, got %v", err)
	}

	malformed := validCustomerCommand()
	malformed.Email = "not-an-email"
	if _, err := svc.CreateCustomer(context.Background(), malformed); !errors.Is(err, ErrCustomerInvalidInput) {
		t.Fatalf("expected invalid input for malformed email, got %v", err)
	}
}

func TestCustomerServiceCreateCustomerDuplicateEmail(t *testing.T) {
	repo := &stubCustomerRepo{
		insertFn: func(context.Context, domain.Customer) error { return repoErr{conflict: true} },
	}
	svc := newTestCustomerService(t, repo)

	if _, err := svc.CreateCustomer(context.Background(), validCustomerCommand()); !errors.Is(err, ErrCustomerConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCustomerServiceUpdateCustomerKeepsCreatedAt(t *testing.T) {
	created := customerTestNow.Add(-48 * time.Hour)
	var updated domain.Customer
	repo := &stubCustomerRepo{
		findFn: func(_ context.Context, id string) (domain.Customer, error) {
			return domain.Customer{ID: id, Email: "old@example.com", CreatedAt: created}, nil
		},
		updateFn: func(_ context.Context, c domain.Customer) error {
			updated = c
			return nil
		},
	}
	svc := newTestCustomerService(t, repo)

	if _, err := svc.UpdateCustomer(context.Background(), "cus_1", validCustomerCommand()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.ID != "cus_1" || !updated.CreatedAt.Equal(created) || !updated.UpdatedAt.Equal(customerTestNow) {
		t.Fatalf("unexpected update %+v", updated)
	}
}

func TestCustomerServiceDeletedCustomerIsNotFound(t *testing.T) {
	repo := &stubCustomerRepo{
		findFn: func(_ context.Context, id string) (domain.Customer, error) {
			return domain.Customer{ID: id, IsDeleted: true}, nil
		},
		softDeleteFn: func(context.Context, string, time.Time) error {
			t.Fatalf("soft delete must not be called twice")
			return nil
		},
	}
	svc := newTestCustomerService(t, repo)

	if _, err := svc.GetCustomer(context.Background(), "cus_1"); !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := svc.SoftDeleteCustomer(context.Background(), "cus_1"); !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCustomerServiceFindCustomerByIDOrEmail(t *testing.T) {
	repo := &stubCustomerRepo{
		findFn: func(_ context.Context, id string) (domain.Customer, error) {
			return domain.Customer{ID: id}, nil
		},
		findByEmailFn: func(_ context.Context, email string) (domain.Customer, error) {
			if email != "b@example.com" {
				t.Fatalf("expected normalized email, got %q", email)
			}
			return domain.Customer{ID: "cus_b", Email: email}, nil
		},
	}
	svc := newTestCustomerService(t, repo)

	byID, err := svc.FindCustomerByIDOrEmail(context.Background(), "cus_7")
	if err != nil || byID.ID != "cus_7" {
		t.Fatalf("unexpected id lookup %+v, %v", byID, err)
	}
	byEmail, err := svc.FindCustomerByIDOrEmail(context.Background(), "B@Example.com")
	if err != nil || byEmail.ID != "cus_b" {
		t.Fatalf("unexpected email lookup %+v, %v", byEmail, err)
	}
	if _, err := svc.FindCustomerByIDOrEmail(context.Background(), " "); !errors.Is(err, ErrCustomerInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCustomerServiceFindCustomerByUnknownEmail(t *testing.T) {
	svc := newTestCustomerService(t, &stubCustomerRepo{})
	if _, err := svc.FindCustomerByIDOrEmail(context.Background(), "ghost@example.com"); !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCustomerServiceLookupCustomersFiltersDeleted(t *testing.T) {
	repo := &stubCustomerRepo{
		findByIDsFn: func(_ context.Context, ids []string) (map[string]domain.Customer, error) {
			if len(ids) != 2 {
				t.Fatalf("expected deduplicated ids, got %v", ids)
			}
			return map[string]domain.Customer{
				"cus_1": {ID: "cus_1"},
				"cus_2": {ID: "cus_2", IsDeleted: true},
			}, nil
		},
	}
	svc := newTestCustomerService(t, repo)

	found, err := svc.LookupCustomers(context.Background(), []string{"cus_1", "cus_2", "cus_1", ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected only active customers, got %v", found)
	}
	if _, ok := found["cus_1"]; !ok {
		t.Fatalf("expected cus_1 in result")
	}
}

func TestCustomerServiceLookupCustomersEmpty(t *testing.T) {
	repo := &stubCustomerRepo{
		findByIDsFn: func(context.Context, []string) (map[string]domain.Customer, error) {
			t.Fatalf("repository must not be called for empty ids")
			return nil, nil
		},
	}
	svc := newTestCustomerService(t, repo)
	found, err := svc.LookupCustomers(context.Background(), nil)
	if err != nil || len(found) != 0 {
		t.Fatalf("unexpected result %v, %v", found, err)
	}
}
