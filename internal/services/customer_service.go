package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/nax-handle/crm-backend/internal/domain"
	"github.com/nax-handle/crm-backend/internal/platform/textutil"
	"github.com/nax-handle/crm-backend/internal/repositories"
)

const (
	customerIDPrefix = "cus_"

	maxCustomerFieldLength = 256
)

var (
	// ErrCustomerInvalidInput signals missing or malformed customer fields.
	ErrCustomerInvalidInput = errors.New("customer: invalid input")
	// ErrCustomerNotFound indicates the customer does not exist or was deleted.
	ErrCustomerNotFound = errors.New("customer: not found")
	// ErrCustomerConflict indicates the email already belongs to another customer.
	ErrCustomerConflict = errors.New("customer: conflict")
	// ErrCustomerUnavailable indicates the customer store could not be reached.
	ErrCustomerUnavailable = errors.New("customer: store unavailable")
)

// CustomerServiceDeps bundles collaborators required to construct the customer service.
type CustomerServiceDeps struct {
	Customers   repositories.CustomerRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type customerService struct {
	customers repositories.CustomerRepository
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewCustomerService wires dependencies into a concrete CustomerService implementation.
func NewCustomerService(deps CustomerServiceDeps) (CustomerService, error) {
	if deps.Customers == nil {
		return nil, errors.New("customer service: customer repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &customerService{
		customers: deps.Customers,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

func (s *customerService) CreateCustomer(ctx context.Context, cmd UpsertCustomerCommand) (Customer, error) {
	fields, err := normalizeCustomer(cmd)
	if err != nil {
		return Customer{}, err
	}

	now := s.clock()
	fields.ID = customerIDPrefix + s.newID()
	fields.CreatedAt = now
	fields.UpdatedAt = now

	if err := s.customers.Insert(ctx, fields); err != nil {
		return Customer{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "customer.created", map[string]any{"customer": fields.ID})
	return fields, nil
}

func (s *customerService) UpdateCustomer(ctx context.Context, customerID string, cmd UpsertCustomerCommand) (Customer, error) {
	existing, err := s.GetCustomer(ctx, customerID)
	if err != nil {
		return Customer{}, err
	}
	fields, err := normalizeCustomer(cmd)
	if err != nil {
		return Customer{}, err
	}

	fields.ID = existing.ID
	fields.CreatedAt = existing.CreatedAt
	fields.UpdatedAt = s.clock()

	if err := s.customers.Update(ctx, fields); err != nil {
		return Customer{}, s.mapRepositoryError(err)
	}
	return fields, nil
}

func (s *customerService) SoftDeleteCustomer(ctx context.Context, customerID string) error {
	existing, err := s.GetCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	if err := s.customers.SoftDelete(ctx, existing.ID, s.clock()); err != nil {
		return s.mapRepositoryError(err)
	}
	s.logger(ctx, "customer.deleted", map[string]any{"customer": existing.ID})
	return nil
}

func (s *customerService) GetCustomer(ctx context.Context, customerID string) (Customer, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Customer{}, fmt.Errorf("%w: customer id is required", ErrCustomerInvalidInput)
	}
	customer, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		return Customer{}, s.mapRepositoryError(err)
	}
	if customer.IsDeleted {
		return Customer{}, fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
	}
	return customer, nil
}

func (s *customerService) ListCustomers(ctx context.Context, filter CustomerListFilter) (domain.OffsetPage[Customer], error) {
	filter.Email = textutil.NormalizeEmail(filter.Email)
	page, err := s.customers.List(ctx, filter)
	if err != nil {
		return domain.OffsetPage[Customer]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *customerService) FindCustomerByIDOrEmail(ctx context.Context, ref string) (Customer, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Customer{}, fmt.Errorf("%w: customer reference is required", ErrCustomerInvalidInput)
	}
	if !strings.Contains(ref, "@") {
		return s.GetCustomer(ctx, ref)
	}

	customer, err := s.customers.FindByEmail(ctx, textutil.NormalizeEmail(ref))
	if err != nil {
		return Customer{}, s.mapRepositoryError(err)
	}
	if customer.IsDeleted {
		return Customer{}, fmt.Errorf("%w: %s", ErrCustomerNotFound, ref)
	}
	return customer, nil
}

func (s *customerService) LookupCustomers(ctx context.Context, ids []string) (map[string]Customer, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return map[string]Customer{}, nil
	}

	found, err := s.customers.FindByIDs(ctx, unique)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	for id, customer := range found {
		if customer.IsDeleted {
			delete(found, id)
		}
	}
	return found, nil
}

func normalizeCustomer(cmd UpsertCustomerCommand) (Customer, error) {
	customer := Customer{
		FullName:    textutil.PlainText(cmd.FullName, maxCustomerFieldLength),
		Email:       textutil.NormalizeEmail(cmd.Email),
		Phone:       textutil.PlainText(cmd.Phone, 32),
		CompanyName: textutil.PlainText(cmd.CompanyName, maxCustomerFieldLength),
		Address:     textutil.PlainText(cmd.Address, 512),
	}

	var missing []string
	for _, field := range []struct{ name, value string }{
		{"fullName", customer.FullName},
		{"email", customer.Email},
		{"phone", customer.Phone},
		{"companyName", customer.CompanyName},
		{"address", customer.Address},
	} {
		if field.value == "" {
			missing = append(missing, field.name)
		}
	}
	if len(missing) > 0 {
		return Customer{}, fmt.Errorf("%w: missing %s", ErrCustomerInvalidInput, strings.Join(missing, ", "))
	}

	addr, err := mail.ParseAddress(customer.Email)
	if err != nil || addr.Address != customer.Email {
		return Customer{}, fmt.Errorf("%w: malformed email %q", ErrCustomerInvalidInput, customer.Email)
	}
	return customer, nil
}

func (s *customerService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCustomerNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCustomerConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCustomerUnavailable, err)
		}
	}
	return err
}
