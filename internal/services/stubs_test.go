package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/nax-handle/crm-backend/internal/domain"
	"github.com/nax-handle/crm-backend/internal/repositories"
)

type stubOrderRepo struct {
	insertFn     func(context.Context, domain.Order) error
	findFn       func(context.Context, string) (domain.Order, error)
	transitionFn func(context.Context, repositories.OrderTransition) (domain.Order, error)
	softDeleteFn func(context.Context, string, domain.OrderStatus, time.Time) error
	bulkDeleteFn func(context.Context, []string, time.Time) (repositories.BulkDeleteResult, error)
	listFn       func(context.Context, repositories.OrderListFilter) (domain.OffsetPage[domain.Order], error)
	streamFn     func(context.Context, repositories.FactQuery, func(domain.OrderFact) error) error
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) TransitionStatus(ctx context.Context, t repositories.OrderTransition) (domain.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, t)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) SoftDelete(ctx context.Context, orderID string, expected domain.OrderStatus, deletedAt time.Time) error {
	if s.softDeleteFn != nil {
		return s.softDeleteFn(ctx, orderID, expected, deletedAt)
	}
	return nil
}

func (s *stubOrderRepo) BulkSoftDelete(ctx context.Context, ids []string, deletedAt time.Time) (repositories.BulkDeleteResult, error) {
	if s.bulkDeleteFn != nil {
		return s.bulkDeleteFn(ctx, ids, deletedAt)
	}
	return repositories.BulkDeleteResult{}, nil
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.OffsetPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.OffsetPage[domain.Order]{}, nil
}

func (s *stubOrderRepo) StreamFacts(ctx context.Context, q repositories.FactQuery, fn func(domain.OrderFact) error) error {
	if s.streamFn != nil {
		return s.streamFn(ctx, q, fn)
	}
	return nil
}

type stubCustomerRepo struct {
	insertFn      func(context.Context, domain.Customer) error
	updateFn      func(context.Context, domain.Customer) error
	softDeleteFn  func(context.Context, string, time.Time) error
	findFn        func(context.Context, string) (domain.Customer, error)
	findByEmailFn func(context.Context, string) (domain.Customer, error)
	findByIDsFn   func(context.Context, []string) (map[string]domain.Customer, error)
	listFn        func(context.Context, repositories.CustomerListFilter) (domain.OffsetPage[domain.Customer], error)
}

func (s *stubCustomerRepo) Insert(ctx context.Context, c domain.Customer) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, c)
	}
	return nil
}

func (s *stubCustomerRepo) Update(ctx context.Context, c domain.Customer) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, c)
	}
	return nil
}

func (s *stubCustomerRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	if s.softDeleteFn != nil {
		return s.softDeleteFn(ctx, id, at)
	}
	return nil
}

func (s *stubCustomerRepo) FindByID(ctx context.Context, id string) (domain.Customer, error) {
	if s.findFn != nil {
		return s.findFn(ctx, id)
	}
	return domain.Customer{}, notFoundErr{}
}

func (s *stubCustomerRepo) FindByEmail(ctx context.Context, email string) (domain.Customer, error) {
	if s.findByEmailFn != nil {
		return s.findByEmailFn(ctx, email)
	}
	return domain.Customer{}, notFoundErr{}
}

func (s *stubCustomerRepo) FindByIDs(ctx context.Context, ids []string) (map[string]domain.Customer, error) {
	if s.findByIDsFn != nil {
		return s.findByIDsFn(ctx, ids)
	}
	return map[string]domain.Customer{}, nil
}

func (s *stubCustomerRepo) List(ctx context.Context, filter repositories.CustomerListFilter) (domain.OffsetPage[domain.Customer], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.OffsetPage[domain.Customer]{}, nil
}

type stubCustomerService struct {
	CustomerService
	findFn   func(context.Context, string) (Customer, error)
	lookupFn func(context.Context, []string) (map[string]Customer, error)
}

func (s *stubCustomerService) FindCustomerByIDOrEmail(ctx context.Context, ref string) (Customer, error) {
	if s.findFn != nil {
		return s.findFn(ctx, ref)
	}
	return Customer{}, ErrCustomerNotFound
}

func (s *stubCustomerService) LookupCustomers(ctx context.Context, ids []string) (map[string]Customer, error) {
	if s.lookupFn != nil {
		return s.lookupFn(ctx, ids)
	}
	return map[string]Customer{}, nil
}

type captureOrderEvents struct {
	events []OrderEvent
	err    error
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) (string, error) {
	c.events = append(c.events, event)
	if c.err != nil {
		return "", c.err
	}
	return "msg-1", nil
}

type transitionRecord struct {
	from, to, outcome string
}

type captureMetrics struct {
	transitions []transitionRecord
	analytics   []string
}

func (c *captureMetrics) RecordTransition(_ context.Context, from, to, outcome string) {
	c.transitions = append(c.transitions, transitionRecord{from, to, outcome})
}

func (c *captureMetrics) RecordAnalytics(_ context.Context, operation, _ string, outcome string, _ time.Duration) {
	c.analytics = append(c.analytics, operation+":"+outcome)
}

// repoErr implements repositories.RepositoryError for tests.
type repoErr struct {
	notFound, conflict, unavailable bool
}

func (e repoErr) Error() string       { return "repository error" }
func (e repoErr) IsNotFound() bool    { return e.notFound }
func (e repoErr) IsConflict() bool    { return e.conflict }
func (e repoErr) IsUnavailable() bool { return e.unavailable }

type notFoundErr struct{}

func (notFoundErr) Error() string       { return "not found" }
func (notFoundErr) IsNotFound() bool    { return true }
func (notFoundErr) IsConflict() bool    { return false }
func (notFoundErr) IsUnavailable() bool { return false }

type logEntry struct {
	event  string
	fields map[string]any
}

type captureLogs struct {
	entries []logEntry
}

func (c *captureLogs) log(_ context.Context, event string, fields map[string]any) {
	c.entries = append(c.entries, logEntry{event: event, fields: fields})
}

func (c *captureLogs) has(event string) bool {
	for _, e := range c.entries {
		if e.event == event {
			return true
		}
	}
	return false
}
