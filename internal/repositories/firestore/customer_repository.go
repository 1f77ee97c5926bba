package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/nax-handle/crm-backend/internal/domain"
	pfirestore "github.com/nax-handle/crm-backend/internal/platform/firestore"
	"github.com/nax-handle/crm-backend/internal/repositories"
)

const (
	customersCollection     = "customers"
	customerEmailCollection = "customerEmails"
)

var customerSortFields = map[string]string{
	"createdAt": "createdAt",
	"updatedAt": "updatedAt",
	"fullName":  "fullName",
}

// CustomerRepository stores customers keyed by id. Each live customer owns a
// customerEmails/{email} document, which makes email uniqueness transactional.
type CustomerRepository struct {
	provider  *pfirestore.Provider
	customers *pfirestore.BaseRepository[customerDocument]
	emails    *pfirestore.BaseRepository[emailDocument]
}

func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository requires firestore provider")
	}
	return &CustomerRepository{
		provider:  provider,
		customers: pfirestore.NewBaseRepository[customerDocument](provider, customersCollection, nil, nil),
		emails:    pfirestore.NewBaseRepository[emailDocument](provider, customerEmailCollection, nil, nil),
	}, nil
}

func (r *CustomerRepository) Insert(ctx context.Context, customer domain.Customer) error {
	const op = "customers.insert"
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.customers.DocumentRef(ctx, customer.ID)
		if err != nil {
			return err
		}
		emailRef, err := r.emails.DocumentRef(ctx, customer.Email)
		if err != nil {
			return err
		}
		if err := r.claimEmail(tx, emailRef, customer.ID, op); err != nil {
			return err
		}
		if err := tx.Create(emailRef, emailDocument{CustomerID: customer.ID}); err != nil {
			return err
		}
		return tx.Create(ref, newCustomerDocument(customer))
	})
	return pfirestore.WrapError(op, err)
}

// Update rewrites the profile and moves the email claim when the address changed.
func (r *CustomerRepository) Update(ctx context.Context, customer domain.Customer) error {
	const op = "customers.update"
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.customers.DocumentRef(ctx, customer.ID)
		if err != nil {
			return err
		}
		current, err := r.getInTx(tx, ref, op)
		if err != nil {
			return err
		}
		if current.IsDeleted {
			return pfirestore.NewNotFoundError(op, fmt.Sprintf("customer %s not found", customer.ID))
		}

		if current.Email != customer.Email {
			newRef, err := r.emails.DocumentRef(ctx, customer.Email)
			if err != nil {
				return err
			}
			oldRef, err := r.emails.DocumentRef(ctx, current.Email)
			if err != nil {
				return err
			}
			if err := r.claimEmail(tx, newRef, customer.ID, op); err != nil {
				return err
			}
			if err := tx.Delete(oldRef); err != nil {
				return err
			}
			if err := tx.Set(newRef, emailDocument{CustomerID: customer.ID}); err != nil {
				return err
			}
		}
		return tx.Set(ref, newCustomerDocument(customer))
	})
	return pfirestore.WrapError(op, err)
}

// SoftDelete hides the customer and releases its email for reuse.
func (r *CustomerRepository) SoftDelete(ctx context.Context, customerID string, deletedAt time.Time) error {
	const op = "customers.soft_delete"
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.customers.DocumentRef(ctx, customerID)
		if err != nil {
			return err
		}
		current, err := r.getInTx(tx, ref, op)
		if err != nil {
			return err
		}
		if current.IsDeleted {
			return pfirestore.NewNotFoundError(op, fmt.Sprintf("customer %s not found", customerID))
		}
		emailRef, err := r.emails.DocumentRef(ctx, current.Email)
		if err != nil {
			return err
		}
		if err := tx.Delete(emailRef); err != nil {
			return err
		}
		return tx.Update(ref, softDeleteUpdates(deletedAt))
	})
	return pfirestore.WrapError(op, err)
}

func (r *CustomerRepository) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	doc, err := r.customers.Get(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *CustomerRepository) FindByEmail(ctx context.Context, email string) (domain.Customer, error) {
	claim, err := r.emails.Get(ctx, email)
	if err != nil {
		return domain.Customer{}, err
	}
	return r.FindByID(ctx, claim.Data.CustomerID)
}

func (r *CustomerRepository) FindByIDs(ctx context.Context, customerIDs []string) (map[string]domain.Customer, error) {
	found := make(map[string]domain.Customer, len(customerIDs))
	if len(customerIDs) == 0 {
		return found, nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	refs := make([]*firestore.DocumentRef, 0, len(customerIDs))
	for _, id := range customerIDs {
		ref, err := r.customers.DocumentRef(ctx, id)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("customers.get_all", err)
	}
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		doc, err := r.customers.Decode(ctx, snap)
		if err != nil {
			return nil, fmt.Errorf("decode customer %s: %w", snap.Ref.ID, err)
		}
		found[doc.ID] = doc.Data.toDomain(doc.ID)
	}
	return found, nil
}

func (r *CustomerRepository) List(ctx context.Context, filter repositories.CustomerListFilter) (domain.OffsetPage[domain.Customer], error) {
	where := func(q firestore.Query) firestore.Query {
		q = q.Where("isDeleted", "==", false)
		if email := strings.TrimSpace(filter.Email); email != "" {
			q = q.Where("email", "==", email)
		}
		return q
	}

	page := filter.Pagination
	sortField, ok := customerSortFields[page.SortBy]
	if !ok {
		sortField = "createdAt"
	}
	direction := firestore.Desc
	if page.SortOrder == domain.SortAsc {
		direction = firestore.Asc
	}

	var (
		docs  []pfirestore.Document[customerDocument]
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		docs, err = r.customers.Query(gctx, func(q firestore.Query) firestore.Query {
			q = where(q).OrderBy(sortField, direction)
			if offset := page.Offset(); offset > 0 {
				q = q.Offset(offset)
			}
			if page.Limit > 0 {
				q = q.Limit(page.Limit)
			}
			return q
		})
		return err
	})
	g.Go(func() error {
		var err error
		total, err = r.customers.Count(gctx, where)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.OffsetPage[domain.Customer]{}, err
	}

	items := make([]domain.Customer, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data.toDomain(doc.ID))
	}
	return domain.OffsetPage[domain.Customer]{Items: items, Meta: domain.NewPageMeta(page, total)}, nil
}

// claimEmail fails with a conflict when another customer already owns the email.
func (r *CustomerRepository) claimEmail(tx *firestore.Transaction, emailRef *firestore.DocumentRef, customerID, op string) error {
	snap, err := tx.Get(emailRef)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return err
	}
	var claim emailDocument
	if err := snap.DataTo(&claim); err != nil {
		return fmt.Errorf("decode email claim %s: %w", emailRef.ID, err)
	}
	if claim.CustomerID != customerID {
		return pfirestore.NewConflictError(op, fmt.Sprintf("email %s already belongs to another customer", emailRef.ID))
	}
	return nil
}

func (r *CustomerRepository) getInTx(tx *firestore.Transaction, ref *firestore.DocumentRef, op string) (customerDocument, error) {
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return customerDocument{}, pfirestore.NewNotFoundError(op, fmt.Sprintf("customer %s not found", ref.ID))
		}
		return customerDocument{}, err
	}
	var doc customerDocument
	if err := snap.DataTo(&doc); err != nil {
		return customerDocument{}, fmt.Errorf("decode customer %s: %w", ref.ID, err)
	}
	return doc, nil
}

type customerDocument struct {
	FullName    string     `firestore:"fullName"`
	Email       string     `firestore:"email"`
	Phone       string     `firestore:"phone"`
	CompanyName string     `firestore:"companyName"`
	Address     string     `firestore:"address"`
	IsDeleted   bool       `firestore:"isDeleted"`
	DeletedAt   *time.Time `firestore:"deletedAt,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt"`
}

type emailDocument struct {
	CustomerID string `firestore:"customerId"`
}

func newCustomerDocument(c domain.Customer) customerDocument {
	return customerDocument{
		FullName:    c.FullName,
		Email:       c.Email,
		Phone:       c.Phone,
		CompanyName: c.CompanyName,
		Address:     c.Address,
		IsDeleted:   c.IsDeleted,
		DeletedAt:   utcPtr(c.DeletedAt),
		CreatedAt:   c.CreatedAt.UTC(),
		UpdatedAt:   c.UpdatedAt.UTC(),
	}
}

func (d customerDocument) toDomain(id string) domain.Customer {
	return domain.Customer{
		ID:          id,
		FullName:    d.FullName,
		Email:       d.Email,
		Phone:       d.Phone,
		CompanyName: d.CompanyName,
		Address:     d.Address,
		IsDeleted:   d.IsDeleted,
		DeletedAt:   d.DeletedAt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}
