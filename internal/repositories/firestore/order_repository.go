package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/nax-handle/crm-backend/internal/domain"
	pfirestore "github.com/nax-handle/crm-backend/internal/platform/firestore"
	"github.com/nax-handle/crm-backend/internal/repositories"
)

const ordersCollection = "orders"

// Bulk deletes read and write up to 500 documents in a single transaction.
const (
	bulkDeleteTxAttempts = 3
	bulkDeleteTxTimeout  = 45 * time.Second
)

var orderSortFields = map[string]string{
	"createdAt":   "createdAt",
	"updatedAt":   "updatedAt",
	"totalAmount": "totalAmountValue",
}

// OrderRepository stores orders in the "orders" collection keyed by order id.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	facts    *pfirestore.BaseRepository[factDocument]
}

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
		facts:    pfirestore.NewBaseRepository[factDocument](provider, ordersCollection, nil, nil),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order insert: id is required")
	}
	return r.orders.Create(ctx, order.ID, newOrderDocument(order))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *OrderRepository) TransitionStatus(ctx context.Context, transition repositories.OrderTransition) (domain.Order, error) {
	const op = "orders.transition"
	var updated domain.Order

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, transition.OrderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NewNotFoundError(op, fmt.Sprintf("order %s not found", transition.OrderID))
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", transition.OrderID, err)
		}
		if doc.IsDeleted {
			return pfirestore.NewConflictError(op, fmt.Sprintf("order %s was deleted", transition.OrderID))
		}
		if doc.Status != string(transition.Expected) {
			return pfirestore.NewConflictError(op, fmt.Sprintf("order %s status is %s, expected %s", transition.OrderID, doc.Status, transition.Expected))
		}

		doc.Status = string(transition.Target)
		doc.UpdatedAt = transition.UpdatedAt.UTC()
		updates := []firestore.Update{
			{Path: "status", Value: doc.Status},
			{Path: "updatedAt", Value: doc.UpdatedAt},
		}
		if transition.CompletedAt != nil {
			completed := transition.CompletedAt.UTC()
			doc.CompletedAt = &completed
			updates = append(updates, firestore.Update{Path: "completedAt", Value: completed})
		}
		if err := tx.Update(ref, updates); err != nil {
			return err
		}

		updated, err = doc.toDomain(transition.OrderID)
		return err
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError(op, err)
	}
	return updated, nil
}

func (r *OrderRepository) SoftDelete(ctx context.Context, orderID string, expected domain.OrderStatus, deletedAt time.Time) error {
	const op = "orders.soft_delete"
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NewNotFoundError(op, fmt.Sprintf("order %s not found", orderID))
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		if doc.IsDeleted || doc.Status != string(expected) {
			return pfirestore.NewConflictError(op, fmt.Sprintf("order %s changed before delete", orderID))
		}
		return tx.Update(ref, softDeleteUpdates(deletedAt))
	})
	return pfirestore.WrapError(op, err)
}

// BulkSoftDelete reads every listed order inside one transaction before writing, as Firestore
// requires, and deletes only the pending ones.
func (r *OrderRepository) BulkSoftDelete(ctx context.Context, orderIDs []string, deletedAt time.Time) (repositories.BulkDeleteResult, error) {
	const op = "orders.bulk_soft_delete"
	var result repositories.BulkDeleteResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.BulkDeleteResult{}
		refs := make([]*firestore.DocumentRef, 0, len(orderIDs))
		for _, id := range orderIDs {
			ref, err := r.orders.DocumentRef(ctx, id)
			if err != nil {
				return err
			}
			refs = append(refs, ref)
		}

		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}

		var deletable []*firestore.DocumentRef
		for i, snap := range snaps {
			if !snap.Exists() {
				result.Skipped = append(result.Skipped, orderIDs[i])
				continue
			}
			var doc orderDocument
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode order %s: %w", orderIDs[i], err)
			}
			if doc.IsDeleted || doc.Status != string(domain.OrderStatusPending) {
				result.Skipped = append(result.Skipped, orderIDs[i])
				continue
			}
			deletable = append(deletable, refs[i])
			result.Deleted = append(result.Deleted, orderIDs[i])
		}

		for _, ref := range deletable {
			if err := tx.Update(ref, softDeleteUpdates(deletedAt)); err != nil {
				return err
			}
		}
		return nil
	}, pfirestore.WithTxAttempts(bulkDeleteTxAttempts), pfirestore.WithTxTimeout(bulkDeleteTxTimeout))
	if err != nil {
		return repositories.BulkDeleteResult{}, pfirestore.WrapError(op, err)
	}
	return result, nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.OffsetPage[domain.Order], error) {
	page := filter.Pagination
	if strings.Contains(filter.Search, "/") {
		return domain.OffsetPage[domain.Order]{Items: []domain.Order{}, Meta: domain.NewPageMeta(page, 0)}, nil
	}

	coll, err := r.orders.CollectionRef(ctx)
	if err != nil {
		return domain.OffsetPage[domain.Order]{}, err
	}
	where := orderFilterBuilder(coll, filter)

	sortField, ok := orderSortFields[page.SortBy]
	if !ok {
		sortField = "createdAt"
	}
	direction := firestore.Desc
	if page.SortOrder == domain.SortAsc {
		direction = firestore.Asc
	}

	var (
		docs  []pfirestore.Document[orderDocument]
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		docs, err = r.orders.Query(gctx, func(q firestore.Query) firestore.Query {
			q = where(q).OrderBy(sortField, direction).OrderBy(firestore.DocumentID, direction)
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
		total, err = r.orders.Count(gctx, where)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.OffsetPage[domain.Order]{}, err
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		order, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return domain.OffsetPage[domain.Order]{}, err
		}
		items = append(items, order)
	}
	return domain.OffsetPage[domain.Order]{
		Items: items,
		Meta:  domain.NewPageMeta(page, total),
	}, nil
}

func (r *OrderRepository) StreamFacts(ctx context.Context, query repositories.FactQuery, fn func(domain.OrderFact) error) error {
	return r.facts.Stream(ctx, func(q firestore.Query) firestore.Query {
		q = q.Select("status", "totalAmount", "createdAt").Where("isDeleted", "==", false)
		if !query.From.IsZero() {
			q = q.Where("createdAt", ">=", query.From.UTC())
		}
		if !query.To.IsZero() {
			op := "<"
			if query.ToInclusive {
				op = "<="
			}
			q = q.Where("createdAt", op, query.To.UTC())
		}
		switch len(query.Statuses) {
		case 0:
		case 1:
			q = q.Where("status", "==", string(query.Statuses[0]))
		default:
			q = q.Where("status", "in", statusValues(query.Statuses))
		}
		return q
	}, func(doc pfirestore.Document[factDocument]) error {
		amount, err := decimal.NewFromString(doc.Data.TotalAmount)
		if err != nil {
			return fmt.Errorf("order %s: parse totalAmount: %w", doc.ID, err)
		}
		return fn(domain.OrderFact{
			Status:      domain.OrderStatus(doc.Data.Status),
			TotalAmount: amount,
			CreatedAt:   doc.Data.CreatedAt,
		})
	})
}

// orderFilterBuilder returns the shared where-clause of the page and count queries.
func orderFilterBuilder(coll *firestore.CollectionRef, filter repositories.OrderListFilter) pfirestore.QueryBuilder {
	return func(q firestore.Query) firestore.Query {
		q = q.Where("isDeleted", "==", false)
		switch len(filter.Status) {
		case 0:
		case 1:
			q = q.Where("status", "==", string(filter.Status[0]))
		default:
			q = q.Where("status", "in", statusValues(filter.Status))
		}
		if filter.OrderType != "" {
			q = q.Where("orderType", "==", string(filter.OrderType))
		}
		if id := strings.TrimSpace(filter.CustomerID); id != "" {
			q = q.Where("customerId", "==", id)
		}
		if from := filter.TotalAmount.From; from != nil {
			q = q.Where("totalAmountValue", ">=", from.InexactFloat64())
		}
		if to := filter.TotalAmount.To; to != nil {
			q = q.Where("totalAmountValue", "<=", to.InexactFloat64())
		}
		if from := filter.CreatedAt.From; from != nil {
			q = q.Where("createdAt", ">=", from.UTC())
		}
		if to := filter.CreatedAt.To; to != nil {
			q = q.Where("createdAt", "<=", to.UTC())
		}
		if search := strings.TrimSpace(filter.Search); search != "" {
			q = q.WhereEntity(firestore.OrFilter{Filters: []firestore.EntityFilter{
				firestore.PropertyFilter{Path: firestore.DocumentID, Operator: "==", Value: coll.Doc(search)},
				firestore.PropertyFilter{Path: "customerId", Operator: "==", Value: search},
			}})
		}
		return q
	}
}

func statusValues(statuses []domain.OrderStatus) []string {
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}
	return values
}

func softDeleteUpdates(deletedAt time.Time) []firestore.Update {
	at := deletedAt.UTC()
	return []firestore.Update{
		{Path: "isDeleted", Value: true},
		{Path: "deletedAt", Value: at},
		{Path: "updatedAt", Value: at},
	}
}

// orderDocument keeps the exact amount as a decimal string; totalAmountValue only serves range
// filters and sorting.
type orderDocument struct {
	CustomerID       string     `firestore:"customerId"`
	OrderType        string     `firestore:"orderType"`
	Status           string     `firestore:"status"`
	TotalAmount      string     `firestore:"totalAmount"`
	TotalAmountValue float64    `firestore:"totalAmountValue"`
	Description      string     `firestore:"description"`
	IsDeleted        bool       `firestore:"isDeleted"`
	DeletedAt        *time.Time `firestore:"deletedAt,omitempty"`
	CompletedAt      *time.Time `firestore:"completedAt,omitempty"`
	CreatedAt        time.Time  `firestore:"createdAt"`
	UpdatedAt        time.Time  `firestore:"updatedAt"`
}

type factDocument struct {
	Status      string    `firestore:"status"`
	TotalAmount string    `firestore:"totalAmount"`
	CreatedAt   time.Time `firestore:"createdAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	return orderDocument{
		CustomerID:       order.CustomerID,
		OrderType:        string(order.OrderType),
		Status:           string(order.Status),
		TotalAmount:      order.TotalAmount.String(),
		TotalAmountValue: order.TotalAmount.InexactFloat64(),
		Description:      order.Description,
		IsDeleted:        order.IsDeleted,
		DeletedAt:        utcPtr(order.DeletedAt),
		CompletedAt:      utcPtr(order.CompletedAt),
		CreatedAt:        order.CreatedAt.UTC(),
		UpdatedAt:        order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	amount, err := decimal.NewFromString(d.TotalAmount)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: parse totalAmount: %w", id, err)
	}
	return domain.Order{
		ID:          id,
		CustomerID:  d.CustomerID,
		OrderType:   domain.OrderType(d.OrderType),
		Status:      domain.OrderStatus(d.Status),
		TotalAmount: amount,
		Description: d.Description,
		IsDeleted:   d.IsDeleted,
		DeletedAt:   d.DeletedAt,
		CompletedAt: d.CompletedAt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
