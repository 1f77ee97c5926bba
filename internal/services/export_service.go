package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/nax-handle/crm-backend/internal/domain"
)

const (
	defaultExportMaxRows = 5000
	defaultExportURLTTL  = 15 * time.Minute
	exportTimeLayout     = "2006-01-02 15:04"
)

// ErrExportUnavailable indicates exports are not configured or the upload failed.
var ErrExportUnavailable = errors.New("export: unavailable")

var orderExportHeader = []string{
	"Order ID", "Customer Name", "Customer Email", "Order Type", "Status",
	"Total Amount", "Description", "Created Date", "Updated Date",
}

// ExportServiceDeps bundles collaborators required to construct the export service.
type ExportServiceDeps struct {
	Orders   OrderService
	Uploader ObjectUploader
	// Location renders timestamps in business-local time.
	Location    *time.Location
	MaxRows     int
	URLTTL      time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type exportService struct {
	orders   OrderService
	uploader ObjectUploader
	loc      *time.Location
	maxRows  int
	ttl      time.Duration
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewExportService wires dependencies into a concrete ExportService implementation. A nil
// uploader yields a service whose exports fail with ErrExportUnavailable.
func NewExportService(deps ExportServiceDeps) (ExportService, error) {
	if deps.Orders == nil {
		return nil, errors.New("export service: order service is required")
	}
	svc := &exportService{
		orders:   deps.Orders,
		uploader: deps.Uploader,
		loc:      deps.Location,
		maxRows:  deps.MaxRows,
		ttl:      deps.URLTTL,
		clock:    deps.Clock,
		newID:    deps.IDGenerator,
		logger:   deps.Logger,
	}
	if svc.loc == nil {
		svc.loc = time.UTC
	}
	if svc.maxRows <= 0 {
		svc.maxRows = defaultExportMaxRows
	}
	if svc.ttl <= 0 {
		svc.ttl = defaultExportURLTTL
	}
	if svc.clock == nil {
		svc.clock = time.Now
	}
	if svc.newID == nil {
		svc.newID = func() string { return ulid.Make().String() }
	}
	if svc.logger == nil {
		svc.logger = func(context.Context, string, map[string]any) {}
	}
	return svc, nil
}

func (s *exportService) ExportOrders(ctx context.Context, filter OrderListFilter) (OrderExport, error) {
	if s.uploader == nil {
		return OrderExport{}, fmt.Errorf("%w: no export bucket configured", ErrExportUnavailable)
	}

	filter.Pagination = domain.PageRequest{
		Page:      1,
		Limit:     s.maxRows,
		SortBy:    filter.Pagination.SortBy,
		SortOrder: filter.Pagination.SortOrder,
	}
	page, err := s.orders.ListOrders(ctx, filter)
	if err != nil {
		return OrderExport{}, err
	}

	data, err := s.renderCSV(page.Items)
	if err != nil {
		return OrderExport{}, fmt.Errorf("export: render csv: %w", err)
	}

	now := s.clock().In(s.loc)
	object := fmt.Sprintf("exports/orders/%s/orders-export-%s.csv", now.Format("2006/01/02"), strings.ToLower(s.newID()))
	if err := s.uploader.Upload(ctx, object, "text/csv; charset=utf-8", data); err != nil {
		return OrderExport{}, fmt.Errorf("%w: upload: %v", ErrExportUnavailable, err)
	}
	url, err := s.uploader.SignedURL(ctx, object, s.ttl)
	if err != nil {
		return OrderExport{}, fmt.Errorf("%w: sign url: %v", ErrExportUnavailable, err)
	}

	export := OrderExport{
		Object:    object,
		URL:       url,
		ExpiresAt: now.Add(s.ttl).UTC(),
		Rows:      len(page.Items),
		Truncated: page.Meta.Total > len(page.Items),
	}
	s.logger(ctx, "order.export.created", map[string]any{
		"object":    object,
		"rows":      export.Rows,
		"truncated": export.Truncated,
	})
	return export, nil
}

func (s *exportService) renderCSV(orders []Order) ([]byte, error) {
	var buf bytes.Buffer
	// UTF-8 BOM so spreadsheet tools detect the encoding of Vietnamese names.
	buf.WriteString("\ufeff")
	w := csv.NewWriter(&buf)
	if err := w.Write(orderExportHeader); err != nil {
		return nil, err
	}
	for _, order := range orders {
		var name, email string
		if order.Customer != nil {
			name, email = order.Customer.FullName, order.Customer.Email
		}
		record := []string{
			order.ID,
			neutralizeFormula(name),
			neutralizeFormula(email),
			string(order.OrderType),
			string(order.Status),
			order.TotalAmount.StringFixed(2),
			neutralizeFormula(order.Description),
			order.CreatedAt.In(s.loc).Format(exportTimeLayout),
			order.UpdatedAt.In(s.loc).Format(exportTimeLayout),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// neutralizeFormula prefixes cells that spreadsheet applications would evaluate.
func neutralizeFormula(value string) string {
	if value != "" && strings.ContainsRune("=+-@", rune(value[0])) {
		return "'" + value
	}
	return value
}
