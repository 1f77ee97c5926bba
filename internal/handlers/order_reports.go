package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nax-handle/crm-backend/internal/platform/httpx"
	"github.com/nax-handle/crm-backend/internal/services"
)

type revenuePointPayload struct {
	BucketIndex int             `json:"bucketIndex"`
	BucketStart string          `json:"bucketStart"`
	Revenue     decimal.Decimal `json:"revenue"`
}

type revenueSeriesResponse struct {
	Range       string                `json:"range"`
	Unit        string                `json:"unit"`
	From        string                `json:"from"`
	To          string                `json:"to"`
	BucketCount int                   `json:"bucketCount"`
	Sparse      bool                  `json:"sparse,omitempty"`
	Points      []revenuePointPayload `json:"points"`
}

type statusBreakdownPayload struct {
	Status string          `json:"status"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type overviewResponse struct {
	From             string                   `json:"from"`
	To               string                   `json:"to"`
	TotalOrders      int                      `json:"totalOrders"`
	TotalAmount      decimal.Decimal          `json:"totalAmount"`
	TotalRevenue     decimal.Decimal          `json:"totalRevenue"`
	CompletedCount   int                      `json:"completedCount"`
	CompletedAmount  decimal.Decimal          `json:"completedAmount"`
	InProgressCount  int                      `json:"inProgressCount"`
	InProgressAmount decimal.Decimal          `json:"inProgressAmount"`
	CancelledCount   int                      `json:"cancelledCount"`
	ByStatus         []statusBreakdownPayload `json:"byStatus"`
}

type exportResponse struct {
	Object    string `json:"object"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt"`
	Rows      int    `json:"rows"`
	Truncated bool   `json:"truncated"`
}

func (h *OrderHandlers) getChart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.analytics == nil {
		writeAnalyticsUnavailable(ctx, w)
		return
	}

	series, err := h.analytics.GetRevenueSeries(ctx, strings.TrimSpace(r.URL.Query().Get("range")))
	if err != nil {
		writeAnalyticsError(ctx, w, err)
		return
	}

	points := make([]revenuePointPayload, 0, len(series.Points))
	for _, p := range series.Points {
		points = append(points, revenuePointPayload{
			BucketIndex: p.BucketIndex,
			BucketStart: formatLocal(p.BucketStart, h.loc),
			Revenue:     p.Revenue,
		})
	}
	writeJSONResponse(w, http.StatusOK, revenueSeriesResponse{
		Range:       series.Range,
		Unit:        string(series.Unit),
		From:        formatLocal(series.From, h.loc),
		To:          formatLocal(series.To, h.loc),
		BucketCount: series.BucketCount,
		Sparse:      series.Sparse,
		Points:      points,
	})
}

func (h *OrderHandlers) getOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.analytics == nil {
		writeAnalyticsUnavailable(ctx, w)
		return
	}

	query := r.URL.Query()
	rawFrom, rawTo := strings.TrimSpace(query.Get("fromDate")), strings.TrimSpace(query.Get("toDate"))
	if rawFrom == "" || rawTo == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "fromDate and toDate are required", http.StatusBadRequest))
		return
	}
	from, err := parseDayParam(rawFrom, h.loc, false)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "fromDate must be a date (YYYY-MM-DD) or RFC3339 timestamp", http.StatusBadRequest))
		return
	}
	to, err := parseDayParam(rawTo, h.loc, true)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "toDate must be a date (YYYY-MM-DD) or RFC3339 timestamp", http.StatusBadRequest))
		return
	}

	stats, err := h.analytics.GetOverview(ctx, services.OverviewQuery{From: from, To: to})
	if err != nil {
		writeAnalyticsError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOverviewResponse(stats, h.loc))
}

func (h *OrderHandlers) exportOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.exports == nil {
		httpx.WriteError(ctx, w, httpx.NewError("export_unavailable", "order export is not configured", http.StatusServiceUnavailable))
		return
	}

	filter, err := h.parseOrderListFilter(r.URL.Query())
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	export, err := h.exports.ExportOrders(ctx, filter)
	if err != nil {
		if errors.Is(err, services.ErrExportUnavailable) {
			httpx.WriteError(ctx, w, httpx.NewError("export_unavailable", "order export failed, retry later", http.StatusServiceUnavailable))
			return
		}
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, exportResponse{
		Object:    export.Object,
		URL:       export.URL,
		ExpiresAt: formatTime(export.ExpiresAt),
		Rows:      export.Rows,
		Truncated: export.Truncated,
	})
}

func buildOverviewResponse(stats services.OverviewStatistics, loc *time.Location) overviewResponse {
	byStatus := make([]statusBreakdownPayload, 0, len(stats.ByStatus))
	for _, b := range stats.ByStatus {
		byStatus = append(byStatus, statusBreakdownPayload{Status: string(b.Status), Count: b.Count, Amount: b.Amount})
	}
	return overviewResponse{
		From:             formatLocal(stats.From, loc),
		To:               formatLocal(stats.To, loc),
		TotalOrders:      stats.TotalOrders,
		TotalAmount:      stats.TotalAmount,
		TotalRevenue:     stats.TotalRevenue,
		CompletedCount:   stats.CompletedCount,
		CompletedAmount:  stats.CompletedAmount,
		InProgressCount:  stats.InProgressCount,
		InProgressAmount: stats.InProgressAmount,
		CancelledCount:   stats.CancelledCount,
		ByStatus:         byStatus,
	}
}

// formatLocal renders t with the business offset.
func formatLocal(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return t.In(loc).Format(time.RFC3339)
}

func writeAnalyticsUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("analytics_unavailable", "analytics service unavailable", http.StatusServiceUnavailable))
}

func writeAnalyticsError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrAnalyticsInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAnalyticsTimeout):
		httpx.WriteError(ctx, w, httpx.NewError("analytics_timeout", "analytics query timed out, narrow the range or retry", http.StatusGatewayTimeout))
	case errors.Is(err, services.ErrAnalyticsUnavailable):
		writeAnalyticsUnavailable(ctx, w)
	default:
		httpx.WriteError(ctx, w, httpx.NewError("analytics_error", "internal server error", http.StatusInternalServerError))
	}
}
