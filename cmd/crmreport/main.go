// Command crmreport prints revenue charts and overview statistics straight from Firestore.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"

	_ "time/tzdata"

	"github.com/nax-handle/crm-backend/internal/platform/config"
	pfirestore "github.com/nax-handle/crm-backend/internal/platform/firestore"
	"github.com/nax-handle/crm-backend/internal/platform/observability"
	"github.com/nax-handle/crm-backend/internal/reporting"
	firestoreRepo "github.com/nax-handle/crm-backend/internal/repositories/firestore"
	"github.com/nax-handle/crm-backend/internal/services"
)

var errUsage = errors.New("usage")

func main() {
	var (
		rangeToken = flag.String("range", "7d", "chart range: 1d, 7d, 1m, 1y or all")
		overview   = flag.Bool("overview", false, "print overview statistics instead of the revenue chart")
		fromDate   = flag.String("from", "", "overview start date (YYYY-MM-DD, business timezone)")
		toDate     = flag.String("to", "", "overview end date (YYYY-MM-DD, business timezone)")
		envFile    = flag.String("env", ".env", "optional dotenv file")
	)
	flag.Parse()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	logger := baseLogger.Named("crmreport")

	err = run(logger, reportOptions{
		rangeToken: *rangeToken,
		overview:   *overview,
		from:       *fromDate,
		to:         *toDate,
		envFile:    *envFile,
	}, os.Stdout)
	_ = baseLogger.Sync()

	switch {
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	case err != nil:
		logger.Error("report failed", zap.Error(err))
		os.Exit(1)
	}
}

type reportOptions struct {
	rangeToken string
	overview   bool
	from       string
	to         string
	envFile    string
}

func run(logger *zap.Logger, opts reportOptions, out io.Writer) error {
	ctx := observability.WithLogger(context.Background(), logger)
	cfg, err := config.Load(ctx, config.WithEnvFile(opts.envFile))
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	loc, err := cfg.Reporting.Location()
	if err != nil {
		return fmt.Errorf("resolve business timezone: %w", err)
	}

	provider := pfirestore.NewProvider(cfg.Firestore)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	orders, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		return fmt.Errorf("initialise order repository: %w", err)
	}
	analytics, err := services.NewAnalyticsService(services.AnalyticsServiceDeps{
		Orders:   orders,
		Resolver: reporting.NewResolver(loc, nil),
		Timeout:  cfg.Reporting.AnalyticsTimeout,
		Logger:   observability.EventLogger(logger, "analytics event"),
	})
	if err != nil {
		return fmt.Errorf("initialise analytics service: %w", err)
	}

	if opts.overview {
		query, err := overviewQuery(opts.from, opts.to, loc)
		if err != nil {
			return err
		}
		stats, err := analytics.GetOverview(ctx, query)
		if err != nil {
			return fmt.Errorf("overview: %w", err)
		}
		return renderOverview(out, stats, loc)
	}

	series, err := analytics.GetRevenueSeries(ctx, opts.rangeToken)
	if err != nil {
		return fmt.Errorf("revenue series: %w", err)
	}
	return renderSeries(out, series, loc)
}

func overviewQuery(from, to string, loc *time.Location) (services.OverviewQuery, error) {
	if from == "" || to == "" {
		return services.OverviewQuery{}, fmt.Errorf("%w: -overview requires -from and -to", errUsage)
	}
	start, err := time.ParseInLocation(time.DateOnly, from, loc)
	if err != nil {
		return services.OverviewQuery{}, fmt.Errorf("%w: invalid -from: %v", errUsage, err)
	}
	end, err := time.ParseInLocation(time.DateOnly, to, loc)
	if err != nil {
		return services.OverviewQuery{}, fmt.Errorf("%w: invalid -to: %v", errUsage, err)
	}
	return services.OverviewQuery{
		From: reporting.StartOfDay(start, loc),
		To:   reporting.EndOfDay(end, loc),
	}, nil
}

func renderSeries(w io.Writer, series services.RevenueSeries, loc *time.Location) error {
	fmt.Fprintf(w, "range %s (%s buckets) %s -> %s\n", series.Range, series.Unit,
		series.From.In(loc).Format(time.RFC3339), series.To.In(loc).Format(time.RFC3339))

	table := tablewriter.NewWriter(w)
	table.Header("#", "Bucket start", "Revenue")
	for _, p := range series.Points {
		row := []string{fmt.Sprint(p.BucketIndex), p.BucketStart.In(loc).Format(time.RFC3339), p.Revenue.StringFixed(2)}
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderOverview(w io.Writer, stats services.OverviewStatistics, loc *time.Location) error {
	fmt.Fprintf(w, "overview %s -> %s\n", stats.From.In(loc).Format(time.RFC3339), stats.To.In(loc).Format(time.RFC3339))

	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Count", "Amount")
	rows := [][]string{
		{"total", fmt.Sprint(stats.TotalOrders), stats.TotalAmount.StringFixed(2)},
		{"revenue", fmt.Sprint(stats.CompletedCount), stats.TotalRevenue.StringFixed(2)},
		{"in progress", fmt.Sprint(stats.InProgressCount), stats.InProgressAmount.StringFixed(2)},
		{"cancelled", fmt.Sprint(stats.CancelledCount), "-"},
	}
	for _, b := range stats.ByStatus {
		rows = append(rows, []string{"status " + string(b.Status), fmt.Sprint(b.Count), b.Amount.StringFixed(2)})
	}
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return err
		}
	}
	return table.Render()
}
