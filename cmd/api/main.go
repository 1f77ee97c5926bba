package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	// Embedded zone database so Asia/Ho_Chi_Minh resolves on minimal container images.
	_ "time/tzdata"

	"github.com/nax-handle/crm-backend/internal/handlers"
	"github.com/nax-handle/crm-backend/internal/platform/auth"
	"github.com/nax-handle/crm-backend/internal/platform/config"
	pfirestore "github.com/nax-handle/crm-backend/internal/platform/firestore"
	"github.com/nax-handle/crm-backend/internal/platform/httpx"
	"github.com/nax-handle/crm-backend/internal/platform/jobs"
	"github.com/nax-handle/crm-backend/internal/platform/observability"
	platformstorage "github.com/nax-handle/crm-backend/internal/platform/storage"
	"github.com/nax-handle/crm-backend/internal/reporting"
	firestoreRepo "github.com/nax-handle/crm-backend/internal/repositories/firestore"
	"github.com/nax-handle/crm-backend/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load(ctx)
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	loc, err := cfg.Reporting.Location()
	if err != nil {
		logger.Fatal("failed to resolve business timezone", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	customerRepo, err := firestoreRepo.NewCustomerRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise customer repository", zap.Error(err))
	}

	metrics, err := observability.NewMetrics(nil)
	if err != nil {
		logger.Fatal("failed to register metrics", zap.Error(err))
	}

	readiness := []handlers.HealthOption{
		handlers.WithHealthBuildInfo(buildInfoFromEnv(startedAt)),
		handlers.WithReadinessCheck("firestore", func(ctx context.Context) error {
			_, err := firestoreClient.Collection("orders").Limit(1).Documents(ctx).Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		}),
	}

	var events services.OrderEventPublisher
	if topicName := strings.TrimSpace(cfg.PubSub.OrderEventsTopic); topicName != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(topicName)
		publisher, err := jobs.NewPubSubOrderEventPublisher(topic, cfg.PubSub.EventSource)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		defer publisher.Stop()
		events = publisher
		readiness = append(readiness, handlers.WithReadinessCheck("pubsub", func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s does not exist", topicName)
			}
			return nil
		}))
	} else {
		logger.Info("order events disabled; no pubsub topic configured")
	}

	var uploader services.ObjectUploader
	if bucketName := strings.TrimSpace(cfg.Storage.ExportsBucket); bucketName != "" {
		var storageOpts []option.ClientOption
		if cfg.Storage.CredentialsFile != "" {
			storageOpts = append(storageOpts, option.WithCredentialsFile(cfg.Storage.CredentialsFile))
		}
		storageClient, err := cloudstorage.NewClient(ctx, storageOpts...)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()

		bucketOpts := []platformstorage.Option{platformstorage.WithSignerEmail(cfg.Storage.SignerEmail)}
		if cfg.Storage.CredentialsFile != "" {
			signer, err := platformstorage.NewKeyFileSigner(cfg.Storage.CredentialsFile)
			if err != nil {
				logger.Fatal("failed to load storage signer key", zap.Error(err))
			}
			bucketOpts = append(bucketOpts, platformstorage.WithSigner(signer))
		}
		bucket, err := platformstorage.NewExportBucket(storageClient, bucketName, bucketOpts...)
		if err != nil {
			logger.Fatal("failed to initialise export bucket", zap.Error(err))
		}
		uploader = bucket
	} else {
		logger.Info("order exports disabled; no export bucket configured")
	}

	customerService, err := services.NewCustomerService(services.CustomerServiceDeps{
		Customers: customerRepo,
		Logger:    observability.EventLogger(logger.Named("customers"), "customer event"),
	})
	if err != nil {
		logger.Fatal("failed to initialise customer service", zap.Error(err))
	}
	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    orderRepo,
		Customers: customerService,
		Events:    events,
		Metrics:   metrics,
		Logger:    observability.EventLogger(logger.Named("orders"), "order event"),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}
	analyticsService, err := services.NewAnalyticsService(services.AnalyticsServiceDeps{
		Orders:   orderRepo,
		Resolver: reporting.NewResolver(loc, nil),
		Timeout:  cfg.Reporting.AnalyticsTimeout,
		Metrics:  metrics,
		Logger:   observability.EventLogger(logger.Named("analytics"), "analytics event"),
	})
	if err != nil {
		logger.Fatal("failed to initialise analytics service", zap.Error(err))
	}
	exportService, err := services.NewExportService(services.ExportServiceDeps{
		Orders:   orderService,
		Uploader: uploader,
		Location: loc,
		MaxRows:  cfg.Storage.ExportMaxRows,
		URLTTL:   cfg.Storage.SignedURLTTL,
		Logger:   observability.EventLogger(logger.Named("exports"), "export event"),
	})
	if err != nil {
		logger.Fatal("failed to initialise export service", zap.Error(err))
	}

	orderHandlers := handlers.NewOrderHandlers(orderService,
		handlers.WithOrderAnalytics(analyticsService),
		handlers.WithOrderExports(exportService),
		handlers.WithBusinessLocation(loc),
		handlers.WithReportingMiddlewares(httpx.RateLimit(cfg.Reporting.RatePerSecond, cfg.Reporting.Burst)),
	)
	customerHandlers := handlers.NewCustomerHandlers(customerService)

	projectID := cfg.Firestore.ProjectID
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	var opts []handlers.Option
	opts = append(opts, handlers.WithMiddlewares(middlewares...))
	opts = append(opts, handlers.WithHealthHandlers(handlers.NewHealthHandlers(readiness...)))
	opts = append(opts, handlers.WithOrderRoutes(orderHandlers.Routes))
	opts = append(opts, handlers.WithCustomerRoutes(customerHandlers.Routes))

	if cfg.Firebase.AuthEnabled {
		verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
		}
		authenticator := auth.NewAuthenticator(verifier)
		opts = append(opts, handlers.WithAPIMiddlewares(authenticator.RequireRoles(auth.RoleStaff, auth.RoleAdmin)))
	} else {
		logger.Warn("staff authentication disabled; API routes are open")
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("crm api listening", zap.String("timezone", loc.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(os.Getenv("CRM_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("CRM_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(os.Getenv("CRM_ENVIRONMENT"))
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}
