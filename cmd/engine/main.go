package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abhijithns29/propchain-engine/internal/config"
	"github.com/abhijithns29/propchain-engine/internal/handler"
	"github.com/abhijithns29/propchain-engine/internal/health"
	"github.com/abhijithns29/propchain-engine/internal/ledger"
	"github.com/abhijithns29/propchain-engine/internal/metrics"
	"github.com/abhijithns29/propchain-engine/internal/model"
	"github.com/abhijithns29/propchain-engine/internal/service"
	"github.com/abhijithns29/propchain-engine/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting land transaction engine")

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.Int("port", cfg.Server.Port),
		zap.String("database_host", cfg.Database.Host),
		zap.String("database_name", cfg.Database.Database),
		zap.String("ledger_endpoint", cfg.Ledger.Endpoint))

	// Initialize metrics
	m := metrics.NewMetrics()
	logger.Info("Metrics initialized")

	// Initialize record store (PostgreSQL)
	recordStore, err := store.NewPostgresRecordStore(
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Database,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to initialize record store", zap.Error(err))
	}
	logger.Info("Record store initialized")

	// Initialize idempotency store (Redis)
	idempotencyStore, err := store.NewRedisIdempotencyStore(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to initialize idempotency store", zap.Error(err))
	}
	logger.Info("Idempotency store initialized")

	// Initialize event outbox on the shared connection pool
	eventOutbox := store.NewPostgresEventOutbox(recordStore.GetPool())
	logger.Info("Event outbox initialized")

	// Initialize certificate blob store
	blobStore, err := store.NewFilesystemBlobStore(cfg.Certificates.Directory, logger)
	if err != nil {
		logger.Fatal("Failed to initialize certificate store", zap.Error(err))
	}
	logger.Info("Certificate store initialized")

	// Initialize chain gateway client
	ledgerClient := ledger.NewRPCClient(
		cfg.Ledger.Endpoint,
		cfg.Ledger.RequestTimeout,
		cfg.Ledger.PollInterval,
		logger,
	)
	logger.Info("Ledger client initialized")

	// Initialize services
	logger.Info("Initializing services")

	workflow := service.NewWorkflow(logger)
	idempotencyService := service.NewIdempotencyService(idempotencyStore, recordStore, 24*time.Hour, logger)
	certificateService := service.NewCertificateService(recordStore, blobStore, logger)

	eventService := service.NewEventService(
		eventOutbox,
		service.PublisherFunc(func(ctx context.Context, event *model.DomainEvent) error {
			logger.Info("Domain event",
				zap.String("event_id", event.EventID),
				zap.String("record_id", event.RecordID),
				zap.String("parcel_id", event.ParcelID),
				zap.String("from", string(event.FromStatus)),
				zap.String("to", string(event.ToStatus)))
			return nil
		}),
		cfg.Events.DispatchInterval,
		m,
		logger,
	)
	eventService.Start()

	var valuationService *service.ValuationService
	if cfg.Valuation.Enabled {
		valuationService = service.NewValuationService(
			cfg.Valuation.Endpoint,
			cfg.Valuation.RequestTimeout,
			m,
			logger,
		)
		logger.Info("Valuation service enabled", zap.String("endpoint", cfg.Valuation.Endpoint))
	}

	coordinatorService := service.NewCoordinatorService(
		workflow,
		recordStore,
		ledgerClient,
		idempotencyService,
		certificateService,
		eventService,
		valuationService,
		cfg.Ledger.SubmitAttempts,
		cfg.Ledger.SubmitBackoffBase,
		cfg.Ledger.ConfirmationTimeout,
		m,
		logger,
	)

	reconciliationService := service.NewReconciliationService(
		recordStore,
		ledgerClient,
		coordinatorService,
		cfg.Reconciliation.Interval,
		cfg.Reconciliation.Grace,
		cfg.Reconciliation.ExtendedDeadline,
		m,
		logger,
	)
	reconciliationService.Start()

	logger.Info("All services initialized")

	// Initialize handlers
	healthChecker := health.NewHealthChecker(recordStore, idempotencyStore, ledgerClient, logger)
	transactionHandler := handler.NewTransactionHandler(coordinatorService, logger)
	parcelHandler := handler.NewParcelHandler(coordinatorService, logger)
	router := handler.NewRouter(transactionHandler, parcelHandler, healthChecker)

	logger.Info("Handlers initialized")

	// Start metrics server
	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle(cfg.Metrics.Path, promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			logger.Info("Starting metrics server", zap.String("address", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	// Start API server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	apiServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("Starting API server", zap.String("address", addr))

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- apiServer.ListenAndServe()
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("Server error", zap.Error(err))
	case sig := <-sigChan:
		logger.Info("Received signal", zap.String("signal", sig.String()))
	}

	// Graceful shutdown
	logger.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown timeout", zap.Error(err))
	}

	// Stop background workers and drain in-flight confirmation waits
	reconciliationService.Stop()
	eventService.Stop()
	coordinatorService.Wait()

	// Close stores
	recordStore.Close()
	idempotencyStore.Close()

	logger.Info("Engine stopped")
}
