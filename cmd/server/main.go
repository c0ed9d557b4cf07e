package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	grpclib "google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	grpcadapter "github.com/simaogato/batchpay-backend/internal/adapter/grpc"
	"github.com/simaogato/batchpay-backend/internal/adapter/ledger/evm"
	"github.com/simaogato/batchpay-backend/internal/adapter/ledger/simulated"
	"github.com/simaogato/batchpay-backend/internal/adapter/metrics"
	"github.com/simaogato/batchpay-backend/internal/adapter/notify"
	"github.com/simaogato/batchpay-backend/internal/adapter/repository/postgres"
	"github.com/simaogato/batchpay-backend/internal/config"
	"github.com/simaogato/batchpay-backend/internal/domain"
	"github.com/simaogato/batchpay-backend/internal/usecase/amount"
	"github.com/simaogato/batchpay-backend/internal/usecase/reconcile"
	"github.com/simaogato/batchpay-backend/internal/usecase/workflow"
)

// ledger is everything the workflow needs from a ledger adapter
type ledger interface {
	domain.LedgerQuery
	domain.LedgerWriter
	domain.Wallet
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 1. Ledger
	ldg, addresses, err := setupLedger(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize ledger", zap.Error(err))
	}

	// 2. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// 3. Persistence (optional) and reconciliation of writes left open by a previous run
	deps := workflow.Deps{
		Network:   cfg.Network,
		Ledger:    ldg,
		Writer:    ldg,
		Wallet:    ldg,
		Addresses: addresses,
		Sink:      notify.NewLogSink(logger.Named("notifications")),
		Metrics:   collector,
		Logger:    logger,
	}

	if cfg.DBEnabled {
		db, err := setupDatabase(ctx, cfg.DBConnStr)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		deps.Completions = postgres.NewCompletionRepository(db)
		deps.Records = postgres.NewTransactionRecordRepository(db)

		result, err := reconcile.NewReconciler(deps.Records, ldg, logger).Reconcile(ctx)
		if err != nil {
			logger.Fatal("failed to reconcile transaction records", zap.Error(err))
		}
		logger.Info("open transaction records reconciled",
			zap.Int("checked", result.Checked),
			zap.Int("confirmed", result.Confirmed),
			zap.Int("failed", result.Failed),
			zap.Int("pending", result.Pending),
			zap.Int("errors", result.Errors))
	} else {
		logger.Warn("database disabled: completions and transaction records are not persisted")
	}

	// 4. gRPC server
	grpcServer := grpclib.NewServer(
		grpclib.ChainUnaryInterceptor(
			grpcadapter.MetricsInterceptor(collector, logger),
			grpcadapter.AuthInterceptor(cfg.APIToken),
		),
	)
	batchServer := grpcadapter.NewServer(ctx, deps, logger)
	grpcadapter.RegisterBatchPaymentServiceServer(grpcServer, batchServer)
	reflection.Register(grpcServer)

	go batchServer.RunEviction(ctx, cfg.SessionIdleTTL)

	lis, err := net.Listen("tcp", cfg.GRPCPort)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.GRPCPort), zap.Error(err))
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("failed to serve gRPC server", zap.Error(err))
		}
	}()

	// 5. Metrics endpoint
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	metricsServer := &http.Server{
		Addr:              cfg.MetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server listening", zap.String("addr", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", zap.Error(err))
	}

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")
}

// setupLedger builds the EVM client or a funded simulated ledger
func setupLedger(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (ledger, evm.AddressValidator, error) {
	if cfg.LedgerMode == config.LedgerModeEVM {
		client, err := evm.Dial(ctx, evm.Config{
			RPCURL:             cfg.RPCURL,
			ChainID:            cfg.Network.ChainID,
			SettlementContract: cfg.Network.SettlementContract,
			PrivateKey:         cfg.SignerPrivateKey,
			PollInterval:       cfg.PollInterval,
		}, logger)
		if err != nil {
			return nil, evm.AddressValidator{}, err
		}
		return client, evm.AddressValidator{}, nil
	}

	sim := simulated.NewLedger(cfg.Network.ChainID, cfg.Network.SettlementContract,
		simulated.WithAccount(cfg.SimulatedSender, cfg.Network.ChainID),
		simulated.WithAutoConfirm(),
		simulated.WithLogger(logger.Named("simulated-ledger")))

	for _, asset := range cfg.Network.Assets {
		funding, err := amount.ToSmallestUnit(cfg.SimulatedFunding, asset.Decimals)
		if err != nil {
			return nil, evm.AddressValidator{}, err
		}
		if asset.IsNative() {
			sim.SetNativeBalance(cfg.SimulatedSender, funding)
		} else {
			sim.SetTokenBalance(asset.Reference(), cfg.SimulatedSender, funding)
		}
	}

	logger.Info("simulated ledger initialized",
		zap.String("sender", cfg.SimulatedSender),
		zap.String("funding", cfg.SimulatedFunding))

	return sim, evm.AddressValidator{}, nil
}

// setupDatabase connects with a short retry while Postgres starts, then applies the schema
func setupDatabase(ctx context.Context, connStr string) (*postgres.DB, error) {
	var db *postgres.DB
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		db, err = postgres.NewDB(connStr)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
