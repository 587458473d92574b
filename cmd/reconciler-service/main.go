package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jcmexdev/payment-reconciler/internal/pkg/cache"
	"github.com/jcmexdev/payment-reconciler/internal/pkg/config"
	"github.com/jcmexdev/payment-reconciler/internal/pkg/metrics"
	"github.com/jcmexdev/payment-reconciler/internal/pkg/telemetry"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/adapters/kafka"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/adapters/merchant"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/adapters/postgres"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/adapters/provider"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/adapters/sqlite"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/app"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/estimate"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/infra/grpcx"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/infra/httpx"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/ports"
	reconlogsqlite "github.com/jcmexdev/payment-reconciler/internal/reconciler/reconlog/sqlite"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/totals"
)

// store is what the service needs from either persistence driver.
type store interface {
	ports.CartStore
	ports.OrderStore
	ports.OrderSubmitter
	Ping(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", os.Getenv("RECONCILER_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	telemetry.InitLogger(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("reconciler service stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracer(ctx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Error("tracer shutdown error", "error", err)
			}
		}()
	}

	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	auditLog, err := reconlogsqlite.Open(cfg.AuditLog.SQLitePath)
	if err != nil {
		return err
	}
	defer auditLog.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	engine := merchant.NewClient(cfg.Merchant.BaseURL, cfg.Merchant.Timeout)
	builder := totals.NewBuilder(engine, totals.Options{
		RegionRequiredCountries: cfg.Totals.RegionRequiredCountries,
		Correction: totals.Correction{
			Enabled: cfg.Totals.CorrectionEnabled,
			Divisor: cfg.Totals.CorrectionDivisor,
		},
		Registry: totals.DefaultRegistry(
			engine.Balance(merchant.ProgramStoreCredit),
			engine.Balance(merchant.ProgramGiftCard),
		),
		Metrics: m,
	})

	hooks := kafka.NewHooksFromClient(kafka.NewClient(cfg.Kafka.Brokers),
		cfg.Kafka.OrderSavedTopic, cfg.Kafka.NotificationTopic)
	if h, ok := hooks.(*kafka.Hooks); ok {
		defer h.Close()
	}

	rec := app.New(app.Deps{
		Carts:     st,
		Orders:    st,
		Submitter: st,
		Fetcher:   provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout),
		Engine:    engine,
		Builder:   builder,
		Hooks:     hooks,
		Log:       auditLog,
	},
		app.WithPaymentMethod(cfg.Payment.MethodCode),
		app.WithFetchAttempts(cfg.Provider.FetchAttempts),
		app.WithPriceFaultTolerance(cfg.Totals.PriceFaultTolerance),
		app.WithMetrics(m),
	)

	kv := cache.NewMemoryCache("reconciler")
	if cfg.Cache.RedisAddr != "" {
		kv = cache.NewRedisCache(cfg.Cache.RedisAddr, "reconciler")
	}
	estimator := estimate.NewEstimator(estimate.NewCache(kv), engine,
		estimate.WithTTLs(cfg.Cache.EstimateTTL, cfg.Cache.AddressTTL),
		estimate.WithMetrics(m),
	)

	handler := httpx.NewHandler(rec, st, st, estimator, app.NewCheckout(st, builder))
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpx.NewRouter(handler, m, metrics.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcSrv, health := grpcx.NewServer()
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPC.Addr, err)
	}
	go grpcx.Watch(ctx, health, 15*time.Second, map[string]grpcx.Check{"store": st.Ping})

	errs := make(chan error, 2)
	go func() {
		slog.Info("ops gRPC server running", "addr", cfg.GRPC.Addr)
		errs <- grpcSrv.Serve(lis)
	}()
	go func() {
		slog.Info("reconciler HTTP server running", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errs:
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	grpcSrv.GracefulStop()
	return serveErr
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		s, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
}
