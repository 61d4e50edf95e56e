package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/storefront/internal/adapter/eventbus"
	"github.com/rl1809/storefront/internal/adapter/handler"
	"github.com/rl1809/storefront/internal/adapter/payment"
	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/config"
	"github.com/rl1809/storefront/internal/core/catalog"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/logging"
	"github.com/rl1809/storefront/internal/metrics"
	"github.com/rl1809/storefront/internal/port"
)

func main() {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		zap.L().Fatal("load config", zap.Error(err))
	}

	logger := logging.MustNewLogger(cfg.AppName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server_exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.ContextWithLogger(ctx, logger)

	decimal.MarshalJSONWithoutQuotes = true
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	if cfg.ConfigFile != "" {
		logger.Info("config_loaded", zap.String("file", cfg.ConfigFile))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Initialize relational store
	db, err := sqlx.Open(cfg.DBDriver, cfg.DatabaseDSN())
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return err
	}
	logger.Info("database_connected", zap.String("driver", cfg.DBDriver))

	if cfg.DBMigrate {
		if err := storage.Migrate(ctx, db); err != nil {
			return err
		}
		logger.Info("schema_applied")
	}
	store := storage.NewSQLAdapter(db)

	// Settled-session ledger
	var ledger port.SettlementLedger
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		ledger = storage.NewRedisLedger(rdb, cfg.SettlementLedgerTTL)
		logger.Info("redis_connected", zap.String("addr", cfg.RedisAddr))
	} else {
		ledger = storage.NewMemoryLedger(cfg.SettlementLedgerTTL)
		logger.Warn("settlement_ledger_in_memory")
	}

	// Payment provider
	var provider port.PaymentProvider
	if cfg.StripePrivateKey != "" {
		provider = payment.NewStripeAdapter(cfg.StripePrivateKey, cfg.StripeAPIURL, logger)
	} else {
		provider = payment.NewLocalAdapter()
		logger.Warn("payment_provider_local")
	}

	// Settlement events
	var publisher port.EventPublisher
	if cfg.RabbitMQURL != "" {
		rmq, err := eventbus.NewRabbitMQPublisher(eventbus.Config{
			URL:        cfg.RabbitMQURL,
			Exchange:   cfg.SettlementExchange,
			RoutingKey: cfg.SettlementRoutingKey,
		}, logger)
		if err != nil {
			return err
		}
		defer rmq.Close()
		publisher = rmq
	} else {
		publisher = eventbus.NewNopPublisher(logger)
	}

	// Catalog cache
	cache := catalog.NewCache(store, m)
	if _, err := cache.Load(ctx); err != nil {
		return err
	}
	logger.Info("catalog_loaded", zap.Int("products", cache.Len()))

	checkout := service.NewCheckoutService(cache, provider, cfg.Currency, m)
	settlement := service.NewSettlementService(cache, store, ledger, publisher, domain.SettlementMode(cfg.SettlementMode), m)
	urls := cfg.CheckoutURLs()

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryLogger(logger)))
	handler.RegisterStorefrontServer(grpcServer, handler.NewGRPCHandler(store, checkout, settlement, urls))

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(store, cache, checkout, settlement, urls)
	router := httpHandler.Router(
		[]mux.MiddlewareFunc{handler.RequestLogger(logger, m)},
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		logger.Info("grpc_server_listening", zap.String("addr", cfg.GRPCAddr))
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		logger.Info("http_server_listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return cache.Run(gctx, cfg.CatalogRefreshInterval)
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting_down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http_shutdown_failed", zap.Error(err))
		}
		logger.Info("http_server_stopped")

		grpcServer.GracefulStop()
		logger.Info("grpc_server_stopped")
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("connections_closed")
	return nil
}
