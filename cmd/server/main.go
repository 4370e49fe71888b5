package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/storefront-orders/internal/adapter/events"
	"github.com/rl1809/storefront-orders/internal/adapter/handler"
	"github.com/rl1809/storefront-orders/internal/adapter/payment"
	"github.com/rl1809/storefront-orders/internal/adapter/storage"
	"github.com/rl1809/storefront-orders/internal/config"
	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/core/service"
	"github.com/rl1809/storefront-orders/internal/observability"
	"github.com/rl1809/storefront-orders/internal/port"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.ServiceName, cfg.Env)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.Env, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var cache port.CacheRepository
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, PoolSize: 100})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		cache = storage.NewRedisAdapter(rdb)
		logger.Info("redis_connected", zap.String("addr", cfg.RedisAddr))
	}

	var publisher port.EventPublisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
		logger.Info("kafka_publisher_enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	httpClient := payment.NewHTTPClient(cfg.ProviderTimeout)
	card := payment.NewCardAdapter(
		payment.NewStripeClient(cfg.Card.SecretKey, httpClient, ""),
		cfg.Card.SecretKey, cfg.Card.WebhookSecret, cfg.Card.Currency,
	)
	gateway := payment.NewGatewayAdapter(payment.GatewayOptions{
		ClientID:     cfg.Gateway.ClientID,
		ClientSecret: cfg.Gateway.ClientSecret,
		Production:   cfg.Gateway.Production,
		SecurityCode: cfg.Gateway.SecurityCode,
		AppURL:       cfg.AppURL,
		FrontendURL:  cfg.FrontendURL,
	}, httpClient)
	bank := payment.NewBankTransferAdapter(payment.BankTransferOptions{
		BankName:      cfg.BankTransfer.BankName,
		AccountNumber: cfg.BankTransfer.AccountNumber,
		Recipient:     cfg.BankTransfer.Recipient,
		TitleFormat:   cfg.BankTransfer.TitleFormat,
	})
	for _, a := range []port.PaymentAdapter{card, gateway, bank} {
		if !a.Configured() {
			logger.Warn("payment_provider_not_configured", zap.String("method", a.Method().String()))
		}
	}

	inventory := service.NewInventoryService(logger, metrics)
	discounts := service.NewDiscountEvaluator(store, metrics)
	orders := service.NewOrderService(store, inventory, discounts, publisher, logger, metrics)
	payments, err := service.NewPaymentService(store, []port.PaymentAdapter{card, gateway, bank}, publisher, logger, metrics)
	if err != nil {
		return err
	}
	webhooks := service.NewWebhookReconciler(store, cache, inventory, publisher, logger, metrics)

	httpHandler := handler.NewHTTPHandler(orders, payments, webhooks, discounts, map[domain.PaymentMethod]port.CallbackParser{
		domain.PaymentMethodCard:       card,
		domain.PaymentMethodAltGateway: gateway,
	}, logger)
	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpHandler.Router(handler.RouterConfig{
			JWTSecret:        []byte(cfg.JWTSecret),
			WebhookRateLimit: cfg.WebhookRateLimit,
			Metrics:          metrics,
			MetricsHandler:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpc.NewServer()
	handler.NewGRPCHandler(orders, payments, logger).Register(grpcServer)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("grpc_server_listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		logger.Info("http_server_listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting_down")
	case err := <-errCh:
		logger.Error("server_failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_failed", zap.Error(err))
	}
	grpcServer.GracefulStop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing_shutdown_failed", zap.Error(err))
	}
	logger.Info("stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (port.DatabaseRepository, func(), error) {
	if cfg.StoreDriver == config.StoreMemory {
		mem := storage.NewMemoryAdapter()
		seedDemo(mem)
		logger.Warn("using_memory_store")
		return mem, func() {}, nil
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping mysql: %w", err)
	}

	adapter := storage.NewMySQLAdapter(db)
	if err := adapter.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	logger.Info("mysql_connected")
	return adapter, func() { db.Close() }, nil
}

// seedDemo gives user 1 a cart and a coupon so the memory store is usable
// straight away.
func seedDemo(mem *storage.MemoryAdapter) {
	price := decimal.RequireFromString("49.99")
	productID := mem.AddProduct(domain.Product{SKU: "DEMO-1", Name: "Demo product", Price: price, StockQuantity: 100})
	mem.AddCart(domain.Cart{UserID: 1, Items: []domain.CartItem{{
		ProductID:   productID,
		ProductName: "Demo product",
		ProductSKU:  "DEMO-1",
		Quantity:    2,
		Price:       price,
	}}})
	mem.AddCoupon(domain.Coupon{
		Code:     "WELCOME10",
		Type:     domain.DiscountPercentage,
		Value:    decimal.NewFromInt(10),
		IsActive: true,
	})
}
