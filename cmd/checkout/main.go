package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/events"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/repository"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/server"
	"github.com/tm-acme-shop/acme-shop-checkout-service/internal/service"

	_ "github.com/lib/pq"
)

func main() {
	if err := run(); err != nil {
		logging.NewLoggerV2("checkout-service").Error("Checkout service stopped with error", logging.Fields{"error": err.Error()})
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Init("checkout-service", logging.Options{
		Level:    cfg.Logging.Level,
		FilePath: cfg.Logging.FilePath,
	})

	logging.Infof("Starting checkout-service on port %d", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]handlers.ReadinessCheck{}

	var (
		orders   repository.OrderStore
		payments repository.PaymentStore
		carts    repository.CartReader
		memory   *repository.MemoryStore
	)

	switch cfg.Database.Driver {
	case config.DriverPostgres:
		db, err := initDatabase(ctx, cfg)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		checks["database"] = db.PingContext

		orders = repository.NewPostgresOrderStore(db, logger)
		payments = repository.NewPostgresPaymentStore(db, logger)
		if cfg.Cart.Driver == config.DriverPostgres {
			carts = repository.NewPostgresCartReader(db, logger)
		}
	default:
		logger.Warn("Using in-memory store; data is lost on restart")
		memory = repository.NewMemoryStore()
		orders, payments = memory, memory
	}

	switch cfg.Cart.Driver {
	case config.DriverHTTP:
		carts = clients.NewHTTPCartClient(cfg.Cart, logger)
	case config.DriverMemory:
		if memory == nil {
			memory = repository.NewMemoryStore()
		}
		for userID, lines := range cfg.Cart.SeedCarts() {
			memory.PutCart(userID, lines)
		}
		logger.Info("Using in-memory carts", logging.Fields{"seeded_users": len(cfg.Cart.Seed)})
		carts = memory
	}

	var orderCache repository.OrderCache
	if cfg.Features.EnableOrderCaching {
		rdb := repository.NewRedisClient(cfg.Redis)
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		orderCache = repository.NewRedisOrderCache(rdb, cfg.Redis.TTL)
	}

	var (
		gateway  service.PaymentGateway
		verifier service.EventVerifier
	)
	switch cfg.Payment.Driver {
	case config.GatewayHTTP:
		c := clients.NewHTTPPaymentClient(cfg.Payment, cfg.Webhook, logger)
		gateway, verifier = c, c
	default:
		g := clients.NewStripeGateway(cfg.Payment, cfg.Webhook, nil, logger)
		gateway, verifier = g, g
	}

	var publisher service.OrderEventPublisher
	if cfg.Features.EnableOrderEvents {
		p := events.NewKafkaPublisher(cfg.Kafka, logger)
		defer p.Close()
		publisher = p
	}

	orderService := service.NewOrderService(orders, payments, carts, orderCache, gateway, publisher, cfg)
	processor := service.NewWebhookProcessor(verifier, orders, payments, orderCache, publisher, cfg)

	h := handlers.NewHandlers(orderService, processor, cfg, checks)
	srv := server.NewServer(cfg, h)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Run)

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Features.EnablePaymentRelay {
		consumer := events.NewKafkaConsumer(cfg.Kafka, processor, cfg.Webhook.ReconcileTimeout, logger)
		g.Go(func() error {
			err := consumer.Start(gctx)
			if gctx.Err() != nil {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			consumer.Stop()
			return nil
		})
	}

	runErr := g.Wait()

	logger.Info("Waiting for in-flight reconciliations")
	processor.Wait()

	logger.Info("Server exited")
	return runErr
}

func initDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		logging.Info("Schema migrated")
	}

	logging.Info("Database connected", logging.Fields{
		"host": cfg.Database.Host,
		"name": cfg.Database.Name,
	})

	return db, nil
}
