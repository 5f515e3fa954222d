package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/SaifulET/ciger-storefront/internal/backend"
	"github.com/SaifulET/ciger-storefront/internal/cart"
	"github.com/SaifulET/ciger-storefront/internal/checkout"
	"github.com/SaifulET/ciger-storefront/internal/config"
	"github.com/SaifulET/ciger-storefront/internal/domain"
	"github.com/SaifulET/ciger-storefront/internal/events"
	h "github.com/SaifulET/ciger-storefront/internal/http"
	"github.com/SaifulET/ciger-storefront/internal/ledger"
	"github.com/SaifulET/ciger-storefront/internal/logger"
	"github.com/SaifulET/ciger-storefront/internal/persist"
	"github.com/SaifulET/ciger-storefront/internal/pricing"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck
	zap.ReplaceGlobals(log)

	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, signed-in requests will be rejected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	state, closeState, err := openState(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open state store", zap.String("backend", cfg.StateBackend), zap.Error(err))
	}
	defer closeState()

	repo, err := ledger.Open(cfg.LedgerDSN)
	if err != nil {
		log.Fatal("failed to open ledger", zap.Error(err))
	}
	defer repo.Close()
	if err := repo.RunMigrations(); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}
	log.Info("ledger migrations completed")

	client := backend.New(backend.Options{
		BaseURL:             cfg.BackendBaseURL,
		Timeout:             cfg.RequestTimeout,
		NotificationTimeout: cfg.NotificationTimeout,
	})

	carts := cart.NewRegistry(client, state, cart.RegistryOptions{IdleTTL: cfg.CartIdleTTL})

	relay := checkout.NewTokenRelay()
	checkouts, err := checkout.NewManager(
		checkout.Deps{Backend: client, Ledger: repo, Gateway: relay, State: state, Purchases: carts},
		func(_ context.Context, id domain.Identity) checkout.CartSource { return carts.Source(id) },
		checkout.Config{
			Shipping: pricing.ShippingConfig{
				FreeShippingThreshold: cfg.FreeShippingThreshold,
				FlatShippingFee:       cfg.FlatShippingFee,
			},
			TaxFallbackPercent: cfg.TaxFallbackPercent,
			TaxDebounce:        cfg.TaxDebounce,
			RequestTimeout:     cfg.RequestTimeout,
		},
		cfg.TokenizationKey,
	)
	if err != nil {
		log.Fatal("failed to configure payment gateway", zap.Error(err))
	}

	var workers sync.WaitGroup
	if len(cfg.KafkaBrokers) > 0 {
		poller := events.NewOutboxPoller(repo, log, cfg.KafkaTopic, cfg.KafkaBrokers...)
		consumer := events.NewConsumer(state, carts, log, cfg.KafkaTopic, cfg.KafkaBrokers...)
		workers.Add(2)
		go func() {
			defer workers.Done()
			poller.Run(ctx)
			if err := poller.Close(); err != nil {
				log.Warn("error closing kafka writer", zap.Error(err))
			}
		}()
		go func() {
			defer workers.Done()
			consumer.Run(ctx)
			consumer.Close()
		}()
		log.Info("outbox publishing enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	} else {
		log.Warn("KAFKA_BROKERS not set, checkout outcomes stay in the outbox")
	}

	router := h.NewRouter(h.RouterConfig{
		Carts:     h.NewCartHandler(carts, client, state, cfg.RequestTimeout, cfg.MaxRequestBodySize),
		Checkouts: h.NewCheckoutHandler(checkouts, relay, cfg.RequestTimeout, cfg.MaxRequestBodySize),
		Catalog:   h.NewCatalogHandler(client, cfg.RequestTimeout),
		JWTSecret: []byte(cfg.JWTSecret),
		Timeout:   cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("storefront starting", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	checkouts.Close()
	if err := carts.Close(shutdownCtx); err != nil {
		log.Warn("failed to persist carts", zap.Error(err))
	}
	workers.Wait()

	log.Info("server exited")
}

// openState connects the configured client-state backend.
func openState(ctx context.Context, cfg *config.Config, log *zap.Logger) (persist.Store, func(), error) {
	switch cfg.StateBackend {
	case "mongo":
		db, err := persist.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, nil, err
		}
		store := persist.NewMongoStore(db, cfg.StateTTL)
		if err := store.CreateIndexes(ctx); err != nil {
			return nil, nil, err
		}
		log.Info("connected to MongoDB", zap.String("db", cfg.MongoDBName))
		return store, func() { _ = db.Client().Disconnect(context.Background()) }, nil

	case "memory":
		log.Warn("using in-memory state store, client state is lost on restart")
		return persist.NewMemoryStore(), func() {}, nil

	default:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       0,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, nil, err
		}
		log.Info("redis ping succeeded", zap.String("addr", cfg.RedisAddr))
		return persist.NewRedisStore(redisClient, cfg.StateTTL), func() { _ = redisClient.Close() }, nil
	}
}
