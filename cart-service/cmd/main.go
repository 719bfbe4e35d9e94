package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fjod/storefront/cart-service/internal/cache"
	"github.com/fjod/storefront/cart-service/internal/config"
	"github.com/fjod/storefront/cart-service/internal/gateway"
	carthttp "github.com/fjod/storefront/cart-service/internal/http"
	"github.com/fjod/storefront/cart-service/internal/poller"
	"github.com/fjod/storefront/cart-service/internal/repository"
	s "github.com/fjod/storefront/cart-service/internal/service"
	"github.com/fjod/storefront/cart-service/internal/store"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, err := logger.Init(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	// accept trace context from the storefront so logs share its trace ids
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snapshots, closeSnapshots, err := openSnapshots(ctx, cfg.Persistence, lg)
	if err != nil {
		lg.Error("snapshot storage unavailable", "backend", cfg.Persistence.Backend, "error", err)
		os.Exit(1)
	}
	defer closeSnapshots()

	stock, err := openInventory(cfg.Inventory, lg)
	if err != nil {
		lg.Error("inventory gateway unavailable", "backend", cfg.Inventory.Backend, "error", err)
		os.Exit(1)
	}

	service := s.NewCartService(snapshots, stock, lg, cfg.Cart.IdleTTL,
		store.WithValidationTimeout(cfg.Cart.ValidationTimeout),
		store.WithQuantityClamp(cfg.Cart.ClampQuantities),
	)
	defer service.Close()

	router := carthttp.NewRouter(carthttp.RouterConfig{
		RequestTimeout: cfg.HTTP.WriteTimeout,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		SecureCookies:  cfg.HTTP.SecureCookies,
	},
		carthttp.NewCartHandler(service, cfg.HTTP.WriteTimeout, lg),
		carthttp.NewInventoryHandler(stock, cfg.Inventory.Square.Timeout, lg),
		lg,
	)

	srv := &http.Server{
		Addr:        ":" + cfg.HTTP.Port,
		Handler:     router,
		ReadTimeout: cfg.HTTP.ReadTimeout,
		// no WriteTimeout: it would cut the event stream; handlers carry their own timeouts
		IdleTimeout: cfg.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lg.Info("cart service listening", "port", cfg.HTTP.Port,
			"persistence", cfg.Persistence.Backend, "inventory", cfg.Inventory.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Kafka.Enabled() {
		p := poller.NewPoller(service, lg, cfg.Kafka.Topic, cfg.Kafka.GroupID, cfg.Kafka.Brokers...)
		g.Go(func() error {
			defer p.Close()
			p.Run(gctx)
			return nil
		})
		lg.Info("order poller started", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	g.Go(func() error {
		<-gctx.Done()
		lg.Info("shutting down cart service...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		lg.Error("cart service stopped with error", "error", err)
		os.Exit(1)
	}
	lg.Info("cart service stopped")
}

func openSnapshots(ctx context.Context, cfg config.PersistenceConfig, lg *slog.Logger) (store.SnapshotStore, func(), error) {
	switch cfg.Backend {
	case config.PersistenceRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		lg.Info("connected to redis", "addr", cfg.RedisAddr)
		return cache.NewRedisCache(client, cfg.SnapshotTTL), func() { client.Close() }, nil

	case config.PersistenceMongo:
		db, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewMongoRepository(db, cfg.SnapshotTTL)
		if err := repo.CreateIndexes(ctx); err != nil {
			lg.Warn("failed to create snapshot indexes", "error", err)
		}
		lg.Info("connected to mongodb", "db", cfg.MongoDB)
		return repo, func() {
			if err := db.Client().Disconnect(context.Background()); err != nil {
				lg.Error("mongodb disconnect failed", "error", err)
			}
		}, nil

	default:
		lg.Warn("using in-memory cart storage, carts are lost on restart")
		return cache.NewMemoryCache(), func() {}, nil
	}
}

func openInventory(cfg config.InventoryConfig, lg *slog.Logger) (store.InventoryGateway, error) {
	if cfg.Backend == config.InventorySquare {
		client := gateway.NewSquareClient(cfg.Square, lg)
		return gateway.WithBreaker(client, cfg.Breaker, lg), nil
	}

	mem := gateway.NewMemoryGateway()
	seed, err := gateway.ParseSeed(cfg.Seed)
	if err != nil {
		return nil, err
	}
	for id, qty := range seed {
		mem.SetStock(id, qty)
	}
	lg.Info("using in-memory inventory", "items", len(seed))
	return mem, nil
}
