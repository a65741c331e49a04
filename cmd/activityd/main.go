// Command activityd serves the activity feed and the audit log, and records order
// status changes published on the in-process event bus.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/godamri/helix-activity/activity"
	"github.com/godamri/helix-activity/api"
	"github.com/godamri/helix-activity/app"
	"github.com/godamri/helix-activity/audit"
	"github.com/godamri/helix-activity/audit/store/memory"
	auditmongo "github.com/godamri/helix-activity/audit/store/mongo"
	auditpg "github.com/godamri/helix-activity/audit/store/postgres"
	"github.com/godamri/helix-activity/cache"
	"github.com/godamri/helix-activity/config"
	"github.com/godamri/helix-activity/crypto"
	"github.com/godamri/helix-activity/database"
	"github.com/godamri/helix-activity/eventbus"
	"github.com/godamri/helix-activity/favorite"
	"github.com/godamri/helix-activity/feature"
	"github.com/godamri/helix-activity/log"
	"github.com/godamri/helix-activity/messaging"
	"github.com/godamri/helix-activity/order"
	"github.com/godamri/helix-activity/server"
	"github.com/godamri/helix-activity/server/health"
	"github.com/godamri/helix-activity/server/middleware"
	"github.com/godamri/helix-activity/user"
)

func main() {
	configPath := flag.String("config", os.Getenv("ACTIVITY_CONFIG"), "path to the YAML config file")
	flag.Parse()

	loader := config.NewLoader[AppConfig]("ACTIVITY", *configPath)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.Log).With("service", cfg.Service.Name, "env", cfg.Service.Env)
	slog.SetDefault(logger)

	runner := app.NewRunner(logger, cfg.Server.ShutdownTimeout)
	if err := runner.Run(func(ctx context.Context) error {
		return run(ctx, runner, loader, cfg, logger)
	}); err != nil {
		logger.Error("activityd stopped with error", "error", err)
		os.Exit(1)
	}
}

// backends holds the optional infrastructure clients; a nil field means disabled.
type backends struct {
	db    *sql.DB
	mongo *mongodrv.Client
	redis *redis.Client
}

func run(ctx context.Context, runner *app.Runner, loader *config.Loader[AppConfig], cfg *AppConfig, logger *slog.Logger) error {
	tunables := config.NewContainer(cfg.Tunables)
	if loader.Path() != "" {
		watcher := config.NewFileWatcher(loader.Path(), cfg.ConfigWatchInterval, logger)
		go watcher.Watch(ctx, config.Reload(loader, tunables, func(c *AppConfig) Tunables { return c.Tunables }, logger))
	}
	flags := feature.NewManager(tunableFlags{tunables: tunables}, feature.EnvProvider{})

	be, err := connect(ctx, runner, cfg)
	if err != nil {
		return err
	}

	var rdb redis.Cmdable
	if be.redis != nil {
		rdb = be.redis
	}

	orders, favorites, users := repositories(be)
	var userCache api.UserCache
	if rdb != nil {
		cached := user.NewCachedDirectory(users, rdb,
			user.WithTTL(cfg.UserCache.TTL, cfg.UserCache.NegativeTTL),
			user.WithCacheLogger(logger))
		users, userCache = cached, cached
	}

	store, err := auditStore(ctx, runner, cfg, be, logger)
	if err != nil {
		return err
	}

	bus := eventbus.New(cfg.Bus, logger)
	runner.OnShutdown("eventbus", app.Closer(bus.Close))

	audit.NewListener(store, users, logger).Register(bus)

	if err := wireKafka(ctx, runner, cfg, bus, store, flags, logger); err != nil {
		return err
	}

	statusSvc := order.NewStatusService(orders, bus, logger)
	feed := activity.NewAggregator(favorites, orders, store,
		activity.WithSourceTimeout(func() time.Duration { return tunables.Get().FeedSourceTimeout }),
		activity.WithLogger(logger))

	strategy, err := authStrategy(ctx, runner, cfg, logger)
	if err != nil {
		return err
	}
	authMW := middleware.NewAuthMiddleware(strategy)

	var limiter *middleware.RateLimiter
	if be.redis != nil {
		limiter = middleware.NewRateLimiter(be.redis, func() middleware.RateLimit { return tunables.Get().RateLimit }, logger)
	}

	interceptors := []grpc.UnaryServerInterceptor{
		middleware.GRPCRecoveryInterceptor(logger),
		authMW.GRPCUnaryInterceptor,
	}
	if limiter != nil {
		interceptors = append(interceptors, limiter.GRPCUnaryInterceptor)
	}
	grpcSrv := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	grpcHealth := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, grpcHealth)

	checker := health.NewChecker(logger, health.WithGRPC(grpcHealth))
	registerPings(checker, be)
	go checker.Run(ctx, 5*time.Second)

	handler := api.NewRouter(api.Deps{
		ServiceName: cfg.Service.Name,
		Logger:      logger,
		Feed:        feed,
		Audit:       store,
		Orders:      statusSvc,
		Users:       userCache,
		Auth:        strategy,
		Limiter:     limiter,
		Redis:       rdb,
		Health:      checker,
		AuditHTTP:   cfg.Audit,
		Idempotency: cfg.Idempotency,
	})

	logger.Info("activityd starting",
		"audit_store", cfg.Audit.Store,
		"audit_mirror", cfg.Audit.Mirror,
		"postgres", be.db != nil,
		"redis", be.redis != nil,
		"kafka", cfg.Kafka.Enabled(),
		"auth_mode", cfg.Auth.Mode)

	return server.New(cfg.Server, logger, handler, grpcSrv).Start(ctx)
}

// connect opens every configured backend. Closers run in reverse, so the database
// closes last.
func connect(ctx context.Context, runner *app.Runner, cfg *AppConfig) (backends, error) {
	var be backends

	if cfg.Database.Enabled() {
		db, err := database.NewPostgres(ctx, cfg.Database, cfg.Service.Name)
		if err != nil {
			return be, err
		}
		runner.OnShutdown("postgres", app.Closer(db.Close))
		if err := database.Migrate(ctx, db); err != nil {
			return be, err
		}
		be.db = db
	}

	if cfg.Audit.Store == audit.BackendMongo {
		client, err := auditmongo.Connect(ctx, cfg.Mongo)
		if err != nil {
			return be, err
		}
		runner.OnShutdown("mongo", client.Disconnect)
		be.mongo = client
	}

	if cfg.Redis.Enabled() {
		rdb, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return be, err
		}
		runner.OnShutdown("redis", app.Closer(rdb.Close))
		be.redis = rdb
	}
	return be, nil
}

func repositories(be backends) (order.Repository, favorite.Provider, user.Directory) {
	if be.db == nil {
		return order.NewMemoryRepository(), favorite.NewMemoryProvider(), user.NewMemoryDirectory()
	}
	return order.NewPostgresRepository(be.db), favorite.NewPostgresProvider(be.db), user.NewPostgresDirectory(be.db)
}

func auditStore(ctx context.Context, runner *app.Runner, cfg *AppConfig, be backends, logger *slog.Logger) (audit.Store, error) {
	var (
		primary audit.Store
		err     error
	)
	switch cfg.Audit.Store {
	case audit.BackendPostgres:
		if be.db == nil {
			return nil, fmt.Errorf("audit store %q needs DB_DSN", cfg.Audit.Store)
		}
		primary, err = auditpg.New(ctx, be.db)
	case audit.BackendMongo:
		coll := be.mongo.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection)
		primary, err = auditmongo.New(ctx, coll)
	default:
		primary = memory.New()
	}
	if err != nil {
		return nil, err
	}

	var sink audit.Sink
	switch cfg.Audit.Mirror {
	case audit.MirrorStdout:
		sink = audit.NewAsyncWriterSink(os.Stdout, cfg.Audit.BufferSize, cfg.Audit.BlockOnFull, logger)
	case audit.MirrorKafka:
		if !cfg.Kafka.Enabled() {
			return nil, fmt.Errorf("audit mirror %q needs KAFKA_BROKERS", cfg.Audit.Mirror)
		}
		ks, err := audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Audit.KafkaTopic, logger)
		if err != nil {
			return nil, err
		}
		sink = ks
	default:
		return primary, nil
	}

	mirrored := audit.NewMirroredStore(primary, sink, logger)
	runner.OnShutdown("audit_mirror", app.Closer(mirrored.Close))
	return mirrored, nil
}

// wireKafka relays order events out and ingests admin actions in. Both are skipped
// when no brokers are configured.
func wireKafka(ctx context.Context, runner *app.Runner, cfg *AppConfig, bus *eventbus.Bus, store audit.Store, flags *feature.Manager, logger *slog.Logger) error {
	if !cfg.Kafka.Enabled() {
		return nil
	}

	producer, err := messaging.NewProducer(ctx, cfg.Kafka, logger)
	if err != nil {
		return err
	}
	runner.OnShutdown("kafka_producer", app.Closer(producer.Close))

	eventbus.Subscribe(bus, order.StatusChangedTopic, "kafka_relay", messaging.Relay(producer, messaging.RelayConfig[order.StatusChanged]{
		Topic:   cfg.Kafka.OrderTopic,
		Key:     func(ev order.StatusChanged) string { return ev.Order.ID },
		Enabled: flags.Gate(feature.OrderEventRelay),
	}))

	consumer, err := messaging.NewConsumer(
		messaging.ConsumerConfigFor(cfg.Kafka, cfg.Kafka.AdminAuditTopic),
		logger,
		audit.NewIngestor(store, logger).Handle,
	)
	if err != nil {
		return err
	}
	manager := messaging.NewConsumerManager(logger)
	manager.Register(consumer)
	manager.Start(ctx)
	runner.OnShutdown("kafka_consumers", app.Closer(manager.Close))
	return nil
}

func authStrategy(ctx context.Context, runner *app.Runner, cfg *AppConfig, logger *slog.Logger) (middleware.AuthStrategy, error) {
	switch cfg.Auth.Mode {
	case AuthModeJWT:
		verifier, err := crypto.NewJWKSCachingClient(ctx, cfg.Auth.JWKS, logger)
		if err != nil {
			return nil, err
		}
		runner.OnShutdown("jwks", app.Closer(verifier.Close))
		return middleware.NewJWTStrategy(verifier, logger), nil
	default:
		strategy, err := middleware.NewTrustedHeaderStrategy(cfg.Auth.Header, logger)
		if err != nil {
			return nil, err
		}
		return strategy, nil
	}
}

func registerPings(checker *health.Checker, be backends) {
	if be.db != nil {
		checker.Register("postgres", health.PingFunc(be.db.PingContext))
	}
	if be.mongo != nil {
		checker.Register("mongo", health.PingFunc(func(ctx context.Context) error {
			return be.mongo.Ping(ctx, nil)
		}))
	}
	if be.redis != nil {
		checker.Register("redis", health.PingFunc(func(ctx context.Context) error {
			return be.redis.Ping(ctx).Err()
		}))
	}
}
