package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"registration-system/config"
	"registration-system/handlers"
	"registration-system/metrics"
	"registration-system/middleware"
	"registration-system/repository"
	"registration-system/services"
	"registration-system/utils"
	"registration-system/workers"
)

type storage interface {
	services.RegistrationStore
	services.SyncStore
	services.TournamentStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := utils.InitLogger(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		zap.L().Fatal("❌ [SERVER] exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New(prometheus.DefaultRegisterer)

	store, directory, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}

	publisher, closePublisher, err := openPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closePublisher()

	dispatcherOpts := []workers.DispatcherOption{
		workers.WithDispatcherMetrics(m),
		workers.WithInterval(cfg.SyncInterval),
		workers.WithBatchSize(cfg.SyncBatchSize),
		workers.WithConcurrency(cfg.SyncConcurrency),
		workers.WithPushTimeout(cfg.SyncTimeout),
	}
	if cfg.R2.Enabled() {
		archive, err := utils.NewR2Archive(ctx, cfg.R2)
		if err != nil {
			return fmt.Errorf("init R2 archive: %w", err)
		}
		dispatcherOpts = append(dispatcherOpts, workers.WithDeadLetter(archive))
		zap.L().Info("🪣 [R2] dead-letter archive enabled", zap.String("bucket", cfg.R2.Bucket))
	}
	dispatcher := workers.NewSyncDispatcher(store, publisher, dispatcherOpts...)

	registrationService := services.NewRegistrationService(store, directory, services.WithMetrics(m))
	tournamentService := services.NewTournamentService(store, nil)

	app := fiber.New(fiber.Config{
		AppName:      "registration-system",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-Service-Token, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// 🔐 Only gateway requests reach the API; probes and scrapes are exempt.
	app.Use(middleware.GatewayAuthMiddleware(cfg.ServiceToken, "/healthz", "/metrics"))
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	routes := handlers.Services{
		Registrations: registrationService,
		Tournaments:   tournamentService,
		Syncs:         dispatcher,
	}
	if cache, ok := directory.(handlers.DirectoryCache); ok {
		routes.Directory = cache
	}
	handlers.SetupRoutes(app, routes)

	if err := dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("start sync dispatcher: %w", err)
	}
	defer func() {
		if err := dispatcher.Stop(); err != nil {
			zap.L().Warn("⚠️ [SYNC] dispatcher stop", zap.Error(err))
		}
	}()

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(fmt.Sprintf(":%d", cfg.Port))
	}()

	zap.L().Info("✅ [SERVER] running",
		zap.Int("port", cfg.Port),
		zap.String("store", cfg.StoreDriver),
		zap.String("propagation", cfg.PropagationDriver),
		zap.Strings("cors_origins", cfg.AllowedOrigins))

	select {
	case err := <-listenErr:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("🛑 [SERVER] shutting down")
	return app.ShutdownWithTimeout(10 * time.Second)
}

func openStorage(ctx context.Context, cfg *config.Config) (storage, services.FamilyDirectory, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		directory, err := repository.LoadDirectorySeedFile(cfg.DirectorySeedFile)
		if err != nil {
			return nil, nil, err
		}
		zap.L().Warn("⚠️ [STORE] in-memory store selected, state is lost on restart",
			zap.String("directory_seed", cfg.DirectorySeedFile))
		return repository.NewMemoryStore(), directory, nil
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := repository.AutoMigrate(db); err != nil {
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}

	var directory services.FamilyDirectory = repository.NewGormDirectory(db)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		directory = repository.NewCachedDirectory(directory, client)
		zap.L().Info("🧠 [DIRECTORY] redis cache enabled")
	}
	return repository.NewGormStore(db), directory, nil
}

func openPublisher(ctx context.Context, cfg *config.Config) (workers.Publisher, func(), error) {
	switch cfg.PropagationDriver {
	case config.PropagationKafka:
		p, err := workers.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka publisher: %w", err)
		}
		if err := p.EnsureTopic(ctx, 3, 1); err != nil {
			p.Close()
			return nil, nil, fmt.Errorf("ensure topic %s: %w", cfg.KafkaTopic, err)
		}
		return p, p.Close, nil
	case config.PropagationHTTP:
		p, err := workers.NewHTTPPublisher(cfg.SyncServiceURL, cfg.SyncServiceToken)
		if err != nil {
			return nil, nil, fmt.Errorf("http publisher: %w", err)
		}
		return p, func() {}, nil
	default:
		return nil, nil, errors.New("unknown propagation driver " + cfg.PropagationDriver)
	}
}
