package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dharani-backend/internal/ai"
	"dharani-backend/internal/config"
	"dharani-backend/internal/database"
	"dharani-backend/internal/handlers"
	"dharani-backend/internal/lifecycle"
	"dharani-backend/internal/metrics"
	"dharani-backend/internal/middleware"
	"dharani-backend/internal/services"
	"dharani-backend/internal/storage"
	"dharani-backend/internal/validation"
	"dharani-backend/internal/websocket"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	lifecycleQueueSize = 256
	shutdownTimeout    = 20 * time.Second
)

func main() {
	cfg, envLoaded, err := config.Load()
	if err != nil {
		log.Fatalf("❌ FATAL ERROR: invalid configuration: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("❌ FATAL ERROR: logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("🚀 DHARANI BACKEND SERVER STARTING",
		zap.String("environment", cfg.Environment), zap.Bool("env_file", envLoaded))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("❌ Database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(db, logger); err != nil {
		logger.Fatal("❌ Database migrations failed", zap.Error(err))
	}

	store := database.NewStore(db)
	if err := store.SeedUsers(ctx, logger); err != nil {
		logger.Fatal("❌ User seeding failed", zap.Error(err))
	}

	metrics.Register()

	validator, err := validation.New()
	if err != nil {
		logger.Fatal("❌ Schema compilation failed", zap.Error(err))
	}

	// Firebase: push notifications and image storage. Both are optional.
	var (
		pusher services.Pusher
		images storage.ImageStore
	)
	app, err := services.NewFirebaseApp(ctx, cfg.FirebaseCredentialsBase64, cfg.FirebaseCredentialsFile, cfg.FirebaseStorageBucket)
	if err != nil {
		logger.Warn("⚠️  Firebase not configured (push notifications and image uploads disabled)", zap.Error(err))
	} else {
		if fcm, err := services.NewFCMService(ctx, app, logger); err != nil {
			logger.Warn("⚠️  FCM unavailable", zap.Error(err))
		} else {
			pusher = fcm
			logger.Info("✅ Firebase Cloud Messaging initialized")
		}
		if cfg.FirebaseStorageBucket != "" {
			if fs, err := storage.NewFirebaseStore(ctx, app, cfg.FirebaseStorageBucket, logger); err != nil {
				logger.Warn("⚠️  Firebase Storage unavailable", zap.Error(err))
			} else {
				images = fs
				logger.Info("✅ Firebase Storage initialized", zap.String("bucket", cfg.FirebaseStorageBucket))
			}
		}
	}

	var (
		reverseGeocoder services.ReverseGeocoder
		addresses       handlers.AddressResolver
	)
	if geocoder, err := services.NewGeocodingService(cfg.GoogleMapsAPIKey); err != nil {
		logger.Warn("⚠️  Geocoding disabled", zap.Error(err))
	} else {
		reverseGeocoder, addresses = geocoder, geocoder
	}

	messages, analyzer := newCollaborators(ctx, cfg, logger)
	cachedMessages, err := ai.NewCachedMessages(messages, cfg.MessageCacheSize)
	if err != nil {
		logger.Fatal("❌ Message cache", zap.Error(err))
	}

	hub := websocket.NewHub(logger)
	go hub.Run(ctx)
	logger.Info("✅ WebSocket hub started")

	notifier := services.NewNotifier(hub, pusher, store, store, logger)
	driver := lifecycle.NewDriver(store, cachedMessages, analyzer, notifier, lifecycle.Config{
		GenerationTimeout: cfg.GenerationTimeout,
		Pacing:            cfg.LifecyclePacing,
	}, logger)

	// With Redis, lifecycle runs survive restarts and bin generation is
	// serialized across replicas. Without it everything stays in-process.
	var (
		dispatcher  lifecycle.Dispatcher
		locker      services.AreaLocker
		stopRunner  func(context.Context) error
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("❌ Invalid REDIS_URL", zap.Error(err))
		}
		redisClient = redis.NewClient(opt)
		locker = services.NewRedisLocker(redisClient)

		jobs, err := lifecycle.NewJobServer(cfg.RedisURL, cfg.LifecycleWorkers, driver, logger)
		if err != nil {
			logger.Fatal("❌ Job server", zap.Error(err))
		}
		if err := jobs.Start(); err != nil {
			logger.Fatal("❌ Job server failed to start", zap.Error(err))
		}
		dispatcher = jobs
		stopRunner = func(context.Context) error { jobs.Stop(); return nil }
		logger.Info("✅ Lifecycle runs queued in Redis", zap.Int("concurrency", cfg.LifecycleWorkers))
	} else {
		pool := lifecycle.NewPool(driver, cfg.LifecycleWorkers, lifecycleQueueSize, logger)
		dispatcher = pool
		locker = services.NewLocalLocker()
		stopRunner = pool.Close
		logger.Info("✅ Lifecycle worker pool started", zap.Int("workers", cfg.LifecycleWorkers))
	}

	ids := services.NewRequestIDGenerator(store, cfg.RequestIDPrefix, logger)
	requestService := services.NewRequestService(store, ids, images, reverseGeocoder, dispatcher, logger)
	if _, err := requestService.ResumePending(ctx); err != nil {
		logger.Warn("⚠️  Could not resume pending requests", zap.Error(err))
	}
	binService := services.NewBinService(store, services.NewBinGenerator(nil), locker, logger)

	router := newRouter(routerDeps{
		db:             store.DB(),
		users:          store,
		locations:      store,
		requests:       requestService,
		lifecycle:      driver,
		bins:           binService,
		history:        store,
		addresses:      addresses,
		validator:      validator,
		auth:           middleware.NewAuthenticator(cfg.JWTSecret, 0, logger),
		hub:            hub,
		allowedOrigins: cfg.AllowedOrigins,
		logger:         logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("🌐 Server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("❌ Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("🛑 Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("⚠️  HTTP shutdown", zap.Error(err))
	}
	if err := stopRunner(shutdownCtx); err != nil {
		logger.Warn("⚠️  Lifecycle runs cancelled before finishing", zap.Error(err))
	}
	notifier.Wait()
	if redisClient != nil {
		redisClient.Close()
	}
	logger.Info("✅ Shutdown complete")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newCollaborators picks Gemini when an API key is configured and the
// deterministic stub otherwise.
func newCollaborators(ctx context.Context, cfg *config.Config, logger *zap.Logger) (lifecycle.MessageGenerator, lifecycle.WasteAnalyzer) {
	if cfg.GeminiAPIKey == "" {
		logger.Warn("⚠️  GEMINI_API_KEY not set, using stub messages and analysis")
		stub := ai.NewStub()
		return stub, stub
	}
	gemini, err := ai.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	if err != nil {
		logger.Warn("⚠️  Gemini client failed, using stub messages and analysis", zap.Error(err))
		stub := ai.NewStub()
		return stub, stub
	}
	logger.Info("✅ Gemini collaborator initialized", zap.String("model", cfg.GeminiModel))
	return gemini, gemini
}
