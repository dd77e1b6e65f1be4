package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shukku-list-backend/internal/cache"
	"shukku-list-backend/internal/config"
	"shukku-list-backend/internal/handlers"
	"shukku-list-backend/internal/middleware"
	"shukku-list-backend/internal/push"
	"shukku-list-backend/internal/repository"
	"shukku-list-backend/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	// Load configuration
	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	ctx := context.Background()

	// Initialize stores
	var (
		pairRepo repository.PairStore
		userRepo repository.UserStore
	)
	if cfg.Database.Enabled() {
		if cfg.Database.Migrate {
			if err := repository.Migrate(cfg.Database.URL()); err != nil {
				log.Fatal().Err(err).Msg("Failed to migrate database")
			}
		}

		db, err := pgxpool.New(ctx, cfg.Database.URL())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		// Test database connection
		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to ping database")
		}
		log.Info().Str("host", cfg.Database.Host).Msg("Database connection established")

		pgPairs := repository.NewPairRepository(db)
		defer pgPairs.Close()
		pairRepo = pgPairs
		userRepo = repository.NewUserRepository(db)
	} else {
		log.Warn().Msg("No database configured, using in-memory store")
		pairRepo = repository.NewMemoryPairStore()
		userRepo = repository.NewMemoryUserStore()
	}

	// Initialize preview cache
	previewCache := newPreviewCache(ctx, cfg.Redis)
	defer previewCache.Close()

	// Initialize push sender
	sender, err := newSender(ctx, cfg.Push)
	if err != nil {
		log.Fatal().Err(err).Str("provider", cfg.Push.Provider).Msg("Failed to create push sender")
	}

	// Initialize services
	wsHub := services.NewWSHub()
	userService := services.NewUserService(userRepo, cfg.JWT.Secret)
	pairService := services.NewPairService(pairRepo, userRepo, cfg.Pairs.MaxMembers)
	metadataFetcher := services.NewMetadataFetcher(
		&http.Client{Timeout: cfg.Metadata.Timeout},
		previewCache,
		cfg.Metadata.CacheTTL,
	)
	notifier := services.NewNotifier(pairRepo, userRepo, sender, wsHub, services.NotifierConfig{
		Workers:     cfg.Notify.Workers,
		QueueSize:   cfg.Notify.QueueSize,
		TaskTimeout: cfg.Notify.TaskTimeout,
	})
	listService := services.NewListService(pairRepo, metadataFetcher, notifier, cfg.Sync.MaxWriteAttempts)

	// Initialize handlers
	userHandler := handlers.NewUserHandler(userService)
	pairHandler := handlers.NewPairHandler(pairService)
	listHandler := handlers.NewListHandler(pairService, listService)
	metadataHandler := handlers.NewMetadataHandler(metadataFetcher)
	notifyHandler := handlers.NewNotifyHandler(notifier)
	wsHandler := handlers.NewWebSocketHandler(wsHub, userService,
		services.SessionDeps{
			Pairs:    pairService,
			List:     listService,
			Store:    pairRepo,
			Previews: metadataFetcher,
		},
		services.SessionConfig{
			ReconnectDelay:       cfg.Sync.ReconnectDelay,
			MaxReconnectDelay:    cfg.Sync.MaxReconnectDelay,
			MaxReconnectAttempts: cfg.Sync.MaxReconnectAttempts,
			PreviewDebounce:      cfg.Sync.PreviewDebounce,
		},
	)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Routes kept at the root for existing clients
	r.Get("/metadata", metadataHandler.GetMetadata)
	r.With(middleware.OptionalAuthMiddleware(userService)).Post("/notify", notifyHandler.Notify)

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/users", userHandler.CreateUser)
		r.Get("/metadata", metadataHandler.GetMetadata)
		r.With(middleware.OptionalAuthMiddleware(userService)).Post("/notify", notifyHandler.Notify)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(userService))
			r.Get("/users/me", userHandler.GetMe)
			r.Post("/users/me/tokens", userHandler.RegisterToken)
			r.Delete("/users/me/list", pairHandler.ResetList)
			r.Post("/pairs/join", pairHandler.JoinPair)
			r.Get("/list", listHandler.GetList)
			r.Post("/list/items", listHandler.AddItem)
			r.Post("/list/items/{item_id}/toggle", listHandler.ToggleItem)
			r.Delete("/list/items/{item_id}", listHandler.DeleteItem)
			r.Post("/list/clear-done", listHandler.ClearDone)
		})
	})

	// WebSocket route
	r.Get("/ws", wsHandler.HandleWebSocket)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Str("push_provider", cfg.Push.Provider).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown
	wsHub.CloseAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Deliver notifications queued by the last requests
	notifier.Close()

	log.Info().Msg("Server exited")
}

// configPath returns the config file location, overridable with SHUKKU_CONFIG
func configPath() string {
	if p := os.Getenv("SHUKKU_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

type closableCache interface {
	cache.Cache
	Close() error
}

// newPreviewCache uses Redis when configured and falls back to memory
func newPreviewCache(ctx context.Context, cfg config.RedisConfig) closableCache {
	if cfg.Addr != "" {
		c, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err == nil {
			log.Info().Str("addr", cfg.Addr).Msg("Preview cache backed by Redis")
			return c
		}
		log.Error().Err(err).Msg("Redis unavailable, using in-memory preview cache")
	}
	return cache.NewMemoryCache(5 * time.Minute)
}

// newSender creates the push sender for the configured provider
func newSender(ctx context.Context, cfg config.PushConfig) (push.Sender, error) {
	switch cfg.Provider {
	case "fcm":
		return push.NewFCMSender(ctx, push.FCMConfig{
			ProjectID:       cfg.FCM.ProjectID,
			CredentialsFile: cfg.FCM.CredentialsFile,
			CredentialsJSON: cfg.FCM.CredentialsJSON,
		})
	case "apns":
		return push.NewAPNsSender(push.APNsConfig{
			KeyFile:      cfg.APNs.KeyFile,
			KeyID:        cfg.APNs.KeyID,
			TeamID:       cfg.APNs.TeamID,
			CertFile:     cfg.APNs.CertFile,
			CertPassword: cfg.APNs.CertPassword,
			Topic:        cfg.APNs.Topic,
			Production:   cfg.APNs.Production,
		})
	default:
		return push.NewLogSender(), nil
	}
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
