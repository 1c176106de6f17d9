package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/umar/rental-chat/internal/auth"
	"github.com/umar/rental-chat/internal/call"
	"github.com/umar/rental-chat/internal/chat"
	"github.com/umar/rental-chat/internal/config"
	"github.com/umar/rental-chat/internal/database"
	"github.com/umar/rental-chat/internal/handlers"
	"github.com/umar/rental-chat/internal/hub"
	"github.com/umar/rental-chat/internal/middleware"
	"github.com/umar/rental-chat/internal/notify"
	redisc "github.com/umar/rental-chat/internal/redis"
	"github.com/umar/rental-chat/internal/storage"
	"github.com/umar/rental-chat/internal/ws"
)

// chatStore is what the services need from either backend.
type chatStore interface {
	chat.Store
	notify.Store
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	slog.Info("starting chat server", "store", cfg.StoreBackend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := map[string]handlers.Pinger{}

	// Chat store
	var store chatStore
	switch cfg.StoreBackend {
	case config.BackendMemory:
		store = database.NewMemoryStore()
		slog.Warn("using in-memory store, data is lost on restart")
	default:
		db, err := database.InitDB(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to init database", "error", err)
			os.Exit(1)
		}
		slog.Info("connected to PostgreSQL")
		if err := database.RunMigrations(ctx, db); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		slog.Info("database migrations complete")
		store = database.NewPostgresStore(db)
		deps["postgres"] = db
	}
	defer store.Close()

	// Redis is optional
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redisc.InitRedis(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("failed to init Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		deps["redis"] = redisc.Pinger{Client: redisClient}
		slog.Info("connected to Redis")
	}

	var hubOpts []hub.Option
	if redisClient != nil {
		hubOpts = append(hubOpts, hub.WithPresence(redisc.NewPresence(redisClient, redisc.DefaultPresenceTTL), redisc.DefaultPresenceTTL/2))
	}
	h := hub.New(hubOpts...)

	// Notifications
	var tokens notify.TokenRegistry = notify.NewMemoryTokens()
	if redisClient != nil {
		tokens = redisc.NewPushTokens(redisClient)
	}
	notifyOpts := []notify.Option{notify.WithTokens(tokens)}
	if cfg.PushEnabled {
		notifyOpts = append(notifyOpts, notify.WithPush(notify.NewExpoClient(cfg.PushEndpoint, notify.DefaultPushTimeout), notify.DefaultPushTimeout))
	}
	notifier := notify.NewDispatcher(store, h, notifyOpts...)

	objects, err := storage.NewLocal(cfg.UploadDir, cfg.PublicBaseURL+"/uploads")
	if err != nil {
		slog.Error("failed to init upload storage", "error", err)
		os.Exit(1)
	}

	tracker := chat.NewTracker(store, h)
	gateway := chat.NewGateway(store, h, tracker, notifier, chat.WithAttachments(objects, cfg.MaxUploadBytes))
	calls := call.New(store, h,
		call.WithRingTimeout(cfg.RingTimeout),
		call.WithMissedCallNotifier(notifier),
	)

	var limiterOpts []middleware.LimiterOption
	if cfg.TrustProxy {
		limiterOpts = append(limiterOpts, middleware.TrustForwardedFor())
	}
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, limiterOpts...)

	var background sync.WaitGroup
	runBackground := func(fn func()) {
		background.Add(1)
		go func() {
			defer background.Done()
			fn()
		}()
	}
	runBackground(func() { h.Run(ctx) })
	runBackground(func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Cleanup()
			}
		}
	})
	if redisClient != nil {
		runBackground(func() {
			if err := redisc.SubscribeNotifications(ctx, redisClient, notifier.HandleEvent); err != nil {
				slog.Error("domain event subscription stopped", "error", err)
			}
		})
	}

	// Routes
	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.CORS(cfg.CORSOrigin))

	router.HandleFunc("/health", handlers.Health(deps)).Methods("GET")
	router.Handle("/ws", ws.NewServer(h, ws.NewRouter(gateway, tracker, calls), cfg.JWTSecret, cfg.WSEventsPerSecond)).Methods("GET")
	router.PathPrefix("/uploads/").Handler(middleware.StaticFiles(http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadDir))))).Methods("GET")

	api := router.NewRoute().Subrouter()
	api.Use(limiter.Middleware)
	api.Use(auth.JWTMiddleware(cfg.JWTSecret))

	api.HandleFunc("/chat/create", handlers.CreateChat(gateway)).Methods("POST", "OPTIONS")
	api.HandleFunc("/chat/message", handlers.SendMessage(gateway)).Methods("POST", "OPTIONS")
	api.HandleFunc("/chat/upload", handlers.UploadAttachment(gateway, cfg.MaxUploadBytes)).Methods("POST", "OPTIONS")
	api.HandleFunc("/chat/messages/{chatId}", handlers.GetMessages(gateway)).Methods("GET")
	api.HandleFunc("/chat/list/{userId}", handlers.ListChats(gateway)).Methods("GET")
	api.HandleFunc("/chat/unread/{userId}", handlers.UnreadCount(tracker)).Methods("GET")
	api.HandleFunc("/chat/{chatId}/read/{userId}", handlers.MarkRead(tracker)).Methods("PUT", "OPTIONS")
	api.HandleFunc("/notifications", handlers.ListNotifications(notifier)).Methods("GET")
	api.HandleFunc("/notifications/read", handlers.MarkNotificationsRead(notifier)).Methods("PUT", "OPTIONS")
	api.HandleFunc("/notifications/push-token", handlers.RegisterPushToken(notifier)).Methods("POST", "OPTIONS")

	// HTTP server. No WriteTimeout: it would cut long-lived websockets.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}
	h.Shutdown()
	calls.Shutdown()
	notifier.Wait()
	background.Wait()

	slog.Info("server stopped gracefully")
}
