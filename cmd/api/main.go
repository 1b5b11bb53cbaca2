package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"points-ledger-api/internal/config"
	"points-ledger-api/internal/database"
	"points-ledger-api/internal/events"
	"points-ledger-api/internal/features"
	"points-ledger-api/internal/handler"
	"points-ledger-api/internal/leaderboard"
	"points-ledger-api/internal/ledger"
	"points-ledger-api/internal/middleware"
	"points-ledger-api/internal/rules"
	"points-ledger-api/internal/service"
	"points-ledger-api/internal/streak"
	"points-ledger-api/internal/tracing"
)

func main() {
	configFile := flag.String("config", "", "Config file path (JSON)")
	port := flag.String("port", "", "Server port (overrides config)")
	dbPath := flag.String("db", "", "Database file path (overrides config)")
	rulesPath := flag.String("rules", "", "Rules config file path (overrides config)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *rulesPath != "" {
		cfg.Rules.Path = *rulesPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// A broken rules table corrupts every award, so a load or validation
	// failure here stops the process before it serves traffic.
	engine, err := rules.Load(cfg.Rules.Path, logger)
	if err != nil {
		log.Fatalf("Failed to load rules config: %v", err)
	}
	logger.Info("rules config loaded", "version", engine.Version(), "path", cfg.Rules.Path)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Ranked projection store: Redis sorted sets, or an in-process ranking
	// when Redis is disabled.
	var ranking leaderboard.Ranking
	if cfg.Redis.Enabled {
		redisRanking, err := leaderboard.NewRedisRanking(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisRanking.Close()
		ranking = redisRanking
	} else {
		logger.Warn("redis disabled, using in-memory leaderboard ranking")
		ranking = leaderboard.NewInMemoryRanking()
	}
	board := leaderboard.NewBoard(ranking, logger)

	flags := features.NewManager()
	flags.Register(features.FeatureLeaderboardSync, true, "Best-effort leaderboard projection updates")
	flags.Register(features.FeatureStreakBonuses, true, "Streak bonus awards on check-in")
	flags.Register(features.FeatureEventHooksEnabled, true, "Async event hooks")
	flags.Register(features.FeatureRateLimiting, cfg.RateLimit.Enabled, "Request rate limiting")
	defer flags.Shutdown()

	var syncer ledger.Syncer
	if flags.IsEnabled(features.FeatureLeaderboardSync) {
		syncer = board
	}
	ldg := ledger.New(db, syncer, logger)
	streaks := streak.NewCalculator(db)

	eventMgr := events.NewManager(flags.IsEnabled(features.FeatureEventHooksEnabled))
	defer eventMgr.Shutdown()

	// Notification dispatch lives outside this core; the hook below is its
	// subscription point.
	eventMgr.Subscribe(events.EventStreakMilestone, func(ctx context.Context, event events.Event) error {
		data, ok := event.Data.(events.StreakMilestoneData)
		if !ok {
			return nil
		}
		logger.Info("streak milestone reached",
			"user_id", data.UserID,
			"streak_days", data.StreakDays,
			"points_awarded", data.PointsAwarded,
		)
		return nil
	})

	svc := service.NewService(db, ldg, streaks, board, engine, eventMgr, flags, cfg.Rules.Path, logger)
	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
	})

	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Environment: cfg.Tracing.Environment,
	}); err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
	defer rateLimiter.Stop()

	// Setup router
	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	if cfg.Tracing.Enabled {
		r.Use(middleware.TracingMiddleware())
	}

	if flags.IsEnabled(features.FeatureRateLimiting) {
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.Security.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Routes
	r.Route("/users", func(r chi.Router) {
		r.Post("/", h.RegisterUser)
		r.Post("/{user_id}/check-in", h.CheckIn)
		r.Get("/{user_id}/balance", h.GetBalance)
		r.Get("/{user_id}/transactions", h.GetHistory)
		r.Get("/{user_id}/streak", h.GetStreak)
	})

	r.Route("/points", func(r chi.Router) {
		r.Post("/earn", h.Earn)
		r.Post("/redeem", h.Redeem)
		r.Post("/bonus", h.Bonus)
	})

	r.Get("/leaderboard", h.GetLeaderboard)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/rules/reload", h.ReloadRules)
		r.Post("/leaderboard/rebuild", h.RebuildLeaderboard)
	})

	r.Handle("/metrics", promhttp.Handler())

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Info("starting server",
		"addr", addr,
		"database", cfg.Database.Path,
		"redis_enabled", cfg.Redis.Enabled,
		"rules_version", engine.Version(),
	)

	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down server", "error", err)
		}

		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down tracer", "error", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
