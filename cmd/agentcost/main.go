package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/agentcost/agentcost/config"
	"github.com/agentcost/agentcost/internal/api"
	"github.com/agentcost/agentcost/internal/auth"
	"github.com/agentcost/agentcost/internal/baseline"
	"github.com/agentcost/agentcost/internal/events"
	"github.com/agentcost/agentcost/internal/optimizer"
	"github.com/agentcost/agentcost/internal/pattern"
	"github.com/agentcost/agentcost/internal/pricing"
	"github.com/agentcost/agentcost/internal/recommend"
	"github.com/agentcost/agentcost/internal/seeder"
	"github.com/agentcost/agentcost/internal/telemetry"
	"github.com/agentcost/agentcost/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("agentcost", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}
	log.Println("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Println("Redis connected")

	// 5. Init auth
	authStore := auth.NewPostgresStore(pool)
	authMiddleware := auth.NewMiddleware(authStore, rdb)

	// 6. Init stores
	eventStore := events.NewPostgresStore(pool)
	baselineStore := baseline.NewPostgresStore(pool)
	pricingStore := pricing.NewPostgresStore(pool)
	recStore := recommend.NewPostgresStore(pool)

	// 7. Init engine components
	computer := baseline.NewComputer(eventStore, baselineStore, cfg.Engine)
	detector := baseline.NewDetector(eventStore, baselineStore, cfg.Engine)
	analyzer := pattern.NewAnalyzer(eventStore)
	tracker := recommend.NewTracker(recStore, cfg.Engine.CooldownDays)

	tracer := otel.GetTracerProvider().Tracer("agentcost")
	synthesizer := optimizer.NewSynthesizer(
		eventStore, computer, detector, analyzer, pricingStore, tracker, cfg.Engine, tracer,
	)

	// 8. Init rate limiter
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitRPM)

	// 9. Init handler
	handler := api.NewHandler(synthesizer, computer, analyzer, tracker, limiter, rdb)

	// 10. Seed test API key and pricing catalog if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestAPIKey(ctx, authStore)
		seeder.SeedPricingCatalog(ctx, pricingStore)
	}

	// 11. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"agentcost"}`))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		handler.Routes(r)
	})

	// 12. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("AgentCost starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
