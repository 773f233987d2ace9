package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/predyx/market-engine/internal/config"
	"github.com/predyx/market-engine/internal/engine"
	"github.com/predyx/market-engine/internal/metrics"
	"github.com/predyx/market-engine/internal/pricing"
	"github.com/predyx/market-engine/internal/risk"
	"github.com/predyx/market-engine/internal/service"
	"github.com/predyx/market-engine/internal/store"
)

func main() {
	cfgPath := os.Getenv("CONFIG_FILE")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			ttl := time.Duration(cfg.Redis.CacheTTLSec) * time.Second
			st = store.NewCachedStore(st, rdb, ttl)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database.url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Exposure limits ---
	var limiter *risk.ExposureLimiter
	perMarket, perCategory := cfg.RiskCaps()
	if perMarket.IsPositive() || perCategory.IsPositive() {
		limiter = risk.NewExposureLimiter(perMarket, perCategory)
	}

	// --- Matching engine ---
	pricer := pricing.New(cfg.Engine.PriceWindow, decimal.NewFromFloat(cfg.Engine.Alpha))
	eng := engine.New(st, pricer, limiter)
	if err := eng.Bootstrap(context.Background()); err != nil {
		slog.Error("bootstrap failed", "err", err)
		os.Exit(1)
	}
	for _, m := range eng.ListMarkets() {
		if m.Status == "open" {
			metrics.ActiveMarkets.Inc()
		}
	}

	// --- WebSocket hub ---
	wsHub := service.NewWSHub()
	go wsHub.Run()

	// --- HTTP service ---
	startingBalance, err := cfg.StartingBalance()
	if err != nil {
		slog.Error("invalid starting balance", "err", err)
		os.Exit(1)
	}
	svc := service.NewService(eng, startingBalance, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(time.Duration(cfg.Server.TimeoutSec) * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-ID")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"market-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time price updates.
		r.Get("/ws", wsHub.HandleWS)

		// Users.
		r.Post("/users", svc.CreateUser)
		r.Get("/users/{userID}", svc.GetUser)

		// Market management.
		r.Get("/markets", svc.ListMarkets)
		r.Post("/markets", svc.CreateMarket)
		r.Get("/markets/{marketID}", svc.GetMarket)
		r.Get("/markets/{marketID}/price", svc.GetPrice)
		r.Get("/markets/{marketID}/trades", svc.GetTrades)

		// Order placement and matching.
		r.Post("/orders", svc.SubmitOrder)
		r.Get("/orders/{orderID}", svc.GetOrder)
		r.Post("/orders/{orderID}/cancel", svc.CancelOrder)

		// Position queries.
		r.Get("/positions/{userID}", svc.GetPositions)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("market-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	grace := time.Duration(cfg.Server.ShutdownGraceSec) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	slog.Info("shutting down market-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("market-engine stopped")
}
