package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/batr/trading-engine/internal/config"
	"github.com/batr/trading-engine/internal/ledger"
	"github.com/batr/trading-engine/internal/market"
	"github.com/batr/trading-engine/internal/metrics"
	"github.com/batr/trading-engine/internal/store"
	"github.com/batr/trading-engine/internal/trading"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.LoadFromEnv()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			slog.Error("schema setup failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Price engine ---
	// Resume from the last persisted tick so a restart doesn't reset the chart.
	startPrice := cfg.StartPrice
	if price, err := st.LastPrice(context.Background()); err == nil {
		startPrice = price
		slog.Info("resuming price from store", "price", price)
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.Warn("last price lookup failed", "err", err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	engine := market.NewEngine(rng, startPrice, time.Now())
	history := market.NewHistory(cfg.HistorySize)

	// --- WebSocket hub ---
	wsHub := trading.NewWSHub(history)
	go wsHub.Run()

	// --- Ledger ---
	book := ledger.New(st, ledger.Config{InitialCash: cfg.InitialCash})

	// --- Tick loop ---
	tickCtx, stopTicks := context.WithCancel(context.Background())
	defer stopTicks()
	ticker := &market.Ticker{
		Engine:   engine,
		History:  history,
		Hub:      wsHub,
		Ledger:   book,
		Store:    st,
		Interval: cfg.TickInterval,
	}
	go ticker.Run(tickCtx)

	// --- Trading service ---
	svc := trading.NewService(book, st, history)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trading-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for the real-time price feed.
		r.Get("/ws", wsHub.HandleWS)

		// Price snapshot.
		r.Get("/price", svc.GetPrice)

		// Position lifecycle.
		r.Post("/positions/open", svc.OpenPosition)
		r.Post("/positions/close", svc.ClosePosition)
		r.Get("/positions/{player}", svc.GetPositions)

		// Player state and history.
		r.Get("/players/{player}", svc.GetPlayer)
		r.Get("/players/{player}/history", svc.GetPlayerHistory)
		r.Get("/players/{player}/stats", svc.GetPlayerStats)

		// Rankings.
		r.Get("/leaderboard", svc.GetLeaderboard)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("trading-engine listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopTicks()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down trading-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trading-engine stopped")
}
