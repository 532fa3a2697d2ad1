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

	"github.com/stocksim/trading-engine/internal/config"
	"github.com/stocksim/trading-engine/internal/ledger"
	"github.com/stocksim/trading-engine/internal/marketdata"
	"github.com/stocksim/trading-engine/internal/metrics"
	"github.com/stocksim/trading-engine/internal/store"
	"github.com/stocksim/trading-engine/internal/tournament"
	"github.com/stocksim/trading-engine/internal/user"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var rdb *redis.Client
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.Init(context.Background()); err != nil {
			slog.Error("schema init failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb = redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL())
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database_url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	hub := ledger.NewHub()
	go hub.Run()

	// --- Services ---
	ledgerSvc := ledger.NewService(st, hub)
	tournamentSvc := tournament.NewService(st)
	userSvc := user.NewService(st)
	quotes := marketdata.NewClient(marketdata.Options{
		BaseURL: cfg.Quote.BaseURL,
		APIKeys: cfg.QuoteKeys(),
		RPS:     cfg.Quote.RPS,
		Burst:   cfg.Quote.Burst,
		Cache:   rdb,
		TTL:     cfg.CacheTTL(),
	})

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
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
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
		// WebSocket endpoint for real-time trade updates.
		r.Get("/ws", hub.HandleWS)

		// Users.
		r.Post("/users/signup", userSvc.HandleSignup)
		r.Post("/users/login", userSvc.HandleLogin)
		r.Get("/users", userSvc.HandleList)

		// Accounts and trading.
		r.Get("/accounts", ledgerSvc.HandleListAccounts)
		r.Post("/accounts", ledgerSvc.HandleCreateAccount)
		r.Get("/accounts/dashboard", ledgerSvc.HandleDashboard)
		r.Get("/accounts/{accountID}", ledgerSvc.HandleGetAccount)
		r.Patch("/accounts/{accountID}", ledgerSvc.HandleRenameAccount)
		r.Delete("/accounts/{accountID}", ledgerSvc.HandleDeleteAccount)
		r.Post("/accounts/{accountID}/trade", ledgerSvc.HandleTrade)
		r.Post("/accounts/{accountID}/deposit", ledgerSvc.HandleDeposit)
		r.Post("/accounts/{accountID}/withdraw", ledgerSvc.HandleWithdraw)
		r.Get("/accounts/{accountID}/positions", ledgerSvc.HandleListPositions)
		r.Get("/accounts/{accountID}/transactions", ledgerSvc.HandleListTransactions)
		r.Get("/transactions/{txID}", ledgerSvc.HandleGetTransaction)

		// Tournaments.
		r.Get("/tournaments", tournamentSvc.HandleList)
		r.Post("/tournaments", tournamentSvc.HandleCreate)
		r.Get("/tournaments/user/{userID}", tournamentSvc.HandleForUser)
		r.Get("/tournaments/{tournamentID}", tournamentSvc.HandleGet)
		r.Post("/tournaments/{tournamentID}/enter", tournamentSvc.HandleEnter)
		r.Get("/tournaments/{tournamentID}/leaderboard", tournamentSvc.HandleLeaderboard)

		// Market data proxy.
		r.Get("/stocks/quote", quotes.HandleQuote)
		r.Get("/stocks/search", quotes.HandleSearch)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("trading-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down trading-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trading-engine stopped")
}
