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

	"github.com/atmx/betting-exchange/internal/api"
	"github.com/atmx/betting-exchange/internal/custody"
	"github.com/atmx/betting-exchange/internal/events"
	"github.com/atmx/betting-exchange/internal/exchange"
	"github.com/atmx/betting-exchange/internal/limits"
	"github.com/atmx/betting-exchange/internal/metrics"
	"github.com/atmx/betting-exchange/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := loadConfigFromEnv()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("store initialization failed", "err", err)
		os.Exit(1)
	}
	cleanup = append(cleanup, closeStore...)

	// --- Event fan-out ---
	wsHub := events.NewWSHub()
	go wsHub.Run(ctx)

	pub := events.Fanout{wsHub}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		cleanup = append(cleanup, func() { kp.Close() })
		pub = append(pub, kp)
		slog.Info("publishing events to Kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	// --- Engine ---
	ledger := custody.NewLedger()
	if len(cfg.Operators) == 0 {
		slog.Warn("OPERATORS not set, market administration is disabled")
	}
	engine := exchange.New(cfg.Engine, ledger,
		exchange.WithAuthorizer(cfg.Operators),
		exchange.WithLimiter(limits.NewExposureLimiter(cfg.MaxMarketExposure, cfg.MaxGroupExposure)),
		exchange.WithLogger(logger),
	)

	opts := []api.Option{api.WithLedger(ledger, cfg.Operators)}
	if cfg.MaxSteps > 0 {
		opts = append(opts, api.WithMaxSteps(cfg.MaxSteps))
	}
	svc := api.NewService(engine, st, pub, opts...)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+api.CallerHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"betting-exchange"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	// The websocket route sits outside the timeout middleware.
	r.Get("/api/v1/ws", wsHub.HandleWS)
	r.With(middleware.Timeout(30*time.Second)).Route("/api/v1", svc.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("betting-exchange listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down betting-exchange...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("betting-exchange stopped")
}

// openStore picks PostgreSQL, then Pebble, then memory, and optionally
// fronts the result with a Redis read-through cache.
func openStore(ctx context.Context, cfg config) (store.Store, []func(), error) {
	var (
		st      store.Store
		cleanup []func()
	)
	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		st = pg
		slog.Info("connected to PostgreSQL")
	case cfg.PebbleDir != "":
		ps, err := store.OpenPebble(cfg.PebbleDir)
		if err != nil {
			return nil, nil, err
		}
		cleanup = append(cleanup, func() {
			if err := ps.Close(); err != nil {
				slog.Error("pebble close failed", "err", err)
			}
		})
		st = ps
		slog.Info("opened Pebble store", "dir", cfg.PebbleDir)
	default:
		slog.Warn("DATABASE_URL and PEBBLE_DIR not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			for _, fn := range cleanup {
				fn()
			}
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, 30*time.Second)
		slog.Info("Redis cache enabled")
	}
	return st, cleanup, nil
}
