package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/cccasino/bankroll-engine/internal/bankroll"
	"github.com/cccasino/bankroll-engine/internal/breaker"
	"github.com/cccasino/bankroll-engine/internal/chain"
	"github.com/cccasino/bankroll-engine/internal/config"
	"github.com/cccasino/bankroll-engine/internal/events"
	"github.com/cccasino/bankroll-engine/internal/metrics"
	"github.com/cccasino/bankroll-engine/internal/settle"
	"github.com/cccasino/bankroll-engine/internal/store"
	"github.com/cccasino/bankroll-engine/internal/swap"
	"github.com/cccasino/bankroll-engine/internal/tiers"
	"github.com/cccasino/bankroll-engine/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if strings.EqualFold(cfg.LogLevel, "debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// --- Ledger ---
	var ledger store.Ledger
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		ledger = store.NewPostgresLedger(pool)
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
			ledger = store.NewCachedLedger(ledger, rdb, time.Hour)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory ledger (data will not persist)")
		ledger = store.NewMemoryLedger()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Chain client + signing wallets ---
	var hotClient, coldClient chain.Client
	if cfg.RPCURL != "" {
		hotKP, err := chain.ParseKeypair(cfg.HotWalletKey)
		if err != nil {
			slog.Error("hot wallet key", "err", err)
			os.Exit(1)
		}
		hotClient = chain.NewRPCClient(cfg.RPCURL, hotKP, cfg.ConfirmTimeout)

		coldClient = hotClient
		if cfg.ColdWalletKey != "" {
			coldKP, err := chain.ParseKeypair(cfg.ColdWalletKey)
			if err != nil {
				slog.Error("cold wallet key", "err", err)
				os.Exit(1)
			}
			coldClient = chain.NewRPCClient(cfg.RPCURL, coldKP, cfg.ConfirmTimeout)
		}
		slog.Info("chain RPC client ready",
			"url", cfg.RPCURL, "hot_key", cfg.MaskedHotKey(), "cold_key", cfg.MaskedColdKey())
	} else {
		slog.Warn("RPC_URL not set, using stub chain client (development mode)")
		stub := chain.NewStubClient()
		hotClient = stub
		coldClient = stub
	}

	policy := wallet.RetryPolicy{MaxAttempts: cfg.RetryAttempts}
	hotLayer := wallet.NewLayer(hotClient, policy, logger)
	coldLayer := wallet.NewLayer(coldClient, policy, logger)

	brk := breaker.New(breaker.Limits{
		MaxSinglePayout:   cfg.MaxSinglePayout,
		MaxDailyPayout:    cfg.MaxDailyPayout,
		MinHotReserve:     cfg.MinHotReserve,
		MaxSingleTransfer: cfg.MaxSingleTransfer,
		MaxDailyTransfer:  cfg.MaxDailyTransfer,
	})

	// --- Events ---
	var producer *events.Producer
	if cfg.KafkaBrokers != "" {
		producer = events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		cleanup = append(cleanup, func() { producer.Close() })
		slog.Info("Kafka producer ready", "topic", cfg.KafkaTopic)
	}

	// --- WebSocket hub ---
	wsHub := settle.NewWSHub()
	go wsHub.Run()

	// --- Settlement service ---
	svc := settle.NewService(ledger, hotLayer, hotClient, brk, tiers.DefaultTable(), settle.Config{
		TokenMint:      cfg.TokenMint,
		HotWallet:      cfg.HotWallet,
		ColdWallet:     cfg.ColdWallet,
		StakePerSample: cfg.StakePerSample,
		MinSamples:     cfg.MinSamples,
		MaxSamples:     cfg.MaxSamples,
		CommitTTL:      cfg.CommitTTL,
	}, wsHub, producer, logger)

	// --- Bankroll manager ---
	manager := bankroll.NewManager(ledger, brk, coldLayer, hotLayer, hotClient,
		swap.NewClient(cfg.SwapAPIURL), bankroll.Config{
			TokenMint:          cfg.TokenMint,
			BaseMint:           cfg.BaseMint,
			ColdWallet:         cfg.ColdWallet,
			HotWallet:          cfg.HotWallet,
			HotLowWater:        cfg.HotLowWater,
			HotTarget:          cfg.HotTarget,
			TopUpInterval:      cfg.TopUpInterval,
			BuybackInterval:    cfg.BuybackInterval,
			BuybackMinProceeds: cfg.BuybackMinProceeds,
			FeeBufferLamports:  cfg.FeeBufferLamports,
			MaxPriceImpactBps:  cfg.MaxPriceImpactBps,
			SlippageBps:        cfg.SlippageBps,
			SweepInterval:      cfg.SweepInterval,
		}, logger)

	runCtx, stopLoops := context.WithCancel(context.Background())
	go manager.Run(runCtx)

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
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
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
		w.Write([]byte(`{"status":"ok","service":"bankroll-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for settlement broadcasts.
		r.Get("/ws", wsHub.HandleWS)
		svc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("bankroll-engine listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopLoops()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down bankroll-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("bankroll-engine stopped")
}
