package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wsfantasy/internal/api"
	"wsfantasy/internal/auth"
	"wsfantasy/internal/config"
	"wsfantasy/internal/db"
	"wsfantasy/internal/feed"
	"wsfantasy/internal/league"
	"wsfantasy/internal/logx"
	"wsfantasy/internal/quotes"
	"wsfantasy/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger, logCloser := logx.New(cfg.Log)
	defer logCloser.Close()

	var leagueStore league.Store
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		if cfg.AutoMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				logger.Error("migration failed", "err", err)
				os.Exit(1)
			}
		}
		leagueStore = store.NewPostgres(pool)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store; data is lost on restart")
		leagueStore = store.NewMemory()
	}

	prices, closeQuotes, err := quotes.FromConfig(ctx, cfg.Quotes, logger)
	if err != nil {
		logger.Error("quote provider init failed", "err", err)
		os.Exit(1)
	}
	defer closeQuotes()

	authClient := auth.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	svc := league.NewService(leagueStore, prices, logger)
	svc.SetDefaultStartingBalance(cfg.DefaultStartingBalance)
	svc.SetBatchDelay(cfg.Quotes.BatchDelay)

	hub := feed.NewHub(logger)
	defer hub.Close()

	server := api.New(cfg, logger, authClient, svc, prices, hub)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("wsf api listening", "addr", cfg.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
