package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wsfantasy/internal/config"
	"wsfantasy/internal/db"
	"wsfantasy/internal/league"
	"wsfantasy/internal/logx"
	"wsfantasy/internal/quotes"
	"wsfantasy/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger, logCloser := logx.New(cfg.Log)
	defer logCloser.Close()

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

	prices, closeQuotes, err := quotes.FromConfig(ctx, cfg.Quotes, logger)
	if err != nil {
		logger.Error("quote provider init failed", "err", err)
		os.Exit(1)
	}
	defer closeQuotes()

	svc := league.NewService(store.NewPostgres(pool), prices, logger)
	svc.SetBatchDelay(cfg.Quotes.BatchDelay)

	if cfg.RunOnce {
		if err := runValuation(ctx, svc, logger); err != nil {
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.ValuationEvery)
	defer ticker.Stop()

	logger.Info("worker started", "valuation_every", cfg.ValuationEvery.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			_ = runValuation(ctx, svc, logger)
		}
	}
}

func runValuation(ctx context.Context, svc *league.Service, logger *slog.Logger) error {
	res, err := svc.RefreshValuations(ctx)
	if err != nil {
		logger.Error("valuation refresh failed", "err", err)
		return err
	}
	logger.Info("valuation refresh complete",
		"leagues", res.Leagues,
		"members", res.Members,
		"quoted", res.Quoted,
		"completed", res.Completed,
	)
	return nil
}
