package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/vitos/crypto_backtest/internal/infrastructure/exchange"
	"github.com/vitos/crypto_backtest/internal/infrastructure/logger"
	"github.com/vitos/crypto_backtest/internal/infrastructure/storage"
)

func main() {
	_ = godotenv.Load()

	var (
		dbPath     = flag.String("db", "backtest.db", "sqlite database path")
		symbol     = flag.String("symbol", "BTCUSDT", "instrument symbol")
		interval   = flag.String("interval", "60", "bybit kline interval")
		resolution = flag.Int("resolution", 3600, "seconds per bar")
		fromStr    = flag.String("from", "", "start of range, RFC3339")
		toStr      = flag.String("to", "", "end of range, RFC3339; empty means now")
		follow     = flag.Bool("follow", false, "keep following live klines after the sync")
		level      = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	log, err := logger.NewLogger(*level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	from, err := time.Parse(time.RFC3339, *fromStr)
	if err != nil {
		log.Fatal("Invalid -from", zap.Error(err))
	}
	to := time.Now().UTC()
	if *toStr != "" {
		if to, err = time.Parse(time.RFC3339, *toStr); err != nil {
			log.Fatal("Invalid -to", zap.Error(err))
		}
	}

	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source := exchange.NewBybitSource(os.Getenv("BYBIT_REST_ENDPOINT"), os.Getenv("BYBIT_WS_ENDPOINT"), log)

	count, err := source.SyncCandles(ctx, store, *symbol, *interval, *resolution, from, to)
	if err != nil {
		log.Fatal("Sync failed", zap.Error(err))
	}
	log.Info("sync complete", zap.String("symbol", *symbol), zap.Int("candles", count))

	if *follow {
		if err := source.FollowKlines(ctx, store, *symbol, *interval, *resolution); err != nil && ctx.Err() == nil {
			log.Fatal("Live feed failed", zap.Error(err))
		}
	}
}
