package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vitos/crypto_backtest/internal/domain"
	"github.com/vitos/crypto_backtest/internal/infrastructure/feed"
	"github.com/vitos/crypto_backtest/internal/infrastructure/logger"
	"github.com/vitos/crypto_backtest/internal/infrastructure/storage"
	"github.com/vitos/crypto_backtest/internal/usecase"
)

type Config struct {
	Data struct {
		Source     string    `yaml:"source"` // "csv" or "sqlite"
		CSVPath    string    `yaml:"csv_path"`
		SQLitePath string    `yaml:"sqlite_path"`
		Symbol     string    `yaml:"symbol"`
		Resolution int       `yaml:"resolution"`
		From       time.Time `yaml:"from"`
		To         time.Time `yaml:"to"`
	} `yaml:"data"`
	Broker struct {
		InitialMoney string `yaml:"initial_money"`
		InitialQuote string `yaml:"initial_quote"`
		Fee          string `yaml:"fee"`
	} `yaml:"broker"`
	Strategy struct {
		Name     string `yaml:"name"`
		Lookback int    `yaml:"lookback"`
		Size     string `yaml:"size"`
	} `yaml:"strategy"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	_ = godotenv.Load()

	configPath := "config/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	var (
		stream  domain.CandleStream
		results domain.ResultRepository
	)
	switch cfg.Data.Source {
	case "csv":
		csvStream, err := feed.OpenCSVStream(cfg.Data.CSVPath)
		if err != nil {
			log.Fatal("Failed to open csv stream", zap.Error(err))
		}
		defer csvStream.Close()
		stream = csvStream
	case "sqlite":
		store, err := storage.NewSQLiteStore(cfg.Data.SQLitePath)
		if err != nil {
			log.Fatal("Failed to init sqlite", zap.Error(err))
		}
		defer store.Close()
		stream = store.NewCandleStream(ctx, cfg.Data.Symbol, cfg.Data.Resolution, cfg.Data.From, cfg.Data.To)
		results = store
	default:
		log.Fatal("Unknown data source", zap.String("source", cfg.Data.Source))
	}

	brokerCfg := usecase.Config{
		InitialMoney: mustDecimal(log, cfg.Broker.InitialMoney, "broker.initial_money"),
		InitialQuote: mustDecimal(log, cfg.Broker.InitialQuote, "broker.initial_quote"),
		Fee:          mustDecimal(log, cfg.Broker.Fee, "broker.fee"),
		Data:         stream,
	}
	broker, err := usecase.NewBroker(brokerCfg, log)
	if err != nil {
		log.Fatal("Failed to build broker", zap.Error(err))
	}

	if cfg.Strategy.Name != "breakout" {
		log.Fatal("Unknown strategy", zap.String("name", cfg.Strategy.Name))
	}
	strategy, err := usecase.NewBreakoutStrategy(cfg.Strategy.Lookback, mustDecimal(log, cfg.Strategy.Size, "strategy.size"))
	if err != nil {
		log.Fatal("Failed to build strategy", zap.Error(err))
	}

	runner := usecase.NewRunner(broker, strategy, results, cfg.Data.Symbol, log)
	result, err := runner.Run(ctx)
	if err != nil {
		log.Fatal("Backtest failed", zap.Error(err))
	}

	fmt.Printf("strategy=%s symbol=%s money=%s quote=%s orders=%d trades=%d positions=%d closed=%d\n",
		result.Strategy, result.Symbol, result.FinalMoney, result.FinalQuote,
		result.Stats.Orders, result.Stats.Trades, result.Stats.Positions, result.Stats.ClosedPositions)
}

func mustDecimal(log *zap.Logger, value, field string) decimal.Decimal {
	if value == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		log.Fatal("Invalid decimal in config", zap.String("field", field), zap.String("value", value))
	}
	return d
}
