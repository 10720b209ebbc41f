package domain

import (
	"context"
	"time"
)

// CandleRepository defines storage operations for historical candles.
type CandleRepository interface {
	SaveCandles(ctx context.Context, symbol string, resolution int, candles []*Candle) error
	LoadCandles(ctx context.Context, symbol string, resolution int, from, to time.Time, limit, offset int) ([]*Candle, error)
	CountCandles(ctx context.Context, symbol string, resolution int, from, to time.Time) (int, error)
}

// ResultRepository persists finished backtest runs.
type ResultRepository interface {
	SaveResult(ctx context.Context, result *Result) error
	ListResults(ctx context.Context) ([]*Result, error)
}

// TradeRepository persists the trades recorded during a run.
type TradeRepository interface {
	SaveTrades(ctx context.Context, resultID int64, trades []*Trade) error
	ListTrades(ctx context.Context, resultID int64) ([]*TradeRecord, error)
}
