package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/crypto_backtest/internal/domain"
)

// Strategy is user trading logic driven once per bar.
type Strategy interface {
	// Name identifies the strategy in logs and stored results.
	Name() string
	// Initialize runs once before the first bar is processed.
	Initialize(b *Broker) error
	// OnNextData runs after the broker has finished processing a bar.
	// Orders submitted here are staged and become eligible on the next bar.
	OnNextData(b *Broker) error
}

// Runner drives a strategy over a broker until the candle stream drains,
// then snapshots the run into a Result.
type Runner struct {
	broker   *Broker
	strategy Strategy
	results  domain.ResultRepository
	symbol   string
	log      *zap.Logger
}

// NewRunner wires a broker and a strategy. results may be nil to skip
// persistence.
func NewRunner(broker *Broker, strategy Strategy, results domain.ResultRepository, symbol string, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		broker:   broker,
		strategy: strategy,
		results:  results,
		symbol:   symbol,
		log:      log,
	}
}

// Run executes the backtest loop: advance one bar, let the broker resolve
// its book, then hand control to the strategy. Per-order failures are
// logged and do not stop the run; structural errors do.
func (r *Runner) Run(ctx context.Context) (*domain.Result, error) {
	started := time.Now()
	if err := r.strategy.Initialize(r.broker); err != nil {
		return nil, err
	}

	bars := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		candle, err := r.broker.NextData()
		if err != nil {
			return nil, err
		}
		if candle == nil {
			break
		}
		bars++
		for _, tickErr := range r.broker.TickErrors() {
			r.log.Warn("tick error", zap.Time("bar", candle.Time), zap.Error(tickErr))
		}
		if err := r.strategy.OnNextData(r.broker); err != nil {
			return nil, err
		}
	}

	result := &domain.Result{
		Symbol:     r.symbol,
		Strategy:   r.strategy.Name(),
		StartedAt:  started,
		FinishedAt: time.Now(),
		FinalMoney: r.broker.TotalMoney(),
		FinalQuote: r.broker.TotalQuote(),
		Stats:      r.broker.Stats(),
	}
	r.log.Info("backtest finished",
		zap.String("strategy", result.Strategy),
		zap.String("symbol", r.symbol),
		zap.Int("bars", bars),
		zap.String("final_money", result.FinalMoney.String()),
		zap.String("final_quote", result.FinalQuote.String()),
		zap.Int("trades", result.Stats.Trades))

	if r.results != nil {
		if err := r.results.SaveResult(ctx, result); err != nil {
			return nil, err
		}
		if tradeRepo, ok := r.results.(domain.TradeRepository); ok {
			if err := tradeRepo.SaveTrades(ctx, result.ID, r.broker.Trades()); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}
