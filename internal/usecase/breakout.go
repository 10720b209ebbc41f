package usecase

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/vitos/crypto_backtest/internal/domain"
)

// BreakoutStrategy buys when the close breaks above the highest close of the
// lookback window and exits when it falls below the lowest close.
type BreakoutStrategy struct {
	Lookback int
	Size     decimal.Decimal

	window []decimal.Decimal
}

func NewBreakoutStrategy(lookback int, size decimal.Decimal) (*BreakoutStrategy, error) {
	if lookback <= 0 {
		return nil, errors.New("lookback must be greater than zero")
	}
	if !size.IsPositive() {
		return nil, errors.New("size must be greater than zero")
	}
	return &BreakoutStrategy{Lookback: lookback, Size: size}, nil
}

func (s *BreakoutStrategy) Name() string { return "breakout" }

func (s *BreakoutStrategy) Initialize(b *Broker) error {
	s.window = s.window[:0]
	return nil
}

func (s *BreakoutStrategy) OnNextData(b *Broker) error {
	candle := b.CurrentData()
	if candle == nil {
		return nil
	}
	defer s.push(candle.Close)

	if len(s.window) < s.Lookback {
		return nil
	}

	long := b.OpenPosition() != nil && b.OpenPosition().Side == domain.SideBuy

	if !long && candle.Close.GreaterThan(s.highest()) {
		if _, err := b.Buy(s.Size); err != nil {
			return err
		}
		return nil
	}
	if long && candle.Close.LessThan(s.lowest()) {
		if _, err := b.Sell(s.Size); err != nil {
			return err
		}
	}
	return nil
}

func (s *BreakoutStrategy) push(close decimal.Decimal) {
	s.window = append(s.window, close)
	if len(s.window) > s.Lookback {
		s.window = s.window[1:]
	}
}

func (s *BreakoutStrategy) highest() decimal.Decimal {
	max := s.window[0]
	for _, v := range s.window[1:] {
		if v.GreaterThan(max) {
			max = v
		}
	}
	return max
}

func (s *BreakoutStrategy) lowest() decimal.Decimal {
	min := s.window[0]
	for _, v := range s.window[1:] {
		if v.LessThan(min) {
			min = v
		}
	}
	return min
}
