package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stats summarizes the order book and position history of a finished run.
type Stats struct {
	Orders          int
	PendingOrders   int
	CanceledOrders  int
	RejectedOrders  int
	ExecutedOrders  int
	Trades          int
	Positions       int
	ClosedPositions int
}

// Result is one persisted backtest run.
type Result struct {
	ID         int64
	Symbol     string
	Strategy   string
	StartedAt  time.Time
	FinishedAt time.Time
	FinalMoney decimal.Decimal
	FinalQuote decimal.Decimal
	Stats      Stats
}
