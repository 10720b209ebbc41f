package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Trade is the immutable record of a completed fill.
type Trade struct {
	ID            int64
	Order         *Order
	Quantity      decimal.Decimal
	ExecutedPrice decimal.Decimal
	ExecutedTime  time.Time
}

// NewTrade records a fill for an order that is currently executing. An order
// in any other state cannot legally produce a trade.
func NewTrade(order *Order, quantity, price decimal.Decimal, executedTime time.Time) (*Trade, error) {
	if order == nil {
		return nil, errors.New("trade requires an order")
	}
	if order.State != OrderExecuting && order.State != OrderExecuted {
		return nil, &InvalidExecutionStateError{OrderID: order.ID}
	}
	return &Trade{
		Order:         order,
		Quantity:      quantity,
		ExecutedPrice: price,
		ExecutedTime:  executedTime,
	}, nil
}

// Side is inherited from the trade's order.
func (t *Trade) Side() Side { return t.Order.Side }

// Notional returns quantity times executed price.
func (t *Trade) Notional() decimal.Decimal {
	return t.Quantity.Mul(t.ExecutedPrice)
}

// TradeRecord is the flattened, persisted form of a trade, tied to the run
// that produced it.
type TradeRecord struct {
	ResultID   int64
	TradeID    int64
	OrderID    int64
	Side       Side
	Kind       OrderKind
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	ExecutedAt time.Time
}
