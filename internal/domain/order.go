package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the counter side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderKind is a closed set: adding a kind means extending Order.process.
type OrderKind string

const (
	KindMarket OrderKind = "MARKET"
	// KindMarketQuote is a market order whose quantity is denominated in the
	// quote currency; the base quantity is derived at fill time.
	KindMarketQuote OrderKind = "MARKET_QUOTE"
	KindLimit       OrderKind = "LIMIT"
	// KindStopLimit resolves into a limit child order once the bar range
	// crosses its stop price.
	KindStopLimit OrderKind = "STOP_LIMIT"
)

type OrderState string

const (
	OrderCreated           OrderState = "CREATED"
	OrderPending           OrderState = "PENDING"
	OrderRejected          OrderState = "REJECTED"
	OrderCanceled          OrderState = "CANCELED"
	OrderExecuting         OrderState = "EXECUTING"
	OrderExecuted          OrderState = "EXECUTED"
	OrderPartiallyExecuted OrderState = "PARTIALLY_EXECUTED"
)

// ExecutionCriteria selects the bar price a market order fills at.
type ExecutionCriteria string

const (
	OnOpen         ExecutionCriteria = "on_open"
	OnCurrentClose ExecutionCriteria = "on_current_close"
)

// Order is the unit of trading intent. It is a tagged variant over
// OrderKind: Price is the limit price for limit and stop-limit orders,
// StopPrice the trigger for stop-limit orders, Criteria the fill policy for
// market orders. Quantity is fixed at creation. TakeProfit and StopLoss are
// stored but nothing triggers on them yet.
type Order struct {
	ID         int64
	Kind       OrderKind
	Side       Side
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	StopPrice  decimal.Decimal
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal

	Criteria ExecutionCriteria

	CreateTime   time.Time
	ExecutedTime time.Time
	CancelTime   time.Time

	State OrderState
}

// ExecutionResult is the outcome of processing an order against one candle: a trade
// for a simple order that filled, or a child order for a composite order
// that resolved one step. Never both.
type ExecutionResult struct {
	Trade *Trade
	Child *Order
}

func (r *ExecutionResult) IsTrade() bool { return r.Trade != nil }
func (r *ExecutionResult) IsChild() bool { return r.Child != nil }

// NewMarketOrder builds a market order for a base-asset quantity, filling at
// the bar's open by default.
func NewMarketOrder(id int64, createTime time.Time, side Side, quantity decimal.Decimal) (*Order, error) {
	if !quantity.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	return &Order{
		ID:         id,
		Kind:       KindMarket,
		Side:       side,
		Quantity:   quantity,
		Criteria:   OnOpen,
		CreateTime: createTime,
		State:      OrderCreated,
	}, nil
}

// NewMarketQuoteOrder builds a market order for a quote-currency amount.
func NewMarketQuoteOrder(id int64, createTime time.Time, side Side, quoteAmount decimal.Decimal) (*Order, error) {
	if !quoteAmount.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	return &Order{
		ID:         id,
		Kind:       KindMarketQuote,
		Side:       side,
		Quantity:   quoteAmount,
		CreateTime: createTime,
		State:      OrderCreated,
	}, nil
}

// NewLimitOrder builds a limit order. takeProfit and stopLoss may be zero.
func NewLimitOrder(id int64, createTime time.Time, side Side, quantity, price, takeProfit, stopLoss decimal.Decimal) (*Order, error) {
	if !quantity.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	if price.IsNegative() {
		return nil, ErrInvalidPrice
	}
	return &Order{
		ID:         id,
		Kind:       KindLimit,
		Side:       side,
		Quantity:   quantity,
		Price:      price,
		TakeProfit: takeProfit,
		StopLoss:   stopLoss,
		CreateTime: createTime,
		State:      OrderCreated,
	}, nil
}

// NewStopLimitOrder builds a stop-limit order: once the bar range crosses
// stopPrice it spawns a limit child at limitPrice.
func NewStopLimitOrder(id int64, createTime time.Time, side Side, quantity, stopPrice, limitPrice decimal.Decimal) (*Order, error) {
	if !quantity.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	if stopPrice.IsNegative() || limitPrice.IsNegative() {
		return nil, ErrInvalidPrice
	}
	return &Order{
		ID:         id,
		Kind:       KindStopLimit,
		Side:       side,
		Quantity:   quantity,
		Price:      limitPrice,
		StopPrice:  stopPrice,
		CreateTime: createTime,
		State:      OrderCreated,
	}, nil
}

// IsOpen reports whether the order is still eligible for execution.
func (o *Order) IsOpen() bool { return o.State == OrderPending }

func (o *Order) IsExecuted() bool {
	return o.State == OrderExecuted && !o.ExecutedTime.IsZero()
}

func (o *Order) IsCanceled() bool { return o.State == OrderCanceled }

// Cancel moves a created or pending order to canceled and records the time.
// It reports whether the cancel took effect.
func (o *Order) Cancel(t time.Time) bool {
	if o.State == OrderCreated || o.State == OrderPending {
		o.State = OrderCanceled
		o.CancelTime = t
		return true
	}
	return false
}

// Validate marks a filled order fully executed once the ledger update has
// committed.
func (o *Order) Validate() { o.State = OrderExecuted }

// Reject marks the order rejected.
func (o *Order) Reject() { o.State = OrderRejected }

// Execute runs the order's kind-specific processing against the candle.
// A (nil, nil) return means the order was not triggered and stays pending.
// Calling Execute on a non-pending order is an invariant violation.
func (o *Order) Execute(c *Candle) (*ExecutionResult, error) {
	if o.State != OrderPending {
		return nil, &OrderNotOpenError{OrderID: o.ID}
	}
	res, err := o.process(c)
	if err != nil || res == nil {
		return nil, err
	}
	if res.IsTrade() {
		if o.State != OrderExecuting && o.State != OrderExecuted {
			return nil, &InvalidExecutionStateError{OrderID: o.ID}
		}
	} else {
		o.State = OrderPartiallyExecuted
	}
	o.ExecutedTime = c.Time
	return res, nil
}

func (o *Order) process(c *Candle) (*ExecutionResult, error) {
	switch o.Kind {
	case KindMarket:
		o.State = OrderExecuting
		price := c.Open
		if o.Criteria == OnCurrentClose {
			price = c.Close
		}
		t, err := NewTrade(o, o.Quantity, price, c.Time)
		if err != nil {
			return nil, err
		}
		return &ExecutionResult{Trade: t}, nil

	case KindMarketQuote:
		o.State = OrderExecuting
		t, err := NewTrade(o, o.Quantity.Div(c.Close), c.Close, c.Time)
		if err != nil {
			return nil, err
		}
		return &ExecutionResult{Trade: t}, nil

	case KindLimit:
		if o.Side == SideBuy {
			if c.Low.GreaterThan(o.Price) {
				return nil, nil
			}
		} else {
			if c.High.LessThan(o.Price) {
				return nil, nil
			}
		}
		o.State = OrderExecuted
		t, err := NewTrade(o, o.Quantity, o.Price, c.Time)
		if err != nil {
			return nil, err
		}
		return &ExecutionResult{Trade: t}, nil

	case KindStopLimit:
		if o.Side == SideBuy {
			if c.High.LessThan(o.StopPrice) {
				return nil, nil
			}
		} else {
			if c.Low.GreaterThan(o.StopPrice) {
				return nil, nil
			}
		}
		// The child id is stamped by the broker when it enters the book.
		return &ExecutionResult{Child: &Order{
			Kind:       KindLimit,
			Side:       o.Side,
			Quantity:   o.Quantity,
			Price:      o.Price,
			CreateTime: c.Time,
			State:      OrderCreated,
		}}, nil

	default:
		return nil, fmt.Errorf("unknown order kind %q", o.Kind)
	}
}
