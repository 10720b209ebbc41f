package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type PositionState string

const (
	PositionOpen   PositionState = "OPEN"
	PositionClosed PositionState = "CLOSED"
)

// Position aggregates the orders and trades of one net directional exposure.
// It closes exactly when quantity returns to zero with no pending orders
// attached; a closed position never reopens.
type Position struct {
	ID               int64
	Side             Side
	Quantity         decimal.Decimal
	ReservedQuantity decimal.Decimal
	State            PositionState

	orders []*Order
	trades []*Trade
}

// NewPosition opens a position from its initial trade; the trade's order
// counts as attached.
func NewPosition(id int64, initial *Trade) (*Position, error) {
	if initial == nil {
		return nil, errors.New("initial trade is required")
	}
	return &Position{
		ID:       id,
		Side:     initial.Side(),
		Quantity: initial.Quantity,
		State:    PositionOpen,
		orders:   []*Order{initial.Order},
		trades:   []*Trade{initial},
	}, nil
}

func (p *Position) IsClosed() bool { return p.State == PositionClosed }

func (p *Position) isCounter(s Side) bool { return p.Side != s }

// Contains reports whether the order is attached to this position.
func (p *Position) Contains(o *Order) bool {
	for _, attached := range p.orders {
		if attached == o {
			return true
		}
	}
	return false
}

// AddOrder attaches a pending order. Counter-side quantity is reserved in
// anticipation of the order reducing the position.
func (p *Position) AddOrder(o *Order) error {
	if o.State != OrderPending {
		return &OrderNotOpenError{OrderID: o.ID}
	}
	for _, attached := range p.orders {
		if attached.ID == o.ID {
			return &OrderAlreadyExistsError{OrderID: o.ID}
		}
	}
	p.orders = append(p.orders, o)
	if p.isCounter(o.Side) {
		p.ReservedQuantity = p.ReservedQuantity.Add(o.Quantity)
	}
	return nil
}

// ReleaseOrder drops the reservation held for an attached counter-side order
// that left the book without filling (canceled, rejected, or resolved into a
// child carrying its own reservation).
func (p *Position) ReleaseOrder(o *Order) {
	if !p.Contains(o) {
		return
	}
	if p.isCounter(o.Side) {
		p.ReservedQuantity = p.ReservedQuantity.Sub(o.Quantity)
	}
	p.checkClose()
}

// NotifyTrade applies a fill from an attached order. Matching side grows the
// position; the counter side shrinks it and releases the reservation.
func (p *Position) NotifyTrade(t *Trade) error {
	if !p.Contains(t.Order) {
		return fmt.Errorf("trade of order %d is not related to position %d", t.Order.ID, p.ID)
	}
	p.trades = append(p.trades, t)
	if p.isCounter(t.Side()) {
		p.ReservedQuantity = p.ReservedQuantity.Sub(t.Quantity)
		p.Quantity = p.Quantity.Sub(t.Quantity)
	} else {
		p.Quantity = p.Quantity.Add(t.Quantity)
	}
	p.checkClose()
	return nil
}

func (p *Position) checkClose() {
	if p.State != PositionClosed && p.Quantity.IsZero() && len(p.PendingOrders()) == 0 {
		p.State = PositionClosed
	}
}

// PendingOrders returns the attached orders still eligible for execution.
func (p *Position) PendingOrders() []*Order {
	var pending []*Order
	for _, o := range p.orders {
		if o.State == OrderPending {
			pending = append(pending, o)
		}
	}
	return pending
}

func (p *Position) Orders() []*Order { return p.orders }

func (p *Position) Trades() []*Trade { return p.trades }

// AveragePrice is the arithmetic mean of the recorded trade prices, not a
// volume-weighted average.
func (p *Position) AveragePrice() (decimal.Decimal, error) {
	if len(p.trades) == 0 {
		return decimal.Zero, errors.New("position has no trades")
	}
	sum := decimal.Zero
	for _, t := range p.trades {
		sum = sum.Add(t.ExecutedPrice)
	}
	return sum.Div(decimal.NewFromInt(int64(len(p.trades)))), nil
}
