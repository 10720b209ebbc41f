package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotEnoughMoney  = errors.New("broker has not enough money")
	ErrNotEnoughQuote  = errors.New("broker has not enough quote")
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	ErrInvalidPrice    = errors.New("price cannot be negative")
)

// OrderAlreadyExistsError reports a duplicate order id submission.
type OrderAlreadyExistsError struct {
	OrderID int64
}

func (e *OrderAlreadyExistsError) Error() string {
	return fmt.Sprintf("order %d already exists", e.OrderID)
}

// OrderNotOpenError reports an order found in a non-pending state where only
// pending orders are legal. It indicates a prior bug and is never retried.
type OrderNotOpenError struct {
	OrderID int64
}

func (e *OrderNotOpenError) Error() string {
	return fmt.Sprintf("order %d is not open", e.OrderID)
}

// UncancelableOrderError reports a cancel attempt on a terminal order.
type UncancelableOrderError struct {
	OrderID int64
}

func (e *UncancelableOrderError) Error() string {
	return fmt.Sprintf("order %d cannot be canceled", e.OrderID)
}

// InvalidExecutionStateError reports an order that produced a fill while in
// a state that forbids it.
type InvalidExecutionStateError struct {
	OrderID int64
}

func (e *InvalidExecutionStateError) Error() string {
	return fmt.Sprintf("order %d was executed but its state is invalid", e.OrderID)
}

// NotEnoughMoneyError reports a buy the cash balance cannot cover.
type NotEnoughMoneyError struct {
	OrderID int64
}

func (e *NotEnoughMoneyError) Error() string {
	return fmt.Sprintf("not enough money to cover order %d", e.OrderID)
}

func (e *NotEnoughMoneyError) Unwrap() error { return ErrNotEnoughMoney }

// NotEnoughQuoteError reports a sell the quote holdings cannot cover.
type NotEnoughQuoteError struct {
	OrderID int64
}

func (e *NotEnoughQuoteError) Error() string {
	return fmt.Sprintf("not enough quote to cover order %d", e.OrderID)
}

func (e *NotEnoughQuoteError) Unwrap() error { return ErrNotEnoughQuote }
