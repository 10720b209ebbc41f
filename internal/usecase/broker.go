package usecase

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_backtest/internal/domain"
)

// orderQueue is an insertion-ordered set of orders keyed by id. Iteration
// order is submission order.
type orderQueue struct {
	ids    []int64
	orders map[int64]*domain.Order
}

func newOrderQueue() *orderQueue {
	return &orderQueue{orders: make(map[int64]*domain.Order)}
}

func (q *orderQueue) add(o *domain.Order) {
	if _, ok := q.orders[o.ID]; ok {
		return
	}
	q.ids = append(q.ids, o.ID)
	q.orders[o.ID] = o
}

func (q *orderQueue) has(id int64) bool {
	_, ok := q.orders[id]
	return ok
}

func (q *orderQueue) remove(id int64) {
	if _, ok := q.orders[id]; !ok {
		return
	}
	delete(q.orders, id)
	for i, existing := range q.ids {
		if existing == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			break
		}
	}
}

func (q *orderQueue) list() []*domain.Order {
	out := make([]*domain.Order, 0, len(q.ids))
	for _, id := range q.ids {
		out = append(out, q.orders[id])
	}
	return out
}

func (q *orderQueue) clear() {
	q.ids = q.ids[:0]
	q.orders = make(map[int64]*domain.Order)
}

func (q *orderQueue) len() int { return len(q.ids) }

// Config is consumed once at broker construction.
type Config struct {
	InitialMoney decimal.Decimal
	InitialQuote decimal.Decimal
	Fee          decimal.Decimal
	Data         domain.CandleStream
}

// Broker owns the cash/asset ledger, every order it has ever accepted, the
// trades recorded against them and the current position. A broker is a
// single-threaded unit of state: one instance per backtest run, nothing
// shared between instances.
type Broker struct {
	log *zap.Logger

	availableMoney decimal.Decimal
	reservedMoney  decimal.Decimal
	availableQuote decimal.Decimal
	reservedQuote  decimal.Decimal
	fee            decimal.Decimal

	data    domain.CandleStream
	current *domain.Candle
	last    *domain.Candle

	orders         map[int64]*domain.Order
	createdOrders  *orderQueue
	pendingOrders  *orderQueue
	canceledOrders map[int64]*domain.Order
	rejectedOrders map[int64]*domain.Order
	executedOrders map[int64]*domain.Order

	trades          []*domain.Trade
	openPosition    *domain.Position
	closedPositions []*domain.Position

	nextOrderID    int64
	nextTradeID    int64
	nextPositionID int64

	tickErrs []error
}

// NewBroker builds a broker over the configured candle stream and primes the
// first candle so strategies observe a current bar before trading starts.
func NewBroker(cfg Config, log *zap.Logger) (*Broker, error) {
	if cfg.Data == nil {
		return nil, errors.New("candle stream is required")
	}
	if cfg.Fee.IsNegative() {
		return nil, errors.New("fee cannot be negative")
	}
	if log == nil {
		log = zap.NewNop()
	}
	b := &Broker{
		log:            log,
		availableMoney: cfg.InitialMoney,
		availableQuote: cfg.InitialQuote,
		fee:            cfg.Fee,
		data:           cfg.Data,
		orders:         make(map[int64]*domain.Order),
		createdOrders:  newOrderQueue(),
		pendingOrders:  newOrderQueue(),
		canceledOrders: make(map[int64]*domain.Order),
		rejectedOrders: make(map[int64]*domain.Order),
		executedOrders: make(map[int64]*domain.Order),
	}
	c, err := cfg.Data.Next()
	if err != nil {
		return nil, err
	}
	b.current = c
	return b, nil
}

func (b *Broker) CurrentData() *domain.Candle { return b.current }

// PreviousData returns the bar before the current one, or nil on the first
// tick.
func (b *Broker) PreviousData() *domain.Candle { return b.last }

func (b *Broker) CurrentTime() time.Time {
	if b.current == nil {
		return time.Time{}
	}
	return b.current.Time
}

func (b *Broker) AvailableMoney() decimal.Decimal { return b.availableMoney }
func (b *Broker) ReservedMoney() decimal.Decimal  { return b.reservedMoney }
func (b *Broker) AvailableQuote() decimal.Decimal { return b.availableQuote }
func (b *Broker) ReservedQuote() decimal.Decimal  { return b.reservedQuote }

// TotalMoney is available plus reserved cash.
func (b *Broker) TotalMoney() decimal.Decimal {
	return b.availableMoney.Add(b.reservedMoney)
}

// TotalQuote is available plus reserved quote-asset holdings.
func (b *Broker) TotalQuote() decimal.Decimal {
	return b.availableQuote.Add(b.reservedQuote)
}

// TickErrors returns the recoverable failures recorded during the last
// NextData call. The slice is cleared at the start of every tick.
func (b *Broker) TickErrors() []error { return b.tickErrs }

func (b *Broker) OpenPosition() *domain.Position      { return b.openPosition }
func (b *Broker) ClosedPositions() []*domain.Position { return b.closedPositions }
func (b *Broker) Trades() []*domain.Trade             { return b.trades }

// Order returns the order with the given id, or nil.
func (b *Broker) Order(id int64) *domain.Order { return b.orders[id] }

// PendingOrders returns the orders currently eligible for execution, in
// submission order.
func (b *Broker) PendingOrders() []*domain.Order { return b.pendingOrders.list() }

// AddMoney deposits cash into the available balance.
func (b *Broker) AddMoney(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.New("cannot add negative money")
	}
	b.availableMoney = b.availableMoney.Add(amount)
	return nil
}

// ExtractMoney withdraws cash from the available balance.
func (b *Broker) ExtractMoney(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.New("cannot extract negative money")
	}
	if b.availableMoney.LessThan(amount) {
		return domain.ErrNotEnoughMoney
	}
	b.availableMoney = b.availableMoney.Sub(amount)
	return nil
}

// Stats snapshots order, trade and position counts plus the staged orders
// still waiting for their first tick.
func (b *Broker) Stats() domain.Stats {
	positions := len(b.closedPositions)
	if b.openPosition != nil {
		positions++
	}
	return domain.Stats{
		Orders:          len(b.orders),
		PendingOrders:   b.pendingOrders.len() + b.createdOrders.len(),
		CanceledOrders:  len(b.canceledOrders),
		RejectedOrders:  len(b.rejectedOrders),
		ExecutedOrders:  len(b.executedOrders),
		Trades:          len(b.trades),
		Positions:       positions,
		ClosedPositions: len(b.closedPositions),
	}
}

// AddMarketOrder stages a market order for a base-asset quantity. It becomes
// eligible for execution on the next tick.
func (b *Broker) AddMarketOrder(side domain.Side, quantity decimal.Decimal) (*domain.Order, error) {
	o, err := domain.NewMarketOrder(b.nextID(), b.CurrentTime(), side, quantity)
	if err != nil {
		return nil, err
	}
	return b.submit(o)
}

// AddMarketQuoteOrder stages a market order for a quote-currency amount.
func (b *Broker) AddMarketQuoteOrder(side domain.Side, quoteAmount decimal.Decimal) (*domain.Order, error) {
	o, err := domain.NewMarketQuoteOrder(b.nextID(), b.CurrentTime(), side, quoteAmount)
	if err != nil {
		return nil, err
	}
	return b.submit(o)
}

// AddLimitOrder stages a limit order and reserves the balance it will spend:
// quantity*price of cash for buys, quantity of quote for sells. takeProfit
// and stopLoss may be zero; they are stored but never trigger.
func (b *Broker) AddLimitOrder(side domain.Side, quantity, price, takeProfit, stopLoss decimal.Decimal) (*domain.Order, error) {
	o, err := domain.NewLimitOrder(b.nextID(), b.CurrentTime(), side, quantity, price, takeProfit, stopLoss)
	if err != nil {
		return nil, err
	}
	if err := b.reserveFor(o); err != nil {
		o.Reject()
		b.orders[o.ID] = o
		b.rejectedOrders[o.ID] = o
		return nil, err
	}
	return b.submit(o)
}

// AddStopLimitOrder stages a stop-limit order. The reservation covers its
// limit child, which inherits it on spawn.
func (b *Broker) AddStopLimitOrder(side domain.Side, quantity, stopPrice, limitPrice decimal.Decimal) (*domain.Order, error) {
	o, err := domain.NewStopLimitOrder(b.nextID(), b.CurrentTime(), side, quantity, stopPrice, limitPrice)
	if err != nil {
		return nil, err
	}
	if err := b.reserveFor(o); err != nil {
		o.Reject()
		b.orders[o.ID] = o
		b.rejectedOrders[o.ID] = o
		return nil, err
	}
	return b.submit(o)
}

// Buy stages a market buy for the given base quantity.
func (b *Broker) Buy(quantity decimal.Decimal) (*domain.Order, error) {
	return b.AddMarketOrder(domain.SideBuy, quantity)
}

// Sell stages a market sell for the given base quantity.
func (b *Broker) Sell(quantity decimal.Decimal) (*domain.Order, error) {
	return b.AddMarketOrder(domain.SideSell, quantity)
}

// CancelOrder cancels a created or pending order, releasing anything it
// reserved. Canceling a terminal order fails with UncancelableOrderError.
func (b *Broker) CancelOrder(id int64) error {
	o, ok := b.orders[id]
	if !ok {
		return &domain.UncancelableOrderError{OrderID: id}
	}
	if !o.Cancel(b.CurrentTime()) {
		return &domain.UncancelableOrderError{OrderID: id}
	}
	b.releaseFor(o)
	b.createdOrders.remove(id)
	b.pendingOrders.remove(id)
	b.canceledOrders[id] = o
	if b.openPosition != nil {
		b.openPosition.ReleaseOrder(o)
		b.retireClosedPosition()
	}
	b.log.Debug("order canceled", zap.Int64("order_id", id))
	return nil
}

// NextData advances the backtest by one bar and drives all pending orders to
// resolution against it. It returns the new candle, or nil once the stream
// is exhausted. Recoverable per-order failures are collected into
// TickErrors; a non-nil error is a structural invariant violation that
// aborts the tick.
func (b *Broker) NextData() (*domain.Candle, error) {
	b.tickErrs = b.tickErrs[:0]

	c, err := b.data.Next()
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	b.last = b.current
	b.current = c

	// Staged orders become eligible one bar after submission: an order
	// placed while reacting to bar N first executes against bar N+1.
	for _, o := range b.createdOrders.list() {
		o.State = domain.OrderPending
		b.pendingOrders.add(o)
	}
	b.createdOrders.clear()

	if err := b.processOrders(b.pendingOrders.list()); err != nil {
		return nil, err
	}
	return c, nil
}

// processOrders scans the queue once in submission order, then repeats with
// exactly the subset of orders spawned during the scan, until a pass spawns
// nothing. The worklist bounds composite resolution by queue size rather
// than call-stack depth.
func (b *Broker) processOrders(queue []*domain.Order) error {
	for len(queue) > 0 {
		var spawned []*domain.Order
		for _, o := range queue {
			if o.State != domain.OrderPending {
				return &domain.OrderNotOpenError{OrderID: o.ID}
			}
			// Attach before execution so counter-side quantity is
			// reserved on the position for the duration of the order.
			if b.openPosition != nil && !b.openPosition.IsClosed() && !b.openPosition.Contains(o) {
				if err := b.openPosition.AddOrder(o); err != nil {
					return err
				}
			}

			res, err := o.Execute(b.current)
			if err != nil {
				return err
			}
			if res == nil {
				continue // not triggered, stays pending for future bars
			}

			if res.IsTrade() {
				if err := b.settleTrade(o, res.Trade); err != nil {
					return err
				}
				continue
			}

			child := res.Child
			child.ID = b.nextID()
			child.State = domain.OrderPending
			if _, exists := b.orders[child.ID]; exists {
				return &domain.OrderAlreadyExistsError{OrderID: child.ID}
			}
			b.orders[child.ID] = child
			b.pendingOrders.remove(o.ID)
			b.executedOrders[o.ID] = o
			// The parent's position reservation moves to the child once
			// the child is attached on the next pass.
			if b.openPosition != nil {
				b.openPosition.ReleaseOrder(o)
				b.retireClosedPosition()
			}
			b.pendingOrders.add(child)
			spawned = append(spawned, child)
			b.log.Debug("composite order resolved",
				zap.Int64("parent_id", o.ID),
				zap.Int64("child_id", child.ID))
		}
		queue = spawned
	}
	return nil
}

// settleTrade applies a fill to the ledger and the position. A ledger
// failure rejects the order, records the error for the tick and leaves the
// rest of the queue untouched.
func (b *Broker) settleTrade(o *domain.Order, trade *domain.Trade) error {
	if err := b.applyLedger(trade); err != nil {
		// State mutation happens-before the error is recorded: callers
		// observe the rejected order and then the tick error.
		o.Reject()
		b.pendingOrders.remove(o.ID)
		b.rejectedOrders[o.ID] = o
		if b.openPosition != nil {
			b.openPosition.ReleaseOrder(o)
			b.retireClosedPosition()
		}
		b.tickErrs = append(b.tickErrs, err)
		b.log.Warn("order rejected", zap.Int64("order_id", o.ID), zap.Error(err))
		return nil
	}

	b.nextTradeID++
	trade.ID = b.nextTradeID
	b.trades = append(b.trades, trade)

	if b.openPosition == nil {
		b.nextPositionID++
		pos, err := domain.NewPosition(b.nextPositionID, trade)
		if err != nil {
			return err
		}
		b.openPosition = pos
		b.log.Debug("position opened",
			zap.Int64("position_id", pos.ID),
			zap.Int64("order_id", o.ID))
	} else {
		if err := b.openPosition.NotifyTrade(trade); err != nil {
			return err
		}
	}

	o.Validate()
	b.pendingOrders.remove(o.ID)
	b.executedOrders[o.ID] = o
	b.retireClosedPosition()
	return nil
}

// applyLedger moves balances by exactly the trade's notional. Market kinds
// pay from the available balance; limit orders release the amount reserved
// at submission. The credited side is charged the fee.
func (b *Broker) applyLedger(t *domain.Trade) error {
	o := t.Order
	notional := t.Notional()
	if o.Side == domain.SideBuy {
		if o.Kind == domain.KindLimit {
			b.reservedMoney = b.reservedMoney.Sub(notional)
		} else {
			if b.availableMoney.LessThan(notional) {
				return &domain.NotEnoughMoneyError{OrderID: o.ID}
			}
			b.availableMoney = b.availableMoney.Sub(notional)
		}
		b.availableQuote = b.availableQuote.Add(b.afterFee(t.Quantity))
		return nil
	}

	if o.Kind == domain.KindLimit {
		b.reservedQuote = b.reservedQuote.Sub(t.Quantity)
	} else {
		if b.availableQuote.LessThan(t.Quantity) {
			return &domain.NotEnoughQuoteError{OrderID: o.ID}
		}
		b.availableQuote = b.availableQuote.Sub(t.Quantity)
	}
	b.availableMoney = b.availableMoney.Add(b.afterFee(notional))
	return nil
}

func (b *Broker) afterFee(v decimal.Decimal) decimal.Decimal {
	return v.Sub(v.Mul(b.fee))
}

// reserveFor earmarks the balance a limit or stop-limit order will spend.
func (b *Broker) reserveFor(o *domain.Order) error {
	switch o.Kind {
	case domain.KindLimit, domain.KindStopLimit:
	default:
		return nil
	}
	if o.Side == domain.SideBuy {
		notional := o.Quantity.Mul(o.Price)
		if b.availableMoney.LessThan(notional) {
			return &domain.NotEnoughMoneyError{OrderID: o.ID}
		}
		b.availableMoney = b.availableMoney.Sub(notional)
		b.reservedMoney = b.reservedMoney.Add(notional)
		return nil
	}
	if b.availableQuote.LessThan(o.Quantity) {
		return &domain.NotEnoughQuoteError{OrderID: o.ID}
	}
	b.availableQuote = b.availableQuote.Sub(o.Quantity)
	b.reservedQuote = b.reservedQuote.Add(o.Quantity)
	return nil
}

// releaseFor returns a reservation to the available balance when the order
// leaves the book without filling.
func (b *Broker) releaseFor(o *domain.Order) {
	switch o.Kind {
	case domain.KindLimit, domain.KindStopLimit:
	default:
		return
	}
	if o.Side == domain.SideBuy {
		notional := o.Quantity.Mul(o.Price)
		b.reservedMoney = b.reservedMoney.Sub(notional)
		b.availableMoney = b.availableMoney.Add(notional)
		return
	}
	b.reservedQuote = b.reservedQuote.Sub(o.Quantity)
	b.availableQuote = b.availableQuote.Add(o.Quantity)
}

func (b *Broker) nextID() int64 {
	b.nextOrderID++
	return b.nextOrderID
}

func (b *Broker) submit(o *domain.Order) (*domain.Order, error) {
	if _, exists := b.orders[o.ID]; exists {
		return nil, &domain.OrderAlreadyExistsError{OrderID: o.ID}
	}
	b.orders[o.ID] = o
	b.createdOrders.add(o)
	b.log.Debug("order staged",
		zap.Int64("order_id", o.ID),
		zap.String("kind", string(o.Kind)),
		zap.String("side", string(o.Side)),
		zap.String("quantity", o.Quantity.String()))
	return o, nil
}

func (b *Broker) retireClosedPosition() {
	if b.openPosition != nil && b.openPosition.IsClosed() {
		b.closedPositions = append(b.closedPositions, b.openPosition)
		b.log.Debug("position closed", zap.Int64("position_id", b.openPosition.ID))
		b.openPosition = nil
	}
}
