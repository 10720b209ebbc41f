package usecase_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vitos/crypto_backtest/internal/domain"
	"github.com/vitos/crypto_backtest/internal/usecase"
)

// stubStream replays a fixed candle slice, like the engine's real streams.
type stubStream struct {
	candles []*domain.Candle
	pos     int
}

func (s *stubStream) Next() (*domain.Candle, error) {
	if s.pos >= len(s.candles) {
		return nil, nil
	}
	c := s.candles[s.pos]
	s.pos++
	return c, nil
}

func (s *stubStream) HasData() bool { return s.pos < len(s.candles) }

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func candle(ts int64, open, high, low, closePrice string) *domain.Candle {
	return &domain.Candle{
		Time:   time.Unix(ts, 0).UTC(),
		Open:   dec(open),
		High:   dec(high),
		Low:    dec(low),
		Close:  dec(closePrice),
		Volume: dec("1"),
	}
}

// flatCandle is a bar where every price is the same.
func flatCandle(ts int64, price string) *domain.Candle {
	return candle(ts, price, price, price, price)
}

func newBroker(t *testing.T, money, quote, fee string, candles ...*domain.Candle) *usecase.Broker {
	t.Helper()
	b, err := usecase.NewBroker(usecase.Config{
		InitialMoney: dec(money),
		InitialQuote: dec(quote),
		Fee:          dec(fee),
		Data:         &stubStream{candles: candles},
	}, nil)
	require.NoError(t, err)
	return b
}

func TestBroker_MarketBuyLedgerConservation(t *testing.T) {
	b := newBroker(t, "1000", "0", "0",
		flatCandle(60, "1"),
		flatCandle(120, "1"),
	)

	o, err := b.AddMarketOrder(domain.SideBuy, dec("100"))
	require.NoError(t, err)
	require.Equal(t, domain.OrderCreated, o.State)

	c, err := b.NextData()
	require.NoError(t, err)
	require.NotNil(t, c)

	require.Equal(t, domain.OrderExecuted, o.State)
	require.True(t, b.AvailableMoney().Equal(dec("900")))
	require.True(t, b.AvailableQuote().Equal(dec("100")))
	require.Empty(t, b.TickErrors())
	require.Len(t, b.Trades(), 1)
	require.True(t, b.Trades()[0].ExecutedPrice.Equal(dec("1")))

	pos := b.OpenPosition()
	require.NotNil(t, pos)
	require.Equal(t, domain.SideBuy, pos.Side)
	require.True(t, pos.Quantity.Equal(dec("100")))
}

func TestBroker_OneBarDelay(t *testing.T) {
	b := newBroker(t, "1000", "0", "0",
		flatCandle(60, "5"),
		flatCandle(120, "7"),
	)

	// Submitted while bar 60 is current, so it must fill at bar 120's open.
	o, err := b.AddMarketOrder(domain.SideBuy, dec("1"))
	require.NoError(t, err)

	_, err = b.NextData()
	require.NoError(t, err)
	require.Len(t, b.Trades(), 1)
	require.True(t, b.Trades()[0].ExecutedPrice.Equal(dec("7")))
	require.Equal(t, time.Unix(120, 0).UTC(), o.ExecutedTime)
}

func TestBroker_InsufficientMoneyRejectsOrder(t *testing.T) {
	b := newBroker(t, "50", "0", "0",
		flatCandle(60, "1"),
		flatCandle(120, "1"),
	)

	o, err := b.AddMarketOrder(domain.SideBuy, dec("100"))
	require.NoError(t, err)

	_, err = b.NextData()
	require.NoError(t, err)

	require.Equal(t, domain.OrderRejected, o.State)
	require.True(t, b.AvailableMoney().Equal(dec("50")))
	require.Empty(t, b.Trades())
	require.Nil(t, b.OpenPosition())

	require.Len(t, b.TickErrors(), 1)
	require.ErrorIs(t, b.TickErrors()[0], domain.ErrNotEnoughMoney)
	var notEnough *domain.NotEnoughMoneyError
	require.ErrorAs(t, b.TickErrors()[0], &notEnough)
	require.Equal(t, o.ID, notEnough.OrderID)
}

func TestBroker_InsufficientQuoteRejectsMarketSell(t *testing.T) {
	b := newBroker(t, "0", "10", "0",
		flatCandle(60, "1"),
		flatCandle(120, "1"),
	)

	o, err := b.AddMarketOrder(domain.SideSell, dec("100"))
	require.NoError(t, err)

	_, err = b.NextData()
	require.NoError(t, err)

	require.Equal(t, domain.OrderRejected, o.State)
	require.True(t, b.AvailableQuote().Equal(dec("10")))
	require.Len(t, b.TickErrors(), 1)
	require.ErrorIs(t, b.TickErrors()[0], domain.ErrNotEnoughQuote)
}

func TestBroker_TickErrorsClearEveryBar(t *testing.T) {
	b := newBroker(t, "50", "0", "0",
		flatCandle(60, "1"),
		flatCandle(120, "1"),
		flatCandle(180, "1"),
	)

	_, err := b.AddMarketOrder(domain.SideBuy, dec("100"))
	require.NoError(t, err)

	_, err = b.NextData()
	require.NoError(t, err)
	require.Len(t, b.TickErrors(), 1)

	_, err = b.NextData()
	require.NoError(t, err)
	require.Empty(t, b.TickErrors())
}

func TestBroker_LimitBuyReservesAndFills(t *testing.T) {
	b := newBroker(t, "1000", "0", "0",
		flatCandle(60, "100"),
		candle(120, "98", "99", "96", "97"), // low above the limit
		candle(180, "96", "97", "94", "95"), // low crosses the limit
	)

	o, err := b.AddLimitOrder(domain.SideBuy, dec("10"), dec("95"), decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	require.True(t, b.AvailableMoney().Equal(dec("50")))
	require.True(t, b.ReservedMoney().Equal(dec("950")))

	_, err = b.NextData()
	require.NoError(t, err)
	require.Equal(t, domain.OrderPending, o.State)
	require.Empty(t, b.Trades())

	_, err = b.NextData()
	require.NoError(t, err)
	require.Equal(t, domain.OrderExecuted, o.State)
	require.Len(t, b.Trades(), 1)
	require.True(t, b.Trades()[0].ExecutedPrice.Equal(dec("95")))
	require.True(t, b.ReservedMoney().IsZero())
	require.True(t, b.AvailableMoney().Equal(dec("50")))
	require.True(t, b.AvailableQuote().Equal(dec("10")))
}

func TestBroker_LimitSellReservesQuote(t *testing.T) {
	b := newBroker(t, "0", "10", "0",
		flatCandle(60, "100"),
		candle(120, "100", "106", "99", "105"),
	)

	o, err := b.AddLimitOrder(domain.SideSell, dec("10"), dec("105"), decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	require.True(t, b.AvailableQuote().IsZero())
	require.True(t, b.ReservedQuote().Equal(dec("10")))

	_, err = b.NextData()
	require.NoError(t, err)
	require.Equal(t, domain.OrderExecuted, o.State)
	require.True(t, b.ReservedQuote().IsZero())
	require.True(t, b.AvailableMoney().Equal(dec("1050")))
}

func TestBroker_LimitRejectedAtSubmissionWithoutFunds(t *testing.T) {
	b := newBroker(t, "100", "0", "0",
		flatCandle(60, "100"),
	)

	_, err := b.AddLimitOrder(domain.SideBuy, dec("10"), dec("95"), decimal.Zero, decimal.Zero)
	require.ErrorIs(t, err, domain.ErrNotEnoughMoney)
	require.True(t, b.AvailableMoney().Equal(dec("100")))
	require.Equal(t, 1, b.Stats().RejectedOrders)
}

func TestBroker_CancelReleasesReservation(t *testing.T) {
	b := newBroker(t, "1000", "0", "0",
		flatCandle(60, "100"),
		flatCandle(120, "100"),
	)

	o, err := b.AddLimitOrder(domain.SideBuy, dec("10"), dec("95"), decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	require.True(t, b.ReservedMoney().Equal(dec("950")))

	require.NoError(t, b.CancelOrder(o.ID))
	require.Equal(t, domain.OrderCanceled, o.State)
	require.True(t, b.ReservedMoney().IsZero())
	require.True(t, b.AvailableMoney().Equal(dec("1000")))

	var uncancelable *domain.UncancelableOrderError
	require.ErrorAs(t, b.CancelOrder(o.ID), &uncancelable)

	// The canceled order never executes.
	_, err = b.NextData()
	require.NoError(t, err)
	require.Empty(t, b.Trades())
}

func TestBroker_PositionOpensAndCloses(t *testing.T) {
	b := newBroker(t, "1000", "0", "0",
		flatCandle(60, "1"),
		flatCandle(120, "1"),
		flatCandle(180, "1"),
	)

	_, err := b.AddMarketOrder(domain.SideBuy, dec("100"))
	require.NoError(t, err)
	_, err = b.NextData()
	require.NoError(t, err)

	pos := b.OpenPosition()
	require.NotNil(t, pos)

	closing, err := b.AddMarketOrder(domain.SideSell, dec("100"))
	require.NoError(t, err)
	_, err = b.NextData()
	require.NoError(t, err)

	require.Nil(t, b.OpenPosition())
	require.Len(t, b.ClosedPositions(), 1)
	require.True(t, pos.IsClosed())
	require.True(t, pos.Quantity.IsZero())
	require.Equal(t, domain.OrderExecuted, closing.State)
	require.Len(t, pos.Trades(), 2)
	require.Equal(t, closing, pos.Trades()[1].Order)

	// Round trip at a constant price with no fee conserves the ledger.
	require.True(t, b.AvailableMoney().Equal(dec("1000")))
	require.True(t, b.AvailableQuote().IsZero())
}

func TestBroker_StopLimitResolvesWithinOneTick(t *testing.T) {
	b := newBroker(t, "1000", "0", "0",
		flatCandle(60, "95"),
		candle(120, "100", "101", "99.5", "100.5"), // crosses stop 100, low above limit
		candle(180, "100", "101", "97", "98"), // low crosses limit 99
	)

	parent, err := b.AddStopLimitOrder(domain.SideBuy, dec("10"), dec("100"), dec("99"))
	require.NoError(t, err)
	require.True(t, b.ReservedMoney().Equal(dec("990")))

	// Bar 120 triggers the stop; the child limit is eligible immediately
	// but its own condition does not hold yet.
	_, err = b.NextData()
	require.NoError(t, err)
	require.Equal(t, domain.OrderPartiallyExecuted, parent.State)
	require.Empty(t, b.Trades())
	require.Len(t, b.PendingOrders(), 1)
	child := b.PendingOrders()[0]
	require.Equal(t, domain.KindLimit, child.Kind)

	// Bar 180 fills the child against the reservation made by the parent.
	_, err = b.NextData()
	require.NoError(t, err)
	require.Equal(t, domain.OrderExecuted, child.State)
	require.Len(t, b.Trades(), 1)
	require.True(t, b.Trades()[0].ExecutedPrice.Equal(dec("99")))
	require.True(t, b.ReservedMoney().IsZero())
	require.True(t, b.AvailableQuote().Equal(dec("10")))
}

func TestBroker_StopLimitChildCanFillSameBar(t *testing.T) {
	b := newBroker(t, "1000", "0", "0",
		flatCandle(60, "95"),
		candle(120, "98", "101", "97", "100"), // crosses stop and limit in one bar
	)

	parent, err := b.AddStopLimitOrder(domain.SideBuy, dec("10"), dec("100"), dec("99"))
	require.NoError(t, err)

	_, err = b.NextData()
	require.NoError(t, err)
	require.Equal(t, domain.OrderPartiallyExecuted, parent.State)
	require.Len(t, b.Trades(), 1)
	require.True(t, b.Trades()[0].ExecutedPrice.Equal(dec("99")))
	require.True(t, b.ReservedMoney().IsZero())
	require.Empty(t, b.PendingOrders())
}

func TestBroker_SpawnedOrderResolutionTerminates(t *testing.T) {
	const parents = 5
	b := newBroker(t, "100000", "0", "0",
		flatCandle(60, "95"),
		candle(120, "98", "101", "90", "100"),
	)

	for i := 0; i < parents; i++ {
		_, err := b.AddStopLimitOrder(domain.SideBuy, dec("1"), dec("100"), dec("99"))
		require.NoError(t, err)
	}

	// One tick resolves every parent and every spawned child.
	_, err := b.NextData()
	require.NoError(t, err)
	require.Len(t, b.Trades(), parents)
	require.Empty(t, b.PendingOrders())

	stats := b.Stats()
	require.Equal(t, 2*parents, stats.Orders)
	require.Equal(t, 2*parents, stats.ExecutedOrders)
}

func TestBroker_MarketQuoteOrderDebitsQuoteAmount(t *testing.T) {
	b := newBroker(t, "1000", "0", "0",
		flatCandle(60, "2"),
		flatCandle(120, "2"),
	)

	_, err := b.AddMarketQuoteOrder(domain.SideBuy, dec("100"))
	require.NoError(t, err)

	_, err = b.NextData()
	require.NoError(t, err)
	require.True(t, b.AvailableMoney().Equal(dec("900")))
	require.True(t, b.AvailableQuote().Equal(dec("50")))
}

func TestBroker_FeeChargedOnCreditedSide(t *testing.T) {
	b := newBroker(t, "1000", "0", "0.001",
		flatCandle(60, "1"),
		flatCandle(120, "1"),
	)

	_, err := b.AddMarketOrder(domain.SideBuy, dec("100"))
	require.NoError(t, err)

	_, err = b.NextData()
	require.NoError(t, err)
	require.True(t, b.AvailableMoney().Equal(dec("900")))
	require.True(t, b.AvailableQuote().Equal(dec("99.9")))
}

func TestBroker_ExhaustedStreamStopsProcessing(t *testing.T) {
	b := newBroker(t, "100", "0", "0",
		flatCandle(60, "1"),
		flatCandle(120, "1"),
	)

	c, err := b.NextData()
	require.NoError(t, err)
	require.NotNil(t, c)

	for i := 0; i < 3; i++ {
		c, err = b.NextData()
		require.NoError(t, err)
		require.Nil(t, c)
	}
	// The last consumed bar stays current.
	require.NotNil(t, b.CurrentData())
	require.Equal(t, time.Unix(120, 0).UTC(), b.CurrentTime())
}

func TestBroker_AddExtractMoney(t *testing.T) {
	b := newBroker(t, "100", "0", "0", flatCandle(60, "1"))

	require.Error(t, b.AddMoney(dec("-1")))
	require.NoError(t, b.AddMoney(dec("50")))
	require.True(t, b.AvailableMoney().Equal(dec("150")))

	require.Error(t, b.ExtractMoney(dec("-1")))
	require.ErrorIs(t, b.ExtractMoney(dec("200")), domain.ErrNotEnoughMoney)
	require.NoError(t, b.ExtractMoney(dec("150")))
	require.True(t, b.AvailableMoney().IsZero())
}

func TestBroker_OrderIDsAreMonotonic(t *testing.T) {
	b := newBroker(t, "1000", "1000", "0", flatCandle(60, "1"))

	first, err := b.AddMarketOrder(domain.SideBuy, dec("1"))
	require.NoError(t, err)
	second, err := b.AddMarketOrder(domain.SideSell, dec("1"))
	require.NoError(t, err)
	require.Greater(t, second.ID, first.ID)
	require.Equal(t, first, b.Order(first.ID))
}
