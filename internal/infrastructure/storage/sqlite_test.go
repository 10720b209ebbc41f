package storage_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vitos/crypto_backtest/internal/domain"
	"github.com/vitos/crypto_backtest/internal/infrastructure/storage"
)

func newStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func makeCandles(n int, start int64) []*domain.Candle {
	candles := make([]*domain.Candle, 0, n)
	for i := 0; i < n; i++ {
		price := decimal.NewFromInt(int64(100 + i))
		candles = append(candles, &domain.Candle{
			Time:   time.Unix(start+int64(i)*60, 0).UTC(),
			Open:   price,
			High:   price.Add(decimal.NewFromInt(1)),
			Low:    price.Sub(decimal.NewFromInt(1)),
			Close:  price,
			Volume: decimal.NewFromInt(10),
		})
	}
	return candles
}

func TestSQLiteStore_CandleRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	candles := makeCandles(5, 60)

	require.NoError(t, store.SaveCandles(ctx, "BTCUSDT", 60, candles))

	// Saving the same range twice must not duplicate rows.
	require.NoError(t, store.SaveCandles(ctx, "BTCUSDT", 60, candles))

	count, err := store.CountCandles(ctx, "BTCUSDT", 60, time.Unix(0, 0), time.Unix(10000, 0))
	require.NoError(t, err)
	require.Equal(t, 5, count)

	loaded, err := store.LoadCandles(ctx, "BTCUSDT", 60, time.Unix(0, 0), time.Unix(10000, 0), 100, 0)
	require.NoError(t, err)
	require.Len(t, loaded, 5)
	for i, c := range loaded {
		require.Equal(t, candles[i].Time, c.Time)
		require.True(t, c.Close.Equal(candles[i].Close))
	}

	// A different resolution is a separate series.
	other, err := store.LoadCandles(ctx, "BTCUSDT", 3600, time.Unix(0, 0), time.Unix(10000, 0), 100, 0)
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestCandleStream_ReplaysRangeInOrder(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	candles := makeCandles(10, 60)
	require.NoError(t, store.SaveCandles(ctx, "ETHUSDT", 60, candles))

	stream := store.NewCandleStream(ctx, "ETHUSDT", 60, time.Unix(0, 0), time.Unix(10000, 0))
	require.True(t, stream.HasData())

	var got []*domain.Candle
	for {
		c, err := stream.Next()
		require.NoError(t, err)
		if c == nil {
			break
		}
		got = append(got, c)
	}
	require.Len(t, got, 10)
	for i := 1; i < len(got); i++ {
		require.True(t, got[i].Time.After(got[i-1].Time))
	}

	// Drained stays drained.
	require.False(t, stream.HasData())
	c, err := stream.Next()
	require.NoError(t, err)
	require.Nil(t, c)
}

func TestSQLiteStore_ResultRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	result := &domain.Result{
		Symbol:     "BTCUSDT",
		Strategy:   "breakout",
		StartedAt:  time.Unix(1000, 0).UTC(),
		FinishedAt: time.Unix(2000, 0).UTC(),
		FinalMoney: decimal.RequireFromString("993.5"),
		FinalQuote: decimal.Zero,
		Stats: domain.Stats{
			Orders:          4,
			ExecutedOrders:  3,
			RejectedOrders:  1,
			Trades:          3,
			Positions:       2,
			ClosedPositions: 2,
		},
	}
	require.NoError(t, store.SaveResult(ctx, result))
	require.NotZero(t, result.ID)

	results, err := store.ListResults(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, result.ID, results[0].ID)
	require.Equal(t, "breakout", results[0].Strategy)
	require.True(t, results[0].FinalMoney.Equal(result.FinalMoney))
	require.Equal(t, result.Stats, results[0].Stats)
}

func TestSQLiteStore_TradeRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	order, err := domain.NewMarketOrder(7, time.Unix(60, 0).UTC(), domain.SideBuy, decimal.NewFromInt(3))
	require.NoError(t, err)
	order.State = domain.OrderExecuting
	trade, err := domain.NewTrade(order, decimal.NewFromInt(3), decimal.RequireFromString("101.5"), time.Unix(120, 0).UTC())
	require.NoError(t, err)
	trade.ID = 1

	require.NoError(t, store.SaveTrades(ctx, 42, []*domain.Trade{trade}))

	records, err := store.ListTrades(ctx, 42)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, int64(42), records[0].ResultID)
	require.Equal(t, int64(1), records[0].TradeID)
	require.Equal(t, int64(7), records[0].OrderID)
	require.Equal(t, domain.SideBuy, records[0].Side)
	require.Equal(t, domain.KindMarket, records[0].Kind)
	require.True(t, records[0].Quantity.Equal(decimal.NewFromInt(3)))
	require.True(t, records[0].Price.Equal(decimal.RequireFromString("101.5")))

	// Other runs see nothing.
	other, err := store.ListTrades(ctx, 43)
	require.NoError(t, err)
	require.Empty(t, other)
}
