package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitos/crypto_backtest/internal/domain"
)

func TestNewTrade_RequiresExecutingOrder(t *testing.T) {
	o := pendingMarketOrder(t, 1, domain.SideBuy, "10")

	_, err := domain.NewTrade(o, dec("10"), dec("5"), time.Unix(60, 0))
	var invalid *domain.InvalidExecutionStateError
	require.ErrorAs(t, err, &invalid)

	o.State = domain.OrderExecuting
	tr, err := domain.NewTrade(o, dec("10"), dec("5"), time.Unix(60, 0))
	require.NoError(t, err)
	require.Equal(t, domain.SideBuy, tr.Side())
}

func TestTrade_Notional(t *testing.T) {
	o := pendingMarketOrder(t, 1, domain.SideSell, "10")
	o.State = domain.OrderExecuting

	tr, err := domain.NewTrade(o, dec("10"), dec("2.5"), time.Unix(60, 0))
	require.NoError(t, err)
	require.True(t, tr.Notional().Equal(dec("25")))
}
