package backtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/stock-backtester/internal/marketdata"
)

func TestMarketOrder_LookaheadGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects a past session", func(t *testing.T) {
		a := newTestAgent(t, "1000000")
		err := a.MarketOrder(ctx, "A", dec("100"), At(-1, marketdata.FieldClose))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrLookahead))
	})

	t.Run("rejects the open of the current session", func(t *testing.T) {
		a := newTestAgent(t, "1000000")
		err := a.MarketOrder(ctx, "A", dec("100"), At(0, marketdata.FieldOpen))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrLookahead))
	})

	t.Run("rejects before validating volume", func(t *testing.T) {
		a := newTestAgent(t, "1000000")
		err := a.MarketOrder(ctx, "A", decimal.Zero, At(0, marketdata.FieldHigh))
		assert.True(t, errors.Is(err, ErrLookahead))
	})

	t.Run("fills the current close immediately", func(t *testing.T) {
		a := newTestAgent(t, "1000000")
		err := a.MarketOrder(ctx, "A", dec("100"), At(0, marketdata.FieldClose))
		require.NoError(t, err)

		assert.Equal(t, 0, a.Pending())
		require.Len(t, a.Portfolio().TradeLog(), 1)
		pos, ok := a.Portfolio().Position("A")
		require.True(t, ok)
		assert.True(t, dec("1003").Equal(pos.Cost), "cost %s", pos.Cost)
		assert.True(t, dec("10.03").Equal(pos.Price), "price %s", pos.Price)
		assert.Equal(t, d1, pos.TimeIndex)
	})

	t.Run("rejects a meaningless order", func(t *testing.T) {
		a := newTestAgent(t, "1000000")
		err := a.MarketOrder(ctx, "A", decimal.Zero)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidation))
		assert.Contains(t, err.Error(), "meaningless")
	})
}

func TestMarketOrder_CommissionAsymmetry(t *testing.T) {
	ctx := context.Background()
	a := newTestAgent(t, "1000000")

	// B opens at 20 on the next session
	require.NoError(t, a.MarketOrder(ctx, "B", dec("-10"), WithCommission(dec("0.003"))))
	require.NoError(t, a.MarketOrder(ctx, "B", dec("10"), At(1, marketdata.FieldOpen), WithCommission(dec("0.003"))))

	orders := a.queue.Orders()
	require.Len(t, orders, 2)

	wantSell := decimal.NewFromInt(-10).Mul(decimal.NewFromInt(20)).Mul(dec("1").Sub(dec("0.003")).Sub(dec("0.001")))
	wantBuy := decimal.NewFromInt(10).Mul(decimal.NewFromInt(20)).Mul(dec("1.003"))
	assert.True(t, wantSell.Equal(orders[0].Cost), "sell cost %s", orders[0].Cost)
	assert.True(t, wantBuy.Equal(orders[1].Cost), "buy cost %s", orders[1].Cost)
	assert.Equal(t, d2, orders[0].ScheduledDate)
}

func TestMarketOrder_CustomSlippage(t *testing.T) {
	a := newTestAgent(t, "1000000", WithSlippage(decimal.Zero))

	require.NoError(t, a.MarketOrder(context.Background(), "B", dec("-10"), WithCommission(dec("0.01"))))

	orders := a.queue.Orders()
	require.Len(t, orders, 1)
	assert.True(t, dec("-198").Equal(orders[0].Cost), "cost %s", orders[0].Cost)
}

func TestMarketOrder_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("past the end of the calendar", func(t *testing.T) {
		a := newTestAgent(t, "1000000")
		err := a.MarketOrder(ctx, "A", dec("1"), At(3, marketdata.FieldOpen))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidation))
		assert.Equal(t, 0, a.Pending())
	})

	t.Run("missing fill price", func(t *testing.T) {
		a := newTestAgent(t, "1000000")
		err := a.MarketOrder(ctx, "C", dec("1"), At(1, marketdata.FieldOpen))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDataUnavailable))
		assert.Equal(t, 0, a.Pending())
	})
}

func TestNextBar_FlushesDueOrdersInSubmissionOrder(t *testing.T) {
	ctx := context.Background()
	a := newTestAgent(t, "1000000")

	require.NoError(t, a.MarketOrder(ctx, "B", dec("5")))
	require.NoError(t, a.MarketOrder(ctx, "A", dec("10"), At(2, marketdata.FieldOpen)))
	require.NoError(t, a.MarketOrder(ctx, "A", dec("20")))
	assert.Equal(t, 3, a.Pending())

	require.NoError(t, a.NextBar(ctx))

	log := a.Portfolio().TradeLog()
	require.Len(t, log, 2)
	assert.Equal(t, "B", log[0].Entity)
	assert.Equal(t, "A", log[1].Entity)
	assert.Equal(t, d2, log[1].TimeIndex)
	// A opens at 11 on the second session
	assert.True(t, dec("220.66").Equal(log[1].Cost), "cost %s", log[1].Cost)
	assert.Equal(t, 1, a.Pending())

	require.NoError(t, a.NextBar(ctx))
	assert.Equal(t, 0, a.Pending())
	pos, ok := a.Portfolio().Position("A")
	require.True(t, ok)
	assert.True(t, dec("30").Equal(pos.Volume))
	assert.Equal(t, d3, pos.TimeIndex)
}

func TestNextBar_FlushesDueOrdersWhenAfterHookFails(t *testing.T) {
	ctx := context.Background()
	a := newTestAgent(t, "1000")

	// overdraw so the book is worth less than nothing on the next session
	_, err := a.Portfolio().PlaceOrder("A", dec("1"), decimal.NewNullDecimal(dec("2000")), decimal.NullDecimal{})
	require.NoError(t, err)
	require.NoError(t, a.MarketOrder(ctx, "B", dec("1")))

	err = a.NextBar(ctx, TransferAfter(dec("100")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	assert.Equal(t, d2, a.Portfolio().Cursor())
	assert.Equal(t, 0, a.Pending())
	log := a.Portfolio().TradeLog()
	require.Len(t, log, 2)
	assert.Equal(t, "B", log[1].Entity)
	assert.Equal(t, d2, log[1].TimeIndex)

	require.NoError(t, a.NextBar(ctx))
	assert.Equal(t, 0, a.Pending())
	assert.Len(t, a.Portfolio().TradeLog(), 2)
}

func TestNextBar_MissingVWAPIsUnavailable(t *testing.T) {
	ctx := context.Background()
	a := newTestAgent(t, "1000")

	err := a.MarketOrder(ctx, "A", dec("100"), At(1, marketdata.FieldVWAP))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataUnavailable))
	assert.Equal(t, 0, a.Pending())

	require.NoError(t, a.NextBar(ctx))
	assert.Empty(t, a.Portfolio().TradeLog())
	assert.True(t, dec("1000").Equal(a.Portfolio().Cash()))
}

func TestEndToEndScenario(t *testing.T) {
	ctx := context.Background()
	a := newTestAgent(t, "1000000")

	require.NoError(t, a.MarketOrder(ctx, "A", dec("100"), At(0, marketdata.FieldClose)))
	assert.True(t, dec("998997").Equal(a.Portfolio().Cash()))

	require.NoError(t, a.NextBar(ctx))

	curve := a.Portfolio().NetWorthCurve()
	require.Len(t, curve, 2)
	assert.Equal(t, d2, curve[1].TimeIndex)
	assert.True(t, dec("1000197").Equal(curve[1].TotalAsset), "total %s", curve[1].TotalAsset)
	assert.True(t, dec("1.000197").Equal(curve[1].NetWorth), "net worth %s", curve[1].NetWorth)
	requireBalanced(t, a.Portfolio())
}

func TestNextBar_Termination(t *testing.T) {
	ctx := context.Background()
	a := newTestAgent(t, "1000")

	var err error
	steps := 0
	for err == nil {
		err = a.NextBar(ctx)
		steps++
	}
	assert.True(t, errors.Is(err, ErrEndOfCalendar))
	assert.Equal(t, 3, steps)
	assert.Len(t, a.Portfolio().NetWorthCurve(), 3)

	assert.True(t, errors.Is(a.NextBar(ctx), ErrEndOfCalendar))
	assert.True(t, errors.Is(a.MarketOrder(ctx, "A", dec("1")), ErrEndOfCalendar))
	_, err = a.RegulateDataQuery(ctx, []marketdata.Field{marketdata.FieldClose}, d1, d1, "A")
	assert.True(t, errors.Is(err, ErrEndOfCalendar))
	assert.Len(t, a.Portfolio().NetWorthCurve(), 3)
}

func TestRegulateDataQuery(t *testing.T) {
	ctx := context.Background()
	a := newTestAgent(t, "1000")
	closeOnly := []marketdata.Field{marketdata.FieldClose}

	t.Run("rejects an end after the cursor", func(t *testing.T) {
		_, err := a.RegulateDataQuery(ctx, closeOnly, d1, d2, "A")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrLookahead))
	})

	t.Run("rejects a future single-day query", func(t *testing.T) {
		_, err := a.RegulateDataQuery(ctx, closeOnly, d3, time.Time{}, "")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrLookahead))
	})

	t.Run("allows the cursor itself", func(t *testing.T) {
		rows, err := a.RegulateDataQuery(ctx, closeOnly, d1, time.Time{}, "A")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		v, _ := rows[0].Value(marketdata.FieldClose)
		assert.True(t, dec("10").Equal(v))
	})

	t.Run("follows the cursor", func(t *testing.T) {
		require.NoError(t, a.NextBar(ctx))
		rows, err := a.RegulateDataQuery(ctx, closeOnly, d1, d2, "")
		require.NoError(t, err)
		assert.Len(t, rows, 7)
	})
}
