package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/stock-backtester/internal/marketdata"
	"github.com/trogers1052/stock-backtester/internal/models"
)

var (
	d1 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	d2 = time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	d3 = time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func bar(symbol string, date time.Time, open, close string) models.PriceDataDaily {
	return models.PriceDataDaily{Symbol: symbol, Date: date, Open: dec(open), Close: dec(close)}
}

// testProvider serves three sessions. "C" only trades on the first one.
func testProvider() *marketdata.MemoryProvider {
	return marketdata.NewMemoryProvider([]models.PriceDataDaily{
		bar("A", d1, "9.5", "10"),
		bar("A", d2, "11", "12"),
		bar("A", d3, "12.5", "13"),
		bar("B", d1, "19", "20"),
		bar("B", d2, "20", "21"),
		bar("B", d3, "22", "20.5"),
		bar("C", d1, "5", "5"),
		bar("X", d1, "10", "10"),
		bar("X", d2, "11", "11"),
		bar("X", d3, "12", "12"),
	}, nil)
}

func newTestPortfolio(t *testing.T, cash string) *Portfolio {
	t.Helper()
	p, err := NewPortfolio(context.Background(), testProvider(), dec(cash), []time.Time{d1, d2, d3})
	require.NoError(t, err)
	return p
}

func newTestAgent(t *testing.T, cash string, opts ...AgentOption) *Agent {
	t.Helper()
	a, err := NewAgent(context.Background(), testProvider(), dec(cash), []time.Time{d1, d2, d3}, opts...)
	require.NoError(t, err)
	return a
}

// requireBalanced checks cash + Σ volume*price against the latest point
func requireBalanced(t *testing.T, p *Portfolio) {
	t.Helper()
	curve := p.NetWorthCurve()
	require.NotEmpty(t, curve)
	last := curve[len(curve)-1]

	sum := p.Cash()
	for _, pos := range p.Positions() {
		sum = sum.Add(pos.Volume.Mul(pos.Price))
	}
	tolerance := last.TotalAsset.Abs().Mul(dec("0.000001"))
	require.True(t, sum.Sub(last.TotalAsset).Abs().LessThanOrEqual(tolerance),
		"cash + positions = %s, total asset = %s", sum, last.TotalAsset)
	require.True(t, last.NetWorth.Equal(last.TotalAsset.Div(last.UnitShare)),
		"net worth %s != %s / %s", last.NetWorth, last.TotalAsset, last.UnitShare)
}
