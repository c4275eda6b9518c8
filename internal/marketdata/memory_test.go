package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/stock-backtester/internal/models"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func testBars() []models.PriceDataDaily {
	return []models.PriceDataDaily{
		{Symbol: "MSFT", Date: day(16), Open: decimal.NewFromFloat(371), Close: decimal.NewFromFloat(374), Volume: 100},
		{Symbol: "AAPL", Date: day(15), Open: decimal.NewFromFloat(175), Close: decimal.NewFromFloat(177.25), Volume: 200},
		{Symbol: "AAPL", Date: day(16), Open: decimal.NewFromFloat(177), Close: decimal.NewFromFloat(179), Volume: 300},
		{Symbol: "MSFT", Date: day(15), Open: decimal.NewFromFloat(370), Close: decimal.NewFromFloat(373), Volume: 400},
	}
}

func TestMemoryProvider_QueryData(t *testing.T) {
	p := NewMemoryProvider(testBars(), nil)
	ctx := context.Background()

	t.Run("single day when end is zero", func(t *testing.T) {
		rows, err := p.QueryData(ctx, []Field{FieldClose}, day(15), time.Time{}, "AAPL")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "AAPL", rows[0].Entity)
		v, ok := rows[0].Value(FieldClose)
		require.True(t, ok)
		assert.True(t, decimal.NewFromFloat(177.25).Equal(v))
		_, ok = rows[0].Value(FieldOpen)
		assert.False(t, ok)
	})

	t.Run("all entities ordered by date", func(t *testing.T) {
		rows, err := p.QueryData(ctx, []Field{FieldOpen, FieldVolume}, day(15), day(16), "")
		require.NoError(t, err)
		require.Len(t, rows, 4)
		assert.Equal(t, day(15), rows[0].Date)
		assert.Equal(t, day(15), rows[1].Date)
		assert.Equal(t, day(16), rows[3].Date)
		v, _ := rows[0].Value(FieldVolume)
		assert.True(t, decimal.NewFromInt(200).Equal(v))
	})

	t.Run("bar without vwap has no vwap value", func(t *testing.T) {
		rows, err := p.QueryData(ctx, []Field{FieldVWAP, FieldClose}, day(15), time.Time{}, "AAPL")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		_, ok := rows[0].Value(FieldVWAP)
		assert.False(t, ok)
		_, ok = rows[0].Value(FieldClose)
		assert.True(t, ok)
	})

	t.Run("published vwap is reported", func(t *testing.T) {
		bars := testBars()
		bars[1].VWAP = decimal.NewFromFloat(176.5)
		rows, err := NewMemoryProvider(bars, nil).QueryData(ctx, []Field{FieldVWAP}, day(15), time.Time{}, "AAPL")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		v, ok := rows[0].Value(FieldVWAP)
		require.True(t, ok)
		assert.True(t, decimal.NewFromFloat(176.5).Equal(v))
	})

	t.Run("no rows outside the range", func(t *testing.T) {
		rows, err := p.QueryData(ctx, []Field{FieldClose}, day(20), day(25), "AAPL")
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestMemoryProvider_QueryTradingCalendar(t *testing.T) {
	calendar := []models.CalendarDay{
		{Date: day(15), IsTradingDay: true},
		{Date: day(13), IsTradingDay: false},
		{Date: day(14), IsTradingDay: false},
		{Date: day(12), IsTradingDay: true},
		{Date: day(16), IsTradingDay: true},
	}
	p := NewMemoryProvider(nil, calendar)
	ctx := context.Background()

	all, err := p.QueryTradingCalendar(ctx, time.Time{}, time.Time{}, false)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(12), day(13), day(14), day(15), day(16)}, all)

	trading, err := p.QueryTradingCalendar(ctx, day(13), day(16), true)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(15), day(16)}, trading)
}

func TestMemoryProvider_CalendarFromBars(t *testing.T) {
	p := NewMemoryProvider(testBars(), nil)

	dates, err := p.QueryTradingCalendar(context.Background(), time.Time{}, time.Time{}, true)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(15), day(16)}, dates)
}

func TestParseField(t *testing.T) {
	f, err := ParseField("close")
	require.NoError(t, err)
	assert.Equal(t, FieldClose, f)

	_, err = ParseField("adj_close")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown price field")
}
