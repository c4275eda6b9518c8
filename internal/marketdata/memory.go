package marketdata

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/stock-backtester/internal/models"
)

// MemoryProvider serves bars and a calendar held in memory
type MemoryProvider struct {
	bars     []models.PriceDataDaily
	calendar []models.CalendarDay
}

// NewMemoryProvider creates a provider over the given bars and calendar.
// When calendar is empty every distinct bar date counts as a trading day.
func NewMemoryProvider(bars []models.PriceDataDaily, calendar []models.CalendarDay) *MemoryProvider {
	sorted := make([]models.PriceDataDaily, len(bars))
	copy(sorted, bars)
	for i := range sorted {
		sorted[i].Date = Day(sorted[i].Date)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.Before(sorted[j].Date)
		}
		return sorted[i].Symbol < sorted[j].Symbol
	})

	if len(calendar) == 0 {
		calendar = calendarFromBars(sorted)
	}
	days := make([]models.CalendarDay, len(calendar))
	copy(days, calendar)
	for i := range days {
		days[i].Date = Day(days[i].Date)
	}
	sort.SliceStable(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })

	return &MemoryProvider{bars: sorted, calendar: days}
}

func calendarFromBars(bars []models.PriceDataDaily) []models.CalendarDay {
	var days []models.CalendarDay
	for i, b := range bars {
		if i > 0 && b.Date.Equal(bars[i-1].Date) {
			continue
		}
		days = append(days, models.CalendarDay{Date: b.Date, IsTradingDay: true})
	}
	return days
}

// QueryData implements Provider
func (p *MemoryProvider) QueryData(_ context.Context, columns []Field, begin, end time.Time, entity string) ([]Row, error) {
	begin = Day(begin)
	if end.IsZero() {
		end = begin
	}
	end = Day(end)

	var rows []Row
	for _, b := range p.bars {
		if b.Date.Before(begin) || b.Date.After(end) {
			continue
		}
		if entity != "" && b.Symbol != entity {
			continue
		}
		rows = append(rows, Row{Date: b.Date, Entity: b.Symbol, Values: barValues(b, columns)})
	}
	return rows, nil
}

// QueryTradingCalendar implements Provider
func (p *MemoryProvider) QueryTradingCalendar(_ context.Context, begin, end time.Time, onlyTradingDays bool) ([]time.Time, error) {
	bounded := !begin.IsZero() || !end.IsZero()
	var dates []time.Time
	for _, d := range p.calendar {
		if bounded {
			if !begin.IsZero() && d.Date.Before(Day(begin)) {
				continue
			}
			if !end.IsZero() && d.Date.After(Day(end)) {
				continue
			}
		}
		if onlyTradingDays && !d.IsTradingDay {
			continue
		}
		dates = append(dates, d.Date)
	}
	return dates, nil
}

// GetPriceDataRange returns the bars of symbol dated between startDate and
// endDate inclusive
func (p *MemoryProvider) GetPriceDataRange(_ context.Context, symbol string, startDate, endDate time.Time) ([]*models.PriceDataDaily, error) {
	startDate, endDate = Day(startDate), Day(endDate)
	var prices []*models.PriceDataDaily
	for i := range p.bars {
		b := p.bars[i]
		if b.Symbol != symbol || b.Date.Before(startDate) || b.Date.After(endDate) {
			continue
		}
		prices = append(prices, &b)
	}
	return prices, nil
}

// GetLatestPriceData returns the most recent bar of symbol
func (p *MemoryProvider) GetLatestPriceData(_ context.Context, symbol string) (*models.PriceDataDaily, error) {
	for i := len(p.bars) - 1; i >= 0; i-- {
		if p.bars[i].Symbol == symbol {
			b := p.bars[i]
			return &b, nil
		}
	}
	return nil, fmt.Errorf("no price data found for %s: %w", symbol, models.ErrNotFound)
}

func barValues(b models.PriceDataDaily, columns []Field) map[Field]decimal.Decimal {
	values := make(map[Field]decimal.Decimal, len(columns))
	for _, c := range columns {
		switch c {
		case FieldOpen:
			values[c] = b.Open
		case FieldHigh:
			values[c] = b.High
		case FieldLow:
			values[c] = b.Low
		case FieldClose:
			values[c] = b.Close
		case FieldVolume:
			values[c] = decimal.NewFromInt(b.Volume)
		case FieldVWAP:
			// zero is how a bar without a published vwap is stored
			if !b.VWAP.IsZero() {
				values[c] = b.VWAP
			}
		}
	}
	return values
}
