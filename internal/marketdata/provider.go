package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Field names a price column
type Field string

// Price columns known to every provider
const (
	FieldOpen   Field = "open"
	FieldHigh   Field = "high"
	FieldLow    Field = "low"
	FieldClose  Field = "close"
	FieldVolume Field = "volume"
	FieldVWAP   Field = "vwap"
)

// ParseField validates a column name
func ParseField(s string) (Field, error) {
	switch f := Field(s); f {
	case FieldOpen, FieldHigh, FieldLow, FieldClose, FieldVolume, FieldVWAP:
		return f, nil
	default:
		return "", fmt.Errorf("unknown price field: %q", s)
	}
}

// Row is one (date, entity) record with the requested columns
type Row struct {
	Date   time.Time                 `json:"date"`
	Entity string                    `json:"entity"`
	Values map[Field]decimal.Decimal `json:"values"`
}

// Value returns the column value and whether the row carries it
func (r Row) Value(f Field) (decimal.Decimal, bool) {
	v, ok := r.Values[f]
	return v, ok
}

// Provider supplies historical price rows and the trading calendar.
//
// QueryData returns rows ordered by date ascending. A zero end means a
// single-day query on begin; an empty entity selects every entity.
// QueryTradingCalendar returns the full calendar when both bounds are zero.
type Provider interface {
	QueryData(ctx context.Context, columns []Field, begin, end time.Time, entity string) ([]Row, error)
	QueryTradingCalendar(ctx context.Context, begin, end time.Time, onlyTradingDays bool) ([]time.Time, error)
}

// Day truncates t to midnight UTC of its calendar date
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
