package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/stock-backtester/internal/marketdata"
	"github.com/trogers1052/stock-backtester/internal/models"
)

var _ marketdata.Provider = (*DB)(nil)

// priceColumns maps provider fields to price_data_daily columns. Only
// names from this table are ever interpolated into SQL.
var priceColumns = map[marketdata.Field]string{
	marketdata.FieldOpen:   "open",
	marketdata.FieldHigh:   "high",
	marketdata.FieldLow:    "low",
	marketdata.FieldClose:  "close",
	marketdata.FieldVolume: "volume",
	marketdata.FieldVWAP:   "vwap",
}

// QueryData implements marketdata.Provider over price_data_daily
func (db *DB) QueryData(ctx context.Context, columns []marketdata.Field, begin, end time.Time, entity string) ([]marketdata.Row, error) {
	if end.IsZero() {
		end = begin
	}

	selected := make([]string, len(columns))
	for i, f := range columns {
		col, ok := priceColumns[f]
		if !ok {
			return nil, fmt.Errorf("unknown price field: %q", f)
		}
		selected[i] = col
	}

	query := "SELECT symbol, date"
	if len(selected) > 0 {
		query += ", " + strings.Join(selected, ", ")
	}
	query += " FROM price_data_daily WHERE date >= $1 AND date <= $2"
	args := []interface{}{marketdata.Day(begin), marketdata.Day(end)}
	if entity != "" {
		query += " AND symbol = $3"
		args = append(args, entity)
	}
	query += " ORDER BY date ASC, symbol ASC"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query price data: %w", err)
	}
	defer rows.Close()

	var out []marketdata.Row
	for rows.Next() {
		var row marketdata.Row
		values := make([]decimal.NullDecimal, len(columns))
		dest := []interface{}{&row.Entity, &row.Date}
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan price data: %w", err)
		}

		row.Date = marketdata.Day(row.Date)
		row.Values = make(map[marketdata.Field]decimal.Decimal, len(columns))
		for i, f := range columns {
			if values[i].Valid {
				row.Values[f] = values[i].Decimal
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read price data: %w", err)
	}
	return out, nil
}

// QueryTradingCalendar implements marketdata.Provider over trading_calendar
func (db *DB) QueryTradingCalendar(ctx context.Context, begin, end time.Time, onlyTradingDays bool) ([]time.Time, error) {
	var conds []string
	var args []interface{}
	if !begin.IsZero() {
		args = append(args, marketdata.Day(begin))
		conds = append(conds, fmt.Sprintf("calendar_date >= $%d", len(args)))
	}
	if !end.IsZero() {
		args = append(args, marketdata.Day(end))
		conds = append(conds, fmt.Sprintf("calendar_date <= $%d", len(args)))
	}
	if onlyTradingDays {
		conds = append(conds, "is_trading_day")
	}

	query := "SELECT calendar_date FROM trading_calendar"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY calendar_date ASC"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trading calendar: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan calendar date: %w", err)
		}
		dates = append(dates, marketdata.Day(d))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trading calendar: %w", err)
	}
	return dates, nil
}

// CreateCalendarDays upserts calendar entries in one transaction
func (db *DB) CreateCalendarDays(ctx context.Context, days []models.CalendarDay) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trading_calendar (calendar_date, is_trading_day)
		VALUES ($1, $2)
		ON CONFLICT (calendar_date) DO UPDATE SET is_trading_day = EXCLUDED.is_trading_day
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, d := range days {
		if _, err := stmt.ExecContext(ctx, marketdata.Day(d.Date), d.IsTradingDay); err != nil {
			return fmt.Errorf("failed to insert calendar day %s: %w", d.Date.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
