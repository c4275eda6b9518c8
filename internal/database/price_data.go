package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/stock-backtester/internal/models"
)

const priceDataColumns = `id, symbol, date, open, high, low, close, volume, vwap, created_at`

// CreatePriceDataBatch upserts daily bars in one transaction
func (db *DB) CreatePriceDataBatch(ctx context.Context, prices []*models.PriceDataDaily) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO price_data_daily (symbol, date, open, high, low, close, volume, vwap, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, date) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			vwap = EXCLUDED.vwap
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, p := range prices {
		vwap := decimal.NullDecimal{Decimal: p.VWAP, Valid: !p.VWAP.IsZero()}
		_, err := stmt.ExecContext(ctx, p.Symbol, p.Date, p.Open, p.High, p.Low, p.Close, p.Volume, vwap, now)
		if err != nil {
			return fmt.Errorf("failed to insert price data for %s: %w", p.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetPriceDataRange retrieves price data for a symbol within a date range
func (db *DB) GetPriceDataRange(ctx context.Context, symbol string, startDate, endDate time.Time) ([]*models.PriceDataDaily, error) {
	query := `
		SELECT ` + priceDataColumns + `
		FROM price_data_daily
		WHERE symbol = $1 AND date >= $2 AND date <= $3
		ORDER BY date ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, symbol, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to get price data range: %w", err)
	}
	defer rows.Close()

	var prices []*models.PriceDataDaily
	for rows.Next() {
		p, err := scanPriceData(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price data: %w", err)
		}
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read price data: %w", err)
	}
	return prices, nil
}

// GetLatestPriceData retrieves the most recent price data for a symbol
func (db *DB) GetLatestPriceData(ctx context.Context, symbol string) (*models.PriceDataDaily, error) {
	query := `
		SELECT ` + priceDataColumns + `
		FROM price_data_daily
		WHERE symbol = $1
		ORDER BY date DESC
		LIMIT 1
	`
	p, err := scanPriceData(db.conn.QueryRowContext(ctx, query, symbol))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no price data found for %s: %w", symbol, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest price data: %w", err)
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPriceData(row rowScanner) (*models.PriceDataDaily, error) {
	var p models.PriceDataDaily
	var vwap decimal.NullDecimal

	err := row.Scan(
		&p.ID, &p.Symbol, &p.Date, &p.Open, &p.High, &p.Low, &p.Close, &p.Volume, &vwap, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if vwap.Valid {
		p.VWAP = vwap.Decimal
	}
	return &p, nil
}
