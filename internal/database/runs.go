package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trogers1052/stock-backtester/internal/marketdata"
	"github.com/trogers1052/stock-backtester/internal/models"
)

// SaveRunReport stores a finished run with its logs in one transaction and
// sets report.Summary.ID
func (db *DB) SaveRunReport(ctx context.Context, report *models.RunReport) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	s := &report.Summary
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO backtest_runs (
			name, begin_date, end_date, initial_cash, final_total_asset, final_net_worth,
			total_return, max_drawdown, trade_count, sessions, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`,
		s.Name, s.Begin, s.End, s.InitialCash, s.FinalTotalAsset, s.FinalNetWorth,
		s.TotalReturn, s.MaxDrawdown, s.TradeCount, s.Sessions, createdAt,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to create backtest run: %w", err)
	}

	if err := insertTrades(ctx, tx, s.ID, report.Trades); err != nil {
		return err
	}
	if err := insertNetWorth(ctx, tx, s.ID, report.NetWorthCurve); err != nil {
		return err
	}
	if err := insertSections(ctx, tx, s.ID, report.Sections); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.CreatedAt = createdAt
	return nil
}

func insertTrades(ctx context.Context, tx *sql.Tx, runID int, trades []models.TradeLogEntry) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_trades (run_id, seq, time_index, entity, cost, volume, price, cash_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare trade statement: %w", err)
	}
	defer stmt.Close()

	for i, t := range trades {
		_, err := stmt.ExecContext(ctx, runID, i, t.TimeIndex, t.Entity, t.Cost, t.Volume, t.Price, t.CashAfter)
		if err != nil {
			return fmt.Errorf("failed to insert trade %d: %w", i, err)
		}
	}
	return nil
}

func insertNetWorth(ctx context.Context, tx *sql.Tx, runID int, curve []models.NetWorthPoint) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_net_worth (run_id, time_index, total_asset, unit_share, net_worth)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare net worth statement: %w", err)
	}
	defer stmt.Close()

	for _, p := range curve {
		if _, err := stmt.ExecContext(ctx, runID, p.TimeIndex, p.TotalAsset, p.UnitShare, p.NetWorth); err != nil {
			return fmt.Errorf("failed to insert net worth for %s: %w", p.TimeIndex.Format("2006-01-02"), err)
		}
	}
	return nil
}

func insertSections(ctx context.Context, tx *sql.Tx, runID int, sections []models.AssetSectionLogEntry) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_sections (run_id, time_index, positions)
		VALUES ($1, $2, $3)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare section statement: %w", err)
	}
	defer stmt.Close()

	for _, sec := range sections {
		positions := sec.Positions
		if positions == nil {
			positions = []models.Position{}
		}
		data, err := json.Marshal(positions)
		if err != nil {
			return fmt.Errorf("failed to marshal positions: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, runID, sec.TimeIndex, string(data)); err != nil {
			return fmt.Errorf("failed to insert section for %s: %w", sec.TimeIndex.Format("2006-01-02"), err)
		}
	}
	return nil
}

const runColumns = `id, name, begin_date, end_date, initial_cash, final_total_asset, final_net_worth,
	total_return, max_drawdown, trade_count, sessions, created_at`

func scanRun(row rowScanner) (*models.RunSummary, error) {
	var s models.RunSummary
	err := row.Scan(
		&s.ID, &s.Name, &s.Begin, &s.End, &s.InitialCash, &s.FinalTotalAsset, &s.FinalNetWorth,
		&s.TotalReturn, &s.MaxDrawdown, &s.TradeCount, &s.Sessions, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Begin = marketdata.Day(s.Begin)
	s.End = marketdata.Day(s.End)
	return &s, nil
}

// ListRuns retrieves the most recent runs, newest first
func (db *DB) ListRuns(ctx context.Context, limit int) ([]*models.RunSummary, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM backtest_runs
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list backtest runs: %w", err)
	}
	defer rows.Close()

	runs := []*models.RunSummary{}
	for rows.Next() {
		s, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backtest run: %w", err)
		}
		runs = append(runs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read backtest runs: %w", err)
	}
	return runs, nil
}

// GetRunReport retrieves a stored run with its logs
func (db *DB) GetRunReport(ctx context.Context, id int) (*models.RunReport, error) {
	s, err := scanRun(db.conn.QueryRowContext(ctx, `
		SELECT `+runColumns+`
		FROM backtest_runs
		WHERE id = $1
	`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("backtest run %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backtest run: %w", err)
	}

	report := &models.RunReport{Summary: *s}
	if report.Trades, err = db.getRunTrades(ctx, id); err != nil {
		return nil, err
	}
	if report.NetWorthCurve, err = db.getRunNetWorth(ctx, id); err != nil {
		return nil, err
	}
	if report.Sections, err = db.getRunSections(ctx, id); err != nil {
		return nil, err
	}
	return report, nil
}

func (db *DB) getRunTrades(ctx context.Context, runID int) ([]models.TradeLogEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT time_index, entity, cost, volume, price, cash_after
		FROM backtest_trades
		WHERE run_id = $1
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run trades: %w", err)
	}
	defer rows.Close()

	trades := []models.TradeLogEntry{}
	for rows.Next() {
		var t models.TradeLogEntry
		if err := rows.Scan(&t.TimeIndex, &t.Entity, &t.Cost, &t.Volume, &t.Price, &t.CashAfter); err != nil {
			return nil, fmt.Errorf("failed to scan run trade: %w", err)
		}
		t.TimeIndex = marketdata.Day(t.TimeIndex)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (db *DB) getRunNetWorth(ctx context.Context, runID int) ([]models.NetWorthPoint, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT time_index, total_asset, unit_share, net_worth
		FROM backtest_net_worth
		WHERE run_id = $1
		ORDER BY time_index ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run net worth: %w", err)
	}
	defer rows.Close()

	curve := []models.NetWorthPoint{}
	for rows.Next() {
		var p models.NetWorthPoint
		if err := rows.Scan(&p.TimeIndex, &p.TotalAsset, &p.UnitShare, &p.NetWorth); err != nil {
			return nil, fmt.Errorf("failed to scan run net worth: %w", err)
		}
		p.TimeIndex = marketdata.Day(p.TimeIndex)
		curve = append(curve, p)
	}
	return curve, rows.Err()
}

func (db *DB) getRunSections(ctx context.Context, runID int) ([]models.AssetSectionLogEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT time_index, positions
		FROM backtest_sections
		WHERE run_id = $1
		ORDER BY time_index ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run sections: %w", err)
	}
	defer rows.Close()

	sections := []models.AssetSectionLogEntry{}
	for rows.Next() {
		var sec models.AssetSectionLogEntry
		var data []byte
		if err := rows.Scan(&sec.TimeIndex, &data); err != nil {
			return nil, fmt.Errorf("failed to scan run section: %w", err)
		}
		if err := json.Unmarshal(data, &sec.Positions); err != nil {
			return nil, fmt.Errorf("failed to decode run section: %w", err)
		}
		sec.TimeIndex = marketdata.Day(sec.TimeIndex)
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}
