package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is wrapped by lookups of a run or price that does not exist
var ErrNotFound = errors.New("not found")

// Run event type constants
const (
	EventTradeExecuted    = "TRADE_EXECUTED"
	EventNetWorthRecorded = "NET_WORTH_RECORDED"
	EventRunCompleted     = "RUN_COMPLETED"
	EventRunRequested     = "RUN_REQUESTED"
)

// OrderSignal is a market order a strategy decided on for a given session.
// Delta and PriceField select the fill session and price column.
type OrderSignal struct {
	Date       time.Time       `json:"date"`
	Entity     string          `json:"entity"`
	Volume     decimal.Decimal `json:"volume"`
	Delta      int             `json:"delta"`
	PriceField string          `json:"price_field"`
}

// CashFlow is a subscription (positive) or redemption (negative) applied
// right after the session on Date has been valued.
type CashFlow struct {
	Date   time.Time       `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

// RunRequest describes one backtest run
type RunRequest struct {
	Name        string              `json:"name"`
	Begin       time.Time           `json:"begin"`
	End         time.Time           `json:"end"`
	InitialCash decimal.Decimal     `json:"initial_cash"`
	Commission  decimal.NullDecimal `json:"commission"`
	Slippage    decimal.NullDecimal `json:"slippage"`
	Orders      []OrderSignal       `json:"orders"`
	CashFlows   []CashFlow          `json:"cash_flows,omitempty"`
	// Bars, when present, replace stored market data for this run
	Bars []PriceDataDaily `json:"bars,omitempty"`
}

// RunSummary holds the headline numbers of a finished run
type RunSummary struct {
	ID              int             `json:"id"`
	Name            string          `json:"name"`
	Begin           time.Time       `json:"begin"`
	End             time.Time       `json:"end"`
	InitialCash     decimal.Decimal `json:"initial_cash"`
	FinalTotalAsset decimal.Decimal `json:"final_total_asset"`
	FinalNetWorth   decimal.Decimal `json:"final_net_worth"`
	TotalReturn     decimal.Decimal `json:"total_return"`
	MaxDrawdown     decimal.Decimal `json:"max_drawdown"`
	TradeCount      int             `json:"trade_count"`
	Sessions        int             `json:"sessions"`
	CreatedAt       time.Time       `json:"created_at"`
}

// RunReport is everything a finished run produced
type RunReport struct {
	Summary       RunSummary             `json:"summary"`
	NetWorthCurve []NetWorthPoint        `json:"net_worth_curve"`
	Trades        []TradeLogEntry        `json:"trades"`
	Sections      []AssetSectionLogEntry `json:"sections,omitempty"`
}

// RunEvent represents a Kafka event emitted while a run progresses
type RunEvent struct {
	EventType string         `json:"event_type"`
	RunName   string         `json:"run_name"`
	Trade     *TradeLogEntry `json:"trade,omitempty"`
	NetWorth  *NetWorthPoint `json:"net_worth,omitempty"`
	Summary   *RunSummary    `json:"summary,omitempty"`
	Request   *RunRequest    `json:"request,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
