package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade side constants
const (
	TradeTypeBuy  = "BUY"
	TradeTypeSell = "SELL"
)

// TradeLogEntry records one executed order. Entries are never modified.
type TradeLogEntry struct {
	TimeIndex time.Time       `json:"time_index"`
	Entity    string          `json:"entity"`
	Cost      decimal.Decimal `json:"cost"`
	Volume    decimal.Decimal `json:"volume"`
	Price     decimal.Decimal `json:"price"`
	CashAfter decimal.Decimal `json:"cash_after"`
}

// Side returns BUY for positive volume and SELL otherwise
func (t TradeLogEntry) Side() string {
	if t.Volume.IsPositive() {
		return TradeTypeBuy
	}
	return TradeTypeSell
}

// NetWorthPoint is the valuation of the portfolio at one session
type NetWorthPoint struct {
	TimeIndex  time.Time       `json:"time_index"`
	TotalAsset decimal.Decimal `json:"total_asset"`
	UnitShare  decimal.Decimal `json:"unit_share"`
	NetWorth   decimal.Decimal `json:"net_worth"`
}
